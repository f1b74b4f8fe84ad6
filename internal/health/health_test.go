package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/metrics"
	"github.com/cortexuvula/massagesync/internal/relay"
	"github.com/cortexuvula/massagesync/internal/store"
)

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

type nopChannel struct{}

func (*nopChannel) Send(context.Context, []byte) error { return nil }

func serve(t *testing.T, h *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec, resp
}

func TestHealthHandlerHealthy(t *testing.T) {
	h := NewHandler(store.NewMemory(), hub.NewRegistry(), &relay.Stats{}, "test-version", true)

	rec, resp := serve(t, h)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if !resp.StoreReachable {
		t.Error("store_reachable should be true")
	}
	if resp.Version != "test-version" {
		t.Errorf("version = %q, want %q", resp.Version, "test-version")
	}
	if resp.Details == nil {
		t.Error("details should not be nil")
	}
}

func TestHealthHandlerStoreDown(t *testing.T) {
	h := NewHandler(downStore{}, hub.NewRegistry(), &relay.Stats{}, "test-version", false)
	m := metrics.New(prometheus.NewRegistry())
	h.SetMetrics(m)

	rec, resp := serve(t, h)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
	if resp.StoreReachable {
		t.Error("store_reachable should be false")
	}
	if resp.Details != nil || resp.Version != "" {
		t.Error("details should be omitted when not detailed")
	}
	if v := testutil.ToFloat64(m.StoreReachable); v != 0 {
		t.Errorf("store_reachable gauge = %v, want 0", v)
	}
}

func TestHealthHandlerCountsSessions(t *testing.T) {
	reg := hub.NewRegistry()
	reg.Attach("S1", "practitioner", &nopChannel{})
	reg.Attach("S1", "client", &nopChannel{})
	reg.Attach("S2", "client", &nopChannel{})

	h := NewHandler(store.NewMemory(), reg, &relay.Stats{}, "v", false)
	_, resp := serve(t, h)

	if resp.ActiveSessions != 2 {
		t.Errorf("active_sessions = %d, want 2", resp.ActiveSessions)
	}
	if resp.ActiveConnections != 3 {
		t.Errorf("active_connections = %d, want 3", resp.ActiveConnections)
	}
}
