package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	if m.ConnectionsTotal == nil {
		t.Error("ConnectionsTotal is nil")
	}
	if m.ActiveConnections == nil {
		t.Error("ActiveConnections is nil")
	}
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal is nil")
	}
	if m.DeliveriesTotal == nil {
		t.Error("DeliveriesTotal is nil")
	}

	// Verify metrics can be used without panic
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Set(2)
	m.SessionsActive.Set(1)
	m.MessagesTotal.WithLabelValues("live_feedback").Inc()
	m.MessagesDropped.WithLabelValues("malformed").Inc()
	m.DeliveriesTotal.WithLabelValues("delivered").Inc()
	m.ErrorsTotal.WithLabelValues("store_update").Inc()
	m.StoreReachable.Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"massagesync_connections_total",
		"massagesync_active_connections",
		"massagesync_sessions_active",
		"massagesync_messages_total",
		"massagesync_messages_dropped_total",
		"massagesync_deliveries_total",
		"massagesync_errors_total",
		"massagesync_store_reachable",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing metric: %s", name)
		}
	}
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Separate registries must not collide on duplicate names.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
