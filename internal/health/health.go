package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/metrics"
	"github.com/cortexuvula/massagesync/internal/relay"
)

// Pinger reports whether the preference store can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveSessions    int      `json:"active_sessions"`
	ActiveConnections int      `json:"active_connections"`
	StoreReachable    bool     `json:"store_reachable"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	DroppedMessages  int64   `json:"dropped_messages"`
	MemoryMB         float64 `json:"memory_mb"`
	Goroutines       int     `json:"goroutines"`
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	store     Pinger
	registry  *hub.Registry
	stats     *relay.Stats
	metrics   *metrics.Metrics // optional, nil if metrics disabled
	version   string
	detailed  bool
	timeout   time.Duration
}

// NewHandler creates a new health check handler.
func NewHandler(st Pinger, reg *hub.Registry, stats *relay.Stats, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		store:     st,
		registry:  reg,
		stats:     stats,
		version:   version,
		detailed:  detailed,
		timeout:   3 * time.Second,
	}
}

// SetMetrics sets the optional Prometheus metrics.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// ServeHTTP handles health check requests. The handler is mounted on the
// loopback listener only.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storeOK := h.checkStore(r.Context())

	if h.metrics != nil {
		if storeOK {
			h.metrics.StoreReachable.Set(1)
		} else {
			h.metrics.StoreReachable.Set(0)
		}
	}

	status := "ok"
	httpCode := http.StatusOK
	if !storeOK {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveSessions:    h.registry.SessionCount(),
		ActiveConnections: h.registry.ConnectionCount(),
		StoreReachable:    storeOK,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.stats.Total(),
			TotalMessages:    h.stats.Messages(),
			DroppedMessages:  h.stats.Dropped(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
			Goroutines:       runtime.NumGoroutine(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) checkStore(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("preference store unreachable", "error", err)
		return false
	}
	return true
}
