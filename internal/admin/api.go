package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/cortexuvula/massagesync/internal/logging"
	"github.com/cortexuvula/massagesync/internal/logring"
	"github.com/cortexuvula/massagesync/internal/session"
)

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveSessions    int     `json:"active_sessions"`
	ActiveConnections int     `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	TotalMessages     int64   `json:"total_messages"`
	DroppedMessages   int64   `json:"dropped_messages"`
	StoreReachable    bool    `json:"store_reachable"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
	BuildTime         string  `json:"build_time"`
	GitCommit         string  `json:"git_commit"`
}

func (a *Admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	storeOK := a.deps.Store.Ping(ctx) == nil

	uptime := time.Since(a.deps.StartTime)
	resp := statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveSessions:    a.deps.Registry.SessionCount(),
		ActiveConnections: a.deps.Registry.ConnectionCount(),
		TotalConnections:  a.deps.Stats.Total(),
		TotalMessages:     a.deps.Stats.Messages(),
		DroppedMessages:   a.deps.Stats.Dropped(),
		StoreReachable:    storeOK,
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           a.deps.Version,
		BuildTime:         a.deps.BuildTime,
		GitCommit:         a.deps.GitCommit,
	}

	writeJSON(w, http.StatusOK, resp)
}

// liveSession is one entry of GET /api/v1/sessions.
type liveSession struct {
	SessionID string   `json:"session_id"`
	Roles     []string `json:"roles"`
}

func (a *Admin) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	live := a.deps.Registry.Sessions()
	entries := make([]liveSession, 0, len(live))
	for id, roles := range live {
		entries = append(entries, liveSession{SessionID: id, Roles: roles})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SessionID < entries[j].SessionID
	})

	writeJSON(w, http.StatusOK, entries)
}

// sessionDetail is the JSON body for GET /api/v1/sessions/{session_id}.
type sessionDetail struct {
	SessionID string           `json:"session_id"`
	Roles     []string         `json:"roles"`
	Record    *session.Session `json:"record"`
}

func (a *Admin) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("session_id")
	resp := sessionDetail{SessionID: id, Roles: a.deps.Registry.Roles(id)}

	rec, err := a.deps.Store.Get(r.Context(), id)
	switch {
	case err == nil:
		resp.Record = &rec
	case errors.Is(err, session.ErrNotFound):
		if len(resp.Roles) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// configResponse is the JSON body for GET /api/v1/config.
type configResponse struct {
	Reloadable configReloadable `json:"reloadable"`
	ReadOnly   configReadOnly   `json:"read_only"`
}

type configReloadable struct {
	LogLevel           string   `json:"log_level"`
	MaxConnections     int      `json:"max_connections"`
	MaxMessageSize     int64    `json:"max_message_size"`
	RateLimitEnabled   bool     `json:"rate_limit_enabled"`
	ConnectionsPerMin  int      `json:"connections_per_minute"`
	MessagesPerSecond  int      `json:"messages_per_second"`
	AllowedRoles       []string `json:"allowed_roles"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
}

type configReadOnly struct {
	ListenAddress string `json:"listen_address"`
	HealthAddress string `json:"health_address"`
	StoreDriver   string `json:"store_driver"`
	StorePath     string `json:"store_path"`
	TLSEnabled    bool   `json:"tls_enabled"`
}

func (a *Admin) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := a.deps.GetConfig()
	resp := configResponse{
		Reloadable: configReloadable{
			LogLevel:           cfg.Logging.Level,
			MaxConnections:     cfg.Security.MaxConnections,
			MaxMessageSize:     cfg.Server.MaxMessageSize,
			RateLimitEnabled:   cfg.Security.RateLimit.Enabled,
			ConnectionsPerMin:  cfg.Security.RateLimit.ConnectionsPerMinute,
			MessagesPerSecond:  cfg.Security.RateLimit.MessagesPerSecond,
			AllowedRoles:       cfg.Server.AllowedRoles,
			CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		},
		ReadOnly: configReadOnly{
			ListenAddress: cfg.Server.ListenAddress,
			HealthAddress: cfg.Health.ListenAddress,
			StoreDriver:   cfg.Store.Driver,
			StorePath:     cfg.Store.Path,
			TLSEnabled:    cfg.Server.TLS.Enabled,
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// logEntryResponse mirrors logring.LogEntry with a readable level.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (a *Admin) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.deps.RingBuffer == nil {
		writeJSON(w, http.StatusOK, []logEntryResponse{})
		return
	}

	query := r.URL.Query()
	q := logring.Query{Limit: 100, MinLevel: slog.LevelDebug, Session: query.Get("session")}
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			q.Limit = n
		}
	}
	if v := query.Get("level"); v != "" {
		q.MinLevel = logging.ParseLevel(v)
	}
	if v := query.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			q.Since = t
		}
	}

	entries := a.deps.RingBuffer.Entries(q)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *Admin) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.deps.ReloadFunc == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reload not available"})
		return
	}

	if err := a.deps.ReloadFunc(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("config reloaded via admin API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
