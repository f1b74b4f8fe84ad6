// Package admin serves the read-mostly operator API on the loopback
// listener: runtime status, live sessions, recent logs, and config reload.
package admin

import (
	"net/http"
	"time"

	"github.com/cortexuvula/massagesync/internal/config"
	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/logring"
	"github.com/cortexuvula/massagesync/internal/relay"
	"github.com/cortexuvula/massagesync/internal/session"
)

// Dependencies holds all injected dependencies for the admin API.
type Dependencies struct {
	Registry   *hub.Registry
	Store      session.Store
	Stats      *relay.Stats
	RingBuffer *logring.RingBuffer
	Version    string
	BuildTime  string
	GitCommit  string
	StartTime  time.Time
	ReloadFunc func() error
	GetConfig  func() *config.Config
}

// Admin provides HTTP handlers for the operator API.
type Admin struct {
	deps Dependencies
}

// New creates a new Admin instance.
func New(deps Dependencies) *Admin {
	return &Admin{deps: deps}
}

// Handler returns an http.Handler for the /api/v1/ endpoints.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", a.handleStatus)
	mux.HandleFunc("/api/v1/sessions", a.handleSessions)
	mux.HandleFunc("/api/v1/sessions/{session_id}", a.handleSession)
	mux.HandleFunc("/api/v1/config", a.handleConfig)
	mux.HandleFunc("/api/v1/logs", a.handleLogs)
	mux.HandleFunc("/api/v1/reload", a.handleReload)
	return noSniff(mux)
}

func noSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
