// Package relay serves the per-participant WebSocket channel: it attaches
// the connection to the registry, sends the stored snapshot, and feeds every
// inbound frame to the router until the connection ends.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/cortexuvula/massagesync/internal/config"
	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/metrics"
	"github.com/cortexuvula/massagesync/internal/protocol"
	"github.com/cortexuvula/massagesync/internal/security"
	"github.com/cortexuvula/massagesync/internal/session"
)

// Pattern is the route the handler expects to be mounted on.
const Pattern = "GET /api/ws/{session_id}/{role}"

// Drop reasons reported in massagesync_messages_dropped_total.
const (
	dropBinary    = "binary"
	dropMalformed = "malformed"
	dropStore     = "store_unavailable"
)

// Handler accepts channel connections for (session_id, role).
type Handler struct {
	Router      *hub.Router
	Stats       *Stats
	RateLimiter *security.RateLimiter // optional
	Metrics     *metrics.Metrics      // optional, nil if metrics disabled

	// drainCtx is cancelled when the server begins draining connections.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	mu     sync.RWMutex
	config *config.Config
}

// NewHandler creates a channel handler routing through rt.
func NewHandler(cfg *config.Config, rt *hub.Router, rl *security.RateLimiter) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Router:      rt,
		Stats:       &Stats{},
		RateLimiter: rl,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		config:      cfg,
	}
}

// StartDrain tells every open connection to close with StatusGoingAway.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig swaps the config (called on SIGHUP). Open connections keep
// the settings they started with.
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()
	clientIP := security.ClientIP(r)

	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	role := strings.TrimSpace(r.PathValue("role"))
	if sessionID == "" || role == "" {
		http.Error(w, "session id and role are required", http.StatusBadRequest)
		return
	}
	if !cfg.RoleAllowed(role) {
		slog.Warn("rejected unknown role", "client_ip", clientIP, "session", sessionID, "role", role)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		h.countError("rate_limited")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	if !h.Stats.TryAcquire(cfg.Security.MaxConnections) {
		slog.Warn("max connections reached", "current", h.Stats.Active(), "max", cfg.Security.MaxConnections)
		h.countError("max_connections")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.Stats.Release()

	conn, err := websocket.Accept(w, r, acceptOptions(cfg.Server.CORSAllowedOrigins))
	if err != nil {
		h.countError("accept_failure")
		slog.Error("failed to accept channel connection", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	h.serve(r.Context(), conn, cfg, sessionID, role, clientIP)
}

// serve runs one attached connection until it ends. It is the only place
// the connection is released from the registry.
func (h *Handler) serve(parent context.Context, conn *websocket.Conn, cfg *config.Config, sessionID, role, clientIP string) {
	start := time.Now()
	log := slog.With("session", sessionID, "role", role, "conn", ulid.Make().String())

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	ch := &wsChannel{conn: conn, writeTimeout: cfg.Server.WriteTimeout}
	reg := h.Router.Registry
	reg.Attach(sessionID, role, ch)
	h.attached(true)
	log.Info("participant attached", "client_ip", clientIP)

	defer func() {
		if !reg.Release(sessionID, role, ch) {
			log.Debug("connection was superseded before it ended")
		}
		h.attached(false)
		closeConn(websocket.StatusGoingAway, "")
		log.Info("participant detached", "duration", time.Since(start).String())
	}()

	if cfg.Server.PingInterval > 0 {
		go keepAlive(ctx, conn, cfg.Server.PingInterval, cfg.Server.PongTimeout, cancel)
	}

	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	if _, err := h.Router.Snapshot(ctx, sessionID, role); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			log.Debug("no stored record for session, snapshot skipped")
		} else {
			log.Debug("snapshot failed", "error", err)
		}
	}

	var msgLimiter *rate.Limiter
	if rl := cfg.Security.RateLimit; rl.Enabled && rl.MessagesPerSecond > 0 {
		msgLimiter = rate.NewLimiter(rate.Limit(rl.MessagesPerSecond), rl.MessagesPerSecond)
	}

	h.readLoop(ctx, conn, log, sessionID, role, msgLimiter)
}

// readLoop routes frames until the first read error.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger, sessionID, role string, msgLimiter *rate.Limiter) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logReadEnd(log, err)
			return
		}

		if typ != websocket.MessageText {
			log.Debug("dropped binary frame", "bytes", len(data))
			h.drop(dropBinary)
			continue
		}

		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				log.Debug("message rate limit wait ended", "reason", err)
				return
			}
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			log.Debug("dropped malformed frame", "error", err)
			h.drop(dropMalformed)
			continue
		}

		res, err := h.Router.Route(ctx, sessionID, role, msg)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				log.Debug("dropped malformed frame", "type", msg.Type, "error", err)
				h.drop(dropMalformed)
			} else {
				log.Warn("message not relayed", "type", msg.Type, "error", err)
				h.drop(dropStore)
			}
			continue
		}

		h.Stats.incMessages()
		log.Debug("message routed", "type", msg.Type, "persisted", res.Persisted, "recipients", len(res.Deliveries))
	}
}

func (h *Handler) attached(on bool) {
	if h.Metrics == nil {
		return
	}
	if on {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	} else {
		h.Metrics.ActiveConnections.Dec()
	}
	h.Metrics.SessionsActive.Set(float64(h.Router.Registry.SessionCount()))
}

func (h *Handler) drop(reason string) {
	h.Stats.incDropped()
	if h.Metrics != nil {
		h.Metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

func (h *Handler) countError(kind string) {
	if h.Metrics != nil {
		h.Metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// logReadEnd records why a connection's read loop stopped.
func logReadEnd(log *slog.Logger, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Debug("connection closed by peer")
	case -1:
		if errors.Is(err, context.Canceled) {
			log.Debug("connection context ended")
			return
		}
		log.Debug("connection read failed", "error", err)
	default:
		log.Debug("connection closed", "status", websocket.CloseStatus(err), "error", err)
	}
}

// keepAlive pings conn every interval. A failed or late pong closes the
// connection and cancels the loop.
func keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// acceptOptions maps the CORS origin list to websocket origin checks.
// A "*" entry disables the check.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range origins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		} else {
			opts.OriginPatterns = append(opts.OriginPatterns, o)
		}
	}
	return opts
}
