package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexuvula/massagesync/internal/admin"
	"github.com/cortexuvula/massagesync/internal/api"
	"github.com/cortexuvula/massagesync/internal/config"
	"github.com/cortexuvula/massagesync/internal/health"
	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/logging"
	"github.com/cortexuvula/massagesync/internal/logring"
	"github.com/cortexuvula/massagesync/internal/metrics"
	"github.com/cortexuvula/massagesync/internal/relay"
	"github.com/cortexuvula/massagesync/internal/security"
	"github.com/cortexuvula/massagesync/internal/session"
	"github.com/cortexuvula/massagesync/internal/store"
)

// service holds the reloadable runtime state of a running server.
type service struct {
	configPath string
	verbose    bool

	mu      sync.Mutex
	cfg     *config.Config
	lj      *lumberjack.Logger
	ring    *logring.RingBuffer
	relay   *relay.Handler
	limiter *security.RateLimiter
}

func (s *service) config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// setupLogging (re)applies the logging config and closes the previous
// log file, if any.
func (s *service) setupLogging(cfg config.LoggingConfig) {
	if s.verbose {
		cfg.Level = "debug"
	}
	old := s.lj
	s.lj = logging.Setup(cfg, s.ring)
	if old != nil {
		old.Close()
	}
}

// reload re-reads the config file and applies the fields that can change
// without a restart. Shared by SIGHUP and the admin API.
func (s *service) reload() error {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range config.IsReloadSafe(s.cfg, newCfg) {
		slog.Warn("config reload warning", "warning", w)
	}

	s.cfg = s.cfg.ApplyReloadableFields(newCfg)
	s.relay.UpdateConfig(s.cfg)
	s.limiter.UpdateRate(security.PerMinute(s.cfg.Security.RateLimit.ConnectionsPerMinute))
	s.setupLogging(s.cfg.Logging)

	slog.Info("config reloaded successfully",
		"log_level", s.cfg.Logging.Level,
		"max_connections", s.cfg.Security.MaxConnections,
	)
	return nil
}

// app is the wired service without its listeners.
type app struct {
	registry *hub.Registry
	router   *hub.Router
	metrics  *metrics.Metrics // nil if metrics disabled
	public   http.Handler     // session API and participant channels
	local    http.Handler     // health, metrics, admin; nil if health disabled
}

// newApp builds the handler graph over st. svc.limiter must be set;
// svc.relay is assigned here.
func newApp(svc *service, st session.Store, promReg prometheus.Registerer) *app {
	cfg := svc.cfg
	a := &app{registry: hub.NewRegistry()}
	a.router = hub.NewRouter(a.registry, st)
	svc.relay = relay.NewHandler(cfg, a.router, svc.limiter)

	if cfg.Monitoring.MetricsEnabled {
		a.metrics = metrics.New(promReg)
		a.router.Metrics = a.metrics
		svc.relay.Metrics = a.metrics
	}

	publicMux := http.NewServeMux()
	api.New(st, a.router).Register(publicMux)
	publicMux.Handle(relay.Pattern, svc.relay)
	a.public = api.CORS(func() []string {
		return svc.config().Server.CORSAllowedOrigins
	}, publicMux)

	if !cfg.Health.Enabled {
		return a
	}

	healthHandler := health.NewHandler(st, a.registry, svc.relay.Stats, Version, cfg.Health.Detailed)
	if a.metrics != nil {
		healthHandler.SetMetrics(a.metrics)
	}
	localMux := http.NewServeMux()
	localMux.Handle(cfg.Health.Endpoint, healthHandler)

	if a.metrics != nil {
		if g, ok := promReg.(prometheus.Gatherer); ok {
			localMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
		}
	}

	if cfg.Admin.Enabled {
		adm := admin.New(admin.Dependencies{
			Registry:   a.registry,
			Store:      st,
			Stats:      svc.relay.Stats,
			RingBuffer: svc.ring,
			Version:    Version,
			BuildTime:  BuildTime,
			GitCommit:  GitCommit,
			StartTime:  time.Now(),
			ReloadFunc: svc.reload,
			GetConfig:  svc.config,
		})
		localMux.Handle("/api/v1/", adm.Handler())
	}
	a.local = localMux
	return a
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	svc := &service{configPath: configPath, verbose: verbose, cfg: cfg}
	if cfg.Admin.Enabled {
		svc.ring = logring.NewRingBuffer(cfg.Admin.LogBuffer)
	}
	svc.setupLogging(cfg.Logging)
	defer func() {
		if svc.lj != nil {
			svc.lj.Close()
		}
	}()

	slog.Info("starting massagesync",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"store", cfg.Store.Driver,
		"health", cfg.Health.ListenAddress,
	)

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	svc.limiter = security.NewRateLimiter(security.PerMinute(cfg.Security.RateLimit.ConnectionsPerMinute))
	defer svc.limiter.Stop()
	if cfg.Security.RateLimit.Enabled {
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
			"messages_per_second", cfg.Security.RateLimit.MessagesPerSecond,
		)
	}

	a := newApp(svc, st, prometheus.DefaultRegisterer)
	if a.metrics != nil {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}
	if cfg.Health.Enabled && cfg.Admin.Enabled {
		slog.Info("admin API enabled", "address", cfg.Health.ListenAddress)
	}

	publicServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           a.public,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var localServer *http.Server
	if a.local != nil {
		localServer = &http.Server{
			Addr:              cfg.Health.ListenAddress,
			Handler:           a.local,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if localServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("session service listening", "address", cfg.Server.ListenAddress, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = publicServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = publicServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat: every 15s for a 30s WatchdogSec.
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serveErr:
			slog.Error("session server error", "error", err)
			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			if localServer != nil {
				localServer.Close()
			}
			return fmt.Errorf("serving %s: %w", cfg.Server.ListenAddress, err)

		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading config")
				if err := svc.reload(); err != nil {
					slog.Error("config reload failed", "error", err)
				}
				continue
			}

			drainTimeout := svc.config().Server.DrainTimeout
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", drainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()

			// Stop accepting, then close every open channel.
			svc.relay.StartDrain()

			var wg sync.WaitGroup
			if localServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					localServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				publicServer.Shutdown(ctx)
			}()
			wg.Wait()

			waitForChannels(ctx, svc.relay.Stats)
			slog.Info("shutdown complete")
			return nil
		}
	}
}

// waitForChannels blocks until every channel connection has ended or ctx
// expires. http.Server.Shutdown does not track upgraded connections.
func waitForChannels(ctx context.Context, stats *relay.Stats) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for stats.Active() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("drain timeout reached with open channels", "open", stats.Active())
			return
		case <-ticker.C:
		}
	}
}
