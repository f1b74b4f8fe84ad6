package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddress != "0.0.0.0:8001" {
		t.Errorf("default listen_address = %q, want %q", cfg.Server.ListenAddress, "0.0.0.0:8001")
	}
	if cfg.Server.MaxMessageSize != 65536 {
		t.Errorf("default max_message_size = %d, want %d", cfg.Server.MaxMessageSize, 65536)
	}
	if cfg.Server.DrainTimeout != 30*time.Second {
		t.Errorf("default drain_timeout = %v, want %v", cfg.Server.DrainTimeout, 30*time.Second)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("default store.driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Health.ListenAddress != "127.0.0.1:8081" {
		t.Errorf("default health.listen_address = %q, want %q", cfg.Health.ListenAddress, "127.0.0.1:8081")
	}
	if len(cfg.Server.CORSAllowedOrigins) != 1 || cfg.Server.CORSAllowedOrigins[0] != "*" {
		t.Errorf("default cors_allowed_origins = %v, want [*]", cfg.Server.CORSAllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  listen_address: "127.0.0.1:9000"
  drain_timeout: "5s"
  max_message_size: 131072
  write_timeout: "15s"
  allowed_roles: ["practitioner", "client"]
store:
  driver: "memory"
security:
  max_connections: 500
  rate_limit:
    enabled: false
logging:
  level: "debug"
  format: "text"
health:
  enabled: true
  listen_address: "127.0.0.1:8081"
  endpoint: "/health"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("listen_address = %q, want %q", cfg.Server.ListenAddress, "127.0.0.1:9000")
	}
	if cfg.Server.DrainTimeout != 5*time.Second {
		t.Errorf("drain_timeout = %v, want %v", cfg.Server.DrainTimeout, 5*time.Second)
	}
	if cfg.Server.MaxMessageSize != 131072 {
		t.Errorf("max_message_size = %d, want %d", cfg.Server.MaxMessageSize, 131072)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Security.MaxConnections != 500 {
		t.Errorf("max_connections = %d, want %d", cfg.Security.MaxConnections, 500)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false")
	}
	if !cfg.RoleAllowed("client") || cfg.RoleAllowed("observer") {
		t.Errorf("allowed_roles not applied: %v", cfg.Server.AllowedRoles)
	}
	// Unset values keep their defaults
	if cfg.Server.PingInterval != 30*time.Second {
		t.Errorf("ping_interval = %v, want default", cfg.Server.PingInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server:\n  listen_address: [oops\n"), 0644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("err = %v, want parse error", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MASSAGESYNC_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("MASSAGESYNC_STORE_DRIVER", "memory")
	t.Setenv("MASSAGESYNC_LOGGING_LEVEL", "debug")
	t.Setenv("MASSAGESYNC_SERVER_ALLOWED_ROLES", "practitioner, client")
	t.Setenv("MASSAGESYNC_SECURITY_RATE_LIMIT_ENABLED", "no")
	t.Setenv("MASSAGESYNC_SERVER_WRITE_TIMEOUT", "garbage")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("listen_address = %q, want env override", cfg.Server.ListenAddress)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if len(cfg.Server.AllowedRoles) != 2 || cfg.Server.AllowedRoles[1] != "client" {
		t.Errorf("allowed_roles = %v", cfg.Server.AllowedRoles)
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false from env override")
	}
	if cfg.Server.WriteTimeout != 10*time.Second {
		t.Errorf("unparseable env should keep default, got %v", cfg.Server.WriteTimeout)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty listen_address",
			modify:  func(c *Config) { c.Server.ListenAddress = "" },
			wantErr: "server.listen_address is required",
		},
		{
			name:    "invalid listen_address",
			modify:  func(c *Config) { c.Server.ListenAddress = "not-a-host-port" },
			wantErr: "server.listen_address is invalid",
		},
		{
			name:    "zero max_message_size",
			modify:  func(c *Config) { c.Server.MaxMessageSize = 0 },
			wantErr: "server.max_message_size must be positive",
		},
		{
			name:    "huge max_message_size",
			modify:  func(c *Config) { c.Server.MaxMessageSize = 1 << 30 },
			wantErr: "server.max_message_size must not exceed",
		},
		{
			name:    "negative ping_interval",
			modify:  func(c *Config) { c.Server.PingInterval = -time.Second },
			wantErr: "server.ping_interval must not be negative",
		},
		{
			name:    "keepalive without pong timeout",
			modify:  func(c *Config) { c.Server.PongTimeout = 0 },
			wantErr: "server.pong_timeout must be positive",
		},
		{
			name: "keepalive disabled",
			modify: func(c *Config) {
				c.Server.PingInterval = 0
				c.Server.PongTimeout = 0
			},
			wantErr: "",
		},
		{
			name:    "role with slash",
			modify:  func(c *Config) { c.Server.AllowedRoles = []string{"a/b"} },
			wantErr: "server.allowed_roles contains invalid role",
		},
		{
			name:    "unknown store driver",
			modify:  func(c *Config) { c.Store.Driver = "mongo" },
			wantErr: "store.driver must be one of",
		},
		{
			name:    "sqlite without path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store.path is required",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "csv" },
			wantErr: "logging.format must be one of",
		},
		{
			name:    "tls enabled without cert",
			modify:  func(c *Config) { c.Server.TLS.Enabled = true },
			wantErr: "server.tls.cert_file is required",
		},
		{
			name: "tls enabled without key",
			modify: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.CertFile = "/path/to/cert.pem"
			},
			wantErr: "server.tls.key_file is required",
		},
		{
			name:    "zero max_connections",
			modify:  func(c *Config) { c.Security.MaxConnections = 0 },
			wantErr: "security.max_connections must be positive",
		},
		{
			name:    "health on public address",
			modify:  func(c *Config) { c.Health.ListenAddress = "10.0.0.5:8081" },
			wantErr: "health.listen_address should bind to a loopback address",
		},
		{
			name: "health same as server",
			modify: func(c *Config) {
				c.Server.ListenAddress = "127.0.0.1:8081"
			},
			wantErr: "must be different",
		},
		{
			name:    "admin without log buffer",
			modify:  func(c *Config) { c.Admin.LogBuffer = 0 },
			wantErr: "admin.log_buffer must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestIsReloadSafe(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()

	// Same config, no warnings
	warnings := IsReloadSafe(old, new)
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}

	// Changed listen_address warns
	new.Server.ListenAddress = "127.0.0.1:9090"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}

	// Change store too
	new.Store.Driver = "memory"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestApplyReloadableFields(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()
	new.Logging.Level = "debug"
	new.Server.MaxMessageSize = 2097152
	new.Server.AllowedRoles = []string{"client"}
	new.Server.ListenAddress = "127.0.0.1:1"

	updated := old.ApplyReloadableFields(new)

	if updated.Logging.Level != "debug" {
		t.Errorf("log level not reloaded")
	}
	if updated.Server.MaxMessageSize != 2097152 {
		t.Errorf("max_message_size not reloaded")
	}
	if !updated.RoleAllowed("client") || updated.RoleAllowed("practitioner") {
		t.Errorf("allowed_roles not reloaded: %v", updated.Server.AllowedRoles)
	}
	if updated.Server.ListenAddress != old.Server.ListenAddress {
		t.Errorf("listen_address must not be reloaded")
	}
	if old.Logging.Level != "info" {
		t.Errorf("original config mutated")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "drain_timeout: 30s") {
		t.Errorf("durations should render as strings:\n%s", data)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, data, 0644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(marshalled defaults): %v", err)
	}
	if cfg.Server.DrainTimeout != 30*time.Second {
		t.Errorf("drain_timeout = %v", cfg.Server.DrainTimeout)
	}
}

func TestRoleAllowedEmptyList(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.RoleAllowed("anything") {
		t.Error("empty allow list should admit any role")
	}
}
