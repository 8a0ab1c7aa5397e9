package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfigDefaults verifies the values used when no file or
// environment overrides are present.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != ":3001" {
		t.Errorf("expected default port :3001, got %q", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected default origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.WebSocket.MaxMessageSize != 4096 {
		t.Errorf("expected default max message size 4096, got %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.WebSocket.PongWait != 60*time.Second {
		t.Errorf("expected default pong wait 60s, got %v", cfg.WebSocket.PongWait)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected default shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("expected default rate limit burst 20, got %d", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("expected default refill interval 1s, got %v", cfg.RateLimit.RefillInterval)
	}
}

// TestLoadConfigEnvOverrides verifies the environment variable bindings,
// including the bare-number PORT form and comma-separated origin lists.
func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != ":4000" {
		t.Errorf("expected port :4000, got %q", cfg.Server.Port)
	}
	want := []string{"http://a.example", "http://b.example"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.Server.AllowedOrigins)
	}
	for i := range want {
		if cfg.Server.AllowedOrigins[i] != want[i] {
			t.Errorf("origin %d: expected %q, got %q", i, want[i], cfg.Server.AllowedOrigins[i])
		}
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Log.Level)
	}
}

// TestLoadConfigFromFile verifies reading a config.yaml from the search path.
func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: ":9100"
  allowed_origins:
    - "http://one.example"
    - "http://two.example"
websocket:
  max_message_size: 1024
  pong_wait: 30s
log:
  level: warn
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != ":9100" {
		t.Errorf("expected port :9100, got %q", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.WebSocket.MaxMessageSize != 1024 {
		t.Errorf("expected max message size 1024, got %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.WebSocket.PongWait != 30*time.Second {
		t.Errorf("expected pong wait 30s, got %v", cfg.WebSocket.PongWait)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %q", cfg.Log.Level)
	}
	// Keys absent from the file keep their defaults.
	if cfg.WebSocket.WriteWait != 10*time.Second {
		t.Errorf("expected default write wait 10s, got %v", cfg.WebSocket.WriteWait)
	}
}

// TestSanitizeRejectsNonPositiveValues verifies that zero or negative tuning
// values fall back to defaults.
func TestSanitizeRejectsNonPositiveValues(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: "", ShutdownTimeout: -time.Second},
		WebSocket: WebSocketConfig{MaxMessageSize: 0, PingInterval: 0, PongWait: -1, WriteWait: 0},
		RateLimit: RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
	}

	sanitize(cfg)

	defaults := DefaultConfig()
	if cfg.Server.Port != defaults.Server.Port {
		t.Errorf("port not defaulted: %q", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != defaults.Server.ShutdownTimeout {
		t.Errorf("shutdown timeout not defaulted: %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.WebSocket.MaxMessageSize != defaults.WebSocket.MaxMessageSize {
		t.Errorf("max message size not defaulted: %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.WebSocket.PingInterval != defaults.WebSocket.PingInterval ||
		cfg.WebSocket.PongWait != defaults.WebSocket.PongWait ||
		cfg.WebSocket.WriteWait != defaults.WebSocket.WriteWait {
		t.Errorf("websocket timings not defaulted: %+v", cfg.WebSocket)
	}
	if cfg.RateLimit.Burst != defaults.RateLimit.Burst ||
		cfg.RateLimit.RefillInterval != defaults.RateLimit.RefillInterval {
		t.Errorf("rate limit settings not defaulted: %+v", cfg.RateLimit)
	}
}
