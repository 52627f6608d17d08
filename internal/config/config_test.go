package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"roomseal/internal/config"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.RequestTimeout.Duration != 30*time.Second {
		t.Fatalf("request_timeout = %v, want 30s", cfg.Exchange.RequestTimeout.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log_level = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
server_url = "http://127.0.0.1:8080"
member = "alice"
log_level = "debug"

[exchange]
request_timeout = "10s"
max_retries = 2

[session]
send_timeout = "250ms"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:8080" || cfg.Member != "alice" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Exchange.RequestTimeout.Duration != 10*time.Second {
		t.Fatalf("request_timeout = %v, want 10s", cfg.Exchange.RequestTimeout.Duration)
	}
	if cfg.Exchange.MaxRetries != 2 {
		t.Fatalf("max_retries = %d, want 2", cfg.Exchange.MaxRetries)
	}
	if cfg.Exchange.RetryMin.Duration != 100*time.Millisecond {
		t.Fatalf("retry_min should keep its default, got %v", cfg.Exchange.RetryMin.Duration)
	}
	if cfg.Session.SendTimeout.Duration != 250*time.Millisecond {
		t.Fatalf("send_timeout = %v, want 250ms", cfg.Session.SendTimeout.Duration)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[exchange]\nrequest_timeout = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
