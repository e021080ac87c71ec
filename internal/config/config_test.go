package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.API.Addr)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty dsn by default, got %q", cfg.Database.DSN)
	}
	if cfg.RateLimit.RedisAddr != cfg.Queue.RedisAddr {
		t.Fatalf("expected rate limiter to reuse queue redis, got %q", cfg.RateLimit.RedisAddr)
	}
}

func TestLoadOverlaysFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resizeflow.yaml")
	body := []byte(`
api:
  addr: ":9000"
  presign_ttl: 5m
convert:
  resampler: lanczos
  max_upload_bytes: 1048576
rate_limit:
  enabled: true
  capacity: 10
tracing:
  exporter: stdout
  sample_ratio: 0.25
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("RESIZEFLOW_API_ADDR", ":9100")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.API.Addr != ":9100" {
		t.Fatalf("expected env to win over file, got %q", cfg.API.Addr)
	}
	if cfg.API.PresignTTL != 5*time.Minute {
		t.Fatalf("expected presign ttl from file, got %v", cfg.API.PresignTTL)
	}
	if cfg.Convert.Resampler != "lanczos" || cfg.Convert.MaxUploadBytes != 1<<20 {
		t.Fatalf("unexpected convert config %+v", cfg.Convert)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Capacity != 10 || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if cfg.Tracing.Exporter != "stdout" || cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("unexpected tracing config %+v", cfg.Tracing)
	}
	if cfg.Webhook.MaxAttempts != 3 {
		t.Fatalf("expected invalid env value to keep default, got %d", cfg.Webhook.MaxAttempts)
	}
	if cfg.Queue.Name != "default" {
		t.Fatalf("expected untouched default queue, got %q", cfg.Queue.Name)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("api: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected read error for missing file")
	}
}
