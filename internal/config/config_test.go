package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if cfg.API.MaxUploadBytes != 10<<20 {
		t.Fatalf("max upload bytes = %d", cfg.API.MaxUploadBytes)
	}
	if cfg.Queue.TaskTimeout.Std() != 3*time.Minute {
		t.Fatalf("task timeout = %v", cfg.Queue.TaskTimeout.Std())
	}
	if cfg.Database.Backend != "memory" {
		t.Fatalf("database backend = %q", cfg.Database.Backend)
	}
	if cfg.Preview.DefaultWidth != 320 {
		t.Fatalf("preview default width = %d", cfg.Preview.DefaultWidth)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("UNWARP_API_ADDR", ":9999")
	t.Setenv("UNWARP_INLINE_PROCESSING", "true")
	t.Setenv("UNWARP_QUEUE_TASK_TIMEOUT", "90s")
	t.Setenv("UNWARP_RATE_LIMIT_CAPACITY", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.API.Addr != ":9999" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if !cfg.API.InlineProcessing {
		t.Fatal("expected inline processing override")
	}
	if cfg.Queue.TaskTimeout.Std() != 90*time.Second {
		t.Fatalf("task timeout = %v", cfg.Queue.TaskTimeout.Std())
	}
	if cfg.RateLimit.Capacity != 12 {
		t.Fatalf("rate limit capacity = %d", cfg.RateLimit.Capacity)
	}
}

func TestLoadReadsYAMLFileBeneathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unwarp.yaml")
	body := []byte(`
api:
  addr: ":7070"
  cors_origin: "https://app.example.com"
webhook:
  timeout: 2s
  max_attempts: 7
storage:
  backend: memory
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("UNWARP_CONFIG", path)
	t.Setenv("UNWARP_API_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	// Env wins over file, file wins over defaults.
	if cfg.API.Addr != ":6060" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if cfg.API.CORSOrigin != "https://app.example.com" {
		t.Fatalf("cors origin = %q", cfg.API.CORSOrigin)
	}
	if cfg.Webhook.Timeout.Std() != 2*time.Second {
		t.Fatalf("webhook timeout = %v", cfg.Webhook.Timeout.Std())
	}
	if cfg.Webhook.MaxAttempts != 7 {
		t.Fatalf("webhook attempts = %d", cfg.Webhook.MaxAttempts)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("storage backend = %q", cfg.Storage.Backend)
	}
	if cfg.Queue.Name != "default" {
		t.Fatalf("queue name = %q", cfg.Queue.Name)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("api: ["), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("UNWARP_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}
