package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Database.Path != "./feedscribe.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Scheduler.Workers != 10 {
		t.Errorf("workers = %d", cfg.Scheduler.Workers)
	}
	if cfg.ProcessInterval() != time.Hour {
		t.Errorf("process interval = %s, want 1h", cfg.ProcessInterval())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /var/lib/feedscribe/data.db
scheduler:
  workers: 4
  process_interval_minutes: 30
webhook:
  service_url: https://push.example.com
  app_base_url: https://app.example.com
smtp:
  host: smtp.example.com
  from: digest@example.com
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/var/lib/feedscribe/data.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("workers = %d", cfg.Scheduler.Workers)
	}
	if cfg.ProcessInterval() != 30*time.Minute {
		t.Errorf("process interval = %s", cfg.ProcessInterval())
	}
	if cfg.Webhook.ServiceURL != "https://push.example.com" {
		t.Errorf("service url = %q", cfg.Webhook.ServiceURL)
	}
	if cfg.SMTP.Host != "smtp.example.com" {
		t.Errorf("smtp host = %q", cfg.SMTP.Host)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	// Unset keys keep their defaults.
	if cfg.SMTP.Port != 587 {
		t.Errorf("smtp port = %d, want default 587", cfg.SMTP.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "./feedscribe.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("{not yaml: ["), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEEDSCRIBE_DB_PATH", "/tmp/override.db")
	t.Setenv("WEBHOOK_SECRET", "hunter2")
	t.Setenv("FEEDSCRIBE_WORKERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Webhook.Secret != "hunter2" {
		t.Errorf("secret = %q", cfg.Webhook.Secret)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Errorf("workers = %d", cfg.Scheduler.Workers)
	}
}

func TestInvalidIntervalFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("scheduler:\n  process_interval_minutes: -5\n"), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ProcessInterval() != time.Hour {
		t.Errorf("process interval = %s, want fallback 1h", cfg.ProcessInterval())
	}
}
