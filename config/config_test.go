package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SERVER_API_KEY", "server-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:3000/api" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Scheduler.PollInterval != 3*time.Second {
		t.Fatalf("poll interval = %v, want 3s", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.StuckJobThreshold != 30*time.Second {
		t.Fatalf("stuck threshold = %v, want 30s", cfg.Scheduler.StuckJobThreshold)
	}
	if cfg.Scheduler.MaxJobAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.Scheduler.MaxJobAttempts)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Fatalf("workers = %d, want 2", cfg.Scheduler.Workers)
	}
	if cfg.OpenAI.Model != "whisper-1" {
		t.Fatalf("model = %q, want whisper-1", cfg.OpenAI.Model)
	}
	if cfg.Queue != nil {
		t.Fatal("rabbitmq should be disabled without RABBITMQ_HOST")
	}
	if cfg.Storage != nil {
		t.Fatal("storage should be disabled without MINIO_URL")
	}
}

func TestLoadMissingServerKey(t *testing.T) {
	t.Setenv("SERVER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing SERVER_API_KEY")
	}
	if !strings.Contains(err.Error(), "SERVER_API_KEY") {
		t.Fatalf("error = %v, want mention of SERVER_API_KEY", err)
	}
}

func TestLoadMissingOpenAIKey(t *testing.T) {
	t.Setenv("SERVER_API_KEY", "server-key")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("API_BASE_URL", "https://example.test/api/")
	t.Setenv("STUCK_JOB_THRESHOLD_SECONDS", "45")
	t.Setenv("MAX_NUM_WORKERS", "5")
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "2")
	t.Setenv("RABBITMQ_HOST", "broker")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://example.test/api" {
		t.Fatalf("base url = %q, trailing slash should be trimmed", cfg.API.BaseURL)
	}
	if cfg.Scheduler.StuckJobThreshold != 45*time.Second {
		t.Fatalf("stuck threshold = %v", cfg.Scheduler.StuckJobThreshold)
	}
	if cfg.Scheduler.Workers != 5 {
		t.Fatalf("workers = %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.HeartbeatInterval != 2*time.Second {
		t.Fatalf("heartbeat = %v", cfg.Scheduler.HeartbeatInterval)
	}
	if cfg.Queue == nil || cfg.Queue.Host != "broker" || cfg.Queue.Port != 5672 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.URL() != "amqp://:@broker:5672/" {
		t.Fatalf("amqp url = %q", cfg.Queue.URL())
	}
}

func TestLoadDotEnvFileAndQuotes(t *testing.T) {
	t.Setenv("SERVER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	content := "SERVER_API_KEY='quoted-key'\nOPENAI_API_KEY=\"openai\"\nMAX_JOB_ATTEMPTS=7\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.ServerAPIKey != "quoted-key" {
		t.Fatalf("server key = %q", cfg.API.ServerAPIKey)
	}
	if cfg.Scheduler.MaxJobAttempts != 7 {
		t.Fatalf("max attempts = %d, want 7", cfg.Scheduler.MaxJobAttempts)
	}
}

func TestLoadRejectsNonPositiveValues(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_NUM_WORKERS", "0")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}
