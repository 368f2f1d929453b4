package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.WorkerSweepInterval != 30*time.Second {
		t.Fatalf("WorkerSweepInterval = %v, want 30s", cfg.WorkerSweepInterval)
	}
	if cfg.FreeTierDailyAILimit != 2 {
		t.Fatalf("FreeTierDailyAILimit = %d, want 2", cfg.FreeTierDailyAILimit)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_PROVIDER_TIMEOUT", "5s")
	t.Setenv("APP_FREE_TIER_DAILY_AI_LIMIT", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Fatalf("ProviderTimeout = %v, want 5s", cfg.ProviderTimeout)
	}
	if cfg.FreeTierDailyAILimit != 4 {
		t.Fatalf("FreeTierDailyAILimit = %d, want 4", cfg.FreeTierDailyAILimit)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_WORKER_SWEEP_INTERVAL", "100ms")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want sweep interval rejection")
	}

	setCoreEnvEmpty(t)
	t.Setenv("APP_WORKER_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want batch size rejection")
	}

	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want bool parse rejection")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_MONITOR_TOKEN",
		"APP_WORKER_SWEEP_INTERVAL",
		"APP_WORKER_BATCH_SIZE",
		"APP_PROVIDER_TIMEOUT",
		"APP_FREE_TIER_DAILY_AI_LIMIT",
		"APP_PRO_TIER_DAILY_AI_LIMIT",
		"APP_UPSELL_WINDOW",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
