package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the concierge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL string

	MonitorToken string

	WorkerSweepInterval time.Duration
	WorkerBatchSize     int
	ProviderTimeout     time.Duration

	FreeTierDailyAILimit int
	ProTierDailyAILimit  int
	UpsellWindow         time.Duration

	AllowAnyOrigin bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "concierge"),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MonitorToken:         strings.TrimSpace(os.Getenv("APP_MONITOR_TOKEN")),
		ShutdownTimeout:      15 * time.Second,
		WorkerSweepInterval:  30 * time.Second,
		WorkerBatchSize:      25,
		ProviderTimeout:      10 * time.Second,
		FreeTierDailyAILimit: 2,
		ProTierDailyAILimit:  10,
		UpsellWindow:         24 * time.Hour,
		AllowAnyOrigin:       false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerSweepInterval, err = durationFromEnv("APP_WORKER_SWEEP_INTERVAL", cfg.WorkerSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("APP_PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpsellWindow, err = durationFromEnv("APP_UPSELL_WINDOW", cfg.UpsellWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerBatchSize, err = intFromEnv("APP_WORKER_BATCH_SIZE", cfg.WorkerBatchSize)
	if err != nil {
		return Config{}, err
	}
	cfg.FreeTierDailyAILimit, err = intFromEnv("APP_FREE_TIER_DAILY_AI_LIMIT", cfg.FreeTierDailyAILimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ProTierDailyAILimit, err = intFromEnv("APP_PRO_TIER_DAILY_AI_LIMIT", cfg.ProTierDailyAILimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.WorkerSweepInterval < time.Second {
		return Config{}, fmt.Errorf("APP_WORKER_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.WorkerBatchSize <= 0 {
		return Config{}, fmt.Errorf("APP_WORKER_BATCH_SIZE must be positive")
	}
	if cfg.ProviderTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_PROVIDER_TIMEOUT must be at least 1s")
	}
	if cfg.FreeTierDailyAILimit < 0 || cfg.ProTierDailyAILimit < 0 {
		return Config{}, fmt.Errorf("tier daily limits must be >= 0")
	}
	if cfg.UpsellWindow <= 0 {
		return Config{}, fmt.Errorf("APP_UPSELL_WINDOW must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
