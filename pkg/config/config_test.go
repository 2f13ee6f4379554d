package config

import (
	"strings"
	"testing"
	"time"
)

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RateLimitMaxRequests != 10 {
		t.Errorf("RateLimitMaxRequests = %d, want 10", cfg.RateLimitMaxRequests)
	}
	if cfg.RateLimitWindow != time.Second {
		t.Errorf("RateLimitWindow = %v, want 1s", cfg.RateLimitWindow)
	}
	if cfg.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", cfg.MaxConcurrency)
	}
	if cfg.PoolCapacity != 100 {
		t.Errorf("PoolCapacity = %d, want 100", cfg.PoolCapacity)
	}
	if cfg.PoolSessionTTL != 30*time.Minute {
		t.Errorf("PoolSessionTTL = %v, want 30m", cfg.PoolSessionTTL)
	}
	if cfg.BreakerThreshold != 3 {
		t.Errorf("BreakerThreshold = %d, want 3", cfg.BreakerThreshold)
	}
	if cfg.BreakerCooldown != 2*time.Minute {
		t.Errorf("BreakerCooldown = %v, want 2m", cfg.BreakerCooldown)
	}
	if cfg.DefaultPollInterval != 30*time.Second {
		t.Errorf("DefaultPollInterval = %v, want 30s", cfg.DefaultPollInterval)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestGetConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PSA_GATEWAY_LISTEN_ADDR", ":9999")
	t.Setenv("PSA_GATEWAY_RATE_LIMIT_MAX_REQUESTS", "25")
	t.Setenv("PSA_GATEWAY_RATE_LIMIT_WINDOW_MS", "500")
	t.Setenv("PSA_GATEWAY_MAX_CONCURRENCY", "8")
	t.Setenv("PSA_GATEWAY_REDIS_URL", "redis://localhost:6379")
	t.Setenv("PSA_GATEWAY_LOG_LEVEL", "debug")

	cfg := GetConfig()

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.RateLimitMaxRequests != 25 {
		t.Errorf("RateLimitMaxRequests = %d, want 25", cfg.RateLimitMaxRequests)
	}
	if cfg.RateLimitWindow != 500*time.Millisecond {
		t.Errorf("RateLimitWindow = %v, want 500ms", cfg.RateLimitWindow)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.MaxConcurrency)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q, want redis://localhost:6379", cfg.RedisURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestConfig_StringOmitsCredentials(t *testing.T) {
	cfg := GetConfig()
	rendered := cfg.String()

	if !strings.Contains(rendered, "Listen_Addr: :8080") {
		t.Errorf("String() missing listen address:\n%s", rendered)
	}
	if strings.Contains(strings.ToLower(rendered), "private") {
		t.Errorf("String() must never render credential material:\n%s", rendered)
	}
}
