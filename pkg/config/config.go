// Package config loads gateway configuration from the environment with sane
// defaults. All settings use the PSA_GATEWAY_ prefix, e.g.
// PSA_GATEWAY_LISTEN_ADDR.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PSA_GATEWAY"

	keyListenAddr       = "Listen_Addr"
	keyUpstreamBaseURL  = "Upstream_Base_URL"
	keyRateLimitMax     = "Rate_Limit_Max_Requests"
	keyRateLimitWindow  = "Rate_Limit_Window_Ms"
	keyMaxConcurrency   = "Max_Concurrency"
	keyPoolCapacity     = "Pool_Capacity"
	keySessionTTL       = "Pool_Session_TTL_Minutes"
	keySweepInterval    = "Pool_Sweep_Interval_Minutes"
	keyBreakerThreshold = "Breaker_Threshold"
	keyCooldown         = "Breaker_Cooldown_Seconds"
	keyPollInterval     = "Poll_Interval_Seconds"
	keySSEIdleTimeout   = "SSE_Idle_Timeout_Minutes"
	keyHeartbeat        = "SSE_Heartbeat_Seconds"
	keyRedisURL         = "Redis_URL"
	keyLogLevel         = "Log_Level"
	keyLogPretty        = "Log_Pretty"
	keyShutdownTimeout  = "Shutdown_Timeout_Seconds"
)

// Config holds the gateway configuration.
type Config struct {
	ListenAddr      string
	UpstreamBaseURL string

	RateLimitMaxRequests int
	RateLimitWindow      time.Duration
	MaxConcurrency       int

	PoolCapacity      int
	PoolSessionTTL    time.Duration
	PoolSweepInterval time.Duration

	BreakerThreshold    int
	BreakerCooldown     time.Duration
	DefaultPollInterval time.Duration

	SSEIdleTimeout    time.Duration
	HeartbeatInterval time.Duration

	// RedisURL enables the replica-shared rate window when non-empty.
	RedisURL string

	LogLevel  string
	LogPretty bool

	ShutdownTimeout time.Duration
}

// String renders the configuration for startup logging. The upstream
// credentials are per-request and never appear here.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", keyListenAddr, c.ListenAddr)
	fmt.Fprintf(&b, "%s: %s\n", keyUpstreamBaseURL, c.UpstreamBaseURL)
	fmt.Fprintf(&b, "%s: %d\n", keyRateLimitMax, c.RateLimitMaxRequests)
	fmt.Fprintf(&b, "%s: %s\n", keyRateLimitWindow, c.RateLimitWindow)
	fmt.Fprintf(&b, "%s: %d\n", keyMaxConcurrency, c.MaxConcurrency)
	fmt.Fprintf(&b, "%s: %d\n", keyPoolCapacity, c.PoolCapacity)
	fmt.Fprintf(&b, "%s: %s\n", keySessionTTL, c.PoolSessionTTL)
	fmt.Fprintf(&b, "%s: %s\n", keySweepInterval, c.PoolSweepInterval)
	fmt.Fprintf(&b, "%s: %d\n", keyBreakerThreshold, c.BreakerThreshold)
	fmt.Fprintf(&b, "%s: %s\n", keyCooldown, c.BreakerCooldown)
	fmt.Fprintf(&b, "%s: %s\n", keyPollInterval, c.DefaultPollInterval)
	fmt.Fprintf(&b, "%s: %s\n", keySSEIdleTimeout, c.SSEIdleTimeout)
	fmt.Fprintf(&b, "%s: %s\n", keyHeartbeat, c.HeartbeatInterval)
	fmt.Fprintf(&b, "%s: %s\n", keyRedisURL, c.RedisURL)
	fmt.Fprintf(&b, "%s: %s\n", keyLogLevel, c.LogLevel)
	return b.String()
}

// GetConfig reads the environment and returns the effective configuration.
func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(keyListenAddr, ":8080")
	options.SetDefault(keyUpstreamBaseURL, "")
	options.SetDefault(keyRateLimitMax, 10)
	options.SetDefault(keyRateLimitWindow, 1000)
	options.SetDefault(keyMaxConcurrency, 5)
	options.SetDefault(keyPoolCapacity, 100)
	options.SetDefault(keySessionTTL, 30)
	options.SetDefault(keySweepInterval, 5)
	options.SetDefault(keyBreakerThreshold, 3)
	options.SetDefault(keyCooldown, 120)
	options.SetDefault(keyPollInterval, 30)
	options.SetDefault(keySSEIdleTimeout, 10)
	options.SetDefault(keyHeartbeat, 30)
	options.SetDefault(keyRedisURL, "")
	options.SetDefault(keyLogLevel, "info")
	options.SetDefault(keyLogPretty, false)
	options.SetDefault(keyShutdownTimeout, 10)

	options.SetEnvPrefix(envPrefix)
	options.AutomaticEnv()

	return &Config{
		ListenAddr:           options.GetString(keyListenAddr),
		UpstreamBaseURL:      options.GetString(keyUpstreamBaseURL),
		RateLimitMaxRequests: options.GetInt(keyRateLimitMax),
		RateLimitWindow:      time.Duration(options.GetInt(keyRateLimitWindow)) * time.Millisecond,
		MaxConcurrency:       options.GetInt(keyMaxConcurrency),
		PoolCapacity:         options.GetInt(keyPoolCapacity),
		PoolSessionTTL:       time.Duration(options.GetInt(keySessionTTL)) * time.Minute,
		PoolSweepInterval:    time.Duration(options.GetInt(keySweepInterval)) * time.Minute,
		BreakerThreshold:     options.GetInt(keyBreakerThreshold),
		BreakerCooldown:      time.Duration(options.GetInt(keyCooldown)) * time.Second,
		DefaultPollInterval:  time.Duration(options.GetInt(keyPollInterval)) * time.Second,
		SSEIdleTimeout:       time.Duration(options.GetInt(keySSEIdleTimeout)) * time.Minute,
		HeartbeatInterval:    time.Duration(options.GetInt(keyHeartbeat)) * time.Second,
		RedisURL:             options.GetString(keyRedisURL),
		LogLevel:             options.GetString(keyLogLevel),
		LogPretty:            options.GetBool(keyLogPretty),
		ShutdownTimeout:      time.Duration(options.GetInt(keyShutdownTimeout)) * time.Second,
	}
}
