package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psa_rate_limit_waits_total",
		Help: "Total number of admissions that had to wait for window capacity",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "psa_rate_limit_wait_seconds",
		Help:    "Time spent waiting for sliding-window admission",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// maxAdmitAttempts bounds the wait-and-recheck loop. It is a safety valve
// against livelock under pathological contention, not a backpressure
// mechanism: admission never rejects a caller on capacity alone.
const maxAdmitAttempts = 64

// ErrAdmitRetries is returned when the admission loop exhausts its attempt
// bound without winning a window slot.
var ErrAdmitRetries = fmt.Errorf("rate limiter: admission retries exhausted")

// Limiter provides blocking sliding-window admission shared across tenants.
type Limiter struct {
	window Window
	logger zerolog.Logger
}

// NewLimiter creates a limiter backed by an in-process sliding window
// admitting at most maxRequests per trailing window.
func NewLimiter(maxRequests int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		window: newMemoryWindow(maxRequests, window),
		logger: logger,
	}
}

// NewRedisLimiter creates a limiter whose window is shared across gateway
// replicas through Redis.
func NewRedisLimiter(client *redis.Client, maxRequests int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		window: newRedisWindow(client, maxRequests, window),
		logger: logger,
	}
}

// Admit blocks until the sliding window grants a slot. Each pass recomputes
// the wait from the current window state rather than sleeping blindly; the
// loop is bounded to avoid unbounded re-check cycles.
func (l *Limiter) Admit(ctx context.Context) error {
	start := time.Now()
	waited := false

	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		wait, err := l.window.take(ctx)
		if err != nil {
			return err
		}
		if wait == 0 {
			if waited {
				rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
			}
			return nil
		}

		if !waited {
			waited = true
			rateLimitWaits.Inc()
		}

		l.logger.Debug().
			Dur("wait", wait).
			Int("attempt", attempt+1).
			Msg("Rate window full, waiting for admission")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.logger.Error().
		Dur("waited", time.Since(start)).
		Msg("Rate limiter admission retries exhausted")
	return ErrAdmitRetries
}
