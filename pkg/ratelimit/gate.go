package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for gated upstream calls.
var (
	gateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psa_gate_requests_total",
		Help: "Total gated upstream calls by operation and outcome",
	}, []string{"operation", "status"})

	gateRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "psa_request_duration_seconds",
		Help:    "Upstream call duration through the gate by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})
)

// Gate composes the sliding-window limiter and the concurrency semaphore
// around every upstream call. Rate admission always runs before a
// concurrency slot is taken.
type Gate struct {
	limiter *Limiter
	sem     *Semaphore
	logger  zerolog.Logger
}

// NewGate creates the execution gate. All upstream traffic must pass
// through Execute.
func NewGate(limiter *Limiter, sem *Semaphore, logger zerolog.Logger) *Gate {
	return &Gate{
		limiter: limiter,
		sem:     sem,
		logger:  logger,
	}
}

// Execute admits the call through the rate window, then takes a concurrency
// slot, runs fn, and records latency and outcome. Errors from fn propagate
// unchanged.
func (g *Gate) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Admit(ctx); err != nil {
		gateRequestsTotal.WithLabelValues(operation, "admit_failed").Inc()
		return err
	}

	if err := g.sem.Acquire(ctx); err != nil {
		gateRequestsTotal.WithLabelValues(operation, "cancelled").Inc()
		return err
	}
	defer g.sem.Release()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	gateRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())

	if err != nil {
		gateRequestsTotal.WithLabelValues(operation, "error").Inc()
		g.logger.Debug().
			Err(err).
			Str("operation", operation).
			Dur("duration", elapsed).
			Msg("Gated call failed")
		return err
	}

	gateRequestsTotal.WithLabelValues(operation, "ok").Inc()
	g.logger.Debug().
		Str("operation", operation).
		Dur("duration", elapsed).
		Msg("Gated call complete")
	return nil
}

// InFlight reports current concurrency slot usage.
func (g *Gate) InFlight() int {
	return g.sem.InFlight()
}
