package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolClients tracks the current number of pooled upstream clients.
	PoolClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "psa_pool_clients",
			Help: "Current number of pooled upstream clients",
		},
	)

	// PoolHits tracks acquires served from the pool.
	PoolHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "psa_pool_hits_total",
			Help: "Total number of pool acquires served by an existing client",
		},
	)

	// PoolMisses tracks acquires that constructed a new client.
	PoolMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "psa_pool_misses_total",
			Help: "Total number of pool acquires that constructed a new client",
		},
	)

	// PoolEvictions tracks removed entries by reason.
	PoolEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psa_pool_evictions_total",
			Help: "Total number of pool evictions by reason",
		},
		[]string{"reason"}, // "capacity", "expired", "closed"
	)

	// PoolBuildErrors tracks failed client constructions.
	PoolBuildErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "psa_pool_build_errors_total",
			Help: "Total number of failed upstream client constructions",
		},
	)
)
