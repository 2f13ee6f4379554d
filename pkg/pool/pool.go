// Package pool owns the credential-keyed cache of upstream clients. Handles
// are created on miss, shared across callers of the same tenant, evicted
// least-recently-used under capacity pressure, and swept out after idling
// past the session TTL.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/psa"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultCapacity      = 100
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// ErrClosed is returned by Acquire after the pool has been shut down.
var ErrClosed = errors.New("client pool closed")

// Factory constructs an upstream client for a tenant. Construction is an
// external, potentially slow operation that may fail with a connection error.
type Factory func(ctx context.Context, creds psa.TenantCredentials) (psa.Client, error)

// Config holds the pool configuration.
type Config struct {
	Capacity      int
	SessionTTL    time.Duration
	SweepInterval time.Duration
	Factory       Factory
	Logger        zerolog.Logger
}

type entry struct {
	client    psa.Client
	createdAt time.Time
	lastUsed  time.Time
}

// build tracks an in-flight client construction so concurrent acquires for
// the same key share a single factory call.
type build struct {
	done   chan struct{}
	client psa.Client
	err    error
}

// Pool is the credential-keyed client cache.
type Pool struct {
	mu       sync.Mutex
	entries  map[string]*entry
	building map[string]*build
	closed   bool

	capacity      int
	sessionTTL    time.Duration
	sweepInterval time.Duration
	factory       Factory
	logger        zerolog.Logger

	done chan struct{}
}

// New creates a pool and starts its background sweeper.
func New(cfg Config) *Pool {
	if cfg.Factory == nil {
		panic("pool factory cannot be nil")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	p := &Pool{
		entries:       make(map[string]*entry),
		building:      make(map[string]*build),
		capacity:      cfg.Capacity,
		sessionTTL:    cfg.SessionTTL,
		sweepInterval: cfg.SweepInterval,
		factory:       cfg.Factory,
		logger:        cfg.Logger,
		done:          make(chan struct{}),
	}

	go p.sweeper()

	return p
}

// Acquire returns the pooled client for the credential tuple, constructing
// one on miss. Concurrent acquires for the same tenant share one factory
// call; construction failures propagate and cache nothing. Callers must not
// retain the client beyond a single operation.
func (p *Pool) Acquire(ctx context.Context, creds psa.TenantCredentials) (psa.Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	key := creds.CacheKey()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if e, ok := p.entries[key]; ok {
			if time.Since(e.lastUsed) <= p.sessionTTL {
				e.lastUsed = time.Now()
				p.mu.Unlock()
				PoolHits.Inc()
				return e.client, nil
			}
			// Stale entry found on the lookup path; the sweeper would have
			// removed it eventually.
			delete(p.entries, key)
			PoolEvictions.WithLabelValues("expired").Inc()
			PoolClients.Set(float64(len(p.entries)))
		}

		if b, ok := p.building[key]; ok {
			p.mu.Unlock()
			select {
			case <-b.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if b.err != nil {
				return nil, b.err
			}
			// Re-run the lookup so lastUsed is refreshed on the shared entry.
			continue
		}

		b := &build{done: make(chan struct{})}
		p.building[key] = b
		p.mu.Unlock()

		// Handle construction stays outside the lock: it may be slow, and a
		// blocked tenant must not stall lookups for everyone else.
		client, err := p.factory(ctx, creds)

		p.mu.Lock()
		delete(p.building, key)

		if err != nil {
			b.err = err
			p.mu.Unlock()
			close(b.done)
			PoolBuildErrors.Inc()
			p.logger.Error().Err(err).Str("tenant", creds.ShortKey()).Msg("Upstream client construction failed")
			return nil, err
		}

		// Double-check on insert: a racing acquire may have populated the
		// key while the factory ran.
		if existing, ok := p.entries[key]; ok {
			existing.lastUsed = time.Now()
			b.client = existing.client
			p.mu.Unlock()
			close(b.done)
			PoolHits.Inc()
			return existing.client, nil
		}

		if len(p.entries) >= p.capacity {
			p.evictOldestLocked()
		}

		now := time.Now()
		p.entries[key] = &entry{client: client, createdAt: now, lastUsed: now}
		PoolClients.Set(float64(len(p.entries)))
		b.client = client
		p.mu.Unlock()
		close(b.done)

		PoolMisses.Inc()
		p.logger.Info().Str("tenant", creds.ShortKey()).Msg("Pooled new upstream client")
		return client, nil
	}
}

// evictOldestLocked removes the entry with the oldest lastUsed timestamp.
// Caller holds p.mu.
func (p *Pool) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range p.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(p.entries, oldestKey)
		PoolEvictions.WithLabelValues("capacity").Inc()
		p.logger.Debug().Msg("Evicted least-recently-used pooled client")
	}
}

// sweeper periodically removes entries whose idle time exceeds the session
// TTL, independent of eviction on the acquire path.
func (p *Pool) sweeper() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, e := range p.entries {
		if time.Since(e.lastUsed) > p.sessionTTL {
			delete(p.entries, key)
			PoolEvictions.WithLabelValues("expired").Inc()
			removed++
		}
	}
	if removed > 0 {
		PoolClients.Set(float64(len(p.entries)))
		p.logger.Debug().Int("removed", removed).Int("remaining", len(p.entries)).Msg("Swept idle pooled clients")
	}
}

// Size returns the current number of pooled clients.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close stops the sweeper and drops all pooled clients. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)

	for key := range p.entries {
		delete(p.entries, key)
		PoolEvictions.WithLabelValues("closed").Inc()
	}
	PoolClients.Set(0)
	p.logger.Info().Msg("Client pool closed")
}
