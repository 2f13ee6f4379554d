package polling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/events"
	"github.com/psagate/psa-gateway/pkg/pagination"
	"github.com/psagate/psa-gateway/pkg/psa"
)

// Prometheus metrics for polling sessions.
var (
	pollingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "psa_polling_sessions",
		Help: "Current number of live polling sessions",
	})

	pollingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psa_polling_errors_total",
		Help: "Total poll cycle failures across all sessions",
	})

	breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psa_breaker_trips_total",
		Help: "Total circuit breaker trips across all sessions",
	})
)

// Querier issues one gated, verdict-wrapped query. *gateway.Service
// satisfies it.
type Querier interface {
	Query(ctx context.Context, creds psa.TenantCredentials, entity, filter string, pageSize, page int) (*pagination.Envelope, error)
}

// Manager owns the session registry. Sessions run on independent timers and
// never block each other; within one session, poll cycles are serialized by
// the session's own goroutine.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	querier Querier
	hub     *events.Hub
	logger  zerolog.Logger
}

// NewManager creates an empty session registry.
func NewManager(querier Querier, hub *events.Hub, logger zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		querier:  querier,
		hub:      hub,
		logger:   logger,
	}
}

// Start creates a session and begins polling. The credentials live only on
// the session struct and die with it. Returns the new session id.
func (m *Manager) Start(ctx context.Context, creds psa.TenantCredentials, cfg Config) (string, error) {
	if err := creds.Validate(); err != nil {
		return "", err
	}
	if cfg.Entity == "" {
		return "", &psa.ConfigurationError{Field: "entity", Message: "polling requires an entity"}
	}
	cfg = cfg.withDefaults()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:        uuid.NewString(),
		Tenant:    creds.CacheKey(),
		cfg:       cfg,
		creds:     creds,
		state:     StateStarting,
		startedAt: time.Now(),
		healthy:   true,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	pollingSessions.Set(float64(count))

	m.logger.Info().
		Str("poll_id", s.ID).
		Str("entity", cfg.Entity).
		Dur("interval", cfg.Interval).
		Msg("Polling session started")

	go m.run(sessionCtx, s)
	return s.ID, nil
}

// Stop cancels a session and waits for its goroutine to exit, so no events
// for this poll id are published after Stop returns. Idempotent: stopping an
// unknown or already-stopped id returns false.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.cancel()
	<-s.done
	pollingSessions.Set(float64(count))

	m.logger.Info().Str("poll_id", id).Msg("Polling session stopped")
	return true
}

// StopAll stops every live session; called on process shutdown so no timers
// leak.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats snapshots every live session.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	stats := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.snapshot())
	}
	return stats
}

// run is the session goroutine: one poll per tick, cycles serialized, no
// overlap. A slow poll simply delays this session's next cycle.
func (m *Manager) run(ctx context.Context, s *Session) {
	defer close(s.done)

	s.setState(StateRunning)
	m.publish(ctx, s, events.EventPollingStarted, map[string]any{
		"pollId":     s.ID,
		"entity":     s.cfg.Entity,
		"intervalMs": s.cfg.Interval.Milliseconds(),
	})

	// First cycle runs immediately so subscribers see data without waiting
	// a full interval.
	m.tick(ctx, s)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			m.hub.Publish(events.NewEvent(events.EventPollingStopped, s.Tenant, map[string]any{
				"pollId": s.ID,
				"entity": s.cfg.Entity,
			}))
			return
		case <-ticker.C:
			m.tick(ctx, s)
		}
	}
}

// tick runs one poll cycle, honoring the circuit breaker: degraded sessions
// stay quiet until the cooldown elapses, then make exactly one recovery
// attempt.
func (m *Manager) tick(ctx context.Context, s *Session) {
	if ctx.Err() != nil {
		return
	}

	if s.State() == StateDegraded {
		if time.Since(s.lastPoll()) <= s.cfg.Cooldown {
			return
		}
		m.logger.Info().Str("poll_id", s.ID).Msg("Cooldown elapsed, attempting recovery poll")
	}

	env, err := m.querier.Query(ctx, s.creds, s.cfg.Entity, s.cfg.Filter, s.cfg.PageSize, 1)

	// A cancelled cycle publishes nothing: the stop event from the run loop
	// is the last word for this session.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		pollingErrors.Inc()
		tripped := s.recordFailure(s.cfg.BreakerThreshold)

		m.publish(ctx, s, events.EventPollingError, map[string]any{
			"pollId": s.ID,
			"entity": s.cfg.Entity,
			"error":  err.Error(),
		})

		if tripped {
			breakerTrips.Inc()
			m.logger.Error().
				Str("poll_id", s.ID).
				Int("consecutive_errors", s.snapshot().ConsecutiveErrors).
				Msg("Circuit breaker tripped, session degraded")
			m.publishHealth(ctx, s)
		} else {
			m.logger.Warn().Err(err).Str("poll_id", s.ID).Msg("Poll cycle failed")
		}
		return
	}

	recovered := s.recordSuccess()
	if recovered {
		m.logger.Info().Str("poll_id", s.ID).Msg("Session recovered, breaker reset")
		m.publishHealth(ctx, s)
	}

	m.publish(ctx, s, events.EntityUpdate(s.cfg.Entity), map[string]any{
		"pollId":     s.ID,
		"entity":     s.cfg.Entity,
		"items":      env.Items,
		"pagination": env.Pagination,
	})
}

// publishHealth broadcasts the session's current health flag.
func (m *Manager) publishHealth(ctx context.Context, s *Session) {
	snap := s.snapshot()
	m.publish(ctx, s, events.EventPollingHealth, map[string]any{
		"pollId":            s.ID,
		"entity":            s.cfg.Entity,
		"healthy":           snap.Healthy,
		"state":             snap.State,
		"consecutiveErrors": snap.ConsecutiveErrors,
	})
}

// publish emits an event unless the session has been cancelled.
func (m *Manager) publish(ctx context.Context, s *Session, name string, payload map[string]any) {
	if ctx.Err() != nil {
		return
	}
	m.hub.Publish(events.NewEvent(name, s.Tenant, payload))
}
