// Package polling runs background query sessions on behalf of subscribers.
// Each session re-issues its query on a fixed timer, fans results out through
// the event hub, and carries a per-session circuit breaker that degrades the
// session after repeated failures and attempts recovery after a cooldown.
package polling

import (
	"context"
	"sync"
	"time"

	"github.com/psagate/psa-gateway/pkg/psa"
)

// State is a polling session's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

// Defaults applied by Start when the corresponding Config field is zero.
const (
	DefaultInterval         = 30 * time.Second
	DefaultPageSize         = 25
	DefaultBreakerThreshold = 3
	DefaultCooldown         = 2 * time.Minute
)

// Config describes one polling session.
type Config struct {
	// Entity is the upstream entity to poll (e.g. "tickets").
	Entity string

	// Filter is the upstream query condition, may be empty.
	Filter string

	// PageSize is the page size for each poll cycle.
	PageSize int

	// Interval is the poll period.
	Interval time.Duration

	// BreakerThreshold is the consecutive-failure count that trips the
	// session into the degraded state.
	BreakerThreshold int

	// Cooldown is how long a degraded session stays quiet before one
	// recovery attempt.
	Cooldown time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Session is one live polling session. All mutable fields are guarded by mu;
// the run loop is the only writer of the poll counters.
type Session struct {
	ID     string
	Tenant string

	cfg   Config
	creds psa.TenantCredentials

	mu                sync.Mutex
	state             State
	startedAt         time.Time
	lastPollAt        time.Time
	pollCount         int
	totalErrors       int
	consecutiveErrors int
	healthy           bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	ID                string        `json:"pollId"`
	Tenant            string        `json:"tenant"`
	Entity            string        `json:"entity"`
	State             State         `json:"state"`
	Interval          time.Duration `json:"intervalMs"`
	StartedAt         time.Time     `json:"startedAt"`
	LastPollAt        time.Time     `json:"lastPollAt"`
	PollCount         int           `json:"pollCount"`
	TotalErrors       int           `json:"totalErrors"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	Healthy           bool          `json:"healthy"`
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Healthy reports the session's circuit-breaker health flag.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *Session) lastPoll() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPollAt
}

// snapshot copies the session counters under the lock.
func (s *Session) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:                s.ID,
		Tenant:            s.Tenant,
		Entity:            s.cfg.Entity,
		State:             s.state,
		Interval:          s.cfg.Interval,
		StartedAt:         s.startedAt,
		LastPollAt:        s.lastPollAt,
		PollCount:         s.pollCount,
		TotalErrors:       s.totalErrors,
		ConsecutiveErrors: s.consecutiveErrors,
		Healthy:           s.healthy,
	}
}

// recordSuccess resets the failure streak and reports whether the session
// just recovered from the degraded state.
func (s *Session) recordSuccess() (recovered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPollAt = time.Now()
	s.pollCount++
	s.consecutiveErrors = 0
	s.healthy = true
	if s.state == StateDegraded {
		s.state = StateRunning
		return true
	}
	s.state = StateRunning
	return false
}

// recordFailure bumps the error counters and reports whether this failure
// trips the circuit breaker.
func (s *Session) recordFailure(threshold int) (tripped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPollAt = time.Now()
	s.pollCount++
	s.totalErrors++
	s.consecutiveErrors++

	if s.consecutiveErrors >= threshold && s.state != StateDegraded {
		s.state = StateDegraded
		s.healthy = false
		return true
	}
	return false
}
