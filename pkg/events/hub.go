package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for event fan-out.
var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psa_events_published_total",
		Help: "Total events published to the hub by event name",
	}, []string{"event"})

	sseSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "psa_sse_subscribers",
		Help: "Current number of connected SSE subscribers",
	})

	sseDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psa_sse_dropped_total",
		Help: "Total events dropped because a subscriber channel was full",
	})
)

// Defaults applied by NewHub when the corresponding field is zero.
const (
	DefaultIdleTimeout = 10 * time.Minute
	DefaultReapPeriod  = time.Minute
	subscriberBuffer   = 64
)

// Subscriber is one connected event listener.
type Subscriber struct {
	ID     string
	Tenant string // empty = all tenants

	mu    sync.Mutex
	names map[string]struct{} // empty = all events

	// lastActivity is unix nanos, kept atomic so Touch from the stream
	// writer never contends with fan-out delivery.
	lastActivity atomic.Int64

	ch     chan Event
	closed bool
}

// Events returns the subscriber's delivery channel. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Touch refreshes the inactivity clock, deferring the idle reaper.
func (s *Subscriber) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// wants reports whether the subscriber's filters match the event.
func (s *Subscriber) wants(evt Event) bool {
	if s.Tenant != "" && evt.Tenant != "" && evt.Tenant != s.Tenant {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[evt.Name]
	return ok
}

// Hub owns the subscriber registry and fans published events out to every
// matching subscriber. Publishing never blocks: a subscriber that cannot
// keep up drops events instead of stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool

	idleTimeout time.Duration
	logger      zerolog.Logger
	done        chan struct{}
}

// NewHub creates a hub and starts its idle-subscriber reaper.
func NewHub(idleTimeout time.Duration, logger zerolog.Logger) *Hub {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	h := &Hub{
		subs:        make(map[string]*Subscriber),
		idleTimeout: idleTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go h.reaper()
	return h
}

// Subscribe registers a listener, optionally scoped to one tenant and a set
// of event names (nil or empty = all events).
func (h *Hub) Subscribe(tenant string, names []string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Tenant: tenant,
		names:  nameSet(names),
		ch:     make(chan Event, subscriberBuffer),
	}
	sub.Touch()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		sub.closed = true
		return sub
	}
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	sseSubscribers.Set(float64(count))
	h.logger.Debug().Str("subscriber", sub.ID).Str("tenant", tenant).Msg("Subscriber connected")
	return sub
}

// Unsubscribe removes a listener and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()

	sseSubscribers.Set(float64(count))
	h.logger.Debug().Str("subscriber", id).Msg("Subscriber disconnected")
}

// UpdateSubscription replaces a subscriber's event-name set and notifies the
// subscriber with a subscription-updated event. Returns false for unknown
// ids.
func (h *Hub) UpdateSubscription(id string, names []string) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	h.mu.Unlock()
	if !ok {
		return false
	}

	sub.mu.Lock()
	sub.names = nameSet(names)
	sub.mu.Unlock()
	sub.Touch()

	h.deliver(sub, NewEvent(EventSubscriptionUpdated, sub.Tenant, map[string]any{
		"subscriberId": id,
		"events":       names,
	}))
	return true
}

// Publish fans the event out to all matching subscribers.
func (h *Hub) Publish(evt Event) {
	eventsPublished.WithLabelValues(evt.Name).Inc()

	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if sub.wants(evt) {
			h.deliver(sub, evt)
		}
	}
}

// deliver sends without blocking; a full subscriber buffer drops the event.
// The send stays under sub.mu because Unsubscribe closes the channel under
// the same lock.
func (h *Hub) deliver(sub *Subscriber, evt Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	select {
	case sub.ch <- evt:
	default:
		sseDropped.Inc()
		h.logger.Warn().Str("subscriber", sub.ID).Str("event", evt.Name).Msg("Dropped event for slow subscriber")
	}
	sub.mu.Unlock()
}

// SubscriberCount returns the number of registered listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// reaper disconnects subscribers that have been inactive past the idle
// timeout.
func (h *Hub) reaper() {
	ticker := time.NewTicker(DefaultReapPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.reap()
		}
	}
}

func (h *Hub) reap() {
	h.mu.Lock()
	var idle []string
	for id, sub := range h.subs {
		last := time.Unix(0, sub.lastActivity.Load())
		if time.Since(last) > h.idleTimeout {
			idle = append(idle, id)
		}
	}
	h.mu.Unlock()

	for _, id := range idle {
		h.logger.Info().Str("subscriber", id).Msg("Reaping idle subscriber")
		h.Unsubscribe(id)
	}
}

// Close removes every subscriber and stops the reaper. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Unsubscribe(id)
	}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
