package ratelimit

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "psa_inflight_requests",
	Help: "Current number of in-flight upstream requests",
})

// Semaphore is a FIFO counting semaphore bounding simultaneous in-flight
// upstream calls. Release hands its slot directly to the head of the wait
// queue, so waiters resume in arrival order and never race a re-check.
type Semaphore struct {
	mu       sync.Mutex
	max      int
	inflight int
	waiters  []chan struct{}
}

// NewSemaphore creates a semaphore with the given slot count.
func NewSemaphore(max int) *Semaphore {
	if max <= 0 {
		max = 1
	}
	return &Semaphore{max: max}
}

// Acquire takes a slot, queueing FIFO behind earlier callers when all slots
// are in use. It returns ctx.Err() if the context ends first.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight < s.max {
		s.inflight++
		s.mu.Unlock()
		inflightRequests.Inc()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		// Slot handed off by Release; the in-flight count and gauge already
		// cover it.
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// The hand-off already happened: this caller owns a slot it will
		// never use, so give it straight back.
		s.Release()
		return ctx.Err()
	}
}

// Release frees a slot. When waiters are queued the slot passes directly to
// the head waiter; the in-flight count and gauge are unchanged because the
// slot never frees.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(ready)
		return
	}
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
	inflightRequests.Dec()
}

// Execute runs fn while holding a slot. The slot is released on every exit
// path, including panics.
func (s *Semaphore) Execute(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}

// InFlight returns the current slot usage.
func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}
