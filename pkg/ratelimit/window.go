// Package ratelimit implements request admission for the upstream API: a
// sliding-window rate limiter that throttles arrival, a FIFO counting
// semaphore that bounds simultaneity, and the execution gate that composes
// the two around every upstream call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the sliding-window state behind a Limiter. take either records
// an admission (wait == 0) or reports how long the caller must suspend
// before the window can admit again.
type Window interface {
	take(ctx context.Context) (wait time.Duration, err error)
}

// memoryWindow is the in-process sliding window. It relies on Go's monotonic
// clock reading inside time.Time, so wall-clock adjustments do not distort
// the window.
type memoryWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time
}

func newMemoryWindow(maxRequests int, window time.Duration) *memoryWindow {
	return &memoryWindow{
		maxRequests: maxRequests,
		window:      window,
		stamps:      make([]time.Time, 0, maxRequests),
	}
}

func (w *memoryWindow) take(_ context.Context) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()

	// Prune stamps that have left the trailing window.
	cutoff := now.Add(-w.window)
	keep := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			w.stamps[keep] = ts
			keep++
		}
	}
	w.stamps = w.stamps[:keep]

	if len(w.stamps) < w.maxRequests {
		w.stamps = append(w.stamps, now)
		return 0, nil
	}

	// At capacity: the caller must wait until the oldest stamp exits.
	wait := w.window - now.Sub(w.stamps[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, nil
}
