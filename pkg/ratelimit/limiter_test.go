package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLimiter_BurstWithinLimit(t *testing.T) {
	limiter := NewLimiter(5, time.Second, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Admit(ctx); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("5 admits with maxRequests=5 took %s, should not block", elapsed)
	}
}

func TestLimiter_SixthCallBlocks(t *testing.T) {
	window := 300 * time.Millisecond
	limiter := NewLimiter(5, window, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.Admit(ctx); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
	}

	start := time.Now()
	if err := limiter.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	elapsed := time.Since(start)

	// The sixth admit must wait approximately until the oldest stamp exits
	// the window.
	if elapsed < window/2 {
		t.Errorf("sixth admit blocked only %s, want ≈%s", elapsed, window)
	}
	if elapsed > 2*window {
		t.Errorf("sixth admit blocked %s, too long for window %s", elapsed, window)
	}
}

func TestLimiter_WindowedRate(t *testing.T) {
	window := 100 * time.Millisecond
	const maxRequests = 3
	limiter := NewLimiter(maxRequests, window, zerolog.Nop())
	ctx := context.Background()

	// Hammer the limiter and record admission times.
	var admitted []time.Time
	for i := 0; i < 9; i++ {
		if err := limiter.Admit(ctx); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		admitted = append(admitted, time.Now())
	}

	// No trailing window may contain more than maxRequests admissions.
	for i := range admitted {
		count := 0
		for j := range admitted {
			d := admitted[i].Sub(admitted[j])
			if d >= 0 && d < window {
				count++
			}
		}
		if count > maxRequests {
			t.Fatalf("window ending at admission %d held %d admissions, max %d", i, count, maxRequests)
		}
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, time.Hour, zerolog.Nop())

	if err := limiter.Admit(context.Background()); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Admit(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Admit() with expiring ctx = %v, want context.DeadlineExceeded", err)
	}
}

func TestMemoryWindow_Prune(t *testing.T) {
	w := newMemoryWindow(2, 30*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if wait, _ := w.take(ctx); wait != 0 {
			t.Fatalf("take %d should admit immediately, wait = %s", i, wait)
		}
	}

	if wait, _ := w.take(ctx); wait == 0 {
		t.Fatal("third take at capacity should report a wait")
	}

	time.Sleep(40 * time.Millisecond)

	// Both stamps have left the window.
	if wait, _ := w.take(ctx); wait != 0 {
		t.Errorf("take after window elapsed should admit, wait = %s", wait)
	}
}
