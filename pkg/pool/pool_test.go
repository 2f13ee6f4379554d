package pool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/pagination"
	"github.com/psagate/psa-gateway/pkg/psa"
)

// fakeClient is a stand-in upstream handle identified by its build number.
type fakeClient struct {
	build int64
}

func (f *fakeClient) Query(context.Context, string, string, int, int) (*pagination.Page, error) {
	return &pagination.Page{Number: 1, Size: 1}, nil
}
func (f *fakeClient) Get(context.Context, string, string) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeClient) Create(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeClient) Update(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeClient) Delete(context.Context, string, string) error { return nil }

func countingFactory(builds *int64) Factory {
	return func(context.Context, psa.TenantCredentials) (psa.Client, error) {
		n := atomic.AddInt64(builds, 1)
		return &fakeClient{build: n}, nil
	}
}

func tenant(name string) psa.TenantCredentials {
	return psa.TenantCredentials{CompanyID: name, PublicKey: "pub", PrivateKey: "priv"}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	p := New(cfg)
	t.Cleanup(p.Close)
	return p
}

func TestPool_HitReturnsSameClient(t *testing.T) {
	var builds int64
	p := newTestPool(t, Config{Factory: countingFactory(&builds)})
	ctx := context.Background()

	first, err := p.Acquire(ctx, tenant("acme"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := p.Acquire(ctx, tenant("acme"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if first != second {
		t.Error("same tenant must resolve to the same pooled client")
	}
	if builds != 1 {
		t.Errorf("factory calls = %d, want 1", builds)
	}
}

func TestPool_DistinctTenants(t *testing.T) {
	var builds int64
	p := newTestPool(t, Config{Factory: countingFactory(&builds)})
	ctx := context.Background()

	a, _ := p.Acquire(ctx, tenant("acme"))
	b, _ := p.Acquire(ctx, tenant("globex"))

	if a == b {
		t.Error("distinct tenants must not share a client")
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2", p.Size())
	}
}

func TestPool_ConcurrentAcquire_SingleConstruction(t *testing.T) {
	var builds int64
	slowFactory := func(ctx context.Context, creds psa.TenantCredentials) (psa.Client, error) {
		time.Sleep(20 * time.Millisecond) // widen the race window
		n := atomic.AddInt64(&builds, 1)
		return &fakeClient{build: n}, nil
	}
	p := newTestPool(t, Config{Factory: slowFactory})

	const goroutines = 50
	clients := make([]psa.Client, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(context.Background(), tenant("acme"))
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	if builds != 1 {
		t.Errorf("factory calls = %d, want 1 (no duplicate handles under a race)", builds)
	}
	for i := 1; i < goroutines; i++ {
		if clients[i] != clients[0] {
			t.Fatalf("goroutine %d received a different client", i)
		}
	}
}

func TestPool_CapacityEvictsOldest(t *testing.T) {
	var builds int64
	p := newTestPool(t, Config{Capacity: 2, Factory: countingFactory(&builds)})
	ctx := context.Background()

	if _, err := p.Acquire(ctx, tenant("a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := p.Acquire(ctx, tenant("b")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	// Touch "a" so "b" becomes the least recently used.
	if _, err := p.Acquire(ctx, tenant("a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := p.Acquire(ctx, tenant("c")); err != nil {
		t.Fatal(err)
	}

	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2 after eviction", p.Size())
	}

	// "a" must still be pooled; "b" must have been evicted.
	before := atomic.LoadInt64(&builds)
	if _, err := p.Acquire(ctx, tenant("a")); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&builds) != before {
		t.Error("tenant a should still be pooled")
	}
	if _, err := p.Acquire(ctx, tenant("b")); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&builds) != before+1 {
		t.Error("tenant b should have been evicted as least recently used")
	}
}

func TestPool_CapacityNeverExceeded(t *testing.T) {
	var builds int64
	const capacity = 3
	p := newTestPool(t, Config{Capacity: capacity, Factory: countingFactory(&builds)})
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e", "f", "g", "a", "c", "h"}
	for _, n := range names {
		if _, err := p.Acquire(ctx, tenant(n)); err != nil {
			t.Fatal(err)
		}
		if size := p.Size(); size > capacity {
			t.Fatalf("Size() = %d, exceeds capacity %d", size, capacity)
		}
	}
}

func TestPool_FailureNotCached(t *testing.T) {
	var calls int64
	boom := errors.New("upstream unreachable")
	factory := func(context.Context, psa.TenantCredentials) (psa.Client, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, boom
		}
		return &fakeClient{}, nil
	}
	p := newTestPool(t, Config{Factory: factory})
	ctx := context.Background()

	if _, err := p.Acquire(ctx, tenant("acme")); !errors.Is(err, boom) {
		t.Fatalf("Acquire() error = %v, want %v", err, boom)
	}
	if p.Size() != 0 {
		t.Error("failed construction must not be cached")
	}

	if _, err := p.Acquire(ctx, tenant("acme")); err != nil {
		t.Fatalf("retry after failure should construct: %v", err)
	}
	if calls != 2 {
		t.Errorf("factory calls = %d, want 2", calls)
	}
}

func TestPool_ExpiredEntryRebuilt(t *testing.T) {
	var builds int64
	p := newTestPool(t, Config{
		SessionTTL:    20 * time.Millisecond,
		SweepInterval: time.Hour, // isolate the acquire-path expiry check
		Factory:       countingFactory(&builds),
	})
	ctx := context.Background()

	if _, err := p.Acquire(ctx, tenant("acme")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, err := p.Acquire(ctx, tenant("acme")); err != nil {
		t.Fatal(err)
	}
	if builds != 2 {
		t.Errorf("factory calls = %d, want 2 (stale entry must be rebuilt)", builds)
	}
}

func TestPool_SweepRemovesIdle(t *testing.T) {
	var builds int64
	p := newTestPool(t, Config{
		SessionTTL:    10 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
		Factory:       countingFactory(&builds),
	})

	if _, err := p.Acquire(context.Background(), tenant("acme")); err != nil {
		t.Fatal(err)
	}
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for p.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Size() != 0 {
		t.Error("sweeper should have removed the idle entry")
	}
}

func TestPool_Close(t *testing.T) {
	var builds int64
	p := New(Config{Factory: countingFactory(&builds), Logger: zerolog.Nop()})

	if _, err := p.Acquire(context.Background(), tenant("acme")); err != nil {
		t.Fatal(err)
	}

	p.Close()
	p.Close() // idempotent

	if p.Size() != 0 {
		t.Error("Close must drop all entries")
	}
	if _, err := p.Acquire(context.Background(), tenant("acme")); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}
}
