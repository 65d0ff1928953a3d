package rescache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sakerbuild/daemon/internal/logging"
)

type fakeResource struct {
	id     int
	closed int32
}

type fakeKey struct {
	name    string
	expiry  time.Duration
	alloc   *int32
	invalid *int32
}

func (k fakeKey) Allocate(ctx context.Context) (*fakeResource, error) {
	atomic.AddInt32(k.alloc, 1)
	return &fakeResource{id: int(atomic.LoadInt32(k.alloc))}, nil
}

func (k fakeKey) Generate(r *fakeResource) *fakeResource { return r }

func (k fakeKey) Validate(r *fakeResource) bool {
	return atomic.LoadInt32(&r.closed) == 0 && (k.invalid == nil || atomic.LoadInt32(k.invalid) == 0)
}

func (k fakeKey) Expiry() time.Duration { return k.expiry }

func (k fakeKey) Close(r *fakeResource) { atomic.AddInt32(&r.closed, 1) }

func TestCacheAllocatesOnceAndReusesHandle(t *testing.T) {
	var allocs int32
	c := New[*fakeResource, *fakeResource, fakeKey](logging.NewLogger(nil, logging.LevelDisabled), time.Hour)
	defer c.Close()

	key := fakeKey{name: "a", expiry: time.Hour, alloc: &allocs}

	h1, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same underlying resource to be reused")
	}
	if allocs != 1 {
		t.Fatalf("expected exactly one allocation, got %d", allocs)
	}
}

func TestCacheInvalidateForcesReallocation(t *testing.T) {
	var allocs int32
	var invalid int32
	c := New[*fakeResource, *fakeResource, fakeKey](logging.NewLogger(nil, logging.LevelDisabled), time.Hour)
	defer c.Close()

	key := fakeKey{name: "a", expiry: time.Hour, alloc: &allocs, invalid: &invalid}

	first, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	atomic.StoreInt32(&invalid, 1)
	second, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatalf("expected a fresh resource after invalidation")
	}
	if atomic.LoadInt32(&first.closed) == 0 {
		t.Fatalf("expected stale resource to have been closed")
	}
	if allocs != 2 {
		t.Fatalf("expected two allocations, got %d", allocs)
	}
}

func TestCacheEvictsExpiredEntries(t *testing.T) {
	var allocs int32
	c := New[*fakeResource, *fakeResource, fakeKey](logging.NewLogger(nil, logging.LevelDisabled), 10*time.Millisecond)
	defer c.Close()

	key := fakeKey{name: "a", expiry: 20 * time.Millisecond, alloc: &allocs}

	handle, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&handle.closed) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for expired entry to be closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCacheCloseClosesEveryEntryExactlyOnce(t *testing.T) {
	var allocs int32
	c := New[*fakeResource, *fakeResource, fakeKey](logging.NewLogger(nil, logging.LevelDisabled), time.Hour)

	var handles []*fakeResource
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fakeKey{name: string(rune('a' + i)), expiry: time.Hour, alloc: &allocs}
			h, err := c.Get(context.Background(), key)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	c.Close()
	c.Close() // idempotent

	for _, h := range handles {
		if atomic.LoadInt32(&h.closed) != 1 {
			t.Fatalf("expected resource to be closed exactly once, got count %d", h.closed)
		}
	}
}
