// Package rescache implements a generic, time-bounded resource cache used to
// memoize expensive handles such as outbound daemon connections and project
// caches. It generalizes the teacher's periodic-sweep idiom
// (github.com/mutagen-io/mutagen's pkg/housekeeping: a ticker driving a
// cleanup pass) from "run one fixed function on an interval" to "evict each
// cache entry independently once its own linger has elapsed", and borrows the
// mutex-guarded-map-plus-explicit-notification discipline from that
// repository's pkg/state package.
package rescache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sakerbuild/daemon/internal/logging"
)

// Entry is the contract a cache key type must satisfy. K is the resource
// produced by Allocate and consumed by Validate/Close; H is the handle
// handed out to callers (often a close-protected wrapper over K).
type Entry[K any, H any] interface {
	comparable

	// Allocate creates the underlying resource. It is called once per cache
	// miss.
	Allocate(ctx context.Context) (K, error)
	// Generate wraps an allocated resource into the handle returned to
	// callers. It may be called more than once for the same resource (once
	// per Get call that hits the cache).
	Generate(resource K) H
	// Validate is consulted whenever Get finds a cached resource; a freshly
	// allocated resource is returned without it. A false return closes the
	// entry, and the same Get allocates a replacement.
	Validate(resource K) bool
	// Expiry is how long an entry may sit idle (unaccessed) before it is
	// evicted.
	Expiry() time.Duration
	// Close tears down the resource. It is called at most once per
	// allocation: from Get (for a resource that failed validation or a
	// redundant allocation that lost a race), from the eviction sweep, or
	// from Cache.Close.
	Close(resource K)
}

type entryState[K any] struct {
	resource   K
	lastAccess time.Time
}

// Cache maps keys to lazily-allocated, validated, time-limited resources. It
// is safe for concurrent use.
type Cache[K any, H any, E Entry[K, H]] struct {
	logger *logging.Logger

	mu      sync.Mutex
	entries map[E]*entryState[K]
	closed  bool

	sweepInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
}

// New creates a cache and starts its background eviction sweep, which runs
// at sweepInterval (typically much shorter than any individual entry's
// expiry) until Close is called.
func New[K any, H any, E Entry[K, H]](logger *logging.Logger, sweepInterval time.Duration) *Cache[K, H, E] {
	c := &Cache[K, H, E]{
		logger:        logger,
		entries:       make(map[E]*entryState[K]),
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the handle for key, allocating the underlying resource if
// necessary. Validate is consulted before returning a cached resource; a
// failing validation closes the stale resource and triggers reallocation.
func (c *Cache[K, H, E]) Get(ctx context.Context, key E) (H, error) {
	var zero H

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, fmt.Errorf("cache is closed")
	}
	if state, ok := c.entries[key]; ok {
		if key.Validate(state.resource) {
			state.lastAccess = time.Now()
			handle := key.Generate(state.resource)
			c.mu.Unlock()
			return handle, nil
		}
		delete(c.entries, key)
		c.mu.Unlock()
		key.Close(state.resource)
	} else {
		c.mu.Unlock()
	}

	resource, err := key.Allocate(ctx)
	if err != nil {
		return zero, fmt.Errorf("unable to allocate cached resource: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		key.Close(resource)
		return zero, fmt.Errorf("cache is closed")
	}
	var stale *entryState[K]
	if state, ok := c.entries[key]; ok {
		// Lost an allocation race against a concurrent Get for the same key;
		// discard our redundant allocation and use the winner's.
		if key.Validate(state.resource) {
			state.lastAccess = time.Now()
			handle := key.Generate(state.resource)
			c.mu.Unlock()
			key.Close(resource)
			return handle, nil
		}
		stale = state
	}
	c.entries[key] = &entryState[K]{resource: resource, lastAccess: time.Now()}
	handle := key.Generate(resource)
	c.mu.Unlock()

	if stale != nil {
		key.Close(stale.resource)
	}

	return handle, nil
}

// sweepLoop periodically closes entries that have been idle longer than
// their own Expiry.
func (c *Cache[K, H, E]) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[K, H, E]) sweep() {
	now := time.Now()
	var expired []struct {
		key      E
		resource K
	}

	c.mu.Lock()
	for key, state := range c.entries {
		if now.Sub(state.lastAccess) >= key.Expiry() {
			expired = append(expired, struct {
				key      E
				resource K
			}{key, state.resource})
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.logger.Debug("evicting expired cache entry")
		e.key.Close(e.resource)
	}
}

// Close stops the eviction sweep and closes every remaining cached resource
// exactly once. It is idempotent.
func (c *Cache[K, H, E]) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[E]*entryState[K])
	c.mu.Unlock()

	for key, state := range entries {
		key.Close(state.resource)
	}
}
