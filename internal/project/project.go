// Package project provides a stand-in for the build engine's
// SakerProjectCache (spec.md §3): a per-working-directory cache of loaded
// repositories, script providers, mirror handler, and content database. As
// with internal/buildenv, the actual repository/script/content-database
// machinery is out of scope (spec.md §1); this models the lifecycle surface
// internal/daemonenv and internal/cluster actually drive: construction keyed
// by working directory, the clusterStarting/clusterFinished bracket calls
// (spec.md §4.F.3), and clean/reset/close.
package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakerbuild/daemon/internal/logging"
)

// ClusterStartParameters bundles the arguments spec.md §4.F.3.b passes to
// clusterStarting: remote path configuration, repository configuration,
// script configuration, user parameters, mirror directory, coordinator
// provider key, database configuration, and execution context. The first
// several are build-engine concerns out of scope for this daemon, so they
// are carried as opaque strings/maps rather than modeled in full.
type ClusterStartParameters struct {
	CoordinatorProviderKey string
	MirrorDirectory        string
	UserParameters         map[string]string
}

// Cache is a per-working-directory project cache entry.
type Cache struct {
	logger *logging.Logger

	workingDirectory string

	mu      sync.Mutex
	closed  bool
	running map[string]struct{} // execution keys with an open clusterStarting/clusterFinished bracket
}

// New constructs a project cache for workingDirectory. Construction itself
// never fails in this stand-in; a real implementation's repository/database
// loading can fail, in which case internal/daemonenv.getProject would wrap
// that as a LockIOError-equivalent before it ever reaches the cache.
func New(workingDirectory string, logger *logging.Logger) *Cache {
	return &Cache{
		logger:           logger,
		workingDirectory: workingDirectory,
		running:          make(map[string]struct{}),
	}
}

// WorkingDirectory returns the path this cache entry is keyed by.
func (c *Cache) WorkingDirectory() string {
	return c.workingDirectory
}

// ClusterStarting begins a bracketed cluster execution identified by
// execKey (spec.md §4.F.3.b). Overlapping executions with distinct
// execution keys are expected and supported (spec.md §5: "Project caches
// ... invariants require the project to tolerate overlapping clusterStarting
// / clusterFinished bracket calls with distinct execution keys").
func (c *Cache) ClusterStarting(ctx context.Context, execKey string, params ClusterStartParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("project cache for %s is closed", c.workingDirectory)
	}
	if _, ok := c.running[execKey]; ok {
		return fmt.Errorf("execution key %q is already bracketed", execKey)
	}
	c.running[execKey] = struct{}{}
	c.logger.Debugf("cluster execution %s starting for %s", execKey, c.workingDirectory)
	return nil
}

// ClusterFinished ends the bracket started by ClusterStarting. It must run
// on every exit path, including cancellation and error, per spec.md §4.F.3.e.
func (c *Cache) ClusterFinished(execKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, execKey)
	c.logger.Debugf("cluster execution %s finished for %s", execKey, c.workingDirectory)
}

// Clean removes cached build products for this working directory (spec.md
// §6: getProject(...) supports clean).
func (c *Cache) Clean(ctx context.Context) error {
	return nil
}

// Reset discards and reloads cached repository/script/database state
// (spec.md §6: getProject(...) supports reset).
func (c *Cache) Reset(ctx context.Context) error {
	return nil
}

// Close tears down the cache entry. It is called by the resource cache's
// eviction path (internal/rescache), never implicitly. isClosed() governs
// the ProjectCacheKey's validate step (spec.md §4.B).
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Cache) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
