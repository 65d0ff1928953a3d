// Package remoteconn implements the daemon's outbound-connection side of
// spec.md §4.B's resource cache: RemoteConnectionCacheKey and the
// close-protected handle wrapper callers actually receive. Grounded on the
// same rescache.Entry contract as internal/cluster.ProjectCacheKey, with the
// "close-protected decorator" idea taken from the teacher's own
// pkg/ipc-style wrapped-connection handles.
package remoteconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

// remoteConnectionExpiry is spec.md §4.B's "expiry = 5 minutes" for
// RemoteConnectionCacheKey entries.
const remoteConnectionExpiry = 5 * time.Minute

// DialerFactory identifies a socket factory by pointer identity: spec.md
// §4.B requires RemoteConnectionCacheKey equality to use "address equality
// and identity of the socket factory (two distinct factories producing
// equivalent sockets are intentionally separate cache entries)". Go has no
// first-class comparable function value, so identity is carried by
// comparing *DialerFactory pointers rather than the Dial field itself.
type DialerFactory struct {
	Dial rpctransport.Dialer
}

// Connection is the real, shared RemoteDaemonConnection resource held by the
// cache (spec.md §3). Close tears down the underlying transport connection;
// callers normally never see this directly, only the close-protected handle
// Generate wraps it in.
type Connection struct {
	conn *rpctransport.Connection

	mu        sync.Mutex
	connected bool
}

func newConnection(conn *rpctransport.Connection) *Connection {
	return &Connection{conn: conn, connected: true}
}

// IsConnected reports whether the underlying transport connection is still
// believed open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close closes the underlying transport connection. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.conn.Close()
}

// closeProtectedHandle is spec.md §3's CloseProtectedRemoteDaemonConnection:
// "decorator over RemoteDaemonConnection whose close() is a no-op; given out
// to callers so the shared cached connection is not torn down by them."
type closeProtectedHandle struct {
	*Connection
}

func (closeProtectedHandle) Close() error { return nil }

var _ daemonmodel.RemoteConnectionHandle = closeProtectedHandle{}

// CacheKey is spec.md §4.B's RemoteConnectionCacheKey(socket-factory-identity,
// address).
type CacheKey struct {
	Address string
	Factory *DialerFactory
	logger  *logging.Logger
}

// NewCacheKey constructs a CacheKey. logger may be nil.
func NewCacheKey(address string, factory *DialerFactory, logger *logging.Logger) CacheKey {
	return CacheKey{Address: address, Factory: factory, logger: logger}
}

func (k CacheKey) Allocate(ctx context.Context) (*Connection, error) {
	if k.Factory == nil || k.Factory.Dial == nil {
		return nil, fmt.Errorf("no dialer configured for %s", k.Address)
	}
	conn, err := rpctransport.Open(ctx, k.Factory.Dial)
	if err != nil {
		return nil, &daemonmodel.ConnectError{Address: k.Address, Err: err}
	}
	return newConnection(conn), nil
}

func (k CacheKey) Generate(resource *Connection) daemonmodel.RemoteConnectionHandle {
	return closeProtectedHandle{resource}
}

func (k CacheKey) Validate(resource *Connection) bool {
	return resource.IsConnected()
}

func (k CacheKey) Expiry() time.Duration {
	return remoteConnectionExpiry
}

func (k CacheKey) Close(resource *Connection) {
	if err := resource.Close(); err != nil && k.logger != nil {
		k.logger.Warnf("error closing evicted remote connection to %s: %v", k.Address, err)
	}
}
