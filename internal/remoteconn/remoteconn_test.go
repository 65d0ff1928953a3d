package remoteconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rescache"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

func startEchoAcceptor(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	acceptor := rpctransport.NewAcceptor(listener, func(conn *rpctransport.Connection) {
		var probe struct{}
		for conn.Receive(&probe) == nil {
		}
	}, logging.NewLogger(nil, logging.LevelDisabled))
	t.Cleanup(func() { acceptor.Stop() })
	return listener
}

func TestCacheKeyAllocateAndCloseProtection(t *testing.T) {
	listener := startEchoAcceptor(t)
	logger := logging.NewLogger(nil, logging.LevelDisabled)
	cache := rescache.New[*Connection, daemonmodel.RemoteConnectionHandle, CacheKey](logger, time.Minute)
	defer cache.Close()

	factory := &DialerFactory{Dial: rpctransport.DialTCP(listener.Addr().String())}
	key := NewCacheKey(listener.Addr().String(), factory, logger)

	handle, err := cache.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}

	// Closing the close-protected handle must not tear down the shared
	// connection (spec.md §3: CloseProtectedRemoteDaemonConnection.close()
	// is a no-op).
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}

	handle2, err := cache.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if !handle2.IsConnected() {
		t.Fatal("expected underlying connection to still be connected after a protected close")
	}
}

func TestCacheKeyDistinctFactoryIdentityProducesDistinctEntries(t *testing.T) {
	listener := startEchoAcceptor(t)
	logger := logging.NewLogger(nil, logging.LevelDisabled)

	factoryA := &DialerFactory{Dial: rpctransport.DialTCP(listener.Addr().String())}
	factoryB := &DialerFactory{Dial: rpctransport.DialTCP(listener.Addr().String())}

	keyA := NewCacheKey(listener.Addr().String(), factoryA, logger)
	keyB := NewCacheKey(listener.Addr().String(), factoryB, logger)

	if keyA == keyB {
		t.Fatal("expected distinct socket factory identities to produce distinct keys")
	}
}
