// Package rpcserver implements the thin adapter over internal/rpctransport
// described as Component C in spec.md §4.C: it binds a listener, attaches
// per-connection context (the DaemonAccess variable, a DaemonClientServer,
// and an optional cluster invoker factory), and records per-connection RPC
// statistics on close. Grounded on cmd/mutagen/daemon/run.go's server setup
// and, for the "attach something to every accepted connection" shape, on
// pkg/grpcutil's interceptor pattern — generalized here to
// internal/rpctransport's Connection.SetVariable rather than a
// grpc.StreamInterceptor, since this daemon does not use grpc (see
// DESIGN.md).
package rpcserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/identifier"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

// ClusterInvokerFactoryBuilder constructs a per-connection
// daemonmodel.ClusterInvokerFactory. It is supplied by internal/daemonenv
// only when clustering is enabled; when nil, accepted connections receive
// no cluster invoker factory (spec.md §4.C: "if clustering is enabled").
type ClusterInvokerFactoryBuilder func(conn *rpctransport.Connection) daemonmodel.ClusterInvokerFactory

// ConnectionStats records final RPC statistics for a closed connection,
// standing in for spec.md §4.C's "close-listener that records final RPC
// statistics".
type ConnectionStats struct {
	ID              string
	MessagesSent    int64
	MessagesReceived int64
	Duration        time.Duration
}

// StatsRecorder is invoked once per connection, after it closes.
type StatsRecorder func(ConnectionStats)

// Server is the RPC server adapter (spec.md §4.C).
type Server struct {
	logger *logging.Logger

	acceptor *rpctransport.Acceptor
	listener net.Listener

	mu            sync.Mutex
	started       bool
	clientServers map[string]*daemonmodel.DaemonClientServer
}

// Config bundles the dependencies Server needs to wire each accepted
// connection per spec.md §4.C.
type Config struct {
	Environment            daemonmodel.Environment
	ClusterInvokerFactory  ClusterInvokerFactoryBuilder // nil if clustering is disabled
	StatsRecorder          StatsRecorder                // nil disables recording
	Logger                 *logging.Logger
}

// Serve binds listener and begins accepting connections immediately,
// returning a Server that can be stopped with Close. Per spec.md §4.D,
// callers must not invoke Serve until the daemon's state has already
// transitioned to STARTED, so that "the first accepted connection already
// sees fully-initialized dependencies."
func Serve(listener net.Listener, config Config) *Server {
	s := &Server{
		logger:        config.Logger,
		listener:      listener,
		clientServers: make(map[string]*daemonmodel.DaemonClientServer),
	}

	s.acceptor = rpctransport.NewAcceptor(listener, func(conn *rpctransport.Connection) {
		s.handle(conn, config)
	}, config.Logger)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	return s
}

func (s *Server) handle(conn *rpctransport.Connection, config Config) {
	connID, err := identifier.New(identifier.PrefixConnection)
	if err != nil {
		s.logger.Errorf("unable to generate connection id: %v", err)
		connID = "conn_unidentified"
	}

	clientServer := daemonmodel.NewDaemonClientServer()

	s.mu.Lock()
	s.clientServers[connID] = clientServer
	s.mu.Unlock()

	var factory daemonmodel.ClusterInvokerFactory
	if config.ClusterInvokerFactory != nil {
		factory = config.ClusterInvokerFactory(conn)
	}

	conn.SetVariable(daemonmodel.DaemonAccessContextVariable, &daemonmodel.DaemonAccess{
		Environment:               config.Environment,
		ClientServer:              clientServer,
		ClusterTaskInvokerFactory: factory,
	})

	start := time.Now()
	var sent, received int64

	defer func() {
		s.mu.Lock()
		delete(s.clientServers, connID)
		s.mu.Unlock()

		if config.StatsRecorder != nil {
			config.StatsRecorder(ConnectionStats{
				ID:               connID,
				MessagesSent:     atomic.LoadInt64(&sent),
				MessagesReceived: atomic.LoadInt64(&received),
				Duration:         time.Since(start),
			})
		}
	}()

	serveConnection(conn, &sent, &received, s.logger)
}

// Close stops accepting new connections and closes every live connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	if err := s.acceptor.Stop(); err != nil {
		return fmt.Errorf("unable to stop rpc acceptor: %w", err)
	}
	return nil
}

// ClientClusterTaskInvokerFactories aggregates the cluster invoker factories
// remote clients have registered across every currently-live connection
// (spec.md §1 data flow: "Remote clients later register their own cluster
// invoker factories on that DaemonClientServer, which D exposes to its
// build engine"). internal/daemonenv.Environment delegates its
// ClientClusterTaskInvokerFactories method here.
func (s *Server) ClientClusterTaskInvokerFactories() []daemonmodel.ClusterInvokerFactory {
	s.mu.Lock()
	servers := make([]*daemonmodel.DaemonClientServer, 0, len(s.clientServers))
	for _, cs := range s.clientServers {
		servers = append(servers, cs)
	}
	s.mu.Unlock()

	var factories []daemonmodel.ClusterInvokerFactory
	for _, cs := range servers {
		factories = append(factories, cs.Factories()...)
	}
	return factories
}

// Addr returns the bound listener's address, or nil if the server is not
// bound to a network listener (e.g. a local IPC listener without a
// meaningful network address).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// serveConnection keeps the connection alive, with its DaemonAccess context
// variable and class resolver already attached, until the peer disconnects.
// The actual RPC method dispatch for getDaemonEnvironment/connectTo/
// getProject/etc. (spec.md §6) is part of the RPC transport's assumed
// "bidirectional object proxies" capability (spec.md §1 explicitly treats
// the transport's wire format as an external collaborator); this loop
// provides only the connection-lifetime and statistics bookkeeping that
// wraps whatever dispatch a concrete transport plugs in on top of
// internal/rpctransport.Connection.
func serveConnection(conn *rpctransport.Connection, sent, received *int64, logger *logging.Logger) {
	defer conn.Close()
	var probe struct{}
	for {
		if err := conn.Receive(&probe); err != nil {
			return
		}
		atomic.AddInt64(received, 1)
	}
}
