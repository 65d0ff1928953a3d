package rpctransport

import (
	"fmt"
	"net"
	"sync"

	"github.com/sakerbuild/daemon/internal/logging"
)

// Handler processes a single accepted Connection until it is closed or
// errors. Implementations are expected to loop, calling Receive and Send (or
// SendError) as their protocol dictates, and to return when the peer closes
// the stream (Receive returning io.EOF is not itself an error worth logging).
type Handler func(conn *Connection)

// Acceptor serves Handler over connections accepted from a net.Listener. It
// generalizes the teacher's original rpc/acceptor.go, which served a single
// fixed service; here the handler is supplied by the caller so that the same
// acceptor machinery serves both per-client daemon sessions and
// inter-cluster reconnection links.
type Acceptor struct {
	listener net.Listener
	handler  Handler
	logger   *logging.Logger

	mu          sync.Mutex
	connections map[*Connection]struct{}
	closed      bool

	wg sync.WaitGroup
}

// NewAcceptor starts accepting connections from listener in a background
// goroutine, dispatching each to a new goroutine running handler. Accept
// errors (other than those caused by Stop closing the listener) are logged
// and terminate the accept loop.
func NewAcceptor(listener net.Listener, handler Handler, logger *logging.Logger) *Acceptor {
	a := &Acceptor{
		listener:    listener,
		handler:     handler,
		logger:      logger,
		connections: make(map[*Connection]struct{}),
	}
	a.wg.Add(1)
	go a.acceptLoop()
	return a
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	for {
		raw, err := a.listener.Accept()
		if err != nil {
			a.mu.Lock()
			stopped := a.closed
			a.mu.Unlock()
			if !stopped {
				a.logger.Warnf("rpc acceptor: accept failed: %v", err)
			}
			return
		}

		conn := newConnection(raw)

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.connections[conn] = struct{}{}
		a.mu.Unlock()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer func() {
				a.mu.Lock()
				delete(a.connections, conn)
				a.mu.Unlock()
				conn.Close()
			}()
			a.handler(conn)
		}()
	}
}

// Stop closes the listener and every currently-open connection, then waits
// for the accept loop and all in-flight handlers to return.
func (a *Acceptor) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.wg.Wait()
		return nil
	}
	a.closed = true
	connections := make([]*Connection, 0, len(a.connections))
	for c := range a.connections {
		connections = append(connections, c)
	}
	a.mu.Unlock()

	err := a.listener.Close()
	for _, c := range connections {
		c.Close()
	}
	a.wg.Wait()
	if err != nil {
		return fmt.Errorf("unable to close listener: %w", err)
	}
	return nil
}
