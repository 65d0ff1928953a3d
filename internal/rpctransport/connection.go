package rpctransport

import (
	"fmt"
	"net"
	"sync"
)

// Connection pairs a Stream with a set of named context variables and a
// ClassResolver, scoped to a single underlying net.Conn. It is the unit that
// callers register per-connection state against (e.g. the daemon attaches
// an access-control context variable to every accepted connection so that
// handlers can recover which client made a given call without a global).
type Connection struct {
	*Stream

	resolver *ClassResolver

	mu   sync.RWMutex
	vars map[string]interface{}
}

// newConnection wraps conn, giving it its own resolver and variable table.
func newConnection(conn net.Conn) *Connection {
	return &Connection{
		Stream:   NewStream(conn),
		resolver: NewClassResolver(),
		vars:     make(map[string]interface{}),
	}
}

// Resolver returns this connection's class resolver.
func (c *Connection) Resolver() *ClassResolver {
	return c.resolver
}

// SetVariable attaches a named value to the connection. It is typically
// called once, immediately after the connection is established, to record
// information about the peer (e.g. its authenticated identity).
func (c *Connection) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Variable retrieves a previously-set context variable.
func (c *Connection) Variable(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// MustVariable retrieves a previously-set context variable, panicking if it
// is absent. It is intended for handler code where the variable's presence
// is an established invariant of the connection's setup path (for example,
// the daemon always sets its access-control variable before dispatching any
// handler), so a missing value indicates a programming error rather than a
// recoverable condition.
func (c *Connection) MustVariable(name string) interface{} {
	v, ok := c.Variable(name)
	if !ok {
		panic(fmt.Sprintf("rpctransport: required context variable %q not set", name))
	}
	return v
}
