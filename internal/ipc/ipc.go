// Package ipc implements the daemon's local, loopback-only IPC transport:
// Unix domain sockets on POSIX, named pipes on Windows. It is grounded
// directly on the teacher's own pkg/ipc package, which provides exactly
// this abstraction for mutagen's own daemon socket.
//
// This is distinct from the TCP listener the RPC server binds when
// ActsAsServer is requested (spec.md §4.C: "all interfaces if
// acts-as-server, else loopback"); internal/ipc carries the local control
// channel between the sakerdaemon CLI and a running daemon (stop, status),
// whether or not that daemon also serves an RPC port.
package ipc

import (
	"time"
)

// RecommendedDialTimeout is the recommended timeout to use when establishing
// IPC connections.
const RecommendedDialTimeout = 1 * time.Second
