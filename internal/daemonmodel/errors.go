package daemonmodel

import "fmt"

// ConfigurationError reports an invalid combination of launch parameters or
// an invalid operation against the daemon's current lifecycle state (e.g.
// starting twice, closing from UNSTARTED).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ErrSlotExhausted is returned when all slotlock.SlotCount slots in the
// daemon lock file are held by other live daemons.
var ErrSlotExhausted = fmt.Errorf("no free daemon slot available")

// LockIOError wraps a filesystem error encountered while manipulating the
// daemon lock file or its storage directory.
type LockIOError struct {
	Op  string
	Err error
}

func (e *LockIOError) Error() string {
	return fmt.Sprintf("lock file I/O error during %s: %v", e.Op, e.Err)
}

func (e *LockIOError) Unwrap() error { return e.Err }

// StartupError wraps a failure constructing the build environment or
// binding the RPC server. The slot lock has already been released by the
// time this is returned, so observers see the slot as free immediately.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("daemon startup failed (%s): %v", e.Reason, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ConnectError wraps an outbound dial failure. Inside the cluster
// reconnector loop these drive backoff without propagating; from
// Environment.ConnectTo they are surfaced to the caller.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ClusterStartError wraps a failure from a project's clusterStarting
// bracket call; it is propagated to the coordinator as an I/O-flavored
// error with the original cause attached.
type ClusterStartError struct {
	WorkingDirectory string
	Err              error
}

func (e *ClusterStartError) Error() string {
	return fmt.Sprintf("cluster start failed for %s: %v", e.WorkingDirectory, e.Err)
}

func (e *ClusterStartError) Unwrap() error { return e.Err }
