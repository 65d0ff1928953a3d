package cluster

import "github.com/google/uuid"

// registerMessage is the first message a worker sends after dialing a
// coordinator, corresponding to spec.md §4.E.5's
// "addClientClusterTaskInvokerFactory(factory)" call on the remote side.
// The "factory" itself never crosses the wire — only the identity needed
// for the coordinator to recognize this worker (spec.md §4.F: "The factory
// also exposes the local environment identifier ... to let coordinators
// recognize repeat workers") and a human-readable description for logs.
type registerMessage struct {
	EnvironmentID uuid.UUID
	Description   string
}

// registerAckMessage acknowledges registration and assigns a registration
// id the coordinator will use if it ever needs to address this worker by
// name (not currently exercised, but mirrors the
// DaemonClientServer.AddClientClusterTaskInvokerFactory registration id
// scheme in internal/daemonmodel).
type registerAckMessage struct {
	RegistrationID string
}

// createTaskInvokerRequest is sent by the coordinator to a registered
// worker asking it to run one task invocation (spec.md §4.F: the
// coordinator's createTaskInvoker(executionContext, invokerInfo) request).
type createTaskInvokerRequest struct {
	FileProviderUUID uuid.UUID
	WorkingDirectory string
	CoordinatorKey   string
}

// createTaskInvokerReply reports the outcome of running the invoker.
type createTaskInvokerReply struct {
	Error string // empty on success
}
