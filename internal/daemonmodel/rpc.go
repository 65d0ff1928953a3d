package daemonmodel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DaemonAccessContextVariable is the name under which a DaemonAccess value
// is attached to every accepted RPC connection (spec.md §6: context
// variable "saker.daemon.access").
const DaemonAccessContextVariable = "saker.daemon.access"

// ExecutionClassResolverPrefix prefixes the per-working-directory class
// resolver registration id a ClusterInvokerFactory installs on a
// connection (spec.md §4.F.3: "execclasses:" + fileProviderUUID + ":" +
// workingDirPath).
const ExecutionClassResolverPrefix = "execclasses:"

// ExecutionContext identifies the remote build execution a cluster task
// invoker is being created for. The build engine itself is out of scope
// (spec.md §1), so this carries only the identity fields this daemon's
// components need to route and key caches.
type ExecutionContext struct {
	FileProviderUUID uuid.UUID
	WorkingDirectory string
	CoordinatorKey   string
}

// PathKey is a stable identity string for a working directory on a given
// file provider, used as the input to the mirror-directory digest (spec.md
// §4.F.2). Project cache entries are keyed by WorkingDirectory alone; the
// file provider is not part of that key.
func (c ExecutionContext) PathKey() string {
	return c.FileProviderUUID.String() + "/" + c.WorkingDirectory
}

// TaskInvoker is returned by a ClusterInvokerFactory; Run executes the
// bracketed cluster-task lifecycle described in spec.md §4.F.3.
type TaskInvoker interface {
	Run(ctx context.Context) error
}

// ClusterInvokerFactory answers a coordinator's createTaskInvoker request
// (spec.md §4.F). Implemented by internal/cluster.InvokerFactory.
type ClusterInvokerFactory interface {
	CreateTaskInvoker(ctx context.Context, execCtx ExecutionContext) (TaskInvoker, error)
	EnvironmentIdentifier() uuid.UUID
}

// ProjectHandle is the RPC-visible surface of a SakerProjectCache entry
// (spec.md §6: getProject supports clean/reset/close).
type ProjectHandle interface {
	WorkingDirectory() string
	Clean(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

// RemoteConnectionHandle is the RPC-visible surface of a
// RemoteDaemonConnection (spec.md §3).
type RemoteConnectionHandle interface {
	IsConnected() bool
	Close() error
}

// ExecutionInvoker is an opaque handle to the build execution invoker bound
// to the local environment (spec.md §6: getExecutionInvoker()). The build
// engine itself is out of scope, so this is left as a marker interface any
// buildenv.Environment can satisfy trivially.
type ExecutionInvoker interface {
	EnvironmentIdentifier() uuid.UUID
}

// DaemonAccess is published as the DaemonAccessContextVariable on every
// accepted connection (spec.md §6).
type DaemonAccess struct {
	Environment           Environment
	ClientServer           *DaemonClientServer
	ClusterTaskInvokerFactory ClusterInvokerFactory // nil if clustering is disabled
}

// Environment is the subset of internal/daemonenv.Environment's behavior
// exposed over the daemon's RPC surface (spec.md §6). Kept as an interface
// here, rather than importing internal/daemonenv directly, so that
// internal/rpcserver and internal/daemonmodel never need to import the
// orchestrator package that in turn depends on them.
type Environment interface {
	LaunchParameters() LaunchParameters
	RuntimeLaunchConfiguration() (RuntimeLaunchConfiguration, bool)
	EnvironmentIdentifier() uuid.UUID
	ConnectTo(ctx context.Context, address string) (RemoteConnectionHandle, error)
	GetProject(ctx context.Context, workingDir string) (ProjectHandle, error)
	ClientClusterTaskInvokerFactories() []ClusterInvokerFactory
	ExecutionInvoker() ExecutionInvoker
}

// DaemonClientServer is the per-connection registry a remote client
// registers its own cluster invoker factories against (spec.md §6:
// DaemonClientServer RPC surface). Registration lifetime is bounded by the
// connection's lifetime; spec.md §9 replaces the source's weak-reference
// GC-driven cleanup with explicit deregistration on connection close. See
// client_server.go for its methods.
type DaemonClientServer struct {
	mu      sync.Mutex
	entries map[string]ClusterInvokerFactory
}

// NewDaemonClientServer creates an empty per-connection registry.
func NewDaemonClientServer() *DaemonClientServer {
	return &DaemonClientServer{entries: make(map[string]ClusterInvokerFactory)}
}
