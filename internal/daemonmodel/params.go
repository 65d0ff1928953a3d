// Package daemonmodel holds the small set of types shared across the
// daemon's components (config, RPC surface, cluster, orchestrator) so that
// none of those packages needs to import one another directly. Grounded on
// the teacher's own `pkg/daemon` + `pkg/synchronization` split, where a
// shared `pkg/url`/`pkg/synchronization/core`-style leaf package plays the
// same role of breaking what would otherwise be import cycles.
package daemonmodel

import "github.com/google/uuid"

// DefaultPort is used when a caller requests the RPC server bind to "the
// default port" rather than an explicit one (spec.md §4.C: a negative or
// sentinel port value means "pick default").
const DefaultPort = 42327

// NoPort is the sentinel meaning "no RPC server at all" (absent port
// configuration).
const NoPort = 0

// UserParameters is an insertion-order-preserving string-to-string mapping,
// since spec.md §3 requires the daemon's user parameters to retain the
// order in which they were specified (e.g. for deterministic logging and
// for forwarding to `project.clusterStarting`). gopkg.in/yaml.v2's
// yaml.MapSlice is the on-disk representation this is decoded from/to; this
// type is the in-memory shape components actually operate on.
type UserParameters []UserParameter

// UserParameter is a single ordered key/value pair.
type UserParameter struct {
	Key   string
	Value string
}

// Get returns the value for key and whether it was present.
func (p UserParameters) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// LaunchParameters is the immutable configuration bundle a daemon is
// started with (spec.md §3's DaemonLaunchParameters). Equality is
// structural, which Go gives for free on a comparable struct; UserParameters
// is a slice so LaunchParameters itself is compared field-by-field by
// callers that need it (e.g. tests), not with ==.
type LaunchParameters struct {
	// StorageDirectory is where the daemon keeps its lock file and any
	// scratch state.
	StorageDirectory string
	// Port is the requested RPC server port. NoPort means "no RPC server";
	// a negative value or DefaultPort means "pick the default port".
	Port int
	// ThreadFactor scales the size of internal worker pools; 0 means "let
	// the implementation choose based on GOMAXPROCS".
	ThreadFactor int
	// ActsAsServer, if true, binds the RPC listener to all interfaces
	// rather than loopback only.
	ActsAsServer bool
	// ActsAsCluster enables the cluster-client worker pool and per-connection
	// ClusterInvokerFactory construction.
	ActsAsCluster bool
	// ClusterMirrorDirectory is the base directory under which
	// per-working-directory mirror subdirectories are created. Empty means
	// "no mirroring configured".
	ClusterMirrorDirectory string
	// ConnectToAsClusterAddresses are coordinator addresses this daemon
	// dials out to as a cluster worker. Must be empty unless ActsAsCluster.
	ConnectToAsClusterAddresses []string
	// UserParameters are arbitrary ordered build parameters forwarded to the
	// build environment and to cluster project registration.
	UserParameters UserParameters
}

// Validate checks the cross-field invariant from spec.md §3:
// "connectToAsClusterAddresses may only be set when acts-as-cluster is true".
func (p LaunchParameters) Validate() error {
	if len(p.ConnectToAsClusterAddresses) > 0 && !p.ActsAsCluster {
		return &ConfigurationError{Reason: "connectToAsClusterAddresses was set but actsAsCluster is false"}
	}
	return nil
}

// RuntimeLaunchConfiguration is the effective, post-start configuration:
// normalized storage path, actual thread factor, and actual bound port (if
// any). It differs from LaunchParameters once defaults have been resolved
// (spec.md §4.D step 3/4: "finalize the effective launch parameters").
type RuntimeLaunchConfiguration struct {
	StorageDirectory string
	ThreadFactor     int
	Port             int // 0 if no server is running
	EnvironmentID    uuid.UUID
}
