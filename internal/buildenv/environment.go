// Package buildenv provides a stand-in for the build engine's
// SakerEnvironment handle (spec.md §3). The engine itself — compilation,
// task graph execution, file mirroring, content databases — is explicitly
// out of scope (spec.md §1); this package only models the identity and
// lifecycle surface the daemon's orchestrator (internal/daemonenv) actually
// touches: a stable environment identifier and a close path.
package buildenv

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
)

// Parameters configures a new Environment. ThreadFactor and UserParameters
// mirror the corresponding daemonmodel.LaunchParameters fields; they are
// passed through rather than the whole LaunchParameters value so this
// package does not need to know about storage directories or ports.
type Parameters struct {
	ThreadFactor   int
	UserParameters daemonmodel.UserParameters
}

// Environment is the daemon's handle to the (externally-provided) build
// engine instance. It owns a stable identifier for its lifetime, as
// required by spec.md §3.
type Environment struct {
	logger *logging.Logger

	identifier uuid.UUID
	params     Parameters

	mu     sync.Mutex
	closed bool
}

// New constructs an Environment. Construction itself never fails in this
// stand-in (a real build engine's constructor can; internal/daemonenv
// treats any such failure as a StartupError).
func New(params Parameters, logger *logging.Logger) *Environment {
	return &Environment{
		logger:     logger,
		identifier: uuid.New(),
		params:     params,
	}
}

// EnvironmentIdentifier returns the stable UUID identifying this build
// environment instance (spec.md §6: getEnvironmentIdentifier()).
func (e *Environment) EnvironmentIdentifier() uuid.UUID {
	return e.identifier
}

// ExecutionInvoker returns the build execution invoker bound to this
// environment (spec.md §6: getExecutionInvoker()). Since the build engine
// is out of scope, this returns the Environment itself, which satisfies
// daemonmodel.ExecutionInvoker's one method.
func (e *Environment) ExecutionInvoker() daemonmodel.ExecutionInvoker {
	return e
}

// Close tears down the build environment. Idempotent.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Debugf("build environment %s closed", e.identifier)
	return nil
}
