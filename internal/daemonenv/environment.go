// Package daemonenv implements the daemon's top-level orchestrator
// (spec.md §4.D, component D): start/close lifecycle, the build
// environment handle, the slot lock, the RPC server, the cluster-client
// reconnector pool, and the connection/project resource caches. Grounded on
// pkg/synchronization.Manager's constructor-does-real-work-and-returns-error
// shape and on pkg/daemon/service/server.go's singleton-with-mutex shutdown
// pattern.
package daemonenv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/buildenv"
	"github.com/sakerbuild/daemon/internal/cluster"
	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/project"
	"github.com/sakerbuild/daemon/internal/remoteconn"
	"github.com/sakerbuild/daemon/internal/rescache"
	"github.com/sakerbuild/daemon/internal/rpcserver"
	"github.com/sakerbuild/daemon/internal/rpctransport"
	"github.com/sakerbuild/daemon/internal/slotlock"
)

// Lifecycle states, per spec.md §3: "state ∈ {UNSTARTED, STARTED, CLOSED},
// monotonically non-decreasing".
const (
	stateUnstarted int32 = iota
	stateStarted
	stateClosed
)

// cacheSweepInterval governs how often internal/rescache checks entries
// against their own Expiry; it is independent of any individual entry's
// expiry (5 minutes for remote connections, 15 for projects).
const cacheSweepInterval = time.Minute

// Environment is the daemon's top-level orchestrator (spec.md §4.D). A zero
// value is not usable; construct with New.
type Environment struct {
	logger *logging.Logger

	lifecycleMu sync.Mutex
	state       int32

	launchParams  daemonmodel.LaunchParameters
	runtimeConfig daemonmodel.RuntimeLaunchConfiguration
	hasRuntime    bool

	autoShutdown AutoShutdownPolicy

	buildEnv *buildenv.Environment

	lockFile *slotlock.File
	slot     *slotlock.Slot
	listener net.Listener
	server   *rpcserver.Server

	projectCache   *rescache.Cache[*project.Cache, *project.Cache, cluster.ProjectCacheKey]
	remoteCache    *rescache.Cache[*remoteconn.Connection, daemonmodel.RemoteConnectionHandle, remoteconn.CacheKey]
	invokerFactory *cluster.InvokerFactory

	dialerFactoriesMu sync.Mutex
	dialerFactories   map[string]*remoteconn.DialerFactory

	reconnectCancel context.CancelFunc
	reconnectors    []*cluster.Reconnector
}

// New constructs an Environment in the UNSTARTED state. It does not touch
// the filesystem or network; that only happens in Start (spec.md §4.D:
// "start() is the only complex path").
func New(params daemonmodel.LaunchParameters, logger *logging.Logger) *Environment {
	return &Environment{
		logger:          logger,
		launchParams:    params,
		autoShutdown:    noAutoShutdownPolicy{},
		dialerFactories: make(map[string]*remoteconn.DialerFactory),
	}
}

// SetAutoShutdownPolicy overrides the default no-op AutoShutdownPolicy. Must
// be called before Start.
func (e *Environment) SetAutoShutdownPolicy(policy AutoShutdownPolicy) {
	e.autoShutdown = policy
}

// CheckAutoShutdown reports whether the configured AutoShutdownPolicy
// currently requests a shutdown. It does not itself close the environment;
// callers (e.g. cmd/sakerdaemon's run loop) are expected to call Close when
// it returns true.
func (e *Environment) CheckAutoShutdown() bool {
	return e.autoShutdown.ShouldAutoShutdown()
}

// Start executes spec.md §4.D's five-step start sequence. On any failure
// after the slot lock has been acquired, the slot lock is closed before the
// error is returned, so other processes immediately observe the slot as
// free.
func (e *Environment) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if atomic.LoadInt32(&e.state) != stateUnstarted {
		return &daemonmodel.ConfigurationError{Reason: "daemon has already been started"}
	}
	if err := e.launchParams.Validate(); err != nil {
		return err
	}

	// Step 1: resolve storage directory; create it if missing.
	storageDir, err := resolveStorageDirectory(e.launchParams.StorageDirectory)
	if err != nil {
		return &daemonmodel.StartupError{Reason: "resolve storage directory", Err: err}
	}

	// Step 2: build environment parameters; do not instantiate yet.
	buildParams := buildenv.Parameters{
		ThreadFactor:   e.launchParams.ThreadFactor,
		UserParameters: e.launchParams.UserParameters,
	}

	if e.launchParams.Port != daemonmodel.NoPort {
		if err := e.startWithServer(storageDir, buildParams); err != nil {
			return err
		}
	} else {
		e.startWithoutServer(storageDir, buildParams)
	}

	// Step 5: cluster-client worker pool.
	if e.launchParams.ActsAsCluster && len(e.launchParams.ConnectToAsClusterAddresses) > 0 {
		e.startClusterWorkers()
	}

	return nil
}

// startWithServer implements spec.md §4.D step 3: acquire a slot lock, and
// under its data-region lock, instantiate the build environment, bind the
// RPC listener, publish the chosen port, finalize the runtime
// configuration, transition to STARTED, and start accepting connections.
func (e *Environment) startWithServer(storageDir string, buildParams buildenv.Parameters) error {
	lockPath, err := slotlock.StorageLockPath(storageDir)
	if err != nil {
		return &daemonmodel.StartupError{Reason: "prepare storage directory", Err: err}
	}

	lockFile, err := slotlock.Open(lockPath)
	if err != nil {
		return &daemonmodel.StartupError{Reason: "open slot lock file", Err: err}
	}

	slot, err := slotlock.Acquire(lockFile)
	if err != nil {
		lockFile.Close()
		if errors.Is(err, slotlock.ErrTooManyDaemons) {
			return daemonmodel.ErrSlotExhausted
		}
		return &daemonmodel.StartupError{Reason: "acquire daemon slot", Err: err}
	}

	fail := func(reason string, cause error) error {
		slot.Release()
		lockFile.Close()
		return &daemonmodel.StartupError{Reason: reason, Err: cause}
	}

	if err := slot.LockData(); err != nil {
		return fail("acquire slot data lock", err)
	}

	effectivePort := e.launchParams.Port
	if effectivePort < 0 {
		effectivePort = daemonmodel.DefaultPort
	}
	bindHost := "127.0.0.1"
	if e.launchParams.ActsAsServer {
		bindHost = "0.0.0.0"
	}

	buildEnv := buildenv.New(buildParams, e.logger)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindHost, effectivePort))
	if err != nil {
		buildEnv.Close()
		slot.UnlockData()
		return fail("bind rpc listener", err)
	}

	e.initCaches(buildEnv.EnvironmentIdentifier())

	actualPort := listener.Addr().(*net.TCPAddr).Port
	if err := slot.Publish(uint32(actualPort)); err != nil {
		listener.Close()
		buildEnv.Close()
		slot.UnlockData()
		return fail("publish daemon port", err)
	}

	e.buildEnv = buildEnv
	e.lockFile = lockFile
	e.slot = slot
	e.listener = listener
	e.runtimeConfig = daemonmodel.RuntimeLaunchConfiguration{
		StorageDirectory: storageDir,
		ThreadFactor:     buildParams.ThreadFactor,
		Port:             actualPort,
		EnvironmentID:    buildEnv.EnvironmentIdentifier(),
	}
	e.hasRuntime = true

	atomic.StoreInt32(&e.state, stateStarted)

	e.server = rpcserver.Serve(listener, rpcserver.Config{
		Environment:           e,
		ClusterInvokerFactory: e.clusterInvokerFactoryBuilder(),
		Logger:                e.logger,
	})

	if err := slot.UnlockData(); err != nil {
		e.logger.Warnf("unable to release slot data lock after startup: %v", err)
	}

	return nil
}

// startWithoutServer implements spec.md §4.D step 4: no port configured, so
// no slot lock and no RPC server at all.
func (e *Environment) startWithoutServer(storageDir string, buildParams buildenv.Parameters) {
	buildEnv := buildenv.New(buildParams, e.logger)
	e.initCaches(buildEnv.EnvironmentIdentifier())

	e.buildEnv = buildEnv
	e.runtimeConfig = daemonmodel.RuntimeLaunchConfiguration{
		StorageDirectory: storageDir,
		ThreadFactor:     buildParams.ThreadFactor,
		Port:             daemonmodel.NoPort,
		EnvironmentID:    buildEnv.EnvironmentIdentifier(),
	}
	e.hasRuntime = true

	atomic.StoreInt32(&e.state, stateStarted)
}

func (e *Environment) initCaches(environmentID uuid.UUID) {
	e.projectCache = rescache.New[*project.Cache, *project.Cache, cluster.ProjectCacheKey](e.logger, cacheSweepInterval)
	e.remoteCache = rescache.New[*remoteconn.Connection, daemonmodel.RemoteConnectionHandle, remoteconn.CacheKey](e.logger, cacheSweepInterval)

	if e.launchParams.ActsAsCluster {
		e.invokerFactory = cluster.NewInvokerFactory(environmentID, e.launchParams.ClusterMirrorDirectory, e.projectCache, e.logger)
	}
}

func (e *Environment) clusterInvokerFactoryBuilder() rpcserver.ClusterInvokerFactoryBuilder {
	if e.invokerFactory == nil {
		return nil
	}
	return func(conn *rpctransport.Connection) daemonmodel.ClusterInvokerFactory {
		return e.invokerFactory
	}
}

// startClusterWorkers implements spec.md §4.D step 5 and §4.E: one
// Reconnector per configured coordinator address, sharing this
// environment's single InvokerFactory and cancelled as a group by Close.
func (e *Environment) startClusterWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	e.reconnectCancel = cancel

	isStarted := func() bool { return atomic.LoadInt32(&e.state) == stateStarted }

	for _, address := range e.launchParams.ConnectToAsClusterAddresses {
		reconnector := cluster.NewReconnector(
			address,
			rpctransport.DialTCP(address),
			e.buildEnv.EnvironmentIdentifier(),
			e.invokerFactory,
			isStarted,
			e.logger,
		)
		e.reconnectors = append(e.reconnectors, reconnector)
		reconnector.Start(ctx)
	}
}

// Close implements spec.md §4.D's close() sequence. It is only valid to
// call while STARTED; it is not safe to call twice successfully (the second
// call observes the daemon is no longer STARTED and returns an error),
// matching spec.md's "callable only when STARTED".
func (e *Environment) Close() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !atomic.CompareAndSwapInt32(&e.state, stateStarted, stateClosed) {
		return &daemonmodel.ConfigurationError{Reason: "daemon is not in the STARTED state"}
	}

	// Step 2: interrupt the cluster-client thread group and close its work
	// pool.
	if e.reconnectCancel != nil {
		e.reconnectCancel()
		for _, r := range e.reconnectors {
			r.Wait()
		}
	}

	// Step 3: close the RPC server.
	if e.server != nil {
		if err := e.server.Close(); err != nil {
			e.logger.Warnf("error closing rpc server: %v", err)
		}
	}

	if e.projectCache != nil {
		e.projectCache.Close()
	}
	if e.remoteCache != nil {
		e.remoteCache.Close()
	}

	// Step 4: close the build environment.
	if e.buildEnv != nil {
		if err := e.buildEnv.Close(); err != nil {
			e.logger.Warnf("error closing build environment: %v", err)
		}
	}

	// Step 5: release and close the slot lock and lock file.
	if e.slot != nil {
		if err := e.slot.Release(); err != nil {
			e.logger.Warnf("error releasing daemon slot: %v", err)
		}
	}
	if e.lockFile != nil {
		if err := e.lockFile.Close(); err != nil {
			return &daemonmodel.LockIOError{Op: "close", Err: err}
		}
	}

	return nil
}

// LaunchParameters returns the launch parameters this environment was
// constructed with (spec.md §6).
func (e *Environment) LaunchParameters() daemonmodel.LaunchParameters {
	return e.launchParams
}

// RuntimeLaunchConfiguration returns the effective post-start configuration,
// and whether Start has completed at least once.
func (e *Environment) RuntimeLaunchConfiguration() (daemonmodel.RuntimeLaunchConfiguration, bool) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.runtimeConfig, e.hasRuntime
}

// EnvironmentIdentifier returns the build environment's stable UUID.
func (e *Environment) EnvironmentIdentifier() uuid.UUID {
	if e.buildEnv == nil {
		return uuid.UUID{}
	}
	return e.buildEnv.EnvironmentIdentifier()
}

// ConnectTo obtains a close-protected handle to address via the resource
// cache (spec.md §4.D: "connectTo(address) goes through the resource cache
// keyed by (socket-factory, address)").
func (e *Environment) ConnectTo(ctx context.Context, address string) (daemonmodel.RemoteConnectionHandle, error) {
	if atomic.LoadInt32(&e.state) != stateStarted {
		return nil, &daemonmodel.ConfigurationError{Reason: "daemon is not started"}
	}
	factory := e.dialerFactoryFor(address)
	return e.remoteCache.Get(ctx, remoteconn.NewCacheKey(address, factory, e.logger))
}

// dialerFactoryFor returns a stable *remoteconn.DialerFactory for address,
// reusing the same pointer across calls so that repeated ConnectTo(address)
// calls hit the same rescache entry (spec.md §4.B: cache equality uses
// "identity of the socket factory").
func (e *Environment) dialerFactoryFor(address string) *remoteconn.DialerFactory {
	e.dialerFactoriesMu.Lock()
	defer e.dialerFactoriesMu.Unlock()
	if factory, ok := e.dialerFactories[address]; ok {
		return factory
	}
	factory := &remoteconn.DialerFactory{Dial: rpctransport.DialTCP(address)}
	e.dialerFactories[address] = factory
	return factory
}

// GetProject obtains a project cache handle for workingDir, sharing the
// same cache instance internal/cluster.InvokerFactory uses for cluster task
// invocations against the same working directory.
func (e *Environment) GetProject(ctx context.Context, workingDir string) (daemonmodel.ProjectHandle, error) {
	if atomic.LoadInt32(&e.state) != stateStarted {
		return nil, &daemonmodel.ConfigurationError{Reason: "daemon is not started"}
	}
	return e.projectCache.Get(ctx, cluster.NewProjectCacheKey(workingDir, e.logger))
}

// ClientClusterTaskInvokerFactories aggregates cluster invoker factories
// registered by remote clients across every live connection.
func (e *Environment) ClientClusterTaskInvokerFactories() []daemonmodel.ClusterInvokerFactory {
	if e.server == nil {
		return nil
	}
	return e.server.ClientClusterTaskInvokerFactories()
}

// ExecutionInvoker returns the build execution invoker bound to the local
// environment (spec.md §6: getExecutionInvoker()).
func (e *Environment) ExecutionInvoker() daemonmodel.ExecutionInvoker {
	if e.buildEnv == nil {
		return nil
	}
	return e.buildEnv.ExecutionInvoker()
}

func resolveStorageDirectory(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("storage directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("unable to resolve absolute storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return "", fmt.Errorf("unable to create storage directory: %w", err)
	}
	return abs, nil
}

var _ daemonmodel.Environment = (*Environment)(nil)
