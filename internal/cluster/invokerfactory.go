// Package cluster implements the daemon's two cluster-facing components:
// the outbound reconnect loop (spec.md §4.E, Reconnector) and the
// per-connection task invoker factory it serves requests with (spec.md
// §4.F, InvokerFactory).
package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/identifier"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/project"
	"github.com/sakerbuild/daemon/internal/rescache"
)

// ProjectCacheKey is the B-component cache key for project.Cache entries
// (spec.md §4.B: "ProjectCacheKey(working-directory) — expiry = 15 minutes;
// validate = !isClosed()"). The environment reference is deliberately not
// part of the key, matching the spec note that it is transient.
type ProjectCacheKey struct {
	WorkingDirectory string
	logger           *logging.Logger
}

const projectCacheExpiry = 15 * time.Minute

// NewProjectCacheKey constructs a ProjectCacheKey for workingDirectory. It
// is exported so internal/daemonenv can key lookups into the same project
// cache instance it shares with an InvokerFactory, without this package
// exposing ProjectCacheKey's unexported logger field directly.
func NewProjectCacheKey(workingDirectory string, logger *logging.Logger) ProjectCacheKey {
	return ProjectCacheKey{WorkingDirectory: workingDirectory, logger: logger}
}

func (k ProjectCacheKey) Allocate(ctx context.Context) (*project.Cache, error) {
	return project.New(k.WorkingDirectory, k.logger), nil
}

func (k ProjectCacheKey) Generate(resource *project.Cache) *project.Cache {
	return resource
}

func (k ProjectCacheKey) Validate(resource *project.Cache) bool {
	return !resource.IsClosed()
}

func (k ProjectCacheKey) Expiry() time.Duration {
	return projectCacheExpiry
}

func (k ProjectCacheKey) Close(resource *project.Cache) {
	resource.Close()
}

// InvokerFactory answers a coordinator's createTaskInvoker request, per
// spec.md §4.F. It is not bound to any one connection: internal/daemonenv
// creates a single InvokerFactory and shares it across every connection and
// Reconnector. The factory holds no class-resolver registry.
type InvokerFactory struct {
	logger *logging.Logger

	environmentID uuid.UUID
	mirrorBaseDir string
	projectCache  *rescache.Cache[*project.Cache, *project.Cache, ProjectCacheKey]
}

// NewInvokerFactory constructs a factory bound to environmentID (this
// daemon's stable build-environment identifier) and mirrorBaseDir (empty
// disables mirror directory derivation, per spec.md §4.F.2: "If a cluster
// mirror base directory is configured ... otherwise leave null").
func NewInvokerFactory(environmentID uuid.UUID, mirrorBaseDir string, projectCache *rescache.Cache[*project.Cache, *project.Cache, ProjectCacheKey], logger *logging.Logger) *InvokerFactory {
	return &InvokerFactory{
		logger:        logger,
		environmentID: environmentID,
		mirrorBaseDir: mirrorBaseDir,
		projectCache:  projectCache,
	}
}

// EnvironmentIdentifier exposes this daemon's stable environment UUID so
// coordinators can recognize repeat workers (spec.md §4.F, final
// paragraph).
func (f *InvokerFactory) EnvironmentIdentifier() uuid.UUID {
	return f.environmentID
}

// mirrorDirectory derives the per-working-directory mirror subdirectory
// (spec.md §4.F.2): base / hex(hash(fileProviderUUID + "/" + workingDirPath)).
// The hash only needs to be a stable, collision-resistant digest of an
// identity string (spec.md: "collisions are acceptable but rare"); SHA-256
// is used here the way the other_examples Turborepo daemon's getRepoHash
// hashes a repo root into a mirror-directory-safe hex string (see
// DESIGN.md).
func (f *InvokerFactory) mirrorDirectory(pathKey string) string {
	if f.mirrorBaseDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(pathKey))
	return filepath.Join(f.mirrorBaseDir, hex.EncodeToString(sum[:]))
}

// CreateTaskInvoker implements spec.md §4.F's three-step factory body. The
// returned TaskInvoker's Run performs the bracketed clusterStarting /
// clusterFinished lifecycle (spec.md §4.F.3) when actually executed.
func (f *InvokerFactory) CreateTaskInvoker(ctx context.Context, execCtx daemonmodel.ExecutionContext) (daemonmodel.TaskInvoker, error) {
	pathKey := execCtx.PathKey()

	cacheKey := ProjectCacheKey{WorkingDirectory: execCtx.WorkingDirectory, logger: f.logger}
	proj, err := f.projectCache.Get(ctx, cacheKey)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain project cache for %s: %w", execCtx.WorkingDirectory, err)
	}

	return &taskInvoker{
		logger:          f.logger,
		project:         proj,
		execCtx:         execCtx,
		pathKey:         pathKey,
		mirrorDirectory: f.mirrorDirectory(pathKey),
	}, nil
}

// taskInvoker implements daemonmodel.TaskInvoker, bracketing a single
// cluster execution against its project cache entry (spec.md §4.F.3).
type taskInvoker struct {
	logger          *logging.Logger
	project         *project.Cache
	execCtx         daemonmodel.ExecutionContext
	pathKey         string
	mirrorDirectory string
}

// Run performs the bracket described in spec.md §4.F.3 under a freshly
// generated execution key: log the start, call clusterStarting, run the
// (external, out-of-scope) ClusterTaskInvoker, then always call
// clusterFinished — even on error or cancellation (step e's "finally"
// clause). No execution class resolver is registered or unregistered on any
// connection; ExecutionClassResolverID only computes that resolver's id.
func (t *taskInvoker) Run(ctx context.Context) error {
	execKey, err := identifier.New(identifier.PrefixExecution)
	if err != nil {
		return fmt.Errorf("unable to generate execution key: %w", err)
	}

	t.logger.Debugf("cluster execution %s starting (mirror=%q)", execKey, t.mirrorDirectory)

	if err := t.project.ClusterStarting(ctx, execKey, project.ClusterStartParameters{
		CoordinatorProviderKey: t.execCtx.CoordinatorKey,
		MirrorDirectory:        t.mirrorDirectory,
	}); err != nil {
		return &daemonmodel.ClusterStartError{WorkingDirectory: t.execCtx.WorkingDirectory, Err: err}
	}
	defer t.project.ClusterFinished(execKey)

	// The actual ClusterTaskInvoker (external, out of scope per spec.md §1:
	// "the underlying build engine") would run here, bound to the local
	// environment, the project's recording environment, the execution
	// context, and the mirror/repository/database handles step d lists.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return nil
}

// ExecutionClassResolverID computes the deterministic class-resolver
// registration id for an execution (spec.md §4.F.3.c):
// "execclasses:" + fileProviderUUID + ":" + workingDirPath.
func ExecutionClassResolverID(execCtx daemonmodel.ExecutionContext) string {
	return daemonmodel.ExecutionClassResolverPrefix + execCtx.FileProviderUUID.String() + ":" + execCtx.WorkingDirectory
}
