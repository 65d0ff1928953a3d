package daemonenv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(nil, logging.LevelDisabled)
}

func TestEnvironmentStartWithoutPortThenClose(t *testing.T) {
	dir := t.TempDir()
	env := New(daemonmodel.LaunchParameters{
		StorageDirectory: filepath.Join(dir, "storage"),
	}, testLogger())

	if err := env.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	runtime, ok := env.RuntimeLaunchConfiguration()
	if !ok {
		t.Fatal("expected a runtime configuration after Start")
	}
	if runtime.Port != daemonmodel.NoPort {
		t.Fatalf("expected no port, got %d", runtime.Port)
	}

	if err := env.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvironmentStartWithPortPublishesSlotAndServesConnections(t *testing.T) {
	dir := t.TempDir()
	env := New(daemonmodel.LaunchParameters{
		StorageDirectory: filepath.Join(dir, "storage"),
		// An explicit positive port is honored exactly, per daemonmodel's
		// "negative/zero means default/none" semantics; chosen high to avoid
		// colliding with DefaultPort in concurrent test runs.
		Port: 58427,
	}, testLogger())

	if err := env.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	runtime, ok := env.RuntimeLaunchConfiguration()
	if !ok {
		t.Fatal("expected a runtime configuration after Start")
	}
	if runtime.Port != 58427 {
		t.Fatalf("expected published port 58427, got %d", runtime.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := rpctransport.Open(ctx, rpctransport.DialTCP("127.0.0.1:58427"))
	if err != nil {
		t.Fatalf("expected to be able to dial the started rpc server: %v", err)
	}
	conn.Close()
}

func TestEnvironmentRejectsDoubleStart(t *testing.T) {
	dir := t.TempDir()
	env := New(daemonmodel.LaunchParameters{
		StorageDirectory: filepath.Join(dir, "storage"),
	}, testLogger())

	if err := env.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	if err := env.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestEnvironmentCloseWithoutStartFails(t *testing.T) {
	env := New(daemonmodel.LaunchParameters{StorageDirectory: t.TempDir()}, testLogger())
	if err := env.Close(); err == nil {
		t.Fatal("expected Close on an unstarted environment to fail")
	}
}

func TestEnvironmentGetProjectSharesCacheAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	env := New(daemonmodel.LaunchParameters{
		StorageDirectory: filepath.Join(dir, "storage"),
	}, testLogger())

	if err := env.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	p1, err := env.GetProject(context.Background(), "/work/project")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := env.GetProject(context.Background(), "/work/project")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected repeated GetProject calls for the same working directory to share a handle")
	}
}

func TestEnvironmentValidatesLaunchParametersOnStart(t *testing.T) {
	env := New(daemonmodel.LaunchParameters{
		StorageDirectory:            t.TempDir(),
		ConnectToAsClusterAddresses: []string{"127.0.0.1:9001"},
	}, testLogger())

	if err := env.Start(context.Background()); err == nil {
		t.Fatal("expected Start to reject cluster addresses without actsAsCluster")
	}
}
