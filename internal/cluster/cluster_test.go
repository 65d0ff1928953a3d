package cluster

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/project"
	"github.com/sakerbuild/daemon/internal/rescache"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

func newTestInvokerFactory(t *testing.T, mirrorBaseDir string) *InvokerFactory {
	t.Helper()
	logger := logging.NewLogger(nil, logging.LevelDisabled)
	cache := rescache.New[*project.Cache, *project.Cache, ProjectCacheKey](logger, time.Hour)
	t.Cleanup(cache.Close)
	return NewInvokerFactory(uuid.New(), mirrorBaseDir, cache, logger)
}

func TestInvokerFactoryMirrorDirectoryEmptyWhenUnconfigured(t *testing.T) {
	f := newTestInvokerFactory(t, "")
	if got := f.mirrorDirectory("anything"); got != "" {
		t.Fatalf("expected empty mirror directory, got %q", got)
	}
}

func TestInvokerFactoryMirrorDirectoryStableForSameKey(t *testing.T) {
	f := newTestInvokerFactory(t, "/tmp/mirrors")
	a := f.mirrorDirectory("provider/workdir")
	b := f.mirrorDirectory("provider/workdir")
	if a != b {
		t.Fatalf("expected stable digest, got %q and %q", a, b)
	}
	c := f.mirrorDirectory("provider/other")
	if a == c {
		t.Fatalf("expected distinct working directories to hash differently")
	}
}

func TestInvokerFactoryCreateTaskInvokerRunsClusterBracket(t *testing.T) {
	f := newTestInvokerFactory(t, "")
	execCtx := daemonmodel.ExecutionContext{
		FileProviderUUID: uuid.New(),
		WorkingDirectory: "/work/project",
	}

	invoker, err := f.CreateTaskInvoker(context.Background(), execCtx)
	if err != nil {
		t.Fatal(err)
	}
	if err := invoker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Running a second execution for the same working directory must also
	// succeed: each Run brackets its own, freshly generated execution key
	// (spec.md §5: clusterStarting/clusterFinished brackets with distinct
	// execution keys).
	invoker2, err := f.CreateTaskInvoker(context.Background(), execCtx)
	if err != nil {
		t.Fatal(err)
	}
	if err := invoker2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// TestReconnectorRegistersAndServesInvocations runs a fake coordinator
// directly against rpctransport (rather than internal/rpcserver, which does
// not implement the coordinator side of this protocol — see DESIGN.md) to
// exercise the full dial/register/serve loop described in spec.md §4.E.
func TestReconnectorRegistersAndServesInvocations(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var invocationsServed int32
	done := make(chan struct{})
	acceptor := rpctransport.NewAcceptor(listener, func(conn *rpctransport.Connection) {
		var reg registerMessage
		if err := conn.Receive(&reg); err != nil {
			t.Error(err)
			return
		}
		if err := conn.Send(&registerAckMessage{RegistrationID: "reg-1"}); err != nil {
			t.Error(err)
			return
		}

		if err := conn.Send(&createTaskInvokerRequest{
			FileProviderUUID: uuid.New(),
			WorkingDirectory: "/work/project",
		}); err != nil {
			t.Error(err)
			return
		}
		var reply createTaskInvokerReply
		if err := conn.Receive(&reply); err != nil {
			t.Error(err)
			return
		}
		if reply.Error != "" {
			t.Errorf("expected no error from invocation, got %q", reply.Error)
		}
		atomic.AddInt32(&invocationsServed, 1)
		close(done)
	}, logging.NewLogger(nil, logging.LevelDisabled))
	defer acceptor.Stop()

	factory := newTestInvokerFactory(t, "")
	reconnector := NewReconnector(
		listener.Addr().String(),
		rpctransport.DialTCP(listener.Addr().String()),
		uuid.New(),
		factory,
		func() bool { return true },
		logging.NewLogger(nil, logging.LevelDisabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconnector.Start(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the fake coordinator to be served")
	}

	cancel()
	reconnector.Wait()

	if atomic.LoadInt32(&invocationsServed) != 1 {
		t.Fatalf("expected exactly one invocation served, got %d", invocationsServed)
	}
}

// TestReconnectorStopsWithinBoundedTimeAfterCancel covers spec.md §8
// invariant 8 directly: once ctx is cancelled while the reconnector is
// sleeping between failed attempts, it must return promptly rather than
// waiting out the full backoff.
func TestReconnectorStopsWithinBoundedTimeAfterCancel(t *testing.T) {
	// Dial an address nothing is listening on so every attempt fails and the
	// loop parks in its backoff sleep.
	unreachable := "127.0.0.1:1" // low port, connection refused near-instantly
	factory := newTestInvokerFactory(t, "")
	reconnector := NewReconnector(
		unreachable,
		rpctransport.DialTCP(unreachable),
		uuid.New(),
		factory,
		func() bool { return true },
		logging.NewLogger(nil, logging.LevelDisabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	reconnector.Start(ctx)

	// Give it a moment to enter its backoff sleep after the first failed
	// attempt, then cancel and confirm prompt exit well under the 5s initial
	// backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	stopped := make(chan struct{})
	go func() {
		reconnector.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnector did not stop promptly after cancellation")
	}
}
