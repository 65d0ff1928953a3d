package rpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

type fakeEnvironment struct {
	id uuid.UUID
}

func (e *fakeEnvironment) LaunchParameters() daemonmodel.LaunchParameters {
	return daemonmodel.LaunchParameters{}
}
func (e *fakeEnvironment) RuntimeLaunchConfiguration() (daemonmodel.RuntimeLaunchConfiguration, bool) {
	return daemonmodel.RuntimeLaunchConfiguration{}, false
}
func (e *fakeEnvironment) EnvironmentIdentifier() uuid.UUID { return e.id }
func (e *fakeEnvironment) ConnectTo(ctx context.Context, address string) (daemonmodel.RemoteConnectionHandle, error) {
	return nil, nil
}
func (e *fakeEnvironment) GetProject(ctx context.Context, workingDir string) (daemonmodel.ProjectHandle, error) {
	return nil, nil
}
func (e *fakeEnvironment) ClientClusterTaskInvokerFactories() []daemonmodel.ClusterInvokerFactory {
	return nil
}
func (e *fakeEnvironment) ExecutionInvoker() daemonmodel.ExecutionInvoker { return e }

func TestServeRecordsStatsForClosedConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	env := &fakeEnvironment{id: uuid.New()}

	statsCh := make(chan ConnectionStats, 1)
	server := Serve(listener, Config{
		Environment:   env,
		StatsRecorder: func(s ConnectionStats) { statsCh <- s },
		Logger:        logging.NewLogger(nil, logging.LevelDisabled),
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := rpctransport.Open(ctx, rpctransport.DialTCP(listener.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case stats := <-statsCh:
		if stats.ID == "" {
			t.Fatal("expected a non-empty connection id")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection stats")
	}
}
