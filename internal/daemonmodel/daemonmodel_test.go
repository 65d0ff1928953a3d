package daemonmodel

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestLaunchParametersValidateRejectsClusterAddressesWithoutClusterMode(t *testing.T) {
	params := LaunchParameters{
		ConnectToAsClusterAddresses: []string{"example:1234"},
		ActsAsCluster:               false,
	}
	if err := params.Validate(); err == nil {
		t.Fatal("expected a ConfigurationError")
	} else if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
}

func TestLaunchParametersValidateAllowsClusterAddressesWithClusterMode(t *testing.T) {
	params := LaunchParameters{
		ConnectToAsClusterAddresses: []string{"example:1234"},
		ActsAsCluster:               true,
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestUserParametersGet(t *testing.T) {
	params := UserParameters{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	if v, ok := params.Get("b"); !ok || v != "2" {
		t.Fatalf("expected b=2, got %q, %v", v, ok)
	}
	if _, ok := params.Get("missing"); ok {
		t.Fatal("expected missing key to be absent")
	}
}

type fakeInvokerFactory struct {
	id uuid.UUID
}

func (f *fakeInvokerFactory) CreateTaskInvoker(ctx context.Context, execCtx ExecutionContext) (TaskInvoker, error) {
	return nil, nil
}

func (f *fakeInvokerFactory) EnvironmentIdentifier() uuid.UUID { return f.id }

func TestDaemonClientServerRegistrationLifecycle(t *testing.T) {
	s := NewDaemonClientServer()
	if len(s.Factories()) != 0 {
		t.Fatal("expected empty registry")
	}

	a := &fakeInvokerFactory{id: uuid.New()}
	b := &fakeInvokerFactory{id: uuid.New()}
	s.AddClientClusterTaskInvokerFactory("conn-a", a)
	s.AddClientClusterTaskInvokerFactory("conn-b", b)

	if len(s.Factories()) != 2 {
		t.Fatalf("expected 2 registered factories, got %d", len(s.Factories()))
	}

	s.Remove("conn-a")
	remaining := s.Factories()
	if len(remaining) != 1 || remaining[0] != b {
		t.Fatalf("expected only b to remain, got %v", remaining)
	}

	// Removing again (simulating a second close callback) must be a no-op,
	// not an error, matching deterministic-deregistration idempotency.
	s.Remove("conn-a")
	if len(s.Factories()) != 1 {
		t.Fatalf("expected remove to be idempotent")
	}
}
