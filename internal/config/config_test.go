package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
)

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	cmd := &cobra.Command{Run: func(*cobra.Command, []string) {}}
	f := RegisterFlags(cmd)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLoadFromFlagsOnly(t *testing.T) {
	f := parseFlags(t, "--storage", "/tmp/storage", "--port", "9000")

	params, err := Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if params.StorageDirectory != "/tmp/storage" {
		t.Fatalf("unexpected storage directory: %q", params.StorageDirectory)
	}
	if params.Port != 9000 {
		t.Fatalf("unexpected port: %d", params.Port)
	}
	if params.ActsAsCluster {
		t.Fatal("expected actsAsCluster to default false")
	}
}

func TestLoadRejectsClusterAddressesWithoutClusterMode(t *testing.T) {
	f := parseFlags(t, "--cluster-connect-to", "127.0.0.1:9001")

	if _, err := Load(f); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestLoadFromConfigFilePreservesUserParameterOrder(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "daemon.yaml")
	contents := "" +
		"storageDirectory: /var/lib/saker\n" +
		"actsAsCluster: true\n" +
		"clusterConnectTo:\n" +
		"  - 127.0.0.1:9001\n" +
		"userParameters:\n" +
		"  zeta: 1\n" +
		"  alpha: 2\n" +
		"  mike: 3\n"
	if err := os.WriteFile(configPath, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	f := parseFlags(t, "--config", configPath)

	params, err := Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if params.StorageDirectory != "/var/lib/saker" {
		t.Fatalf("unexpected storage directory: %q", params.StorageDirectory)
	}
	if !params.ActsAsCluster {
		t.Fatal("expected actsAsCluster true from config file")
	}
	if diff := cmp.Diff([]string{"127.0.0.1:9001"}, params.ConnectToAsClusterAddresses); diff != "" {
		t.Fatalf("unexpected cluster addresses (-want +got):\n%s", diff)
	}

	wantParameters := daemonmodel.UserParameters{
		{Key: "zeta", Value: "1"},
		{Key: "alpha", Value: "2"},
		{Key: "mike", Value: "3"},
	}
	if diff := cmp.Diff(wantParameters, params.UserParameters); diff != "" {
		t.Fatalf("unexpected user parameters (-want +got):\n%s", diff)
	}
}

func TestLoadPortEnvironmentOverride(t *testing.T) {
	t.Setenv(envTCPPortVariable, "7777")
	f := parseFlags(t, "--port", "9000")

	params, err := Load(f)
	if err != nil {
		t.Fatal(err)
	}
	if params.Port != 7777 {
		t.Fatalf("expected env override to win, got port %d", params.Port)
	}
}
