// Package config builds a daemonmodel.LaunchParameters from CLI flags, a
// YAML configuration file, and environment variable overrides. Grounded on
// cmd/mutagen/daemon/run.go's MUTAGEN_DAEMON_TCP_PORT environment override
// pattern, on spf13/cobra + spf13/pflag for the CLI surface (as the teacher
// uses throughout cmd/mutagen), and on spf13/viper (present in the pack via
// mvp-joe-project-cortex's go.mod) for layered config-file + env loading.
package config

import (
	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
)

// Flags holds the CLI-flag-bound fields used to build LaunchParameters.
type Flags struct {
	StorageDirectory       string
	Port                   int
	ThreadFactor           int
	ActsAsServer           bool
	ActsAsCluster          bool
	ClusterMirrorDirectory string
	ClusterConnectTo       []string
	ConfigFile             string
}

// RegisterFlags binds Flags' fields to cmd's flag set and returns the bound
// struct, following the teacher's pattern of registering flags directly
// against a *cobra.Command in each cmd/mutagen subcommand file.
func RegisterFlags(cmd *cobra.Command) *Flags {
	f := &Flags{}
	flags := cmd.Flags()
	flags.StringVar(&f.StorageDirectory, "storage", "", "daemon storage directory")
	flags.IntVar(&f.Port, "port", -1, "RPC server port (negative selects the default port, 0 disables the RPC server)")
	flags.IntVar(&f.ThreadFactor, "thread-factor", 0, "worker pool sizing factor (0 lets the implementation choose)")
	flags.BoolVar(&f.ActsAsServer, "acts-as-server", false, "bind the RPC server to all interfaces instead of loopback only")
	flags.BoolVar(&f.ActsAsCluster, "acts-as-cluster", false, "enable cluster-worker mode")
	flags.StringVar(&f.ClusterMirrorDirectory, "cluster-mirror-directory", "", "base directory for cluster mirror subdirectories")
	flags.StringArrayVar(&f.ClusterConnectTo, "cluster-connect-to", nil, "coordinator address to dial as a cluster worker (repeatable)")
	flags.StringVar(&f.ConfigFile, "config", "", "path to a YAML daemon configuration file")
	return f
}
