// Package main implements the sakerdaemon command line entry point: a
// small cobra command tree (run/start/stop/status) that wires
// internal/config, internal/daemonenv, and internal/ipc together, grounded
// on cmd/mutagen/daemon's own run/start/stop/connect shape.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultStorageDirectory returns the storage directory used when neither
// --storage nor a configuration file specifies one, mirroring the teacher's
// pkg/daemon path helpers but rooted under the current user's config
// directory rather than a mutagen-specific one.
func defaultStorageDirectory() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user configuration directory: %w", err)
	}
	return filepath.Join(configDir, "sakerbuild", "daemon"), nil
}

// controlEndpointPath returns the path of the local IPC socket (or, on
// Windows, the file recording the named pipe) used for process-to-process
// control between the sakerdaemon CLI and a running daemon, rooted inside
// storageDirectory so that each storage directory gets its own independent
// daemon and control channel (spec.md §3: daemons are identified by
// storage directory).
func controlEndpointPath(storageDirectory string) string {
	return filepath.Join(storageDirectory, ".control.sock")
}
