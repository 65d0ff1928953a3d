package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/cmd"
)

// startDaemonProcess re-execs the current executable as "sakerdaemon run"
// in the background, mirroring cmd/mutagen/daemon/start.go's fork shape.
// storageDirectory is passed through via --storage so the forked process
// targets the same daemon identity the caller resolved.
func startDaemonProcess(storageDirectory string) error {
	executablePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("unable to determine executable path: %w", err)
	}

	args := []string{"sakerdaemon", "run"}
	if storageDirectory != "" {
		args = append(args, "--storage", storageDirectory)
	}

	process := &exec.Cmd{
		Path:        executablePath,
		Args:        args,
		SysProcAttr: daemonProcessAttributes,
	}
	if err := process.Start(); err != nil {
		return fmt.Errorf("unable to fork daemon: %w", err)
	}
	return nil
}

// startMain is the entry point for the start command.
func startMain(_ *cobra.Command, _ []string) error {
	storageDirectory := startFlags.StorageDirectory
	if storageDirectory == "" {
		var err error
		if storageDirectory, err = defaultStorageDirectory(); err != nil {
			return err
		}
	}

	if _, err := connect(storageDirectory, false); err == nil {
		return nil
	}

	return startDaemonProcess(storageDirectory)
}

// startCommand is the start command.
var startCommand = &cobra.Command{
	Use:          "start",
	Short:        "Start the sakerdaemon daemon if it's not already running",
	Args:         cmd.DisallowArguments,
	RunE:         startMain,
	SilenceUsage: true,
}

var startFlags struct {
	StorageDirectory string
}

func init() {
	flags := startCommand.Flags()
	flags.StringVar(&startFlags.StorageDirectory, "storage", "", "daemon storage directory")
}
