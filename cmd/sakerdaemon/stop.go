package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/cmd"
)

// stopMain is the entry point for the stop command.
func stopMain(_ *cobra.Command, _ []string) error {
	storageDirectory := stopFlags.StorageDirectory
	if storageDirectory == "" {
		var err error
		if storageDirectory, err = defaultStorageDirectory(); err != nil {
			return err
		}
	}

	conn, err := connect(storageDirectory, false)
	if err != nil {
		return fmt.Errorf("unable to connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := conn.Send(controlRequest{Kind: controlKindTerminate}); err != nil {
		return fmt.Errorf("unable to send termination request: %w", err)
	}

	// We don't treat a receive failure as fatal: the daemon may tear down
	// its control listener before the reply makes it back across the wire.
	var reply controlReply
	conn.Receive(&reply)

	return nil
}

// stopCommand is the stop command.
var stopCommand = &cobra.Command{
	Use:          "stop",
	Short:        "Stop the sakerdaemon daemon if it's running",
	Args:         cmd.DisallowArguments,
	RunE:         stopMain,
	SilenceUsage: true,
}

var stopFlags struct {
	StorageDirectory string
}

func init() {
	flags := stopCommand.Flags()
	flags.StringVar(&stopFlags.StorageDirectory, "storage", "", "daemon storage directory")
}
