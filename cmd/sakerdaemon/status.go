package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/cmd"
	"github.com/sakerbuild/daemon/internal/daemonmodel"
)

// statusMain is the entry point for the status command: it connects to a
// running daemon's control channel and reports how long it has been
// running and which port (if any) it's serving.
func statusMain(_ *cobra.Command, _ []string) error {
	storageDirectory := statusFlags.StorageDirectory
	if storageDirectory == "" {
		var err error
		if storageDirectory, err = defaultStorageDirectory(); err != nil {
			return err
		}
	}

	conn, err := connect(storageDirectory, false)
	if err != nil {
		fmt.Println("sakerdaemon is not running")
		return nil
	}
	defer conn.Close()

	if err := conn.Send(controlRequest{Kind: controlKindStatus}); err != nil {
		return fmt.Errorf("unable to send status request: %w", err)
	}

	var reply controlReply
	if err := conn.Receive(&reply); err != nil {
		return fmt.Errorf("unable to read status reply: %w", err)
	}

	fmt.Printf("sakerdaemon running since %s\n", humanize.Time(reply.StartedAt))
	if reply.Port != daemonmodel.NoPort {
		fmt.Printf("  listening on port %d\n", reply.Port)
	} else {
		fmt.Println("  not serving an RPC port")
	}
	fmt.Printf("  environment id: %s\n", reply.EnvironmentID)

	return nil
}

// statusCommand is the status command.
var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Report whether the sakerdaemon daemon is running",
	Args:         cmd.DisallowArguments,
	RunE:         statusMain,
	SilenceUsage: true,
}

var statusFlags struct {
	StorageDirectory string
}

func init() {
	flags := statusCommand.Flags()
	flags.StringVar(&statusFlags.StorageDirectory, "storage", "", "daemon storage directory")
}
