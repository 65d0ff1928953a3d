package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootMain is the entry point for the bare sakerdaemon command, invoked
// with no subcommand.
func rootMain(command *cobra.Command, _ []string) error {
	return command.Help()
}

var rootCommand = &cobra.Command{
	Use:          "sakerdaemon",
	Short:        "Control the lifecycle of the sakerbuild daemon",
	RunE:         rootMain,
	SilenceUsage: true,
}

func init() {
	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		runCommand,
		startCommand,
		stopCommand,
		statusCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
