package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakerbuild/daemon/cmd"
	"github.com/sakerbuild/daemon/internal/config"
	"github.com/sakerbuild/daemon/internal/daemonenv"
	"github.com/sakerbuild/daemon/internal/ipc"
	"github.com/sakerbuild/daemon/internal/logging"
)

// runFlags are bound in init and consumed by runMain.
var runFlags *config.Flags

// runMain is the entry point for the run command: it loads configuration,
// starts a daemonenv.Environment, serves a local control channel for
// stop/status, and blocks until a termination signal, a control-channel
// terminate request, or a fatal startup error. Grounded on
// cmd/mutagen/daemon/run.go's overall shape, stripped to the subset this
// daemon actually needs (no grpc, no HTTP API, no token file: the control
// channel is loopback-only and trusts anything that can open the socket,
// matching the permission model internal/ipc already enforces via file
// mode / SDDL).
func runMain(_ *cobra.Command, _ []string) error {
	startTime := time.Now()

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, cmd.TerminationSignals...)

	params, err := config.Load(runFlags)
	if err != nil {
		return fmt.Errorf("unable to load daemon configuration: %w", err)
	}
	if params.StorageDirectory == "" {
		if params.StorageDirectory, err = defaultStorageDirectory(); err != nil {
			return err
		}
	}

	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)

	env := daemonenv.New(params, logger.Sublogger("environment"))
	if err := env.Start(context.Background()); err != nil {
		return fmt.Errorf("unable to start daemon environment: %w", err)
	}

	runtime, _ := env.RuntimeLaunchConfiguration()

	controlPath := controlEndpointPath(runtime.StorageDirectory)
	os.Remove(controlPath)
	controlListener, err := ipc.NewListener(controlPath)
	if err != nil {
		env.Close()
		return fmt.Errorf("unable to create control listener: %w", err)
	}
	defer controlListener.Close()

	terminationRequested := make(chan struct{})
	var terminationOnce sync.Once
	requestTermination := func() {
		terminationOnce.Do(func() { close(terminationRequested) })
	}

	controlAcceptor := newControlAcceptor(controlListener, env, startTime, requestTermination, logger.Sublogger("control"))
	defer controlAcceptor.Stop()

	select {
	case s := <-terminationSignals:
		logger.Infof("received termination signal: %v", s)
	case <-terminationRequested:
		logger.Infof("received termination request")
	}

	if err := env.Close(); err != nil {
		return fmt.Errorf("daemon environment shutdown failed: %w", err)
	}
	return nil
}

// runCommand is the run command.
var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Run the sakerdaemon daemon in the foreground",
	Args:         cmd.DisallowArguments,
	Hidden:       true,
	RunE:         runMain,
	SilenceUsage: true,
}

func init() {
	runFlags = config.RegisterFlags(runCommand)
}
