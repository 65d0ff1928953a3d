package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/sakerbuild/daemon/cmd"
	"github.com/sakerbuild/daemon/internal/ipc"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

const (
	// dialTimeout is the timeout for a single attempt to reach the control
	// endpoint, mirroring cmd/mutagen/daemon/connect.go's dialTimeout.
	dialTimeout = 500 * time.Millisecond
	// autostartWaitInterval is the wait period between reconnect attempts
	// after autostarting the daemon.
	autostartWaitInterval = 100 * time.Millisecond
	// autostartRetryCount is the number of times to try reconnecting after
	// autostarting the daemon.
	autostartRetryCount = 10
)

// autostartDisabled mirrors the teacher's MUTAGEN_DISABLE_AUTOSTART switch.
var autostartDisabled = os.Getenv("SAKER_DAEMON_DISABLE_AUTOSTART") == "1"

// connect dials the control endpoint for storageDirectory, optionally
// autostarting the daemon (via `sakerdaemon start`) and retrying while it
// comes up, following the retry shape of cmd/mutagen/daemon/connect.go's
// Connect but against internal/ipc + internal/rpctransport instead of grpc.
func connect(storageDirectory string, autostart bool) (*rpctransport.Connection, error) {
	endpoint := controlEndpointPath(storageDirectory)

	if autostartDisabled {
		autostart = false
	}

	statusLinePrinter := &cmd.StatusLinePrinter{UseStandardError: true}
	defer statusLinePrinter.BreakIfNonEmpty()

	remainingPostAutostartAttempts := autostartRetryCount
	invokedStart := false
	for {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := rpctransport.Open(ctx, func(ctx context.Context) (net.Conn, error) {
			return ipc.DialContext(ctx, endpoint)
		})
		cancel()

		if err == nil {
			if invokedStart {
				statusLinePrinter.Clear()
				statusLinePrinter.Print("Started sakerdaemon in background (terminate with \"sakerdaemon stop\")")
			}
			return conn, nil
		}

		if errors.Is(err, context.DeadlineExceeded) || os.IsNotExist(unwrapDialError(err)) {
			if autostart && remainingPostAutostartAttempts > 0 {
				if !invokedStart {
					statusLinePrinter.Print("Attempting to start sakerdaemon...")
					if startErr := startDaemonProcess(storageDirectory); startErr != nil {
						return nil, startErr
					}
					invokedStart = true
				}
				time.Sleep(autostartWaitInterval)
				remainingPostAutostartAttempts--
				continue
			}
			return nil, errors.New("connection timed out (is the daemon running?)")
		}

		return nil, err
	}
}

// unwrapDialError strips the wrapping that rpctransport.Open adds so that
// os.IsNotExist can still recognize a missing control socket.
func unwrapDialError(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}
