package main

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/daemonenv"
	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

// controlRequest is the single request type accepted on the local control
// channel. Kind selects the operation. A single discriminated struct is
// used instead of a type union, mirroring internal/cluster/protocol.go's
// one-struct-per-call shape generalized to a handful of call kinds sharing
// one connection.
type controlRequest struct {
	Kind string
}

const (
	controlKindTerminate = "terminate"
	controlKindStatus    = "status"
)

// controlReply answers a controlRequest. Only the fields relevant to the
// request's Kind are populated.
type controlReply struct {
	Error         string
	StartedAt     time.Time
	Port          int
	EnvironmentID uuid.UUID
}

// newControlAcceptor starts serving controlRequests against env on
// listener, calling requestTermination when a terminate request arrives.
// It returns the underlying rpctransport.Acceptor so the caller can Stop it
// on shutdown.
func newControlAcceptor(listener net.Listener, env *daemonenv.Environment, startedAt time.Time, requestTermination func(), logger *logging.Logger) *rpctransport.Acceptor {
	return rpctransport.NewAcceptor(listener, func(conn *rpctransport.Connection) {
		var request controlRequest
		if err := conn.Receive(&request); err != nil {
			return
		}

		switch request.Kind {
		case controlKindTerminate:
			requestTermination()
			conn.Send(controlReply{})
		case controlKindStatus:
			reply := controlReply{StartedAt: startedAt}
			if runtime, ok := env.RuntimeLaunchConfiguration(); ok {
				reply.Port = runtime.Port
				reply.EnvironmentID = runtime.EnvironmentID
			}
			conn.Send(reply)
		default:
			conn.SendError(unknownControlKindError{request.Kind})
		}
	}, logger)
}

// unknownControlKindError is sent back to a control client that issues a
// request kind this daemon version doesn't recognize.
type unknownControlKindError struct {
	kind string
}

func (e unknownControlKindError) Error() string {
	return "unknown control request kind: " + e.kind
}
