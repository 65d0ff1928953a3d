// Package rpctransport implements the lightweight object-streaming RPC
// substrate that the daemon is built on. It is adapted from the teacher
// repository's own original gob-based RPC layer (github.com/mutagen-io/mutagen's
// top-level rpc/ package, predating its later move to gRPC-generated
// services), because this specification's RPC surface needs two primitives
// that a statically-generated protobuf service description cannot express
// without per-release codegen: per-connection context variables (arbitrary
// named values attached to a connection and fetched by name from the other
// side) and per-connection class-resolver registration (the receiving side
// needs to be able to decode message types it only learns about at runtime,
// which maps onto gob's Register mechanism). See DESIGN.md for the fuller
// rationale and for why google.golang.org/grpc was not used here.
package rpctransport

import (
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// messageHeader precedes every encoded message and carries error
// information, mirroring the teacher's rpc/stream.go framing.
type messageHeader struct {
	Errored bool
	Error   string
}

// RemoteError wraps an error message that originated on the other end of a
// Stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

// Stream provides bidirectional object streaming over a net.Conn using gob
// encoding. It is the daemon's stand-in for the "bidirectional object
// proxies" that spec.md treats as an assumed transport capability.
type Stream struct {
	conn    net.Conn
	encoder *gob.Encoder
	decoder *gob.Decoder
	errored bool
}

// NewStream wraps conn in a Stream.
func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn:    conn,
		encoder: gob.NewEncoder(conn),
		decoder: gob.NewDecoder(conn),
	}
}

// Send encodes and transmits a value.
func (s *Stream) Send(value interface{}) error {
	if s.errored {
		return fmt.Errorf("stream is errored")
	}
	if err := s.encoder.Encode(messageHeader{}); err != nil {
		s.errored = true
		return fmt.Errorf("unable to encode message header: %w", err)
	}
	if err := s.encoder.Encode(value); err != nil {
		s.errored = true
		return fmt.Errorf("unable to encode message: %w", err)
	}
	return nil
}

// SendError transmits a terminal error to the other end of the stream. No
// further Send calls are valid on this Stream afterward.
func (s *Stream) SendError(remoteErr error) error {
	if s.errored {
		return fmt.Errorf("stream is already errored")
	}
	s.errored = true
	header := messageHeader{Errored: true, Error: remoteErr.Error()}
	if err := s.encoder.Encode(header); err != nil {
		s.conn.Close()
		return fmt.Errorf("unable to encode error header: %w", err)
	}
	return nil
}

// Receive decodes the next value off the stream into value, which must be a
// pointer. If the remote side called SendError, Receive returns a
// *RemoteError. A clean stream close is surfaced as io.EOF, unwrapped, so
// that callers can use it to detect orderly termination.
func (s *Stream) Receive(value interface{}) error {
	if s.errored {
		return fmt.Errorf("stream is errored")
	}
	var header messageHeader
	if err := s.decoder.Decode(&header); err != nil {
		s.errored = true
		if err == io.EOF {
			return err
		}
		return fmt.Errorf("unable to decode message header: %w", err)
	}
	if header.Errored {
		s.errored = true
		return &RemoteError{Message: header.Error}
	}
	if err := s.decoder.Decode(value); err != nil {
		s.errored = true
		return fmt.Errorf("unable to decode message: %w", err)
	}
	return nil
}

// Close closes the underlying connection, unblocking any in-progress Send
// or Receive call.
func (s *Stream) Close() error {
	return s.conn.Close()
}
