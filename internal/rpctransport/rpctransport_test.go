package rpctransport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sakerbuild/daemon/internal/logging"
)

type pingMessage struct {
	Text string
}

func TestAcceptorOpenerRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan string, 1)
	acceptor := NewAcceptor(listener, func(conn *Connection) {
		var msg pingMessage
		if err := conn.Receive(&msg); err != nil {
			if err != io.EOF {
				t.Error(err)
			}
			return
		}
		received <- msg.Text
		if err := conn.Send(&pingMessage{Text: "pong"}); err != nil {
			t.Error(err)
		}
	}, logging.NewLogger(nil, logging.LevelDisabled))
	defer acceptor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Open(ctx, DialTCP(listener.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Send(&pingMessage{Text: "ping"}); err != nil {
		t.Fatal(err)
	}

	select {
	case text := <-received:
		if text != "ping" {
			t.Fatalf("expected %q, got %q", "ping", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}

	var reply pingMessage
	if err := conn.Receive(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Text != "pong" {
		t.Fatalf("expected %q, got %q", "pong", reply.Text)
	}
}

func TestStreamSendError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverStream := NewStream(server)
	clientStream := NewStream(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serverStream.SendError(errNotFound)
	}()

	var reply pingMessage
	err := clientStream.Receive(&reply)
	<-done
	if err == nil {
		t.Fatal("expected an error")
	}
	remoteErr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("expected *RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Message != errNotFound.Error() {
		t.Fatalf("expected message %q, got %q", errNotFound.Error(), remoteErr.Message)
	}
}

func TestConnectionVariablesAndResolver(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	conn := newConnection(server)

	if _, ok := conn.Variable("identity"); ok {
		t.Fatal("expected no variable set yet")
	}
	conn.SetVariable("identity", "client-1")
	v, ok := conn.Variable("identity")
	if !ok || v.(string) != "client-1" {
		t.Fatalf("expected identity=client-1, got %v, %v", v, ok)
	}

	if err := conn.Resolver().Register("ping", &pingMessage{}); err != nil {
		t.Fatal(err)
	}
	value, err := conn.Resolver().New("ping")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := value.(*pingMessage); !ok {
		t.Fatalf("expected *pingMessage, got %T", value)
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errNotFound = sentinelError("not found")
