package rpctransport

import (
	"context"
	"fmt"
	"net"
)

// Dialer abstracts how an outbound connection is established, so that
// cluster reconnection can dial either a TCP address or (in principle) any
// other net.Conn-producing transport without Open needing to know which.
type Dialer func(ctx context.Context) (net.Conn, error)

// Open dials using dialer and wraps the resulting connection, mirroring the
// teacher's rpc/opener.go counterpart to Acceptor.
func Open(ctx context.Context, dialer Dialer) (*Connection, error) {
	raw, err := dialer(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to establish connection: %w", err)
	}
	return newConnection(raw), nil
}

// DialTCP returns a Dialer that connects to address over TCP.
func DialTCP(address string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	}
}
