//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
)

// DialContext attempts to establish an IPC connection, timing out if the
// provided context expires.
func DialContext(ctx context.Context, path string) (net.Conn, error) {
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, "unix", path)
}

// NewListener creates a new IPC listener bound to a Unix domain socket at
// path, restricted to the current user.
func NewListener(path string) (net.Listener, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, errors.Wrap(err, "unable to set socket permissions")
	}

	return listener, nil
}
