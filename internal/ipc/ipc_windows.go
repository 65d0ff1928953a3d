//go:build windows

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"

	"github.com/Microsoft/go-winio"
	"github.com/google/uuid"
)

// DialContext attempts to establish an IPC connection, timing out if the
// provided context expires.
func DialContext(ctx context.Context, path string) (net.Conn, error) {
	pipeNameBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read pipe name: %w", err)
	}
	return winio.DialPipeContext(ctx, string(pipeNameBytes))
}

// listener wraps a named pipe listener with cleanup of the pipe-name record
// file written alongside it.
type listener struct {
	net.Listener
	path string
}

// Close closes the listener and removes the pipe-name record.
func (l *listener) Close() error {
	if err := os.Remove(l.path); err != nil {
		l.Listener.Close()
		return fmt.Errorf("unable to remove pipe name record: %w", err)
	}
	return l.Listener.Close()
}

// NewListener creates a new IPC listener backed by a named pipe restricted
// to the current user's SID, recording the generated pipe name at path so
// that DialContext (running in another process) can find it. Grounded
// directly on the teacher's pkg/ipc/ipc_windows.go.
func NewListener(path string) (net.Listener, error) {
	randomUUID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("unable to generate UUID for named pipe: %w", err)
	}
	pipeName := fmt.Sprintf(`\\.\pipe\sakerbuild-daemon-%s`, randomUUID.String())

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("unable to look up current user: %w", err)
	}

	// Security Descriptor Definition Language string restricting the pipe to
	// the current user only; see the teacher's pkg/ipc/ipc_windows.go for the
	// full rationale and links to the relevant Win32 documentation.
	securityDescriptor := fmt.Sprintf("D:P(A;;GA;;;%s)", currentUser.Uid)

	configuration := &winio.PipeConfig{SecurityDescriptor: securityDescriptor}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to open endpoint: %w", err)
	}

	var successful bool
	defer func() {
		file.Close()
		if !successful {
			os.Remove(path)
		}
	}()

	rawListener, err := winio.ListenPipe(pipeName, configuration)
	if err != nil {
		return nil, err
	}

	if _, err := file.Write([]byte(pipeName)); err != nil {
		return nil, fmt.Errorf("unable to write pipe name: %w", err)
	}

	successful = true
	return &listener{Listener: rawListener, path: path}, nil
}
