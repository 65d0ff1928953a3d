//go:build windows

package slotlock

import (
	"fmt"
	"os/user"

	"github.com/hectane/go-acl"
)

// hardenDirectory restricts the storage directory (and hence the lock file
// within it) to the current user on Windows, where a POSIX-style mode bit
// passed to os.MkdirAll has no effect on the file's actual ACL. Grounded on
// the teacher's pkg/filesystem/permissions_windows.go, which uses the same
// library (github.com/hectane/go-acl) to apply an explicit ACL rather than
// relying on inherited permissions.
func hardenDirectory(path string) error {
	current, err := user.Current()
	if err != nil {
		return fmt.Errorf("unable to look up current user: %w", err)
	}
	if err := acl.Chmod(path, 0700); err != nil {
		return fmt.Errorf("unable to set directory ACL for %s: %w", current.Username, err)
	}
	return nil
}
