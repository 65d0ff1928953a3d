// Command slotlocktest is a helper binary used by slotlock's tests to
// exercise cross-process exclusion. POSIX advisory locks are associated with
// the (process, inode) pair rather than the individual file descriptor, so
// two *locking.Locker values opened within the same test process never
// contend with one another; acquiring a slot from a genuinely separate
// process is the only way to observe real contention.
package main

import (
	"fmt"
	"os"

	"github.com/sakerbuild/daemon/internal/slotlock"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: slotlocktest <lock-file-path>")
		os.Exit(2)
	}
	path := os.Args[1]

	file, err := slotlock.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to open lock file:", err)
		os.Exit(1)
	}
	defer file.Close()

	slot, err := slotlock.Acquire(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "slot acquisition failed:", err)
		os.Exit(1)
	}

	if err := slot.LockData(); err != nil {
		fmt.Fprintln(os.Stderr, "data lock failed:", err)
		os.Exit(1)
	}
	if err := slot.Publish(60000); err != nil {
		fmt.Fprintln(os.Stderr, "publish failed:", err)
		os.Exit(1)
	}
	if err := slot.UnlockData(); err != nil {
		fmt.Fprintln(os.Stderr, "data unlock failed:", err)
		os.Exit(1)
	}

	fmt.Printf("slot %d acquired\n", slot.Index)

	if err := slot.Release(); err != nil {
		fmt.Fprintln(os.Stderr, "release failed:", err)
		os.Exit(1)
	}
}
