// Package locking provides byte-range file locking, generalizing the
// teacher's whole-file locker (github.com/mutagen-io/mutagen's
// pkg/filesystem/locking) to lock arbitrary (offset, length) regions of a
// single file. This is the substrate the slot lock file (internal/slotlock)
// is built on: the data region and the slot-lock region of the lock file
// are disjoint byte ranges of the same underlying file descriptor.
package locking

import (
	"os"

	"github.com/pkg/errors"
)

// Locker provides byte-range file locking facilities on top of a single open
// file. Multiple Lockers may be created against the same path (each call to
// NewLocker opens its own file descriptor). On POSIX, fcntl locks belong to
// the process, not the descriptor: Lockers in one process never contend with
// each other, and closing any of them releases every lock the process holds
// on the file.
type Locker struct {
	// file is the underlying file object to be locked.
	file *os.File
}

// NewLocker opens (creating if necessary) the file at path and returns a
// Locker over it. No region is locked until Lock is called.
func NewLocker(path string, permissions os.FileMode) (*Locker, error) {
	mode := os.O_RDWR | os.O_CREATE
	file, err := os.OpenFile(path, mode, permissions)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open lock file")
	}
	return &Locker{file: file}, nil
}

// File exposes the underlying *os.File for callers that need to read or
// write the locked region directly (e.g. the slot lock's data region).
func (l *Locker) File() *os.File {
	return l.file
}

// Close closes the underlying file. Any locks held through this Locker are
// released by the OS when the descriptor is closed.
func (l *Locker) Close() error {
	return l.file.Close()
}
