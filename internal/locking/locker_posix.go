//go:build !windows && !plan9

// TODO: Figure out what to do for Plan 9. It doesn't support FcntlFlock at
// all, and while os.O_EXCL could ~emulate whole-file locking, it doesn't
// extend to byte-range locks and wouldn't auto-release if a process died.

package locking

import (
	"os"
	"syscall"
)

// RegionLock describes a byte range within a file, expressed the way
// syscall.Flock_t wants it: a starting offset and a length, with a length of
// 0 meaning "to the end of the file".
type RegionLock struct {
	Offset int64
	Length int64
}

func (l *Locker) flock(region RegionLock, lockType int16, block bool) error {
	spec := syscall.Flock_t{
		Type:   lockType,
		Whence: int16(os.SEEK_SET),
		Start:  region.Offset,
		Len:    region.Length,
	}
	operation := syscall.F_SETLK
	if block {
		operation = syscall.F_SETLKW
	}
	return syscall.FcntlFlock(l.file.Fd(), operation, &spec)
}

// LockExclusive attempts to acquire an exclusive (write) lock on the given
// region. If block is false, the call returns immediately with an error if
// the region is already locked by another process.
func (l *Locker) LockExclusive(region RegionLock, block bool) error {
	return l.flock(region, syscall.F_WRLCK, block)
}

// LockShared attempts to acquire a shared (read) lock on the given region. A
// shared lock succeeds only if no process holds an exclusive lock on (any
// overlapping part of) the region.
func (l *Locker) LockShared(region RegionLock, block bool) error {
	return l.flock(region, syscall.F_RDLCK, block)
}

// Unlock releases any lock this Locker holds on the given region.
func (l *Locker) Unlock(region RegionLock) error {
	return l.flock(region, syscall.F_UNLCK, false)
}
