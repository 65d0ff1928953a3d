// Package slotlock implements the daemon's multi-instance coordination
// primitive: a single lock file, shared by every daemon instance pointed at
// the same storage directory, that atomically allocates one slot per running
// daemon and publishes that daemon's listening port so other processes can
// enumerate live daemons without races.
//
// The file has two disjoint byte regions:
//
//   - the data region, bytes [0, 4*SlotCount), four bytes per slot holding
//     the slot's published port as a big-endian uint32 (0 meaning "not in
//     use, or still initializing");
//   - the slot-lock region, bytes [slotLockRegionOffset,
//     slotLockRegionOffset+4*SlotCount), never read or written, used purely
//     as OS-level lock-granularity substrate.
//
// The slot-lock region's offset is fixed at 2^62 so that it can never
// overlap the data region regardless of SlotCount, and so that any daemon
// build sharing a storage directory agrees on the layout. This value is part
// of the on-disk contract and must not change.
package slotlock

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sakerbuild/daemon/internal/locking"
	"github.com/sakerbuild/daemon/internal/logging"
)

const (
	// SlotCount is the number of slots in the lock file, and therefore the
	// maximum number of daemons that may run concurrently against a single
	// storage directory.
	SlotCount = 65535
	// slotLockRegionOffset is the byte offset of the slot-lock region. It is
	// chosen far beyond any plausible data-region size to keep the two
	// regions trivially non-overlapping, and must be preserved verbatim for
	// cross-version on-disk compatibility.
	slotLockRegionOffset = int64(1) << 62
	// bytesPerSlot is the number of bytes used to store one slot's port in
	// the data region.
	bytesPerSlot = 4
	// FileName is the conventional name of the lock file within a daemon's
	// storage directory.
	FileName = ".lock.daemon"
)

// ErrTooManyDaemons is returned by Acquire when every slot is already held
// by another daemon instance.
var ErrTooManyDaemons = fmt.Errorf("no free daemon slot (maximum of %d concurrent daemons reached)", SlotCount)

func dataRegion(slot int) locking.RegionLock {
	return locking.RegionLock{Offset: int64(slot) * bytesPerSlot, Length: bytesPerSlot}
}

func slotLockRegion(slot int) locking.RegionLock {
	return locking.RegionLock{Offset: slotLockRegionOffset + int64(slot)*bytesPerSlot, Length: bytesPerSlot}
}

// File wraps a single open lock-file descriptor. Enumeration callers should
// use Enumerate, which opens its own transient File; a daemon acquiring a
// slot should use Acquire, which keeps a File open (and its slot-lock held)
// for the daemon's entire lifetime.
type File struct {
	locker *locking.Locker
	path   string
}

// Open opens (creating if necessary) the lock file at path.
func Open(path string) (*File, error) {
	locker, err := locking.NewLocker(path, 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to open slot lock file: %w", err)
	}
	return &File{locker: locker, path: path}, nil
}

// Close closes the underlying file descriptor, releasing any locks it held.
func (f *File) Close() error {
	return f.locker.Close()
}

// Slot represents one acquired slot: an index, the fact that its slot-lock
// region is held by this process for as long as the Slot is open, and its
// currently-published port (0 until Publish is called).
type Slot struct {
	file  *File
	Index int
	port  uint32
}

// Acquire scans slots [0, SlotCount) and takes the first whose slot-lock
// region is free, via a non-blocking exclusive lock. The slot-lock is held
// for the lifetime of the returned Slot (i.e. until its file is closed).
// Acquire does not publish a port; callers must call Publish once the
// daemon's listening port (if any) is known, while still holding the data
// lock obtained via LockData.
func Acquire(file *File) (*Slot, error) {
	for i := 0; i < SlotCount; i++ {
		err := file.locker.LockExclusive(slotLockRegion(i), false)
		if err == nil {
			return &Slot{file: file, Index: i}, nil
		}
	}
	return nil, ErrTooManyDaemons
}

// LockData blocks until this slot's data-region lock is acquired. Callers
// must release it via UnlockData before returning control to other daemon
// startup paths; the region should be held only briefly, bracketing
// environment construction and the initial port write.
func (s *Slot) LockData() error {
	return s.file.locker.LockExclusive(dataRegion(s.Index), true)
}

// UnlockData releases the data-region lock acquired via LockData.
func (s *Slot) UnlockData() error {
	return s.file.locker.Unlock(dataRegion(s.Index))
}

// Publish writes the slot's port into the data region. The caller must hold
// the data lock (see LockData) for the duration of the write.
func (s *Slot) Publish(port uint32) error {
	var buf [bytesPerSlot]byte
	binary.BigEndian.PutUint32(buf[:], port)
	if _, err := s.file.locker.File().WriteAt(buf[:], int64(s.Index)*bytesPerSlot); err != nil {
		return fmt.Errorf("unable to write slot port: %w", err)
	}
	s.port = port
	return nil
}

// Release releases the slot-lock region held by this slot, making the slot
// available to other processes. It does not close the underlying File.
func (s *Slot) Release() error {
	return s.file.locker.Unlock(slotLockRegion(s.Index))
}

// Enumerate opens path read-only (well, read-write since locking requires an
// open-for-write descriptor on some platforms, but performs no writes) and
// returns the ports of all currently live daemons.
//
// For each slot it attempts a non-blocking shared lock on the slot-lock
// bytes:
//
//   - success means the slot is free (no live daemon); as an optimization,
//     the remaining range is bisected (upper half first, then lower half) to
//     terminate early once both halves are confirmed entirely free, which
//     avoids serializing concurrent daemon startups that would otherwise
//     contend on a single "scan from zero" enumerator;
//   - failure means the slot is held; a blocking shared lock is then taken
//     on the *data* region (waiting out any initializer that is still
//     between LockData and UnlockData) and the published port is read.
//
// Known limitation: if the file has only one free slot and an enumerator
// holds it in shared mode for the optimization above, a concurrent daemon
// start will observe no free slot until the enumerator finishes. This is
// accepted; realistic daemon counts stay far below SlotCount.
func Enumerate(path string, logger *logging.Logger) ([]uint32, error) {
	locker, err := locking.NewLocker(path, 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to open slot lock file: %w", err)
	}
	defer locker.Close()

	var ports []uint32
	i := 0
	for i < SlotCount {
		if rangeFree(locker, i, SlotCount-i) {
			break
		}
		free := locker.LockShared(slotLockRegion(i), false) == nil
		if free {
			locker.Unlock(slotLockRegion(i))
			i++
			continue
		}

		if err := locker.LockShared(dataRegion(i), true); err != nil {
			logger.Warnf("unable to lock data region for slot %d: %v", i, err)
			i++
			continue
		}
		var buf [bytesPerSlot]byte
		_, readErr := locker.File().ReadAt(buf[:], int64(i)*bytesPerSlot)
		locker.Unlock(dataRegion(i))
		if readErr != nil {
			logger.Warnf("unable to read port for slot %d: %v", i, readErr)
			i++
			continue
		}
		if port := binary.BigEndian.Uint32(buf[:]); port > 0 {
			ports = append(ports, port)
		}
		i++
	}
	return ports, nil
}

// rangeFree performs the two-phase bisection optimization described in
// Enumerate: it attempts shared locks on the upper half of [start,
// start+length) then the lower half, and reports true (the whole range is
// free) only if both succeed. Locks taken during the probe are released
// immediately regardless of outcome.
func rangeFree(locker *locking.Locker, start, length int) bool {
	if length <= 0 {
		return true
	}
	upperStart := start + length/2
	upperLength := length - length/2
	if !halfFree(locker, upperStart, upperLength) {
		return false
	}
	lowerLength := length / 2
	if lowerLength == 0 {
		return true
	}
	return halfFree(locker, start, lowerLength)
}

func halfFree(locker *locking.Locker, start, length int) bool {
	region := locking.RegionLock{
		Offset: slotLockRegionOffset + int64(start)*bytesPerSlot,
		Length: int64(length) * bytesPerSlot,
	}
	if err := locker.LockShared(region, false); err != nil {
		return false
	}
	locker.Unlock(region)
	return true
}

// StorageLockPath computes the conventional lock-file path for a storage
// directory, creating the directory if it does not already exist.
func StorageLockPath(storageDirectory string) (string, error) {
	if err := os.MkdirAll(storageDirectory, 0700); err != nil {
		return "", fmt.Errorf("unable to create storage directory: %w", err)
	}
	if err := hardenDirectory(storageDirectory); err != nil {
		return "", fmt.Errorf("unable to harden storage directory permissions: %w", err)
	}
	return storageDirectory + string(os.PathSeparator) + FileName, nil
}
