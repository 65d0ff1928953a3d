// Windows file locking implementation based on (but heavily modified from)
// https://github.com/golang/build/blob/4821e1d4e1dd5d386f53f1e869ced293dd18f44a/cmd/builder/filemutex_windows.go.
//
// The original code license:
//
// Copyright (c) 2009 The Go Authors. All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
//    * Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//    * Redistributions in binary form must reproduce the above
// copyright notice, this list of conditions and the following disclaimer
// in the documentation and/or other materials provided with the
// distribution.
//    * Neither the name of Google Inc. nor the names of its
// contributors may be used to endorse or promote products derived from
// this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
//
// The original license header inside the code itself:
//
// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locking

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32     = windows.NewLazySystemDLL("kernel32.dll")
	lockFileEx   = kernel32.NewProc("LockFileEx")
	unlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 2
	lockfileFailImmediately = 1
)

// RegionLock describes a byte range within a file. Length of 0 is not
// treated specially on Windows (unlike the POSIX flock semantics); callers
// must supply the exact region size.
type RegionLock struct {
	Offset int64
	Length int64
}

func callLockFileEx(handle syscall.Handle, flags, reserved, lockLow, lockHigh uint32, overlapped *syscall.Overlapped) (err error) {
	r1, _, e1 := syscall.Syscall6(
		lockFileEx.Addr(), 6,
		uintptr(handle), uintptr(flags), uintptr(reserved),
		uintptr(lockLow), uintptr(lockHigh), uintptr(unsafe.Pointer(overlapped)),
	)
	if r1 == 0 {
		if e1 != 0 {
			err = error(e1)
		} else {
			err = syscall.EINVAL
		}
	}
	return
}

func callUnlockFileEx(handle syscall.Handle, reserved, lockLow, lockHigh uint32, overlapped *syscall.Overlapped) (err error) {
	r1, _, e1 := syscall.Syscall6(
		unlockFileEx.Addr(), 5,
		uintptr(handle), uintptr(reserved),
		uintptr(lockLow), uintptr(lockHigh), uintptr(unsafe.Pointer(overlapped)), 0,
	)
	if r1 == 0 {
		if e1 != 0 {
			err = error(e1)
		} else {
			err = syscall.EINVAL
		}
	}
	return
}

func overlappedFor(offset int64) syscall.Overlapped {
	return syscall.Overlapped{
		Offset:     uint32(offset & 0xFFFFFFFF),
		OffsetHigh: uint32(offset >> 32),
	}
}

// LockExclusive acquires an exclusive lock on the given region.
func (l *Locker) LockExclusive(region RegionLock, block bool) error {
	ol := overlappedFor(region.Offset)
	flags := uint32(lockfileExclusiveLock)
	if !block {
		flags |= lockfileFailImmediately
	}
	length := uint64(region.Length)
	return callLockFileEx(syscall.Handle(l.file.Fd()), flags, 0, uint32(length&0xFFFFFFFF), uint32(length>>32), &ol)
}

// LockShared acquires a shared lock on the given region. Windows has no
// separate shared-lock flag for LockFileEx beyond omitting the exclusive
// bit.
func (l *Locker) LockShared(region RegionLock, block bool) error {
	ol := overlappedFor(region.Offset)
	var flags uint32
	if !block {
		flags |= lockfileFailImmediately
	}
	length := uint64(region.Length)
	return callLockFileEx(syscall.Handle(l.file.Fd()), flags, 0, uint32(length&0xFFFFFFFF), uint32(length>>32), &ol)
}

// Unlock releases any lock held on the given region.
func (l *Locker) Unlock(region RegionLock) error {
	ol := overlappedFor(region.Offset)
	length := uint64(region.Length)
	return callUnlockFileEx(syscall.Handle(l.file.Fd()), 0, uint32(length&0xFFFFFFFF), uint32(length>>32), &ol)
}
