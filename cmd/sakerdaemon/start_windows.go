package main

import "syscall"

// detachedProcess mirrors the Win32 DETACHED_PROCESS creation flag used by
// cmd/mutagen/daemon/start_windows.go to keep the forked daemon from
// inheriting a console.
const detachedProcess = 0x00000008

// daemonProcessAttributes are the process attributes used when forking the
// background daemon process on Windows, grounded directly on
// cmd/mutagen/daemon/start_windows.go.
var daemonProcessAttributes = &syscall.SysProcAttr{
	CreationFlags: detachedProcess | syscall.CREATE_NEW_PROCESS_GROUP,
}
