//go:build !windows

package main

import "syscall"

// daemonProcessAttributes are the process attributes used when forking the
// background daemon process, grounded directly on
// cmd/mutagen/daemon/start_posix.go.
var daemonProcessAttributes = &syscall.SysProcAttr{
	Setsid: true,
}
