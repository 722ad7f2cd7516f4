package proc

import (
	"errors"
	"os"
	"syscall"
)

// Alive reports whether a process with the given pid currently exists. The
// check is performed fresh on every call and never cached: pids here are
// shared between independent short-lived invocations through the state and
// lock files, so any cached answer would be stale by definition.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the pid exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
