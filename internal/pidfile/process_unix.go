//go:build !windows

package pidfile

import (
	"errors"
	"os"
	"syscall"
)

// isProcessRunning checks if a process with the given PID is running (Unix)
func isProcessRunning(pid int) (bool, string) {
	if pid <= 0 {
		return false, "invalid pid"
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	// Signal 0 checks for existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return false, "process has finished"
		}
		if errors.Is(err, syscall.EPERM) {
			return true, ""
		}
		return false, "cannot signal process"
	}

	return true, ""
}
