//go:build windows

package node

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Windows has no SIGTERM for console children; graceful stop degrades to a
// kill and the grace period is skipped by the exit wait.
func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
