//go:build !windows

package node

import (
	"errors"

	"golang.org/x/sys/unix"
)

func terminateGroup(pid int) error {
	return ignoreGone(unix.Kill(-pid, unix.SIGTERM))
}

func killGroup(pid int) error {
	return ignoreGone(unix.Kill(-pid, unix.SIGKILL))
}

func ignoreGone(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
