package node

import "syscall"

// sysProcAttr puts the node in its own process group so stop signals reach
// any helpers it forks. Pdeathsig takes the node down if nodectl dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
