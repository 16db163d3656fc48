package node

import "errors"

var (
	ErrProcessSpawnFailed = errors.New("node: process spawn failed")
	ErrProcessCrashed     = errors.New("node: process exited unexpectedly")
	ErrUnknownKind        = errors.New("node: unknown node kind")
	ErrUnknownNetwork     = errors.New("node: unknown network")
	ErrStopInProgress     = errors.New("node: stop in progress")
	ErrStopTimeout        = errors.New("node: process did not exit after kill")
	ErrNotRunning         = errors.New("node: not running")
)
