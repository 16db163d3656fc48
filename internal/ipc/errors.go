package ipc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrConnectionRefused = errors.New("ipc: connection refused")
	ErrConnectionTimeout = errors.New("ipc: connection timeout")
	ErrConnectInProgress = errors.New("ipc: connect already in progress")
	ErrSocketDestroyed   = errors.New("ipc: socket destroyed")
	ErrAggregateShutdown = errors.New("ipc: socket shutdown failed")
)

// ShutdownError carries every per-socket failure from Registry.DestroyAll.
type ShutdownError struct {
	Failures map[string]error
}

func (e *ShutdownError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("%v (%s)", ErrAggregateShutdown, strings.Join(parts, "; "))
}

func (e *ShutdownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrAggregateShutdown)
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
