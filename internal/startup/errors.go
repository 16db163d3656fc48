package startup

import "errors"

var (
	ErrInvalidTransition = errors.New("startup: invalid transition")
	ErrStartInProgress   = errors.New("startup: start already in progress")
	ErrAlreadyStarted    = errors.New("startup: already handed off")
	ErrNotOnboarding     = errors.New("startup: not in onboarding")
	ErrUnmanagedNode     = errors.New("startup: node was not started by nodectl")
)
