package rpc

import "errors"

var (
	ErrRequestTimeout   = errors.New("rpc: request timeout")
	ErrCancelled        = errors.New("rpc: request cancelled")
	ErrNotAttached      = errors.New("rpc: no connection attached")
	ErrAlreadyAttached  = errors.New("rpc: connection already attached")
	ErrDuplicateClient  = errors.New("rpc: client already registered")
	ErrInvalidRequest   = errors.New("rpc: invalid request")
	ErrConnectionClosed = errors.New("rpc: connection closed")
)
