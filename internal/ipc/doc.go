// Package ipc owns the named local sockets nodectl opens to the node.
//
// Ownership boundary:
// - one Socket per name, handed out by Registry
// - connect with optional readiness window (backoff + directory watch)
// - concurrent teardown of every socket with aggregated failures
// - platform default endpoint for the node's IPC file
//
// Framing and request correlation live in internal/rpc; this package only
// produces and closes transports.
package ipc
