// Package rpc multiplexes many local clients over one JSON-RPC connection
// to the node.
//
// Ownership boundary:
// - correlation ids: every outbound request gets a fresh id, the client's own
//   id is restored on the response
// - per-client ordering: a client's calls complete in the order issued
// - deadlines and cancellation of in-flight calls
// - fan-out of id-less frames (subscription notifications)
//
// The transport is any io.ReadWriteCloser, usually an ipc.Socket connection.
// Reconnecting after loss is the caller's concern.
package rpc
