// Package node supervises the external blockchain client process.
//
// Ownership boundary:
// - binary resolution and launch arguments per node kind and network
//
// - process lifecycle: spawn, crash detection, graceful stop, force kill
//
// - output fan-out and the rolling diagnostic log
//
// Lifecycle order:
// - stopped -> starting -> running -> stopping -> stopped
//
// - running -> crashed on unexpected exit; stop() resets crashed to stopped.
//
// The supervisor does not decide when the node's service is ready. Readiness
// is established by connecting to the node's IPC endpoint (package ipc).
package node
