// Package app is the nodectl composition root.
//
// It builds the node supervisor, the IPC socket registry and the startup
// orchestrator from one Config, drives startup through to the main session,
// and owns the quit path: destroy sockets, wait the quit delay, stop the node.
package app
