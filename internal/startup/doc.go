// Package startup sequences node bring-up: reuse a running node if one
// answers, else spawn one and wait for its IPC endpoint, then hand off to the
// main session or to onboarding.
//
// Ownership boundary:
// - the explicit state machine (Next) and its driver (Orchestrator.Run)
// - status events and the failure diagnostic bundle sent to the Reporter
// - splash log forwarding while the node starts
// - onboarding actions: network switch and launch
//
// Process control lives in internal/node, sockets in internal/ipc and request
// routing in internal/rpc.
package startup
