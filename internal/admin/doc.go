// Package admin serves nodectl's local HTTP control surface.
//
// Ownership boundary:
// - health, status and node log inspection
// - JSON-RPC passthrough to the node over the shared session
// - onboarding actions (network switch, launch)
// - prometheus metrics exposition
//
// The server only talks to a Backend; app.Service is the production one.
package admin
