package startup

import "fmt"

// State is a step of the startup sequence.
type State int

const (
	StateInit State = iota
	StateTryExistingConnection
	StateSpawningNode
	StateWaitingForReady
	StateConnected
	StateOnboarding
	StateFailed
	StateMain
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateTryExistingConnection:
		return "try_existing_connection"
	case StateSpawningNode:
		return "spawning_node"
	case StateWaitingForReady:
		return "waiting_for_ready"
	case StateConnected:
		return "connected"
	case StateOnboarding:
		return "onboarding"
	case StateFailed:
		return "failed"
	case StateMain:
		return "main"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further event can leave s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateMain
}

// Event drives a transition.
type Event int

const (
	EventBegin Event = iota
	EventConnectOK
	EventConnectFailed
	EventSpawnOK
	EventSpawnFailed
	EventReadyOK
	EventReadyTimeout
	EventNodeExited
	EventSyncMain
	EventSyncOnboarding
	EventLaunch
)

func (e Event) String() string {
	switch e {
	case EventBegin:
		return "begin"
	case EventConnectOK:
		return "connect_ok"
	case EventConnectFailed:
		return "connect_failed"
	case EventSpawnOK:
		return "spawn_ok"
	case EventSpawnFailed:
		return "spawn_failed"
	case EventReadyOK:
		return "ready_ok"
	case EventReadyTimeout:
		return "ready_timeout"
	case EventNodeExited:
		return "node_exited"
	case EventSyncMain:
		return "sync_main"
	case EventSyncOnboarding:
		return "sync_onboarding"
	case EventLaunch:
		return "launch"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StateInit, EventBegin}:                          StateTryExistingConnection,
	{StateTryExistingConnection, EventConnectOK}:     StateConnected,
	{StateTryExistingConnection, EventConnectFailed}: StateSpawningNode,
	{StateSpawningNode, EventSpawnOK}:                StateWaitingForReady,
	{StateSpawningNode, EventSpawnFailed}:            StateFailed,
	{StateWaitingForReady, EventReadyOK}:             StateConnected,
	{StateWaitingForReady, EventReadyTimeout}:        StateFailed,
	{StateWaitingForReady, EventNodeExited}:          StateFailed,
	{StateConnected, EventSyncMain}:                  StateMain,
	{StateConnected, EventSyncOnboarding}:            StateOnboarding,
	{StateOnboarding, EventLaunch}:                   StateMain,
}

// Next returns the state that follows s on e.
func Next(s State, e Event) (State, error) {
	next, ok := transitions[transitionKey{from: s, event: e}]
	if !ok {
		return s, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, s, e)
	}
	return next, nil
}
