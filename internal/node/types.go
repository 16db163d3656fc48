package node

import "time"

// State is the lifecycle state of the supervised process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Active reports whether a process is (or is about to be) alive.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

// Line is one line of node output, or a crash notice when Crash is set.
type Line struct {
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
	Crash  bool      `json:"crash,omitempty"`
}

// Process is a point-in-time snapshot of the supervised node.
type Process struct {
	Kind      string    `json:"kind"`
	Network   string    `json:"network"`
	State     string    `json:"state"`
	Binary    string    `json:"binary,omitempty"`
	Args      []string  `json:"args,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitError string    `json:"exit_error,omitempty"`
}
