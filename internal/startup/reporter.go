package startup

import (
	"fmt"
	"runtime"
	"strings"

	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
)

// Status keys understood by the UI.
const (
	StatusStartingNode          = "startingNode"
	StatusStartedNode           = "startedNode"
	StatusRunningNodeFound      = "runningNodeFound"
	StatusNodeBinaryNotFound    = "nodeBinaryNotFound"
	StatusNodeConnectionTimeout = "nodeConnectionTimeout"
	StatusNodeSyncing           = "nodeSyncing"
	StatusChangedNetwork        = "changedNetwork"
	StatusNodeNotManaged        = "nodeNotManaged"
	StatusLogText               = "logText"
)

// Diagnostic message keys.
const (
	DiagnosticNodeConnect = "nodeConnect"
	DiagnosticNodeStartup = "nodeStartup"
)

const diagnosticLogBytes = 1000

// StatusEvent is one progress message for the UI. Detail carries the
// argument of the key, e.g. the IPC path or a node log line.
type StatusEvent struct {
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
}

// Diagnostic is the bundle shown when the node cannot be reached.
type Diagnostic struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Network     string `json:"network"`
	GOOS        string `json:"goos"`
	GOARCH      string `json:"goarch"`
	NodeVersion string `json:"node_version,omitempty"`
	Log         string `json:"log"`
	Err         string `json:"error,omitempty"`
}

// Detail renders the bundle as dialog text.
func (d Diagnostic) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Node type: %s\n", d.Kind)
	fmt.Fprintf(&b, "Network: %s\n", d.Network)
	fmt.Fprintf(&b, "Platform: %s (Architecture %s)\n", d.GOOS, d.GOARCH)
	if d.NodeVersion != "" {
		fmt.Fprintf(&b, "Node version: %s\n", d.NodeVersion)
	}
	b.WriteString("\n")
	b.WriteString(d.Log)
	return b.String()
}

// NewDiagnostic assembles the bundle from the node log tail. An empty log is
// replaced by the nodeStartup message key.
func NewDiagnostic(kind, network, version, logTail string, err error) Diagnostic {
	d := Diagnostic{
		Key:         DiagnosticNodeConnect,
		Kind:        kind,
		Network:     network,
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		NodeVersion: version,
		Log:         DiagnosticNodeStartup,
	}
	if logTail != "" {
		d.Log = "..." + node.TailBytes(logTail, diagnosticLogBytes)
	}
	if err != nil {
		d.Err = err.Error()
	}
	return d
}

// Reporter receives startup progress and the failure diagnostic.
type Reporter interface {
	Status(StatusEvent)
	Fatal(Diagnostic)
}

// LogReporter writes events to the application log.
type LogReporter struct{}

func (LogReporter) Status(ev StatusEvent) {
	if ev.Key == StatusLogText {
		logs.Debugf("startup.status key=%s detail=%q", ev.Key, ev.Detail)
		return
	}
	logs.Infof("startup.status key=%s detail=%q", ev.Key, ev.Detail)
}

func (LogReporter) Fatal(d Diagnostic) {
	logs.Errf("startup.fatal key=%s err=%q\n%s", d.Key, d.Err, d.Detail())
}
