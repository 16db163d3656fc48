package startup

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/nodectl/internal/broadcast"
	"github.com/danmuck/nodectl/internal/ipc"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/rpc"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "nodectl")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "geth.ipc")
}

// serveNode answers eth_syncing on a unix socket at path.
func serveNode(path, syncResult string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				dec := json.NewDecoder(conn)
				for {
					var req rpc.Message
					if err := dec.Decode(&req); err != nil {
						return
					}
					if req.Method == "eth_syncing" {
						fmt.Fprintf(conn, `{"jsonrpc":"2.0","id":%s,"result":%s}`+"\n", req.ID, syncResult)
					}
				}
			}(conn)
		}
	}()
	return ln, nil
}

type recorder struct {
	mu       sync.Mutex
	statuses []StatusEvent
	fatals   []Diagnostic
}

func (r *recorder) Status(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recorder) Fatal(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, d)
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.statuses))
	for _, ev := range r.statuses {
		if ev.Key != StatusLogText {
			keys = append(keys, ev.Key)
		}
	}
	return keys
}

func (r *recorder) logTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var texts []string
	for _, ev := range r.statuses {
		if ev.Key == StatusLogText {
			texts = append(texts, ev.Detail)
		}
	}
	return texts
}

func (r *recorder) fatalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fatals)
}

// fakeNode stands in for node.Supervisor. When listen is set, Start brings up
// the IPC endpoint after delay. A non-empty crash is published as a crash line
// after the regular output.
type fakeNode struct {
	t          *testing.T
	path       string
	listen     bool
	delay      time.Duration
	syncResult string
	lines      []string
	crash      string
	logTail    string

	mu         sync.Mutex
	starts     int
	restarts   int
	network    string
	startErr   error
	restartErr error
	ln         net.Listener
	out        *broadcast.Broadcaster[node.Line]
}

func newFakeNode(t *testing.T, path string) *fakeNode {
	f := &fakeNode{t: t, path: path, listen: true, syncResult: "false", out: broadcast.New[node.Line]()}
	t.Cleanup(f.close)
	return f
}

func (f *fakeNode) Subscribe(buffer int) (*broadcast.Subscription[node.Line], error) {
	return f.out.Subscribe(buffer)
}

func (f *fakeNode) Unsubscribe(sub *broadcast.Subscription[node.Line]) {
	f.out.Unsubscribe(sub)
}

func (f *fakeNode) Start(_ context.Context, _, network string) error {
	f.mu.Lock()
	f.starts++
	err := f.startErr
	f.network = network
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, line := range f.lines {
		f.out.Publish(node.Line{Stream: node.StreamStderr, Text: line, At: time.Now()})
	}
	if f.crash != "" {
		f.out.Publish(node.Line{Stream: node.StreamSystem, Crash: true, Text: f.crash, At: time.Now()})
	}
	if f.listen {
		go f.bringUp()
	}
	return nil
}

func (f *fakeNode) bringUp() {
	time.Sleep(f.delay)
	ln, err := serveNode(f.path, f.syncResult)
	if err != nil {
		f.t.Errorf("fake node listen: %v", err)
		return
	}
	f.mu.Lock()
	f.ln = ln
	f.mu.Unlock()
}

func (f *fakeNode) Restart(ctx context.Context, kind, network string) error {
	f.mu.Lock()
	f.restarts++
	err := f.restartErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.close()
	return f.Start(ctx, kind, network)
}

func (f *fakeNode) close() {
	f.mu.Lock()
	ln := f.ln
	f.ln = nil
	f.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

func (f *fakeNode) LogTail(maxBytes int) string {
	if len(f.logTail) > maxBytes {
		return f.logTail[len(f.logTail)-maxBytes:]
	}
	return f.logTail
}

func (f *fakeNode) Version(context.Context, string) (string, error) {
	return "Version: 1.4.10-stable", nil
}

func (f *fakeNode) counts() (int, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.restarts, f.network
}

func fixedSync(decision SyncDecision) SyncChecker {
	return SyncCheckerFunc(func(context.Context, *rpc.Mux) (SyncDecision, error) {
		return decision, nil
	})
}

func testConfig(path string) Config {
	cfg := DefaultConfig()
	cfg.IPCPath = path
	cfg.ReadyTimeout = 5 * time.Second
	cfg.SessionTimeout = 2 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, nodes NodeController, rep Reporter, checker SyncChecker) (*Orchestrator, *ipc.Registry) {
	t.Helper()
	registry := ipc.NewRegistry(ipc.DefaultConfig())
	o := NewOrchestrator(cfg, registry, nodes, rep, checker)
	t.Cleanup(func() {
		if s := o.Session(); s != nil {
			_ = s.Mux.Close()
		}
		_ = registry.DestroyAll(context.Background())
	})
	return o, registry
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
