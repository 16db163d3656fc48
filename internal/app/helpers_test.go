package app

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/nodectl/internal/rpc"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets required")
	}
	dir, err := os.MkdirTemp("", "nodectl")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "geth.ipc")
}

// fakeNode answers eth_syncing and echoes the method name for everything else.
type fakeNode struct {
	ln         net.Listener
	syncResult string

	mu    sync.Mutex
	conns []net.Conn
}

func startFakeNode(t *testing.T, path, syncResult string) *fakeNode {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	n := &fakeNode{ln: ln, syncResult: syncResult}
	go n.accept()
	t.Cleanup(n.close)
	return n
}

func (n *fakeNode) accept() {
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			return
		}
		n.mu.Lock()
		n.conns = append(n.conns, conn)
		n.mu.Unlock()
		go n.serve(conn)
	}
}

func (n *fakeNode) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	for {
		var req rpc.Message
		if err := dec.Decode(&req); err != nil {
			return
		}
		result := fmt.Sprintf("%q", req.Method)
		if req.Method == "eth_syncing" {
			result = n.syncResult
		}
		fmt.Fprintf(conn, `{"jsonrpc":"2.0","id":%s,"result":%s}`+"\n", req.ID, result)
	}
}

// dropConnections simulates the node going away under live sessions.
func (n *fakeNode) dropConnections() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, conn := range n.conns {
		_ = conn.Close()
	}
	n.conns = nil
}

func (n *fakeNode) close() {
	_ = n.ln.Close()
	n.dropConnections()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("node scripts need /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-geth")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
