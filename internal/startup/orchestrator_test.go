package startup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/nodectl/internal/ipc"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/testutil/testlog"
)

func TestExistingNodeIsReusedWithoutSpawning(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	ln, err := serveNode(path, "false")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	nodes := newFakeNode(t, path)
	rep := &recorder{}
	o, registry := newTestOrchestrator(t, testConfig(path), nodes, rep, fixedSync(SyncDecision{}))

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []State{StateInit, StateTryExistingConnection, StateConnected, StateMain}
	if !equalStates(res.Trace, want) {
		t.Fatalf("unexpected trace: %v", res.Trace)
	}
	if starts, restarts, _ := nodes.counts(); starts != 0 || restarts != 0 {
		t.Fatalf("node supervisor was invoked: starts=%d restarts=%d", starts, restarts)
	}
	if res.Session == nil || res.Session.Managed || !res.Session.Socket.IsConnected() {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if registry.Get(ipc.SocketStartup).IsConnected() {
		t.Fatalf("startup socket should be released at hand-off")
	}
	if keys := rep.keys(); !equalStrings(keys, []string{StatusRunningNodeFound}) {
		t.Fatalf("unexpected status keys: %v", keys)
	}
}

func TestSpawnedNodeBecomesReady(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.delay = 150 * time.Millisecond
	nodes.lines = []string{
		"INFO [06-13|10:00:00] Starting peer-to-peer node",
		"------------",
		"",
		"I0613 10:00:01.123 ethdb/database.go:82] Allotted 512MB cache",
	}
	rep := &recorder{}
	o, _ := newTestOrchestrator(t, testConfig(path), nodes, rep, fixedSync(SyncDecision{}))

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []State{StateInit, StateTryExistingConnection, StateSpawningNode, StateWaitingForReady, StateConnected, StateMain}
	if !equalStates(res.Trace, want) {
		t.Fatalf("unexpected trace: %v", res.Trace)
	}
	if starts, _, network := nodes.counts(); starts != 1 || network != node.NetworkMain {
		t.Fatalf("expected one start on main, got starts=%d network=%q", starts, network)
	}
	if res.Session == nil || !res.Session.Managed {
		t.Fatalf("expected managed session, got %+v", res.Session)
	}
	if keys := rep.keys(); !equalStrings(keys, []string{StatusStartingNode, StatusStartedNode}) {
		t.Fatalf("unexpected status keys: %v", keys)
	}
	texts := rep.logTexts()
	if len(texts) != 2 || texts[0] != " Starting peer-to-peer node" || texts[1] != " Allotted 512MB cache" {
		t.Fatalf("unexpected splash text: %q", texts)
	}
	if nodes.out.Len() != 0 {
		t.Fatalf("splash logger still subscribed after hand-off")
	}
}

func TestReadyTimeoutFailsWithDiagnostics(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.listen = false
	nodes.logTail = strings.Repeat("x", 1500) + "Fatal: could not open database"
	rep := &recorder{}
	cfg := testConfig(path)
	cfg.ReadyTimeout = 300 * time.Millisecond
	o, _ := newTestOrchestrator(t, cfg, nodes, rep, fixedSync(SyncDecision{}))

	res, err := o.Run(context.Background())
	if !errors.Is(err, ipc.ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", err)
	}
	want := []State{StateInit, StateTryExistingConnection, StateSpawningNode, StateWaitingForReady, StateFailed}
	if res.State != StateFailed || !equalStates(res.Trace, want) {
		t.Fatalf("unexpected result: state=%s trace=%v", res.State, res.Trace)
	}
	d := res.Diagnostic
	if d == nil || rep.fatalCount() != 1 {
		t.Fatalf("expected one diagnostic, got %v (fatals=%d)", d, rep.fatalCount())
	}
	if d.Key != DiagnosticNodeConnect || d.Kind != node.KindGeth || d.Network != node.NetworkMain {
		t.Fatalf("unexpected diagnostic header: %+v", d)
	}
	if !strings.HasPrefix(d.Log, "...") || len(d.Log) != 3+diagnosticLogBytes || !strings.HasSuffix(d.Log, "could not open database") {
		t.Fatalf("unexpected diagnostic log: %q", d.Log)
	}
	if d.NodeVersion == "" || !strings.Contains(d.Detail(), "Node version: Version: 1.4.10-stable") {
		t.Fatalf("expected node version in detail: %q", d.Detail())
	}
	keys := rep.keys()
	if len(keys) == 0 || keys[len(keys)-1] != StatusNodeConnectionTimeout {
		t.Fatalf("expected nodeConnectionTimeout status, got %v", keys)
	}
}

func TestCrashWhileWaitingForReadyEndsWaitEarly(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.listen = false
	nodes.lines = []string{"Fatal: Failed to register the Ethereum service: incompatible genesis"}
	nodes.crash = "node: process exited unexpectedly: pid=4242"
	rep := &recorder{}
	cfg := testConfig(path)
	o, _ := newTestOrchestrator(t, cfg, nodes, rep, fixedSync(SyncDecision{}))

	started := time.Now()
	res, err := o.Run(context.Background())
	if !errors.Is(err, node.ErrProcessCrashed) {
		t.Fatalf("expected ErrProcessCrashed, got %v", err)
	}
	if elapsed := time.Since(started); elapsed >= cfg.ReadyTimeout {
		t.Fatalf("crash should end the wait before ReadyTimeout=%s, took %s", cfg.ReadyTimeout, elapsed)
	}
	want := []State{StateInit, StateTryExistingConnection, StateSpawningNode, StateWaitingForReady, StateFailed}
	if res.State != StateFailed || !equalStates(res.Trace, want) {
		t.Fatalf("unexpected result: state=%s trace=%v", res.State, res.Trace)
	}
	if res.Diagnostic == nil || rep.fatalCount() != 1 {
		t.Fatalf("expected one diagnostic, got %v (fatals=%d)", res.Diagnostic, rep.fatalCount())
	}
	for _, key := range rep.keys() {
		if key == StatusNodeConnectionTimeout {
			t.Fatalf("crash must not be reported as a connection timeout: %v", rep.keys())
		}
	}
}

func TestSpawnFailureReportsBinaryNotFound(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.startErr = node.ErrProcessSpawnFailed
	rep := &recorder{}
	o, _ := newTestOrchestrator(t, testConfig(path), nodes, rep, fixedSync(SyncDecision{}))

	res, err := o.Run(context.Background())
	if !errors.Is(err, node.ErrProcessSpawnFailed) {
		t.Fatalf("expected ErrProcessSpawnFailed, got %v", err)
	}
	if res.State != StateFailed || res.Diagnostic == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Diagnostic.Log != DiagnosticNodeStartup {
		t.Fatalf("empty log should use the startup key, got %q", res.Diagnostic.Log)
	}
	if keys := rep.keys(); !equalStrings(keys, []string{StatusStartingNode, StatusNodeBinaryNotFound}) {
		t.Fatalf("unexpected status keys: %v", keys)
	}
}

func TestSecondRunWhileWaitingIsRejected(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.listen = false
	cfg := testConfig(path)
	cfg.ReadyTimeout = time.Second
	o, _ := newTestOrchestrator(t, cfg, nodes, &recorder{}, fixedSync(SyncDecision{}))

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for o.State() != StateWaitingForReady {
		if time.Now().After(deadline) {
			t.Fatalf("never reached waiting_for_ready, state=%s", o.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.Run(context.Background()); !errors.Is(err, ErrStartInProgress) {
		t.Fatalf("expected ErrStartInProgress, got %v", err)
	}
	if starts, _, _ := nodes.counts(); starts != 1 {
		t.Fatalf("duplicate spawn: starts=%d", starts)
	}
	if err := <-done; !errors.Is(err, ipc.ErrConnectionTimeout) {
		t.Fatalf("first run should time out, got %v", err)
	}
}

func TestRetryAfterFailurePrefersExistingConnection(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.startErr = node.ErrProcessSpawnFailed
	o, _ := newTestOrchestrator(t, testConfig(path), nodes, &recorder{}, fixedSync(SyncDecision{}))

	if _, err := o.Run(context.Background()); err == nil {
		t.Fatalf("expected first run to fail")
	}

	ln, err := serveNode(path, "false")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	want := []State{StateInit, StateTryExistingConnection, StateConnected, StateMain}
	if !equalStates(res.Trace, want) {
		t.Fatalf("unexpected retry trace: %v", res.Trace)
	}
	if starts, _, _ := nodes.counts(); starts != 1 {
		t.Fatalf("retry should not spawn, starts=%d", starts)
	}
	if _, err := o.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted after hand-off, got %v", err)
	}
}

func TestOnboardingNetworkSwitchAndLaunch(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	nodes := newFakeNode(t, path)
	nodes.syncResult = `{"startingBlock":"0x0","currentBlock":"0x10","highestBlock":"0x200"}`
	rep := &recorder{}
	o, registry := newTestOrchestrator(t, testConfig(path), nodes, rep, RPCSyncChecker{Onboarded: false, Timeout: 2 * time.Second})

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.State != StateOnboarding || res.Onboarding == nil || res.Session != nil {
		t.Fatalf("expected onboarding, got %+v", res)
	}
	ob := o.Onboarding()
	if ob != res.Onboarding {
		t.Fatalf("onboarding handle mismatch")
	}

	nodes.mu.Lock()
	nodes.restartErr = errors.New("restart exploded")
	nodes.mu.Unlock()
	if err := ob.ChangeNetwork(context.Background(), node.NetworkTest); err == nil {
		t.Fatalf("expected network change to fail")
	}
	if o.State() != StateOnboarding {
		t.Fatalf("failed switch must stay in onboarding, got %s", o.State())
	}

	nodes.mu.Lock()
	nodes.restartErr = nil
	nodes.mu.Unlock()
	if err := ob.ChangeNetwork(context.Background(), node.NetworkTest); err != nil {
		t.Fatalf("network change failed: %v", err)
	}
	if _, restarts, network := nodes.counts(); restarts != 2 || network != node.NetworkTest {
		t.Fatalf("unexpected restart: restarts=%d network=%q", restarts, network)
	}
	if ob.Network() != node.NetworkTest || !registry.Get(ipc.SocketStartup).IsConnected() {
		t.Fatalf("expected reconnection on the new network")
	}

	session, err := ob.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if session.Network != node.NetworkTest || !session.Socket.IsConnected() {
		t.Fatalf("unexpected session: %+v", session)
	}
	if registry.Get(ipc.SocketStartup).IsConnected() {
		t.Fatalf("startup socket should be torn down at launch")
	}
	trace := o.Trace()
	if trace[len(trace)-2] != StateOnboarding || trace[len(trace)-1] != StateMain {
		t.Fatalf("unexpected trace tail: %v", trace)
	}
	if err := ob.ChangeNetwork(context.Background(), node.NetworkMain); !errors.Is(err, ErrNotOnboarding) {
		t.Fatalf("expected ErrNotOnboarding after launch, got %v", err)
	}

	keys := rep.keys()
	var sawSyncing, sawChanged bool
	for _, k := range keys {
		sawSyncing = sawSyncing || k == StatusNodeSyncing
		sawChanged = sawChanged || k == StatusChangedNetwork
	}
	if !sawSyncing || !sawChanged {
		t.Fatalf("expected nodeSyncing and changedNetwork statuses, got %v", keys)
	}
}

func TestOnboardingRefusesNetworkSwitchOnUnmanagedNode(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	ln, err := serveNode(path, `{"startingBlock":"0x0","currentBlock":"0x10","highestBlock":"0x200"}`)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	nodes := newFakeNode(t, path)
	nodes.listen = false
	rep := &recorder{}
	o, registry := newTestOrchestrator(t, testConfig(path), nodes, rep, RPCSyncChecker{Onboarded: false, Timeout: 2 * time.Second})

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.State != StateOnboarding {
		t.Fatalf("expected onboarding, got %s", res.State)
	}

	err = res.Onboarding.ChangeNetwork(context.Background(), node.NetworkTest)
	if !errors.Is(err, ErrUnmanagedNode) {
		t.Fatalf("expected ErrUnmanagedNode, got %v", err)
	}
	if starts, restarts, _ := nodes.counts(); starts != 0 || restarts != 0 {
		t.Fatalf("supervisor touched for an external node: starts=%d restarts=%d", starts, restarts)
	}
	if o.State() != StateOnboarding || o.Network() != node.NetworkMain {
		t.Fatalf("state=%s network=%q after refused switch", o.State(), o.Network())
	}
	if !registry.Get(ipc.SocketStartup).IsConnected() {
		t.Fatalf("startup connection should survive a refused switch")
	}
	keys := rep.keys()
	if !equalStrings(keys, []string{StatusRunningNodeFound, StatusNodeSyncing, StatusNodeNotManaged}) {
		t.Fatalf("unexpected status keys: %v", keys)
	}

	session, err := res.Onboarding.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if session.Managed || session.Network != node.NetworkMain {
		t.Fatalf("unexpected session: %+v", session)
	}
}
