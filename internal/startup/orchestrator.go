package startup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/nodectl/internal/broadcast"
	"github.com/danmuck/nodectl/internal/ipc"
	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/observability"
	"github.com/danmuck/nodectl/internal/rpc"
)

// OutputSource publishes node output lines.
type OutputSource interface {
	Subscribe(buffer int) (*broadcast.Subscription[node.Line], error)
	Unsubscribe(sub *broadcast.Subscription[node.Line])
}

// NodeController is the part of node.Supervisor the orchestrator drives.
type NodeController interface {
	OutputSource
	Start(ctx context.Context, kind, network string) error
	Restart(ctx context.Context, kind, network string) error
	LogTail(maxBytes int) string
	Version(ctx context.Context, kind string) (string, error)
}

type Config struct {
	Kind    string
	Network string
	// IPCPath is the node endpoint, resolved once by the caller.
	IPCPath string
	// ReadyTimeout bounds the wait for a freshly spawned node to listen.
	ReadyTimeout time.Duration
	// SessionTimeout bounds opening the session socket at hand-off.
	SessionTimeout time.Duration
	VersionTimeout time.Duration
	SplashBuffer   int
	Mux            rpc.Config
}

func DefaultConfig() Config {
	return Config{
		Kind:           node.KindGeth,
		Network:        node.NetworkMain,
		ReadyTimeout:   120 * time.Second,
		SessionTimeout: 10 * time.Second,
		VersionTimeout: 3 * time.Second,
		SplashBuffer:   256,
		Mux:            rpc.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.IPCPath == "" {
		c.IPCPath = ipc.DefaultPath(c.Network)
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.VersionTimeout <= 0 {
		c.VersionTimeout = d.VersionTimeout
	}
	if c.SplashBuffer <= 0 {
		c.SplashBuffer = d.SplashBuffer
	}
	c.Mux = c.Mux.WithDefaults()
	return c
}

// Session is the live connection handed to the main application.
type Session struct {
	Socket *ipc.Socket
	Mux    *rpc.Mux
	// Managed is true when this instance spawned the node.
	Managed bool
	Kind    string
	Network string
}

// Result describes where Run stopped.
type Result struct {
	State      State
	Trace      []State
	Session    *Session
	Onboarding *Onboarding
	Diagnostic *Diagnostic
}

// Orchestrator runs the startup sequence for one application instance.
type Orchestrator struct {
	cfg      Config
	registry *ipc.Registry
	node     NodeController
	reporter Reporter
	sync     SyncChecker

	// opMu serializes Run and onboarding actions.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	trace      []State
	running    bool
	managed    bool
	network    string
	splash     *splashLogger
	startupMux *rpc.Mux
	session    *Session
	onboarding *Onboarding
}

func NewOrchestrator(cfg Config, registry *ipc.Registry, nodes NodeController, reporter Reporter, checker SyncChecker) *Orchestrator {
	cfg = cfg.WithDefaults()
	if reporter == nil {
		reporter = LogReporter{}
	}
	if checker == nil {
		checker = RPCSyncChecker{Onboarded: true}
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		node:     nodes,
		reporter: reporter,
		sync:     checker,
		state:    StateInit,
		trace:    []State{StateInit},
		network:  cfg.Network,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Trace returns every state visited by the current attempt.
func (o *Orchestrator) Trace() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.trace...)
}

// Session returns the hand-off session once the state is Main.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Onboarding returns the onboarding handle while the state is Onboarding.
func (o *Orchestrator) Onboarding() *Onboarding {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateOnboarding {
		return nil
	}
	return o.onboarding
}

func (o *Orchestrator) Network() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.network
}

// Run drives the sequence until Main, Onboarding or Failed. A Run while
// another is in flight is rejected; a Failed attempt may be retried.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrStartInProgress
	}
	switch o.state {
	case StateInit:
	case StateFailed:
		o.state = StateInit
		o.trace = []State{StateInit}
	default:
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: state=%s", ErrAlreadyStarted, state)
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.fire(EventBegin)
	sock := o.registry.Get(ipc.SocketStartup)
	conn, err := sock.Connect(ctx, ipc.ConnectOptions{Path: o.cfg.IPCPath})
	if err == nil {
		logs.Infof("startup.Orchestrator.Run found running node path=%q", o.cfg.IPCPath)
		o.fire(EventConnectOK)
		o.reporter.Status(StatusEvent{Key: StatusRunningNodeFound})
		return o.connected(ctx, conn)
	}
	logs.Warnf("startup.Orchestrator.Run no running node path=%q err=%v, starting our own", o.cfg.IPCPath, err)
	o.fire(EventConnectFailed)
	o.reporter.Status(StatusEvent{Key: StatusStartingNode})

	splash, err := attachSplash(o.node, o.reporter, o.cfg.SplashBuffer)
	if err != nil {
		logs.Warnf("startup.Orchestrator.Run splash logger unavailable err=%v", err)
	}
	o.mu.Lock()
	o.splash = splash
	o.mu.Unlock()

	logs.Infof("startup.Orchestrator.Run kind=%q network=%q", o.cfg.Kind, o.cfg.Network)
	if err := o.node.Start(ctx, o.cfg.Kind, o.cfg.Network); err != nil {
		o.fire(EventSpawnFailed)
		o.reporter.Status(StatusEvent{Key: StatusNodeBinaryNotFound})
		return o.fail(ctx, err)
	}
	o.mu.Lock()
	o.managed = true
	o.mu.Unlock()
	o.fire(EventSpawnOK)

	conn, err = o.waitReady(ctx, sock, splash)
	if errors.Is(err, node.ErrProcessCrashed) {
		logs.Errf("startup.Orchestrator.Run node exited while waiting for ipc path=%q", o.cfg.IPCPath)
		o.fire(EventNodeExited)
		return o.fail(ctx, err)
	}
	if err != nil {
		o.fire(EventReadyTimeout)
		o.reporter.Status(StatusEvent{Key: StatusNodeConnectionTimeout, Detail: o.cfg.IPCPath})
		return o.fail(ctx, err)
	}
	o.fire(EventReadyOK)
	o.reporter.Status(StatusEvent{Key: StatusStartedNode})
	return o.connected(ctx, conn)
}

// waitReady connects to the freshly spawned node within ReadyTimeout. A crash
// reported by the splash logger ends the wait early.
func (o *Orchestrator) waitReady(ctx context.Context, sock *ipc.Socket, splash *splashLogger) (net.Conn, error) {
	readyCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	crashed := splash.Crashed()
	go func() {
		select {
		case <-crashed:
			cancel(fmt.Errorf("%w before the ipc endpoint appeared", node.ErrProcessCrashed))
		case <-readyCtx.Done():
		}
	}()

	conn, err := sock.Connect(readyCtx, ipc.ConnectOptions{Path: o.cfg.IPCPath, Timeout: o.cfg.ReadyTimeout})
	if err != nil {
		if cause := context.Cause(readyCtx); ctx.Err() == nil && errors.Is(cause, node.ErrProcessCrashed) {
			return nil, cause
		}
		return nil, err
	}
	return conn, nil
}

func (o *Orchestrator) connected(ctx context.Context, conn net.Conn) (*Result, error) {
	mux := o.attachStartupMux(conn)

	decision, err := o.sync.CheckSync(ctx, mux)
	if err != nil {
		logs.Warnf("startup.Orchestrator.connected sync check failed, continuing to main err=%v", err)
		decision = SyncDecision{}
	}
	if decision.Syncing {
		o.reporter.Status(StatusEvent{
			Key:    StatusNodeSyncing,
			Detail: fmt.Sprintf("%d/%d", decision.CurrentBlock, decision.HighestBlock),
		})
	}

	if decision.Onboarding {
		ob := &Onboarding{o: o}
		o.mu.Lock()
		o.onboarding = ob
		o.mu.Unlock()
		o.fire(EventSyncOnboarding)
		return o.result(nil), nil
	}

	session, err := o.handoff(ctx)
	if err != nil {
		return o.result(nil), err
	}
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
	o.fire(EventSyncMain)
	return o.result(nil), nil
}

func (o *Orchestrator) attachStartupMux(conn net.Conn) *rpc.Mux {
	mux := rpc.NewMux(o.cfg.Mux)
	if err := mux.Attach(conn); err != nil {
		logs.Errf("startup.Orchestrator.attachStartupMux err=%v", err)
	}
	o.mu.Lock()
	o.startupMux = mux
	o.mu.Unlock()
	return mux
}

// releaseStartup closes the temporary startup connection.
func (o *Orchestrator) releaseStartup() {
	o.mu.Lock()
	mux := o.startupMux
	o.startupMux = nil
	o.mu.Unlock()
	if mux != nil {
		_ = mux.Close()
	}
	if err := o.registry.Get(ipc.SocketStartup).Destroy(); err != nil {
		logs.Warnf("startup.Orchestrator.releaseStartup destroy err=%v", err)
	}
}

func (o *Orchestrator) detachSplash() {
	o.mu.Lock()
	splash := o.splash
	o.splash = nil
	o.mu.Unlock()
	splash.detach()
}

// handoff swaps the startup connection for the session connection.
func (o *Orchestrator) handoff(ctx context.Context) (*Session, error) {
	o.detachSplash()
	o.releaseStartup()

	sock := o.registry.Get(ipc.SocketSession)
	conn, err := sock.Connect(ctx, ipc.ConnectOptions{Path: o.cfg.IPCPath, Timeout: o.cfg.SessionTimeout})
	if err != nil {
		logs.Errf("startup.Orchestrator.handoff session connect failed path=%q err=%v", o.cfg.IPCPath, err)
		o.reporter.Status(StatusEvent{Key: StatusNodeConnectionTimeout, Detail: o.cfg.IPCPath})
		return nil, err
	}
	mux := rpc.NewMux(o.cfg.Mux)
	if err := mux.Attach(conn); err != nil {
		_ = sock.Destroy()
		return nil, err
	}
	o.mu.Lock()
	session := &Session{
		Socket:  sock,
		Mux:     mux,
		Managed: o.managed,
		Kind:    o.cfg.Kind,
		Network: o.network,
	}
	o.mu.Unlock()
	logs.Infof("startup.Orchestrator.handoff session ready managed=%t network=%q", session.Managed, session.Network)
	return session, nil
}

func (o *Orchestrator) fail(ctx context.Context, cause error) (*Result, error) {
	o.detachSplash()

	versionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.VersionTimeout)
	version, err := o.node.Version(versionCtx, o.cfg.Kind)
	cancel()
	if err != nil {
		logs.Debugf("startup.Orchestrator.fail version lookup err=%v", err)
		version = ""
	}
	diag := NewDiagnostic(o.cfg.Kind, o.Network(), version, o.node.LogTail(diagnosticLogBytes), cause)
	o.reporter.Fatal(diag)
	return o.result(&diag), cause
}

func (o *Orchestrator) result(diag *Diagnostic) *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := &Result{
		State:      o.state,
		Trace:      append([]State(nil), o.trace...),
		Session:    o.session,
		Diagnostic: diag,
	}
	if o.state == StateOnboarding {
		res.Onboarding = o.onboarding
	}
	return res
}

func (o *Orchestrator) fire(ev Event) {
	o.mu.Lock()
	prev := o.state
	next, err := Next(prev, ev)
	if err != nil {
		o.mu.Unlock()
		logs.Errf("startup.Orchestrator.fire err=%v", err)
		return
	}
	o.state = next
	o.trace = append(o.trace, next)
	o.mu.Unlock()
	observability.RecordStartupState(prev.String(), next.String())
	logs.Infof("startup.Orchestrator transition from=%s event=%s to=%s", prev, ev, next)
}
