package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/nodectl/internal/broadcast"
	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/observability"
	"github.com/danmuck/nodectl/internal/tools"
	"github.com/rs/zerolog"
)

// Config configures the supervisor. Durations are configuration rather than
// literals so the CLI can tune them.
type Config struct {
	DefaultKind    string
	DefaultNetwork string
	// Paths overrides the binary per kind; takes precedence over BinDir.
	Paths map[string]string
	// BinDir holds bundled binaries laid out as <kind>/<goos>-<goarch>/<kind>.
	BinDir    string
	IPCPath   string
	ExtraArgs []string
	StopGrace time.Duration
	KillWait  time.Duration
	LogLines  int
}

func DefaultConfig() Config {
	return Config{
		DefaultKind:    KindGeth,
		DefaultNetwork: NetworkMain,
		Paths:          map[string]string{},
		StopGrace:      8 * time.Second,
		KillWait:       2 * time.Second,
		LogLines:       100,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.DefaultKind) == "" {
		c.DefaultKind = d.DefaultKind
	}
	if strings.TrimSpace(c.DefaultNetwork) == "" {
		c.DefaultNetwork = d.DefaultNetwork
	}
	if c.Paths == nil {
		c.Paths = map[string]string{}
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.KillWait <= 0 {
		c.KillWait = d.KillWait
	}
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	return c
}

// Supervisor owns the single node process of an application instance.
type Supervisor struct {
	cfg     Config
	runner  tools.Runner
	nodeLog zerolog.Logger

	mu        sync.Mutex
	state     State
	kind      string
	network   string
	binary    string
	args      []string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	exitErr   error
	exited    chan struct{}
	stopDone  chan struct{}
	stopErr   error

	output *broadcast.Broadcaster[Line]
	tail   *tailBuffer
}

func NewSupervisor(cfg Config) *Supervisor {
	return NewSupervisorWithRunner(cfg, tools.ExecRunner{})
}

func NewSupervisorWithRunner(cfg Config, runner tools.Runner) *Supervisor {
	cfg = cfg.WithDefaults()
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Supervisor{
		cfg:     cfg,
		runner:  runner,
		nodeLog: logs.Component("eth-node"),
		state:   StateStopped,
		kind:    cfg.DefaultKind,
		network: cfg.DefaultNetwork,
		output:  broadcast.New[Line](),
		tail:    newTailBuffer(cfg.LogLines),
	}
}

func (s *Supervisor) DefaultKind() string    { return s.cfg.DefaultKind }
func (s *Supervisor) DefaultNetwork() string { return s.cfg.DefaultNetwork }

// Start spawns kind on network. It returns once the OS process is launched;
// a Start while a process is starting or running is a no-op.
func (s *Supervisor) Start(ctx context.Context, kind, network string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = s.cfg.DefaultKind
	}
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" {
		network = s.cfg.DefaultNetwork
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStarting, StateRunning:
		logs.Infof("node.Supervisor.Start ignored state=%s kind=%q network=%q running_kind=%q running_network=%q",
			s.state, kind, network, s.kind, s.network)
		return nil
	case StateStopping:
		return ErrStopInProgress
	}

	s.setStateLocked(StateStarting)
	s.kind = kind
	s.network = network
	s.exitErr = nil
	s.tail.Reset()

	binary, args, err := s.prepare(kind, network)
	if err != nil {
		s.setStateLocked(StateStopped)
		observability.RecordNodeStart(kind, network, false)
		logs.Errf("node.Supervisor.Start resolve failed kind=%q network=%q err=%v", kind, network, err)
		return fmt.Errorf("%w: %v", ErrProcessSpawnFailed, err)
	}

	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = sysProcAttr()
	stdout := newLineWriter(s.emitter(StreamStdout))
	stderr := newLineWriter(s.emitter(StreamStderr))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.cfg.KillWait

	logs.Infof("node.Supervisor.Start spawning kind=%q network=%q binary=%q args=%v", kind, network, binary, args)
	if err := cmd.Start(); err != nil {
		s.setStateLocked(StateStopped)
		observability.RecordNodeStart(kind, network, false)
		logs.Errf("node.Supervisor.Start spawn failed binary=%q err=%v", binary, err)
		return fmt.Errorf("%w: %v", ErrProcessSpawnFailed, err)
	}

	exited := make(chan struct{})
	s.cmd = cmd
	s.binary = binary
	s.args = args
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.exited = exited
	s.setStateLocked(StateRunning)
	observability.RecordNodeStart(kind, network, true)
	logs.Infof("node.Supervisor.Start running kind=%q network=%q pid=%d", kind, network, s.pid)

	go s.wait(cmd, exited, stdout, stderr)
	return nil
}

// Stop terminates the node: SIGTERM, StopGrace, then SIGKILL. It always
// leaves the supervisor Stopped. Concurrent callers share one stop.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateCrashed:
		s.setStateLocked(StateStopped)
		s.cmd = nil
		s.mu.Unlock()
		return nil
	case StateStopping:
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	s.stopErr = nil
	pid := s.pid
	exited := s.exited
	s.setStateLocked(StateStopping)
	s.mu.Unlock()

	logs.Infof("node.Supervisor.Stop terminating pid=%d grace=%s", pid, s.cfg.StopGrace)
	err := s.terminate(ctx, pid, exited)

	s.mu.Lock()
	s.setStateLocked(StateStopped)
	s.cmd = nil
	s.stopErr = err
	close(done)
	s.mu.Unlock()

	if err != nil {
		logs.Errf("node.Supervisor.Stop incomplete pid=%d err=%v", pid, err)
	} else {
		logs.Infof("node.Supervisor.Stop stopped pid=%d", pid)
	}
	return err
}

// Restart stops the current node and starts kind on network.
func (s *Supervisor) Restart(ctx context.Context, kind, network string) error {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrStopTimeout) {
		return err
	}
	return s.Start(ctx, kind, network)
}

func (s *Supervisor) terminate(ctx context.Context, pid int, exited <-chan struct{}) error {
	if err := terminateGroup(pid); err != nil {
		logs.Warnf("node.Supervisor.terminate sigterm failed pid=%d err=%v", pid, err)
	}

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return nil
	case <-grace.C:
		logs.Warnf("node.Supervisor.terminate grace expired pid=%d, killing", pid)
	case <-ctx.Done():
		logs.Warnf("node.Supervisor.terminate cancelled pid=%d, killing", pid)
	}

	observability.RecordNodeForceKill()
	if err := killGroup(pid); err != nil {
		logs.Errf("node.Supervisor.terminate sigkill failed pid=%d err=%v", pid, err)
	}

	wait := time.NewTimer(s.cfg.KillWait)
	defer wait.Stop()
	select {
	case <-exited:
		return nil
	case <-wait.C:
		return fmt.Errorf("%w: pid=%d", ErrStopTimeout, pid)
	}
}

func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}, stdout, stderr *lineWriter) {
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	s.mu.Lock()
	crashed := false
	kind, network := s.kind, s.network
	if s.cmd == cmd {
		s.exitErr = err
		if s.state == StateRunning {
			s.setStateLocked(StateCrashed)
			crashed = true
		}
	}
	s.mu.Unlock()
	close(exited)

	if !crashed {
		logs.Debugf("node.Supervisor.wait exited pid=%d err=%v", cmd.Process.Pid, err)
		return
	}
	observability.RecordNodeCrash(kind, network)
	text := fmt.Sprintf("%v: pid=%d", ErrProcessCrashed, cmd.Process.Pid)
	if err != nil {
		text = fmt.Sprintf("%s exit=%v", text, err)
	}
	logs.Errf("node.Supervisor.wait crash kind=%q network=%q %s", kind, network, text)
	s.tail.Add(text)
	s.output.Publish(Line{Stream: StreamSystem, Text: text, At: time.Now(), Crash: true})
}

func (s *Supervisor) emitter(stream string) func(string) {
	return func(text string) {
		s.nodeLog.Trace().Str("stream", stream).Msg(text)
		s.tail.Add(text)
		s.output.Publish(Line{Stream: stream, Text: text, At: time.Now()})
	}
}

func (s *Supervisor) prepare(kind, network string) (string, []string, error) {
	binary, err := s.ResolveBinary(kind)
	if err != nil {
		return "", nil, err
	}
	args, err := LaunchArgs(kind, network, s.cfg.IPCPath, s.cfg.ExtraArgs)
	if err != nil {
		return "", nil, err
	}
	return binary, args, nil
}

// ResolveBinary picks the executable for kind: explicit override, then the
// bundled binary directory, then PATH.
func (s *Supervisor) ResolveBinary(kind string) (string, error) {
	if override := strings.TrimSpace(s.cfg.Paths[kind]); override != "" {
		info, err := os.Stat(override)
		if err != nil {
			return "", fmt.Errorf("%s binary override %q: %w", kind, override, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s binary override %q is a directory", kind, override)
		}
		return override, nil
	}
	if dir := strings.TrimSpace(s.cfg.BinDir); dir != "" {
		name := kind
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		bundled := filepath.Join(dir, kind, runtime.GOOS+"-"+runtime.GOARCH, name)
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, nil
		}
	}
	path, err := exec.LookPath(kind)
	if err != nil {
		return "", fmt.Errorf("%s binary not found: %w", kind, err)
	}
	return path, nil
}

func (s *Supervisor) setStateLocked(next State) {
	prev := s.state
	s.state = next
	if prev != next {
		observability.RecordNodeState(prev.String(), next.String())
	}
}

// Subscribe registers a receiver for output lines. buffer bounds how many
// lines may queue before the oldest are dropped.
func (s *Supervisor) Subscribe(buffer int) (*broadcast.Subscription[Line], error) {
	return s.output.Subscribe(buffer)
}

func (s *Supervisor) Unsubscribe(sub *broadcast.Subscription[Line]) {
	s.output.Unsubscribe(sub)
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsRunning() bool {
	return s.State() == StateRunning
}

// Kind returns the kind of the current or most recent process.
func (s *Supervisor) Kind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Network returns the network of the current or most recent process.
func (s *Supervisor) Network() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

func (s *Supervisor) Status() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Process{
		Kind:    s.kind,
		Network: s.network,
		State:   s.state.String(),
	}
	if s.state != StateStopped {
		p.Binary = s.binary
		p.Args = append([]string(nil), s.args...)
		p.PID = s.pid
		p.StartedAt = s.startedAt
	}
	if s.exitErr != nil {
		p.ExitError = s.exitErr.Error()
	}
	return p
}

// Log returns the buffered output of the current or most recent process.
func (s *Supervisor) Log() string {
	return s.tail.String()
}

// LogTail returns at most maxBytes from the end of Log.
func (s *Supervisor) LogTail(maxBytes int) string {
	return s.tail.Tail(maxBytes)
}

// Version asks the binary for kind to print its version. The first line
// mentioning "version" wins, else the first non-empty line.
func (s *Supervisor) Version(ctx context.Context, kind string) (string, error) {
	binary, err := s.ResolveBinary(kind)
	if err != nil {
		return "", err
	}
	res, err := s.runner.Run(ctx, binary, "version")
	if err != nil {
		if line := res.StderrLine(); line != "" {
			return "", fmt.Errorf("node: %s version: %w (%s)", kind, err, line)
		}
		return "", fmt.Errorf("node: %s version: %w", kind, err)
	}
	return res.VersionLine(), nil
}
