package ipc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"sync"
	"time"

	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/observability"
	"github.com/fsnotify/fsnotify"
)

// SocketState is the connection state of a Socket.
type SocketState int

const (
	Disconnected SocketState = iota
	Connecting
	Connected
)

func (s SocketState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dialer opens the transport behind a socket path.
type Dialer func(ctx context.Context, path string) (net.Conn, error)

// DialUnix dials a unix domain socket.
func DialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// Config is shared by every socket a Registry creates.
type Config struct {
	Backoff BackoffConfig
	Dial    Dialer
}

func DefaultConfig() Config {
	return Config{
		Backoff: DefaultBackoff(),
		Dial:    DialUnix,
	}
}

func (c Config) WithDefaults() Config {
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.Dial == nil {
		c.Dial = DialUnix
	}
	return c
}

// ConnectOptions selects the endpoint and readiness window. A zero Timeout
// makes a single attempt.
type ConnectOptions struct {
	Path    string
	Timeout time.Duration
}

// Socket is a named connection to the node's IPC endpoint.
type Socket struct {
	name string
	cfg  Config

	mu      sync.Mutex
	state   SocketState
	path    string
	timeout time.Duration
	conn    net.Conn
	cancel  context.CancelFunc
	// gen changes on every Connect and Destroy so a superseded dial can tell.
	gen uint64
}

func newSocket(name string, cfg Config) *Socket {
	return &Socket{name: name, cfg: cfg.WithDefaults()}
}

func (s *Socket) Name() string { return s.name }

func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) IsConnected() bool {
	return s.State() == Connected
}

func (s *Socket) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Conn returns the live transport, or nil when not connected.
func (s *Socket) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.conn
}

// Connect opens the socket. Connecting an already connected socket returns
// the existing transport.
func (s *Socket) Connect(ctx context.Context, opts ConnectOptions) (net.Conn, error) {
	s.mu.Lock()
	switch s.state {
	case Connected:
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	case Connecting:
		s.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.state = Connecting
	s.path = opts.Path
	s.timeout = opts.Timeout
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	logs.Debugf("ipc.Socket.Connect name=%q path=%q timeout=%s", s.name, opts.Path, opts.Timeout)
	var (
		conn net.Conn
		err  error
	)
	if opts.Timeout <= 0 {
		conn, err = s.dialOnce(attemptCtx, opts.Path)
	} else {
		conn, err = s.dialUntilReady(attemptCtx, opts.Path, opts.Timeout)
	}

	s.mu.Lock()
	destroyed := s.gen != gen
	if err != nil || destroyed {
		if !destroyed {
			s.state = Disconnected
			s.cancel = nil
		}
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if err == nil || (destroyed && ctx.Err() == nil) {
			err = ErrSocketDestroyed
		}
		observability.RecordIPCConnect(s.name, "failed")
		logs.Debugf("ipc.Socket.Connect failed name=%q path=%q err=%v", s.name, opts.Path, err)
		return nil, err
	}
	s.state = Connected
	s.conn = conn
	s.cancel = nil
	s.mu.Unlock()

	observability.RecordIPCConnect(s.name, "connected")
	logs.Infof("ipc.Socket.Connect connected name=%q path=%q", s.name, opts.Path)
	return conn, nil
}

func (s *Socket) dialOnce(ctx context.Context, path string) (net.Conn, error) {
	conn, err := s.cfg.Dial(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionRefused, path, err)
	}
	return conn, nil
}

func (s *Socket) dialUntilReady(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	windowCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created := watchSocketDir(windowCtx, path)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := s.cfg.Dial(windowCtx, path)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		timer := time.NewTimer(NextBackoffDelay(s.cfg.Backoff, attempt, rng))
		select {
		case <-timer.C:
		case <-created:
			timer.Stop()
		case <-windowCtx.Done():
			timer.Stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %s after %s (%d attempts): %v", ErrConnectionTimeout, path, timeout, attempt, lastErr)
		}
	}
}

// watchSocketDir signals when the socket file appears. A directory that
// cannot be watched yields a nil channel and the caller relies on backoff.
func watchSocketDir(ctx context.Context, path string) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logs.Debugf("ipc.watchSocketDir watcher unavailable err=%v", err)
		return nil
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		logs.Debugf("ipc.watchSocketDir cannot watch dir=%q err=%v", dir, err)
		return nil
	}

	created := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&fsnotify.Create == 0 {
					continue
				}
				select {
				case created <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logs.Debugf("ipc.watchSocketDir error dir=%q err=%v", dir, err)
			}
		}
	}()
	return created
}

// Destroy closes the transport and resets the socket to Disconnected. It is
// safe on a socket that never connected.
func (s *Socket) Destroy() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.gen++
	s.conn = nil
	s.cancel = nil
	s.state = Disconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	logs.Infof("ipc.Socket.Destroy name=%q", s.name)
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("ipc: close %s: %w", s.name, err)
	}
	return nil
}
