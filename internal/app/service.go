package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/nodectl/internal/admin"
	"github.com/danmuck/nodectl/internal/ipc"
	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/startup"
)

var (
	ErrShutdownTimeout = errors.New("app: shutdown timed out")
	ErrSessionLost     = errors.New("app: node session lost")
)

// Service wires the supervisor, the socket registry and the orchestrator.
type Service struct {
	cfg          Config
	nodes        *node.Supervisor
	registry     *ipc.Registry
	orchestrator *startup.Orchestrator
	status       *StatusLog
	admin        *admin.Server

	mu       sync.Mutex
	session  *startup.Session
	launched chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewService(cfg Config) *Service {
	cfg = cfg.WithDefaults()
	nodes := node.NewSupervisor(cfg.Node)
	registry := ipc.NewRegistry(cfg.IPC)
	status := NewStatusLog(startup.LogReporter{})
	s := &Service{
		cfg:          cfg,
		nodes:        nodes,
		registry:     registry,
		orchestrator: startup.NewOrchestrator(cfg.Startup, registry, nodes, status, cfg.SyncChecker),
		status:       status,
		launched:     make(chan struct{}),
	}
	if cfg.AdminEnabled {
		s.admin = admin.NewServer(admin.Config{Addr: cfg.AdminAddr, CorsOrigins: cfg.CorsOrigins}, s)
	}
	return s
}

func (s *Service) Config() Config                      { return s.cfg }
func (s *Service) Node() *node.Supervisor              { return s.nodes }
func (s *Service) Registry() *ipc.Registry             { return s.registry }
func (s *Service) Orchestrator() *startup.Orchestrator { return s.orchestrator }
func (s *Service) StatusLog() *StatusLog               { return s.status }

// Run blocks until ctx ends or the node session is lost. Shutdown always
// runs before it returns.
func (s *Service) Run(ctx context.Context) (err error) {
	defer func() {
		if shutdownErr := s.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logs.Warnf("app.Service.Run shutdown err=%v", shutdownErr)
		}
	}()

	if s.admin != nil {
		if err := s.admin.Start(); err != nil {
			return fmt.Errorf("admin listen %s: %w", s.cfg.AdminAddr, err)
		}
	}
	logs.Infof("app.Service.Run mode=%s kind=%s network=%s ipc=%q", s.cfg.Mode, s.cfg.Startup.Kind, s.cfg.Startup.Network, s.cfg.IPCPath)

	res, err := s.orchestrator.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	switch res.State {
	case startup.StateMain:
		s.setSession(res.Session)
	case startup.StateOnboarding:
		logs.Infof("app.Service.Run onboarding network=%q", res.Onboarding.Network())
		select {
		case <-s.launched:
		case <-ctx.Done():
			return nil
		}
	default:
		return fmt.Errorf("app: startup stopped in state %s", res.State)
	}

	session := s.Session()
	logs.Infof("app.Service.Run main session managed=%t network=%q", session.Managed, session.Network)
	select {
	case <-ctx.Done():
		return nil
	case <-session.Mux.Done():
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSessionLost, session.Mux.Err())
	}
}

// Shutdown runs the quit sequence once: admin server, every IPC socket, the
// quit delay, then the node. It is bounded by ShutdownTimeout.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- s.shutdown(ctx) }()
		select {
		case err := <-done:
			s.shutdownErr = err
			if ctx.Err() != nil {
				s.shutdownErr = errors.Join(fmt.Errorf("%w after %s", ErrShutdownTimeout, s.cfg.ShutdownTimeout), err)
			}
		case <-ctx.Done():
			s.shutdownErr = fmt.Errorf("%w after %s", ErrShutdownTimeout, s.cfg.ShutdownTimeout)
		}
		if s.shutdownErr != nil {
			logs.Errf("app.Service.Shutdown err=%v", s.shutdownErr)
			return
		}
		logs.Infof("app.Service.Shutdown complete")
	})
	return s.shutdownErr
}

func (s *Service) shutdown(ctx context.Context) error {
	var errs []error
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logs.Warnf("app.Service.shutdown admin err=%v", err)
			errs = append(errs, err)
		}
	}
	if err := s.registry.DestroyAll(ctx); err != nil {
		logs.Warnf("app.Service.shutdown sockets err=%v", err)
		errs = append(errs, err)
	}

	if s.cfg.QuitDelay > 0 {
		timer := time.NewTimer(s.cfg.QuitDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if err := s.nodes.Stop(ctx); err != nil {
		logs.Warnf("app.Service.shutdown node stop err=%v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ChangeNetwork switches the node network during onboarding.
func (s *Service) ChangeNetwork(ctx context.Context, network string) error {
	ob := s.orchestrator.Onboarding()
	if ob == nil {
		return fmt.Errorf("%w: state=%s", startup.ErrNotOnboarding, s.orchestrator.State())
	}
	return ob.ChangeNetwork(ctx, network)
}

// Launch leaves onboarding and opens the main session.
func (s *Service) Launch(ctx context.Context) error {
	ob := s.orchestrator.Onboarding()
	if ob == nil {
		return fmt.Errorf("%w: state=%s", startup.ErrNotOnboarding, s.orchestrator.State())
	}
	session, err := ob.Launch(ctx)
	if err != nil {
		return err
	}
	s.setSession(session)
	close(s.launched)
	return nil
}

func (s *Service) setSession(session *startup.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

func (s *Service) Session() *startup.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) NodeLog(maxBytes int) string {
	return s.nodes.LogTail(maxBytes)
}

func (s *Service) Status() admin.Status {
	trace := s.orchestrator.Trace()
	names := make([]string, 0, len(trace))
	for _, state := range trace {
		names = append(names, state.String())
	}
	return admin.Status{
		Mode:       s.cfg.Mode,
		IPCPath:    s.cfg.IPCPath,
		Startup:    s.orchestrator.State().String(),
		Trace:      names,
		Node:       s.nodes.Status(),
		Session:    s.Session() != nil,
		Events:     s.status.Events(),
		Diagnostic: s.status.Diagnostic(),
	}
}
