package ipc

import (
	"context"
	"sort"
	"sync"

	logs "github.com/danmuck/nodectl/internal/logging"
)

// Well-known socket names.
const (
	SocketStartup = "startup"
	SocketSession = "session"
)

// Registry owns every named Socket of the application.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	sockets map[string]*Socket
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg.WithDefaults(),
		sockets: make(map[string]*Socket),
	}
}

// Get returns the socket for name, creating it on first use.
func (r *Registry) Get(name string) *Socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sockets[name]; ok {
		return s
	}
	s := newSocket(name, r.cfg)
	r.sockets[name] = s
	return s
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sockets))
	for name := range r.sockets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type destroyResult struct {
	name string
	err  error
}

// DestroyAll tears down every socket concurrently. Each socket is destroyed
// exactly once; failures come back as a *ShutdownError. If ctx ends first the
// sockets still outstanding are reported with the context error.
func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.Lock()
	sockets := make([]*Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		sockets = append(sockets, s)
	}
	r.mu.Unlock()

	results := make(chan destroyResult, len(sockets))
	for _, s := range sockets {
		go func(s *Socket) {
			results <- destroyResult{name: s.Name(), err: s.Destroy()}
		}(s)
	}

	failures := make(map[string]error)
	pending := make(map[string]struct{}, len(sockets))
	for _, s := range sockets {
		pending[s.Name()] = struct{}{}
	}
	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.name)
			if res.err != nil {
				failures[res.name] = res.err
			}
		case <-ctx.Done():
			for name := range pending {
				failures[name] = ctx.Err()
			}
			pending = nil
		}
	}

	if len(failures) == 0 {
		logs.Infof("ipc.Registry.DestroyAll ok sockets=%d", len(sockets))
		return nil
	}
	err := &ShutdownError{Failures: failures}
	logs.Warnf("ipc.Registry.DestroyAll err=%v", err)
	return err
}
