package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/observability"
	"github.com/danmuck/nodectl/internal/startup"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const version = "0.1.0"

// Status is the /status payload.
type Status struct {
	Mode       string                `json:"mode"`
	IPCPath    string                `json:"ipc_path"`
	Startup    string                `json:"startup"`
	Trace      []string              `json:"trace"`
	Node       node.Process          `json:"node"`
	Session    bool                  `json:"session"`
	Events     []startup.StatusEvent `json:"events"`
	Diagnostic *startup.Diagnostic   `json:"diagnostic,omitempty"`
}

// Backend is what the admin surface needs from the application.
type Backend interface {
	Status() Status
	NodeLog(maxBytes int) string
	Session() *startup.Session
	ChangeNetwork(ctx context.Context, network string) error
	Launch(ctx context.Context) error
}

type Config struct {
	Addr        string
	CorsOrigins []string
}

// Server owns the gin router and its HTTP listener.
type Server struct {
	cfg      Config
	backend  Backend
	router   *gin.Engine
	appeared time.Time

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg Config, backend Backend) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(observability.InitLogger("nodectl-admin"), "/rpc"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", observability.ClientHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		backend:  backend,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errf("admin.Server.Start serve err=%v", err)
		}
	}()
	logs.Infof("admin.Server.Start listening addr=%s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
