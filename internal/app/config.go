package app

import (
	"strings"
	"time"

	"github.com/danmuck/nodectl/internal/ipc"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/startup"
)

const (
	ModeMist   = "mist"
	ModeWallet = "wallet"
)

// Config is the resolved runtime configuration.
type Config struct {
	Mode string
	// Onboarded is false until the user has chosen a network once.
	Onboarded bool
	// IPCPath overrides the platform default endpoint.
	IPCPath string

	Node    node.Config
	IPC     ipc.Config
	Startup startup.Config

	QuitDelay       time.Duration
	ShutdownTimeout time.Duration

	AdminEnabled bool
	AdminAddr    string
	CorsOrigins  []string

	// SyncChecker replaces the eth_syncing check when set.
	SyncChecker startup.SyncChecker
}

func DefaultConfig() Config {
	return Config{
		Mode:            ModeMist,
		Node:            node.DefaultConfig(),
		IPC:             ipc.DefaultConfig(),
		Startup:         startup.DefaultConfig(),
		QuitDelay:       500 * time.Millisecond,
		ShutdownTimeout: 15 * time.Second,
		AdminAddr:       "127.0.0.1:8590",
		CorsOrigins:     []string{"http://localhost:3000"},
	}
}

// WithDefaults fills zero values and resolves the IPC endpoint once so the
// supervisor and the orchestrator agree on it.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	c.Node = c.Node.WithDefaults()
	c.IPC = c.IPC.WithDefaults()

	// The node section is the single source for kind and network.
	c.Startup.Kind = c.Node.DefaultKind
	c.Startup.Network = c.Node.DefaultNetwork
	if strings.TrimSpace(c.IPCPath) == "" {
		c.IPCPath = ipc.DefaultPath(c.Startup.Network)
	}
	c.Node.IPCPath = c.IPCPath
	c.Startup.IPCPath = c.IPCPath
	c.Startup = c.Startup.WithDefaults()

	if c.QuitDelay < 0 {
		c.QuitDelay = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if strings.TrimSpace(c.AdminAddr) == "" {
		c.AdminAddr = d.AdminAddr
	}
	if len(c.CorsOrigins) == 0 {
		c.CorsOrigins = d.CorsOrigins
	}
	if c.SyncChecker == nil {
		c.SyncChecker = startup.RPCSyncChecker{Onboarded: c.Onboarded, Timeout: c.Startup.Mux.RequestTimeout}
	}
	return c
}
