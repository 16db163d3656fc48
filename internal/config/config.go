package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

const (
	ModeWallet = "wallet"
	ModeMist   = "mist"
)

// NodectlConfig is the on-disk schema of nodectl's TOML config file.
type NodectlConfig struct {
	Mode      string          `toml:"mode" comment:"wallet or mist"`
	Onboarded bool            `toml:"onboarded" comment:"set once a network has been chosen; skips onboarding while syncing"`
	IPCPath   string          `toml:"ipc_path" comment:"node IPC endpoint; empty uses the platform default"`
	Node      NodeSection     `toml:"node"`
	Startup   StartupSection  `toml:"startup"`
	RPC       RPCSection      `toml:"rpc"`
	Shutdown  ShutdownSection `toml:"shutdown"`
	Admin     AdminSection    `toml:"admin"`
	Log       LogSection      `toml:"log"`
}

type NodeSection struct {
	Kind      string            `toml:"kind" comment:"geth or eth"`
	Network   string            `toml:"network" comment:"main or test"`
	BinDir    string            `toml:"bin_dir" comment:"bundled binaries laid out as <kind>/<goos>-<goarch>/<kind>"`
	Paths     map[string]string `toml:"paths" comment:"explicit binary path per kind"`
	ExtraArgs []string          `toml:"extra_args"`
	StopGrace string            `toml:"stop_grace"`
	KillWait  string            `toml:"kill_wait"`
	LogLines  int               `toml:"log_lines"`
}

type StartupSection struct {
	ReadyTimeout   string `toml:"ready_timeout"`
	SessionTimeout string `toml:"session_timeout"`
}

type RPCSection struct {
	RequestTimeout string `toml:"request_timeout"`
}

type ShutdownSection struct {
	QuitDelay string `toml:"quit_delay"`
	Timeout   string `toml:"timeout"`
}

type AdminSection struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type LogSection struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the file values matching the built-in defaults.
func Default() NodectlConfig {
	return NodectlConfig{
		Mode: ModeMist,
		Node: NodeSection{
			Kind:      node.KindGeth,
			Network:   node.NetworkMain,
			Paths:     map[string]string{},
			ExtraArgs: []string{},
			StopGrace: "8s",
			KillWait:  "2s",
			LogLines:  100,
		},
		Startup: StartupSection{
			ReadyTimeout:   "120s",
			SessionTimeout: "10s",
		},
		RPC: RPCSection{
			RequestTimeout: "30s",
		},
		Shutdown: ShutdownSection{
			QuitDelay: "500ms",
			Timeout:   "15s",
		},
		Admin: AdminSection{
			Enabled:     false,
			Addr:        "127.0.0.1:8590",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// LoadNodectlConfig reads path strictly: unknown keys are rejected.
func LoadNodectlConfig(path string) (NodectlConfig, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return NodectlConfig{}, err
	}
	if err := ValidateNodectlConfig(cfg); err != nil {
		return NodectlConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %w\n%s", path, err, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodectlConfig(cfg NodectlConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case ModeWallet, ModeMist:
	default:
		return fmt.Errorf("%w: mode %q (want %s or %s)", ErrInvalidConfig, cfg.Mode, ModeWallet, ModeMist)
	}
	spec, ok := node.LookupKind(cfg.Node.Kind)
	if !ok {
		return fmt.Errorf("%w: node.kind %q", ErrInvalidConfig, cfg.Node.Kind)
	}
	if _, ok := spec.Networks[strings.ToLower(strings.TrimSpace(cfg.Node.Network))]; !ok {
		return fmt.Errorf("%w: node.network %q not supported by %s", ErrInvalidConfig, cfg.Node.Network, spec.Name)
	}
	for kind := range cfg.Node.Paths {
		if _, ok := node.LookupKind(kind); !ok {
			return fmt.Errorf("%w: node.paths.%s: unknown kind", ErrInvalidConfig, kind)
		}
	}
	if cfg.Node.LogLines < 0 {
		return fmt.Errorf("%w: node.log_lines must not be negative", ErrInvalidConfig)
	}
	durations := []struct {
		field string
		raw   string
	}{
		{"node.stop_grace", cfg.Node.StopGrace},
		{"node.kill_wait", cfg.Node.KillWait},
		{"startup.ready_timeout", cfg.Startup.ReadyTimeout},
		{"startup.session_timeout", cfg.Startup.SessionTimeout},
		{"rpc.request_timeout", cfg.RPC.RequestTimeout},
		{"shutdown.quit_delay", cfg.Shutdown.QuitDelay},
		{"shutdown.timeout", cfg.Shutdown.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.field, d.raw); err != nil {
			return err
		}
	}
	if level := strings.TrimSpace(cfg.Log.Level); level != "" {
		if _, ok := logs.ParseLevel(level); !ok {
			return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, cfg.Log.Level)
		}
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("%w: admin.addr required when admin is enabled", ErrInvalidConfig)
	}
	return nil
}

// ParseDuration parses a config duration. Empty means unset and yields 0.
func ParseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, field)
	}
	return d, nil
}
