package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nodectl/internal/app"
	"github.com/danmuck/nodectl/internal/config"
)

// loadRunConfig overlays the keys defined in path onto the built-in defaults.
func loadRunConfig(path string) (app.Config, config.LogSection, error) {
	cfg := app.DefaultConfig()

	raw := config.Default()
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return app.Config{}, config.LogSection{}, fmt.Errorf("load nodectl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return app.Config{}, config.LogSection{}, fmt.Errorf("%w: unknown key %s", config.ErrInvalidConfig, undecoded[0])
	}
	if err := config.ValidateNodectlConfig(raw); err != nil {
		return app.Config{}, config.LogSection{}, err
	}

	if meta.IsDefined("mode") {
		cfg.Mode = strings.TrimSpace(raw.Mode)
	}
	if meta.IsDefined("onboarded") {
		cfg.Onboarded = raw.Onboarded
	}
	if meta.IsDefined("ipc_path") {
		cfg.IPCPath = strings.TrimSpace(raw.IPCPath)
	}

	if meta.IsDefined("node", "kind") {
		cfg.Node.DefaultKind = strings.ToLower(strings.TrimSpace(raw.Node.Kind))
	}
	if meta.IsDefined("node", "network") {
		cfg.Node.DefaultNetwork = strings.ToLower(strings.TrimSpace(raw.Node.Network))
	}
	if meta.IsDefined("node", "bin_dir") {
		cfg.Node.BinDir = strings.TrimSpace(raw.Node.BinDir)
	}
	if meta.IsDefined("node", "paths") {
		cfg.Node.Paths = normalizePaths(raw.Node.Paths)
	}
	if meta.IsDefined("node", "extra_args") {
		cfg.Node.ExtraArgs = normalizeList(raw.Node.ExtraArgs)
	}
	if meta.IsDefined("node", "log_lines") {
		cfg.Node.LogLines = raw.Node.LogLines
	}

	durations := []struct {
		key    []string
		raw    string
		target *time.Duration
	}{
		{[]string{"node", "stop_grace"}, raw.Node.StopGrace, &cfg.Node.StopGrace},
		{[]string{"node", "kill_wait"}, raw.Node.KillWait, &cfg.Node.KillWait},
		{[]string{"startup", "ready_timeout"}, raw.Startup.ReadyTimeout, &cfg.Startup.ReadyTimeout},
		{[]string{"startup", "session_timeout"}, raw.Startup.SessionTimeout, &cfg.Startup.SessionTimeout},
		{[]string{"rpc", "request_timeout"}, raw.RPC.RequestTimeout, &cfg.Startup.Mux.RequestTimeout},
		{[]string{"shutdown", "quit_delay"}, raw.Shutdown.QuitDelay, &cfg.QuitDelay},
		{[]string{"shutdown", "timeout"}, raw.Shutdown.Timeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := config.ParseDuration(strings.Join(d.key, "."), d.raw)
		if err != nil {
			return app.Config{}, config.LogSection{}, err
		}
		*d.target = v
	}

	if meta.IsDefined("admin", "enabled") {
		cfg.AdminEnabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}

	var logCfg config.LogSection
	if meta.IsDefined("log", "level") {
		logCfg.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "file") {
		logCfg.File = strings.TrimSpace(raw.Log.File)
	}
	return cfg, logCfg, nil
}

func normalizePaths(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for kind, path := range in {
		kind = strings.ToLower(strings.TrimSpace(kind))
		path = strings.TrimSpace(path)
		if kind == "" || path == "" {
			continue
		}
		out[kind] = path
	}
	return out
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
