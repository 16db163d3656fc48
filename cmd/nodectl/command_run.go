package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/nodectl/internal/app"
	"github.com/danmuck/nodectl/internal/config"
	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configPath string
	mode       string
	kind       string
	network    string
	gethPath   string
	ethPath    string
	ipcPath    string
	logLevel   string
	logFile    string
	admin      string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a running node or start one, then serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			closeLog, err := configureLogging(logCfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.NewService(cfg).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML config file")
	f.StringVar(&opts.mode, "mode", "", "application mode: wallet or mist")
	f.StringVar(&opts.kind, "node", "", "node kind to start: geth or eth")
	f.StringVar(&opts.network, "network", "", "network to start the node on: main or test")
	f.StringVar(&opts.gethPath, "gethpath", "", "path to the geth binary")
	f.StringVar(&opts.ethPath, "ethpath", "", "path to the eth binary")
	f.StringVar(&opts.ipcPath, "ipcpath", "", "node IPC endpoint")
	f.StringVar(&opts.logLevel, "loglevel", "", "log level: trace, debug, info, warn, error")
	f.StringVar(&opts.logFile, "logfile", "", "also write logs to this file")
	f.StringVar(&opts.admin, "admin", "", "serve the admin API on this address")
	return cmd
}

// resolve layers defaults, the config file, then explicitly set flags.
func (o runOptions) resolve(cmd *cobra.Command) (app.Config, config.LogSection, error) {
	cfg := app.DefaultConfig()
	var logCfg config.LogSection
	if o.configPath != "" {
		var err error
		cfg, logCfg, err = loadRunConfig(o.configPath)
		if err != nil {
			return app.Config{}, config.LogSection{}, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		mode := strings.ToLower(strings.TrimSpace(o.mode))
		if mode != app.ModeWallet && mode != app.ModeMist {
			return app.Config{}, config.LogSection{}, fmt.Errorf("%w: --mode %q", config.ErrInvalidConfig, o.mode)
		}
		cfg.Mode = mode
	}
	if changed("node") {
		kind := strings.ToLower(strings.TrimSpace(o.kind))
		if _, ok := node.LookupKind(kind); !ok {
			return app.Config{}, config.LogSection{}, fmt.Errorf("%w: --node %q", config.ErrInvalidConfig, o.kind)
		}
		cfg.Node.DefaultKind = kind
	}
	if changed("network") {
		cfg.Node.DefaultNetwork = strings.ToLower(strings.TrimSpace(o.network))
	}
	if cfg.Node.Paths == nil {
		cfg.Node.Paths = map[string]string{}
	}
	if changed("gethpath") {
		cfg.Node.Paths[node.KindGeth] = strings.TrimSpace(o.gethPath)
	}
	if changed("ethpath") {
		cfg.Node.Paths[node.KindEth] = strings.TrimSpace(o.ethPath)
	}
	if changed("ipcpath") {
		cfg.IPCPath = strings.TrimSpace(o.ipcPath)
	}
	if changed("loglevel") {
		logCfg.Level = o.logLevel
	}
	if changed("logfile") {
		logCfg.File = o.logFile
	}
	if changed("admin") {
		cfg.AdminEnabled = true
		cfg.AdminAddr = strings.TrimSpace(o.admin)
	}

	spec, _ := node.LookupKind(cfg.Node.DefaultKind)
	if _, ok := spec.Networks[cfg.Node.DefaultNetwork]; !ok {
		return app.Config{}, config.LogSection{}, fmt.Errorf("%w: network %q not supported by %s", config.ErrInvalidConfig, cfg.Node.DefaultNetwork, cfg.Node.DefaultKind)
	}
	return cfg, logCfg, nil
}

func configureLogging(cfg config.LogSection) (func(), error) {
	logCfg := logs.DefaultConfig(logs.ProfileRuntime)
	if cfg.Level != "" {
		level, ok := logs.ParseLevel(cfg.Level)
		if !ok {
			return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, cfg.Level)
		}
		logCfg.Level = level
	}
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logCfg.File = f
		closeFn = func() { _ = f.Close() }
	}
	logs.ConfigureWith(logCfg)
	return closeFn, nil
}

