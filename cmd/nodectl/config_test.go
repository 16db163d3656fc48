package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/nodectl/internal/app"
	"github.com/danmuck/nodectl/internal/config"
	"github.com/danmuck/nodectl/internal/node"
	"github.com/danmuck/nodectl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodectl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigExampleOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, logCfg, err := loadRunConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Mode != app.ModeWallet || !cfg.Onboarded {
		t.Fatalf("unexpected mode=%q onboarded=%v", cfg.Mode, cfg.Onboarded)
	}
	if cfg.IPCPath != "/tmp/nodectl-example/geth.ipc" {
		t.Fatalf("unexpected ipc path: %q", cfg.IPCPath)
	}
	if cfg.Node.DefaultKind != node.KindGeth || cfg.Node.DefaultNetwork != node.NetworkTest {
		t.Fatalf("unexpected node kind=%q network=%q", cfg.Node.DefaultKind, cfg.Node.DefaultNetwork)
	}
	if cfg.Node.Paths[node.KindGeth] != "/opt/geth/bin/geth" {
		t.Fatalf("unexpected paths: %+v", cfg.Node.Paths)
	}
	if len(cfg.Node.ExtraArgs) != 2 || cfg.Node.LogLines != 200 {
		t.Fatalf("unexpected extra args=%v log_lines=%d", cfg.Node.ExtraArgs, cfg.Node.LogLines)
	}
	if cfg.Node.StopGrace != 5*time.Second {
		t.Fatalf("unexpected stop grace: %s", cfg.Node.StopGrace)
	}
	if cfg.Node.KillWait != 2*time.Second {
		t.Fatalf("kill wait should keep default, got %s", cfg.Node.KillWait)
	}
	if cfg.Startup.ReadyTimeout != 90*time.Second || cfg.Startup.SessionTimeout != 10*time.Second {
		t.Fatalf("unexpected startup timeouts: ready=%s session=%s", cfg.Startup.ReadyTimeout, cfg.Startup.SessionTimeout)
	}
	if cfg.Startup.Mux.RequestTimeout != 20*time.Second {
		t.Fatalf("unexpected request timeout: %s", cfg.Startup.Mux.RequestTimeout)
	}
	if cfg.QuitDelay != 250*time.Millisecond || cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("unexpected shutdown timing: quit=%s timeout=%s", cfg.QuitDelay, cfg.ShutdownTimeout)
	}
	if !cfg.AdminEnabled || cfg.AdminAddr != "127.0.0.1:9545" {
		t.Fatalf("unexpected admin: enabled=%v addr=%q", cfg.AdminEnabled, cfg.AdminAddr)
	}
	if logCfg.Level != "debug" || logCfg.File != "" {
		t.Fatalf("unexpected log section: %+v", logCfg)
	}
}

func TestLoadRunConfigEmptyKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, _, err := loadRunConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := app.DefaultConfig()
	if cfg.Mode != want.Mode || cfg.QuitDelay != want.QuitDelay || cfg.Node.StopGrace != want.Node.StopGrace {
		t.Fatalf("defaults changed: %+v", cfg)
	}
	if cfg.AdminEnabled {
		t.Fatalf("admin should be disabled by default")
	}
}

func TestLoadRunConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
	}{
		{"unknown key", "colour = \"blue\"\n"},
		{"bad mode", "mode = \"desktop\"\n"},
		{"bad kind", "[node]\nkind = \"parity\"\n"},
		{"bad duration", "[shutdown]\nquit_delay = \"soon\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := loadRunConfig(writeConfig(t, tc.body))
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{
		"--config", "ex.config.toml",
		"--network", "main",
		"--ethpath", "/usr/local/bin/eth",
		"--admin", "127.0.0.1:0",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var opts runOptions
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.network, _ = cmd.Flags().GetString("network")
	opts.ethPath, _ = cmd.Flags().GetString("ethpath")
	opts.admin, _ = cmd.Flags().GetString("admin")

	cfg, _, err := opts.resolve(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Node.DefaultNetwork != node.NetworkMain {
		t.Fatalf("flag did not override network: %q", cfg.Node.DefaultNetwork)
	}
	if cfg.Node.Paths[node.KindEth] != "/usr/local/bin/eth" || cfg.Node.Paths[node.KindGeth] != "/opt/geth/bin/geth" {
		t.Fatalf("unexpected paths: %+v", cfg.Node.Paths)
	}
	if !cfg.AdminEnabled || cfg.AdminAddr != "127.0.0.1:0" {
		t.Fatalf("unexpected admin: %v %q", cfg.AdminEnabled, cfg.AdminAddr)
	}
	if cfg.Mode != app.ModeWallet {
		t.Fatalf("config mode lost: %q", cfg.Mode)
	}
}

func TestRunFlagsRejectUnknownNetwork(t *testing.T) {
	testlog.Start(t)
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{"--network", "ropsten"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	opts := runOptions{network: "ropsten"}
	if _, _, err := opts.resolve(cmd); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
