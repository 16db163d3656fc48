package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/nodectl/internal/testutil/testlog"
)

func TestTemplateLoadsAsDefault(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nodectl.toml")
	if err := WriteTemplate(path, "nodectl", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadNodectlConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := Default()
	if cfg.Mode != def.Mode || cfg.Node.Kind != def.Node.Kind || cfg.Node.StopGrace != "8s" || cfg.Startup.ReadyTimeout != "120s" {
		t.Fatalf("template does not match defaults: %+v", cfg)
	}
	if cfg.Shutdown.QuitDelay != "500ms" || cfg.Admin.Addr != def.Admin.Addr {
		t.Fatalf("unexpected shutdown/admin sections: %+v %+v", cfg.Shutdown, cfg.Admin)
	}

	if err := WriteTemplate(path, "nodectl", false); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
	if err := WriteTemplate(path, "nodectl", true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if _, err := Template("unknown"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDefaultAdminAddrAvoidsNodePorts(t *testing.T) {
	testlog.Start(t)
	host, port, err := net.SplitHostPort(Default().Admin.Addr)
	if err != nil {
		t.Fatalf("default admin addr: %v", err)
	}
	if host != "127.0.0.1" {
		t.Fatalf("admin api should bind loopback, got %q", host)
	}
	// geth and eth defaults: http-rpc, ws-rpc, engine api, p2p
	for _, taken := range []string{"8545", "8546", "8551", "30303"} {
		if port == taken {
			t.Fatalf("admin port %s collides with a node default port", port)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nodectl.toml")
	body := "mode = \"wallet\"\n[node]\nkind = \"geth\"\nnetwork = \"test\"\ncache = 1024\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadNodectlConfig(path)
	if err == nil || !strings.Contains(err.Error(), "cache") {
		t.Fatalf("expected unknown key error naming cache, got %v", err)
	}
}

func TestLoadOverlaysOnDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nodectl.toml")
	body := `mode = "wallet"
onboarded = true

[node]
kind = "eth"
network = "test"

[node.paths]
eth = "/opt/eth/bin/eth"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadNodectlConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeWallet || !cfg.Onboarded || cfg.Node.Kind != "eth" || cfg.Node.Network != "test" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Node.Paths["eth"] != "/opt/eth/bin/eth" {
		t.Fatalf("unexpected paths: %v", cfg.Node.Paths)
	}
	if cfg.Node.StopGrace != "8s" || cfg.RPC.RequestTimeout != "30s" {
		t.Fatalf("unset keys should keep defaults: %+v", cfg)
	}
}

func TestValidateNodectlConfig(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		mutate func(*NodectlConfig)
	}{
		{"mode", func(c *NodectlConfig) { c.Mode = "desktop" }},
		{"kind", func(c *NodectlConfig) { c.Node.Kind = "parity" }},
		{"network", func(c *NodectlConfig) { c.Node.Network = "ropsten" }},
		{"paths", func(c *NodectlConfig) { c.Node.Paths = map[string]string{"parity": "/x"} }},
		{"duration", func(c *NodectlConfig) { c.Node.StopGrace = "soon" }},
		{"negative", func(c *NodectlConfig) { c.Shutdown.QuitDelay = "-1s" }},
		{"log level", func(c *NodectlConfig) { c.Log.Level = "loud" }},
		{"admin", func(c *NodectlConfig) { c.Admin.Enabled = true; c.Admin.Addr = "" }},
		{"log lines", func(c *NodectlConfig) { c.Node.LogLines = -1 }},
	}
	if err := ValidateNodectlConfig(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := ValidateNodectlConfig(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestParseDuration(t *testing.T) {
	testlog.Start(t)
	if d, err := ParseDuration("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be unset: %s %v", d, err)
	}
	if d, err := ParseDuration("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("unexpected parse: %s %v", d, err)
	}
}
