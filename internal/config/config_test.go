package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/calypsold/internal/testutil/testlog"
	"github.com/danmuck/calypsold/internal/trigger"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loaderd.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
pid = 4242
monitor_socket = "/tmp/mon.sock"
gdb_port = 3333
trigger = "RSP"
monitor_settle = "50ms"
max_connections = 4
sanity_addr = "0x830000"
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PID != 4242 || cfg.MonitorSocket != "/tmp/mon.sock" {
		t.Fatalf("unexpected target: pid=%d mon=%q", cfg.PID, cfg.MonitorSocket)
	}
	if cfg.GDBPort != 3333 || cfg.Trigger != trigger.BackendRSP {
		t.Fatalf("unexpected trigger: port=%d backend=%q", cfg.GDBPort, cfg.Trigger)
	}
	if cfg.MonitorSettle != 50*time.Millisecond {
		t.Fatalf("unexpected settle: %s", cfg.MonitorSettle)
	}
	if cfg.MonitorTimeout != 2*time.Second {
		t.Fatalf("default timeout not kept: %s", cfg.MonitorTimeout)
	}
	if cfg.LoaderSocket != "/tmp/osmocom_loader" || cfg.GDBBinary != "arm-none-eabi-gdb" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.SanityAddr != 0x830000 || cfg.MaxConnections != 4 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "gdb_prot = 1234\n")
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "gdb_prot") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsBadSanityAddr(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `sanity_addr = "zzz"`)
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateNamesKey(t *testing.T) {
	testlog.Start(t)
	base := Default()
	base.PID = 1
	base.MonitorSocket = "/tmp/mon.sock"
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := []struct {
		key    string
		mutate func(*Config)
	}{
		{"pid", func(c *Config) { c.PID = 0 }},
		{"monitor_socket", func(c *Config) { c.MonitorSocket = " " }},
		{"gdb_port", func(c *Config) { c.GDBPort = 70000 }},
		{"loader_socket", func(c *Config) { c.LoaderSocket = "" }},
		{"trigger", func(c *Config) { c.Trigger = "jtag" }},
		{"gdb_binary", func(c *Config) { c.GDBBinary = "" }},
		{"monitor_timeout", func(c *Config) { c.MonitorTimeout = 0 }},
		{"max_connections", func(c *Config) { c.MaxConnections = -1 }},
		{"log_level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tc.key) {
			t.Fatalf("%s: expected key in error, got %v", tc.key, err)
		}
	}
}

func TestConvert(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.MonitorSocket = "/tmp/mon.sock"
	cfg.GDBHost = "10.0.0.2"
	cfg.MaxConnections = 2

	svc := cfg.ServiceConfig()
	if svc.SocketPath != "/tmp/osmocom_loader" || svc.SanityAddr != 0x820000 || svc.MaxConnections != 2 {
		t.Fatalf("unexpected service config: %+v", svc)
	}
	mon := cfg.MonitorConfig()
	if mon.SocketPath != "/tmp/mon.sock" || mon.Settle != 300*time.Millisecond {
		t.Fatalf("unexpected monitor config: %+v", mon)
	}
	if target := cfg.TriggerConfig().Target(); target != "10.0.0.2:1234" {
		t.Fatalf("unexpected trigger target: %q", target)
	}
}

func TestTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "loaderd.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Trigger != trigger.BackendGDB || cfg.GDBHost != "127.0.0.1" {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}

func TestWatchReloads(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `log_level = "info"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config) { got <- cfg })
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-got:
			if cfg.LogLevel != "warn" {
				// a write event can land while the file is still truncated
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-tick.C:
			// rewrite until the watcher has been registered and sees it
			if err := os.WriteFile(path, []byte(`log_level = "warn"`), 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestApplyLogLevel(t *testing.T) {
	testlog.Start(t)
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	ApplyLogLevel(Config{LogLevel: "error"})
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Fatalf("level not applied: %s", zerolog.GlobalLevel())
	}
	ApplyLogLevel(Config{LogLevel: "nonsense"})
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Fatalf("invalid level changed global level: %s", zerolog.GlobalLevel())
	}
}
