// Package config loads loaderd settings from an optional TOML file and
// watches that file for log level changes.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/calypsold/internal/logging"
	"github.com/danmuck/calypsold/internal/protocol"
	"github.com/danmuck/calypsold/internal/trigger"
)

var ErrInvalid = errors.New("config: invalid value")

// Config is the full daemon configuration after file and argument overlay.
type Config struct {
	PID            int
	MonitorSocket  string
	GDBHost        string
	GDBPort        int
	LoaderSocket   string
	Trigger        trigger.Backend
	GDBBinary      string
	MonitorSettle  time.Duration
	MonitorTimeout time.Duration
	MaxConnections int
	AdminAddr      string
	AdminToken     string
	StatsAddr      string
	LogLevel       string
	SanityAddr     uint32
}

// loaderd config.toml key mapping.
type fileConfig struct {
	PID            int           `toml:"pid"`
	MonitorSocket  string        `toml:"monitor_socket"`
	GDBHost        string        `toml:"gdb_host"`
	GDBPort        int           `toml:"gdb_port"`
	LoaderSocket   string        `toml:"loader_socket"`
	Trigger        string        `toml:"trigger"`
	GDBBinary      string        `toml:"gdb_binary"`
	MonitorSettle  time.Duration `toml:"monitor_settle"`
	MonitorTimeout time.Duration `toml:"monitor_timeout"`
	MaxConnections int           `toml:"max_connections"`
	AdminAddr      string        `toml:"admin_addr"`
	AdminToken     string        `toml:"admin_token"`
	StatsAddr      string        `toml:"stats_addr"`
	LogLevel       string        `toml:"log_level"`
	SanityAddr     string        `toml:"sanity_addr"`
}

func Default() Config {
	return Config{
		GDBPort:        1234,
		LoaderSocket:   "/tmp/osmocom_loader",
		Trigger:        trigger.BackendGDB,
		GDBBinary:      "arm-none-eabi-gdb",
		MonitorSettle:  300 * time.Millisecond,
		MonitorTimeout: 2 * time.Second,
		LogLevel:       "info",
		SanityAddr:     protocol.DefaultJumpAddr,
	}
}

// Load overlays the keys defined in path onto Default. It does not validate;
// required values may still come from the command line.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.overlayFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("pid") {
		c.PID = raw.PID
	}
	if meta.IsDefined("monitor_socket") {
		c.MonitorSocket = strings.TrimSpace(raw.MonitorSocket)
	}
	if meta.IsDefined("gdb_host") {
		c.GDBHost = strings.TrimSpace(raw.GDBHost)
	}
	if meta.IsDefined("gdb_port") {
		c.GDBPort = raw.GDBPort
	}
	if meta.IsDefined("loader_socket") {
		c.LoaderSocket = strings.TrimSpace(raw.LoaderSocket)
	}
	if meta.IsDefined("trigger") {
		c.Trigger = trigger.Backend(strings.ToLower(strings.TrimSpace(raw.Trigger)))
	}
	if meta.IsDefined("gdb_binary") {
		c.GDBBinary = strings.TrimSpace(raw.GDBBinary)
	}
	if meta.IsDefined("monitor_settle") {
		c.MonitorSettle = raw.MonitorSettle
	}
	if meta.IsDefined("monitor_timeout") {
		c.MonitorTimeout = raw.MonitorTimeout
	}
	if meta.IsDefined("max_connections") {
		c.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("admin_addr") {
		c.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		c.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("stats_addr") {
		c.StatsAddr = strings.TrimSpace(raw.StatsAddr)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("sanity_addr") {
		addr, err := ParseAddr(raw.SanityAddr)
		if err != nil {
			return fmt.Errorf("%w: sanity_addr %q", ErrInvalid, raw.SanityAddr)
		}
		c.SanityAddr = addr
	}
	return nil
}

// Validate reports the first key holding an unusable value.
func (c Config) Validate() error {
	if c.PID <= 0 {
		return fmt.Errorf("%w: pid must be a positive process id", ErrInvalid)
	}
	if strings.TrimSpace(c.MonitorSocket) == "" {
		return fmt.Errorf("%w: monitor_socket is required", ErrInvalid)
	}
	if c.GDBPort <= 0 || c.GDBPort > 65535 {
		return fmt.Errorf("%w: gdb_port %d out of range", ErrInvalid, c.GDBPort)
	}
	if strings.TrimSpace(c.LoaderSocket) == "" {
		return fmt.Errorf("%w: loader_socket is required", ErrInvalid)
	}
	switch c.Trigger {
	case trigger.BackendGDB:
		if strings.TrimSpace(c.GDBBinary) == "" {
			return fmt.Errorf("%w: gdb_binary is required for trigger=gdb", ErrInvalid)
		}
	case trigger.BackendRSP:
	default:
		return fmt.Errorf("%w: trigger %q (expected gdb or rsp)", ErrInvalid, c.Trigger)
	}
	if c.MonitorSettle < 0 {
		return fmt.Errorf("%w: monitor_settle must not be negative", ErrInvalid)
	}
	if c.MonitorTimeout <= 0 {
		return fmt.Errorf("%w: monitor_timeout must be positive", ErrInvalid)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections must not be negative", ErrInvalid)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// ParseAddr accepts decimal or 0x-prefixed 32-bit addresses.
func ParseAddr(raw string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
