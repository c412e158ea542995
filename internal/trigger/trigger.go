package trigger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/calypsold/internal/tools"
)

var ErrUnknownBackend = errors.New("trigger: unknown backend")

type Backend string

const (
	BackendGDB Backend = "gdb"
	BackendRSP Backend = "rsp"
)

// Jumper sets the target program counter to addr and resumes it.
type Jumper interface {
	Jump(ctx context.Context, addr uint32) error
}

type Config struct {
	Backend   Backend
	GDBBinary string
	Host      string
	Port      int
	Timeout   time.Duration
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Backend:   BackendGDB,
		GDBBinary: "arm-none-eabi-gdb",
		Port:      1234,
		Timeout:   5 * time.Second,
		QueueSize: 16,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Backend)) == "" {
		c.Backend = def.Backend
	}
	if strings.TrimSpace(c.GDBBinary) == "" {
		c.GDBBinary = def.GDBBinary
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// Target is the debug stub address in host:port form; host may be empty.
func (c Config) Target() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewJumper builds the backend selected by cfg.
func NewJumper(cfg Config) (Jumper, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Backend {
	case BackendGDB:
		return &GDBExec{Binary: cfg.GDBBinary, Target: cfg.Target(), Runner: tools.ExecRunner{}}, nil
	case BackendRSP:
		return &RemoteSerial{Addr: remoteAddr(cfg), Timeout: cfg.Timeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func remoteAddr(cfg Config) string {
	host := cfg.Host
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}
