package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrTranslation       = errors.New("monitor: gpa2hva translation failed")
	ErrSocketPathMissing = errors.New("monitor: socket path required")
)

const readChunk = 4096

// Config controls monitor connection timing.
type Config struct {
	SocketPath string
	// Settle is the pause between sending a command and reading its answer.
	Settle time.Duration
	// Timeout bounds the dial, the banner read, and the answer read.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Settle:  300 * time.Millisecond,
		Timeout: 2 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Settle < 0 {
		c.Settle = def.Settle
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Client issues gpa2hva queries. It holds no connection between calls.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return nil, ErrSocketPathMissing
	}
	return &Client{cfg: cfg}, nil
}

// GPA2HVA asks the monitor for the host virtual address backing guest page.
func (c *Client) GPA2HVA(ctx context.Context, page uint64) (uint64, error) {
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return 0, fmt.Errorf("monitor: dial %s: %w", c.cfg.SocketPath, err)
	}
	defer conn.Close()

	buf := make([]byte, readChunk)

	// banner
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	if _, err := conn.Read(buf); err != nil && !isTimeout(err) {
		return 0, fmt.Errorf("monitor: read banner: %w", err)
	}

	cmd := fmt.Sprintf("gpa2hva %#x\n", page)
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return 0, fmt.Errorf("monitor: send gpa2hva: %w", err)
	}

	if err := sleepCtx(ctx, c.cfg.Settle); err != nil {
		return 0, err
	}

	var resp strings.Builder
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	for {
		n, err := conn.Read(buf)
		resp.Write(buf[:n])
		if hva, ok := ParseHVA(resp.String()); ok {
			log.Debug().
				Str("gpa", fmt.Sprintf("%#x", page)).
				Str("hva", fmt.Sprintf("%#x", hva)).
				Msg("monitor.GPA2HVA resolved")
			return hva, nil
		}
		if err != nil {
			break
		}
	}
	return 0, fmt.Errorf("%w: gpa=%#x response=%q", ErrTranslation, page, strings.TrimSpace(resp.String()))
}

// ParseHVA scans monitor output for the gpa2hva answer line and returns the
// hex value after its last " is ".
func ParseHVA(resp string) (uint64, bool) {
	for _, line := range strings.Split(resp, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "host virtual address") {
			continue
		}
		idx := strings.LastIndex(lower, " is ")
		if idx < 0 {
			continue
		}
		raw := strings.TrimSpace(line[idx+len(" is "):])
		raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
		v, err := strconv.ParseUint(raw, 16, 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
