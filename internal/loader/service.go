package loader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/calypsold/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrSanityCheck        = errors.New("loader: memory sanity check failed")
	ErrSocketPathRequired = errors.New("loader: socket path required")
)

// ServiceConfig configures the loader listener.
type ServiceConfig struct {
	SocketPath string
	SanityAddr uint32
	SanityLen  int
	// MaxConnections bounds concurrent handlers. Zero means unbounded.
	MaxConnections int
	AdminAddr      string
	// AdminToken, when set, is required as a bearer token on every admin
	// route except /health.
	AdminToken string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SocketPath:     "/tmp/osmocom_loader",
		SanityAddr:     protocol.DefaultJumpAddr,
		SanityLen:      4,
		MaxConnections: 0,
		AdminAddr:      "",
	}
}

// Status is a point-in-time view of the listener.
type Status struct {
	SocketPath        string `json:"socket_path"`
	Listening         bool   `json:"listening"`
	ActiveConnections int64  `json:"active_connections"`
	TotalConnections  uint64 `json:"total_connections"`
	MaxConnections    int    `json:"max_connections"`
	Uptime            string `json:"uptime"`
}

// Service accepts loader clients and runs one Handler per connection, all
// sharing the same Memory.
type Service struct {
	cfg     ServiceConfig
	mem     Memory
	handler *Handler
	sem     *semaphore.Weighted
	started time.Time

	listening atomic.Bool
	active    atomic.Int64
	total     atomic.Uint64

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

func NewService(cfg ServiceConfig, mem Memory, trig Trigger) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.SocketPath) == "" {
		cfg.SocketPath = def.SocketPath
	}
	if cfg.SanityLen <= 0 {
		cfg.SanityLen = def.SanityLen
	}
	s := &Service{
		cfg:     cfg,
		mem:     mem,
		handler: NewHandler(NewProcessor(mem, trig)),
		started: time.Now(),
		conns:   make(map[net.Conn]struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	return s
}

// Run performs the sanity read, then serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.SanityCheck(ctx); err != nil {
		return err
	}

	ln, err := s.Listen()
	if err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, strings.TrimSpace(s.cfg.AdminAddr))
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// SanityCheck reads a few bytes of guest memory to prove translation and
// memory access work before any client is accepted.
func (s *Service) SanityCheck(ctx context.Context) error {
	data, err := s.mem.Read(ctx, s.cfg.SanityAddr, s.cfg.SanityLen)
	if err != nil {
		log.Error().Str("addr", hex32(s.cfg.SanityAddr)).Err(err).Msg("loader.Service memory FAIL")
		return fmt.Errorf("%w: %v", ErrSanityCheck, err)
	}
	log.Info().
		Str("addr", hex32(s.cfg.SanityAddr)).
		Str("data", hex.EncodeToString(data)).
		Msg("loader.Service memory OK")
	return nil
}

// Listen removes any stale socket file and binds the loader socket.
func (s *Service) Listen() (net.Listener, error) {
	path := s.cfg.SocketPath
	if strings.TrimSpace(path) == "" {
		return nil, ErrSocketPathRequired
	}
	if err := removeSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("loader: listen %s: %w", path, err)
	}
	log.Info().Str("socket", path).Msg("loader.Service listening")
	return ln, nil
}

// Serve accepts until ctx is done, then closes the listener, drops live
// connections, and unlinks the socket file.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.listening.Store(true)
	defer func() {
		s.listening.Store(false)
		_ = ln.Close()
		if err := removeSocket(s.cfg.SocketPath); err != nil {
			log.Warn().Err(err).Msg("loader.Service socket cleanup failed")
		}
		log.Info().Msg("loader.Service exit")
	}()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go func() {
			defer s.release()
			defer s.untrackConn(conn)
			s.handler.Serve(ctx, conn)
		}()
	}
}

func (s *Service) Status() Status {
	return Status{
		SocketPath:        s.cfg.SocketPath,
		Listening:         s.listening.Load(),
		ActiveConnections: s.active.Load(),
		TotalConnections:  s.total.Load(),
		MaxConnections:    s.cfg.MaxConnections,
		Uptime:            time.Since(s.started).Truncate(time.Second).String(),
	}
}

func (s *Service) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// Loader connection-tracking add operation for coordinated shutdown.
func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	s.total.Add(1)
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.active.Add(-1)
	}
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func removeSocket(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loader: remove %s: %w", path, err)
	}
	return nil
}
