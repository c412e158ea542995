package loader

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/danmuck/calypsold/internal/observability"
	"github.com/danmuck/calypsold/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Handler runs the frame loop for one client connection.
type Handler struct {
	proc *Processor
}

func NewHandler(proc *Processor) *Handler {
	return &Handler{proc: proc}
}

// Serve reads frames until the peer leaves, a jump ends the session, or a
// transport or memory error occurs. conn is always closed on return.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := remoteName(conn)
	opened := time.Now()
	observability.ConnectionOpened()
	log.Info().Str("remote", remote).Msg("loader.Handler client connected")
	defer func() {
		observability.ConnectionClosed(time.Since(opened))
		log.Info().Str("remote", remote).Msg("loader.Handler client disconnected")
	}()

	for {
		payload, err := frame.ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrPeerDisconnected):
				log.Debug().Str("remote", remote).Msg("loader.Handler peer closed")
			case errors.Is(err, frame.ErrInvalidLength):
				log.Warn().Str("remote", remote).Err(err).Msg("loader.Handler bad frame")
			case errors.Is(err, net.ErrClosed):
				log.Debug().Str("remote", remote).Msg("loader.Handler connection closed")
			default:
				log.Error().Str("remote", remote).Err(err).Msg("loader.Handler read failed")
			}
			return
		}

		resp, err := h.proc.Handle(ctx, payload)
		if err != nil {
			log.Error().Str("remote", remote).Err(err).Msg("loader.Handler command failed, closing")
			return
		}
		if resp.Payload != nil {
			if err := frame.WriteFrame(conn, resp.Payload); err != nil {
				log.Error().Str("remote", remote).Err(err).Msg("loader.Handler write failed")
				return
			}
			resp.sent()
		}
		if resp.Terminal {
			return
		}
	}
}

func remoteName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "local"
}
