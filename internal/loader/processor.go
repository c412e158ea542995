package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/calypsold/internal/observability"
	"github.com/danmuck/calypsold/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Memory is the guest memory surface loader commands operate on.
type Memory interface {
	Write(ctx context.Context, addr uint32, data []byte) (int, error)
	Read(ctx context.Context, addr uint32, length int) ([]byte, error)
}

// Trigger schedules an execution redirect without waiting for it.
type Trigger interface {
	Fire(addr uint32)
}

// Response is what one command produced. A nil Payload sends nothing.
type Response struct {
	Payload  []byte
	Terminal bool
	// afterSend runs only once Payload has been written.
	afterSend func()
}

func (r Response) sent() {
	if r.afterSend != nil {
		r.afterSend()
	}
}

// Processor decodes and executes one command at a time. It keeps no state
// between calls.
type Processor struct {
	mem  Memory
	trig Trigger
}

func NewProcessor(mem Memory, trig Trigger) *Processor {
	return &Processor{mem: mem, trig: trig}
}

// Handle runs the command in payload. A returned error means the session
// cannot continue. A memget whose reply cannot fit in one frame ends the
// session; other malformed payloads produce an empty Response.
func (p *Processor) Handle(ctx context.Context, payload []byte) (Response, error) {
	cmd, err := protocol.Parse(payload)
	if err != nil {
		op := "empty"
		if len(payload) > 0 {
			op = protocol.Opcode(payload[0]).String()
		}
		if errors.Is(err, protocol.ErrLengthOutOfRange) {
			observability.RecordCommand(op, "error")
			return Response{}, fmt.Errorf("loader: %w", err)
		}
		observability.RecordCommand(op, "protocol_error")
		log.Warn().Str("opcode", op).Int("len", len(payload)).Err(err).Msg("loader.Processor rejected payload")
		return Response{}, nil
	}
	return p.Dispatch(ctx, cmd)
}

func (p *Processor) Dispatch(ctx context.Context, cmd protocol.Command) (Response, error) {
	switch c := cmd.(type) {
	case protocol.Ping:
		observability.RecordCommand("ping", "ok")
		log.Debug().Msg("loader.Processor ping")
		return Response{Payload: protocol.PingReply()}, nil

	case protocol.MemLoad:
		return p.memLoad(ctx, c)

	case protocol.MemGet:
		data, err := p.mem.Read(ctx, c.Addr, int(c.Length))
		if err != nil {
			observability.RecordCommand("memget", "error")
			return Response{}, fmt.Errorf("loader: memget addr=%#x len=%d: %w", c.Addr, c.Length, err)
		}
		observability.RecordCommand("memget", "ok")
		log.Debug().Str("addr", hex32(c.Addr)).Uint16("len", c.Length).Msg("loader.Processor memget")
		return Response{Payload: protocol.MemGetReply(c, data)}, nil

	case protocol.Jump:
		observability.RecordCommand("jump", "ok")
		log.Info().Str("addr", hex32(c.Addr)).Msg("loader.Processor jump")
		return Response{
			Payload:   protocol.JumpReply(c),
			Terminal:  true,
			afterSend: func() { p.trig.Fire(c.Addr) },
		}, nil

	case protocol.Unknown:
		observability.RecordCommand("unknown", "ignored")
		log.Info().
			Str("opcode", c.Op.String()).
			Hex("payload", c.Raw).
			Msg("loader.Processor unknown command ignored")
		return Response{}, nil

	default:
		return Response{}, errors.New("loader: unhandled command type")
	}
}

func (p *Processor) memLoad(ctx context.Context, c protocol.MemLoad) (Response, error) {
	if !c.Valid() {
		observability.RecordCommand("memload", "nack")
		msg := "loader.Processor memload checksum mismatch, nack"
		if c.Truncated() {
			msg = "loader.Processor memload block truncated, nack"
		}
		log.Warn().
			Str("addr", hex32(c.Addr)).
			Uint8("len", c.BlockLen).
			Int("data", len(c.Data)).
			Str("crc", fmt.Sprintf("%#04x", c.CRC)).
			Msg(msg)
		return Response{Payload: protocol.MemLoadNack(c)}, nil
	}
	if _, err := p.mem.Write(ctx, c.Addr, c.Data); err != nil {
		observability.RecordCommand("memload", "error")
		return Response{}, fmt.Errorf("loader: memload addr=%#x len=%d: %w", c.Addr, c.BlockLen, err)
	}
	observability.RecordCommand("memload", "ack")
	log.Debug().
		Str("addr", hex32(c.Addr)).
		Uint8("len", c.BlockLen).
		Str("crc", fmt.Sprintf("%#04x", c.CRC)).
		Msg("loader.Processor memload ack")
	return Response{Payload: protocol.MemLoadAck(c)}, nil
}

func hex32(v uint32) string {
	return fmt.Sprintf("%#x", v)
}
