package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/calypsold/internal/protocol/crc16"
	"github.com/danmuck/calypsold/internal/protocol/frame"
)

// Opcode is the first payload byte of every loader message.
type Opcode uint8

const (
	OpPing    Opcode = 0x01
	OpMemGet  Opcode = 0x02
	OpJump    Opcode = 0x04
	OpJumpAlt Opcode = 0x06 // documented by the loader tools, not dispatched
	OpMemLoad Opcode = 0x08
)

const (
	DefaultJumpAddr  uint32 = 0x820000
	DefaultMemGetLen uint16 = 4

	memLoadHeaderLen = 8
	memGetAddrLen    = 5
	memGetFullLen    = 7
	jumpFullLen      = 5

	// largest memget that still fits a reply frame
	MaxMemGetLen = frame.MaxPayload - memGetFullLen
)

func (o Opcode) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpMemGet:
		return "memget"
	case OpJump:
		return "jump"
	case OpMemLoad:
		return "memload"
	default:
		return fmt.Sprintf("0x%02x", uint8(o))
	}
}

// Command is one decoded loader request.
type Command interface {
	Opcode() Opcode
	// Terminal reports whether the connection ends after the reply is sent.
	Terminal() bool
}

type Ping struct{}

// MemLoad writes Data at Addr once its checksum verifies.
type MemLoad struct {
	BlockLen uint8
	CRC      uint16
	Addr     uint32
	Data     []byte
}

type Jump struct {
	Op   Opcode
	Addr uint32
}

type MemGet struct {
	Addr   uint32
	Length uint16
}

// Unknown carries any opcode without a handler. It is never answered.
type Unknown struct {
	Op  Opcode
	Raw []byte
}

func (Ping) Opcode() Opcode      { return OpPing }
func (MemLoad) Opcode() Opcode   { return OpMemLoad }
func (j Jump) Opcode() Opcode    { return j.Op }
func (MemGet) Opcode() Opcode    { return OpMemGet }
func (u Unknown) Opcode() Opcode { return u.Op }

func (Ping) Terminal() bool    { return false }
func (MemLoad) Terminal() bool { return false }
func (Jump) Terminal() bool    { return true }
func (MemGet) Terminal() bool  { return false }
func (Unknown) Terminal() bool { return false }

// Valid reports whether the whole declared block arrived and its checksum
// matches.
func (m MemLoad) Valid() bool {
	return !m.Truncated() && crc16.Checksum(m.Data) == m.CRC
}

// Truncated reports a block carrying fewer data bytes than BlockLen.
func (m MemLoad) Truncated() bool {
	return len(m.Data) < int(m.BlockLen)
}

// Parse classifies payload by its opcode byte and decodes the fields that
// opcode defines. A parse error means the payload gets no reply.
func Parse(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	op := Opcode(payload[0])
	switch op {
	case OpPing:
		return Ping{}, nil
	case OpMemLoad:
		return parseMemLoad(payload)
	case OpJump:
		return parseJump(payload), nil
	case OpMemGet:
		return parseMemGet(payload)
	default:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return Unknown{Op: op, Raw: raw}, nil
	}
}

func parseMemLoad(payload []byte) (MemLoad, error) {
	if len(payload) < memLoadHeaderLen {
		return MemLoad{}, fmt.Errorf("%w: memload len=%d", ErrShortPayload, len(payload))
	}
	m := MemLoad{
		BlockLen: payload[1],
		CRC:      binary.BigEndian.Uint16(payload[2:4]),
		Addr:     binary.BigEndian.Uint32(payload[4:8]),
	}
	data := payload[memLoadHeaderLen:]
	if len(data) > int(m.BlockLen) {
		data = data[:m.BlockLen]
	}
	m.Data = make([]byte, len(data))
	copy(m.Data, data)
	return m, nil
}

func parseJump(payload []byte) Jump {
	j := Jump{Op: OpJump, Addr: DefaultJumpAddr}
	if len(payload) >= jumpFullLen {
		j.Addr = binary.BigEndian.Uint32(payload[1:5])
	}
	return j
}

func parseMemGet(payload []byte) (MemGet, error) {
	if len(payload) < memGetAddrLen {
		return MemGet{}, fmt.Errorf("%w: memget len=%d", ErrShortPayload, len(payload))
	}
	m := MemGet{
		Addr:   binary.BigEndian.Uint32(payload[1:5]),
		Length: DefaultMemGetLen,
	}
	if len(payload) >= memGetFullLen {
		m.Length = binary.BigEndian.Uint16(payload[5:7])
	}
	if int(m.Length) > MaxMemGetLen {
		return MemGet{}, fmt.Errorf("%w: memget length=%d", ErrLengthOutOfRange, m.Length)
	}
	return m, nil
}
