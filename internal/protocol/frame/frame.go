package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	HeaderLen  = 2
	MaxPayload = 0xFFFF
)

var (
	ErrInvalidLength    = errors.New("frame: invalid length")
	ErrPeerDisconnected = errors.New("frame: peer disconnected")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// ReadFrame reads one length-prefixed payload. It blocks until the whole
// payload has arrived or the peer goes away.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, readErr(err)
	}

	n := binary.BigEndian.Uint16(head[:])
	if n == 0 {
		return nil, ErrInvalidLength
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readErr(err)
	}
	return payload, nil
}

// Encode returns the wire bytes for payload so callers can send them in one write.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidLength
	}
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:HeaderLen], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := Encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrPeerDisconnected
	}
	return err
}
