package trigger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ARM core register number of the program counter in the remote protocol.
const armPCRegister = 15

var ErrRemoteRejected = errors.New("trigger: remote stub rejected request")

// RemoteSerial speaks the gdb remote serial protocol directly to the stub.
type RemoteSerial struct {
	Addr    string
	Timeout time.Duration
}

func (r *RemoteSerial) Jump(ctx context.Context, addr uint32) error {
	d := net.Dialer{Timeout: r.Timeout}
	conn, err := d.DialContext(ctx, "tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("trigger: dial %s: %w", r.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(r.Timeout))
	}

	rc := newRSPConn(conn)
	if _, err := rc.request("?"); err != nil {
		return err
	}
	reply, err := rc.request(fmt.Sprintf("P%x=%s", armPCRegister, le32Hex(addr)))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: set pc reply=%q", ErrRemoteRejected, reply)
	}
	// continue has no reply until the target stops again
	return rc.send("c")
}

type rspConn struct {
	w io.Writer
	r *bufio.Reader
}

func newRSPConn(rw io.ReadWriter) *rspConn {
	return &rspConn{w: rw, r: bufio.NewReader(rw)}
}

func (c *rspConn) request(data string) (string, error) {
	if err := c.send(data); err != nil {
		return "", err
	}
	return c.readPacket()
}

// send writes one packet and waits for the stub's '+', resending on '-'.
func (c *rspConn) send(data string) error {
	pkt := encodePacket(data)
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := io.WriteString(c.w, pkt); err != nil {
			return fmt.Errorf("trigger: send %q: %w", data, err)
		}
		ack, err := c.r.ReadByte()
		if err != nil {
			return fmt.Errorf("trigger: ack %q: %w", data, err)
		}
		switch ack {
		case '+':
			return nil
		case '-':
			continue
		default:
			return fmt.Errorf("trigger: unexpected ack byte %q", ack)
		}
	}
	return fmt.Errorf("%w: %q not acknowledged", ErrRemoteRejected, data)
}

func (c *rspConn) readPacket() (string, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '$' {
			break
		}
	}
	body, err := c.r.ReadString('#')
	if err != nil {
		return "", err
	}
	body = strings.TrimSuffix(body, "#")
	var sum [2]byte
	if _, err := io.ReadFull(c.r, sum[:]); err != nil {
		return "", err
	}
	if !strings.EqualFold(string(sum[:]), fmt.Sprintf("%02x", checksum(body))) {
		_, _ = io.WriteString(c.w, "-")
		return "", fmt.Errorf("trigger: bad packet checksum %q", body)
	}
	if _, err := io.WriteString(c.w, "+"); err != nil {
		return "", err
	}
	if strings.HasPrefix(body, "E") && len(body) == 3 {
		return body, fmt.Errorf("%w: %s", ErrRemoteRejected, body)
	}
	return body, nil
}

func encodePacket(data string) string {
	return fmt.Sprintf("$%s#%02x", data, checksum(data))
}

func checksum(data string) uint8 {
	var sum uint8
	for i := 0; i < len(data); i++ {
		sum += data[i]
	}
	return sum
}

// le32Hex renders v in target (little-endian) byte order.
func le32Hex(v uint32) string {
	return fmt.Sprintf("%02x%02x%02x%02x", byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
