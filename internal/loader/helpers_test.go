package loader

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/calypsold/internal/guestmem"
	"github.com/danmuck/calypsold/internal/protocol/frame"
)

type writeCall struct {
	addr uint32
	data []byte
}

// fakeMemory records writes and serves reads from a flat guest image.
type fakeMemory struct {
	mu      sync.Mutex
	image   map[uint32]byte
	writes  []writeCall
	reads   []int
	failErr error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{image: make(map[uint32]byte)}
}

func (m *fakeMemory) Write(_ context.Context, addr uint32, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	m.writes = append(m.writes, writeCall{addr: addr, data: append([]byte(nil), data...)})
	for i, b := range data {
		m.image[addr+uint32(i)] = b
	}
	return len(data), nil
}

func (m *fakeMemory) Read(_ context.Context, addr uint32, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	m.reads = append(m.reads, length)
	out := make([]byte, length)
	for i := range out {
		out[i] = m.image[addr+uint32(i)]
	}
	return out, nil
}

func (m *fakeMemory) Snapshot() []guestmem.CacheEntry {
	return []guestmem.CacheEntry{{GuestPage: 0x820000, HostBase: 0x7f0000820000}}
}

func (m *fakeMemory) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

type fakeTrigger struct {
	fired chan uint32
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{fired: make(chan uint32, 4)}
}

func (f *fakeTrigger) Fire(addr uint32) {
	f.fired <- addr
}

func memLoadPayload(addr uint32, crc uint16, data []byte) []byte {
	out := make([]byte, 8+len(data))
	out[0] = 0x08
	out[1] = byte(len(data))
	binary.BigEndian.PutUint16(out[2:4], crc)
	binary.BigEndian.PutUint32(out[4:8], addr)
	copy(out[8:], data)
	return out
}

// startHandler runs a Handler on one end of a pipe and returns the client end
// plus a channel closed when the handler returns.
func startHandler(t *testing.T, mem Memory, trig Trigger) (net.Conn, <-chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	h := NewHandler(NewProcessor(mem, trig))
	go func() {
		defer close(done)
		h.Serve(context.Background(), server)
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, done
}

func send(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := frame.WriteFrame(conn, payload); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func recv(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := frame.ReadFrame(conn)
	if err != nil {
		t.Fatalf("recv frame: %v", err)
	}
	return payload
}

// expectSilence asserts nothing arrives on conn within a short window.
func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Fatalf("unexpected reply byte %#x", buf[0])
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not exit")
	}
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "loaderd")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "loader.sock")
}

// hostMemory is a sparse host address space for bridge-backed tests.
type hostMemory struct {
	mu    sync.Mutex
	bytes map[int64]byte
}

func newHostMemory() *hostMemory {
	return &hostMemory{bytes: make(map[int64]byte)}
}

func (h *hostMemory) ReadAt(b []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range b {
		b[i] = h.bytes[off+int64(i)]
	}
	return len(b), nil
}

func (h *hostMemory) WriteAt(b []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range b {
		h.bytes[off+int64(i)] = v
	}
	return len(b), nil
}
