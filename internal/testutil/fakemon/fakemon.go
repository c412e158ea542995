// Package fakemon serves a scripted emulator monitor on a unix socket for tests.
package fakemon

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const Banner = "QEMU 8.2.0 monitor - type 'help' for more information\r\n(qemu) "

// Monitor answers gpa2hva with a fixed host base offset per guest page.
type Monitor struct {
	Path string

	queries atomic.Int64
	mu      sync.Mutex
	seen    []uint64
	answer  func(page uint64) string
}

// HostBase is the host address Start maps guest page 0 to.
const HostBase uint64 = 0x7f0000000000

// Start serves a monitor that maps every guest page p to HostBase+p.
func Start(t *testing.T) *Monitor {
	t.Helper()
	return StartWith(t, func(page uint64) string {
		return fmt.Sprintf("Host virtual address for %#x (pc.ram) is %#x\r\n(qemu) ", page, HostBase+page)
	})
}

// StartWith serves a monitor whose gpa2hva answer is produced by answer.
func StartWith(t *testing.T, answer func(page uint64) string) *Monitor {
	t.Helper()
	dir, err := os.MkdirTemp("", "fakemon")
	if err != nil {
		t.Fatalf("fakemon: temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	m := &Monitor{Path: filepath.Join(dir, "mon.sock"), answer: answer}
	ln, err := net.Listen("unix", m.Path)
	if err != nil {
		t.Fatalf("fakemon: listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()
	return m
}

// Queries returns how many gpa2hva commands were received.
func (m *Monitor) Queries() int64 {
	return m.queries.Load()
}

// Seen returns the guest pages queried, in arrival order.
func (m *Monitor) Seen() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.seen))
	copy(out, m.seen)
	return out
}

func (m *Monitor) serve(conn net.Conn) {
	defer conn.Close()
	if _, err := conn.Write([]byte(Banner)); err != nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "gpa2hva" {
			_, _ = conn.Write([]byte("unknown command\r\n(qemu) "))
			continue
		}
		page, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			_, _ = conn.Write([]byte("invalid address\r\n(qemu) "))
			continue
		}
		m.queries.Add(1)
		m.mu.Lock()
		m.seen = append(m.seen, page)
		m.mu.Unlock()
		// echo like the real monitor does before answering
		if _, err := conn.Write([]byte(line + m.answer(page))); err != nil {
			return
		}
	}
}
