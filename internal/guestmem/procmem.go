package guestmem

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ProcMem is positioned access to another process's memory via /proc/<pid>/mem.
// Pread/Pwrite carry their own offsets, so one descriptor serves all
// connections without serialization.
type ProcMem struct {
	pid int
	f   *os.File
	fd  int
}

var _ Memory = (*ProcMem)(nil)

func OpenProcMem(pid int) (*ProcMem, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("guestmem: invalid pid %d", pid)
	}
	path := fmt.Sprintf("/proc/%d/mem", pid)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("guestmem: open %s: %w", path, err)
	}
	return &ProcMem{pid: pid, f: f, fd: int(f.Fd())}, nil
}

func (p *ProcMem) PID() int {
	return p.pid
}

func (p *ProcMem) ReadAt(b []byte, off int64) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Pread(p.fd, b[total:], off+int64(total))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrUnexpectedEOF
		}
		total += n
	}
	return total, nil
}

func (p *ProcMem) WriteAt(b []byte, off int64) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Pwrite(p.fd, b[total:], off+int64(total))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		total += n
	}
	return total, nil
}

func (p *ProcMem) Close() error {
	return p.f.Close()
}
