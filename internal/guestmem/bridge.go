package guestmem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/danmuck/calypsold/internal/observability"
	"golang.org/x/sync/singleflight"
)

const (
	PageSize = 0x1000
	pageMask = PageSize - 1
)

var ErrMemoryAccess = errors.New("guestmem: memory access failed")

// Translator resolves a page-aligned guest-physical address to the host
// virtual address backing it.
type Translator interface {
	GPA2HVA(ctx context.Context, page uint64) (uint64, error)
}

// Memory is positioned access into the emulator's host address space.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// CacheEntry is one translated guest page.
type CacheEntry struct {
	GuestPage uint64 `json:"guest_page"`
	HostBase  uint64 `json:"host_base"`
}

// Bridge owns the translation cache and the memory handle.
type Bridge struct {
	tr  Translator
	mem Memory

	mu    sync.RWMutex
	cache map[uint64]uint64

	inflight singleflight.Group
}

func NewBridge(tr Translator, mem Memory) *Bridge {
	return &Bridge{
		tr:    tr,
		mem:   mem,
		cache: make(map[uint64]uint64),
	}
}

// Write stores data at guestAddr, splitting it at guest page boundaries so
// each span lands in the host region of its own page.
func (b *Bridge) Write(ctx context.Context, guestAddr uint32, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		gpa := uint64(guestAddr) + uint64(written)
		hva, err := b.resolve(ctx, gpa)
		if err != nil {
			return written, err
		}
		chunk := PageSize - int(gpa&pageMask)
		if rest := len(data) - written; rest < chunk {
			chunk = rest
		}
		off, err := hostOffset(hva)
		if err != nil {
			return written, err
		}
		n, err := b.mem.WriteAt(data[written:written+chunk], off)
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: write gpa=%#x hva=%#x: %v", ErrMemoryAccess, gpa, hva, err)
		}
		if n != chunk {
			return written, fmt.Errorf("%w: short write gpa=%#x hva=%#x n=%d want=%d", ErrMemoryAccess, gpa, hva, n, chunk)
		}
	}
	observability.RecordMemoryBytes("write", written)
	return written, nil
}

// Read returns length bytes starting at guestAddr. The whole range is read
// relative to the host base of the first page; it is not split at page
// boundaries the way Write is.
func (b *Bridge) Read(ctx context.Context, guestAddr uint32, length int) ([]byte, error) {
	gpa := uint64(guestAddr)
	hva, err := b.resolve(ctx, gpa)
	if err != nil {
		return nil, err
	}
	off, err := hostOffset(hva)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := b.mem.ReadAt(buf, off)
	if n == length {
		observability.RecordMemoryBytes("read", n)
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("%w: read gpa=%#x hva=%#x n=%d want=%d: %v", ErrMemoryAccess, gpa, hva, n, length, err)
}

// Snapshot returns the cached translations ordered by guest page.
func (b *Bridge) Snapshot() []CacheEntry {
	b.mu.RLock()
	out := make([]CacheEntry, 0, len(b.cache))
	for page, host := range b.cache {
		out = append(out, CacheEntry{GuestPage: page, HostBase: host})
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].GuestPage < out[j].GuestPage
	})
	return out
}

// resolve maps gpa to its host virtual address: cached host base of the
// containing page plus the in-page offset.
func (b *Bridge) resolve(ctx context.Context, gpa uint64) (uint64, error) {
	base, err := b.translate(ctx, gpa&^pageMask)
	if err != nil {
		return 0, err
	}
	return base + gpa&pageMask, nil
}

// translate returns the host base for page. Concurrent misses on the same
// page share one monitor query.
func (b *Bridge) translate(ctx context.Context, page uint64) (uint64, error) {
	if base, ok := b.lookup(page); ok {
		observability.RecordTranslation("hit")
		return base, nil
	}
	v, err, _ := b.inflight.Do(strconv.FormatUint(page, 16), func() (any, error) {
		if base, ok := b.lookup(page); ok {
			return base, nil
		}
		base, err := b.tr.GPA2HVA(ctx, page)
		if err != nil {
			return uint64(0), err
		}
		b.mu.Lock()
		b.cache[page] = base
		b.mu.Unlock()
		return base, nil
	})
	if err != nil {
		observability.RecordTranslation("error")
		return 0, fmt.Errorf("guestmem: translate page=%#x: %w", page, err)
	}
	observability.RecordTranslation("miss")
	return v.(uint64), nil
}

func (b *Bridge) lookup(page uint64) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	base, ok := b.cache[page]
	return base, ok
}

func hostOffset(hva uint64) (int64, error) {
	if hva > math.MaxInt64 {
		return 0, fmt.Errorf("%w: host address %#x out of range", ErrMemoryAccess, hva)
	}
	return int64(hva), nil
}
