package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/calypsold/internal/guestmem"
	"github.com/danmuck/calypsold/internal/monitor"
	"github.com/danmuck/calypsold/internal/testutil/fakemon"
	"github.com/danmuck/calypsold/internal/testutil/testlog"
)

func startService(t *testing.T, cfg ServiceConfig, mem Memory) (*Service, context.CancelFunc, <-chan error) {
	t.Helper()
	svc := NewService(cfg, mem, newFakeTrigger())
	ln, err := svc.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return svc, cancel, done
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServiceConcurrentPings(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	startService(t, ServiceConfig{SocketPath: path}, newFakeMemory())

	const clients = 16
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.DialTimeout("unix", path, time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			for round := 0; round < 5; round++ {
				_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
				if _, err := conn.Write([]byte{0x00, 0x01, 0x01}); err != nil {
					errs <- err
					return
				}
				reply := make([]byte, 4)
				if _, err := io.ReadFull(conn, reply); err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(reply, []byte{0x00, 0x02, 0x01, 0x00}) {
					errs <- fmt.Errorf("unexpected reply %x", reply)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("client: %v", err)
	}
}

func TestServiceRemovesStaleSocketAndCleansUp(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	svc, cancel, done := startService(t, ServiceConfig{SocketPath: path}, newFakeMemory())

	conn := dial(t, path)
	send(t, conn, []byte{0x01})
	if got := recv(t, conn); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Fatalf("unexpected pong: %x", got)
	}
	if st := svc.Status(); !st.Listening || st.TotalConnections != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("socket file not removed: %v", err)
	}
	if svc.Status().Listening {
		t.Fatalf("expected listener down")
	}
}

func TestServiceJumpClosesOnlyThatConnection(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	startService(t, ServiceConfig{SocketPath: path}, newFakeMemory())

	jumper := dial(t, path)
	other := dial(t, path)

	send(t, jumper, []byte{0x04, 0x00, 0x82, 0x00, 0x00})
	if got := recv(t, jumper); !bytes.Equal(got, []byte{0x04, 0x00, 0x82, 0x00, 0x00}) {
		t.Fatalf("unexpected jump reply: %x", got)
	}
	_ = jumper.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := jumper.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected jump session to close")
	}

	send(t, other, []byte{0x01})
	if got := recv(t, other); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Fatalf("other session broken: %x", got)
	}
}

func TestServiceConnectionLimit(t *testing.T) {
	testlog.Start(t)
	path := socketPath(t)
	svc, _, _ := startService(t, ServiceConfig{SocketPath: path, MaxConnections: 1}, newFakeMemory())

	first := dial(t, path)
	send(t, first, []byte{0x01})
	recv(t, first)

	// the second client connects at the socket level but is not served
	// until the first one leaves
	second := dial(t, path)
	send(t, second, []byte{0x01})
	expectSilence(t, second)

	_ = first.Close()
	if got := recv(t, second); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Fatalf("unexpected pong: %x", got)
	}
	if st := svc.Status(); st.MaxConnections != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestServiceSanityCheck(t *testing.T) {
	testlog.Start(t)
	mem := newFakeMemory()
	svc := NewService(ServiceConfig{SocketPath: socketPath(t)}, mem, newFakeTrigger())
	if err := svc.SanityCheck(context.Background()); err != nil {
		t.Fatalf("sanity check: %v", err)
	}
	mem.mu.Lock()
	reads := append([]int(nil), mem.reads...)
	mem.mu.Unlock()
	if len(reads) != 1 || reads[0] != 4 {
		t.Fatalf("unexpected sanity reads: %v", reads)
	}

	mem.failErr = monitor.ErrTranslation
	err := svc.SanityCheck(context.Background())
	if !errors.Is(err, ErrSanityCheck) {
		t.Fatalf("expected ErrSanityCheck, got %v", err)
	}
}

func TestServiceWithBridgeSharesCache(t *testing.T) {
	testlog.Start(t)
	mon := fakemon.Start(t)
	client, err := monitor.NewClient(monitor.Config{SocketPath: mon.Path, Settle: 0, Timeout: time.Second})
	if err != nil {
		t.Fatalf("monitor client: %v", err)
	}
	bridge := guestmem.NewBridge(client, newHostMemory())
	path := socketPath(t)
	startService(t, ServiceConfig{SocketPath: path}, bridge)

	a := dial(t, path)
	b := dial(t, path)
	send(t, a, []byte{0x02, 0x00, 0x82, 0x00, 0x00})
	recv(t, a)
	send(t, b, []byte{0x02, 0x00, 0x82, 0x00, 0x10})
	recv(t, b)
	if mon.Queries() != 1 {
		t.Fatalf("expected a single translation across connections, got %d", mon.Queries())
	}
}

func TestAdminRouter(t *testing.T) {
	testlog.Start(t)
	svc := NewService(ServiceConfig{SocketPath: "/tmp/unused.sock"}, newFakeMemory(), newFakeTrigger())
	router := svc.AdminRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.SocketPath != "/tmp/unused.sock" {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cache code: %d", rec.Code)
	}
	var cache struct {
		Count   int                   `json:"count"`
		Entries []guestmem.CacheEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cache); err != nil {
		t.Fatalf("decode cache: %v", err)
	}
	if cache.Count != 1 || cache.Entries[0].GuestPage != 0x820000 {
		t.Fatalf("unexpected cache: %+v", cache)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("calypsold_")) {
		t.Fatalf("metrics not exposed: code=%d", rec.Code)
	}
}

func TestAdminRouterToken(t *testing.T) {
	testlog.Start(t)
	svc := NewService(ServiceConfig{SocketPath: "/tmp/unused.sock", AdminToken: "tok"}, newFakeMemory(), newFakeTrigger())
	router := svc.AdminRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay open: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}
