package adapter

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deskterm/deskterm/internal/session"
)

type fakeWidget struct {
	mu   sync.Mutex
	data []byte
}

func (f *fakeWidget) Write(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, data...)
}

func (f *fakeWidget) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.data)
}

func testManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr := session.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(mgr.StopAll)
	return mgr
}

func TestAttachReplaysScrollback(t *testing.T) {
	mgr := testManager(t)
	s, err := mgr.OpenLocal(session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mgr.Write(s.ID, []byte("echo hi\n"))
	time.Sleep(200 * time.Millisecond)

	a := New(mgr, s.ID)
	w := &fakeWidget{}
	a.Attach(w)
	time.Sleep(50 * time.Millisecond)
	defer a.Dispose()

	if len(w.String()) == 0 {
		t.Fatal("expected scrollback replay to deliver some output")
	}
}

func TestResizeDebounced(t *testing.T) {
	mgr := testManager(t)
	s, err := mgr.OpenLocal(session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}

	a := New(mgr, s.ID)
	for i := 0; i < 10; i++ {
		a.OnResize(uint16(80+i), 24)
	}
	time.Sleep(ResizeDebounce + 50*time.Millisecond)

	info := s.Info()
	if info.LastCols != 89 {
		t.Fatalf("expected only the last debounced resize (cols=89) to land, got %d", info.LastCols)
	}
}
