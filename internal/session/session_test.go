package session

import (
	"testing"
	"time"
)

func newTestSession() *Session {
	return newSession("test-id", KindLocal)
}

func TestSubscribeReplaysScrollback(t *testing.T) {
	s := newTestSession()
	s.scrollback.Write([]byte("hello "))
	s.scrollback.Write([]byte("world"))

	ch, buffered := s.Subscribe()
	defer s.Unsubscribe(ch)

	if string(buffered) != "hello world" {
		t.Fatalf("expected buffered scrollback %q, got %q", "hello world", buffered)
	}
}

func TestBroadcastDropsOnSlowConsumer(t *testing.T) {
	s := newTestSession()
	ch, _ := s.Subscribe()
	defer s.Unsubscribe(ch)

	for i := 0; i < 2000; i++ {
		s.broadcast([]byte("x"))
	}
	// The channel is bounded at 1024; broadcast must never block the
	// caller even when nobody is draining it.
	select {
	case <-ch:
	default:
		t.Fatal("expected at least one buffered message")
	}
}

func TestWriteNoopOnClosedSession(t *testing.T) {
	s := newTestSession()
	s.Status = StatusClosed

	n, err := s.Write([]byte("data"))
	if n != 0 || err != nil {
		t.Fatalf("expected no-op write on closed session, got n=%d err=%v", n, err)
	}
}

func TestWriteNoopOnDisconnectedSession(t *testing.T) {
	s := newTestSession()
	s.Status = StatusDisconnected

	n, err := s.Write([]byte("data"))
	if n != 0 || err != nil {
		t.Fatalf("expected no-op write on disconnected session, got n=%d err=%v", n, err)
	}
}

func TestResizeRejectsTooSmall(t *testing.T) {
	s := newTestSession()
	if err := s.Resize(1, 24); err != ErrInvalidSize {
		t.Fatalf("expected ErrInvalidSize for cols=1, got %v", err)
	}
	if err := s.Resize(80, 1); err != ErrInvalidSize {
		t.Fatalf("expected ErrInvalidSize for rows=1, got %v", err)
	}
}

func TestResizeNoErrorWhenNotActive(t *testing.T) {
	s := newTestSession()
	if err := s.Resize(80, 24); err != nil {
		t.Fatalf("expected no error resizing a session with no pty, got %v", err)
	}
}

type fakePTY struct {
	resized  bool
	lastCols uint16
	lastRows uint16
}

func (f *fakePTY) Read([]byte) (int, error)  { return 0, nil }
func (f *fakePTY) Write([]byte) (int, error) { return 0, nil }
func (f *fakePTY) Close() error              { return nil }
func (f *fakePTY) Resize(cols, rows uint16) error {
	f.resized = true
	f.lastCols, f.lastRows = cols, rows
	return nil
}

func TestResizeIsIdempotent(t *testing.T) {
	s := newTestSession()
	pty := &fakePTY{}
	s.pty = pty

	if err := s.Resize(100, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pty.resized {
		t.Fatal("expected underlying pty to be resized")
	}

	pty.resized = false
	if err := s.Resize(100, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pty.resized {
		t.Fatal("expected repeated identical resize to be a no-op")
	}
}

func TestRingBufferEvictsOldestByByteBudget(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("0123456789")) // exactly at budget
	rb.Write([]byte("ab"))         // forces eviction of the oldest chunk

	if got := string(rb.Bytes()); got != "ab" {
		t.Fatalf("expected only the newest chunk to survive, got %q", got)
	}
}

func TestRingBufferEvictsOldestByChunkCeiling(t *testing.T) {
	rb := NewRingBuffer(1 << 20)
	rb.maxChunks = 3
	for i := 0; i < 5; i++ {
		rb.Write([]byte{byte('a' + i)})
	}
	if got := string(rb.Bytes()); got != "cde" {
		t.Fatalf("expected chunk ceiling to keep only the newest 3, got %q", got)
	}
}

func TestRingBufferEvictHalf(t *testing.T) {
	rb := NewRingBuffer(1 << 20)
	for i := 0; i < 4; i++ {
		rb.Write([]byte{byte('a' + i)})
	}
	rb.EvictHalf()
	if got := string(rb.Bytes()); got != "cd" {
		t.Fatalf("expected EvictHalf to drop the oldest 2 of 4 chunks, got %q", got)
	}
}

func TestSessionInfoReflectsStatus(t *testing.T) {
	s := newTestSession()
	s.Local = &LocalConfig{Shell: "/bin/bash"}
	s.Status = StatusActive
	s.lastCols, s.lastRows = 120, 40

	info := s.Info()
	if info.Status != StatusActive || info.LastCols != 120 || info.LastRows != 40 {
		t.Fatalf("unexpected info snapshot: %+v", info)
	}
	if time.Since(info.CreatedAt) > time.Minute {
		t.Fatalf("expected CreatedAt to be recent, got %v", info.CreatedAt)
	}
}
