package session

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// Kind distinguishes a locally spawned PTY session from a remote SSH one.
type Kind string

const (
	KindLocal Kind = "local"
	KindSsh   Kind = "ssh"
)

// Status is the lifecycle state of a Session. Transitions are monotonic
// except Disconnected -> Active, which happens on a successful reconnect.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// LocalConfig is the recipe for a Local session.
type LocalConfig struct {
	Shell string            `json:"shell"`
	Cwd   string            `json:"workingDirectory"`
	Env   map[string]string `json:"env,omitempty"`
}

// SshConfig is the recipe for a Ssh session, and the source of truth for
// reconnect parameters.
type SshConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// ptyHandle abstracts over the unix (creack/pty) and Windows (conpty)
// backends so the reader/writer loop in manager.go is platform-agnostic.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

// Session is a live attached I/O channel: either a local PTY-backed child
// process or an SSH interactive shell channel.
type Session struct {
	mu sync.Mutex

	ID        string
	Kind      Kind
	Title     string
	CreatedAt time.Time
	Status    Status

	Local *LocalConfig
	Ssh   *SshConfig

	pty    ptyHandle
	sshCli *sshClient // nil for Local sessions

	lastCols uint16
	lastRows uint16

	scrollback  *RingBuffer
	subscribers map[chan []byte]struct{}
	subMu       sync.Mutex

	writeQueue chan []byte

	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

func newSession(id string, kind Kind) *Session {
	return &Session{
		ID:          id,
		Kind:        kind,
		CreatedAt:   time.Now(),
		Status:      StatusConnecting,
		scrollback:  NewRingBuffer(defaultRingSize),
		subscribers: make(map[chan []byte]struct{}),
		writeQueue:  make(chan []byte, 256),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
}

// Info is the JSON-serializable snapshot of session metadata, used by the
// HTTP API and the crash-recovery store.
type Info struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"createdAt"`
	Status    Status       `json:"status"`
	Local     *LocalConfig `json:"local,omitempty"`
	Ssh       *SshConfig   `json:"ssh,omitempty"`
	LastCols  uint16       `json:"lastCols,omitempty"`
	LastRows  uint16       `json:"lastRows,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Kind:      s.Kind,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		Status:    s.Status,
		Local:     s.Local,
		Ssh:       s.Ssh,
		LastCols:  s.lastCols,
		LastRows:  s.lastRows,
	}
}

func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusClosed {
		return
	}
	s.Title = title
}

// Subscribe joins the per-session output fan-out and returns the buffered
// scrollback so the new consumer can replay everything it missed.
func (s *Session) Subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, 1024)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	scrollback := s.scrollback.Bytes()
	s.subMu.Unlock()
	return ch, scrollback
}

func (s *Session) Unsubscribe(ch chan []byte) {
	s.subMu.Lock()
	delete(s.subscribers, ch)
	s.subMu.Unlock()
	close(ch)
}

func (s *Session) broadcast(data []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
			// slow consumer, drop rather than block the reader loop
		}
	}
}

// Write enqueues bytes for the session's writer loop. It is a no-op on a
// Disconnected or Closed session, per spec.
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	status := s.Status
	s.mu.Unlock()
	if status == StatusDisconnected || status == StatusClosed {
		return 0, nil
	}
	select {
	case s.writeQueue <- append([]byte(nil), data...):
		return len(data), nil
	case <-s.done:
		return 0, os.ErrClosed
	}
}

// Resize is idempotent: repeated calls with the same dimensions are no-ops
// beyond the underlying syscall, and cols/rows < 2 are rejected.
func (s *Session) Resize(cols, rows uint16) error {
	if cols < 2 || rows < 2 {
		return ErrInvalidSize
	}
	s.mu.Lock()
	pty := s.pty
	prevCols, prevRows := s.lastCols, s.lastRows
	s.mu.Unlock()

	if pty == nil {
		// Not Active; spec says no error in this case.
		return nil
	}
	if cols == prevCols && rows == prevRows {
		return nil
	}
	if err := pty.Resize(cols, rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastCols, s.lastRows = cols, rows
	s.mu.Unlock()
	return nil
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

var (
	ErrInvalidSize      = errors.New("session: cols/rows must be >= 2")
	ErrNotFound         = errors.New("session: not found")
	ErrInvalidOperation = errors.New("session: invalid operation")
)
