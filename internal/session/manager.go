package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// processCeiling is the process-wide terminal memory ceiling (§6 Defaults
// and limits: 100 MiB) enforced by the eviction sweep.
const processCeiling = 100 * 1024 * 1024

// EventKind names the five events the Session Host publishes on its bus.
type EventKind string

const (
	EventOutput          EventKind = "terminal:output"
	EventDisconnected    EventKind = "terminal:disconnected"
	EventReconnectNeeded EventKind = "terminal:reconnect-needed"
	EventReconnected     EventKind = "terminal:reconnected"
	EventClosed          EventKind = "terminal:closed"
)

// Event is a single bus message. Data is only populated for EventOutput.
type Event struct {
	Kind      EventKind
	SessionID string
	Data      []byte
}

// Manager is the process-wide registry of live sessions: the Session Host.
// It owns every PTY/SSH channel, runs their reader/writer loops, and
// publishes a single ordered-per-session event bus that the Tab/Workspace
// Controller and front-of-house adapters subscribe to.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
	store    *Store

	busMu sync.Mutex
	bus   map[chan Event]struct{}

	evictor *cron.Cron

	shuttingDown bool
}

// NewManager starts a Session Host with no live sessions registered. It
// opens (and creates, on first run) the crash-recovery metadata store;
// RecoverableSessions exposes what that store knows so the caller can offer
// to reopen them via OpenLocal/OpenSsh.
func NewManager(logger *slog.Logger) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		bus:      make(map[chan Event]struct{}),
	}
	st, err := newStore(logger)
	if err != nil {
		logger.Warn("crash-recovery store unavailable", "err", err)
	}
	m.store = st

	m.evictor = cron.New()
	// Backpressure is enforced inline on every buffered write (see
	// RingBuffer), but non-visible sessions can still accumulate bytes no
	// adapter is replaying; sweep those down periodically rather than only
	// when the ceiling is breached by a single session's own write.
	m.evictor.AddFunc("@every 30s", m.sweepBackpressure)
	m.evictor.Start()
	return m
}

// RecoverableSessions returns session recipes that were live at last save
// and have not yet expired, for the caller to offer reopening after an
// unclean shutdown.
func (m *Manager) RecoverableSessions() []Info {
	if m.store == nil {
		return nil
	}
	infos, err := m.store.Load()
	if err != nil {
		m.logger.Warn("failed to load recoverable sessions", "err", err)
		return nil
	}
	return infos
}

// Events returns a channel subscribed to every session's bus until the
// caller calls UnsubscribeEvents. Delivery is best-effort: a slow consumer
// drops events rather than blocking the Host.
func (m *Manager) Events() chan Event {
	ch := make(chan Event, 256)
	m.busMu.Lock()
	m.bus[ch] = struct{}{}
	m.busMu.Unlock()
	return ch
}

func (m *Manager) UnsubscribeEvents(ch chan Event) {
	m.busMu.Lock()
	delete(m.bus, ch)
	m.busMu.Unlock()
	close(ch)
}

func (m *Manager) publish(ev Event) {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	for ch := range m.bus {
		select {
		case ch <- ev:
		default:
		}
	}
}

// OpenLocal spawns a child process attached to a freshly allocated PTY and
// registers it as Active. Fails with *SpawnError if the shell cannot start.
func (m *Manager) OpenLocal(cfg LocalConfig) (*Session, error) {
	handle, cmd, err := spawnLocal(&cfg)
	if err != nil {
		return nil, err
	}

	s := newSession(generateID(), KindLocal)
	s.Local = &cfg
	s.pty = handle
	s.lastCols, s.lastRows = 80, 24
	s.Status = StatusActive

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	var w waiter
	if cmd != nil {
		w = cmd
	}
	m.startLoops(s, w)
	m.persist(s)
	m.logger.Info("session opened", "id", s.ID, "kind", s.Kind)
	return s, nil
}

// persist mirrors a session's current metadata into the crash-recovery
// store. Best-effort: a nil store (unavailable on this platform/filesystem)
// is a silent no-op.
func (m *Manager) persist(s *Session) {
	if m.store == nil {
		return
	}
	m.store.Save(s.Info())
}

// OpenSsh opens a TCP connection, performs the SSH handshake, authenticates,
// requests a PTY and starts an interactive shell. State is Connecting
// during handshake and becomes Active on shell start.
func (m *Manager) OpenSsh(ctx context.Context, cfg SshConfig) (*Session, error) {
	s := newSession(generateID(), KindSsh)
	s.Ssh = &cfg
	s.Status = StatusConnecting

	cctx, cancel := context.WithTimeout(ctx, sshConnectTimeout)
	defer cancel()

	cli, err := dialSSH(cctx, cfg)
	if err != nil {
		return nil, err
	}

	s.pty = cli
	s.sshCli = cli
	s.lastCols, s.lastRows = 80, 24
	s.Status = StatusActive

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.startLoops(s, nil)
	m.persist(s)
	m.logger.Info("session opened", "id", s.ID, "kind", s.Kind, "host", cfg.Host)
	return s, nil
}

// Write forwards to Session.Write; returns ErrNotFound if the session is
// unregistered.
func (m *Manager) Write(id string, data []byte) (int, error) {
	s, ok := m.Get(id)
	if !ok {
		return 0, ErrNotFound
	}
	return s.Write(data)
}

// Resize forwards to Session.Resize.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	return s.Resize(cols, rows)
}

// Close signals the session's channel to terminate, waits for its I/O
// loops to drain, and publishes Closed. Idempotent.
func (m *Manager) Close(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	return m.closeSession(s)
}

func (m *Manager) closeSession(s *Session) error {
	s.mu.Lock()
	if s.Status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.Status = StatusClosed
	pty := s.pty
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
	})
	if pty != nil {
		pty.Close()
	}
	<-s.readDone

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if m.store != nil {
		m.store.Delete(s.ID)
	}

	m.publish(Event{Kind: EventClosed, SessionID: s.ID})
	m.logger.Info("session closed", "id", s.ID)
	return nil
}

// Duplicate opens a fresh session with the same recipe as an existing one,
// used by duplicate_tab when the Controller wants a sibling session rather
// than a shared one.
func (m *Manager) Duplicate(ctx context.Context, id string) (*Session, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	local, ssh := s.Local, s.Ssh
	s.mu.Unlock()

	if local != nil {
		return m.OpenLocal(*local)
	}
	if ssh != nil {
		return m.OpenSsh(ctx, *ssh)
	}
	return nil, ErrInvalidOperation
}

// Reconnect is only valid when state is Disconnected. It tears down the
// dead channel, performs a fresh handshake against the session's stored
// sshConfig, and on success transitions to Active, keeping the same
// session ID so scrollback and pane identity are unaffected.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	if s.Status != StatusDisconnected {
		s.mu.Unlock()
		return ErrInvalidOperation
	}
	if s.Ssh == nil {
		s.mu.Unlock()
		return ErrInvalidOperation
	}
	cfg := *s.Ssh
	oldPty := s.pty
	s.mu.Unlock()

	if oldPty != nil {
		oldPty.Close()
	}

	cctx, cancel := context.WithTimeout(ctx, sshConnectTimeout)
	defer cancel()
	cli, err := dialSSH(cctx, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pty = cli
	s.sshCli = cli
	s.Status = StatusActive
	s.done = make(chan struct{})
	s.readDone = make(chan struct{})
	s.closeOnce = sync.Once{}
	s.mu.Unlock()

	m.startLoops(s, nil)
	m.publish(Event{Kind: EventReconnected, SessionID: s.ID})
	m.logger.Info("session reconnected", "id", s.ID)
	return nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// StopAll closes every registered session. Called on process shutdown so
// close is always attempted on drop of the host.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.shuttingDown = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.closeSession(s)
		}(s)
	}
	wg.Wait()

	m.evictor.Stop()
	if m.store != nil {
		m.store.Close()
	}
}

// SetTitle renames a session and mirrors the change into the
// crash-recovery store.
func (m *Manager) SetTitle(id, title string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.SetTitle(title)
	m.persist(s)
	return nil
}

// startLoops spawns the per-session reader and writer workers. cmd is
// non-nil only for local sessions on unix, where process exit must be
// reaped separately from PTY EOF.
func (m *Manager) startLoops(s *Session, cmd waiter) {
	go m.readLoop(s)
	go m.writeLoop(s)
	if cmd != nil {
		go m.waitLoop(s, cmd)
	}
}

// waiter is satisfied by *exec.Cmd on unix; the Windows conpty backend has
// no process handle to reap, so startLoops is simply never given one there.
type waiter interface {
	Wait() error
}

// readLoop blocks on the PTY/SSH channel's read side, chunks bytes, and
// publishes Output until EOF, close, or an unrecoverable error — which
// transitions the session to Disconnected rather than crashing the host.
func (m *Manager) readLoop(s *Session) {
	defer close(s.readDone)

	s.mu.Lock()
	pty := s.pty
	s.mu.Unlock()
	if pty == nil {
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := pty.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.scrollback.Write(data)
			s.broadcast(data)
			m.publish(Event{Kind: EventOutput, SessionID: s.ID, Data: data})
		}
		if err != nil {
			if err != io.EOF {
				m.logger.Debug("session read error", "id", s.ID, "err", err)
			}
			m.handleIoFailure(s, err)
			return
		}
	}
}

// writeLoop consumes the input queue and flushes to the PTY/SSH channel.
// It exits on channel close or on an unrecoverable write error.
func (m *Manager) writeLoop(s *Session) {
	for {
		select {
		case data, ok := <-s.writeQueue:
			if !ok {
				return
			}
			s.mu.Lock()
			pty := s.pty
			s.mu.Unlock()
			if pty == nil {
				continue
			}
			if _, err := pty.Write(data); err != nil {
				m.logger.Debug("session write error", "id", s.ID, "err", err)
				m.handleIoFailure(s, err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// waitLoop reaps a local child process and force-closes the PTY so readLoop
// observes EOF and exits even if the process never closed its side.
func (m *Manager) waitLoop(s *Session, cmd waiter) {
	cmd.Wait()
	s.mu.Lock()
	pty := s.pty
	s.mu.Unlock()
	if pty != nil {
		pty.Close()
	}
}

// handleIoFailure transitions a session to Disconnected and emits
// Disconnected (followed by ReconnectNeeded for SSH sessions), unless the session is already Closed (a close-
// initiated pipe teardown should not be reported as a surprise disconnect).
func (m *Manager) handleIoFailure(s *Session, err error) {
	s.mu.Lock()
	if s.Status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.Status = StatusDisconnected
	s.mu.Unlock()

	ioErr := &IoError{SessionID: s.ID, Err: err}
	m.logger.Warn("session io failure", "id", ioErr.SessionID, "err", ioErr.Err)
	m.publish(Event{Kind: EventDisconnected, SessionID: s.ID})
	if s.Kind == KindSsh {
		m.publish(Event{Kind: EventReconnectNeeded, SessionID: s.ID})
	}
}

// sweepBackpressure enforces the process-wide terminal memory ceiling by
// evicting half of the oldest buffered chunks from non-visible sessions
// before visible ones. "Visible" is approximated here as "has at least one
// active subscriber" — an adapter only subscribes to panes currently on
// screen.
func (m *Manager) sweepBackpressure() {
	sessions := m.List()

	total := 0
	type candidate struct {
		s       *Session
		visible bool
	}
	candidates := make([]candidate, 0, len(sessions))
	for _, s := range sessions {
		total += s.scrollback.Size()
		s.subMu.Lock()
		visible := len(s.subscribers) > 0
		s.subMu.Unlock()
		candidates = append(candidates, candidate{s: s, visible: visible})
	}
	if total <= processCeiling {
		return
	}

	for _, pass := range []bool{false, true} {
		for _, c := range candidates {
			if total <= processCeiling {
				return
			}
			if c.visible != pass {
				continue
			}
			before := c.s.scrollback.Size()
			c.s.scrollback.EvictHalf()
			total -= before - c.s.scrollback.Size()
		}
	}
}

func generateID() string {
	return uuid.NewString()
}
