// Package adapter implements the front-of-house boundary contract (§4.5):
// the thin layer between the Session Host and an external emulator widget.
// The widget itself — rendering the terminal grid — is explicitly out of
// scope; this package only owns attach/detach, input forwarding, and
// resize debouncing.
package adapter

import (
	"sync"
	"time"

	"github.com/deskterm/deskterm/internal/session"
)

// ResizeDebounce is how long the adapter coalesces widget resize events
// before forwarding a single Session Host resize call (§4.5: ≈100 ms).
const ResizeDebounce = 100 * time.Millisecond

// Widget is the emulator widget boundary contract the adapter drives. A
// real implementation lives outside this module (xterm.js bridge, a
// native grid view, ...); tests use a fake.
type Widget interface {
	Write(data []byte)
}

// Adapter binds one visible pane's Widget to one Session Host session. It
// subscribes the widget to the session's output (replaying buffered
// output since last detachment, in order), forwards user input via
// Session Host.write, and forwards debounced resizes via
// Session Host.resize.
type Adapter struct {
	sessions  *session.Manager
	sessionID string
	widget    Widget

	mu      sync.Mutex
	sub     chan []byte
	cancel  chan struct{}
	timer   *time.Timer
	pending struct {
		cols, rows uint16
		armed      bool
	}
}

// New creates an Adapter for sessionID, not yet attached to a widget.
func New(sessions *session.Manager, sessionID string) *Adapter {
	return &Adapter{sessions: sessions, sessionID: sessionID}
}

// Attach subscribes widget to the session's output, replaying any buffered
// scrollback since the last detachment before streaming live output.
func (a *Adapter) Attach(widget Widget) {
	a.mu.Lock()
	a.widget = widget
	a.mu.Unlock()

	s, ok := a.sessions.Get(a.sessionID)
	if !ok {
		return
	}
	ch, buffered := s.Subscribe()

	a.mu.Lock()
	a.sub = ch
	a.cancel = make(chan struct{})
	cancel := a.cancel
	a.mu.Unlock()

	if len(buffered) > 0 {
		widget.Write(buffered)
	}

	go func() {
		for {
			select {
			case data, ok := <-ch:
				if !ok {
					return
				}
				widget.Write(data)
			case <-cancel:
				return
			}
		}
	}()
}

// Detach unsubscribes the widget. Per §4.1 backpressure rules, the
// session's output keeps accumulating in its ring buffer while detached
// (bounded by the per-session budget) so a later Attach can replay it.
func (a *Adapter) Detach() {
	a.mu.Lock()
	sub := a.sub
	cancel := a.cancel
	a.sub = nil
	a.cancel = nil
	widget := a.widget
	a.widget = nil
	a.mu.Unlock()

	if cancel != nil {
		close(cancel)
	}
	if sub != nil {
		if s, ok := a.sessions.Get(a.sessionID); ok {
			s.Unsubscribe(sub)
		}
	}
	_ = widget
}

// OnInput forwards user-typed bytes to the session unchanged.
func (a *Adapter) OnInput(data []byte) {
	a.sessions.Write(a.sessionID, data)
}

// OnResize debounces widget resize events and forwards at most one
// Session Host.resize call per ResizeDebounce window.
func (a *Adapter) OnResize(cols, rows uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending.cols, a.pending.rows = cols, rows
	if a.pending.armed {
		return
	}
	a.pending.armed = true
	a.timer = time.AfterFunc(ResizeDebounce, func() {
		a.mu.Lock()
		cols, rows := a.pending.cols, a.pending.rows
		a.pending.armed = false
		a.mu.Unlock()
		a.sessions.Resize(a.sessionID, cols, rows)
	})
}

// Focus is a boundary no-op at this layer: focus is purely a widget-side
// concern.
func (a *Adapter) Focus() {}

// Dispose stops any pending debounced resize and detaches.
func (a *Adapter) Dispose() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()
	a.Detach()
}
