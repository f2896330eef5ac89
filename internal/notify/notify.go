// Package notify fans a small set of session lifecycle events out to
// whichever external channels the user has configured — a web push
// subscription for the desktop/PWA surface, or a Slack channel for remote
// awareness. The Session Host and Controller never import notify
// directly; the HTTP/WS boundary wires Session Host events to Notifier.Notify
// calls (§1 non-goals: "toast notifications" are the UI's job — this
// package only gets the message to the browser/Slack, it does not render
// anything).
package notify

import "context"

// Notification is the payload shared across every Notifier backend.
type Notification struct {
	Title     string
	Body      string
	SessionID string
}

// Notifier is implemented by each delivery channel (webpush, Slack, ...).
// A failed send is logged by the implementation and never propagated as a
// fatal error — losing a notification must never affect a live session.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Fanout broadcasts to every registered Notifier and always returns nil;
// individual failures are not surfaced beyond what each Notifier already
// logged.
type Fanout struct {
	notifiers []Notifier
}

func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	for _, nf := range f.notifiers {
		nf.Notify(ctx, n)
	}
	return nil
}

// closer is implemented by Notifiers that hold a persistence handle (the
// WebpushNotifier's settings store); Close releases every one of them.
type closer interface {
	Close() error
}

func (f *Fanout) Close() {
	for _, nf := range f.notifiers {
		if c, ok := nf.(closer); ok {
			c.Close()
		}
	}
}
