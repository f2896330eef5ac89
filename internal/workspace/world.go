// Package workspace implements the Tab/Workspace Controller: the stateful
// orchestrator that turns user intents (open a tab, split a pane, drag a
// tab onto another) into Session Host calls and Layout Engine
// transformations, while keeping World's invariants intact.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
	"github.com/deskterm/deskterm/internal/session"
)

// TabHoverActivateMS is how long a drag must hover a tab before the
// Controller auto-switches to it (§4.3 drag-and-drop reducer).
const TabHoverActivateMS = 350 * time.Millisecond

var (
	ErrTabNotFound    = errors.New("workspace: tab not found")
	ErrPaneNotFound   = errors.New("workspace: pane not found")
	ErrSamePane       = errors.New("workspace: source and target pane are identical")
	ErrMultiPaneDup   = errors.New("workspace: duplicate_tab is only supported on single-pane tabs")
	ErrInvalidSession = errors.New("workspace: new_session_recipe did not produce a usable session")
)

// Tab is one top-level arrangement: an ID, a mutable title, and a layout
// root (a pane or split).
type Tab struct {
	ID            string
	Title         string
	Layout        layout.Node
	lastActivePID string
}

// World is the process-wide state the Controller owns: the ordered tab
// list, focus, and the transient connecting-session affordance. The
// session registry itself lives in session.Manager; World only tracks
// which sessions are referenced by which panes.
type World struct {
	Tabs               []*Tab
	ActiveTabID        string
	ActivePaneID       string
	ConnectingSessionID string
}

// NewSessionRecipe is the caller-supplied instruction for a new pane's
// backing session: exactly one of Local/Ssh must be set.
type NewSessionRecipe struct {
	Local *session.LocalConfig
	Ssh   *session.SshConfig
}

// Controller orchestrates intents against World, serializing every
// structural edit on a single mutation queue so that event-driven cleanup
// (a session's Closed event triggering close_pane) never races a
// concurrently issued user intent.
type Controller struct {
	sessions *session.Manager
	logger   *slog.Logger

	mu    sync.RWMutex
	world World

	queue chan func()
	done  chan struct{}

	idGen func() string
}

// NewController starts the Controller's mutation-queue worker and
// subscribes to the Session Host's event bus for Closed events.
func NewController(sessions *session.Manager, logger *slog.Logger, idGen func() string) *Controller {
	c := &Controller{
		sessions: sessions,
		logger:   logger,
		queue:    make(chan func(), 64),
		done:     make(chan struct{}),
		idGen:    idGen,
	}
	go c.runQueue()
	go c.watchEvents()
	return c
}

func (c *Controller) runQueue() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}

// watchEvents subscribes to the Session Host bus and converts a Closed
// event into a close_pane(..., skipBackendClose=true) intent, processed on
// the same mutation queue as user-issued intents so structural edits and
// event-driven cleanup linearize.
func (c *Controller) watchEvents() {
	ch := c.sessions.Events()
	defer c.sessions.UnsubscribeEvents(ch)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != session.EventClosed {
				continue
			}
			sid := ev.SessionID
			c.enqueue(func() {
				tabID, paneID, ok := c.findPaneBySession(sid)
				if !ok {
					return
				}
				c.closePaneLocked(tabID, paneID, true)
			})
		case <-c.done:
			return
		}
	}
}

// Stop halts the mutation-queue worker and event watcher.
func (c *Controller) Stop() {
	close(c.done)
}

// enqueue runs fn on the mutation queue and blocks until it completes,
// giving callers synchronous semantics while the queue itself guarantees
// single-writer discipline over World.
func (c *Controller) enqueue(fn func()) {
	result := make(chan struct{})
	c.queue <- func() {
		fn()
		close(result)
	}
	<-result
}

// Snapshot returns a read-only copy of the current World, safe to read
// concurrently with in-flight intents (it is itself dispatched through the
// mutation queue to observe a consistent point in time).
func (c *Controller) Snapshot() World {
	var out World
	c.enqueue(func() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		out = World{
			Tabs:                append([]*Tab(nil), c.world.Tabs...),
			ActiveTabID:         c.world.ActiveTabID,
			ActivePaneID:        c.world.ActivePaneID,
			ConnectingSessionID: c.world.ConnectingSessionID,
		}
	})
	return out
}

func (c *Controller) findTab(tabID string) (*Tab, int, bool) {
	for i, t := range c.world.Tabs {
		if t.ID == tabID {
			return t, i, true
		}
	}
	return nil, -1, false
}

func (c *Controller) findPaneBySession(sessionID string) (tabID, paneID string, ok bool) {
	for _, t := range c.world.Tabs {
		for _, sid := range layout.IDs(t.Layout) {
			_, node, err := layout.Find(t.Layout, sid)
			if err != nil {
				continue
			}
			if p, ok := node.(*layout.Pane); ok && p.SessionID == sessionID {
				return t.ID, p.ID, true
			}
		}
	}
	return "", "", false
}

func (c *Controller) openRecipe(ctx context.Context, recipe NewSessionRecipe) (*session.Session, error) {
	if recipe.Local != nil {
		return c.sessions.OpenLocal(*recipe.Local)
	}
	if recipe.Ssh != nil {
		return c.sessions.OpenSsh(ctx, *recipe.Ssh)
	}
	return nil, ErrInvalidSession
}

// NewLocalTab opens a Local session, builds a single-pane tab around it,
// appends it, and focuses it.
func (c *Controller) NewLocalTab(ctx context.Context, cfg session.LocalConfig) (tabID string, err error) {
	c.enqueue(func() {
		s, e := c.sessions.OpenLocal(cfg)
		if e != nil {
			err = e
			return
		}
		tabID = c.appendTabLocked(s.ID)
	})
	return tabID, err
}

// NewSshTab opens an Ssh session, builds a single-pane tab around it, and
// focuses it. State is Connecting until the handshake completes;
// World.ConnectingSessionID is set for the duration so the UI can show an
// overlay.
func (c *Controller) NewSshTab(ctx context.Context, cfg session.SshConfig) (tabID string, err error) {
	c.mu.Lock()
	placeholder := c.idGen()
	c.world.ConnectingSessionID = placeholder
	c.mu.Unlock()

	s, e := c.sessions.OpenSsh(ctx, cfg)

	c.enqueue(func() {
		c.mu.Lock()
		c.world.ConnectingSessionID = ""
		c.mu.Unlock()
		if e != nil {
			err = e
			return
		}
		tabID = c.appendTabLocked(s.ID)
	})
	return tabID, err
}

func (c *Controller) appendTabLocked(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paneID := c.idGen()
	tabID := c.idGen()
	tab := &Tab{ID: tabID, Layout: &layout.Pane{ID: paneID, SessionID: sessionID}, lastActivePID: paneID}
	c.world.Tabs = append(c.world.Tabs, tab)
	c.world.ActiveTabID = tabID
	c.world.ActivePaneID = paneID
	return tabID
}

// CloseTab walks the tab's layout collecting all session IDs, closes each
// in the Session Host, removes the tab, and picks a new active tab (next
// by index, else previous, else none).
func (c *Controller) CloseTab(tabID string) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		tab, idx, ok := c.findTab(tabID)
		if !ok {
			c.mu.Unlock()
			outErr = ErrTabNotFound
			return
		}
		sessionIDs := layout.SessionIDs(tab.Layout)
		c.world.Tabs = append(c.world.Tabs[:idx], c.world.Tabs[idx+1:]...)

		if c.world.ActiveTabID == tabID {
			switch {
			case idx < len(c.world.Tabs):
				c.world.ActiveTabID = c.world.Tabs[idx].ID
				c.world.ActivePaneID = c.world.Tabs[idx].lastActivePID
			case idx-1 >= 0:
				c.world.ActiveTabID = c.world.Tabs[idx-1].ID
				c.world.ActivePaneID = c.world.Tabs[idx-1].lastActivePID
			default:
				c.world.ActiveTabID = ""
				c.world.ActivePaneID = ""
			}
		}
		c.mu.Unlock()

		for _, sid := range sessionIDs {
			if err := c.sessions.Close(sid); err != nil {
				c.logger.Warn("close_tab: failed to close session", "session", sid, "err", err)
			}
		}
	})
	return outErr
}

// SetActiveTab updates focus to tabID, restoring that tab's last active
// pane.
func (c *Controller) SetActiveTab(tabID string) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tab, _, ok := c.findTab(tabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}
		c.world.ActiveTabID = tabID
		c.world.ActivePaneID = tab.lastActivePID
	})
	return outErr
}

// SetActivePane updates focus to paneID, and to the tab that owns it.
func (c *Controller) SetActivePane(paneID string) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, t := range c.world.Tabs {
			if _, _, err := layout.Find(t.Layout, paneID); err == nil {
				c.world.ActiveTabID = t.ID
				c.world.ActivePaneID = paneID
				t.lastActivePID = paneID
				return
			}
		}
		outErr = ErrPaneNotFound
	})
	return outErr
}

// RenameTab sets a tab's title.
func (c *Controller) RenameTab(tabID, title string) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tab, _, ok := c.findTab(tabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}
		tab.Title = title
	})
	return outErr
}

// ReorderTabs moves the tab at fromIndex to toIndex.
func (c *Controller) ReorderTabs(fromIndex, toIndex int) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		n := len(c.world.Tabs)
		if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
			outErr = fmt.Errorf("workspace: reorder_tabs index out of range")
			return
		}
		tab := c.world.Tabs[fromIndex]
		tabs := append(c.world.Tabs[:fromIndex], c.world.Tabs[fromIndex+1:]...)
		tabs = append(tabs[:toIndex], append([]*Tab{tab}, tabs[toIndex:]...)...)
		c.world.Tabs = tabs
	})
	return outErr
}

// DuplicateTab is only supported on single-pane tabs; it opens a new
// session duplicating the pane's session and builds a new single-pane tab.
func (c *Controller) DuplicateTab(ctx context.Context, tabID string) (newTabID string, err error) {
	c.mu.RLock()
	tab, _, ok := c.findTab(tabID)
	var sourceSessionID string
	if ok {
		if pane, isPane := tab.Layout.(*layout.Pane); isPane {
			sourceSessionID = pane.SessionID
		} else {
			err = ErrMultiPaneDup
		}
	} else {
		err = ErrTabNotFound
	}
	c.mu.RUnlock()
	if err != nil {
		return "", err
	}

	s, e := c.sessions.Duplicate(ctx, sourceSessionID)
	if e != nil {
		return "", e
	}

	c.enqueue(func() {
		newTabID = c.appendTabLocked(s.ID)
	})
	return newTabID, nil
}

// SplitPane asks the Session Host to open per recipe, then applies the
// Layout Engine split operation.
func (c *Controller) SplitPane(ctx context.Context, tabID, paneID string, direction layout.Direction, recipe NewSessionRecipe) error {
	s, err := c.openRecipe(ctx, recipe)
	if err != nil {
		return err
	}

	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tab, _, ok := c.findTab(tabID)
		if !ok {
			outErr = ErrTabNotFound
			c.sessions.Close(s.ID)
			return
		}
		newPaneID := c.idGen()
		newSplitID := c.idGen()
		newPane := &layout.Pane{ID: newPaneID, SessionID: s.ID}

		tab.Layout = layout.MoveInto(tab.Layout, paneID, newPane, direction, newSplitID)
		tab.lastActivePID = newPaneID
		c.world.ActiveTabID = tab.ID
		c.world.ActivePaneID = newPaneID
	})
	return outErr
}

// ClosePane closes the pane's session (unless skipBackendClose, used for
// event-driven cleanup) and removes it from the layout. If the tab's
// layout becomes empty, the tab itself is removed.
func (c *Controller) ClosePane(tabID, paneID string, skipBackendClose bool) error {
	var outErr error
	c.enqueue(func() {
		outErr = c.closePaneLocked(tabID, paneID, skipBackendClose)
	})
	return outErr
}

func (c *Controller) closePaneLocked(tabID, paneID string, skipBackendClose bool) error {
	c.mu.Lock()
	tab, idx, ok := c.findTab(tabID)
	if !ok {
		c.mu.Unlock()
		return ErrTabNotFound
	}
	_, node, err := layout.Find(tab.Layout, paneID)
	if err != nil {
		c.mu.Unlock()
		return ErrPaneNotFound
	}
	pane := node.(*layout.Pane)
	sessionID := pane.SessionID

	newLayout := layout.Remove(tab.Layout, paneID)
	if newLayout == nil {
		c.world.Tabs = append(c.world.Tabs[:idx], c.world.Tabs[idx+1:]...)
		if c.world.ActiveTabID == tabID {
			c.world.ActiveTabID = ""
			c.world.ActivePaneID = ""
			if len(c.world.Tabs) > 0 {
				next := idx
				if next >= len(c.world.Tabs) {
					next = len(c.world.Tabs) - 1
				}
				c.world.ActiveTabID = c.world.Tabs[next].ID
				c.world.ActivePaneID = c.world.Tabs[next].lastActivePID
			}
		}
	} else {
		tab.Layout = newLayout
		if c.world.ActivePaneID == paneID {
			ids := layout.IDs(newLayout)
			if len(ids) > 0 {
				c.world.ActivePaneID = ids[0]
				tab.lastActivePID = ids[0]
			}
		}
	}
	c.mu.Unlock()

	if !skipBackendClose {
		if err := c.sessions.Close(sessionID); err != nil {
			c.logger.Warn("close_pane: failed to close session", "session", sessionID, "err", err)
		}
	}
	return nil
}

// MovePane detaches the source pane and attaches it via split on the
// target tab at the target pane with direction. If source and target are
// the same pane, it is a no-op. If the source tab becomes empty it is
// deleted. Within one tab the moved pane keeps its identity; across tabs a
// new pane wrapping the same session is created.
func (c *Controller) MovePane(sourceTabID, sourcePaneID, targetTabID, targetPaneID string, direction layout.Direction) error {
	if sourcePaneID == targetPaneID {
		return nil
	}
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		srcTab, srcIdx, ok := c.findTab(sourceTabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}
		_, node, err := layout.Find(srcTab.Layout, sourcePaneID)
		if err != nil {
			outErr = ErrPaneNotFound
			return
		}
		srcPane := node.(*layout.Pane)

		tgtTab, _, ok := c.findTab(targetTabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}

		var movedPane *layout.Pane
		if sourceTabID == targetTabID {
			movedPane = srcPane
		} else {
			movedPane = &layout.Pane{ID: c.idGen(), SessionID: srcPane.SessionID}
		}

		srcTab.Layout = layout.Remove(srcTab.Layout, sourcePaneID)
		if srcTab.Layout == nil && sourceTabID != targetTabID {
			c.world.Tabs = append(c.world.Tabs[:srcIdx], c.world.Tabs[srcIdx+1:]...)
		}

		newSplitID := c.idGen()
		tgtTab.Layout = layout.MoveInto(tgtTab.Layout, targetPaneID, movedPane, direction, newSplitID)
		tgtTab.lastActivePID = movedPane.ID
		c.world.ActiveTabID = tgtTab.ID
		c.world.ActivePaneID = movedPane.ID
	})
	return outErr
}

// ExtractPaneToNewTab detaches the pane and creates a fresh tab whose
// layout is that single pane.
func (c *Controller) ExtractPaneToNewTab(sourceTabID, paneID string) (newTabID string, err error) {
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		srcTab, srcIdx, ok := c.findTab(sourceTabID)
		if !ok {
			err = ErrTabNotFound
			return
		}
		_, node, ferr := layout.Find(srcTab.Layout, paneID)
		if ferr != nil {
			err = ErrPaneNotFound
			return
		}
		pane := node.(*layout.Pane)

		srcTab.Layout = layout.Remove(srcTab.Layout, paneID)
		if srcTab.Layout == nil {
			c.world.Tabs = append(c.world.Tabs[:srcIdx], c.world.Tabs[srcIdx+1:]...)
		}

		tabID := c.idGen()
		newTab := &Tab{ID: tabID, Layout: pane, lastActivePID: pane.ID}
		c.world.Tabs = append(c.world.Tabs, newTab)
		c.world.ActiveTabID = tabID
		c.world.ActivePaneID = pane.ID
		newTabID = tabID
	})
	return newTabID, err
}

// MergeTab inserts the source tab's entire layout subtree into the target
// tab via a split at targetPane; the source tab is removed and the active
// tab becomes target.
func (c *Controller) MergeTab(sourceTabID, targetTabID, targetPaneID string, direction layout.Direction) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		srcTab, srcIdx, ok := c.findTab(sourceTabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}
		tgtTab, _, ok := c.findTab(targetTabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}

		newSplitID := c.idGen()
		tgtTab.Layout = layout.MoveInto(tgtTab.Layout, targetPaneID, srcTab.Layout, direction, newSplitID)
		c.world.Tabs = append(c.world.Tabs[:srcIdx], c.world.Tabs[srcIdx+1:]...)
		c.world.ActiveTabID = tgtTab.ID
	})
	return outErr
}

// adoptTab appends a fully-built tab (used by the Serializer during Load,
// which constructs tabs outside the mutation queue's per-intent helpers
// since it must interleave Session Host calls with tree construction).
func (c *Controller) adoptTab(tab *Tab) {
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.world.Tabs = append(c.world.Tabs, tab)
	})
}

// setActiveTabByIndex sets the active tab by position, used by the
// Serializer after all tabs from a workspace have been reconstructed.
func (c *Controller) setActiveTabByIndex(index int) {
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if index < 0 || index >= len(c.world.Tabs) {
			return
		}
		tab := c.world.Tabs[index]
		c.world.ActiveTabID = tab.ID
		c.world.ActivePaneID = tab.lastActivePID
	})
}

// ResizeSplit applies the Layout Engine resize_split operation within a
// tab.
func (c *Controller) ResizeSplit(tabID, splitID string, sizes []float64) error {
	var outErr error
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tab, _, ok := c.findTab(tabID)
		if !ok {
			outErr = ErrTabNotFound
			return
		}
		tab.Layout = layout.ResizeSplit(tab.Layout, splitID, sizes)
	})
	return outErr
}
