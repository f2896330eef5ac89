package workspace

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
	"github.com/deskterm/deskterm/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIDGen() func() string {
	var n int64
	return func() string {
		return "id" + strconv.FormatInt(atomic.AddInt64(&n, 1), 10)
	}
}

func newTestController(t *testing.T) (*Controller, *session.Manager) {
	t.Helper()
	mgr := session.NewManager(testLogger())
	c := NewController(mgr, testLogger(), testIDGen())
	t.Cleanup(func() {
		c.Stop()
		mgr.StopAll()
	})
	return c, mgr
}

// TestSplitRightThenClose mirrors scenario S3.
func TestSplitRightThenClose(t *testing.T) {
	c, _ := newTestController(t)

	tabID, err := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("NewLocalTab: %v", err)
	}

	world := c.Snapshot()
	tab := findTab(world, tabID)
	p0 := tab.Layout.(*layout.Pane)

	if err := c.SplitPane(context.Background(), tabID, p0.ID, layout.Right, NewSessionRecipe{Local: &session.LocalConfig{Shell: "/bin/sh"}}); err != nil {
		t.Fatalf("SplitPane: %v", err)
	}

	world = c.Snapshot()
	tab = findTab(world, tabID)
	split, ok := tab.Layout.(*layout.Split)
	if !ok {
		t.Fatalf("expected split layout after split_pane, got %T", tab.Layout)
	}
	if split.Orientation != layout.Vertical || len(split.Children) != 2 {
		t.Fatalf("unexpected split shape: %+v", split)
	}
	if split.Sizes[0] != 50 || split.Sizes[1] != 50 {
		t.Fatalf("expected 50/50 split, got %v", split.Sizes)
	}

	p1 := split.Children[1].(*layout.Pane)
	if err := c.ClosePane(tabID, p1.ID, false); err != nil {
		t.Fatalf("ClosePane: %v", err)
	}

	world = c.Snapshot()
	tab = findTab(world, tabID)
	pane, ok := tab.Layout.(*layout.Pane)
	if !ok || pane.ID != p0.ID {
		t.Fatalf("expected collapse back to original pane, got %+v", tab.Layout)
	}
}

// TestCrossTabPaneMove mirrors scenario S4.
func TestCrossTabPaneMove(t *testing.T) {
	c, _ := newTestController(t)

	t0ID, err := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("NewLocalTab T0: %v", err)
	}
	t1ID, err := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("NewLocalTab T1: %v", err)
	}

	world := c.Snapshot()
	p0 := findTab(world, t0ID).Layout.(*layout.Pane)
	p1 := findTab(world, t1ID).Layout.(*layout.Pane)
	s0ID, s1ID := p0.SessionID, p1.SessionID

	if err := c.MovePane(t0ID, p0.ID, t1ID, p1.ID, layout.Bottom); err != nil {
		t.Fatalf("MovePane: %v", err)
	}

	world = c.Snapshot()
	if tab := findTab(world, t0ID); tab != nil {
		t.Fatalf("expected T0 to be removed once empty, found %+v", tab)
	}
	tab1 := findTab(world, t1ID)
	split, ok := tab1.Layout.(*layout.Split)
	if !ok || split.Orientation != layout.Horizontal || len(split.Children) != 2 {
		t.Fatalf("expected T1 to become a Horizontal split, got %+v", tab1.Layout)
	}
	if split.Children[0].(*layout.Pane).SessionID != s1ID || split.Children[1].(*layout.Pane).SessionID != s0ID {
		t.Fatalf("expected children [S1, S0], got %+v", split.Children)
	}
	if world.ActiveTabID != t1ID {
		t.Fatalf("expected active tab to become T1, got %s", world.ActiveTabID)
	}
}

func findTab(w World, id string) *Tab {
	for _, t := range w.Tabs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func TestDragDropPaneOnPane(t *testing.T) {
	c, _ := newTestController(t)
	t0ID, _ := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	t1ID, _ := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})

	world := c.Snapshot()
	p0 := findTab(world, t0ID).Layout.(*layout.Pane)
	p1 := findTab(world, t1ID).Layout.(*layout.Pane)

	dd := NewDragDrop(c)
	dd.Begin(SourceRef{Kind: DragPane, TabID: t0ID, PaneID: p0.ID})
	dd.Over(TargetRef{Kind: DragPane, TabID: t1ID, PaneID: p1.ID}, Point{X: 95, Y: 50}, Rect{W: 100, H: 100})

	if err := dd.Drop(context.Background(), 0, NewSessionRecipe{}); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	world = c.Snapshot()
	if findTab(world, t0ID) != nil {
		t.Fatal("expected source tab to be removed once emptied")
	}
}

func TestDragDropAutoSwitchesActiveTabAfterHover(t *testing.T) {
	c, _ := newTestController(t)
	t0ID, _ := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	t1ID, _ := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})

	dd := NewDragDrop(c)
	dd.Begin(SourceRef{Kind: DragTab, TabID: t1ID})
	dd.Over(TargetRef{Kind: DragTab, TabID: t0ID}, Point{}, Rect{})
	time.Sleep(TabHoverActivateMS + 50*time.Millisecond)
	dd.Over(TargetRef{Kind: DragTab, TabID: t0ID}, Point{}, Rect{})

	world := c.Snapshot()
	if world.ActiveTabID != t0ID {
		t.Fatalf("expected hover to auto-switch active tab to %s, got %s", t0ID, world.ActiveTabID)
	}
	dd.Cancel()
}
