package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
	"github.com/deskterm/deskterm/internal/session"
)

// TestWorkspaceRoundTrip mirrors scenario S6.
func TestWorkspaceRoundTrip(t *testing.T) {
	c, mgr := newTestController(t)
	ser := NewSerializer(c, mgr, testIDGen())

	if _, err := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"}); err != nil {
		t.Fatalf("NewLocalTab: %v", err)
	}

	t1ID, err := c.NewLocalTab(context.Background(), session.LocalConfig{Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("NewLocalTab t1: %v", err)
	}
	world := c.Snapshot()
	p1 := findTab(world, t1ID).Layout.(*layout.Pane)
	if err := c.SplitPane(context.Background(), t1ID, p1.ID, layout.Right, NewSessionRecipe{Local: &session.LocalConfig{Shell: "/bin/sh"}}); err != nil {
		t.Fatalf("SplitPane: %v", err)
	}
	if err := c.ResizeSplit(t1ID, splitIDOf(t, c, t1ID), []float64{60, 40}); err != nil {
		t.Fatalf("ResizeSplit: %v", err)
	}

	meta := ser.Save("w0", "My Workspace", "", time.Now())
	if len(meta.Tabs) != 2 {
		t.Fatalf("expected 2 saved tabs, got %d", len(meta.Tabs))
	}
	second := meta.Tabs[1].Layout
	if second.Type != "split" || second.Orientation != "vertical" {
		t.Fatalf("expected second tab to save as a vertical split, got %+v", second)
	}
	if len(second.Sizes) != 2 || second.Sizes[0] != 60 || second.Sizes[1] != 40 {
		t.Fatalf("expected saved sizes [60, 40], got %v", second.Sizes)
	}

	if err := c.CloseTab(t1ID); err != nil {
		t.Fatalf("CloseTab t1: %v", err)
	}
	for _, tab := range c.Snapshot().Tabs {
		c.CloseTab(tab.ID)
	}

	if err := ser.Load(context.Background(), meta); err != nil {
		t.Fatalf("Load: %v", err)
	}

	world = c.Snapshot()
	if len(world.Tabs) != 2 {
		t.Fatalf("expected 2 restored tabs, got %d", len(world.Tabs))
	}
	restored := world.Tabs[1].Layout.(*layout.Split)
	if restored.Orientation != layout.Vertical || len(restored.Sizes) != 2 {
		t.Fatalf("unexpected restored layout: %+v", restored)
	}
	if restored.Sizes[0] != 60 || restored.Sizes[1] != 40 {
		t.Fatalf("expected restored sizes [60, 40], got %v", restored.Sizes)
	}
}

func TestParseSnapshotRejectsUnknownVersion(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"version": 99, "workspaces": []}`))
	if err == nil {
		t.Fatal("expected an error for an unknown snapshot version")
	}
}

func TestParseSnapshotRejectsMalformedJSON(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func splitIDOf(t *testing.T, c *Controller, tabID string) string {
	t.Helper()
	world := c.Snapshot()
	tab := findTab(world, tabID)
	split, ok := tab.Layout.(*layout.Split)
	if !ok {
		t.Fatalf("expected tab %s to have a split layout", tabID)
	}
	return split.ID
}
