package layout

import "testing"

func TestFindLocatesNestedPane(t *testing.T) {
	root := &Split{
		ID:          "s0",
		Orientation: Vertical,
		Children: []Node{
			&Pane{ID: "p0", SessionID: "sess0"},
			&Pane{ID: "p1", SessionID: "sess1"},
		},
		Sizes: []float64{50, 50},
	}

	path, node, err := Find(root, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.(*Pane).SessionID != "sess1" {
		t.Fatalf("found wrong node: %+v", node)
	}
	if len(path) != 1 || path[0].Index != 1 {
		t.Fatalf("unexpected path: %+v", path)
	}
}

func TestFindNotFound(t *testing.T) {
	root := &Pane{ID: "p0", SessionID: "sess0"}
	if _, _, err := Find(root, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestSplitThenClose mirrors scenario S3: a single pane split right, then
// the new pane closed, should collapse back to the original pane alone.
func TestSplitThenClose(t *testing.T) {
	p0 := &Pane{ID: "p0", SessionID: "s0"}
	p1 := &Pane{ID: "p1", SessionID: "s1"}

	split := SplitNode(p0, "p0", Vertical, p1, After, "split0")
	s, ok := split.(*Split)
	if !ok {
		t.Fatalf("expected a *Split root, got %T", split)
	}
	if s.Orientation != Vertical || len(s.Children) != 2 {
		t.Fatalf("unexpected split shape: %+v", s)
	}
	if s.Sizes[0] != 50 || s.Sizes[1] != 50 {
		t.Fatalf("expected 50/50 sizes, got %v", s.Sizes)
	}
	if s.Children[0].(*Pane).ID != "p0" || s.Children[1].(*Pane).ID != "p1" {
		t.Fatalf("expected [p0, p1] order for After placement, got %+v", s.Children)
	}

	collapsed := Remove(split, "p1")
	pane, ok := collapsed.(*Pane)
	if !ok || pane.ID != "p0" {
		t.Fatalf("expected collapse back to bare pane p0, got %+v", collapsed)
	}
}

func TestSplitBeforePlacesNewNodeFirst(t *testing.T) {
	p0 := &Pane{ID: "p0", SessionID: "s0"}
	newPane := &Pane{ID: "p1", SessionID: "s1"}

	root := SplitNode(p0, "p0", Horizontal, newPane, Before, "split0")
	s := root.(*Split)
	if s.Children[0].(*Pane).ID != "p1" || s.Children[1].(*Pane).ID != "p0" {
		t.Fatalf("expected [p1, p0] order for Before placement, got %+v", s.Children)
	}
}

func TestRemoveWholeTreeReturnsNil(t *testing.T) {
	root := &Pane{ID: "p0", SessionID: "s0"}
	if got := Remove(root, "p0"); got != nil {
		t.Fatalf("expected nil when removing the whole tree, got %+v", got)
	}
}

func TestRemoveRenormalizesSurvivingSiblings(t *testing.T) {
	root := &Split{
		ID:          "s0",
		Orientation: Vertical,
		Children: []Node{
			&Pane{ID: "p0", SessionID: "s0"},
			&Pane{ID: "p1", SessionID: "s1"},
			&Pane{ID: "p2", SessionID: "s2"},
		},
		Sizes: []float64{20, 30, 50},
	}
	got := Remove(root, "p1").(*Split)
	if len(got.Children) != 2 {
		t.Fatalf("expected 2 surviving children, got %d", len(got.Children))
	}
	for _, s := range got.Sizes {
		if s != 50 {
			t.Fatalf("expected renormalized equal shares of 50, got %v", got.Sizes)
		}
	}
}

func TestResizeSplitRejectsWrongLength(t *testing.T) {
	root := &Split{ID: "s0", Orientation: Vertical, Children: []Node{&Pane{ID: "p0"}, &Pane{ID: "p1"}}, Sizes: []float64{50, 50}}
	got := ResizeSplit(root, "s0", []float64{30, 30, 40})
	if got != Node(root) {
		t.Fatalf("expected no-op on length mismatch")
	}
}

func TestResizeSplitRejectsBelowMinimum(t *testing.T) {
	root := &Split{ID: "s0", Orientation: Vertical, Children: []Node{&Pane{ID: "p0"}, &Pane{ID: "p1"}}, Sizes: []float64{50, 50}}
	got := ResizeSplit(root, "s0", []float64{2, 98})
	if got != Node(root) {
		t.Fatalf("expected no-op when an entry is below MinSizePercent")
	}
}

func TestResizeSplitRescalesToSum100(t *testing.T) {
	root := &Split{ID: "s0", Orientation: Vertical, Children: []Node{&Pane{ID: "p0"}, &Pane{ID: "p1"}}, Sizes: []float64{50, 50}}
	got := ResizeSplit(root, "s0", []float64{30, 30}).(*Split)
	sum := got.Sizes[0] + got.Sizes[1]
	if sum < 99.99 || sum > 100.01 {
		t.Fatalf("expected sizes to sum to ~100, got %v (sum=%v)", got.Sizes, sum)
	}
	if got.Sizes[0] != got.Sizes[1] {
		t.Fatalf("expected equal proportions preserved, got %v", got.Sizes)
	}
}

// TestDropZone mirrors scenario S5: a pointer nearer the left edge than any
// other edge resolves to Left.
func TestDropZone(t *testing.T) {
	cases := []struct {
		x, y, w, h float64
		want       Direction
	}{
		{x: 5, y: 50, w: 100, h: 100, want: Left},
		{x: 95, y: 50, w: 100, h: 100, want: Right},
		{x: 50, y: 5, w: 100, h: 100, want: Top},
		{x: 50, y: 95, w: 100, h: 100, want: Bottom},
	}
	for _, c := range cases {
		if got := DropZone(c.x, c.y, c.w, c.h); got != c.want {
			t.Fatalf("DropZone(%v,%v,%v,%v) = %v, want %v", c.x, c.y, c.w, c.h, got, c.want)
		}
	}
}

func TestDirectionToSplitMapping(t *testing.T) {
	cases := []struct {
		dir         Direction
		orientation Orientation
		placement   Placement
	}{
		{Top, Horizontal, Before},
		{Bottom, Horizontal, After},
		{Left, Vertical, Before},
		{Right, Vertical, After},
	}
	for _, c := range cases {
		o, p := DirectionToSplit(c.dir)
		if o != c.orientation || p != c.placement {
			t.Fatalf("DirectionToSplit(%v) = (%v, %v), want (%v, %v)", c.dir, o, p, c.orientation, c.placement)
		}
	}
}

func TestIDsAndSessionIDs(t *testing.T) {
	root := &Split{
		ID:          "s0",
		Orientation: Vertical,
		Children:    []Node{&Pane{ID: "p0", SessionID: "sess0"}, &Pane{ID: "p1", SessionID: "sess1"}},
		Sizes:       []float64{50, 50},
	}
	ids := IDs(root)
	if len(ids) != 2 || ids[0] != "p0" || ids[1] != "p1" {
		t.Fatalf("unexpected IDs: %v", ids)
	}
	sessIDs := SessionIDs(root)
	if len(sessIDs) != 2 || sessIDs[0] != "sess0" || sessIDs[1] != "sess1" {
		t.Fatalf("unexpected SessionIDs: %v", sessIDs)
	}
}

func TestRootUnmutatedByReplace(t *testing.T) {
	p0 := &Pane{ID: "p0", SessionID: "s0"}
	root := &Split{ID: "s0root", Orientation: Vertical, Children: []Node{p0, &Pane{ID: "p1", SessionID: "s1"}}, Sizes: []float64{50, 50}}

	replacement := &Pane{ID: "p0b", SessionID: "s0b"}
	newRoot := Replace(root, "p0", replacement)

	if root.Children[0].(*Pane).ID != "p0" {
		t.Fatal("expected original root to remain unmutated")
	}
	if newRoot.(*Split).Children[0].(*Pane).ID != "p0b" {
		t.Fatal("expected new root to reflect the replacement")
	}
}
