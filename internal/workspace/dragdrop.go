package workspace

import (
	"context"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
)

// DragKind is what's being dragged: a whole Tab or a single Pane.
type DragKind string

const (
	DragTab  DragKind = "tab"
	DragPane DragKind = "pane"
)

// DragState is the reducer's current phase.
type DragState string

const (
	Idle      DragState = "idle"
	DragStart DragState = "drag_start"
	DragOver  DragState = "drag_over"
)

// SourceRef identifies what started the drag.
type SourceRef struct {
	Kind   DragKind
	TabID  string
	PaneID string // empty when Kind == DragTab
}

// TargetRef identifies what's currently under the pointer.
type TargetRef struct {
	Kind   DragKind
	TabID  string
	PaneID string // empty when Kind == DragTab
}

// Rect is the on-screen rectangle of the current drop target, used for
// DropZone computation when the target is a Pane.
type Rect struct{ W, H float64 }

// Point is the pointer position relative to Rect's origin.
type Point struct{ X, Y float64 }

// DragDrop is the drag-and-drop reducer: Idle -> DragStart -> DragOver(...) ->
// (Drop | Cancel). It is not safe for concurrent use; one drag at a time.
type DragDrop struct {
	controller *Controller

	state  DragState
	source SourceRef
	target TargetRef

	hoverTabID    string
	hoverSince    time.Time
	previewDir    layout.Direction
	previewTabIdx int
}

// NewDragDrop creates a reducer bound to controller, which executes the
// intent corresponding to whatever Drop resolves to.
func NewDragDrop(controller *Controller) *DragDrop {
	return &DragDrop{controller: controller, state: Idle}
}

// Begin transitions Idle -> DragStart.
func (d *DragDrop) Begin(source SourceRef) {
	d.state = DragStart
	d.source = source
	d.hoverTabID = ""
}

// Over transitions DragStart/DragOver -> DragOver, computing a tentative
// drop preview (direction on panes; insertion index on tabs), and
// auto-switches the active tab after hovering it for TabHoverActivateMS.
func (d *DragDrop) Over(target TargetRef, pointer Point, rect Rect) {
	d.state = DragOver
	d.target = target

	if target.Kind == DragPane {
		d.previewDir = layout.DropZone(pointer.X, pointer.Y, rect.W, rect.H)
	}

	if target.TabID != d.hoverTabID {
		d.hoverTabID = target.TabID
		d.hoverSince = time.Now()
		return
	}
	if time.Since(d.hoverSince) >= TabHoverActivateMS {
		d.controller.SetActiveTab(target.TabID)
	}
}

// Drop executes the intent implied by the current source/target pair, per
// the spec's cross-kind rules, then resets to Idle.
func (d *DragDrop) Drop(ctx context.Context, toIndex int, recipe NewSessionRecipe) error {
	defer d.reset()
	if d.state != DragOver {
		return nil
	}

	switch {
	case d.source.Kind == DragTab && d.target.Kind == DragTab:
		fromIdx := d.tabIndex(d.source.TabID)
		return d.controller.ReorderTabs(fromIdx, toIndex)

	case d.source.Kind == DragTab && d.target.Kind == DragPane:
		return d.controller.MergeTab(d.source.TabID, d.target.TabID, d.target.PaneID, d.previewDir)

	case d.source.Kind == DragPane && d.target.Kind == DragTab:
		_, err := d.controller.ExtractPaneToNewTab(d.source.TabID, d.source.PaneID)
		return err

	case d.source.Kind == DragPane && d.target.Kind == DragPane:
		return d.controller.MovePane(d.source.TabID, d.source.PaneID, d.target.TabID, d.target.PaneID, d.previewDir)
	}
	return nil
}

// Cancel discards the in-progress drag with no state change.
func (d *DragDrop) Cancel() {
	d.reset()
}

func (d *DragDrop) reset() {
	d.state = Idle
	d.source = SourceRef{}
	d.target = TargetRef{}
	d.hoverTabID = ""
}

func (d *DragDrop) tabIndex(tabID string) int {
	snap := d.controller.Snapshot()
	for i, t := range snap.Tabs {
		if t.ID == tabID {
			return i
		}
	}
	return 0
}
