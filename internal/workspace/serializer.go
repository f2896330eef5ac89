package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
	"github.com/deskterm/deskterm/internal/session"
)

// CurrentSnapshotVersion is the only version this Serializer knows how to
// load. Loading any other value is refused outright.
const CurrentSnapshotVersion = 1

var (
	ErrUnsupportedVersion = errors.New("workspace: unsupported snapshot version")
	ErrMalformed          = errors.New("workspace: malformed snapshot")
)

// RestoreFailedError reports which recipe failed during Load, so the
// caller can surface exactly where a restore broke.
type RestoreFailedError struct {
	WorkspaceID string
	RecipeIndex int
	Err         error
}

func (e *RestoreFailedError) Error() string {
	return fmt.Sprintf("workspace: restore %s: recipe #%d: %v", e.WorkspaceID, e.RecipeIndex, e.Err)
}

func (e *RestoreFailedError) Unwrap() error { return e.Err }

// Snapshot is the on-disk root document.
type Snapshot struct {
	Version    int             `json:"version"`
	Workspaces []WorkspaceMeta `json:"workspaces"`
}

// WorkspaceMeta is one saved workspace: tab/layout structure with
// per-session reopen recipes. Session runtime state (scrollback, remote
// shell state) is never persisted.
type WorkspaceMeta struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	ActiveTabIndex int         `json:"activeTabIndex"`
	Tabs           []TabRecord `json:"tabs"`
}

// TabRecord is one saved tab.
type TabRecord struct {
	Title  string    `json:"title"`
	Layout NodeRecord `json:"layout"`
}

// NodeRecord is the wire form of a layout.Node: either a pane (carrying a
// SessionRecipe) or a split (carrying child nodes and sizes).
type NodeRecord struct {
	Type        string         `json:"type"`
	Session     *SessionRecipe `json:"session,omitempty"`
	Orientation string         `json:"orientation,omitempty"`
	Panes       []NodeRecord   `json:"panes,omitempty"`
	Sizes       []float64      `json:"sizes,omitempty"`
}

// SessionRecipe is the data recoverable at reopen time — enough to call
// OpenLocal/OpenSsh again, nothing about the live channel itself.
type SessionRecipe struct {
	Kind             string          `json:"kind"`
	Title            string          `json:"title"`
	Shell            string          `json:"shell,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
	Ssh              *session.SshConfig `json:"ssh,omitempty"`
}

// Serializer saves World's tabs to WorkspaceMeta snapshots and restores a
// snapshot back into live tabs via the Controller and Session Host.
type Serializer struct {
	controller *Controller
	sessions   *session.Manager
	idGen      func() string
}

func NewSerializer(controller *Controller, sessions *session.Manager, idGen func() string) *Serializer {
	return &Serializer{controller: controller, sessions: sessions, idGen: idGen}
}

// Save walks every tab, emitting a recipe from each pane's referenced
// session's current metadata.
func (s *Serializer) Save(id, name, description string, createdAt time.Time) WorkspaceMeta {
	world := s.controller.Snapshot()

	activeIdx := 0
	for i, t := range world.Tabs {
		if t.ID == world.ActiveTabID {
			activeIdx = i
			break
		}
	}

	tabs := make([]TabRecord, 0, len(world.Tabs))
	for _, t := range world.Tabs {
		tabs = append(tabs, TabRecord{Title: t.Title, Layout: s.encodeNode(t.Layout)})
	}

	return WorkspaceMeta{
		ID:             id,
		Name:           name,
		Description:    description,
		CreatedAt:      createdAt,
		UpdatedAt:      time.Now(),
		ActiveTabIndex: activeIdx,
		Tabs:           tabs,
	}
}

func (s *Serializer) encodeNode(n layout.Node) NodeRecord {
	switch v := n.(type) {
	case *layout.Pane:
		sess, ok := s.sessions.Get(v.SessionID)
		if !ok {
			return NodeRecord{Type: "pane", Session: &SessionRecipe{Kind: "local"}}
		}
		info := sess.Info()
		recipe := &SessionRecipe{Title: info.Title}
		if info.Local != nil {
			recipe.Kind = "local"
			recipe.Shell = info.Local.Shell
			recipe.WorkingDirectory = info.Local.Cwd
		} else if info.Ssh != nil {
			recipe.Kind = "ssh"
			recipe.Ssh = info.Ssh
		}
		return NodeRecord{Type: "pane", Session: recipe}
	case *layout.Split:
		panes := make([]NodeRecord, len(v.Children))
		for i, c := range v.Children {
			panes[i] = s.encodeNode(c)
		}
		return NodeRecord{
			Type:        "split",
			Orientation: string(v.Orientation),
			Panes:       panes,
			Sizes:       append([]float64(nil), v.Sizes...),
		}
	}
	return NodeRecord{}
}

// Load reconstructs a live tab/pane/session arrangement from meta. For
// each tab it walks the serialized layout bottom-up, creating sessions via
// the Session Host in encounter order and substituting returned IDs into
// pane nodes. On any session-open failure mid-load, every session already
// opened for this workspace is closed and the error reports which recipe
// failed; no tab from a failed workspace is left registered.
func (s *Serializer) Load(ctx context.Context, meta WorkspaceMeta) error {
	var openedSessionIDs []string
	recipeIndex := 0

	rollback := func() {
		for _, sid := range openedSessionIDs {
			s.sessions.Close(sid)
		}
	}

	var buildNode func(NodeRecord) (layout.Node, error)
	buildNode = func(rec NodeRecord) (layout.Node, error) {
		switch rec.Type {
		case "pane":
			if rec.Session == nil {
				return nil, ErrMalformed
			}
			idx := recipeIndex
			recipeIndex++

			var sess *session.Session
			var err error
			switch rec.Session.Kind {
			case "local":
				sess, err = s.sessions.OpenLocal(session.LocalConfig{Shell: rec.Session.Shell, Cwd: rec.Session.WorkingDirectory})
			case "ssh":
				if rec.Session.Ssh == nil {
					return nil, ErrMalformed
				}
				sess, err = s.sessions.OpenSsh(ctx, *rec.Session.Ssh)
			default:
				return nil, ErrMalformed
			}
			if err != nil {
				return nil, &RestoreFailedError{WorkspaceID: meta.ID, RecipeIndex: idx, Err: err}
			}
			openedSessionIDs = append(openedSessionIDs, sess.ID)
			if rec.Session.Title != "" {
				sess.SetTitle(rec.Session.Title)
			}
			return &layout.Pane{ID: s.idGen(), SessionID: sess.ID}, nil

		case "split":
			if len(rec.Panes) < 2 || len(rec.Sizes) != len(rec.Panes) {
				return nil, ErrMalformed
			}
			children := make([]layout.Node, len(rec.Panes))
			for i, childRec := range rec.Panes {
				child, err := buildNode(childRec)
				if err != nil {
					return nil, err
				}
				children[i] = child
			}
			orientation := layout.Orientation(rec.Orientation)
			if orientation != layout.Horizontal && orientation != layout.Vertical {
				return nil, ErrMalformed
			}
			return &layout.Split{ID: s.idGen(), Orientation: orientation, Children: children, Sizes: append([]float64(nil), rec.Sizes...)}, nil
		}
		return nil, ErrMalformed
	}

	type builtTab struct {
		title  string
		layout layout.Node
	}
	built := make([]builtTab, 0, len(meta.Tabs))
	for _, tabRec := range meta.Tabs {
		root, err := buildNode(tabRec.Layout)
		if err != nil {
			rollback()
			return err
		}
		built = append(built, builtTab{title: tabRec.Title, layout: root})
	}

	for _, bt := range built {
		tabID := s.idGen()
		paneIDs := layout.IDs(bt.layout)
		var active string
		if len(paneIDs) > 0 {
			active = paneIDs[0]
		}
		s.controller.adoptTab(&Tab{ID: tabID, Title: bt.title, Layout: bt.layout, lastActivePID: active})
	}

	if meta.ActiveTabIndex >= 0 {
		s.controller.setActiveTabByIndex(meta.ActiveTabIndex)
	}
	return nil
}

// ParseSnapshot validates the version and unmarshals the document.
// Unknown version or malformed JSON is refused outright, never partially
// loaded.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if snap.Version != CurrentSnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, snap.Version, CurrentSnapshotVersion)
	}
	return &snap, nil
}
