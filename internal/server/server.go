package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deskterm/deskterm/internal/layout"
	"github.com/deskterm/deskterm/internal/notify"
	"github.com/deskterm/deskterm/internal/session"
	"github.com/deskterm/deskterm/internal/share"
	"github.com/deskterm/deskterm/internal/workspace"
)

// Server is the front-of-house HTTP/WS boundary: it owns no terminal state
// itself, only translating requests into Session Host and Tab/Workspace
// Controller calls.
type Server struct {
	sessions   *session.Manager
	controller *workspace.Controller
	serializer *workspace.Serializer
	notifier   *notify.Fanout
	logger     *slog.Logger
	httpSrv    *http.Server
	baseURL    string
	version    string
}

type Config struct {
	Addr       string
	BaseURL    string
	Logger     *slog.Logger
	Version    string
	Sessions   *session.Manager
	Controller *workspace.Controller
	Serializer *workspace.Serializer
	Notifier   *notify.Fanout
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		sessions:   cfg.Sessions,
		controller: cfg.Controller,
		serializer: cfg.Serializer,
		notifier:   cfg.Notifier,
		logger:     logger,
		baseURL:    cfg.BaseURL,
		version:    cfg.Version,
	}

	if s.notifier != nil {
		go s.watchSessionEvents()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/info", s.handleInfo)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/recoverable", s.handleRecoverableSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reconnect", s.handleReconnectSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.handleRenameSession)

	mux.HandleFunc("GET /api/v1/world", s.handleWorldSnapshot)
	mux.HandleFunc("POST /api/v1/tabs/local", s.handleNewLocalTab)
	mux.HandleFunc("POST /api/v1/tabs/ssh", s.handleNewSshTab)
	mux.HandleFunc("DELETE /api/v1/tabs/{id}", s.handleCloseTab)
	mux.HandleFunc("POST /api/v1/tabs/{id}/activate", s.handleSetActiveTab)
	mux.HandleFunc("PATCH /api/v1/tabs/{id}", s.handleRenameTab)
	mux.HandleFunc("POST /api/v1/tabs/reorder", s.handleReorderTabs)
	mux.HandleFunc("POST /api/v1/tabs/{id}/duplicate", s.handleDuplicateTab)

	mux.HandleFunc("POST /api/v1/panes/{id}/activate", s.handleSetActivePane)
	mux.HandleFunc("POST /api/v1/panes/split", s.handleSplitPane)
	mux.HandleFunc("DELETE /api/v1/tabs/{tabId}/panes/{paneId}", s.handleClosePane)
	mux.HandleFunc("POST /api/v1/panes/move", s.handleMovePane)
	mux.HandleFunc("POST /api/v1/panes/extract", s.handleExtractPane)
	mux.HandleFunc("POST /api/v1/tabs/merge", s.handleMergeTab)
	mux.HandleFunc("POST /api/v1/tabs/{tabId}/splits/{id}/resize", s.handleResizeSplit)

	mux.HandleFunc("GET /api/v1/workspaces", s.handleSaveWorkspace)
	mux.HandleFunc("POST /api/v1/workspaces/load", s.handleLoadWorkspace)

	mux.HandleFunc("GET /api/v1/share/qr", s.handleShareQR)

	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String())
	return s.httpSrv.Serve(ln)
}

func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// SetTLSConfig lets the caller hand the http.Server an already-terminated
// TLS listener (e.g. tsnet.ListenTLS) without Serve renegotiating TLS itself.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.httpSrv.TLSConfig = cfg
}

// SetBaseURL updates the URL share links are minted against, once the
// caller knows its externally-reachable address (only known after Listen).
func (s *Server) SetBaseURL(url string) {
	s.baseURL = url
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down...")
	s.controller.Stop()
	s.sessions.StopAll()
	if s.notifier != nil {
		s.notifier.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// watchSessionEvents bridges Session Host Disconnected/ReconnectNeeded
// events onto the configured notification channels. It notifies for every
// session, whether or not an adapter is currently attached to it.
func (s *Server) watchSessionEvents() {
	ch := s.sessions.Events()
	defer s.sessions.UnsubscribeEvents(ch)
	for ev := range ch {
		switch ev.Kind {
		case session.EventDisconnected:
			s.notifier.Notify(context.Background(), notify.Notification{
				Title:     "Session disconnected",
				Body:      "A terminal session lost its connection.",
				SessionID: ev.SessionID,
			})
		case session.EventReconnectNeeded:
			s.notifier.Notify(context.Background(), notify.Notification{
				Title:     "Reconnect needed",
				Body:      "An SSH session needs to be reconnected.",
				SessionID: ev.SessionID,
			})
		}
	}
}

// --- Session Host handlers ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"version": s.version})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	infos := make([]session.Info, len(list))
	for i, sess := range list {
		infos[i] = sess.Info()
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (s *Server) handleRecoverableSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"sessions": s.sessions.RecoverableSessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found: "+id)
		return
	}
	writeJSONResponse(w, http.StatusOK, sess.Info())
}

func (s *Server) handleReconnectSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Reconnect(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Close(id); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.sessions.SetTitle(id, req.Title); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Tab/Workspace Controller handlers ---

func (s *Server) handleWorldSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleNewLocalTab(w http.ResponseWriter, r *http.Request) {
	var cfg session.LocalConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	tabID, err := s.controller.NewLocalTab(r.Context(), cfg)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"tabId": tabID})
}

func (s *Server) handleNewSshTab(w http.ResponseWriter, r *http.Request) {
	var cfg session.SshConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	tabID, err := s.controller.NewSshTab(r.Context(), cfg)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"tabId": tabID})
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.controller.CloseTab(id); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetActiveTab(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.controller.SetActiveTab(id); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRenameTab(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.controller.RenameTab(id, req.Title); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReorderTabs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromIndex int `json:"fromIndex"`
		ToIndex   int `json:"toIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.controller.ReorderTabs(req.FromIndex, req.ToIndex); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDuplicateTab(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	newTabID, err := s.controller.DuplicateTab(r.Context(), id)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"tabId": newTabID})
}

func (s *Server) handleSetActivePane(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.controller.SetActivePane(id); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSplitPane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TabID     string               `json:"tabId"`
		PaneID    string               `json:"paneId"`
		Direction layout.Direction     `json:"direction"`
		Local     *session.LocalConfig `json:"local,omitempty"`
		Ssh       *session.SshConfig   `json:"ssh,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	recipe := workspace.NewSessionRecipe{Local: req.Local, Ssh: req.Ssh}
	if err := s.controller.SplitPane(r.Context(), req.TabID, req.PaneID, req.Direction, recipe); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleClosePane(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	paneID := r.PathValue("paneId")
	if err := s.controller.ClosePane(tabID, paneID, false); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMovePane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceTabID  string           `json:"sourceTabId"`
		SourcePaneID string           `json:"sourcePaneId"`
		TargetTabID  string           `json:"targetTabId"`
		TargetPaneID string           `json:"targetPaneId"`
		Direction    layout.Direction `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.controller.MovePane(req.SourceTabID, req.SourcePaneID, req.TargetTabID, req.TargetPaneID, req.Direction); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExtractPane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceTabID string `json:"sourceTabId"`
		PaneID      string `json:"paneId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	newTabID, err := s.controller.ExtractPaneToNewTab(req.SourceTabID, req.PaneID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"tabId": newTabID})
}

func (s *Server) handleMergeTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceTabID  string           `json:"sourceTabId"`
		TargetTabID  string           `json:"targetTabId"`
		TargetPaneID string           `json:"targetPaneId"`
		Direction    layout.Direction `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.controller.MergeTab(req.SourceTabID, req.TargetTabID, req.TargetPaneID, req.Direction); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResizeSplit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Sizes []float64 `json:"sizes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.controller.ResizeSplit(r.PathValue("tabId"), id, req.Sizes); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Workspace Serializer handlers ---

func (s *Server) handleSaveWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	name := r.URL.Query().Get("name")
	meta := s.serializer.Save(id, name, r.URL.Query().Get("description"), time.Now())
	writeJSONResponse(w, http.StatusOK, meta)
}

func (s *Server) handleLoadWorkspace(w http.ResponseWriter, r *http.Request) {
	var meta workspace.WorkspaceMeta
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.serializer.Load(r.Context(), meta); err != nil {
		var restoreErr *workspace.RestoreFailedError
		if errors.As(err, &restoreErr) {
			writeError(w, http.StatusBadGateway, "restore_failed", restoreErr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Workspace share handlers ---

func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspaceId is required")
		return
	}
	link, err := share.NewPairingLink(s.baseURL, workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Pairing-URL", link.URL)
	w.Write(link.PNG)
}

// --- Helpers ---

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSONResponse(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", err.Error())
}

func writeWorkspaceError(w http.ResponseWriter, err error) {
	if errors.Is(err, workspace.ErrTabNotFound) || errors.Is(err, workspace.ErrPaneNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", err.Error())
}
