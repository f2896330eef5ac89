package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/deskterm/deskterm/internal/adapter"
	"github.com/deskterm/deskterm/internal/session"
)

// WSMessage is the envelope for every client-originated message.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSOutputMsg mirrors terminal:output. The adapter's Widget.Write is called
// both for replayed scrollback and for live output (§4.5 makes no wire
// distinction between the two), so both arrive as this same message type.
type WSOutputMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"` // base64
}

// WSStatusMsg mirrors terminal:disconnected, terminal:reconnect-needed,
// terminal:reconnected, and terminal:closed — every bus event that carries
// no payload beyond the session it concerns.
type WSStatusMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type WSInputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64
}

type WSResizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// wsConnWriter serializes JSON writes onto one websocket connection: the
// adapter's output callback and the status-event loop both write to the
// same conn from different goroutines.
type wsConnWriter struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsConnWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageText, data)
}

// wsWidget implements adapter.Widget over a websocket connection: every
// byte the adapter hands it (replayed scrollback, then live output) is
// framed as terminal:output and written to the client.
type wsWidget struct {
	writer    *wsConnWriter
	sessionID string
	cancel    context.CancelFunc
}

func (w *wsWidget) Write(data []byte) {
	msg := WSOutputMsg{Type: string(session.EventOutput), SessionID: w.sessionID, Data: base64.StdEncoding.EncodeToString(data)}
	if err := w.writer.writeJSON(msg); err != nil {
		w.cancel()
	}
}

// handleWebSocket bridges one session's front-of-house adapter (§4.5) onto
// a single WebSocket connection: input/resize flow client -> adapter ->
// Session Host, and the adapter's output plus the host's status events flow
// host -> client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing session parameter")
		return
	}

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found: "+sessionID)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"100.*.*.*", "*.ts.net", "localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(64 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Info("websocket connected", "session", sessionID)

	writer := &wsConnWriter{ctx: ctx, conn: conn}

	select {
	case <-sess.Done():
		writer.writeJSON(WSStatusMsg{Type: string(session.EventClosed), SessionID: sessionID})
		return
	default:
	}

	widget := &wsWidget{writer: writer, sessionID: sessionID, cancel: cancel}
	ad := adapter.New(s.sessions, sessionID)
	ad.Attach(widget)
	defer ad.Dispose()

	busCh := s.sessions.Events()
	defer s.sessions.UnsubscribeEvents(busCh)

	go s.wsReadLoop(ctx, cancel, conn, ad)
	go s.wsPingLoop(ctx, cancel, conn)

	s.wsStatusLoop(ctx, writer, sessionID, busCh)
}

func (s *Server) wsPingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				s.logger.Debug("websocket ping failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ad *adapter.Adapter) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("invalid ws message", "err", err)
			continue
		}

		switch msg.Type {
		case "input":
			var input WSInputMsg
			if err := json.Unmarshal(data, &input); err != nil {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(input.Data)
			if err != nil {
				continue
			}
			ad.OnInput(decoded)

		case "resize":
			var resize WSResizeMsg
			if err := json.Unmarshal(data, &resize); err != nil {
				continue
			}
			ad.OnResize(uint16(resize.Cols), uint16(resize.Rows))

		default:
			s.logger.Debug("unknown ws message type", "type", msg.Type)
		}
	}
}

// wsStatusLoop forwards the process-wide event bus, filtered down to events
// naming this session, for the four status transitions the adapter itself
// doesn't carry (it only ever pushes output).
func (s *Server) wsStatusLoop(ctx context.Context, writer *wsConnWriter, sessionID string, busCh chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-busCh:
			if !ok {
				return
			}
			if ev.SessionID != sessionID || ev.Kind == session.EventOutput {
				continue
			}
			if err := writer.writeJSON(WSStatusMsg{Type: string(ev.Kind), SessionID: sessionID}); err != nil {
				return
			}
			if ev.Kind == session.EventClosed {
				return
			}
		}
	}
}
