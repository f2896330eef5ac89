package session

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	configDir  = ".config/deskterm"
	dbFile     = "sessions.db"
	recordTTL  = 7 * 24 * time.Hour
	schemaStmt = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	local      TEXT,
	ssh        TEXT
)`
)

// Store is the crash-recovery session-metadata store: a record of which
// sessions existed so the app can offer to reopen them after an unclean
// shutdown. It is deliberately distinct from the Workspace Serializer's
// JSON snapshot (§4.4), which is the user-facing save/restore format; this
// store only ever holds a best-effort mirror of live session recipes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func newStore(logger *slog.Logger) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, configDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaStmt); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Save upserts one session's metadata. Called after every successful
// OpenLocal/OpenSsh and on title changes; failures are logged, not
// propagated, since losing crash-recovery metadata must never interrupt a
// live session.
func (st *Store) Save(info Info) {
	var localJSON, sshJSON []byte
	if info.Local != nil {
		localJSON, _ = json.Marshal(info.Local)
	}
	if info.Ssh != nil {
		sshJSON, _ = json.Marshal(info.Ssh)
	}

	_, err := st.db.Exec(
		`INSERT INTO sessions (id, kind, title, created_at, local, ssh)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, local=excluded.local, ssh=excluded.ssh`,
		info.ID, string(info.Kind), info.Title, info.CreatedAt.Format(time.RFC3339), string(localJSON), string(sshJSON),
	)
	if err != nil {
		st.logger.Warn("failed to persist session metadata", "id", info.ID, "err", err)
	}
}

// Delete removes a session's metadata row. Called from Manager.closeSession
// so a cleanly closed session is never offered back on the next restart.
func (st *Store) Delete(id string) {
	if _, err := st.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		st.logger.Warn("failed to delete session metadata", "id", id, "err", err)
	}
}

// Load returns every persisted session younger than recordTTL, for the
// caller to decide whether to offer reopening them.
func (st *Store) Load() ([]Info, error) {
	rows, err := st.db.Query(`SELECT id, kind, title, created_at, local, ssh FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cutoff := time.Now().Add(-recordTTL)
	var out []Info
	for rows.Next() {
		var (
			info              Info
			kind              string
			createdAt         string
			localJSON, ssJSON sql.NullString
		)
		if err := rows.Scan(&info.ID, &kind, &info.Title, &createdAt, &localJSON, &ssJSON); err != nil {
			st.logger.Warn("failed to scan session metadata row", "err", err)
			continue
		}
		info.Kind = Kind(kind)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil || t.Before(cutoff) {
			continue
		}
		info.CreatedAt = t
		if localJSON.Valid && localJSON.String != "" {
			var lc LocalConfig
			if json.Unmarshal([]byte(localJSON.String), &lc) == nil {
				info.Local = &lc
			}
		}
		if ssJSON.Valid && ssJSON.String != "" {
			var sc SshConfig
			if json.Unmarshal([]byte(ssJSON.String), &sc) == nil {
				info.Ssh = &sc
			}
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (st *Store) Close() error {
	return st.db.Close()
}
