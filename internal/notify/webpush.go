package notify

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	_ "modernc.org/sqlite"
)

// configDir and dbFile match the Session Host's crash-recovery store
// (internal/session/store.go): VAPID keys live beside session metadata in
// the same sqlite database rather than a second, parallel flat file, so a
// fresh install has exactly one persistence path to reason about.
const (
	configDir = ".config/deskterm"
	dbFile    = "sessions.db"
	vapidKey  = "vapid"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS notify_settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// WebpushNotifier delivers Notifications as browser web-push messages to
// every subscribed endpoint, generating (and persisting) its own VAPID
// keypair on first run.
type WebpushNotifier struct {
	mu            sync.Mutex
	logger        *slog.Logger
	db            *sql.DB
	vapidPrivate  string
	vapidPublic   string
	subscriptions []*webpush.Subscription
}

type vapidKeys struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

func NewWebpushNotifier(logger *slog.Logger) (*WebpushNotifier, error) {
	db, err := openSettingsDB()
	if err != nil {
		return nil, fmt.Errorf("open notification settings store: %w", err)
	}

	m := &WebpushNotifier{
		logger:        logger,
		db:            db,
		subscriptions: make([]*webpush.Subscription, 0),
	}
	if err := m.loadOrGenerateVAPID(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func openSettingsDB() (*sql.DB, error) {
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
	if _, err := db.Exec(settingsSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (m *WebpushNotifier) VAPIDPublicKey() string {
	return m.vapidPublic
}

// Subscribe registers a browser push subscription, deduped by endpoint.
func (m *WebpushNotifier) Subscribe(sub *webpush.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subscriptions {
		if existing.Endpoint == sub.Endpoint {
			return
		}
	}
	m.subscriptions = append(m.subscriptions, sub)
	ep := sub.Endpoint
	if len(ep) > 50 {
		ep = ep[:50] + "..."
	}
	m.logger.Info("push subscription added", "endpoint", ep)
}

func (m *WebpushNotifier) Unsubscribe(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscriptions {
		if sub.Endpoint == endpoint {
			m.subscriptions = append(m.subscriptions[:i], m.subscriptions[i+1:]...)
			return
		}
	}
}

// Notify sends n to every subscribed endpoint. Individual endpoint
// failures are logged, never returned, per the Notifier contract.
func (m *WebpushNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(map[string]string{
		"title":     n.Title,
		"body":      n.Body,
		"sessionId": n.SessionID,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	subs := make([]*webpush.Subscription, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.mu.Unlock()

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
			VAPIDPublicKey:  m.vapidPublic,
			VAPIDPrivateKey: m.vapidPrivate,
			Subscriber:      "mailto:deskterm@localhost",
		})
		if err != nil {
			m.logger.Debug("push send failed", "err", err)
			continue
		}
		resp.Body.Close()
	}
	return nil
}

// Close releases the underlying settings store handle.
func (m *WebpushNotifier) Close() error {
	return m.db.Close()
}

// loadOrGenerateVAPID reads the persisted keypair out of notify_settings,
// or mints and saves a fresh one on first run.
func (m *WebpushNotifier) loadOrGenerateVAPID() error {
	var value string
	err := m.db.QueryRow(`SELECT value FROM notify_settings WHERE key = ?`, vapidKey).Scan(&value)
	if err == nil {
		var keys vapidKeys
		if json.Unmarshal([]byte(value), &keys) == nil && keys.PrivateKey != "" {
			m.vapidPrivate = keys.PrivateKey
			m.vapidPublic = keys.PublicKey
			m.logger.Info("loaded VAPID keys")
			return nil
		}
	} else if err != sql.ErrNoRows {
		m.logger.Warn("failed to read VAPID keys, regenerating", "err", err)
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate VAPID key: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), privKey.PublicKey.X, privKey.PublicKey.Y)

	m.vapidPrivate = base64.RawURLEncoding.EncodeToString(privBytes)
	m.vapidPublic = base64.RawURLEncoding.EncodeToString(pubBytes)

	data, err := json.Marshal(vapidKeys{PrivateKey: m.vapidPrivate, PublicKey: m.vapidPublic})
	if err != nil {
		return fmt.Errorf("failed to marshal VAPID keys: %w", err)
	}

	_, err = m.db.Exec(
		`INSERT INTO notify_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		vapidKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save VAPID keys: %w", err)
	}

	m.logger.Info("generated new VAPID keys")
	return nil
}
