package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/nikassistant/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and applies migrations.
func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; the dispatcher, the API and calendar checks share it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			channels TEXT NOT NULL DEFAULT '',
			options TEXT NOT NULL DEFAULT '{}',
			enqueued_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_enqueued_at ON outbox(enqueued_at)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notification_id TEXT NOT NULL,
			title TEXT NOT NULL,
			channel TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			delivered_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_delivered_at ON deliveries(delivered_at)`,
		`CREATE TABLE IF NOT EXISTS calendar_alerts (
			uid TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			alerted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (uid, start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS email_alerts (
			message_id TEXT PRIMARY KEY,
			notified_at DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Outbox ===

// SaveOutbox persists a durable notification until its delivery attempt.
func (s *Storage) SaveOutbox(n domain.Notification) error {
	opts, err := json.Marshal(n.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO outbox (id, title, message, channels, options, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.Title, n.Message, joinChannels(n.Channels), string(opts), n.EnqueuedAt.UTC(),
	)
	return err
}

// DeleteOutbox removes a delivered notification from the outbox.
func (s *Storage) DeleteOutbox(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id.String())
	return err
}

// PendingOutbox returns durable notifications left from earlier runs, oldest first.
func (s *Storage) PendingOutbox() ([]domain.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, title, message, channels, options, enqueued_at FROM outbox ORDER BY enqueued_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			id, channels, opts string
			n                  domain.Notification
		)
		if err := rows.Scan(&id, &n.Title, &n.Message, &channels, &opts, &n.EnqueuedAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse outbox id %q: %w", id, err)
		}
		n.ID = parsed
		n.Channels = splitChannels(channels)
		if err := json.Unmarshal([]byte(opts), &n.Options); err != nil {
			return nil, fmt.Errorf("parse outbox options %s: %w", id, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// === Deliveries ===

// RecordDeliveries appends delivery attempts to the journal in one transaction.
func (s *Storage) RecordDeliveries(deliveries []domain.Delivery) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO deliveries (notification_id, title, channel, error, duration_ms, delivered_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range deliveries {
		if _, err := stmt.Exec(d.NotificationID.String(), d.Title, string(d.Channel), d.Error, d.Duration.Milliseconds(), d.DeliveredAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDeliveries returns the most recent delivery attempts, newest first.
func (s *Storage) ListDeliveries(limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT notification_id, title, channel, error, duration_ms, delivered_at
		 FROM deliveries ORDER BY delivered_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var (
			id, channel string
			ms          int64
			d           domain.Delivery
		)
		if err := rows.Scan(&id, &d.Title, &channel, &d.Error, &ms, &d.DeliveredAt); err != nil {
			return nil, err
		}
		d.NotificationID, _ = uuid.Parse(id)
		d.Channel = domain.Channel(channel)
		d.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// === Calendar alerts ===

// MarkCalendarAlerted records that a meeting reminder went out for the event
// occurrence. It returns false when one was already recorded.
func (s *Storage) MarkCalendarAlerted(uid string, start time.Time) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO calendar_alerts (uid, start_time) VALUES (?, ?)`,
		uid, start.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PruneCalendarAlerts removes alert records for events that started before cutoff.
func (s *Storage) PruneCalendarAlerts(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM calendar_alerts WHERE start_time < ?`, cutoff.UTC())
	return err
}

// === Email alerts ===

// MarkEmailNotified records that an important email was announced. It
// returns false when the message was announced before.
func (s *Storage) MarkEmailNotified(messageID string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO email_alerts (message_id, notified_at) VALUES (?, ?)`,
		messageID, at.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PruneEmailAlerts removes records announced before cutoff.
func (s *Storage) PruneEmailAlerts(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM email_alerts WHERE notified_at < ?`, cutoff.UTC())
	return err
}

func joinChannels(channels []domain.Channel) string {
	parts := make([]string, 0, len(channels))
	for _, c := range channels {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

func splitChannels(s string) []domain.Channel {
	if s == "" {
		return nil
	}
	var out []domain.Channel
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, domain.Channel(p))
		}
	}
	return out
}
