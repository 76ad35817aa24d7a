// Package store provides SQLite-backed persistence for the transcript and
// the device settings. One database file carries both: a messages table in
// append order and a settings key-value table with get/set semantics.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/watchgram/watchgram/internal/chatlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	text       TEXT NOT NULL,
	origin     TEXT NOT NULL,
	failed     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Store wraps the device database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage persists one transcript entry.
func (s *Store) AppendMessage(m chatlog.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, text, origin, failed, created_at) VALUES (?,?,?,?,?);`,
		m.ID.String(), m.Text, string(m.Origin), boolToInt(m.Failed), m.CreatedAt,
	)
	return err
}

// Messages returns the stored transcript in append order.
func (s *Store) Messages() ([]chatlog.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, text, origin, failed, created_at FROM messages ORDER BY seq ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chatlog.Message
	for rows.Next() {
		var (
			id        string
			m         chatlog.Message
			origin    string
			failed    int
			createdAt time.Time
		)
		if err := rows.Scan(&id, &m.Text, &origin, &failed, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt message id %q: %w", id, err)
		}
		m.ID = parsed
		m.Origin = chatlog.Origin(origin)
		m.Failed = failed != 0
		m.CreatedAt = createdAt
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearMessages deletes the stored transcript.
func (s *Store) ClearMessages() error {
	_, err := s.db.Exec(`DELETE FROM messages;`)
	return err
}

// GetSetting returns the stored value for key, or "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?;`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting stores one key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value)
	return err
}

// SetSettings stores several keys in one transaction so partial pairing
// state can never be observed.
func (s *Store) SetSettings(kv map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for key, value := range kv {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?,?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteSettings removes keys in one transaction.
func (s *Store) DeleteSettings(keys ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.Exec(`DELETE FROM settings WHERE key = ?;`, key); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
