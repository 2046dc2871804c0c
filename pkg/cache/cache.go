// Package cache keeps a local last-known-good copy of the roster and dues
// records so the application can keep showing data when the hosted store is
// unreachable.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oyilmaz/aptDues/pkg/models"
)

const (
	keyApartments = "apartments"
	keyPayments   = "payments"
)

// ErrNoSnapshot is returned when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("no snapshot available")

// Snapshot stores JSON-serialized collections in a small local SQLite file.
type Snapshot struct {
	db *sql.DB
}

// Open creates or opens the snapshot file.
func Open(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open snapshot file: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to snapshot file: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("could not initialize snapshot schema: %w", err)
	}

	return &Snapshot{db: db}, nil
}

func (s *Snapshot) save(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s snapshot: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s snapshot: %w", key, err)
	}
	return nil
}

func (s *Snapshot) load(key string, v interface{}) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNoSnapshot
		}
		return fmt.Errorf("failed to read %s snapshot: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to decode %s snapshot: %w", key, err)
	}
	return nil
}

// SaveApartments replaces the apartments snapshot.
func (s *Snapshot) SaveApartments(apartments []*models.Apartment) error {
	return s.save(keyApartments, apartments)
}

// LoadApartments returns the last saved apartments snapshot.
func (s *Snapshot) LoadApartments() ([]*models.Apartment, error) {
	var apartments []*models.Apartment
	if err := s.load(keyApartments, &apartments); err != nil {
		return nil, err
	}
	return apartments, nil
}

// SavePayments replaces the payments snapshot.
func (s *Snapshot) SavePayments(payments []*models.Payment) error {
	return s.save(keyPayments, payments)
}

// LoadPayments returns the last saved payments snapshot.
func (s *Snapshot) LoadPayments() ([]*models.Payment, error) {
	var payments []*models.Payment
	if err := s.load(keyPayments, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// Close closes the snapshot file.
func (s *Snapshot) Close() error {
	return s.db.Close()
}
