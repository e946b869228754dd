package storage

import (
	"database/sql"
	"errors"
)

// ErrConfigNotFound is returned by ConfigStore.Get when no value is set for
// (key, category).
var ErrConfigNotFound = errors.New("configuration key not found")

// ConfigStore persists the (key, category) -> value configuration table
// backing internal/policy's typed accessors.
type ConfigStore struct {
	db *DB
}

// NewConfigStore builds a ConfigStore over db.
func NewConfigStore(db *DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get loads the raw string value for (key, category).
func (s *ConfigStore) Get(key, category string) (string, error) {
	var value string
	err := s.db.conn.QueryRow(`
		SELECT value FROM configurations WHERE key = ? AND category = ?
	`, key, category).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrConfigNotFound
	}
	return value, err
}

// AllInCategory loads every (key -> value) pair for a category, for bulk
// catalogue loads like the interruption-cost table.
func (s *ConfigStore) AllInCategory(category string) (map[string]string, error) {
	rows, err := s.db.conn.Query(`SELECT key, value FROM configurations WHERE category = ?`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Set creates or replaces the value for (key, category).
func (s *ConfigStore) Set(key, category, value string) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO configurations (key, category, value) VALUES (?, ?, ?)
		ON CONFLICT(key, category) DO UPDATE SET value = excluded.value
	`, key, category, value)
	return err
}
