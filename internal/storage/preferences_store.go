package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// PreferencesStore persists UserReminderPreferences, one per personId.
type PreferencesStore struct {
	db *DB
}

// NewPreferencesStore builds a PreferencesStore over db.
func NewPreferencesStore(db *DB) *PreferencesStore {
	return &PreferencesStore{db: db}
}

// Get loads the preferences for personId, returning ErrPreferencesNotFound
// if none have been set yet.
func (s *PreferencesStore) Get(personID core.PersonID) (*core.UserReminderPreferences, error) {
	row := s.db.conn.QueryRow(`
		SELECT person_id, default_style, daily_limit, minimum_interval_ms, enabled, allow_auto_execute
		FROM user_reminder_preferences WHERE person_id = ?
	`, string(personID))

	var p core.UserReminderPreferences
	var pid, style string
	var intervalMs int64
	err := row.Scan(&pid, &style, &p.DailyLimit, &intervalMs, &p.Enabled, &p.AllowAutoExecute)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PersonID = core.PersonID(pid)
	p.DefaultStyle = core.ReminderStyle(style)
	p.MinimumInterval = time.Duration(intervalMs) * time.Millisecond
	return &p, nil
}

// Upsert creates or replaces the preferences for a person.
func (s *PreferencesStore) Upsert(p *core.UserReminderPreferences) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO user_reminder_preferences (person_id, default_style, daily_limit, minimum_interval_ms, enabled, allow_auto_execute)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			default_style = excluded.default_style, daily_limit = excluded.daily_limit,
			minimum_interval_ms = excluded.minimum_interval_ms, enabled = excluded.enabled,
			allow_auto_execute = excluded.allow_auto_execute
	`, string(p.PersonID), string(p.DefaultStyle), p.DailyLimit, p.MinimumInterval.Milliseconds(),
		p.Enabled, p.AllowAutoExecute)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}
