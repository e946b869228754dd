package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/habitloop/engine/internal/core"
)

// CooldownStore persists ReminderCooldowns, one per (personId, actionType).
type CooldownStore struct {
	db *DB
}

// NewCooldownStore builds a CooldownStore over db.
func NewCooldownStore(db *DB) *CooldownStore {
	return &CooldownStore{db: db}
}

// Get loads the cooldown for (personId, actionType), if any.
func (s *CooldownStore) Get(personID core.PersonID, actionType string) (*core.ReminderCooldown, error) {
	row := s.db.conn.QueryRow(`
		SELECT person_id, action_type, suppressed_until_utc, reason
		FROM cooldowns WHERE person_id = ? AND action_type = ?
	`, string(personID), actionType)

	var c core.ReminderCooldown
	var pid string
	var reason sql.NullString
	err := row.Scan(&pid, &c.ActionType, &c.SuppressedUntilUtc, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PersonID = core.PersonID(pid)
	c.Reason = reason.String
	return &c, nil
}

// Set creates or replaces the cooldown for (personId, actionType).
func (s *CooldownStore) Set(c *core.ReminderCooldown) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO cooldowns (person_id, action_type, suppressed_until_utc, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(person_id, action_type) DO UPDATE SET
			suppressed_until_utc = excluded.suppressed_until_utc, reason = excluded.reason
	`, string(c.PersonID), c.ActionType, c.SuppressedUntilUtc, nullableString(c.Reason))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}
