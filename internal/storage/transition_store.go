package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// TransitionStore persists ActionTransitions with optimistic concurrency:
// updates carry the row version read at load time and fail with
// ErrConcurrentUpdate if another writer moved it first.
type TransitionStore struct {
	db *DB
}

// NewTransitionStore builds a TransitionStore over db.
func NewTransitionStore(db *DB) *TransitionStore {
	return &TransitionStore{db: db}
}

// transitionRow pairs a transition with the store's internal version counter.
type transitionRow struct {
	core.ActionTransition
	version int
}

// ByKey loads the transition for the given uniqueness key, if any.
func (s *TransitionStore) ByKey(key core.TransitionKey) (*core.ActionTransition, int, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version
		FROM transitions
		WHERE person_id = ? AND from_action = ? AND to_action = ? AND context_bucket = ?
	`, string(key.PersonID), key.FromAction, key.ToAction, key.ContextBucket)
	return scanTransition(row)
}

// Get loads a transition by id.
func (s *TransitionStore) Get(id core.TransitionID) (*core.ActionTransition, int, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version
		FROM transitions WHERE id = ?
	`, string(id))
	t, v, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, core.ErrTransitionNotFound
	}
	return t, v, err
}

// ByFromAction loads recent transitions whose fromAction matches, for the
// ReminderScheduler's transition scan (spec.md §4.7 step 3).
func (s *TransitionStore) ByFromAction(personID core.PersonID, fromAction string) ([]*core.ActionTransition, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version
		FROM transitions
		WHERE person_id = ? AND from_action = ?
		ORDER BY last_observed_utc DESC
	`, string(personID), fromAction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ActionTransition
	for rows.Next() {
		t, _, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ByPerson loads every transition learned for a person, for diagnostic dumps.
func (s *TransitionStore) ByPerson(personID core.PersonID) ([]*core.ActionTransition, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version
		FROM transitions
		WHERE person_id = ?
		ORDER BY last_observed_utc DESC
	`, string(personID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ActionTransition
	for rows.Next() {
		t, _, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListStale loads every transition last updated before cutoff, for the
// periodic confidence-decay sweep.
func (s *TransitionStore) ListStale(cutoff time.Time) ([]*core.ActionTransition, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version
		FROM transitions
		WHERE updated_at_utc < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ActionTransition
	for rows.Next() {
		t, _, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a brand new transition at version 1.
func (s *TransitionStore) Create(t *core.ActionTransition) error {
	var delayMs any
	if t.AverageDelay != nil {
		delayMs = t.AverageDelay.Milliseconds()
	}
	_, err := s.db.conn.Exec(`
		INSERT INTO transitions (id, person_id, from_action, to_action, context_bucket, occurrence_count,
			confidence, average_delay_ms, last_observed_utc, created_at_utc, updated_at_utc, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, string(t.ID), string(t.PersonID), t.FromAction, t.ToAction, t.ContextBucket, t.OccurrenceCount,
		t.Confidence, delayMs, t.LastObservedUtc, t.CreatedAtUtc, t.UpdatedAtUtc)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Update writes t back, requiring the row to still be at expectedVersion.
// Returns ErrConcurrentUpdate if another writer already advanced it.
func (s *TransitionStore) Update(t *core.ActionTransition, expectedVersion int) error {
	var delayMs any
	if t.AverageDelay != nil {
		delayMs = t.AverageDelay.Milliseconds()
	}
	res, err := s.db.conn.Exec(`
		UPDATE transitions SET occurrence_count = ?, confidence = ?, average_delay_ms = ?,
			last_observed_utc = ?, updated_at_utc = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, t.OccurrenceCount, t.Confidence, delayMs, t.LastObservedUtc, t.UpdatedAtUtc, string(t.ID), expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrConcurrentUpdate
	}
	return nil
}

func scanTransition(row scannable) (*core.ActionTransition, int, error) {
	var t core.ActionTransition
	var id, personID string
	var delayMs sql.NullInt64
	var version int

	err := row.Scan(&id, &personID, &t.FromAction, &t.ToAction, &t.ContextBucket, &t.OccurrenceCount,
		&t.Confidence, &delayMs, &t.LastObservedUtc, &t.CreatedAtUtc, &t.UpdatedAtUtc, &version)
	if err != nil {
		return nil, 0, err
	}
	t.ID = core.TransitionID(id)
	t.PersonID = core.PersonID(personID)
	if delayMs.Valid {
		d := time.Duration(delayMs.Int64) * time.Millisecond
		t.AverageDelay = &d
	}
	return &t, version, nil
}
