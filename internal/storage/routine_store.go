package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// RoutineStore persists Routines, one per (personId, intentType).
type RoutineStore struct {
	db *DB
}

// NewRoutineStore builds a RoutineStore over db.
func NewRoutineStore(db *DB) *RoutineStore {
	return &RoutineStore{db: db}
}

const routineColumns = `
	id, person_id, intent_type, created_at_utc, last_intent_occurred_at_utc,
	observation_window_start_utc, observation_window_ends_at_utc, observation_window_minutes,
	active_time_context_bucket`

// ByIntent loads the routine for (personId, intentType), if it exists.
func (s *RoutineStore) ByIntent(personID core.PersonID, intentType string) (*core.Routine, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+routineColumns+` FROM routines WHERE person_id = ? AND intent_type = ?
	`, string(personID), intentType)
	r, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// OpenForPerson loads every routine for personId that currently has an open
// observation window (spec.md §3's mutual-exclusion invariant operates over
// this set).
func (s *RoutineStore) OpenForPerson(personID core.PersonID) ([]*core.Routine, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+routineColumns+` FROM routines
		WHERE person_id = ? AND observation_window_start_utc IS NOT NULL
	`, string(personID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByPerson loads every routine belonging to personId, open or closed, for
// read-only listing at the API boundary.
func (s *RoutineStore) ByPerson(personID core.PersonID) ([]*core.Routine, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+routineColumns+` FROM routines WHERE person_id = ? ORDER BY created_at_utc
	`, string(personID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpiredWindows loads every routine whose observation window ended before
// `at`, for the periodic window-expiry sweep.
func (s *RoutineStore) ExpiredWindows(at time.Time) ([]*core.Routine, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+routineColumns+` FROM routines
		WHERE observation_window_ends_at_utc IS NOT NULL AND observation_window_ends_at_utc < ?
	`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a routine in full (routines are small and
// windows change atomically, so last-writer-wins is sufficient as long as
// the caller serializes the read-close-open sequence per person; routines.Learner
// does this with a per-person in-process lock around HandleIntent).
func (s *RoutineStore) Upsert(r *core.Routine) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO routines (`+routineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, intent_type) DO UPDATE SET
			last_intent_occurred_at_utc = excluded.last_intent_occurred_at_utc,
			observation_window_start_utc = excluded.observation_window_start_utc,
			observation_window_ends_at_utc = excluded.observation_window_ends_at_utc,
			observation_window_minutes = excluded.observation_window_minutes,
			active_time_context_bucket = excluded.active_time_context_bucket
	`, string(r.ID), string(r.PersonID), r.IntentType, r.CreatedAtUtc, r.LastIntentOccurredAtUtc,
		r.ObservationWindowStartUtc, r.ObservationWindowEndsAtUtc, r.ObservationWindowMinutes,
		nullableString(r.ActiveTimeContextBucket))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

func scanRoutine(row scannable) (*core.Routine, error) {
	var r core.Routine
	var id, personID string
	var lastIntent, windowStart, windowEnd sql.NullTime
	var activeBucket sql.NullString

	err := row.Scan(&id, &personID, &r.IntentType, &r.CreatedAtUtc, &lastIntent,
		&windowStart, &windowEnd, &r.ObservationWindowMinutes, &activeBucket)
	if err != nil {
		return nil, err
	}

	r.ID = core.RoutineID(id)
	r.PersonID = core.PersonID(personID)
	if lastIntent.Valid {
		t := lastIntent.Time
		r.LastIntentOccurredAtUtc = &t
	}
	if windowStart.Valid {
		t := windowStart.Time
		r.ObservationWindowStartUtc = &t
	}
	if windowEnd.Valid {
		t := windowEnd.Time
		r.ObservationWindowEndsAtUtc = &t
	}
	r.ActiveTimeContextBucket = activeBucket.String

	return &r, nil
}
