package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/habitloop/engine/internal/core"
)

// RoutineReminderStore persists RoutineReminders, unique per
// (routineId, suggestedAction).
type RoutineReminderStore struct {
	db *DB
}

// NewRoutineReminderStore builds a RoutineReminderStore over db.
func NewRoutineReminderStore(db *DB) *RoutineReminderStore {
	return &RoutineReminderStore{db: db}
}

const routineReminderColumns = `
	id, routine_id, person_id, suggested_action, confidence, created_at_utc, last_observed_at_utc,
	observation_count, custom_data_json, user_prompts_json, is_safe_to_auto_execute,
	signal_profile_json, signal_profile_samples_count`

// ByRoutineAndAction loads the routine reminder for (routineId, suggestedAction).
func (s *RoutineReminderStore) ByRoutineAndAction(routineID core.RoutineID, action string) (*core.RoutineReminder, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+routineReminderColumns+` FROM routine_reminders
		WHERE routine_id = ? AND suggested_action = ?
	`, string(routineID), action)
	rr, err := scanRoutineReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rr, err
}

// Get loads a routine reminder by id.
func (s *RoutineReminderStore) Get(id core.RoutineReminderID) (*core.RoutineReminder, error) {
	row := s.db.conn.QueryRow(`SELECT `+routineReminderColumns+` FROM routine_reminders WHERE id = ?`, string(id))
	rr, err := scanRoutineReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRoutineReminderNotFound
	}
	return rr, err
}

// ByRoutine loads every routine reminder attached to a routine.
func (s *RoutineReminderStore) ByRoutine(routineID core.RoutineID) ([]*core.RoutineReminder, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+routineReminderColumns+` FROM routine_reminders WHERE routine_id = ?
	`, string(routineID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.RoutineReminder
	for rows.Next() {
		rr, err := scanRoutineReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// Upsert inserts or fully replaces a routine reminder.
func (s *RoutineReminderStore) Upsert(rr *core.RoutineReminder) error {
	customJSON, err := marshalJSON(rr.CustomData)
	if err != nil {
		return err
	}
	promptsJSON, err := marshalJSON(rr.UserPromptsList)
	if err != nil {
		return err
	}
	signalJSON, err := marshalJSON(rr.SignalProfile)
	if err != nil {
		return err
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO routine_reminders (`+routineReminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(routine_id, suggested_action) DO UPDATE SET
			confidence = excluded.confidence,
			last_observed_at_utc = excluded.last_observed_at_utc,
			observation_count = excluded.observation_count,
			custom_data_json = excluded.custom_data_json,
			user_prompts_json = excluded.user_prompts_json,
			is_safe_to_auto_execute = excluded.is_safe_to_auto_execute,
			signal_profile_json = excluded.signal_profile_json,
			signal_profile_samples_count = excluded.signal_profile_samples_count
	`, string(rr.ID), string(rr.RoutineID), string(rr.PersonID), rr.SuggestedAction, rr.Confidence,
		rr.CreatedAtUtc, rr.LastObservedAtUtc, rr.ObservationCount, nullableString(customJSON),
		nullableString(promptsJSON), rr.IsSafeToAutoExecute, nullableString(signalJSON),
		rr.SignalProfileSamplesCount)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

func scanRoutineReminder(row scannable) (*core.RoutineReminder, error) {
	var rr core.RoutineReminder
	var id, routineID, personID string
	var lastObserved sql.NullTime
	var customJSON, promptsJSON, signalJSON sql.NullString

	err := row.Scan(&id, &routineID, &personID, &rr.SuggestedAction, &rr.Confidence, &rr.CreatedAtUtc,
		&lastObserved, &rr.ObservationCount, &customJSON, &promptsJSON, &rr.IsSafeToAutoExecute,
		&signalJSON, &rr.SignalProfileSamplesCount)
	if err != nil {
		return nil, err
	}

	rr.ID = core.RoutineReminderID(id)
	rr.RoutineID = core.RoutineID(routineID)
	rr.PersonID = core.PersonID(personID)
	if lastObserved.Valid {
		t := lastObserved.Time
		rr.LastObservedAtUtc = &t
	}
	if customJSON.Valid && customJSON.String != "" {
		if err := unmarshalJSON(customJSON.String, &rr.CustomData); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if promptsJSON.Valid && promptsJSON.String != "" {
		if err := unmarshalJSON(promptsJSON.String, &rr.UserPromptsList); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if signalJSON.Valid && signalJSON.String != "" {
		if err := unmarshalJSON(signalJSON.String, &rr.SignalProfile); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}

	return &rr, nil
}
