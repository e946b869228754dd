package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// EventStore persists ActionEvents.
type EventStore struct {
	db *DB
}

// NewEventStore builds an EventStore over db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Insert persists a new event. Events are immutable once written.
func (s *EventStore) Insert(e *core.ActionEvent) error {
	contextJSON, err := marshalJSON(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	customJSON, err := marshalJSON(e.CustomData)
	if err != nil {
		return fmt.Errorf("marshal customData: %w", err)
	}

	var probValue any
	if e.ProbabilityValue != nil {
		probValue = *e.ProbabilityValue
	}
	var relatedID any
	if e.RelatedReminderID != nil {
		relatedID = string(*e.RelatedReminderID)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO events (id, person_id, action_type, timestamp_utc, context_json, event_type,
			probability_value, probability_action, custom_data_json, related_reminder_id, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.ID), string(e.PersonID), e.ActionType, e.TimestampUtc, contextJSON, string(e.EventType),
		probValue, nullableString(string(e.ProbabilityAction)), nullableString(customJSON), relatedID, e.CreatedAtUtc)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// SetRelatedReminder links an event to the reminder it matched. Per
// spec.md §3 this may be set exactly once post-ingest.
func (s *EventStore) SetRelatedReminder(eventID core.EventID, reminderID core.ReminderID) error {
	_, err := s.db.conn.Exec(`
		UPDATE events SET related_reminder_id = ? WHERE id = ? AND related_reminder_id IS NULL
	`, string(reminderID), string(eventID))
	return err
}

// MostRecentBefore loads the most recent event for personId strictly before ts.
func (s *EventStore) MostRecentBefore(personID core.PersonID, ts time.Time) (*core.ActionEvent, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, person_id, action_type, timestamp_utc, context_json, event_type,
			probability_value, probability_action, custom_data_json, related_reminder_id, created_at_utc
		FROM events
		WHERE person_id = ? AND timestamp_utc < ?
		ORDER BY timestamp_utc DESC
		LIMIT 1
	`, string(personID), ts)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Get loads a single event by id.
func (s *EventStore) Get(id core.EventID) (*core.ActionEvent, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, person_id, action_type, timestamp_utc, context_json, event_type,
			probability_value, probability_action, custom_data_json, related_reminder_id, created_at_utc
		FROM events WHERE id = ?
	`, string(id))
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrEventNotFound
	}
	return e, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (*core.ActionEvent, error) {
	var e core.ActionEvent
	var id, personID string
	var contextJSON string
	var eventType string
	var probValue sql.NullFloat64
	var probAction, customJSON, relatedID sql.NullString

	err := row.Scan(&id, &personID, &e.ActionType, &e.TimestampUtc, &contextJSON, &eventType,
		&probValue, &probAction, &customJSON, &relatedID, &e.CreatedAtUtc)
	if err != nil {
		return nil, err
	}

	e.ID = core.EventID(id)
	e.PersonID = core.PersonID(personID)
	e.EventType = core.EventType(eventType)

	if err := unmarshalJSON(contextJSON, &e.Context); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
	}
	if probValue.Valid {
		v := probValue.Float64
		e.ProbabilityValue = &v
	}
	if probAction.Valid {
		e.ProbabilityAction = core.ProbabilityAction(probAction.String)
	}
	if customJSON.Valid && customJSON.String != "" {
		if err := unmarshalJSON(customJSON.String, &e.CustomData); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if relatedID.Valid {
		rid := core.ReminderID(relatedID.String)
		e.RelatedReminderID = &rid
	}

	return &e, nil
}
