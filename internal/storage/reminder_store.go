package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// ReminderStore persists ReminderCandidates with optimistic concurrency via
// a row version, mirroring TransitionStore.
type ReminderStore struct {
	db *DB
}

// NewReminderStore builds a ReminderStore over db.
func NewReminderStore(db *DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderColumns = `
	id, person_id, suggested_action, check_at_utc, transition_id, style, status, decision_json,
	confidence, occurrence, created_at_utc, executed_at_utc, source_event_id, custom_data_json,
	time_window_center_ms, time_window_size_minutes, evidence_count, observed_days_json,
	day_of_week_histogram_json, time_bucket_histogram_json, day_type_histogram_json,
	most_common_time_bucket, most_common_day_type, pattern_inference_status, inferred_weekday,
	signal_profile_json, signal_profile_updated_at_utc, signal_profile_samples_count,
	is_safe_to_auto_execute, version`

// Get loads a reminder candidate by id.
func (s *ReminderStore) Get(id core.ReminderID) (*core.ReminderCandidate, int, error) {
	row := s.db.conn.QueryRow(`SELECT `+reminderColumns+` FROM reminder_candidates WHERE id = ?`, string(id))
	r, v, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, core.ErrReminderNotFound
	}
	return r, v, err
}

// ScheduledByPerson loads all Scheduled reminders for a person, for the
// MatchingEngine scan (spec.md §4.5 step 2).
func (s *ReminderStore) ScheduledByPerson(personID core.PersonID) ([]*core.ReminderCandidate, error) {
	return s.queryReminders(`
		SELECT `+reminderColumns+` FROM reminder_candidates
		WHERE person_id = ? AND status = ?
	`, string(personID), string(core.StatusScheduled))
}

// ByPersonAndAction loads Scheduled reminders for (personId, suggestedAction),
// for the ReminderScheduler's reinforce-or-create lookup (spec.md §4.7 step 5).
func (s *ReminderStore) ByPersonAndAction(personID core.PersonID, action string) ([]*core.ReminderCandidate, error) {
	return s.queryReminders(`
		SELECT `+reminderColumns+` FROM reminder_candidates
		WHERE person_id = ? AND suggested_action = ? AND status = ?
	`, string(personID), action, string(core.StatusScheduled))
}

// DueBefore loads Scheduled reminders with checkAtUtc <= at.
func (s *ReminderStore) DueBefore(at time.Time, limit int) ([]*core.ReminderCandidate, error) {
	return s.queryReminders(`
		SELECT `+reminderColumns+` FROM reminder_candidates
		WHERE status = ? AND check_at_utc <= ?
		ORDER BY check_at_utc ASC
		LIMIT ?
	`, string(core.StatusScheduled), at, limit)
}

// Expirable loads Scheduled reminders whose checkAtUtc is older than `before`
// by more than `grace`, for the periodic expiry sweep.
func (s *ReminderStore) Expirable(before time.Time, grace time.Duration) ([]*core.ReminderCandidate, error) {
	return s.queryReminders(`
		SELECT `+reminderColumns+` FROM reminder_candidates
		WHERE status = ? AND check_at_utc <= ?
	`, string(core.StatusScheduled), before.Add(-grace))
}

// CountExecutedSince counts Executed reminders for personId with
// executedAtUtc >= since, for the Evaluator's daily-cap check.
func (s *ReminderStore) CountExecutedSince(personID core.PersonID, since time.Time) (int, error) {
	var n int
	err := s.db.conn.QueryRow(`
		SELECT COUNT(*) FROM reminder_candidates
		WHERE person_id = ? AND status = ? AND executed_at_utc >= ?
	`, string(personID), string(core.StatusExecuted), since).Scan(&n)
	return n, err
}

// MostRecentExecuted loads the most recently executed reminder for personId,
// for the Evaluator's minimum-interval check.
func (s *ReminderStore) MostRecentExecuted(personID core.PersonID) (*core.ReminderCandidate, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+reminderColumns+` FROM reminder_candidates
		WHERE person_id = ? AND executed_at_utc IS NOT NULL
		ORDER BY executed_at_utc DESC
		LIMIT 1
	`, string(personID))
	r, _, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// RelatedToReminder loads events linked to this reminder via relatedReminderId
// or sourceEventId, for the MatchingEngine's legacy context-field criterion
// (spec.md §4.5 step d).
func (s *ReminderStore) RelatedToReminder(reminderID core.ReminderID) ([]*core.ActionEvent, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, person_id, action_type, timestamp_utc, context_json, event_type,
			probability_value, probability_action, custom_data_json, related_reminder_id, created_at_utc
		FROM events
		WHERE related_reminder_id = ?
	`, string(reminderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ActionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create inserts a brand new reminder candidate at version 1.
func (s *ReminderStore) Create(r *core.ReminderCandidate) error {
	cols, err := reminderWriteCols(r)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(`
		INSERT INTO reminder_candidates (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, cols...)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Update writes r back, requiring the row to still be at expectedVersion.
func (s *ReminderStore) Update(r *core.ReminderCandidate, expectedVersion int) error {
	cols, err := reminderWriteCols(r)
	if err != nil {
		return err
	}
	// reminderWriteCols returns the 29 non-version columns in order; id and
	// person_id are immutable and excluded from the SET list below.
	args := append(cols[2:], string(r.ID), expectedVersion)
	res, err := s.db.conn.Exec(`
		UPDATE reminder_candidates SET
			suggested_action = ?, check_at_utc = ?, transition_id = ?, style = ?, status = ?,
			decision_json = ?, confidence = ?, occurrence = ?, created_at_utc = ?, executed_at_utc = ?,
			source_event_id = ?, custom_data_json = ?, time_window_center_ms = ?, time_window_size_minutes = ?,
			evidence_count = ?, observed_days_json = ?, day_of_week_histogram_json = ?,
			time_bucket_histogram_json = ?, day_type_histogram_json = ?, most_common_time_bucket = ?,
			most_common_day_type = ?, pattern_inference_status = ?, inferred_weekday = ?,
			signal_profile_json = ?, signal_profile_updated_at_utc = ?, signal_profile_samples_count = ?,
			is_safe_to_auto_execute = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, args...)
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

func reminderWriteCols(r *core.ReminderCandidate) ([]any, error) {
	decisionJSON, err := marshalJSON(r.Decision)
	if err != nil {
		return nil, err
	}
	customJSON, err := marshalJSON(r.CustomData)
	if err != nil {
		return nil, err
	}
	observedDaysJSON, err := marshalJSON(r.ObservedDays)
	if err != nil {
		return nil, err
	}
	dowJSON, err := marshalJSON(r.DayOfWeekHistogram)
	if err != nil {
		return nil, err
	}
	tbJSON, err := marshalJSON(r.TimeBucketHistogram)
	if err != nil {
		return nil, err
	}
	dtJSON, err := marshalJSON(r.DayTypeHistogram)
	if err != nil {
		return nil, err
	}
	signalJSON, err := marshalJSON(r.SignalProfile)
	if err != nil {
		return nil, err
	}

	var transitionID, sourceEventID any
	if r.TransitionID != nil {
		transitionID = string(*r.TransitionID)
	}
	if r.SourceEventID != nil {
		sourceEventID = string(*r.SourceEventID)
	}
	var executedAt, signalUpdatedAt any
	if r.ExecutedAtUtc != nil {
		executedAt = *r.ExecutedAtUtc
	}
	if r.SignalProfileUpdatedAtUtc != nil {
		signalUpdatedAt = *r.SignalProfileUpdatedAtUtc
	}
	var inferredWeekday any
	if r.InferredWeekday != nil {
		inferredWeekday = *r.InferredWeekday
	}

	return []any{
		string(r.ID), string(r.PersonID), r.SuggestedAction, r.CheckAtUtc, transitionID,
		string(r.Style), string(r.Status), nullableString(decisionJSON),
		r.Confidence, nullableString(r.Occurrence), r.CreatedAtUtc, executedAt,
		sourceEventID, nullableString(customJSON),
		r.TimeWindowCenter.Milliseconds(), r.TimeWindowSizeMinutes, r.EvidenceCount,
		nullableString(observedDaysJSON), nullableString(dowJSON), nullableString(tbJSON), nullableString(dtJSON),
		nullableString(r.MostCommonTimeBucket), nullableString(r.MostCommonDayType),
		string(r.PatternInferenceStatus), inferredWeekday,
		nullableString(signalJSON), signalUpdatedAt, r.SignalProfileSamplesCount,
		r.IsSafeToAutoExecute,
	}, nil
}

func (s *ReminderStore) queryReminders(query string, args ...any) ([]*core.ReminderCandidate, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ReminderCandidate
	for rows.Next() {
		r, _, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReminder(row scannable) (*core.ReminderCandidate, int, error) {
	var r core.ReminderCandidate
	var id, personID, style, status, patternStatus string
	var transitionID, sourceEventID, decisionJSON, customJSON sql.NullString
	var occurrence, mostCommonTimeBucket, mostCommonDayType sql.NullString
	var observedDaysJSON, dowJSON, tbJSON, dtJSON, signalJSON sql.NullString
	var executedAt, signalUpdatedAt sql.NullTime
	var inferredWeekday sql.NullInt64
	var timeWindowCenterMs int64
	var version int
	var isSafe bool

	err := row.Scan(&id, &personID, &r.SuggestedAction, &r.CheckAtUtc, &transitionID, &style, &status,
		&decisionJSON, &r.Confidence, &occurrence, &r.CreatedAtUtc, &executedAt, &sourceEventID, &customJSON,
		&timeWindowCenterMs, &r.TimeWindowSizeMinutes, &r.EvidenceCount, &observedDaysJSON,
		&dowJSON, &tbJSON, &dtJSON, &mostCommonTimeBucket, &mostCommonDayType, &patternStatus, &inferredWeekday,
		&signalJSON, &signalUpdatedAt, &r.SignalProfileSamplesCount, &isSafe, &version)
	if err != nil {
		return nil, 0, err
	}

	r.ID = core.ReminderID(id)
	r.PersonID = core.PersonID(personID)
	r.Style = core.ReminderStyle(style)
	r.Status = core.ReminderStatus(status)
	r.PatternInferenceStatus = core.PatternInferenceStatus(patternStatus)
	r.TimeWindowCenter = time.Duration(timeWindowCenterMs) * time.Millisecond
	r.IsSafeToAutoExecute = isSafe
	r.Occurrence = occurrence.String
	r.MostCommonTimeBucket = mostCommonTimeBucket.String
	r.MostCommonDayType = mostCommonDayType.String

	if transitionID.Valid {
		tid := core.TransitionID(transitionID.String)
		r.TransitionID = &tid
	}
	if sourceEventID.Valid {
		eid := core.EventID(sourceEventID.String)
		r.SourceEventID = &eid
	}
	if executedAt.Valid {
		t := executedAt.Time
		r.ExecutedAtUtc = &t
	}
	if signalUpdatedAt.Valid {
		t := signalUpdatedAt.Time
		r.SignalProfileUpdatedAtUtc = &t
	}
	if inferredWeekday.Valid {
		w := int(inferredWeekday.Int64)
		r.InferredWeekday = &w
	}

	if decisionJSON.Valid && decisionJSON.String != "" {
		r.Decision = &core.ReminderDecision{}
		if err := unmarshalJSON(decisionJSON.String, r.Decision); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if customJSON.Valid && customJSON.String != "" {
		if err := unmarshalJSON(customJSON.String, &r.CustomData); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	r.ObservedDays = map[string]bool{}
	if observedDaysJSON.Valid && observedDaysJSON.String != "" {
		if err := unmarshalJSON(observedDaysJSON.String, &r.ObservedDays); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if dowJSON.Valid && dowJSON.String != "" {
		if err := unmarshalJSON(dowJSON.String, &r.DayOfWeekHistogram); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	r.TimeBucketHistogram = map[string]int{}
	if tbJSON.Valid && tbJSON.String != "" {
		if err := unmarshalJSON(tbJSON.String, &r.TimeBucketHistogram); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	r.DayTypeHistogram = map[string]int{}
	if dtJSON.Valid && dtJSON.String != "" {
		if err := unmarshalJSON(dtJSON.String, &r.DayTypeHistogram); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}
	if signalJSON.Valid && signalJSON.String != "" {
		if err := unmarshalJSON(signalJSON.String, &r.SignalProfile); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrMalformedStoredData, err)
		}
	}

	return &r, version, nil
}
