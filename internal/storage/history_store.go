package storage

import (
	"github.com/google/uuid"
	"github.com/habitloop/engine/internal/core"
)

// HistoryStore appends ExecutionHistory records. Per spec.md §7, failures
// recording history are swallowed by the caller, never propagated.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore builds a HistoryStore over db.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append records a boundary interaction, assigning an id if h.ID is empty.
func (s *HistoryStore) Append(h *core.ExecutionHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.db.conn.Exec(`
		INSERT INTO execution_history (id, endpoint, request_payload, response_payload, executed_at_utc,
			person_id, user_id, action_type, reminder_candidate_id, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.Endpoint, h.RequestPayload, h.ResponsePayload, h.ExecutedAtUtc,
		nullableString(string(h.PersonID)), nullableString(h.UserID), nullableString(h.ActionType),
		nullableString(string(h.ReminderCandidateID)), nullableString(string(h.EventID)))
	return err
}
