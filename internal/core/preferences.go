package core

import "time"

// ReminderCooldown suppresses reminders for (personId, actionType) until a
// deadline.
type ReminderCooldown struct {
	PersonID         PersonID  `json:"personId"`
	ActionType       string    `json:"actionType"`
	SuppressedUntilUtc time.Time `json:"suppressedUntilUtc"`
	Reason           string    `json:"reason,omitempty"`
}

// Active reports whether the cooldown still suppresses reminders at `now`.
func (c *ReminderCooldown) Active(now time.Time) bool {
	return c.SuppressedUntilUtc.After(now)
}

// UserReminderPreferences is the one-per-person preference record governing
// the evaluator.
type UserReminderPreferences struct {
	PersonID         PersonID      `json:"personId"`
	DefaultStyle     ReminderStyle `json:"defaultStyle"`
	DailyLimit       int           `json:"dailyLimit"`
	MinimumInterval  time.Duration `json:"minimumInterval"`
	Enabled          bool          `json:"enabled"`
	AllowAutoExecute bool          `json:"allowAutoExecute"`
}

// DefaultUserReminderPreferences returns the out-of-the-box preferences for a
// newly seen person.
func DefaultUserReminderPreferences(personID PersonID) UserReminderPreferences {
	return UserReminderPreferences{
		PersonID:         personID,
		DefaultStyle:     StyleSuggest,
		DailyLimit:       10,
		MinimumInterval:  15 * time.Minute,
		Enabled:          true,
		AllowAutoExecute: false,
	}
}

// ExecutionHistory is an append-only record of a boundary interaction.
type ExecutionHistory struct {
	ID                  string    `json:"id"`
	Endpoint            string    `json:"endpoint"`
	RequestPayload      string    `json:"requestPayload"`
	ResponsePayload     string    `json:"responsePayload"`
	ExecutedAtUtc       time.Time `json:"executedAtUtc"`
	PersonID            PersonID  `json:"personId,omitempty"`
	UserID              string    `json:"userId,omitempty"`
	ActionType          string    `json:"actionType,omitempty"`
	ReminderCandidateID ReminderID `json:"reminderCandidateId,omitempty"`
	EventID             EventID   `json:"eventId,omitempty"`
}
