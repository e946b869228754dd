package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// NotifierAdapter turns reminder decisions into notifications, satisfying
// evaluator.Notifier without this package depending on internal/evaluator.
type NotifierAdapter struct {
	service *Service
	timeout time.Duration
}

// NewNotifierAdapter wraps service for use as an evaluator.Notifier.
func NewNotifierAdapter(service *Service) *NotifierAdapter {
	return &NotifierAdapter{service: service, timeout: 5 * time.Second}
}

// Notify creates a NotifyReminder notification for the candidate's decision.
func (a *NotifierAdapter) Notify(candidate *core.ReminderCandidate, decision *core.ReminderDecision) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	title := decision.NaturalLanguagePhrase
	if title == "" {
		title = fmt.Sprintf("Time to %s?", candidate.SuggestedAction)
	}

	_, err := a.service.Create(ctx, CreateNotificationRequest{
		Type:     NotifyReminder,
		Title:    title,
		Body:     decision.Reason,
		Urgency:  urgencyFor(candidate.Style),
		PersonID: string(candidate.PersonID),
		ItemID:   string(candidate.ID),
		ActionData: map[string]any{
			"confidenceLevel": decision.ConfidenceLevel,
			"suggestedAction": candidate.SuggestedAction,
		},
	})
	return err
}

func urgencyFor(style core.ReminderStyle) int {
	switch style {
	case core.StyleAsk:
		return UrgencyHigh
	case core.StyleSilent:
		return UrgencyLow
	default:
		return UrgencyMedium
	}
}
