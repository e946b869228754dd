// Package core defines the fundamental types shared across the habitloop engine.
package core

import "github.com/google/uuid"

// PersonID identifies the person a behavioral model belongs to.
type PersonID string

// EventID identifies an ActionEvent.
type EventID string

// TransitionID identifies an ActionTransition.
type TransitionID string

// ReminderID identifies a ReminderCandidate.
type ReminderID string

// RoutineID identifies a Routine.
type RoutineID string

// RoutineReminderID identifies a RoutineReminder.
type RoutineReminderID string

// NewEventID generates a fresh opaque event identifier.
func NewEventID() EventID { return EventID(uuid.New().String()) }

// NewTransitionID generates a fresh opaque transition identifier.
func NewTransitionID() TransitionID { return TransitionID(uuid.New().String()) }

// NewReminderID generates a fresh opaque reminder identifier.
func NewReminderID() ReminderID { return ReminderID(uuid.New().String()) }

// NewRoutineID generates a fresh opaque routine identifier.
func NewRoutineID() RoutineID { return RoutineID(uuid.New().String()) }

// NewRoutineReminderID generates a fresh opaque routine-reminder identifier.
func NewRoutineReminderID() RoutineReminderID { return RoutineReminderID(uuid.New().String()) }
