package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionProposed    EventType = "session_proposed"
	EventSessionBooked      EventType = "session_booked"
	EventBookingCancelled   EventType = "booking_cancelled"
	EventSessionWithdrawn   EventType = "session_withdrawn"
	EventSessionRescheduled EventType = "session_rescheduled"
	EventSessionCompleted   EventType = "session_completed"
)

// Event describes a committed session change for the notification
// collaborator.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	TutorID    string    `json:"tutor_id"`
	StudentID  *string   `json:"student_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Subject    string    `json:"subject"`
	Date       Date      `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(t EventType, s Session, occurredAt time.Time) Event {
	return Event{
		Type:       t,
		SessionID:  s.ID,
		TutorID:    s.TutorID,
		StudentID:  s.StudentID,
		Title:      s.Title,
		Subject:    s.Subject,
		Date:       s.Date,
		StartTime:  s.StartTime.String(),
		EndTime:    s.EndTime.String(),
		OccurredAt: occurredAt.UTC(),
	}
}

// Notifier delivers events. Implementations own their failures: Notify never
// reports an error back to the state change that produced the event.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
