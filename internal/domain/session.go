package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionStatusAvailable SessionStatus = "available"
	SessionStatusBooked    SessionStatus = "booked"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusExpired   SessionStatus = "expired"
)

// ActiveStatuses are the statuses that take part in conflict checks and
// expiry sweeps.
var ActiveStatuses = []SessionStatus{SessionStatusAvailable, SessionStatusBooked}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusAvailable, SessionStatusBooked, SessionStatusCompleted, SessionStatusCancelled, SessionStatusExpired:
		return true
	}
	return false
}

func (s SessionStatus) Active() bool {
	return s == SessionStatusAvailable || s == SessionStatusBooked
}

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled || s == SessionStatusExpired
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("requester is not allowed to perform this action")
)

var transitions = map[SessionStatus][]SessionStatus{
	SessionStatusAvailable: {SessionStatusBooked, SessionStatusCancelled, SessionStatusExpired},
	SessionStatusBooked:    {SessionStatusAvailable, SessionStatusCancelled, SessionStatusCompleted, SessionStatusExpired},
}

func CanTransition(from, to SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID          uuid.UUID     `bun:"id,pk,type:uuid"`
	TutorID     string        `bun:"tutor_id,notnull"`
	StudentID   *string       `bun:"student_id"`
	Title       string        `bun:"title,notnull"`
	Subject     string        `bun:"subject,notnull"`
	Description string        `bun:"description,notnull"`
	Notes       string        `bun:"notes,notnull"`
	MeetingLink string        `bun:"meeting_link,notnull"`
	Date        Date          `bun:"date,type:date,notnull"`
	StartTime   ClockTime     `bun:"start_minute,notnull"`
	EndTime     ClockTime     `bun:"end_minute,notnull"`
	Status      SessionStatus `bun:"status,notnull"`
	CreatedAt   time.Time     `bun:"created_at,notnull"`
	UpdatedAt   time.Time     `bun:"updated_at,notnull"`
}

func (s *Session) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

func (s Session) Window() TimeWindow {
	return TimeWindow{Date: s.Date, Start: s.StartTime, End: s.EndTime}
}

func (s Session) Student() string {
	if s.StudentID == nil {
		return ""
	}
	return *s.StudentID
}

// SameProposal reports whether o describes the same proposal as s. It is
// used to tell an idempotent replay from a reused key.
func (s Session) SameProposal(o Session) bool {
	return s.TutorID == o.TutorID &&
		s.Date == o.Date &&
		s.StartTime == o.StartTime &&
		s.EndTime == o.EndTime &&
		s.Subject == o.Subject &&
		s.Title == o.Title
}

// EndsAt is the instant the session's window closes in the reference zone.
func (s Session) EndsAt(loc *time.Location) time.Time {
	return s.Date.At(s.EndTime, loc)
}

// Lapsed reports whether an active session ended strictly before asOf.
func (s Session) Lapsed(asOf time.Time, loc *time.Location) bool {
	return s.Status.Active() && s.EndsAt(loc).Before(asOf)
}

// Transition moves the session to status `to` on behalf of by. Legality of
// the move is checked before the requester's relation to the session.
// Expiry is system-initiated and ignores by.
func (s Session) Transition(by Requester, to SessionStatus) (Session, error) {
	if !CanTransition(s.Status, to) {
		return Session{}, ErrInvalidTransition
	}

	switch to {
	case SessionStatusBooked:
		if by.ID == "" || by.ID == s.TutorID {
			return Session{}, ErrUnauthorized
		}
		student := by.ID
		s.StudentID = &student
	case SessionStatusAvailable:
		if !by.IsAdmin() && (by.ID == "" || (by.ID != s.TutorID && by.ID != s.Student())) {
			return Session{}, ErrUnauthorized
		}
		s.StudentID = nil
	case SessionStatusCancelled:
		if !by.IsAdmin() && by.ID != s.TutorID {
			return Session{}, ErrUnauthorized
		}
		s.StudentID = nil
	case SessionStatusCompleted:
		if !by.IsAdmin() && by.ID != s.TutorID {
			return Session{}, ErrUnauthorized
		}
	case SessionStatusExpired:
		s.StudentID = nil
	}

	s.Status = to
	return s, nil
}
