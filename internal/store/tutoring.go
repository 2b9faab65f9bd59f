package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kolevas/tutoring-app/internal/domain"
)

// SessionFilter narrows ListSessions. Zero fields match everything.
type SessionFilter struct {
	TutorID   string
	StudentID string
	Status    domain.SessionStatus
	Date      domain.Date
	// OnOrAfter keeps sessions whose date is not before it.
	OnOrAfter domain.Date
	// Subject is matched as a case-insensitive substring.
	Subject string
}

// Match reports whether s passes every set field of f.
func (f SessionFilter) Match(s domain.Session) bool {
	if f.TutorID != "" && s.TutorID != f.TutorID {
		return false
	}
	if f.StudentID != "" && s.Student() != f.StudentID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.Date.IsZero() && s.Date != f.Date {
		return false
	}
	if !f.OnOrAfter.IsZero() && s.Date.Before(f.OnOrAfter) {
		return false
	}
	if f.Subject != "" && !strings.Contains(strings.ToLower(s.Subject), strings.ToLower(f.Subject)) {
		return false
	}
	return true
}

type AvailabilityRuleStore interface {
	IsAvailable(ctx context.Context, tutorID string, w domain.TimeWindow) (bool, error)
	ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error)
	GetRule(ctx context.Context, ruleID uuid.UUID) (domain.AvailabilityRule, error)
	CreateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error)
	UpdateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error)
	DeleteRule(ctx context.Context, ruleID uuid.UUID) error
}

type SessionRegistry interface {
	// FindConflicting returns an active session of tutorID whose window
	// overlaps w. exclude is skipped; pass uuid.Nil to consider every session.
	FindConflicting(ctx context.Context, tutorID string, w domain.TimeWindow, exclude uuid.UUID) (domain.Session, bool, error)
	CreateSession(ctx context.Context, s domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) (domain.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]domain.Session, error)
}

// TutorTx is the view of both stores available inside one tutor's
// critical section.
type TutorTx interface {
	AvailabilityRuleStore
	SessionRegistry
}

type Store interface {
	// InTutorTransaction runs fn while holding the exclusive lock for
	// tutorID. Work for different tutors proceeds independently.
	InTutorTransaction(ctx context.Context, tutorID string, fn func(ctx context.Context, tx TutorTx) error) error

	// SweepExpired moves every active session whose date and end time, read
	// in loc, fall strictly before asOf to expired. It returns the number of
	// sessions moved.
	SweepExpired(ctx context.Context, asOf time.Time, loc *time.Location) (int, error)

	GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]domain.Session, error)
	GetRule(ctx context.Context, ruleID uuid.UUID) (domain.AvailabilityRule, error)
	ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error)
}

// TransitionSession loads a session inside tx, applies the state machine on
// behalf of by and persists the result.
func TransitionSession(ctx context.Context, tx TutorTx, sessionID uuid.UUID, by domain.Requester, to domain.SessionStatus) (domain.Session, error) {
	s, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	next, err := s.Transition(by, to)
	if err != nil {
		return domain.Session{}, err
	}
	return tx.SaveSession(ctx, next)
}
