package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/store"
)

// Engine is the only component that mutates rules and sessions together.
// Every mutation runs inside the owning tutor's critical section.
type Engine struct {
	store    store.Store
	sweeper  *Sweeper
	notifier domain.Notifier
	now      func() time.Time
	loc      *time.Location
	log      *slog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithNotifier(n domain.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithLocation sets the reference zone in which session dates and clock
// times are read when deciding expiry.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		notifier: domain.NopNotifier{},
		now:      time.Now,
		loc:      time.UTC,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sweeper = NewSweeper(st, e.now, e.loc, e.log)
	e.log = e.log.With(slog.String("component", "booking.engine"))
	return e
}

func (e *Engine) Sweeper() *Sweeper {
	return e.sweeper
}

// SweepExpired expires every lapsed active session as of the engine clock.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	return e.sweeper.Sweep(ctx)
}

func (e *Engine) today() domain.Date {
	return domain.DateOf(e.now().In(e.loc))
}

func (e *Engine) emit(ctx context.Context, evt domain.Event) {
	e.notifier.Notify(ctx, evt)
}

type ProposeInput struct {
	// TutorID defaults to the requester.
	TutorID     string
	Date        string
	StartTime   string
	EndTime     string
	Subject     string
	Title       string
	Description string
	Notes       string
	MeetingLink string
	// IdempotencyKey makes retries of the same proposal return the session
	// created by the first attempt.
	IdempotencyKey string
}

func (e *Engine) ProposeSession(ctx context.Context, by domain.Requester, in ProposeInput) (domain.Session, error) {
	tutorID := strings.TrimSpace(in.TutorID)
	if tutorID == "" {
		tutorID = by.ID
	}
	if tutorID == "" {
		return domain.Session{}, validationError("tutor_id is required")
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return domain.Session{}, validationError("subject is required")
	}
	w, err := parseWindow(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Session{}, err
	}
	if !by.IsAdmin() && (by.Role != domain.RoleTutor || by.ID != tutorID) {
		return domain.Session{}, domain.ErrUnauthorized
	}

	sess := domain.Session{
		TutorID:     tutorID,
		Title:       strings.TrimSpace(in.Title),
		Subject:     subject,
		Description: in.Description,
		Notes:       in.Notes,
		MeetingLink: strings.TrimSpace(in.MeetingLink),
		Date:        w.Date,
		StartTime:   w.Start,
		EndTime:     w.End,
		Status:      domain.SessionStatusAvailable,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Session{}, validationError("idempotency_key too long")
		}
		sess.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tutoring:propose_session:"+tutorID+":"+key))
	}

	if _, err := e.SweepExpired(ctx); err != nil {
		return domain.Session{}, err
	}

	var (
		out      domain.Session
		replayed bool
	)
	err = e.store.InTutorTransaction(ctx, tutorID, func(ctx context.Context, tx store.TutorTx) error {
		if sess.ID != uuid.Nil {
			existing, err := tx.GetSession(ctx, sess.ID)
			switch {
			case err == nil:
				if !existing.SameProposal(sess) {
					return store.ErrIdempotencyConflict
				}
				out, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		ok, err := tx.IsAvailable(ctx, tutorID, w)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAvailable
		}

		if _, found, err := tx.FindConflicting(ctx, tutorID, w, uuid.Nil); err != nil {
			return err
		} else if found {
			return store.ErrConflict
		}

		created, err := tx.CreateSession(ctx, sess)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}

	if !replayed {
		e.emit(ctx, domain.NewEvent(domain.EventSessionProposed, out, e.now()))
	}
	return out, nil
}

// BookSession claims an open session for the requesting student. Availability
// rules are not re-checked; they were satisfied when the session was proposed.
func (e *Engine) BookSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}
	if by.ID == "" || by.Role != domain.RoleStudent {
		return domain.Session{}, domain.ErrUnauthorized
	}

	out, err := e.mutateSession(ctx, sessionID, func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error) {
		if s.Status != domain.SessionStatusAvailable {
			return domain.Session{}, ErrAlreadyBooked
		}
		next, err := s.Transition(by, domain.SessionStatusBooked)
		if err != nil {
			return domain.Session{}, err
		}
		return tx.SaveSession(ctx, next)
	})
	if err != nil {
		return domain.Session{}, err
	}

	e.emit(ctx, domain.NewEvent(domain.EventSessionBooked, out, e.now()))
	return out, nil
}

// CancelBooking releases a booked session back to available. The booking
// student, the owning tutor and administrators may do this.
func (e *Engine) CancelBooking(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}

	var prior *string
	out, err := e.mutateSession(ctx, sessionID, func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error) {
		prior = s.StudentID
		next, err := s.Transition(by, domain.SessionStatusAvailable)
		if err != nil {
			return domain.Session{}, err
		}
		return tx.SaveSession(ctx, next)
	})
	if err != nil {
		return domain.Session{}, err
	}

	evt := domain.NewEvent(domain.EventBookingCancelled, out, e.now())
	evt.StudentID = prior
	e.emit(ctx, evt)
	return out, nil
}

// WithdrawSession cancels a session outright. Only the owning tutor or an
// administrator may withdraw, and only from a non-terminal status.
func (e *Engine) WithdrawSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}

	var prior *string
	out, err := e.mutateSession(ctx, sessionID, func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error) {
		prior = s.StudentID
		next, err := s.Transition(by, domain.SessionStatusCancelled)
		if err != nil {
			return domain.Session{}, err
		}
		return tx.SaveSession(ctx, next)
	})
	if err != nil {
		return domain.Session{}, err
	}

	evt := domain.NewEvent(domain.EventSessionWithdrawn, out, e.now())
	evt.StudentID = prior
	e.emit(ctx, evt)
	return out, nil
}

// CompleteSession records that a booked session took place.
func (e *Engine) CompleteSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}

	out, err := e.mutateSession(ctx, sessionID, func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error) {
		next, err := s.Transition(by, domain.SessionStatusCompleted)
		if err != nil {
			return domain.Session{}, err
		}
		return tx.SaveSession(ctx, next)
	})
	if err != nil {
		return domain.Session{}, err
	}

	e.emit(ctx, domain.NewEvent(domain.EventSessionCompleted, out, e.now()))
	return out, nil
}

type RescheduleInput struct {
	Date      string
	StartTime string
	EndTime   string
}

// RescheduleSession moves an open session to a new window. A booked session
// cannot be moved.
func (e *Engine) RescheduleSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID, in RescheduleInput) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}
	w, err := parseWindow(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Session{}, err
	}

	out, err := e.mutateSession(ctx, sessionID, func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error) {
		if s.Status != domain.SessionStatusAvailable {
			return domain.Session{}, domain.ErrInvalidTransition
		}
		if !by.IsAdmin() && by.ID != s.TutorID {
			return domain.Session{}, domain.ErrUnauthorized
		}

		ok, err := tx.IsAvailable(ctx, s.TutorID, w)
		if err != nil {
			return domain.Session{}, err
		}
		if !ok {
			return domain.Session{}, ErrNotAvailable
		}
		if _, found, err := tx.FindConflicting(ctx, s.TutorID, w, s.ID); err != nil {
			return domain.Session{}, err
		} else if found {
			return domain.Session{}, store.ErrConflict
		}

		s.Date, s.StartTime, s.EndTime = w.Date, w.Start, w.End
		return tx.SaveSession(ctx, s)
	})
	if err != nil {
		return domain.Session{}, err
	}

	e.emit(ctx, domain.NewEvent(domain.EventSessionRescheduled, out, e.now()))
	return out, nil
}

// mutateSession sweeps, resolves the owning tutor, then re-reads the session
// under that tutor's lock before handing it to fn.
func (e *Engine) mutateSession(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx store.TutorTx, s domain.Session) (domain.Session, error)) (domain.Session, error) {
	if _, err := e.SweepExpired(ctx); err != nil {
		return domain.Session{}, err
	}

	current, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	var out domain.Session
	err = e.store.InTutorTransaction(ctx, current.TutorID, func(ctx context.Context, tx store.TutorTx) error {
		s, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		out, err = fn(ctx, tx, s)
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

func (e *Engine) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	if sessionID == uuid.Nil {
		return domain.Session{}, validationError("session_id is required")
	}
	if _, err := e.SweepExpired(ctx); err != nil {
		return domain.Session{}, err
	}
	return e.store.GetSession(ctx, sessionID)
}

type ListFilter struct {
	TutorID   string
	StudentID string
	Status    string
	Date      string
}

func (e *Engine) ListSessions(ctx context.Context, in ListFilter) ([]domain.Session, error) {
	f := store.SessionFilter{
		TutorID:   strings.TrimSpace(in.TutorID),
		StudentID: strings.TrimSpace(in.StudentID),
	}
	if status := strings.TrimSpace(in.Status); status != "" {
		st := domain.SessionStatus(strings.ToLower(status))
		if !st.Valid() {
			return nil, validationError("unknown status")
		}
		f.Status = st
	}
	if date := strings.TrimSpace(in.Date); date != "" {
		d, err := domain.ParseDate(date)
		if err != nil {
			return nil, validationError("invalid date")
		}
		f.Date = d
	}

	if _, err := e.SweepExpired(ctx); err != nil {
		return nil, err
	}
	return e.store.ListSessions(ctx, f)
}

type AvailableFilter struct {
	Subject string
	TutorID string
	Date    string
}

// ListAvailableSessions lists open sessions. Without a date only sessions
// from today on are returned.
func (e *Engine) ListAvailableSessions(ctx context.Context, in AvailableFilter) ([]domain.Session, error) {
	f := store.SessionFilter{
		TutorID: strings.TrimSpace(in.TutorID),
		Subject: strings.TrimSpace(in.Subject),
		Status:  domain.SessionStatusAvailable,
	}
	if date := strings.TrimSpace(in.Date); date != "" {
		d, err := domain.ParseDate(date)
		if err != nil {
			return nil, validationError("invalid date")
		}
		f.Date = d
	} else {
		f.OnOrAfter = e.today()
	}

	if _, err := e.SweepExpired(ctx); err != nil {
		return nil, err
	}
	return e.store.ListSessions(ctx, f)
}

func parseWindow(date, start, end string) (domain.TimeWindow, error) {
	d, err := domain.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return domain.TimeWindow{}, validationError("date must be YYYY-MM-DD")
	}
	r, err := parseClockRange(start, end)
	if err != nil {
		return domain.TimeWindow{}, err
	}
	return r.On(d), nil
}

func parseClockRange(start, end string) (domain.ClockRange, error) {
	s, err := domain.ParseClockTime(strings.TrimSpace(start))
	if err != nil {
		return domain.ClockRange{}, validationError("start_time must be HH:MM")
	}
	en, err := domain.ParseClockTime(strings.TrimSpace(end))
	if err != nil {
		return domain.ClockRange{}, validationError("end_time must be HH:MM")
	}
	r, err := domain.NewClockRange(s, en)
	if err != nil {
		return domain.ClockRange{}, validationError("end_time must be after start_time")
	}
	return r, nil
}
