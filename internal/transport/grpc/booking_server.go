package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kolevas/tutoring-app/internal/auth"
	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/service/booking"
	"github.com/kolevas/tutoring-app/internal/store"
)

type BookingServer struct {
	engine bookingEngine
	log    *slog.Logger
}

var _ BookingServiceServer = (*BookingServer)(nil)

type bookingEngine interface {
	ProposeSession(ctx context.Context, by domain.Requester, in booking.ProposeInput) (domain.Session, error)
	BookSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error)
	CancelBooking(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error)
	WithdrawSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error)
	CompleteSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error)
	RescheduleSession(ctx context.Context, by domain.Requester, sessionID uuid.UUID, in booking.RescheduleInput) (domain.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	ListSessions(ctx context.Context, in booking.ListFilter) ([]domain.Session, error)
	ListAvailableSessions(ctx context.Context, in booking.AvailableFilter) ([]domain.Session, error)
	AddRule(ctx context.Context, by domain.Requester, in booking.RuleInput) (domain.AvailabilityRule, error)
	UpdateRule(ctx context.Context, by domain.Requester, ruleID uuid.UUID, in booking.RulePatchInput) (domain.AvailabilityRule, error)
	RemoveRule(ctx context.Context, by domain.Requester, ruleID uuid.UUID) error
	ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error)
	RulesForDate(ctx context.Context, tutorID, date string) ([]domain.AvailabilityRule, error)
	OpenWindows(ctx context.Context, tutorID, from, to string) ([]domain.TimeWindow, error)
	SweepExpired(ctx context.Context) (int, error)
}

func NewBookingServer(engine bookingEngine, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		engine: engine,
		log:    log.With(slog.String("component", "grpc.booking")),
	}
}

// begin scopes the logger to the RPC and the caller. A missing requester
// means the auth interceptor was not installed.
func (s *BookingServer) begin(ctx context.Context, rpc string, req *structpb.Struct) (*slog.Logger, domain.Requester, *requestFields, error) {
	log := s.log.With(slog.String("rpc", rpc))
	by, ok := auth.RequesterFrom(ctx)
	if !ok {
		log.Warn("unauthenticated request")
		return log, domain.Requester{}, nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	log = log.With(slog.String("requester_id", by.ID), slog.String("role", string(by.Role)))
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return log, by, nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return log, by, fieldsOf(req), nil
}

func (s *BookingServer) invalid(log *slog.Logger, f *requestFields) error {
	log.Warn("invalid request", slog.Any("err", f.err))
	return status.Error(codes.InvalidArgument, f.err.Error())
}

func (s *BookingServer) ProposeSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, "ProposeSession", req)
	if err != nil {
		return nil, err
	}
	in := booking.ProposeInput{
		TutorID:        f.str("tutor_id"),
		Date:           f.str("date"),
		StartTime:      f.str("start_time"),
		EndTime:        f.str("end_time"),
		Subject:        f.str("subject"),
		Title:          f.str("title"),
		Description:    f.str("description"),
		Notes:          f.str("notes"),
		MeetingLink:    f.str("meeting_link"),
		IdempotencyKey: idempotencyKey(ctx),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sess, err := s.engine.ProposeSession(ctx, by, in)
	if err != nil {
		return nil, errorStatus(log, "session propose failed", err,
			slog.String("tutor_id", in.TutorID),
			slog.String("date", in.Date),
			slog.String("start_time", in.StartTime),
			slog.String("end_time", in.EndTime),
		)
	}

	log.Info(
		"session proposed",
		slog.String("session_id", sess.ID.String()),
		slog.String("tutor_id", sess.TutorID),
		slog.String("date", sess.Date.String()),
		slog.String("window", sess.Window().Range().String()),
	)
	return sessionStruct(sess)
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

type sessionAction func(ctx context.Context, by domain.Requester, sessionID uuid.UUID) (domain.Session, error)

// transition runs one of the single-session state changes.
func (s *BookingServer) transition(ctx context.Context, rpc, done string, req *structpb.Struct, action sessionAction) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, rpc, req)
	if err != nil {
		return nil, err
	}
	id := f.id("session_id")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sess, err := action(ctx, by, id)
	if err != nil {
		return nil, errorStatus(log, "session "+done+" failed", err, slog.String("session_id", id.String()))
	}

	log.Info("session "+done,
		slog.String("session_id", sess.ID.String()),
		slog.String("status", string(sess.Status)),
	)
	return sessionStruct(sess)
}

func (s *BookingServer) BookSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "BookSession", "booked", req, s.engine.BookSession)
}

func (s *BookingServer) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "CancelBooking", "released", req, s.engine.CancelBooking)
}

func (s *BookingServer) WithdrawSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "WithdrawSession", "withdrawn", req, s.engine.WithdrawSession)
}

func (s *BookingServer) CompleteSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "CompleteSession", "completed", req, s.engine.CompleteSession)
}

func (s *BookingServer) RescheduleSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, "RescheduleSession", req)
	if err != nil {
		return nil, err
	}
	id := f.id("session_id")
	in := booking.RescheduleInput{
		Date:      f.str("date"),
		StartTime: f.str("start_time"),
		EndTime:   f.str("end_time"),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sess, err := s.engine.RescheduleSession(ctx, by, id, in)
	if err != nil {
		return nil, errorStatus(log, "session reschedule failed", err, slog.String("session_id", id.String()))
	}

	log.Info("session rescheduled",
		slog.String("session_id", sess.ID.String()),
		slog.String("date", sess.Date.String()),
		slog.String("window", sess.Window().Range().String()),
	)
	return sessionStruct(sess)
}

func (s *BookingServer) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "GetSession", req)
	if err != nil {
		return nil, err
	}
	id := f.id("session_id")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sess, err := s.engine.GetSession(ctx, id)
	if err != nil {
		return nil, errorStatus(log, "session get failed", err, slog.String("session_id", id.String()))
	}
	return sessionStruct(sess)
}

func (s *BookingServer) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "ListSessions", req)
	if err != nil {
		return nil, err
	}
	in := booking.ListFilter{
		TutorID:   f.str("tutor_id"),
		StudentID: f.str("student_id"),
		Status:    f.str("status"),
		Date:      f.str("date"),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sessions, err := s.engine.ListSessions(ctx, in)
	if err != nil {
		return nil, errorStatus(log, "sessions list failed", err)
	}

	log.Debug("sessions listed", slog.Int("count", len(sessions)))
	return sessionsStruct(sessions)
}

func (s *BookingServer) ListAvailableSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "ListAvailableSessions", req)
	if err != nil {
		return nil, err
	}
	in := booking.AvailableFilter{
		Subject: f.str("subject"),
		TutorID: f.str("tutor_id"),
		Date:    f.str("date"),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	sessions, err := s.engine.ListAvailableSessions(ctx, in)
	if err != nil {
		return nil, errorStatus(log, "available sessions list failed", err)
	}

	log.Debug("available sessions listed", slog.Int("count", len(sessions)))
	return sessionsStruct(sessions)
}

func (s *BookingServer) AddRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, "AddRule", req)
	if err != nil {
		return nil, err
	}
	in := booking.RuleInput{
		TutorID:      f.str("tutor_id"),
		Weekday:      f.optInt("weekday"),
		SpecificDate: f.str("specific_date"),
		StartTime:    f.str("start_time"),
		EndTime:      f.str("end_time"),
		Timezone:     f.str("timezone"),
		Enabled:      f.optBool("enabled"),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	rule, err := s.engine.AddRule(ctx, by, in)
	if err != nil {
		return nil, errorStatus(log, "rule add failed", err)
	}

	log.Info("rule added", slog.String("rule_id", rule.ID.String()), slog.String("tutor_id", rule.TutorID))
	return ruleStruct(rule)
}

func (s *BookingServer) UpdateRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, "UpdateRule", req)
	if err != nil {
		return nil, err
	}
	id := f.id("rule_id")
	in := booking.RulePatchInput{
		Weekday:      f.optInt("weekday"),
		SpecificDate: f.optStr("specific_date"),
		StartTime:    f.optStr("start_time"),
		EndTime:      f.optStr("end_time"),
		Timezone:     f.optStr("timezone"),
		Enabled:      f.optBool("enabled"),
	}
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	rule, err := s.engine.UpdateRule(ctx, by, id, in)
	if err != nil {
		return nil, errorStatus(log, "rule update failed", err, slog.String("rule_id", id.String()))
	}

	log.Info("rule updated", slog.String("rule_id", rule.ID.String()))
	return ruleStruct(rule)
}

func (s *BookingServer) RemoveRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, f, err := s.begin(ctx, "RemoveRule", req)
	if err != nil {
		return nil, err
	}
	id := f.id("rule_id")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	if err := s.engine.RemoveRule(ctx, by, id); err != nil {
		return nil, errorStatus(log, "rule remove failed", err, slog.String("rule_id", id.String()))
	}

	log.Info("rule removed", slog.String("rule_id", id.String()))
	return &structpb.Struct{}, nil
}

func (s *BookingServer) ListRules(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "ListRules", req)
	if err != nil {
		return nil, err
	}
	tutorID := f.str("tutor_id")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	rules, err := s.engine.ListRules(ctx, tutorID)
	if err != nil {
		return nil, errorStatus(log, "rules list failed", err, slog.String("tutor_id", tutorID))
	}

	log.Debug("rules listed", slog.String("tutor_id", tutorID), slog.Int("count", len(rules)))
	return rulesStruct(rules)
}

func (s *BookingServer) RulesForDate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "RulesForDate", req)
	if err != nil {
		return nil, err
	}
	tutorID, date := f.str("tutor_id"), f.str("date")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	rules, err := s.engine.RulesForDate(ctx, tutorID, date)
	if err != nil {
		return nil, errorStatus(log, "rules for date failed", err, slog.String("tutor_id", tutorID), slog.String("date", date))
	}

	log.Debug("rules for date listed", slog.String("tutor_id", tutorID), slog.String("date", date), slog.Int("count", len(rules)))
	return rulesStruct(rules)
}

func (s *BookingServer) OpenWindows(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, _, f, err := s.begin(ctx, "OpenWindows", req)
	if err != nil {
		return nil, err
	}
	tutorID, from, to := f.str("tutor_id"), f.str("from"), f.str("to")
	if f.err != nil {
		return nil, s.invalid(log, f)
	}

	windows, err := s.engine.OpenWindows(ctx, tutorID, from, to)
	if err != nil {
		return nil, errorStatus(log, "open windows failed", err, slog.String("tutor_id", tutorID))
	}

	log.Debug("open windows listed", slog.String("tutor_id", tutorID), slog.Int("count", len(windows)))
	return windowsStruct(windows)
}

// SweepExpired triggers an expiry pass on demand. Administrators only.
func (s *BookingServer) SweepExpired(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log, by, _, err := s.begin(ctx, "SweepExpired", req)
	if err != nil {
		return nil, err
	}
	if !by.IsAdmin() {
		log.Info("sweep refused")
		return nil, status.Error(codes.PermissionDenied, "administrators only")
	}

	n, err := s.engine.SweepExpired(ctx)
	if err != nil {
		return nil, errorStatus(log, "sweep failed", err)
	}

	log.Info("sweep requested", slog.Int("expired", n))
	return structpb.NewStruct(map[string]any{"expired": n})
}

// errorStatus logs err at a level matching its kind and converts it to a
// gRPC status. Unknown errors never leak their message.
func errorStatus(log *slog.Logger, msg string, err error, attrs ...any) error {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", append(attrs, slog.Any("err", err))...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, domain.ErrInvalidRule):
		log.Warn("invalid request", append(attrs, slog.Any("err", err))...)
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info(msg, append(attrs, slog.String("reason", "not_found"))...)
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		log.Info(msg, append(attrs, slog.String("reason", "conflict"))...)
		return status.Error(codes.FailedPrecondition, "The tutor already has a session during that time. Pick a different slot.")
	case errors.Is(err, booking.ErrNotAvailable):
		log.Info(msg, append(attrs, slog.String("reason", "not_available"))...)
		return status.Error(codes.FailedPrecondition, "The tutor is not available during that time.")
	case errors.Is(err, booking.ErrAlreadyBooked):
		log.Info(msg, append(attrs, slog.String("reason", "already_booked"))...)
		return status.Error(codes.FailedPrecondition, "This session is no longer open for booking.")
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info(msg, append(attrs, slog.String("reason", "invalid_state"))...)
		return status.Error(codes.FailedPrecondition, "The session cannot move to that status.")
	case errors.Is(err, booking.ErrDuplicateRule):
		log.Info(msg, append(attrs, slog.String("reason", "duplicate_rule"))...)
		return status.Error(codes.FailedPrecondition, "An identical availability rule already exists.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(msg, append(attrs, slog.String("reason", "idempotency_conflict"))...)
		return status.Error(codes.AlreadyExists, "This request key was already used for a different session. Try again.")
	case errors.Is(err, domain.ErrUnauthorized):
		log.Info(msg, append(attrs, slog.String("reason", "unauthorized"))...)
		return status.Error(codes.PermissionDenied, "You are not allowed to do that.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, append(attrs, slog.Any("err", err))...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info(msg, append(attrs, slog.String("reason", "canceled"))...)
		return status.Error(codes.Canceled, "request canceled")
	default:
		log.Error(msg, append(attrs, slog.Any("err", err))...)
		return status.Error(codes.Internal, "internal error")
	}
}
