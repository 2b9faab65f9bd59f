package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/store"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"

	sessionsNoOverlap = "sessions_no_overlap"
)

type TutoringRepo struct {
	db *bun.DB
	queries
}

func NewTutoringRepo(db *bun.DB) *TutoringRepo {
	return &TutoringRepo{db: db, queries: queries{db: db}}
}

var _ store.Store = (*TutoringRepo)(nil)

// queries holds the statements shared by the pool and a locked transaction.
type queries struct {
	db bun.IDB
}

type tutorTx struct {
	queries
}

var _ store.TutorTx = tutorTx{}

func (r *TutoringRepo) InTutorTransaction(ctx context.Context, tutorID string, fn func(ctx context.Context, tx store.TutorTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTutor(ctx, tx, tutorID); err != nil {
			return err
		}
		return fn(ctx, tutorTx{queries{db: tx}})
	})
}

func lockTutor(ctx context.Context, tx bun.Tx, tutorID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", tutorID).Exec(ctx)
	return err
}

// SweepExpired runs as one statement; row-level write atomicity is enough
// because the threshold is in the past.
func (r *TutoringRepo) SweepExpired(ctx context.Context, asOf time.Time, loc *time.Location) (int, error) {
	return r.queries.sweepExpired(ctx, asOf, loc)
}

func (q queries) sweepExpired(ctx context.Context, asOf time.Time, loc *time.Location) (int, error) {
	res, err := q.db.NewUpdate().
		Table("sessions").
		Set("status = ?", domain.SessionStatusExpired).
		Set("student_id = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("status IN (?)", bun.In(domain.ActiveStatuses)).
		Where("date + make_interval(mins => end_minute::int) < ?::timestamp", wallClock(asOf, loc)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// wallClock re-expresses asOf as the local date and time in loc, tagged UTC,
// so it compares against zone-less date+time columns.
func wallClock(asOf time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := asOf.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func (q queries) IsAvailable(ctx context.Context, tutorID string, w domain.TimeWindow) (bool, error) {
	return q.db.NewSelect().
		Model((*ruleRow)(nil)).
		Where("tutor_id = ?", tutorID).
		Where("enabled").
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("weekday = ?", int16(w.Date.Weekday())).
				WhereOr("specific_date = ?", w.Date)
		}).
		Where("start_minute <= ?", w.Start).
		Where("end_minute >= ?", w.End).
		Exists(ctx)
}

func (q queries) ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error) {
	var rows []ruleRow
	err := q.db.NewSelect().
		Model(&rows).
		Where("tutor_id = ?", tutorID).
		OrderExpr("specific_date ASC NULLS FIRST, weekday ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AvailabilityRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	domain.SortRules(out)
	return out, nil
}

func (q queries) GetRule(ctx context.Context, ruleID uuid.UUID) (domain.AvailabilityRule, error) {
	var row ruleRow
	err := q.db.NewSelect().
		Model(&row).
		Where("id = ?", ruleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AvailabilityRule{}, store.ErrNotFound
		}
		return domain.AvailabilityRule{}, err
	}
	return row.toDomain(), nil
}

func (q queries) CreateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error) {
	row := newRuleRow(rule)
	if _, err := q.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.AvailabilityRule{}, store.ErrConflict
		}
		return domain.AvailabilityRule{}, err
	}
	return row.toDomain(), nil
}

func (q queries) UpdateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error) {
	row := newRuleRow(rule)
	res, err := q.db.NewUpdate().
		Model(&row).
		Column("weekday", "specific_date", "start_minute", "end_minute", "timezone", "enabled", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	if affected == 0 {
		return domain.AvailabilityRule{}, store.ErrNotFound
	}
	return row.toDomain(), nil
}

func (q queries) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	res, err := q.db.NewDelete().
		Model((*ruleRow)(nil)).
		Where("id = ?", ruleID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q queries) FindConflicting(ctx context.Context, tutorID string, w domain.TimeWindow, exclude uuid.UUID) (domain.Session, bool, error) {
	var row domain.Session
	sq := q.db.NewSelect().
		Model(&row).
		Where("tutor_id = ?", tutorID).
		Where("date = ?", w.Date).
		Where("status IN (?)", bun.In(domain.ActiveStatuses)).
		Where("start_minute < ?", w.End).
		Where("end_minute > ?", w.Start)
	if exclude != uuid.Nil {
		sq = sq.Where("id <> ?", exclude)
	}
	err := sq.OrderExpr("start_minute ASC").Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return row, true, nil
}

func (q queries) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	m := s
	_, err := q.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == sessionsNoOverlap {
				return domain.Session{}, store.ErrConflict
			}
			if pgErr.Code == pgUniqueViolation {
				existing, selectErr := q.GetSession(ctx, m.ID)
				if selectErr != nil {
					return domain.Session{}, err
				}
				if !existing.SameProposal(s) {
					return domain.Session{}, store.ErrIdempotencyConflict
				}
				return existing, nil
			}
		}
		return domain.Session{}, err
	}
	return m, nil
}

func (q queries) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	var row domain.Session
	err := q.db.NewSelect().
		Model(&row).
		Where("id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, store.ErrNotFound
		}
		return domain.Session{}, err
	}
	return row, nil
}

func (q queries) SaveSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	m := s
	res, err := q.db.NewUpdate().
		Model(&m).
		Column("student_id", "title", "subject", "description", "notes", "meeting_link",
			"date", "start_minute", "end_minute", "status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == sessionsNoOverlap {
			return domain.Session{}, store.ErrConflict
		}
		return domain.Session{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Session{}, err
	}
	if affected == 0 {
		return domain.Session{}, store.ErrNotFound
	}
	return m, nil
}

func (q queries) ListSessions(ctx context.Context, f store.SessionFilter) ([]domain.Session, error) {
	var rows []domain.Session
	sq := q.db.NewSelect().Model(&rows)
	if f.TutorID != "" {
		sq = sq.Where("tutor_id = ?", f.TutorID)
	}
	if f.StudentID != "" {
		sq = sq.Where("student_id = ?", f.StudentID)
	}
	if f.Status != "" {
		sq = sq.Where("status = ?", f.Status)
	}
	if !f.Date.IsZero() {
		sq = sq.Where("date = ?", f.Date)
	}
	if !f.OnOrAfter.IsZero() {
		sq = sq.Where("date >= ?", f.OnOrAfter)
	}
	if f.Subject != "" {
		sq = sq.Where("subject ILIKE ?", "%"+escapeLike(f.Subject)+"%")
	}
	err := sq.OrderExpr("date ASC, start_minute ASC, tutor_id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
