package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/store"
)

func TestPostgresIntegration_RulesSessionsOverlapAndSweep(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("TUTORING_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("TUTORING_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "tutoring_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		q := tutorTx{queries{db: tx}}
		tutorID := "t1"
		monday := domain.MustDate("2026-01-05")

		_, err := q.CreateRule(ctx, domain.AvailabilityRule{
			TutorID:    tutorID,
			Recurrence: domain.Recurring{Weekday: time.Monday},
			Window:     domain.ClockRange{Start: domain.MustClockTime("09:00"), End: domain.MustClockTime("17:00")},
			Enabled:    true,
		})
		if err != nil {
			return err
		}
		if _, err := q.CreateRule(ctx, domain.AvailabilityRule{
			TutorID:    tutorID,
			Recurrence: domain.Specific{Date: domain.MustDate("2026-01-07")},
			Window:     domain.ClockRange{Start: domain.MustClockTime("18:00"), End: domain.MustClockTime("19:00")},
			Enabled:    true,
		}); err != nil {
			return err
		}

		ok, err := q.IsAvailable(ctx, tutorID, domain.TimeWindow{Date: monday, Start: domain.MustClockTime("10:00"), End: domain.MustClockTime("11:30")})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("monday 10:00-11:30 not available")
		}
		ok, err = q.IsAvailable(ctx, tutorID, domain.TimeWindow{Date: domain.MustDate("2026-01-07"), Start: domain.MustClockTime("10:00"), End: domain.MustClockTime("11:00")})
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("wednesday morning reported available")
		}

		rules, err := q.ListRules(ctx, tutorID)
		if err != nil {
			return err
		}
		if len(rules) != 2 {
			return fmt.Errorf("len(rules) = %d, want 2", len(rules))
		}

		s1, err := q.CreateSession(ctx, domain.Session{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000901"),
			TutorID:   tutorID,
			Subject:   "math",
			Date:      monday,
			StartTime: domain.MustClockTime("10:00"),
			EndTime:   domain.MustClockTime("11:30"),
			Status:    domain.SessionStatusAvailable,
		})
		if err != nil {
			return err
		}

		err = tx.RunInTx(ctx, nil, func(ctx context.Context, sp bun.Tx) error {
			_, err := tutorTx{queries{db: sp}}.CreateSession(ctx, domain.Session{
				TutorID:   tutorID,
				Subject:   "math",
				Date:      monday,
				StartTime: domain.MustClockTime("11:00"),
				EndTime:   domain.MustClockTime("12:00"),
				Status:    domain.SessionStatusAvailable,
			})
			return err
		})
		if err != store.ErrConflict {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		if _, err := q.CreateSession(ctx, domain.Session{
			TutorID:   tutorID,
			Subject:   "math",
			Date:      monday,
			StartTime: domain.MustClockTime("11:30"),
			EndTime:   domain.MustClockTime("12:30"),
			Status:    domain.SessionStatusAvailable,
		}); err != nil {
			return fmt.Errorf("back-to-back create: %w", err)
		}

		got, found, err := q.FindConflicting(ctx, tutorID, domain.TimeWindow{Date: monday, Start: domain.MustClockTime("09:30"), End: domain.MustClockTime("10:30")}, uuid.Nil)
		if err != nil {
			return err
		}
		if !found || got.ID != s1.ID {
			return fmt.Errorf("FindConflicting = %s, %v; want %s", got.ID, found, s1.ID)
		}
		_, found, err = q.FindConflicting(ctx, tutorID, s1.Window(), s1.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("excluded session reported as conflict")
		}

		booked, err := store.TransitionSession(ctx, q, s1.ID, domain.Requester{ID: "s1", Role: domain.RoleStudent}, domain.SessionStatusBooked)
		if err != nil {
			return err
		}
		if booked.Student() != "s1" {
			return fmt.Errorf("student = %q, want s1", booked.Student())
		}

		byStudent, err := q.ListSessions(ctx, store.SessionFilter{StudentID: "s1"})
		if err != nil {
			return err
		}
		if len(byStudent) != 1 || byStudent[0].ID != s1.ID {
			return fmt.Errorf("ListSessions(student) = %d rows, want %s", len(byStudent), s1.ID)
		}

		asOf := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
		n, err := q.sweepExpired(ctx, asOf, time.UTC)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("swept = %d, want 1", n)
		}
		n, err = q.sweepExpired(ctx, asOf, time.UTC)
		if err != nil {
			return err
		}
		if n != 0 {
			return fmt.Errorf("second sweep = %d, want 0", n)
		}

		expired, err := q.GetSession(ctx, s1.ID)
		if err != nil {
			return err
		}
		if expired.Status != domain.SessionStatusExpired || expired.StudentID != nil {
			return fmt.Errorf("swept session = %s student %v, want expired without student", expired.Status, expired.StudentID)
		}

		// The freed window accepts a new proposal.
		if _, err := q.CreateSession(ctx, domain.Session{
			TutorID:   tutorID,
			Subject:   "math",
			Date:      monday,
			StartTime: domain.MustClockTime("10:00"),
			EndTime:   domain.MustClockTime("11:30"),
			Status:    domain.SessionStatusAvailable,
		}); err != nil {
			return fmt.Errorf("create over expired window: %w", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

// applyMigrations runs the embedded up migrations statement by statement so
// they land in the transaction's search_path.
func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	return nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

// normalizeExtensionStatement pins btree_gist to public so a throwaway schema
// can be dropped without taking the extension with it.
func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
