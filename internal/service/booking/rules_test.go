package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kolevas/tutoring-app/internal/domain"
)

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func TestAddRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		by      domain.Requester
		in      RuleInput
		wantErr error
		wantVal bool
	}{
		{name: "weekly", by: tutor, in: RuleInput{Weekday: intPtr(1), StartTime: "09:00", EndTime: "12:00"}},
		{name: "specific date", by: tutor, in: RuleInput{SpecificDate: "2026-01-10", StartTime: "09:00", EndTime: "12:00", Timezone: "UTC"}},
		{name: "both recurrences", by: tutor, in: RuleInput{Weekday: intPtr(1), SpecificDate: "2026-01-10", StartTime: "09:00", EndTime: "10:00"}, wantErr: domain.ErrInvalidRule},
		{name: "no recurrence", by: tutor, in: RuleInput{StartTime: "09:00", EndTime: "10:00"}, wantErr: domain.ErrInvalidRule},
		{name: "weekday out of range", by: tutor, in: RuleInput{Weekday: intPtr(7), StartTime: "09:00", EndTime: "10:00"}, wantVal: true},
		{name: "inverted window", by: tutor, in: RuleInput{Weekday: intPtr(2), StartTime: "10:00", EndTime: "09:00"}, wantVal: true},
		{name: "bad timezone", by: tutor, in: RuleInput{Weekday: intPtr(2), StartTime: "09:00", EndTime: "10:00", Timezone: "Mars/Base"}, wantVal: true},
		{name: "other tutor", by: domain.Requester{ID: "tutor-2", Role: domain.RoleTutor}, in: RuleInput{TutorID: tutorID, Weekday: intPtr(2), StartTime: "09:00", EndTime: "10:00"}, wantErr: domain.ErrUnauthorized},
		{name: "admin is not the owner", by: admin, in: RuleInput{TutorID: tutorID, Weekday: intPtr(2), StartTime: "09:00", EndTime: "10:00"}, wantErr: domain.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.AddRule(ctx, tt.by, tt.in)
			switch {
			case tt.wantVal:
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("err = %v, want *ValidationError", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("AddRule error: %v", err)
				}
				if got.ID == uuid.Nil || !got.Enabled || got.TutorID != tutorID {
					t.Fatalf("rule = %+v, want enabled rule with id for %s", got, tutorID)
				}
			}
		})
	}
}

func TestAddRule_DefaultsTimezoneAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.mondayRule(t, "09:00", "17:00")
	if r.Timezone != domain.DefaultTimezone {
		t.Fatalf("timezone = %q, want %q", r.Timezone, domain.DefaultTimezone)
	}

	_, err := f.engine.AddRule(ctx, tutor, RuleInput{Weekday: intPtr(int(time.Monday)), StartTime: "09:00", EndTime: "17:00"})
	if err != ErrDuplicateRule {
		t.Fatalf("duplicate err = %v, want %v", err, ErrDuplicateRule)
	}

	// A different window on the same day is allowed, overlap included.
	if _, err := f.engine.AddRule(ctx, tutor, RuleInput{Weekday: intPtr(int(time.Monday)), StartTime: "16:00", EndTime: "19:00"}); err != nil {
		t.Fatalf("overlapping rule error: %v", err)
	}

	// Disabling the first rule frees its slot for a fresh one.
	if _, err := f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("disable error: %v", err)
	}
	if _, err := f.engine.AddRule(ctx, tutor, RuleInput{Weekday: intPtr(int(time.Monday)), StartTime: "09:00", EndTime: "17:00"}); err != nil {
		t.Fatalf("re-add after disable error: %v", err)
	}
}

func TestUpdateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.mondayRule(t, "09:00", "12:00")

	got, err := f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{EndTime: strPtr("13:00")})
	if err != nil {
		t.Fatalf("UpdateRule error: %v", err)
	}
	if got.Window.End != domain.MustClockTime("13:00") || got.Window.Start != domain.MustClockTime("09:00") {
		t.Fatalf("window = %v, want 09:00-13:00", got.Window)
	}

	got, err = f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{SpecificDate: strPtr("2026-01-07")})
	if err != nil {
		t.Fatalf("switch to specific error: %v", err)
	}
	if _, ok := got.Recurrence.(domain.Specific); !ok {
		t.Fatalf("recurrence = %T, want domain.Specific", got.Recurrence)
	}

	_, err = f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{Weekday: intPtr(1), SpecificDate: strPtr("2026-01-07")})
	if !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("both recurrences err = %v, want %v", err, domain.ErrInvalidRule)
	}

	_, err = f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{StartTime: strPtr("14:00")})
	if !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("inverted window err = %v, want %v", err, domain.ErrInvalidRule)
	}

	if _, err := f.engine.UpdateRule(ctx, student, r.ID, RulePatchInput{Enabled: boolPtr(false)}); err != domain.ErrUnauthorized {
		t.Fatalf("student update err = %v, want %v", err, domain.ErrUnauthorized)
	}

	missing := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	if _, err := f.engine.UpdateRule(ctx, tutor, missing, RulePatchInput{Enabled: boolPtr(false)}); err == nil {
		t.Fatalf("expected error for missing rule")
	}
}

func TestUpdateRule_DoesNotTouchExistingSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.mondayRule(t, "09:00", "17:00")
	s, err := f.propose("10:00", "11:00")
	if err != nil {
		t.Fatalf("propose error: %v", err)
	}

	if _, err := f.engine.UpdateRule(ctx, tutor, r.ID, RulePatchInput{StartTime: strPtr("13:00")}); err != nil {
		t.Fatalf("UpdateRule error: %v", err)
	}
	got, err := f.engine.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.Status != domain.SessionStatusAvailable {
		t.Fatalf("status = %s, want available", got.Status)
	}

	// New proposals follow the narrowed rule.
	if _, err := f.propose("11:00", "12:00"); err != ErrNotAvailable {
		t.Fatalf("propose outside narrowed rule err = %v, want %v", err, ErrNotAvailable)
	}
}

func TestRemoveRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.mondayRule(t, "09:00", "17:00")
	s, err := f.propose("10:00", "11:00")
	if err != nil {
		t.Fatalf("propose error: %v", err)
	}

	other := domain.Requester{ID: "tutor-2", Role: domain.RoleTutor}
	if err := f.engine.RemoveRule(ctx, other, r.ID); err != domain.ErrUnauthorized {
		t.Fatalf("other tutor remove err = %v, want %v", err, domain.ErrUnauthorized)
	}

	if err := f.engine.RemoveRule(ctx, tutor, r.ID); err != nil {
		t.Fatalf("RemoveRule error: %v", err)
	}
	rules, err := f.engine.ListRules(ctx, tutorID)
	if err != nil {
		t.Fatalf("ListRules error: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("rules = %d, want 0", len(rules))
	}

	// Sessions proposed under the removed rule can still be booked.
	if _, err := f.engine.BookSession(ctx, student, s.ID); err != nil {
		t.Fatalf("BookSession error: %v", err)
	}
	if _, err := f.propose("12:00", "13:00"); err != ErrNotAvailable {
		t.Fatalf("propose without rules err = %v, want %v", err, ErrNotAvailable)
	}
}

func TestListRules_Order(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add := func(in RuleInput) {
		t.Helper()
		if _, err := f.engine.AddRule(ctx, tutor, in); err != nil {
			t.Fatalf("AddRule error: %v", err)
		}
	}
	add(RuleInput{SpecificDate: "2026-01-10", StartTime: "09:00", EndTime: "10:00"})
	add(RuleInput{Weekday: intPtr(3), StartTime: "14:00", EndTime: "15:00"})
	add(RuleInput{Weekday: intPtr(1), StartTime: "09:00", EndTime: "10:00"})
	add(RuleInput{Weekday: intPtr(3), StartTime: "08:00", EndTime: "09:00"})

	rules, err := f.engine.ListRules(ctx, tutorID)
	if err != nil {
		t.Fatalf("ListRules error: %v", err)
	}
	want := []string{"weekly:Monday 09:00-10:00", "weekly:Wednesday 08:00-09:00", "weekly:Wednesday 14:00-15:00", "date:2026-01-10 09:00-10:00"}
	if len(rules) != len(want) {
		t.Fatalf("len(rules) = %d, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		got := fmt.Sprint(r.Recurrence) + " " + r.Window.String()
		if got != want[i] {
			t.Fatalf("rules[%d] = %q, want %q", i, got, want[i])
		}
	}

	if _, err := f.engine.ListRules(ctx, " "); err == nil {
		t.Fatalf("expected validation error for empty tutor")
	}
}

func TestRulesForDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayRule(t, "09:00", "10:00")
	f.mondayRule(t, "10:00", "11:00")
	f.mondayRule(t, "14:00", "17:00")
	disabled, err := f.engine.AddRule(ctx, tutor, RuleInput{Weekday: intPtr(1), StartTime: "18:00", EndTime: "19:00", Enabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("AddRule error: %v", err)
	}

	// Exact match on 09:00-10:00 hides that rule; a partial session inside
	// 14:00-17:00 does not.
	if _, err := f.propose("09:00", "10:00"); err != nil {
		t.Fatalf("propose error: %v", err)
	}
	if _, err := f.propose("15:00", "16:00"); err != nil {
		t.Fatalf("propose error: %v", err)
	}

	rules, err := f.engine.RulesForDate(ctx, tutorID, monday)
	if err != nil {
		t.Fatalf("RulesForDate error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	for _, r := range rules {
		if r.ID == disabled.ID {
			t.Fatalf("disabled rule listed")
		}
		if r.Window.Start == domain.MustClockTime("09:00") {
			t.Fatalf("taken rule 09:00-10:00 listed")
		}
	}

	rules, err = f.engine.RulesForDate(ctx, tutorID, wednesday)
	if err != nil {
		t.Fatalf("RulesForDate(wednesday) error: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("wednesday rules = %d, want 0", len(rules))
	}

	if _, err := f.engine.RulesForDate(ctx, tutorID, "2026/01/05"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRulesForDate_ExpiredSessionFreesRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayRule(t, "09:00", "10:00")
	if _, err := f.propose("09:00", "10:00"); err != nil {
		t.Fatalf("propose error: %v", err)
	}

	f.clock.Set(time.Date(2026, 1, 5, 10, 5, 0, 0, time.UTC))
	rules, err := f.engine.RulesForDate(ctx, tutorID, monday)
	if err != nil {
		t.Fatalf("RulesForDate error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len(rules) = %d, want 1", len(rules))
	}
}

func TestOpenWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayRule(t, "09:00", "12:00")
	if _, err := f.engine.AddRule(ctx, tutor, RuleInput{SpecificDate: "2026-01-07", StartTime: "18:00", EndTime: "19:00"}); err != nil {
		t.Fatalf("AddRule error: %v", err)
	}

	got, err := f.engine.OpenWindows(ctx, tutorID, "2026-01-05", "2026-01-12")
	if err != nil {
		t.Fatalf("OpenWindows error: %v", err)
	}
	want := []domain.TimeWindow{
		{Date: domain.MustDate("2026-01-05"), Start: domain.MustClockTime("09:00"), End: domain.MustClockTime("12:00")},
		{Date: domain.MustDate("2026-01-07"), Start: domain.MustClockTime("18:00"), End: domain.MustClockTime("19:00")},
		{Date: domain.MustDate("2026-01-12"), Start: domain.MustClockTime("09:00"), End: domain.MustClockTime("12:00")},
	}
	if len(got) != len(want) {
		t.Fatalf("len(windows) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("windows[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	tests := []struct {
		name     string
		from, to string
	}{
		{name: "reversed", from: "2026-01-12", to: "2026-01-05"},
		{name: "too long", from: "2026-01-01", to: "2026-03-05"},
		{name: "bad from", from: "x", to: "2026-01-05"},
		{name: "bad to", from: "2026-01-05", to: "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vErr *ValidationError
			if _, err := f.engine.OpenWindows(ctx, tutorID, tt.from, tt.to); !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}

	if _, err := f.engine.OpenWindows(ctx, tutorID, "2026-01-01", "2026-03-03"); err != nil {
		t.Fatalf("62-day range error: %v", err)
	}
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t, "09:00", "17:00")
	s, err := f.propose("10:00", "11:00")
	if err != nil {
		t.Fatalf("propose error: %v", err)
	}
	f.clock.Set(time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Sweeper().Run(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		got, err := f.store.GetSession(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("GetSession error: %v", err)
		}
		if got.Status == domain.SessionStatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session was not swept by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
