package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/store"
)

// MaxOpenWindowDays bounds the range OpenWindows expands.
const MaxOpenWindowDays = 62

type RuleInput struct {
	// TutorID defaults to the requester.
	TutorID string
	// Exactly one of Weekday (0=Sunday) and SpecificDate must be set.
	Weekday      *int
	SpecificDate string
	StartTime    string
	EndTime      string
	Timezone     string
	// Enabled defaults to true.
	Enabled *bool
}

func (e *Engine) AddRule(ctx context.Context, by domain.Requester, in RuleInput) (domain.AvailabilityRule, error) {
	tutorID := strings.TrimSpace(in.TutorID)
	if tutorID == "" {
		tutorID = by.ID
	}
	if tutorID == "" {
		return domain.AvailabilityRule{}, validationError("tutor_id is required")
	}
	if by.ID != tutorID {
		return domain.AvailabilityRule{}, domain.ErrUnauthorized
	}

	rec, err := parseRecurrence(in.Weekday, in.SpecificDate)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	window, err := parseClockRange(in.StartTime, in.EndTime)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	tz, err := parseTimezone(in.Timezone)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}

	rule := domain.AvailabilityRule{
		TutorID:    tutorID,
		Recurrence: rec,
		Window:     window,
		Timezone:   tz,
		Enabled:    true,
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	if err := rule.Validate(); err != nil {
		return domain.AvailabilityRule{}, err
	}

	var out domain.AvailabilityRule
	err = e.store.InTutorTransaction(ctx, tutorID, func(ctx context.Context, tx store.TutorTx) error {
		existing, err := tx.ListRules(ctx, tutorID)
		if err != nil {
			return err
		}
		if duplicateOf(existing, rule) {
			return ErrDuplicateRule
		}
		out, err = tx.CreateRule(ctx, rule)
		return err
	})
	if err != nil {
		return domain.AvailabilityRule{}, err
	}

	e.log.Debug("availability rule added", slog.String("rule_id", out.ID.String()), slog.String("tutor_id", tutorID))
	return out, nil
}

type RulePatchInput struct {
	Weekday      *int
	SpecificDate *string
	StartTime    *string
	EndTime      *string
	Timezone     *string
	Enabled      *bool
}

func (e *Engine) UpdateRule(ctx context.Context, by domain.Requester, ruleID uuid.UUID, in RulePatchInput) (domain.AvailabilityRule, error) {
	if ruleID == uuid.Nil {
		return domain.AvailabilityRule{}, validationError("rule_id is required")
	}
	patch, err := buildPatch(in)
	if err != nil {
		return domain.AvailabilityRule{}, err
	}

	var out domain.AvailabilityRule
	err = e.mutateRule(ctx, by, ruleID, func(ctx context.Context, tx store.TutorTx, rule domain.AvailabilityRule) error {
		next, err := patch.Apply(rule)
		if err != nil {
			return err
		}
		siblings, err := tx.ListRules(ctx, rule.TutorID)
		if err != nil {
			return err
		}
		if duplicateOf(siblings, next) {
			return ErrDuplicateRule
		}
		out, err = tx.UpdateRule(ctx, next)
		return err
	})
	if err != nil {
		return domain.AvailabilityRule{}, err
	}
	return out, nil
}

// RemoveRule deletes a rule. Sessions it once permitted are left untouched.
func (e *Engine) RemoveRule(ctx context.Context, by domain.Requester, ruleID uuid.UUID) error {
	if ruleID == uuid.Nil {
		return validationError("rule_id is required")
	}
	return e.mutateRule(ctx, by, ruleID, func(ctx context.Context, tx store.TutorTx, rule domain.AvailabilityRule) error {
		return tx.DeleteRule(ctx, rule.ID)
	})
}

// mutateRule enforces rule ownership and re-reads the rule under the owning
// tutor's lock.
func (e *Engine) mutateRule(ctx context.Context, by domain.Requester, ruleID uuid.UUID, fn func(ctx context.Context, tx store.TutorTx, rule domain.AvailabilityRule) error) error {
	current, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if by.ID == "" || by.ID != current.TutorID {
		return domain.ErrUnauthorized
	}
	return e.store.InTutorTransaction(ctx, current.TutorID, func(ctx context.Context, tx store.TutorTx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, rule)
	})
}

func (e *Engine) ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, validationError("tutor_id is required")
	}
	return e.store.ListRules(ctx, tutorID)
}

// RulesForDate lists the enabled rules that apply to date, leaving out rules
// whose exact window is already taken by an active session that day.
func (e *Engine) RulesForDate(ctx context.Context, tutorID, date string) ([]domain.AvailabilityRule, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, validationError("tutor_id is required")
	}
	d, err := domain.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return nil, validationError("date must be YYYY-MM-DD")
	}

	if _, err := e.SweepExpired(ctx); err != nil {
		return nil, err
	}

	rules, err := e.store.ListRules(ctx, tutorID)
	if err != nil {
		return nil, err
	}
	sessions, err := e.store.ListSessions(ctx, store.SessionFilter{TutorID: tutorID, Date: d})
	if err != nil {
		return nil, err
	}

	taken := make(map[domain.ClockRange]struct{}, len(sessions))
	for _, s := range sessions {
		if s.Status.Active() {
			taken[s.Window().Range()] = struct{}{}
		}
	}

	out := make([]domain.AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled || !r.Recurrence.AppliesTo(d) {
			continue
		}
		if _, ok := taken[r.Window]; ok {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// OpenWindows expands the tutor's enabled rules over [from, to].
func (e *Engine) OpenWindows(ctx context.Context, tutorID, from, to string) ([]domain.TimeWindow, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, validationError("tutor_id is required")
	}
	start, err := domain.ParseDate(strings.TrimSpace(from))
	if err != nil {
		return nil, validationError("from must be YYYY-MM-DD")
	}
	end, err := domain.ParseDate(strings.TrimSpace(to))
	if err != nil {
		return nil, validationError("to must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, validationError("to must not be before from")
	}
	if start.AddDays(MaxOpenWindowDays - 1).Before(end) {
		return nil, validationError(fmt.Sprintf("range must not exceed %d days", MaxOpenWindowDays))
	}

	rules, err := e.store.ListRules(ctx, tutorID)
	if err != nil {
		return nil, err
	}
	return domain.ExpandRules(rules, start, end), nil
}

func duplicateOf(existing []domain.AvailabilityRule, rule domain.AvailabilityRule) bool {
	for _, r := range existing {
		if r.ID != rule.ID && r.Enabled && r.SameSlot(rule) {
			return true
		}
	}
	return false
}

func parseRecurrence(weekday *int, specificDate string) (domain.Recurrence, error) {
	specificDate = strings.TrimSpace(specificDate)
	switch {
	case weekday != nil && specificDate != "":
		return nil, fmt.Errorf("%w: weekday and specific date are mutually exclusive", domain.ErrInvalidRule)
	case weekday != nil:
		wd, err := parseWeekday(*weekday)
		if err != nil {
			return nil, err
		}
		return domain.Recurring{Weekday: wd}, nil
	case specificDate != "":
		d, err := domain.ParseDate(specificDate)
		if err != nil {
			return nil, validationError("specific_date must be YYYY-MM-DD")
		}
		return domain.Specific{Date: d}, nil
	default:
		return nil, fmt.Errorf("%w: weekday or specific date is required", domain.ErrInvalidRule)
	}
}

func parseWeekday(v int) (time.Weekday, error) {
	if v < int(time.Sunday) || v > int(time.Saturday) {
		return 0, validationError("weekday must be between 0 (Sunday) and 6 (Saturday)")
	}
	return time.Weekday(v), nil
}

func parseTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return domain.DefaultTimezone, nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", validationError("invalid timezone")
	}
	return tz, nil
}

func buildPatch(in RulePatchInput) (domain.RulePatch, error) {
	var p domain.RulePatch
	if in.Weekday != nil {
		wd, err := parseWeekday(*in.Weekday)
		if err != nil {
			return p, err
		}
		p.Weekday = &wd
	}
	if in.SpecificDate != nil {
		d, err := domain.ParseDate(strings.TrimSpace(*in.SpecificDate))
		if err != nil {
			return p, validationError("specific_date must be YYYY-MM-DD")
		}
		p.SpecificDate = &d
	}
	if in.StartTime != nil {
		c, err := domain.ParseClockTime(strings.TrimSpace(*in.StartTime))
		if err != nil {
			return p, validationError("start_time must be HH:MM")
		}
		p.Start = &c
	}
	if in.EndTime != nil {
		c, err := domain.ParseClockTime(strings.TrimSpace(*in.EndTime))
		if err != nil {
			return p, validationError("end_time must be HH:MM")
		}
		p.End = &c
	}
	if in.Timezone != nil {
		tz, err := parseTimezone(*in.Timezone)
		if err != nil {
			return p, err
		}
		p.Timezone = &tz
	}
	p.Enabled = in.Enabled
	return p, nil
}
