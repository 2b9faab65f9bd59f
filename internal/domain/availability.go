package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRule = errors.New("invalid availability rule")

const DefaultTimezone = "UTC"

// Recurrence says which dates a rule applies to. The only implementations
// are Recurring and Specific, so a rule always has exactly one of them.
type Recurrence interface {
	AppliesTo(d Date) bool
	isRecurrence()
}

// Recurring applies every week on Weekday (0=Sunday).
type Recurring struct {
	Weekday time.Weekday
}

func (r Recurring) AppliesTo(d Date) bool { return d.Weekday() == r.Weekday }
func (Recurring) isRecurrence()           {}

func (r Recurring) String() string {
	return "weekly:" + r.Weekday.String()
}

// Specific applies to one calendar date.
type Specific struct {
	Date Date
}

func (s Specific) AppliesTo(d Date) bool { return s.Date == d }
func (Specific) isRecurrence()           {}

func (s Specific) String() string {
	return "date:" + s.Date.String()
}

type AvailabilityRule struct {
	ID         uuid.UUID
	TutorID    string
	Recurrence Recurrence
	Window     ClockRange
	Timezone   string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r AvailabilityRule) Validate() error {
	if r.TutorID == "" {
		return fmt.Errorf("%w: tutor_id is required", ErrInvalidRule)
	}
	switch rec := r.Recurrence.(type) {
	case Recurring:
		if rec.Weekday < time.Sunday || rec.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday out of range", ErrInvalidRule)
		}
	case Specific:
		if rec.Date.IsZero() {
			return fmt.Errorf("%w: specific date is required", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: recurrence is required", ErrInvalidRule)
	}
	if !r.Window.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidRule, ErrInvalidWindow)
	}
	return nil
}

// Covers reports whether the rule is enabled, applies to w's date and
// contains w.
func (r AvailabilityRule) Covers(w TimeWindow) bool {
	if !r.Enabled || r.Recurrence == nil {
		return false
	}
	if !r.Recurrence.AppliesTo(w.Date) {
		return false
	}
	return Contains(r.Window.On(w.Date), w)
}

// SameSlot reports whether two rules declare the same recurrence and bounds.
func (r AvailabilityRule) SameSlot(o AvailabilityRule) bool {
	return r.TutorID == o.TutorID && r.Recurrence == o.Recurrence && r.Window == o.Window
}

// AnyCovers evaluates the union of rules: true when any single rule covers w.
func AnyCovers(rules []AvailabilityRule, w TimeWindow) bool {
	for _, r := range rules {
		if r.Covers(w) {
			return true
		}
	}
	return false
}

// RulePatch carries optional changes to a rule. Setting both Weekday and
// SpecificDate is rejected.
type RulePatch struct {
	Weekday      *time.Weekday
	SpecificDate *Date
	Start        *ClockTime
	End          *ClockTime
	Timezone     *string
	Enabled      *bool
}

func (p RulePatch) Apply(r AvailabilityRule) (AvailabilityRule, error) {
	if p.Weekday != nil && p.SpecificDate != nil {
		return AvailabilityRule{}, fmt.Errorf("%w: weekday and specific date are mutually exclusive", ErrInvalidRule)
	}
	if p.Weekday != nil {
		r.Recurrence = Recurring{Weekday: *p.Weekday}
	}
	if p.SpecificDate != nil {
		r.Recurrence = Specific{Date: *p.SpecificDate}
	}
	if p.Start != nil {
		r.Window.Start = *p.Start
	}
	if p.End != nil {
		r.Window.End = *p.End
	}
	if p.Timezone != nil {
		r.Timezone = *p.Timezone
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if err := r.Validate(); err != nil {
		return AvailabilityRule{}, err
	}
	return r, nil
}

// SortRules orders recurring rules by weekday first, then specific-date
// rules by date, each by start time.
func SortRules(rules []AvailabilityRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		ki, kj := ruleSortKey(rules[i]), ruleSortKey(rules[j])
		if ki != kj {
			return ki < kj
		}
		return rules[i].Window.Start < rules[j].Window.Start
	})
}

func ruleSortKey(r AvailabilityRule) string {
	switch rec := r.Recurrence.(type) {
	case Recurring:
		return fmt.Sprintf("0:%d", rec.Weekday)
	case Specific:
		return "1:" + rec.Date.String()
	default:
		return "2"
	}
}

// ExpandRules lists the dated windows enabled rules open between from and to
// inclusive, ordered by date then start. Overlapping rules are reported as
// separate windows.
func ExpandRules(rules []AvailabilityRule, from, to Date) []TimeWindow {
	out := make([]TimeWindow, 0, len(rules))
	for d := from; !d.After(to); d = d.AddDays(1) {
		day := make([]TimeWindow, 0, 4)
		for _, r := range rules {
			if !r.Enabled || r.Recurrence == nil || !r.Recurrence.AppliesTo(d) {
				continue
			}
			day = append(day, r.Window.On(d))
		}
		sort.Slice(day, func(i, j int) bool {
			if day[i].Start != day[j].Start {
				return day[i].Start < day[j].Start
			}
			return day[i].End < day[j].End
		})
		out = append(out, day...)
	}
	return out
}
