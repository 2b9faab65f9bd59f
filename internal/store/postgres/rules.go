package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/kolevas/tutoring-app/internal/domain"
)

// ruleRow is the column layout of availability_rules. Exactly one of
// Weekday and SpecificDate is set, mirroring domain.Recurrence.
type ruleRow struct {
	bun.BaseModel `bun:"table:availability_rules"`

	ID           uuid.UUID        `bun:"id,pk,type:uuid"`
	TutorID      string           `bun:"tutor_id,notnull"`
	Weekday      *int16           `bun:"weekday"`
	SpecificDate *domain.Date     `bun:"specific_date,type:date"`
	StartMinute  domain.ClockTime `bun:"start_minute,notnull"`
	EndMinute    domain.ClockTime `bun:"end_minute,notnull"`
	Timezone     string           `bun:"timezone,notnull"`
	Enabled      bool             `bun:"enabled,notnull"`
	CreatedAt    time.Time        `bun:"created_at,notnull"`
	UpdatedAt    time.Time        `bun:"updated_at,notnull"`
}

func (r *ruleRow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func newRuleRow(rule domain.AvailabilityRule) ruleRow {
	row := ruleRow{
		ID:          rule.ID,
		TutorID:     rule.TutorID,
		StartMinute: rule.Window.Start,
		EndMinute:   rule.Window.End,
		Timezone:    rule.Timezone,
		Enabled:     rule.Enabled,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}
	if row.Timezone == "" {
		row.Timezone = domain.DefaultTimezone
	}
	switch rec := rule.Recurrence.(type) {
	case domain.Recurring:
		wd := int16(rec.Weekday)
		row.Weekday = &wd
	case domain.Specific:
		d := rec.Date
		row.SpecificDate = &d
	}
	return row
}

func (r ruleRow) toDomain() domain.AvailabilityRule {
	rule := domain.AvailabilityRule{
		ID:        r.ID,
		TutorID:   r.TutorID,
		Window:    domain.ClockRange{Start: r.StartMinute, End: r.EndMinute},
		Timezone:  r.Timezone,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	switch {
	case r.Weekday != nil:
		rule.Recurrence = domain.Recurring{Weekday: time.Weekday(*r.Weekday)}
	case r.SpecificDate != nil:
		rule.Recurrence = domain.Specific{Date: *r.SpecificDate}
	}
	return rule
}
