package postgres

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kolevas/tutoring-app/internal/domain"
)

func TestWallClock(t *testing.T) {
	asOf := time.Date(2026, 1, 5, 22, 30, 0, 0, time.UTC)

	t.Run("utc keeps the clock", func(t *testing.T) {
		got := wallClock(asOf, time.UTC)
		if !got.Equal(asOf) {
			t.Fatalf("wallClock = %v, want %v", got, asOf)
		}
	})

	t.Run("nil location means utc", func(t *testing.T) {
		got := wallClock(asOf, nil)
		if !got.Equal(asOf) {
			t.Fatalf("wallClock = %v, want %v", got, asOf)
		}
	})

	t.Run("east of utc rolls the date", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*60*60)
		got := wallClock(asOf, loc)
		want := time.Date(2026, 1, 6, 1, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("wallClock = %v, want %v", got, want)
		}
		if got.Location() != time.UTC {
			t.Fatalf("location = %v, want UTC", got.Location())
		}
	})
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "math", want: "math"},
		{in: "100%", want: `100\%`},
		{in: "a_b", want: `a\_b`},
		{in: `c:\x`, want: `c:\\x`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Fatalf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRuleRowMapping(t *testing.T) {
	t.Run("recurring rule sets weekday only", func(t *testing.T) {
		rule := domain.AvailabilityRule{
			ID:         uuid.MustParse("00000000-0000-0000-0000-000000000401"),
			TutorID:    "t1",
			Recurrence: domain.Recurring{Weekday: time.Sunday},
			Window:     domain.ClockRange{Start: domain.MustClockTime("09:00"), End: domain.MustClockTime("12:00")},
			Enabled:    true,
		}
		row := newRuleRow(rule)
		if row.Weekday == nil || *row.Weekday != 0 {
			t.Fatalf("weekday = %v, want 0", row.Weekday)
		}
		if row.SpecificDate != nil {
			t.Fatalf("specific_date = %v, want nil", row.SpecificDate)
		}
		if row.Timezone != domain.DefaultTimezone {
			t.Fatalf("timezone = %q, want %q", row.Timezone, domain.DefaultTimezone)
		}
		back := row.toDomain()
		if !back.SameSlot(rule) || !back.Enabled {
			t.Fatalf("toDomain = %+v, want slot of %+v", back, rule)
		}
	})

	t.Run("specific rule sets date only", func(t *testing.T) {
		d := domain.MustDate("2026-01-07")
		row := newRuleRow(domain.AvailabilityRule{
			TutorID:    "t1",
			Recurrence: domain.Specific{Date: d},
			Window:     domain.ClockRange{Start: domain.MustClockTime("09:00"), End: domain.MustClockTime("12:00")},
			Timezone:   "Europe/Skopje",
		})
		if row.Weekday != nil {
			t.Fatalf("weekday = %v, want nil", *row.Weekday)
		}
		if row.SpecificDate == nil || *row.SpecificDate != d {
			t.Fatalf("specific_date = %v, want %v", row.SpecificDate, d)
		}
		if got := row.toDomain().Recurrence; got != (domain.Specific{Date: d}) {
			t.Fatalf("recurrence = %v, want %v", got, domain.Specific{Date: d})
		}
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	if err != nil {
		t.Fatalf("Glob error: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no embedded migrations")
	}

	b, err := fs.ReadFile(migrations, names[0])
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	up, err := extractGooseUp(string(b))
	if err != nil {
		t.Fatalf("extractGooseUp error: %v", err)
	}
	if strings.Contains(up, "DROP TABLE") {
		t.Fatalf("up section contains down statements")
	}
	if !strings.Contains(up, sessionsNoOverlap) {
		t.Fatalf("up section does not declare %s", sessionsNoOverlap)
	}

	var extension string
	for _, stmt := range splitSQLStatements(up) {
		if normalized, ok := normalizeExtensionStatement(stmt); ok {
			extension = normalized
		}
	}
	if !strings.HasSuffix(extension, "SCHEMA public") {
		t.Fatalf("extension statement = %q, want pinned to public", extension)
	}
}
