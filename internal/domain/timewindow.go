package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const dateLayout = "2006-01-02"

var clockPattern = regexp.MustCompile(`^([0-1][0-9]|2[0-3]):[0-5][0-9]$`)

// ClockTime is a minute-precision time of day, stored as minutes since midnight.
type ClockTime int16

func NewClockTime(hour, minute int) (ClockTime, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock time %02d:%02d", hour, minute)
	}
	return ClockTime(hour*60 + minute), nil
}

// ParseClockTime accepts zero-padded 24-hour "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	return ClockTime(hour*60 + minute), nil
}

func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) valid() bool {
	return c >= 0 && c < 24*60
}

// Date is a calendar date with no time of day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Weekday uses the 0=Sunday..6=Saturday ordering.
func (d Date) Weekday() time.Weekday {
	return d.midnight(time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.midnight(time.UTC).Before(o.midnight(time.UTC))
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

// At combines the date with a clock time in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}

func (d Date) midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.parseInto(v)
	case []byte:
		return d.parseInto(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) parseInto(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	return d.parseInto(string(b))
}

var ErrInvalidWindow = errors.New("start time must be before end time")

// ClockRange is a half-open [Start, End) interval of clock times within one day.
type ClockRange struct {
	Start ClockTime
	End   ClockTime
}

func NewClockRange(start, end ClockTime) (ClockRange, error) {
	if !start.valid() || !end.valid() || start >= end {
		return ClockRange{}, ErrInvalidWindow
	}
	return ClockRange{Start: start, End: end}, nil
}

func ParseClockRange(start, end string) (ClockRange, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return ClockRange{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return ClockRange{}, err
	}
	return NewClockRange(s, e)
}

func (r ClockRange) Valid() bool {
	return r.Start.valid() && r.End.valid() && r.Start < r.End
}

func (r ClockRange) Minutes() int {
	return int(r.End - r.Start)
}

func (r ClockRange) On(d Date) TimeWindow {
	return TimeWindow{Date: d, Start: r.Start, End: r.End}
}

func (r ClockRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// TimeWindow is a ClockRange bound to a calendar date. Comparisons never
// convert zones; callers normalise both sides to the same reference zone.
type TimeWindow struct {
	Date  Date
	Start ClockTime
	End   ClockTime
}

func NewTimeWindow(d Date, start, end ClockTime) (TimeWindow, error) {
	r, err := NewClockRange(start, end)
	if err != nil {
		return TimeWindow{}, err
	}
	return r.On(d), nil
}

func (w TimeWindow) Range() ClockRange {
	return ClockRange{Start: w.Start, End: w.End}
}

// Overlaps reports whether a and b share a date and intersect as half-open
// intervals. Touching endpoints do not overlap.
func Overlaps(a, b TimeWindow) bool {
	return a.Date == b.Date && a.Start < b.End && b.Start < a.End
}

// Contains reports whether inner fits entirely inside outer on the same date.
func Contains(outer, inner TimeWindow) bool {
	return outer.Date == inner.Date && outer.Start <= inner.Start && outer.End >= inner.End
}
