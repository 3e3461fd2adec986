package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Civil date in Europe/Paris
// =============================================================================

// Day is a civil date. Contract events and meter readings are dated at
// day resolution in the distributor's timezone (Europe/Paris); Day keeps
// the date as a UTC midnight internally so day arithmetic is exact and
// unaffected by DST transitions.
type Day struct {
	t time.Time
}

var paris = mustLoadParis()

func mustLoadParis() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		panic(fmt.Sprintf("billing: load Europe/Paris: %v", err))
	}
	return loc
}

// Constructors
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the civil date of an instant, as observed in Europe/Paris.
func DayOf(t time.Time) Day {
	local := t.In(paris)
	return NewDay(local.Year(), local.Month(), local.Day())
}

func Today() Day { return DayOf(time.Now()) }

// ParseDay parses a "YYYY-MM-DD" date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return NewDay(t.Year(), t.Month(), t.Day()), nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }
func (d Day) IsZero() bool                 { return d.t.IsZero() }

// Compare returns -1, 0 or +1 ordering d against other.
func (d Day) Compare(other Day) int { return d.t.Compare(other.t) }

// Arithmetic
func (d Day) AddDays(n int) Day   { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) AddMonths(n int) Day { return Day{t: d.t.AddDate(0, n, 0)} }

// DaysUntil returns the number of calendar days from d to other.
// Both ends are UTC midnights, so the difference is an exact multiple of 24h.
func (d Day) DaysUntil(other Day) int { return int(other.t.Sub(d.t).Hours() / 24) }

// Properties
func (d Day) Year() int         { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) DayOfMonth() int   { return d.t.Day() }

func (d Day) StartOfMonth() Day { return NewDay(d.Year(), d.Month(), 1) }
func (d Day) NextMonth() Day    { return d.StartOfMonth().AddMonths(1) }

// SameMonth reports whether two days fall in the same civil month.
func (d Day) SameMonth(other Day) bool {
	return d.Year() == other.Year() && d.Month() == other.Month()
}

// Time returns the date as a Europe/Paris midnight instant, the form
// expected by external stores and APIs.
func (d Day) Time() time.Time {
	return time.Date(d.Year(), d.Month(), d.DayOfMonth(), 0, 0, 0, 0, paris)
}

func (d Day) String() string { return d.t.Format("2006-01-02") }

// =============================================================================
// MONTH KEYS AND FRENCH RENDERING
// =============================================================================

var frenchMonths = [12]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// MonthKey returns the "YYYY-MM" grouping key of the day's month.
func (d Day) MonthKey() string { return d.t.Format("2006-01") }

// MonthLabel returns the month in French, e.g. "janvier 2024".
// Billing memos are rendered in French for the back office.
func (d Day) MonthLabel() string {
	return fmt.Sprintf("%s %d", frenchMonths[int(d.Month())-1], d.Year())
}

// FormatFrench returns the full date in French, e.g. "15 janvier 2024".
func (d Day) FormatFrench() string {
	return fmt.Sprintf("%d %s %d", d.DayOfMonth(), frenchMonths[int(d.Month())-1], d.Year())
}

// DaysInMonth returns the calendar length of the month containing d.
func (d Day) DaysInMonth() int { return d.StartOfMonth().DaysUntil(d.NextMonth()) }

// ParseMonthKey parses a "YYYY-MM" key into the first day of that month.
func ParseMonthKey(s string) (Day, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Day{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return NewDay(t.Year(), t.Month(), 1), nil
}
