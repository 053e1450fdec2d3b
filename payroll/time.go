package payroll

import (
	"strings"
	"time"
)

// =============================================================================
// DATE UTILITIES
// =============================================================================

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the clock part and normalizes to UTC.
func TruncateDay(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }

func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month+1, 1).AddDate(0, 0, -1)
}

func DaysBetween(from, to time.Time) int {
	return int(TruncateDay(to).Sub(TruncateDay(from)).Hours() / 24)
}

// CompletedYears counts full anniversaries between from and to.
func CompletedYears(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	years := to.Year() - from.Year()
	anniversary := Date(to.Year(), from.Month(), from.Day())
	if TruncateDay(to).Before(anniversary) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// =============================================================================
// WEEK CONFIGURATION - Employee-defined week boundaries
// =============================================================================

// DayRole places a weekday inside the employee's working week.
type DayRole int

const (
	DayRegular DayRole = iota
	DayBegin
	DayEnd
	DayWeekend
)

func (r DayRole) String() string {
	switch r {
	case DayBegin:
		return "begin"
	case DayEnd:
		return "end"
	case DayWeekend:
		return "weekend"
	default:
		return "regular"
	}
}

func ParseDayRole(s string) DayRole {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "begin", "debut":
		return DayBegin
	case "end", "fin":
		return DayEnd
	case "weekend":
		return DayWeekend
	default:
		return DayRegular
	}
}

// WeekConfig assigns a role to each weekday. A config without a Begin day
// falls back to a Monday start.
type WeekConfig map[time.Weekday]DayRole

// DefaultWeek is Monday..Friday with a Saturday/Sunday weekend.
func DefaultWeek() WeekConfig {
	return WeekConfig{
		time.Monday:   DayBegin,
		time.Friday:   DayEnd,
		time.Saturday: DayWeekend,
		time.Sunday:   DayWeekend,
	}
}

// weekOrder is the order Begin days are looked up in.
var weekOrder = [...]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// FirstDay returns the weekday a week starts on. A config with several
// Begin days, which Validate rejects, starts on the earliest from Monday.
func (w WeekConfig) FirstDay() time.Weekday {
	for _, d := range weekOrder {
		if w[d] == DayBegin {
			return d
		}
	}
	return time.Monday
}

// Validate rejects a config with more than one Begin or End day.
func (w WeekConfig) Validate() error {
	var begins, ends []string
	for _, d := range weekOrder {
		switch w[d] {
		case DayBegin:
			begins = append(begins, d.String())
		case DayEnd:
			ends = append(ends, d.String())
		}
	}
	if len(begins) > 1 {
		return Invalid("week has several begin days: %s", strings.Join(begins, ", "))
	}
	if len(ends) > 1 {
		return Invalid("week has several end days: %s", strings.Join(ends, ", "))
	}
	return nil
}

// IsWeekend reports whether d is configured as a rest day.
func (w WeekConfig) IsWeekend(d time.Weekday) bool {
	return w[d] == DayWeekend
}

// WeekStart returns the first day of the week containing t.
func (w WeekConfig) WeekStart(t time.Time) time.Time {
	day := TruncateDay(t)
	offset := (int(day.Weekday()) - int(w.FirstDay()) + 7) % 7
	return day.AddDate(0, 0, -offset)
}
