package payroll

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - A calendar month, the key of every computed and historical record
// =============================================================================

// Period is a payroll month. The zero value means "no period".
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod reads the "2006-01" form produced by String.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalText encodes the period as "2006-01", empty for the zero value.
func (p Period) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Start is midnight UTC on the first day of the month.
func (p Period) Start() time.Time { return StartOfMonth(p.Year, p.Month) }

// End is midnight UTC on the last day of the month.
func (p Period) End() time.Time { return EndOfMonth(p.Year, p.Month) }

// Contains returns true if t falls on a day of the period.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

// Days returns every day of the period.
func (p Period) Days() []time.Time {
	var days []time.Time
	for d := p.Start(); !d.After(p.End()); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (p Period) DayCount() int { return p.End().Day() }

func (p Period) AddMonths(n int) Period {
	return PeriodOf(p.Start().AddDate(0, n, 0))
}

func (p Period) Next() Period     { return p.AddMonths(1) }
func (p Period) Previous() Period { return p.AddMonths(-1) }

func (p Period) index() int { return p.Year*12 + int(p.Month) - 1 }

func (p Period) Before(o Period) bool { return p.index() < o.index() }
func (p Period) After(o Period) bool  { return p.index() > o.index() }

// MonthsBetween counts whole months from p to o (negative if o is earlier).
func MonthsBetween(p, o Period) int { return o.index() - p.index() }
