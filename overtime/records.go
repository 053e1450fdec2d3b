/*
Package overtime aggregates worked-hour records into per-period summaries.

PURPOSE:
  Employees count hours in one of two modes, chosen on the employee:

  DAILY:  one record per calendar day with day hours (06:00-22:00) and
          night hours (22:00-06:00), holiday flags and an external-site
          flag. The engine derives the overtime tiers.
  WEEKLY: one record per employee week with the tiers entered directly.
          Tier 115 is clamped to 8 hours and tier 140 to 6 hours.

DAILY TIER RULE:
  - A day flagged holiday-200 puts all its hours in tier 200.
  - A day flagged holiday-150 puts all its hours in tier 150.
  - Other days are walked in date order inside each employee week. Hours
    beyond the weekly threshold (40 by default) are overtime: the first 8
    overtime hours of the week go to tier 115, the rest to tier 140.
  - Holiday hours do not count toward the weekly threshold.

PERIOD MEMBERSHIP:
  A daily record belongs to the period of its date. A weekly record
  belongs to the period containing the last day of its week.

MODE SWITCHES:
  Records of the inactive mode are kept but ignored, so a period recorded
  under both modes is never counted twice.

SEE ALSO:
  - functions: F14..F21 read the summary
  - payroll.WeekConfig: per-employee week boundaries
*/
package overtime

import (
	"context"
	"time"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORDS
// =============================================================================

type DailyRecord struct {
	ID         string             `json:"id"`
	Employee   payroll.EmployeeID `json:"employee_id"`
	Date       time.Time          `json:"date"`
	DayHours   decimal.Decimal    `json:"day_hours"`
	NightHours decimal.Decimal    `json:"night_hours"`
	Holiday150 bool               `json:"holiday_150"`
	Holiday200 bool               `json:"holiday_200"`
	External   bool               `json:"external_site"`
	// Meal is the manual meal allowance when the employee has no auto meal.
	Meal bool   `json:"meal"`
	Note string `json:"note,omitempty"`
}

// Total is day plus night hours.
func (r DailyRecord) Total() decimal.Decimal { return r.DayHours.Add(r.NightHours) }

type WeeklyRecord struct {
	ID         string             `json:"id"`
	Employee   payroll.EmployeeID `json:"employee_id"`
	WeekStart  time.Time          `json:"week_start"`
	DayHours   decimal.Decimal    `json:"day_hours"`
	NightHours decimal.Decimal    `json:"night_hours"`
	HS115      decimal.Decimal    `json:"hs115"`
	HS140      decimal.Decimal    `json:"hs140"`
	HS150      decimal.Decimal    `json:"hs150"`
	HS200      decimal.Decimal    `json:"hs200"`
	Meals      int                `json:"meals"`
	Remoteness int                `json:"remoteness"`
	Note       string             `json:"note,omitempty"`
}

// WeekEnd is the last day of the record's week.
func (r WeeklyRecord) WeekEnd() time.Time { return r.WeekStart.AddDate(0, 0, 6) }

var (
	// Cap115 and Cap140 bound the weekly tiers.
	Cap115 = decimal.NewFromInt(8)
	Cap140 = decimal.NewFromInt(6)

	maxDayHours   = decimal.NewFromInt(16)
	maxNightHours = decimal.NewFromInt(8)
	mealDayHours  = decimal.NewFromInt(9)
	mealNight     = decimal.NewFromInt(6)
)

// Clamp caps the weekly tiers. Values over the cap are reduced, never
// rejected.
func (r WeeklyRecord) Clamp() WeeklyRecord {
	r.HS115 = payroll.MinDecimal(r.HS115, Cap115)
	r.HS140 = payroll.MinDecimal(r.HS140, Cap140)
	return r
}

func (r DailyRecord) validate() error {
	switch {
	case r.Employee == "":
		return payroll.Invalid("daily record without employee")
	case r.Date.IsZero():
		return payroll.Invalid("daily record without date")
	case r.DayHours.IsNegative() || r.NightHours.IsNegative():
		return payroll.Invalid("negative hours on %s", r.Date.Format(time.DateOnly))
	case r.DayHours.GreaterThan(maxDayHours):
		return payroll.Invalid("day hours %s exceed the 06:00-22:00 window", r.DayHours)
	case r.NightHours.GreaterThan(maxNightHours):
		return payroll.Invalid("night hours %s exceed the 22:00-06:00 window", r.NightHours)
	case r.Holiday150 && r.Holiday200:
		return payroll.Invalid("a day is either a 150%% or a 200%% holiday")
	}
	return nil
}

func (r WeeklyRecord) validate() error {
	if r.Employee == "" {
		return payroll.Invalid("weekly record without employee")
	}
	if r.WeekStart.IsZero() {
		return payroll.Invalid("weekly record without week")
	}
	for _, d := range []decimal.Decimal{r.DayHours, r.NightHours, r.HS115, r.HS140, r.HS150, r.HS200} {
		if d.IsNegative() {
			return payroll.Invalid("negative hours in week of %s", r.WeekStart.Format(time.DateOnly))
		}
	}
	if r.Meals < 0 || r.Remoteness < 0 {
		return payroll.Invalid("negative allowance count")
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

// Store persists hour records. Saving a record for an existing
// (employee, day) or (employee, week) replaces it.
type Store interface {
	SaveDaily(ctx context.Context, r DailyRecord) error
	DeleteDaily(ctx context.Context, e payroll.EmployeeID, day time.Time) error
	// DailyRecords returns records with from <= date <= to, by date.
	DailyRecords(ctx context.Context, e payroll.EmployeeID, from, to time.Time) ([]DailyRecord, error)

	SaveWeekly(ctx context.Context, r WeeklyRecord) error
	// WeeklyRecords returns records whose week starts in [from, to], by week.
	WeeklyRecords(ctx context.Context, e payroll.EmployeeID, from, to time.Time) ([]WeeklyRecord, error)
}
