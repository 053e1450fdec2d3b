package overtime

import (
	"sort"
	"time"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SUMMARY - Pure aggregation of records into a period summary
// =============================================================================

// Summarize builds the summary of period p from the records of the
// employee's active mode. daily may include days of the week that starts
// before p; they count toward the weekly threshold but not the totals.
func Summarize(emp payroll.Employee, p payroll.Period, daily []DailyRecord, weekly []WeeklyRecord, threshold decimal.Decimal) payroll.OvertimeSummary {
	var s payroll.OvertimeSummary
	if emp.OvertimeMode == payroll.OvertimeWeekly {
		s = summarizeWeekly(p, weekly)
	} else {
		s = summarizeDaily(emp, p, daily, threshold)
	}
	s.Employee = emp.ID
	s.Period = p
	s.Mode = emp.OvertimeMode
	return s
}

func summarizeDaily(emp payroll.Employee, p payroll.Period, records []DailyRecord, threshold decimal.Decimal) payroll.OvertimeSummary {
	sorted := make([]DailyRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s := zeroSummary()
	regular := map[time.Time]decimal.Decimal{}
	overtime := map[time.Time]decimal.Decimal{}

	for _, r := range sorted {
		total := r.Total()
		in := p.Contains(r.Date)

		var hs115, hs140, hs150, hs200 decimal.Decimal
		switch {
		case r.Holiday200:
			hs200 = total
		case r.Holiday150:
			hs150 = total
		default:
			week := emp.Week.WeekStart(r.Date)
			before := regular[week]
			after := before.Add(total)
			regular[week] = after
			if after.GreaterThan(threshold) {
				over := after.Sub(decimal.Max(before, threshold))
				done := overtime[week]
				hs115 = decimal.Min(over, decimal.Max(Cap115.Sub(done), decimal.Zero))
				hs140 = over.Sub(hs115)
				overtime[week] = done.Add(over)
			}
		}
		if !in {
			continue
		}

		s.DayHours = s.DayHours.Add(r.DayHours)
		s.NightHours = s.NightHours.Add(r.NightHours)
		s.HS115 = s.HS115.Add(hs115)
		s.HS140 = s.HS140.Add(hs140)
		s.HS150 = s.HS150.Add(hs150)
		s.HS200 = s.HS200.Add(hs200)
		if earnsMeal(emp, r) {
			s.MealAllowances++
		}
		if r.External {
			s.RemotenessAllowances++
		}
	}
	return s
}

func earnsMeal(emp payroll.Employee, r DailyRecord) bool {
	if emp.AutoMeal {
		return r.DayHours.GreaterThanOrEqual(mealDayHours) || r.NightHours.GreaterThanOrEqual(mealNight)
	}
	return r.Meal
}

func summarizeWeekly(p payroll.Period, records []WeeklyRecord) payroll.OvertimeSummary {
	s := zeroSummary()
	for _, r := range records {
		if !p.Contains(r.WeekEnd()) {
			continue
		}
		r = r.Clamp()
		s.DayHours = s.DayHours.Add(r.DayHours)
		s.NightHours = s.NightHours.Add(r.NightHours)
		s.HS115 = s.HS115.Add(r.HS115)
		s.HS140 = s.HS140.Add(r.HS140)
		s.HS150 = s.HS150.Add(r.HS150)
		s.HS200 = s.HS200.Add(r.HS200)
		s.MealAllowances += r.Meals
		s.RemotenessAllowances += r.Remoteness
	}
	return s
}

func zeroSummary() payroll.OvertimeSummary {
	return payroll.OvertimeSummary{
		DayHours:   decimal.Zero,
		NightHours: decimal.Zero,
		HS115:      decimal.Zero,
		HS140:      decimal.Zero,
		HS150:      decimal.Zero,
		HS200:      decimal.Zero,
	}
}
