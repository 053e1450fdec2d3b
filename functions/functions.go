package functions

import (
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// WORKED DAYS & SALARY RATES
// =============================================================================

// WorkedDays (F01) is the NJT of the period.
func WorkedDays(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	if d, ok := ctx.Ref.WorkedDaysFor(ctx.Employee.ID, ctx.Period); ok {
		return d, nil
	}
	e := ctx.Employee
	if e.OnLeave && ctx.Motif.Kind == payroll.MotifNormal {
		return decimal.Zero, nil
	}
	monthDays := ctx.Ref.Parameters.MonthDays

	from, to := ctx.Period.Start(), ctx.Period.End()
	if !e.HireDate.IsZero() && e.HireDate.After(from) {
		from = payroll.TruncateDay(e.HireDate)
	}
	if e.ExitDate != nil && e.ExitDate.Before(to) {
		to = payroll.TruncateDay(*e.ExitDate)
	}
	if to.Before(from) {
		return decimal.Zero, nil
	}
	if from.Equal(ctx.Period.Start()) && to.Equal(ctx.Period.End()) {
		return decimal.NewFromInt(int64(monthDays)), nil
	}
	days := payroll.DaysBetween(from, to) + 1
	return decimal.NewFromInt(int64(min(days, monthDays))), nil
}

// DailySalary (F02) is the grid salary over MonthDays.
func DailySalary(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	grid, err := gridSalary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	days, err := monthDays(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return grid.Div(days), nil
}

// HourlySalary (F03) is the grid salary over the legal monthly hours.
func HourlySalary(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	grid, err := gridSalary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	hours, err := monthlyHours(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return grid.Div(hours), nil
}

// GridSalary (F23) is the category base salary.
func GridSalary(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return gridSalary(ctx)
}

// HousingBase (F13) is the grid salary times the housing rate.
func HousingBase(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	grid, err := gridSalary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return grid.Mul(ctx.Ref.Parameters.HousingRate), nil
}

// PresenceRate (F12) is NJT over MonthDays.
func PresenceRate(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	njt, err := WorkedDays(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	days, err := monthDays(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return njt.Div(days), nil
}

func SMIG(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return ctx.Ref.Parameters.SMIG, nil
}

// HourlySMIG (F09) is SMIG over the legal monthly hours.
func HourlySMIG(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	hours, err := monthlyHours(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return ctx.Ref.Parameters.SMIG.Div(hours), nil
}

// Children (F11) is the dependent children count, capped by MaxChildren.
func Children(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	n := ctx.Employee.Children
	if limit := ctx.Ref.Parameters.MaxChildren; limit > 0 && n > limit {
		n = limit
	}
	if n < 0 {
		n = 0
	}
	return decimal.NewFromInt(int64(n)), nil
}

// =============================================================================
// TENURE
// =============================================================================

func tenureYears(ctx payroll.EvaluationContext) int {
	start := ctx.Employee.SeniorityStart()
	if start.IsZero() {
		return 0
	}
	return payroll.CompletedYears(start, ctx.Period.End())
}

// SeniorityRate (F04) is the seniority band rate reached at period end.
func SeniorityRate(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return payroll.RateFor(ctx.Ref.Parameters.SeniorityBands, tenureYears(ctx)), nil
}

// DismissalRate (F10) is the dismissal allowance rate for the tenure.
func DismissalRate(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	if ctx.Employee.SeniorityStart().IsZero() || ctx.Employee.SeniorityStart().After(ctx.Period.End()) {
		return decimal.Zero, nil
	}
	return payroll.RateFor(ctx.Ref.Parameters.DismissalBands, tenureYears(ctx)), nil
}

// SeniorityYears (F22) is the completed years of tenure.
func SeniorityYears(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return decimal.NewFromInt(int64(tenureYears(ctx))), nil
}

// =============================================================================
// CUMULATIVE GROSS
// =============================================================================

// leaveAnchor is the first period counted by the since-last-leave
// functions.
func leaveAnchor(e payroll.Employee) (payroll.Period, bool) {
	switch {
	case e.LastLeaveDeparture != nil:
		return payroll.PeriodOf(*e.LastLeaveDeparture), true
	case !e.HireDate.IsZero():
		return payroll.PeriodOf(e.HireDate), true
	}
	return payroll.Period{}, false
}

// sumGains adds the gain lines of history in [from, to) that keep.
func sumGains(history []payroll.PayLine, from, to payroll.Period, keep func(payroll.PayLine) bool) decimal.Decimal {
	total := decimal.Zero
	for _, l := range history {
		if l.Sense != payroll.SenseGain || l.Period.Before(from) || !l.Period.Before(to) {
			continue
		}
		if keep(l) {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// CumulTaxableSinceLeave (F05) is the cumulative ITS-subject gross (BI).
func CumulTaxableSinceLeave(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	from, ok := leaveAnchor(ctx.Employee)
	if !ok {
		return decimal.Zero, nil
	}
	return sumGains(ctx.Ref.HistoryFor(ctx.Employee.ID), from, ctx.Period,
		func(l payroll.PayLine) bool { return l.Flags.SubjectITS }), nil
}

// CumulNonTaxableSinceLeave (F06) is the cumulative gross exempt from ITS (BNI).
func CumulNonTaxableSinceLeave(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	from, ok := leaveAnchor(ctx.Employee)
	if !ok {
		return decimal.Zero, nil
	}
	return sumGains(ctx.Ref.HistoryFor(ctx.Employee.ID), from, ctx.Period,
		func(l payroll.PayLine) bool { return !l.Flags.SubjectITS }), nil
}

// TrailingGross (F07) is the gross of the twelve previous periods.
func TrailingGross(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return sumGains(ctx.Ref.HistoryFor(ctx.Employee.ID), ctx.Period.AddMonths(-12), ctx.Period,
		func(payroll.PayLine) bool { return true }), nil
}

// MonthsSinceLeave (F24) counts months from the leave anchor.
func MonthsSinceLeave(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	from, ok := leaveAnchor(ctx.Employee)
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(int64(max(payroll.MonthsBetween(from, ctx.Period), 0))), nil
}

// =============================================================================
// OVERTIME
// =============================================================================

func summary(ctx payroll.EvaluationContext) payroll.OvertimeSummary {
	return ctx.Ref.OvertimeFor(ctx.Employee.ID, ctx.Period)
}

func tier(pick func(payroll.OvertimeSummary) decimal.Decimal) Func {
	return func(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
		return pick(summary(ctx)), nil
	}
}

// TotalOvertime (F14) is the sum of the four tiers.
func TotalOvertime(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return summary(ctx).TotalOvertime(), nil
}

func Meals(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return decimal.NewFromInt(int64(summary(ctx).MealAllowances)), nil
}

func Remoteness(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return decimal.NewFromInt(int64(summary(ctx).RemotenessAllowances)), nil
}

func NightHours(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return summary(ctx).NightHours, nil
}

// =============================================================================
// REFERENCE LOOKUPS
// =============================================================================

func gridSalary(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	amount, ok := ctx.Ref.Parameters.SalaryGrid[ctx.Employee.Category]
	if !ok {
		return decimal.Zero, &payroll.MissingReferenceError{
			Entity:   "salary grid",
			ID:       string(ctx.Employee.Category),
			Employee: ctx.Employee.ID,
			Period:   ctx.Period,
		}
	}
	return amount, nil
}

func monthDays(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	if ctx.Ref.Parameters.MonthDays <= 0 {
		return decimal.Zero, payroll.Missing("parameter", "month_days")
	}
	return decimal.NewFromInt(int64(ctx.Ref.Parameters.MonthDays)), nil
}

func monthlyHours(ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	if !ctx.Ref.Parameters.MonthlyHours.IsPositive() {
		return decimal.Zero, payroll.Missing("parameter", "monthly_hours")
	}
	return ctx.Ref.Parameters.MonthlyHours, nil
}
