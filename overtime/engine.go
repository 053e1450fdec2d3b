package overtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     Store
	threshold decimal.Decimal
	log       *zap.Logger
}

// NewEngine returns an engine counting daily-mode overtime above threshold
// hours per week.
func NewEngine(store Store, threshold decimal.Decimal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, threshold: threshold, log: logger.Named("overtime")}
}

// AddDaily records a day of hours for an employee in daily mode. A record
// for the same day replaces the previous one.
func (e *Engine) AddDaily(ctx context.Context, emp payroll.Employee, r DailyRecord) (DailyRecord, error) {
	if emp.OvertimeMode != payroll.OvertimeDaily {
		return DailyRecord{}, payroll.Invalid("employee %s counts hours weekly", emp.ID)
	}
	r.Employee = emp.ID
	r.Date = payroll.TruncateDay(r.Date)
	if err := r.validate(); err != nil {
		return DailyRecord{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := e.store.SaveDaily(ctx, r); err != nil {
		return DailyRecord{}, fmt.Errorf("save daily record: %w", err)
	}
	e.log.Debug("daily hours recorded",
		zap.String("employee", string(emp.ID)),
		zap.Time("date", r.Date),
		zap.String("hours", r.Total().String()))
	return r, nil
}

// AddWeekly records a week for an employee in weekly mode. The week is
// aligned on the employee's first weekday and tiers are clamped.
func (e *Engine) AddWeekly(ctx context.Context, emp payroll.Employee, r WeeklyRecord) (WeeklyRecord, error) {
	if emp.OvertimeMode != payroll.OvertimeWeekly {
		return WeeklyRecord{}, payroll.Invalid("employee %s counts hours daily", emp.ID)
	}
	r.Employee = emp.ID
	if !r.WeekStart.IsZero() {
		r.WeekStart = emp.Week.WeekStart(r.WeekStart)
	}
	if err := r.validate(); err != nil {
		return WeeklyRecord{}, err
	}
	clamped := r.Clamp()
	if !clamped.HS115.Equal(r.HS115) || !clamped.HS140.Equal(r.HS140) {
		e.log.Info("weekly overtime clamped",
			zap.String("employee", string(emp.ID)),
			zap.Time("week", r.WeekStart),
			zap.String("hs115", r.HS115.String()),
			zap.String("hs140", r.HS140.String()))
	}
	if clamped.ID == "" {
		clamped.ID = uuid.NewString()
	}
	if err := e.store.SaveWeekly(ctx, clamped); err != nil {
		return WeeklyRecord{}, fmt.Errorf("save weekly record: %w", err)
	}
	return clamped, nil
}

// RemoveDaily deletes the record of one day.
func (e *Engine) RemoveDaily(ctx context.Context, emp payroll.EmployeeID, day time.Time) error {
	return e.store.DeleteDaily(ctx, emp, payroll.TruncateDay(day))
}

// Summary aggregates the employee's records of period p under the mode
// currently active.
func (e *Engine) Summary(ctx context.Context, emp payroll.Employee, p payroll.Period) (payroll.OvertimeSummary, error) {
	var (
		daily  []DailyRecord
		weekly []WeeklyRecord
		err    error
	)
	if emp.OvertimeMode == payroll.OvertimeWeekly {
		// Weeks ending in p start at most six days before it.
		weekly, err = e.store.WeeklyRecords(ctx, emp.ID, p.Start().AddDate(0, 0, -6), p.End())
	} else {
		daily, err = e.store.DailyRecords(ctx, emp.ID, emp.Week.WeekStart(p.Start()), p.End())
	}
	if err != nil {
		return payroll.OvertimeSummary{}, fmt.Errorf("load hour records of %s: %w", emp.ID, err)
	}
	return Summarize(emp, p, daily, weekly, e.threshold), nil
}

// Summaries computes Summary for several employees, skipping those without
// any hours. Used to fill a computation snapshot.
func (e *Engine) Summaries(ctx context.Context, emps []payroll.Employee, p payroll.Period) (map[payroll.EmployeeID]payroll.OvertimeSummary, error) {
	out := make(map[payroll.EmployeeID]payroll.OvertimeSummary, len(emps))
	for _, emp := range emps {
		s, err := e.Summary(ctx, emp, p)
		if err != nil {
			return nil, err
		}
		if s.TotalHours().IsZero() && s.MealAllowances == 0 && s.RemotenessAllowances == 0 && s.TotalOvertime().IsZero() {
			continue
		}
		out[emp.ID] = s
	}
	return out, nil
}
