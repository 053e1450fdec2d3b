package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// HOUR RECORDS
// =============================================================================

// SaveDaily upserts the record of (employee, day).
func (s *Store) SaveDaily(ctx context.Context, r overtime.DailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	query := `
		INSERT INTO daily_records (id, employee_id, day, day_hours, night_hours, holiday_150, holiday_200,
		                           external_site, meal, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, day) DO UPDATE SET
			day_hours = excluded.day_hours,
			night_hours = excluded.night_hours,
			holiday_150 = excluded.holiday_150,
			holiday_200 = excluded.holiday_200,
			external_site = excluded.external_site,
			meal = excluded.meal,
			note = excluded.note
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Employee, formatDate(r.Date), r.DayHours.String(), r.NightHours.String(),
		r.Holiday150, r.Holiday200, r.External, r.Meal, r.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily record: %w", err)
	}
	return nil
}

func (s *Store) DeleteDaily(ctx context.Context, e payroll.EmployeeID, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM daily_records WHERE employee_id = ? AND day = ?", e, formatDate(day))
	return err
}

func (s *Store) DailyRecords(ctx context.Context, e payroll.EmployeeID, from, to time.Time) ([]overtime.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, day, day_hours, night_hours, holiday_150, holiday_200, external_site, meal, note
		FROM daily_records
		WHERE employee_id = ? AND day >= ? AND day <= ?
		ORDER BY day`,
		e, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	defer rows.Close()

	var out []overtime.DailyRecord
	for rows.Next() {
		var (
			r                 overtime.DailyRecord
			day, dayH, nightH string
		)
		if err := rows.Scan(&r.ID, &r.Employee, &day, &dayH, &nightH,
			&r.Holiday150, &r.Holiday200, &r.External, &r.Meal, &r.Note); err != nil {
			return nil, fmt.Errorf("failed to scan daily record: %w", err)
		}
		var dec decoder
		r.Date = dec.date(day)
		r.DayHours = dec.decimal(dayH)
		r.NightHours = dec.decimal(nightH)
		if dec.err != nil {
			return nil, fmt.Errorf("daily record %s: %w", r.ID, dec.err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveWeekly upserts the record of (employee, week).
func (s *Store) SaveWeekly(ctx context.Context, r overtime.WeeklyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	query := `
		INSERT INTO weekly_records (id, employee_id, week_start, day_hours, night_hours,
		                            hs115, hs140, hs150, hs200, meals, remoteness, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, week_start) DO UPDATE SET
			day_hours = excluded.day_hours,
			night_hours = excluded.night_hours,
			hs115 = excluded.hs115,
			hs140 = excluded.hs140,
			hs150 = excluded.hs150,
			hs200 = excluded.hs200,
			meals = excluded.meals,
			remoteness = excluded.remoteness,
			note = excluded.note
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Employee, formatDate(r.WeekStart), r.DayHours.String(), r.NightHours.String(),
		r.HS115.String(), r.HS140.String(), r.HS150.String(), r.HS200.String(),
		r.Meals, r.Remoteness, r.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to save weekly record: %w", err)
	}
	return nil
}

func (s *Store) WeeklyRecords(ctx context.Context, e payroll.EmployeeID, from, to time.Time) ([]overtime.WeeklyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, week_start, day_hours, night_hours, hs115, hs140, hs150, hs200,
		       meals, remoteness, note
		FROM weekly_records
		WHERE employee_id = ? AND week_start >= ? AND week_start <= ?
		ORDER BY week_start`,
		e, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly records: %w", err)
	}
	defer rows.Close()

	var out []overtime.WeeklyRecord
	for rows.Next() {
		var (
			r                                          overtime.WeeklyRecord
			week, dayH, nightH, h115, h140, h150, h200 string
		)
		if err := rows.Scan(&r.ID, &r.Employee, &week, &dayH, &nightH, &h115, &h140, &h150, &h200,
			&r.Meals, &r.Remoteness, &r.Note); err != nil {
			return nil, fmt.Errorf("failed to scan weekly record: %w", err)
		}
		var dec decoder
		r.WeekStart = dec.date(week)
		r.DayHours = dec.decimal(dayH)
		r.NightHours = dec.decimal(nightH)
		r.HS115 = dec.decimal(h115)
		r.HS140 = dec.decimal(h140)
		r.HS150 = dec.decimal(h150)
		r.HS200 = dec.decimal(h200)
		if dec.err != nil {
			return nil, fmt.Errorf("weekly record %s: %w", r.ID, dec.err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
