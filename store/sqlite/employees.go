package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := json.Marshal(e.Week)
	if err != nil {
		return fmt.Errorf("failed to encode week: %w", err)
	}

	query := `
		INSERT INTO employees (id, name, category, hire_date, seniority_date, exit_date, weekly_hours,
		                       active, on_leave, last_leave_departure, children, payment_mode, bank,
		                       account_number, overtime_mode, auto_meal, week_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			hire_date = excluded.hire_date,
			seniority_date = excluded.seniority_date,
			exit_date = excluded.exit_date,
			weekly_hours = excluded.weekly_hours,
			active = excluded.active,
			on_leave = excluded.on_leave,
			last_leave_departure = excluded.last_leave_departure,
			children = excluded.children,
			payment_mode = excluded.payment_mode,
			bank = excluded.bank,
			account_number = excluded.account_number,
			overtime_mode = excluded.overtime_mode,
			auto_meal = excluded.auto_meal,
			week_json = excluded.week_json
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Name, string(e.Category),
		nullDateValue(e.HireDate), nullDateValue(e.SeniorityDate), nullDate(e.ExitDate),
		e.WeeklyHours.String(), e.Active, e.OnLeave, nullDate(e.LastLeaveDeparture), e.Children,
		string(e.PaymentMode), e.Bank, e.AccountNumber, int(e.OvertimeMode), e.AutoMeal, string(week),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

const employeeColumns = `id, name, category, hire_date, seniority_date, exit_date, weekly_hours,
	active, on_leave, last_leave_departure, children, payment_mode, bank, account_number,
	overtime_mode, auto_meal, week_json`

func scanEmployee(row scanner) (payroll.Employee, error) {
	var (
		e                            payroll.Employee
		category, hours, mode, week  string
		hire, seniority, exit, leave sql.NullString
		overtimeMode                 int
	)
	err := row.Scan(&e.ID, &e.Name, &category, &hire, &seniority, &exit, &hours,
		&e.Active, &e.OnLeave, &leave, &e.Children, &mode, &e.Bank, &e.AccountNumber,
		&overtimeMode, &e.AutoMeal, &week)
	if err != nil {
		return e, err
	}
	var dec decoder
	e.Category = payroll.Category(category)
	if hire.Valid {
		e.HireDate = dec.date(hire.String)
	}
	if seniority.Valid {
		e.SeniorityDate = dec.date(seniority.String)
	}
	e.ExitDate = dec.datePtr(exit)
	e.LastLeaveDeparture = dec.datePtr(leave)
	e.WeeklyHours = dec.decimal(hours)
	if dec.err != nil {
		return e, fmt.Errorf("employee %s: %w", e.ID, dec.err)
	}
	e.PaymentMode = payroll.PaymentMode(mode)
	e.OvertimeMode = payroll.OvertimeMode(overtimeMode)
	if week != "" && week != "null" && week != "{}" {
		if err := json.Unmarshal([]byte(week), &e.Week); err != nil {
			return e, fmt.Errorf("failed to decode week of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// GetEmployee returns payroll.ErrNotFound for an unknown id.
func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Employee{}, notFound("employee", id)
	}
	if err != nil {
		return payroll.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []payroll.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (s *Store) SetWorkedDays(ctx context.Context, e payroll.EmployeeID, p payroll.Period, days decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worked_days (employee_id, period, days) VALUES (?, ?, ?)
		ON CONFLICT(employee_id, period) DO UPDATE SET days = excluded.days`,
		e, p.String(), days.String())
	if err != nil {
		return fmt.Errorf("failed to set worked days: %w", err)
	}
	return nil
}

// WorkedDays returns the attendance overrides recorded for p.
func (s *Store) WorkedDays(ctx context.Context, p payroll.Period) (map[payroll.EmployeeID]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT employee_id, days FROM worked_days WHERE period = ?", p.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query worked days: %w", err)
	}
	defer rows.Close()

	out := map[payroll.EmployeeID]decimal.Decimal{}
	for rows.Next() {
		var (
			id   payroll.EmployeeID
			days string
		)
		if err := rows.Scan(&id, &days); err != nil {
			return nil, err
		}
		var dec decoder
		if out[id] = dec.decimal(days); dec.err != nil {
			return nil, fmt.Errorf("worked days of %s: %w", id, dec.err)
		}
	}
	return out, rows.Err()
}
