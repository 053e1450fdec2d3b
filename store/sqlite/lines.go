package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// PAY LINES
// =============================================================================

// ReplaceLines supersedes the set of k inside one transaction.
func (s *Store) ReplaceLines(ctx context.Context, k payroll.Key, lines []payroll.PayLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteKey(ctx, tx, k); err != nil {
		return err
	}
	for _, l := range lines {
		if l.Key() != k {
			return payroll.Invalid("line %s/%s does not belong to %s", l.Employee, l.Rubrique, k)
		}
		if err := insertLine(ctx, tx, l); err != nil {
			if isUniqueConstraintError(err) {
				return payroll.Invalid("duplicate line for rubrique %s in %s", l.Rubrique, k)
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lines: %w", err)
	}
	return nil
}

func deleteKey(ctx context.Context, db execer, k payroll.Key) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM pay_lines WHERE employee_id = ? AND motif_id = ? AND period = ?",
		k.Employee, k.Motif, k.Period.String())
	if err != nil {
		return fmt.Errorf("failed to delete lines of %s: %w", k, err)
	}
	return nil
}

func insertLine(ctx context.Context, db execer, l payroll.PayLine) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.ComputedAt.IsZero() {
		l.ComputedAt = time.Now()
	}
	flags, err := json.Marshal(l.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags of %s: %w", l.Rubrique, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO pay_lines (id, employee_id, rubrique_id, motif_id, period, base, quantity, amount,
		                       sense, deduction_du, flags_json, fixed, manual, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Employee, l.Rubrique, l.Motif, l.Period.String(),
		l.Base.String(), l.Quantity.String(), l.Amount.String(),
		int(l.Sense), int(l.DeductionDu), string(flags), l.Fixed, l.Manual,
		l.ComputedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert line: %w", err)
	}
	return nil
}

// SaveManualLine stores l as a manual line, replacing whatever line its
// rubrique had for the key.
func (s *Store) SaveManualLine(ctx context.Context, l payroll.PayLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM pay_lines
		WHERE employee_id = ? AND rubrique_id = ? AND motif_id = ? AND period = ?`,
		l.Employee, l.Rubrique, l.Motif, l.Period.String())
	if err != nil {
		return fmt.Errorf("failed to replace manual line: %w", err)
	}
	l.Manual = true
	if err := insertLine(ctx, tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteLines(ctx context.Context, k payroll.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteKey(ctx, s.db, k)
}

const lineColumns = `id, employee_id, rubrique_id, motif_id, period, base, quantity, amount,
	sense, deduction_du, flags_json, fixed, manual, computed_at`

const lineOrder = " ORDER BY period, employee_id, motif_id, rubrique_id"

func (s *Store) Lines(ctx context.Context, k payroll.Key) ([]payroll.PayLine, error) {
	return s.queryLines(ctx,
		"SELECT "+lineColumns+" FROM pay_lines WHERE employee_id = ? AND motif_id = ? AND period = ?"+lineOrder,
		k.Employee, k.Motif, k.Period.String())
}

func (s *Store) LinesForPeriod(ctx context.Context, m payroll.MotifID, p payroll.Period) ([]payroll.PayLine, error) {
	return s.queryLines(ctx,
		"SELECT "+lineColumns+" FROM pay_lines WHERE motif_id = ? AND period = ?"+lineOrder,
		m, p.String())
}

// History returns the lines of e with from <= period <= to.
func (s *Store) History(ctx context.Context, e payroll.EmployeeID, from, to payroll.Period) ([]payroll.PayLine, error) {
	return s.queryLines(ctx,
		"SELECT "+lineColumns+" FROM pay_lines WHERE employee_id = ? AND period >= ? AND period <= ?"+lineOrder,
		e, from.String(), to.String())
}

// PurgeBefore deletes lines of periods strictly before p and returns how
// many were removed.
func (s *Store) PurgeBefore(ctx context.Context, p payroll.Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM pay_lines WHERE period < ?", p.String())
	if err != nil {
		return 0, fmt.Errorf("failed to purge lines: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) queryLines(ctx context.Context, query string, args ...any) ([]payroll.PayLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var out []payroll.PayLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLine(rows *sql.Rows) (payroll.PayLine, error) {
	var (
		l                                          payroll.PayLine
		period, base, qty, amount, flags, computed string
		sense, deductionDu                         int
	)
	err := rows.Scan(&l.ID, &l.Employee, &l.Rubrique, &l.Motif, &period, &base, &qty, &amount,
		&sense, &deductionDu, &flags, &l.Fixed, &l.Manual, &computed)
	if err != nil {
		return l, err
	}
	var dec decoder
	l.Period = dec.period(period)
	l.Base = dec.decimal(base)
	l.Quantity = dec.decimal(qty)
	l.Amount = dec.decimal(amount)
	l.Sense = payroll.Sense(sense)
	l.DeductionDu = payroll.DeductionBase(deductionDu)
	dec.json(flags, &l.Flags)
	l.ComputedAt = dec.timestamp(time.RFC3339Nano, computed)
	if dec.err != nil {
		return l, fmt.Errorf("line %s: %w", l.ID, dec.err)
	}
	return l, nil
}
