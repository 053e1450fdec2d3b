package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// INSTALLMENTS
// =============================================================================

// SaveInstallment inserts or updates an installment. Tranches are never
// touched here.
func (s *Store) SaveInstallment(ctx context.Context, i installment.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var soldeIn sql.NullString
	if i.SoldeIn != nil {
		soldeIn = sql.NullString{String: i.SoldeIn.String(), Valid: true}
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO installments (id, employee_id, rubrique_id, agreed_on, capital, amount,
		                          active, note, solde, solde_in, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rubrique_id = excluded.rubrique_id,
			agreed_on = excluded.agreed_on,
			capital = excluded.capital,
			amount = excluded.amount,
			active = excluded.active,
			note = excluded.note,
			solde = excluded.solde,
			solde_in = excluded.solde_in
	`
	_, err := s.db.ExecContext(ctx, query,
		i.ID, i.Employee, i.Rubrique, formatDate(i.AgreedOn), i.Capital.String(), i.Amount.String(),
		i.Active, i.Note, i.Solde, soldeIn, i.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save installment: %w", err)
	}
	return nil
}

const installmentColumns = `id, employee_id, rubrique_id, agreed_on, capital, amount,
	active, note, solde, solde_in, created_at`

func scanInstallment(row scanner) (installment.Installment, error) {
	var (
		i                                  installment.Installment
		agreedOn, capital, amount, created string
		soldeIn                            sql.NullString
	)
	err := row.Scan(&i.ID, &i.Employee, &i.Rubrique, &agreedOn, &capital, &amount,
		&i.Active, &i.Note, &i.Solde, &soldeIn, &created)
	if err != nil {
		return i, err
	}
	var dec decoder
	i.AgreedOn = dec.date(agreedOn)
	i.Capital = dec.decimal(capital)
	i.Amount = dec.decimal(amount)
	if soldeIn.Valid {
		p := dec.period(soldeIn.String)
		i.SoldeIn = &p
	}
	i.CreatedAt = dec.timestamp(time.RFC3339, created)
	if dec.err != nil {
		return i, fmt.Errorf("installment %s: %w", i.ID, dec.err)
	}
	return i, nil
}

// GetInstallment returns payroll.ErrNotFound for an unknown id.
func (s *Store) GetInstallment(ctx context.Context, id string) (installment.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+installmentColumns+" FROM installments WHERE id = ?", id)
	i, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return installment.Installment{}, notFound("installment", id)
	}
	if err != nil {
		return installment.Installment{}, fmt.Errorf("failed to get installment: %w", err)
	}
	return i, nil
}

// ListInstallments returns the installments of e, or all of them when e is
// empty, oldest agreement first.
func (s *Store) ListInstallments(ctx context.Context, e payroll.EmployeeID) ([]installment.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + installmentColumns + " FROM installments"
	var args []any
	if e != "" {
		query += " WHERE employee_id = ?"
		args = append(args, e)
	}
	query += " ORDER BY agreed_on, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var out []installment.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// DeleteInstallment removes the installment and its tranches.
func (s *Store) DeleteInstallment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tranches WHERE installment_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete tranches: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM installments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("installment", id)
	}
	return tx.Commit()
}

// =============================================================================
// TRANCHES - append-only
// =============================================================================

// AppendTranche inserts a settlement. A second tranche for the same
// installment and period fails with installment.ErrDuplicateTranche.
func (s *Store) AppendTranche(ctx context.Context, t installment.Tranche) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.SettledAt.IsZero() {
		t.SettledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tranches (id, installment_id, period, amount, settled_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Installment, t.Period.String(), t.Amount.String(), t.SettledAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return installment.ErrDuplicateTranche
		}
		return fmt.Errorf("failed to append tranche: %w", err)
	}
	return nil
}

// Tranches returns the installment's tranches ordered by period.
func (s *Store) Tranches(ctx context.Context, id string) ([]installment.Tranche, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, installment_id, period, amount, settled_at
		FROM tranches WHERE installment_id = ?
		ORDER BY period`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query tranches: %w", err)
	}
	defer rows.Close()

	var out []installment.Tranche
	for rows.Next() {
		var (
			t                       installment.Tranche
			period, amount, settled string
		)
		if err := rows.Scan(&t.ID, &t.Installment, &period, &amount, &settled); err != nil {
			return nil, fmt.Errorf("failed to scan tranche: %w", err)
		}
		var dec decoder
		t.Period = dec.period(period)
		t.Amount = dec.decimal(amount)
		t.SettledAt = dec.timestamp(time.RFC3339, settled)
		if dec.err != nil {
			return nil, fmt.Errorf("tranche %s: %w", t.ID, dec.err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
