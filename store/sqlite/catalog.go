package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// RUBRIQUES & MOTIFS
// =============================================================================

// SaveRubrique inserts or updates a rubrique.
func (s *Store) SaveRubrique(ctx context.Context, r payroll.Rubrique) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := json.Marshal(r.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags of %s: %w", r.ID, err)
	}
	motifs, err := json.Marshal(append([]payroll.MotifID{}, r.Motifs...))
	if err != nil {
		return fmt.Errorf("failed to encode motifs of %s: %w", r.ID, err)
	}

	query := `
		INSERT INTO rubriques (id, label, sense, deduction_du, flags_json, base_auto, quantity_auto,
		                       mandatory, fixed, direct_amount, motifs_json, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			sense = excluded.sense,
			deduction_du = excluded.deduction_du,
			flags_json = excluded.flags_json,
			base_auto = excluded.base_auto,
			quantity_auto = excluded.quantity_auto,
			mandatory = excluded.mandatory,
			fixed = excluded.fixed,
			direct_amount = excluded.direct_amount,
			motifs_json = excluded.motifs_json,
			sort_order = excluded.sort_order
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Label, int(r.Sense), int(r.DeductionDu), string(flags),
		r.BaseAuto, r.QuantityAuto, r.Mandatory, r.Fixed, r.DirectAmount,
		string(motifs), r.Order,
	)
	if err != nil {
		return fmt.Errorf("failed to save rubrique: %w", err)
	}
	return nil
}

const rubriqueColumns = `id, label, sense, deduction_du, flags_json, base_auto, quantity_auto,
	mandatory, fixed, direct_amount, motifs_json, sort_order`

type scanner interface {
	Scan(dest ...any) error
}

func scanRubrique(row scanner) (payroll.Rubrique, error) {
	var (
		r                  payroll.Rubrique
		sense, deductionDu int
		flags, motifs      string
	)
	err := row.Scan(&r.ID, &r.Label, &sense, &deductionDu, &flags,
		&r.BaseAuto, &r.QuantityAuto, &r.Mandatory, &r.Fixed, &r.DirectAmount,
		&motifs, &r.Order)
	if err != nil {
		return r, err
	}
	r.Sense = payroll.Sense(sense)
	r.DeductionDu = payroll.DeductionBase(deductionDu)
	var dec decoder
	dec.json(flags, &r.Flags)
	dec.json(motifs, &r.Motifs)
	if dec.err != nil {
		return r, fmt.Errorf("rubrique %s: %w", r.ID, dec.err)
	}
	if len(r.Motifs) == 0 {
		r.Motifs = nil
	}
	return r, nil
}

// GetRubrique returns payroll.ErrNotFound for an unknown id.
func (s *Store) GetRubrique(ctx context.Context, id payroll.RubriqueID) (payroll.Rubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+rubriqueColumns+" FROM rubriques WHERE id = ?", id)
	r, err := scanRubrique(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Rubrique{}, notFound("rubrique", id)
	}
	if err != nil {
		return payroll.Rubrique{}, fmt.Errorf("failed to get rubrique: %w", err)
	}
	return r, nil
}

// ListRubriques returns the catalog in display order.
func (s *Store) ListRubriques(ctx context.Context) ([]payroll.Rubrique, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+rubriqueColumns+" FROM rubriques ORDER BY sort_order, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list rubriques: %w", err)
	}
	defer rows.Close()

	var out []payroll.Rubrique
	for rows.Next() {
		r, err := scanRubrique(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rubrique: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveMotif(ctx context.Context, m payroll.Motif) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motifs (id, label, kind) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label, kind = excluded.kind`,
		m.ID, m.Label, int(m.Kind))
	return err
}

func (s *Store) ListMotifs(ctx context.Context) ([]payroll.Motif, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, label, kind FROM motifs ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Motif
	for rows.Next() {
		var (
			m    payroll.Motif
			kind int
		)
		if err := rows.Scan(&m.ID, &m.Label, &kind); err != nil {
			return nil, err
		}
		m.Kind = payroll.MotifKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// PARAMETERS
// =============================================================================

// Parameters returns the stored parameters, or the defaults when none were
// saved yet.
func (s *Store) Parameters(ctx context.Context) (payroll.Parameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT params_json FROM parameters WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.DefaultParameters(), nil
	}
	if err != nil {
		return payroll.Parameters{}, fmt.Errorf("failed to load parameters: %w", err)
	}
	p := payroll.DefaultParameters()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return payroll.Parameters{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return p, nil
}

func (s *Store) SaveParameters(ctx context.Context, p payroll.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parameters (id, params_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET params_json = excluded.params_json, updated_at = excluded.updated_at`,
		string(raw), time.Now().UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// FORMULA TOKENS
// =============================================================================

// AppendToken adds tok after the last token of (id, slot).
func (s *Store) AppendToken(ctx context.Context, id payroll.RubriqueID, slot payroll.Slot, tok payroll.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO formula_tokens (rubrique_id, slot, position, kind, op, function_code, constant, ref)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM formula_tokens WHERE rubrique_id = ? AND slot = ?),
		        ?, ?, ?, ?, ?)
	`
	op := ""
	if tok.Kind == payroll.TokenOperator {
		op = tok.Op.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		id, int(slot), id, int(slot),
		int(tok.Kind), op, int(tok.Function), tok.Constant.String(), tok.Rubrique,
	)
	if err != nil {
		return fmt.Errorf("failed to append token: %w", err)
	}
	return nil
}

func (s *Store) DropLastToken(ctx context.Context, id payroll.RubriqueID, slot payroll.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM formula_tokens
		WHERE rubrique_id = ? AND slot = ?
		  AND position = (SELECT MAX(position) FROM formula_tokens WHERE rubrique_id = ? AND slot = ?)`,
		id, int(slot), id, int(slot))
	return err
}

func (s *Store) ClearTokens(ctx context.Context, id payroll.RubriqueID, slot payroll.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM formula_tokens WHERE rubrique_id = ? AND slot = ?", id, int(slot))
	return err
}

func (s *Store) Tokens(ctx context.Context, id payroll.RubriqueID, slot payroll.Slot) ([]payroll.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rubrique_id, slot, kind, op, function_code, constant, ref
		FROM formula_tokens WHERE rubrique_id = ? AND slot = ?
		ORDER BY position`, id, int(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var out []payroll.Token
	for rows.Next() {
		_, _, tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// Formulas returns every non-empty formula of the catalog.
func (s *Store) Formulas(ctx context.Context) (map[payroll.RubriqueID]payroll.Formula, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rubrique_id, slot, kind, op, function_code, constant, ref
		FROM formula_tokens ORDER BY rubrique_id, slot, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query formulas: %w", err)
	}
	defer rows.Close()

	out := map[payroll.RubriqueID]payroll.Formula{}
	for rows.Next() {
		id, slot, tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		f := out[id]
		if slot == payroll.SlotQuantity {
			f.Quantity = append(f.Quantity, tok)
		} else {
			f.Base = append(f.Base, tok)
		}
		out[id] = f
	}
	return out, rows.Err()
}

func scanToken(rows *sql.Rows) (payroll.RubriqueID, payroll.Slot, payroll.Token, error) {
	var (
		id                   payroll.RubriqueID
		slot, kind, function int
		op, constant, ref    string
	)
	if err := rows.Scan(&id, &slot, &kind, &op, &function, &constant, &ref); err != nil {
		return "", 0, payroll.Token{}, fmt.Errorf("failed to scan token: %w", err)
	}
	tok := payroll.Token{Kind: payroll.TokenKind(kind)}
	switch tok.Kind {
	case payroll.TokenOperator:
		if op != "" {
			tok.Op = payroll.Operator(op[0])
		}
	case payroll.TokenFunction:
		tok.Function = payroll.FunctionCode(function)
	case payroll.TokenConstant:
		var dec decoder
		if tok.Constant = dec.decimal(constant); dec.err != nil {
			return "", 0, payroll.Token{}, fmt.Errorf("token of %s: %w", id, dec.err)
		}
	case payroll.TokenRubrique:
		tok.Rubrique = payroll.RubriqueID(ref)
	}
	return id, payroll.Slot(slot), tok, nil
}
