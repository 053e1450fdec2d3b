package installment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// ErrDuplicateTranche is returned by stores for a second tranche of the
// same installment and period.
var ErrDuplicateTranche = errors.New("tranche already recorded for period")

// DuplicateTrancheError names the conflicting period.
type DuplicateTrancheError struct {
	Installment string
	Period      payroll.Period
}

func (e *DuplicateTrancheError) Error() string {
	return fmt.Sprintf("installment %s already settled for %s", e.Installment, e.Period)
}

// Unwrap makes the duplicate a rejected state change for callers.
func (e *DuplicateTrancheError) Unwrap() []error {
	return []error{ErrDuplicateTranche, payroll.ErrInvalidInstallmentState}
}

// =============================================================================
// LEDGER - Append-only tranche log
// =============================================================================

// Ledger is the source of truth for repayments. There is no Update and no
// Delete: a wrong tranche is corrected by the payroll closing side, never
// edited here.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append adds a tranche, enforcing one tranche per period.
func (l *Ledger) Append(ctx context.Context, t Tranche) error {
	existing, err := l.store.Tranches(ctx, t.Installment)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Period == t.Period {
			return &DuplicateTrancheError{Installment: t.Installment, Period: t.Period}
		}
	}
	err = l.store.AppendTranche(ctx, t)
	// Stores with a unique constraint report the race the check above missed.
	if errors.Is(err, ErrDuplicateTranche) {
		return &DuplicateTrancheError{Installment: t.Installment, Period: t.Period}
	}
	return err
}

// History returns the tranches ordered by period.
func (l *Ledger) History(ctx context.Context, installment string) ([]Tranche, error) {
	ts, err := l.store.Tranches(ctx, installment)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Period.Before(ts[j].Period) })
	return ts, nil
}

// Settled sums the tranches.
func (l *Ledger) Settled(ctx context.Context, installment string) (decimal.Decimal, error) {
	ts, err := l.store.Tranches(ctx, installment)
	if err != nil {
		return decimal.Zero, err
	}
	return sumTranches(ts), nil
}

func sumTranches(ts []Tranche) decimal.Decimal {
	total := decimal.Zero
	for _, t := range ts {
		total = total.Add(t.Amount)
	}
	return total
}
