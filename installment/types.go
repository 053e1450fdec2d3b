/*
Package installment manages retenues a echeance: employee debts or
advances repaid through periodic payroll deductions.

PURPOSE:
  An Installment is agreed once (capital, per-period amount, target
  retenue rubrique). Every repayment is a Tranche appended to the
  installment's ledger. The outstanding balance is never stored: it is
  capital minus the sum of tranches, recomputed on every read.

STATE MACHINE:

	Open(active) <-> Open(inactive) ---balance hits 0---> Solde

  Solde is terminal. Toggling is allowed while balance > 0.

INVARIANTS:
  1. Capital >= 0.
  2. Balance never goes below zero: a tranche larger than the balance is
     reduced to the balance.
  3. Solde is reached exactly once, by the tranche that zeroes the balance
     or an override lowering the capital to what was settled. It is never
     left again.
  4. Capital, per-period amount and deletion are frozen once a tranche
     exists, unless the caller holds override authority.
  5. Tranches are append-only, one per installment and period.
  6. Settlements of one installment are serialized.

SEE ALSO:
  - ledger.go: append-only tranche log
  - engine.Computer: reads DueFor to fill retenue rubriques
*/
package installment

import (
	"context"
	"time"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATE
// =============================================================================

type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateSolde    State = "solde"
)

// =============================================================================
// INSTALLMENT
// =============================================================================

type Installment struct {
	ID       string             `json:"id"`
	Employee payroll.EmployeeID `json:"employee_id"`
	Rubrique payroll.RubriqueID `json:"rubrique_id"`
	AgreedOn time.Time          `json:"agreed_on"`
	Capital  decimal.Decimal    `json:"capital"`
	// Amount is withheld each period until the balance is repaid.
	Amount decimal.Decimal `json:"amount"`
	Active bool            `json:"active"`
	Note   string          `json:"note,omitempty"`

	// Solde is set by the settlement that repays the capital.
	Solde     bool            `json:"solde"`
	SoldeIn   *payroll.Period `json:"solde_in,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (i Installment) State() State {
	switch {
	case i.Solde:
		return StateSolde
	case i.Active:
		return StateActive
	default:
		return StateInactive
	}
}

// Tranche is one settlement.
type Tranche struct {
	ID          string          `json:"id"`
	Installment string          `json:"installment_id"`
	Period      payroll.Period  `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	SettledAt   time.Time       `json:"settled_at"`
}

// Status is an installment with its derived figures.
type Status struct {
	Installment
	Settled decimal.Decimal `json:"settled"`
	Balance decimal.Decimal `json:"balance"`
	Current State           `json:"state"`
}

// Terms are the editable parts of an installment.
type Terms struct {
	Capital *decimal.Decimal
	Amount  *decimal.Decimal
	Note    *string
}

// =============================================================================
// STORE
// =============================================================================

// Store persists installments and their tranches.
type Store interface {
	SaveInstallment(ctx context.Context, i Installment) error
	// GetInstallment returns payroll.ErrNotFound for an unknown id.
	GetInstallment(ctx context.Context, id string) (Installment, error)
	// ListInstallments filters by employee; "" lists all.
	ListInstallments(ctx context.Context, e payroll.EmployeeID) ([]Installment, error)
	DeleteInstallment(ctx context.Context, id string) error

	// AppendTranche returns ErrDuplicateTranche when the installment already
	// has a tranche for the period.
	AppendTranche(ctx context.Context, t Tranche) error
	// Tranches returns the installment's tranches ordered by period.
	Tranches(ctx context.Context, installment string) ([]Tranche, error)
}
