/*
errors.go - Error kinds of the payroll engine

PURPOSE:
  All error types in one place. Every error carries a kind (sentinel for
  errors.Is) and the context needed for audit and user messages: employee,
  rubrique, period.

ERROR KINDS:
  1. ErrFormula                  unresolved reference, cycle, division by
                                 zero, malformed token stream
  2. ErrMissingReferenceData     employee/rubrique/motif not found
  3. ErrInvalidInstallmentState  edit on a settled installment, bad capital
  4. ErrConcurrentRecompute      another recompute holds the key

USAGE:
  var ferr *payroll.FormulaError
  if errors.As(err, &ferr) && ferr.Reason == payroll.ReasonCycle {
      ...
  }
  if errors.Is(err, payroll.ErrFormula) { ... }
*/
package payroll

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrFormula                 = errors.New("formula error")
	ErrMissingReferenceData    = errors.New("missing reference data")
	ErrInvalidInstallmentState = errors.New("invalid installment state")
	ErrConcurrentRecompute     = errors.New("concurrent recompute conflict")

	// ErrNotFound is returned by stores for a missing row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput rejects malformed records before they reach a store.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind names an error family for APIs and metrics.
type Kind string

const (
	KindFormula          Kind = "formula_error"
	KindMissingReference Kind = "missing_reference_data"
	KindInstallmentState Kind = "invalid_installment_state"
	KindConflict         Kind = "concurrent_recompute_conflict"
	KindInvalidInput     Kind = "invalid_input"
	KindInternal         Kind = "internal"
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrFormula):
		return KindFormula
	case errors.Is(err, ErrMissingReferenceData), errors.Is(err, ErrNotFound):
		return KindMissingReference
	case errors.Is(err, ErrInvalidInstallmentState):
		return KindInstallmentState
	case errors.Is(err, ErrConcurrentRecompute):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// =============================================================================
// FORMULA ERRORS
// =============================================================================

type FormulaReason string

const (
	ReasonUnresolvedReference FormulaReason = "unresolved_reference"
	ReasonCycle               FormulaReason = "cycle"
	ReasonDivisionByZero      FormulaReason = "division_by_zero"
	ReasonMalformed           FormulaReason = "malformed"
	ReasonUnknownFunction     FormulaReason = "unknown_function"
)

type FormulaError struct {
	Reason   FormulaReason
	Employee EmployeeID
	Rubrique RubriqueID
	Period   Period
	Slot     Slot
	// Position is the token index, -1 when not tied to a token.
	Position int
	// Path lists the rubriques of a cycle in visiting order.
	Path   []RubriqueID
	Detail string
}

func (e *FormulaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "formula %s", e.Reason)
	if e.Rubrique != "" {
		fmt.Fprintf(&b, " in rubrique %s (%s)", e.Rubrique, e.Slot)
	}
	if e.Employee != "" {
		fmt.Fprintf(&b, " for employee %s", e.Employee)
	}
	if !e.Period.IsZero() {
		fmt.Fprintf(&b, " period %s", e.Period)
	}
	if e.Position >= 0 {
		fmt.Fprintf(&b, " at token %d", e.Position)
	}
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, id := range e.Path {
			parts[i] = string(id)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, " -> "))
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

func (e *FormulaError) Unwrap() error { return ErrFormula }

// =============================================================================
// REFERENCE DATA ERRORS
// =============================================================================

type MissingReferenceError struct {
	Entity   string // "employee", "rubrique", "motif", "installment", ...
	ID       string
	Employee EmployeeID
	Period   Period
}

func (e *MissingReferenceError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Entity, e.ID)
	if e.Employee != "" && e.Entity != "employee" {
		msg += fmt.Sprintf(" for employee %s", e.Employee)
	}
	if !e.Period.IsZero() {
		msg += fmt.Sprintf(" period %s", e.Period)
	}
	return msg
}

func (e *MissingReferenceError) Unwrap() error { return ErrMissingReferenceData }

func Missing(entity, id string) *MissingReferenceError {
	return &MissingReferenceError{Entity: entity, ID: id}
}

// =============================================================================
// INSTALLMENT ERRORS
// =============================================================================

type InstallmentStateError struct {
	Installment string
	Employee    EmployeeID
	Op          string
	State       string
	Detail      string
}

func (e *InstallmentStateError) Error() string {
	msg := fmt.Sprintf("installment %s: %s rejected in state %s", e.Installment, e.Op, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InstallmentStateError) Unwrap() error { return ErrInvalidInstallmentState }

// =============================================================================
// CONCURRENCY ERRORS
// =============================================================================

type RecomputeConflictError struct {
	Key string
}

func (e *RecomputeConflictError) Error() string {
	return fmt.Sprintf("recompute already running for %s", e.Key)
}

func (e *RecomputeConflictError) Unwrap() error { return ErrConcurrentRecompute }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFormula) || errors.Is(err, ErrInvalidInstallmentState) || errors.Is(err, ErrInvalidInput)
}

// Invalid wraps a validation message with ErrInvalidInput.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFound returns true if the error indicates missing reference data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMissingReferenceData) || errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the caller lost a race for a key.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentRecompute)
}
