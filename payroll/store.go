/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the boundary between the engine and its storage collaborators.
  The engine only reads reference data and replaces pay line sets; it
  never prescribes a storage format.

KEY INTERFACES:
  CatalogStore:    rubriques, motifs, general parameters
  FormulaStore:    token lists per (rubrique, slot)
  EmployeeStore:   employee records
  AttendanceStore: worked-day overrides from attendance
  PayLineStore:    current pay line sets and history

REPLACEMENT CONTRACT:
  ReplaceLines swaps the whole set of a Key atomically: readers see the old
  set or the new one, never a mix. That is what keeps at most one current
  line per (employee, rubrique, motif, period).

IMPLEMENTATIONS:
  - store/sqlite: SQLite
  - store/memory: in-memory, for tests and demos
*/
package payroll

import (
	"context"

	"github.com/shopspring/decimal"
)

type CatalogStore interface {
	SaveRubrique(ctx context.Context, r Rubrique) error
	GetRubrique(ctx context.Context, id RubriqueID) (Rubrique, error)
	ListRubriques(ctx context.Context) ([]Rubrique, error)

	SaveMotif(ctx context.Context, m Motif) error
	ListMotifs(ctx context.Context) ([]Motif, error)

	Parameters(ctx context.Context) (Parameters, error)
	SaveParameters(ctx context.Context, p Parameters) error
}

// FormulaStore keeps token lists append-only: tokens are added at the end,
// removed from the end, or cleared; never edited in the middle.
type FormulaStore interface {
	AppendToken(ctx context.Context, id RubriqueID, slot Slot, tok Token) error
	DropLastToken(ctx context.Context, id RubriqueID, slot Slot) error
	ClearTokens(ctx context.Context, id RubriqueID, slot Slot) error
	Tokens(ctx context.Context, id RubriqueID, slot Slot) ([]Token, error)
	Formulas(ctx context.Context) (map[RubriqueID]Formula, error)
}

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// AttendanceStore holds the NJT recorded by attendance, overriding the
// value F01 derives from contract dates.
type AttendanceStore interface {
	SetWorkedDays(ctx context.Context, e EmployeeID, p Period, days decimal.Decimal) error
	WorkedDays(ctx context.Context, p Period) (map[EmployeeID]decimal.Decimal, error)
}

type PayLineStore interface {
	// ReplaceLines supersedes the set of k with lines.
	ReplaceLines(ctx context.Context, k Key, lines []PayLine) error
	Lines(ctx context.Context, k Key) ([]PayLine, error)
	DeleteLines(ctx context.Context, k Key) error

	// SaveManualLine stores a hand-entered line, replacing any line of the
	// same rubrique for its key.
	SaveManualLine(ctx context.Context, l PayLine) error

	// LinesForPeriod returns every line of a motif and period.
	LinesForPeriod(ctx context.Context, m MotifID, p Period) ([]PayLine, error)

	// History returns lines of e in [from, to], ordered by period.
	History(ctx context.Context, e EmployeeID, from, to Period) ([]PayLine, error)

	// PurgeBefore deletes lines of periods strictly before p.
	PurgeBefore(ctx context.Context, p Period) (int, error)
}

// Store is the full reference and result store of the engine.
type Store interface {
	CatalogStore
	FormulaStore
	EmployeeStore
	AttendanceStore
	PayLineStore
}
