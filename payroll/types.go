/*
Package payroll holds the core model shared by every part of the engine.

PURPOSE:
  Rubriques (pay line items), employees, motifs, periods and the pay lines
  materialized from them. The formula, function, overtime, installment and
  engine packages all speak in these types; none of them owns the model.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rubrique: configurable earning (Gain) or deduction (Retenue)
  - Employee: the attributes the function library reads
  - Motif: reason code of a pay run (normal, leave, bonus...)
  - PayLine: the computed result for (employee, rubrique, motif, period)
  - Key: the unit of recomputation (employee, motif, period)

DESIGN PRINCIPLES:
  1. Closed enumerations instead of string codes (Sense, DeductionBase, ...)
  2. Precision: every amount is a decimal.Decimal
  3. Pay lines are superseded, never edited in place

SEE ALSO:
  - period.go: month periods
  - formula.go: formula tokens
  - snapshot.go: immutable reference data for one run
  - errors.go: error kinds
*/
package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RubriqueID string
type MotifID string
type Category string

// =============================================================================
// RUBRIQUE
// =============================================================================

// Sense tells whether a rubrique adds to or withholds from pay.
type Sense int

const (
	SenseGain Sense = iota + 1
	SenseRetenue
)

func (s Sense) String() string {
	switch s {
	case SenseGain:
		return "gain"
	case SenseRetenue:
		return "retenue"
	default:
		return "unknown"
	}
}

// ParseSense accepts the long names and the legacy one-letter codes G/R.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gain", "g":
		return SenseGain, nil
	case "retenue", "r":
		return SenseRetenue, nil
	}
	return 0, fmt.Errorf("unknown rubrique sense %q", s)
}

// DeductionBase tells which total a retenue reduces.
type DeductionBase int

const (
	DeductNet DeductionBase = iota
	DeductBrut
)

func (d DeductionBase) String() string {
	if d == DeductBrut {
		return "brut"
	}
	return "net"
}

func ParseDeductionBase(s string) (DeductionBase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "net", "n":
		return DeductNet, nil
	case "brut", "b":
		return DeductBrut, nil
	}
	return 0, fmt.Errorf("unknown deduction base %q", s)
}

// Flags are copied from the rubrique onto every pay line so that the
// closing and reporting side can aggregate without re-reading the catalog.
type Flags struct {
	Cumulable   bool `json:"cumulable"`
	Capped      bool `json:"capped"`
	SubjectITS  bool `json:"subject_its"`
	SubjectCNSS bool `json:"subject_cnss"`
	SubjectCNAM bool `json:"subject_cnam"`
	InKind      bool `json:"in_kind"`
}

type Rubrique struct {
	ID          RubriqueID
	Label       string
	Sense       Sense
	DeductionDu DeductionBase
	Flags       Flags

	// BaseAuto and QuantityAuto select formula evaluation over the stored
	// manual value for each slot.
	BaseAuto     bool
	QuantityAuto bool

	// Mandatory rubriques abort the employee computation on error.
	Mandatory bool
	// Fixed gains are reported apart from variable ones.
	Fixed bool
	// DirectAmount rubriques take the amount entered on the manual line.
	DirectAmount bool

	// Motifs restricts the runs the rubrique applies to. Empty = all.
	Motifs []MotifID
	Order  int
}

// AppliesTo reports whether the rubrique belongs to a run for motif m.
func (r Rubrique) AppliesTo(m MotifID) bool {
	if len(r.Motifs) == 0 {
		return true
	}
	for _, id := range r.Motifs {
		if id == m {
			return true
		}
	}
	return false
}

func (r Rubrique) IsGain() bool    { return r.Sense == SenseGain }
func (r Rubrique) IsRetenue() bool { return r.Sense == SenseRetenue }

// =============================================================================
// MOTIF
// =============================================================================

type MotifKind int

const (
	MotifNormal MotifKind = iota
	MotifLeave
	MotifBonus
	MotifOther
)

func (k MotifKind) String() string {
	switch k {
	case MotifNormal:
		return "normal"
	case MotifLeave:
		return "leave"
	case MotifBonus:
		return "bonus"
	default:
		return "other"
	}
}

func ParseMotifKind(s string) MotifKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return MotifNormal
	case "leave", "conge":
		return MotifLeave
	case "bonus", "prime":
		return MotifBonus
	default:
		return MotifOther
	}
}

type Motif struct {
	ID    MotifID
	Label string
	Kind  MotifKind
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type PaymentMode string

const (
	PaymentTransfer PaymentMode = "virement"
	PaymentCash     PaymentMode = "especes"
	PaymentCheque   PaymentMode = "cheque"
)

// OvertimeMode selects how worked hours are recorded for an employee.
type OvertimeMode int

const (
	OvertimeDaily OvertimeMode = iota
	OvertimeWeekly
)

func (m OvertimeMode) String() string {
	if m == OvertimeWeekly {
		return "weekly"
	}
	return "daily"
}

func ParseOvertimeMode(s string) OvertimeMode {
	if strings.EqualFold(strings.TrimSpace(s), "weekly") {
		return OvertimeWeekly
	}
	return OvertimeDaily
}

type Employee struct {
	ID       EmployeeID
	Name     string
	Category Category

	HireDate      time.Time
	SeniorityDate time.Time // zero = HireDate
	ExitDate      *time.Time

	WeeklyHours decimal.Decimal
	Active      bool
	OnLeave     bool

	// LastLeaveDeparture anchors the cumulative gross functions.
	LastLeaveDeparture *time.Time
	Children           int

	PaymentMode   PaymentMode
	Bank          string
	AccountNumber string

	OvertimeMode OvertimeMode
	AutoMeal     bool
	Week         WeekConfig
}

// SeniorityStart is the date tenure is counted from.
func (e Employee) SeniorityStart() time.Time {
	if e.SeniorityDate.IsZero() {
		return e.HireDate
	}
	return e.SeniorityDate
}

// =============================================================================
// PAY LINE
// =============================================================================

// Key identifies one recomputation unit.
type Key struct {
	Employee EmployeeID
	Motif    MotifID
	Period   Period
}

func (k Key) String() string {
	return string(k.Employee) + "/" + string(k.Motif) + "/" + k.Period.String()
}

// PayLine is a materialized rubrique result. At most one current line
// exists per (employee, rubrique, motif, period).
type PayLine struct {
	ID          string
	Employee    EmployeeID
	Rubrique    RubriqueID
	Motif       MotifID
	Period      Period
	Base        decimal.Decimal
	Quantity    decimal.Decimal
	Amount      decimal.Decimal
	Sense       Sense
	DeductionDu DeductionBase
	Flags       Flags
	Fixed       bool
	Manual      bool
	ComputedAt  time.Time
}

func (l PayLine) Key() Key {
	return Key{Employee: l.Employee, Motif: l.Motif, Period: l.Period}
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// RoundAmount rounds a money amount to two decimals.
func RoundAmount(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Percent converts 5 into 0.05.
func Percent(p float64) decimal.Decimal { return decimal.NewFromFloat(p).Div(hundred) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
