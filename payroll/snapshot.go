package payroll

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PARAMETERS - General payroll parameters
// =============================================================================

// Band is one row of a tenure-banded rate table: Rate applies from
// FromYears completed years onwards, until the next band.
type Band struct {
	FromYears int             `json:"from_years"`
	Rate      decimal.Decimal `json:"rate"`
}

type Parameters struct {
	CurrentPeriod Period

	SMIG         decimal.Decimal
	MonthlyHours decimal.Decimal
	MonthDays    int

	SalaryGrid     map[Category]decimal.Decimal
	SeniorityBands []Band
	DismissalBands []Band
	HousingRate    decimal.Decimal
	MaxChildren    int

	// BaseSalaryRubrique takes its amount from the salary grid.
	BaseSalaryRubrique RubriqueID

	// WeeklyThreshold is the legal week; daily-mode hours above it are overtime.
	WeeklyThreshold decimal.Decimal

	// HistoryHorizonMonths is how many months of pay lines are retained.
	HistoryHorizonMonths int
}

func DefaultParameters() Parameters {
	return Parameters{
		SMIG:         decimal.NewFromInt(4000),
		MonthlyHours: MustParseDecimal("173.33"),
		MonthDays:    30,
		SalaryGrid:   map[Category]decimal.Decimal{},
		SeniorityBands: []Band{
			{FromYears: 2, Rate: Percent(2)},
			{FromYears: 5, Rate: Percent(5)},
			{FromYears: 10, Rate: Percent(10)},
			{FromYears: 15, Rate: Percent(15)},
			{FromYears: 20, Rate: Percent(20)},
		},
		DismissalBands: []Band{
			{FromYears: 0, Rate: Percent(25)},
			{FromYears: 5, Rate: Percent(30)},
			{FromYears: 10, Rate: Percent(35)},
		},
		HousingRate:          Percent(10),
		MaxChildren:          6,
		BaseSalaryRubrique:   "SALBASE",
		WeeklyThreshold:      decimal.NewFromInt(40),
		HistoryHorizonMonths: 24,
	}
}

// RateFor returns the rate of the highest band reached by years, zero if
// no band is reached. Bands need not be sorted.
func RateFor(bands []Band, years int) decimal.Decimal {
	rate := decimal.Zero
	best := -1
	for _, b := range bands {
		if years >= b.FromYears && b.FromYears > best {
			best = b.FromYears
			rate = b.Rate
		}
	}
	return rate
}

// =============================================================================
// OVERTIME SUMMARY - Per-period output of the overtime engine
// =============================================================================

type OvertimeSummary struct {
	Employee   EmployeeID
	Period     Period
	Mode       OvertimeMode
	DayHours   decimal.Decimal
	NightHours decimal.Decimal
	HS115      decimal.Decimal
	HS140      decimal.Decimal
	HS150      decimal.Decimal
	HS200      decimal.Decimal

	MealAllowances       int
	RemotenessAllowances int
}

// TotalHours is day plus night hours.
func (s OvertimeSummary) TotalHours() decimal.Decimal { return s.DayHours.Add(s.NightHours) }

// TotalOvertime is the sum of the four tiers.
func (s OvertimeSummary) TotalOvertime() decimal.Decimal {
	return s.HS115.Add(s.HS140).Add(s.HS150).Add(s.HS200)
}

// =============================================================================
// SNAPSHOT - Immutable reference data for one computation run
// =============================================================================

// Snapshot is loaded once before a run and never mutated afterwards, so
// computations for different employees can share it across goroutines.
type Snapshot struct {
	Parameters Parameters
	Employees  map[EmployeeID]Employee
	Rubriques  map[RubriqueID]Rubrique
	Formulas   map[RubriqueID]Formula
	Motifs     map[MotifID]Motif

	// History holds finalized lines of earlier periods, oldest first.
	History map[EmployeeID][]PayLine
	// WorkedDays overrides the computed NJT from attendance.
	WorkedDays map[EmployeeID]map[Period]decimal.Decimal
	Overtime   map[EmployeeID]map[Period]OvertimeSummary
	// InstallmentDues is what active installments withhold this run,
	// per retenue rubrique.
	InstallmentDues map[EmployeeID]map[RubriqueID]decimal.Decimal
	// Manual holds the stored lines of the keys being computed, used for
	// non-auto slots and rubriques added by hand.
	Manual map[Key][]PayLine
}

func NewSnapshot(params Parameters) *Snapshot {
	return &Snapshot{
		Parameters:      params,
		Employees:       map[EmployeeID]Employee{},
		Rubriques:       map[RubriqueID]Rubrique{},
		Formulas:        map[RubriqueID]Formula{},
		Motifs:          map[MotifID]Motif{},
		History:         map[EmployeeID][]PayLine{},
		WorkedDays:      map[EmployeeID]map[Period]decimal.Decimal{},
		Overtime:        map[EmployeeID]map[Period]OvertimeSummary{},
		InstallmentDues: map[EmployeeID]map[RubriqueID]decimal.Decimal{},
		Manual:          map[Key][]PayLine{},
	}
}

func (s *Snapshot) Employee(id EmployeeID) (Employee, error) {
	e, ok := s.Employees[id]
	if !ok {
		return Employee{}, Missing("employee", string(id))
	}
	return e, nil
}

func (s *Snapshot) Rubrique(id RubriqueID) (Rubrique, error) {
	r, ok := s.Rubriques[id]
	if !ok {
		return Rubrique{}, Missing("rubrique", string(id))
	}
	return r, nil
}

func (s *Snapshot) Motif(id MotifID) (Motif, error) {
	m, ok := s.Motifs[id]
	if !ok {
		return Motif{}, Missing("motif", string(id))
	}
	return m, nil
}

func (s *Snapshot) Formula(id RubriqueID) Formula { return s.Formulas[id] }

// RubriquesFor returns the catalog rubriques applying to motif m, in
// catalog order.
func (s *Snapshot) RubriquesFor(m MotifID) []Rubrique {
	var out []Rubrique
	for _, r := range s.Rubriques {
		if r.AppliesTo(m) {
			out = append(out, r)
		}
	}
	SortRubriques(out)
	return out
}

func SortRubriques(rs []Rubrique) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Order != rs[j].Order {
			return rs[i].Order < rs[j].Order
		}
		return rs[i].ID < rs[j].ID
	})
}

func (s *Snapshot) OvertimeFor(e EmployeeID, p Period) OvertimeSummary {
	if byPeriod, ok := s.Overtime[e]; ok {
		if sum, ok := byPeriod[p]; ok {
			return sum
		}
	}
	return OvertimeSummary{Employee: e, Period: p}
}

func (s *Snapshot) WorkedDaysFor(e EmployeeID, p Period) (decimal.Decimal, bool) {
	if byPeriod, ok := s.WorkedDays[e]; ok {
		d, ok := byPeriod[p]
		return d, ok
	}
	return decimal.Zero, false
}

func (s *Snapshot) HistoryFor(e EmployeeID) []PayLine { return s.History[e] }

func (s *Snapshot) DueFor(e EmployeeID, r RubriqueID) (decimal.Decimal, bool) {
	if byRubrique, ok := s.InstallmentDues[e]; ok {
		d, ok := byRubrique[r]
		return d, ok
	}
	return decimal.Zero, false
}

func (s *Snapshot) ManualFor(k Key) []PayLine { return s.Manual[k] }

// =============================================================================
// EVALUATION CONTEXT
// =============================================================================

// EvaluationContext is passed by value into every engine call in place of
// any shared "current period/user" state.
type EvaluationContext struct {
	Employee Employee
	Motif    Motif
	Period   Period
	Ref      *Snapshot
}

// Context resolves the employee and motif of a computation.
func (s *Snapshot) Context(e EmployeeID, m MotifID, p Period) (EvaluationContext, error) {
	emp, err := s.Employee(e)
	if err != nil {
		return EvaluationContext{}, err
	}
	motif, err := s.Motif(m)
	if err != nil {
		return EvaluationContext{}, err
	}
	return EvaluationContext{Employee: emp, Motif: motif, Period: p, Ref: s}, nil
}

func (c EvaluationContext) Key() Key {
	return Key{Employee: c.Employee.ID, Motif: c.Motif.ID, Period: c.Period}
}
