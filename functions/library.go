// Package functions implements the payroll function library F01..F24.
//
// =============================================================================
// PURPOSE
// =============================================================================
//
// Function tokens in a rubrique formula are resolved here. Every function
// reads only the EvaluationContext it is given: the employee, the motif,
// the period and the reference snapshot loaded before the run. Nothing is
// cached or mutated between calls, so the same context always yields the
// same value.
//
// =============================================================================
// EDGE-CASE POLICIES
// =============================================================================
//
//	F01 NJT            WorkedDays override wins. Otherwise MonthDays for a
//	                   full month, the covered calendar days (capped at
//	                   MonthDays) when hired or leaving mid-period, and 0
//	                   before hire, after exit, or on leave for a normal run.
//	F02/F03/F13/F23    fail with MissingReferenceData when the employee
//	                   category has no salary grid entry.
//	F04/F10/F22        tenure counted at period end from SeniorityDate
//	                   (HireDate when unset); 0 before the start date.
//	F05/F06            history from the period of the last leave departure
//	                   (hire period when none) up to the previous period.
//	F07                the twelve periods before the current one. History
//	                   keeps the last active values while on leave.
//	F14..F21           the employee's overtime summary; zero when no hours
//	                   were recorded.
//	F24                months from the last leave departure (or hire) to
//	                   the current period, never negative.
//
// SEE ALSO
//
//   - formula.Resolver: the engine calls Library.Call for Function tokens
//   - overtime.Engine: produces the summaries read by F14..F21
package functions

import (
	"fmt"
	"sort"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// Func computes one library function.
type Func func(ctx payroll.EvaluationContext) (decimal.Decimal, error)

// Descriptor names a function for configurators.
type Descriptor struct {
	Code     payroll.FunctionCode `json:"code"`
	Mnemonic string               `json:"mnemonic"`
	Label    string               `json:"label"`
}

type entry struct {
	Descriptor
	fn Func
}

// Library dispatches function codes. The zero value is not usable; use New.
type Library struct {
	entries map[payroll.FunctionCode]entry
}

// New returns the library with all 24 functions registered.
func New() *Library {
	l := &Library{entries: make(map[payroll.FunctionCode]entry, payroll.FunctionCount)}
	l.register(payroll.F01, "NJT", "Jours travailles", WorkedDays)
	l.register(payroll.F02, "SALJ", "Salaire journalier", DailySalary)
	l.register(payroll.F03, "SALH", "Salaire horaire", HourlySalary)
	l.register(payroll.F04, "TXANC", "Taux d'anciennete", SeniorityRate)
	l.register(payroll.F05, "CUMBI", "Cumul brut imposable depuis le dernier conge", CumulTaxableSinceLeave)
	l.register(payroll.F06, "CUMBNI", "Cumul brut non imposable depuis le dernier conge", CumulNonTaxableSinceLeave)
	l.register(payroll.F07, "BRUT12", "Brut des douze derniers mois", TrailingGross)
	l.register(payroll.F08, "SMIG", "SMIG", SMIG)
	l.register(payroll.F09, "SMIGH", "SMIG horaire", HourlySMIG)
	l.register(payroll.F10, "TXLIC", "Taux d'indemnite de licenciement", DismissalRate)
	l.register(payroll.F11, "NBENF", "Nombre d'enfants", Children)
	l.register(payroll.F12, "TXPRES", "Taux de presence", PresenceRate)
	l.register(payroll.F13, "BLOG", "Base indemnite de logement", HousingBase)
	l.register(payroll.F14, "HS", "Total heures supplementaires", TotalOvertime)
	l.register(payroll.F15, "HS115", "Heures supplementaires 115%", tier(func(s payroll.OvertimeSummary) decimal.Decimal { return s.HS115 }))
	l.register(payroll.F16, "HS140", "Heures supplementaires 140%", tier(func(s payroll.OvertimeSummary) decimal.Decimal { return s.HS140 }))
	l.register(payroll.F17, "HS150", "Heures supplementaires 150%", tier(func(s payroll.OvertimeSummary) decimal.Decimal { return s.HS150 }))
	l.register(payroll.F18, "HS200", "Heures supplementaires 200%", tier(func(s payroll.OvertimeSummary) decimal.Decimal { return s.HS200 }))
	l.register(payroll.F19, "PANIER", "Primes de panier", Meals)
	l.register(payroll.F20, "ELOIGN", "Primes d'eloignement", Remoteness)
	l.register(payroll.F21, "HNUIT", "Heures de nuit", NightHours)
	l.register(payroll.F22, "ANC", "Annees d'anciennete", SeniorityYears)
	l.register(payroll.F23, "SALBASE", "Salaire de base de la grille", GridSalary)
	l.register(payroll.F24, "MDC", "Mois depuis le dernier conge", MonthsSinceLeave)
	return l
}

func (l *Library) register(code payroll.FunctionCode, mnemonic, label string, fn Func) {
	l.entries[code] = entry{Descriptor: Descriptor{Code: code, Mnemonic: mnemonic, Label: label}, fn: fn}
}

// Call evaluates code in ctx.
func (l *Library) Call(code payroll.FunctionCode, ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	e, ok := l.entries[code]
	if !ok {
		return decimal.Zero, &payroll.FormulaError{
			Reason:   payroll.ReasonUnknownFunction,
			Employee: ctx.Employee.ID,
			Period:   ctx.Period,
			Position: -1,
			Detail:   fmt.Sprintf("function %s is not registered", code),
		}
	}
	if ctx.Ref == nil {
		return decimal.Zero, payroll.Missing("reference data", "snapshot")
	}
	return e.fn(ctx)
}

// Describe lists the registered functions in code order.
func (l *Library) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// FunctionLabel returns the mnemonic shown in rendered formulas.
func (l *Library) FunctionLabel(code payroll.FunctionCode) string {
	return l.entries[code].Mnemonic
}
