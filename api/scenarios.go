/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a catalog,
	employees, hours and installments, ready to compute. Each scenario shows
	one part of the engine.

AVAILABLE SCENARIOS:

	standard-month:  Standard catalog, three employees, daily and weekly
	                 hours, a salary advance repaid by installments
	formula-cycle:   Two rubriques referencing each other next to a valid
	                 one; computing reports the cycle and keeps the rest
	leave-run:       One employee on leave: the normal run is cleared and
	                 the leave run pays the leave indemnity

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Load a catalog through the factory
 3. Create employees
 4. Record hours, worked days and installments
 5. Leave computation to the caller (POST /api/payroll/compute or batches)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-month"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Catalog and employee handlers
  - factory/presets.go: StandardCatalog
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/factory"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioPeriod is the month every scenario is set in.
var ScenarioPeriod = payroll.NewPeriod(2025, time.March)

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-month",
		Name:        "Standard Month",
		Description: "Standard catalog, daily and weekly overtime, salary advance installments",
		Category:    "payroll",
	},
	{
		ID:          "formula-cycle",
		Name:        "Formula Cycle",
		Description: "Two rubriques referencing each other; the rest of the set is still computed",
		Category:    "formulas",
	},
	{
		ID:          "leave-run",
		Name:        "Leave Run",
		Description: "Employee on leave: normal run cleared, leave indemnity paid under CONGE",
		Category:    "payroll",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loaders := map[string]func(context.Context) error{
		"standard-month": h.loadStandardMonthScenario,
		"formula-cycle":  h.loadFormulaCycleScenario,
		"leave-run":      h.loadLeaveRunScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"period":   ScenarioPeriod.String(),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardMonthScenario(ctx context.Context) error {
	doc := factory.StandardCatalog()
	doc.Parameters = scenarioParameters()
	if err := h.loadCatalog(ctx, doc); err != nil {
		return err
	}

	hire := func(y int, m time.Month, d int) time.Time { return payroll.Date(y, m, d) }
	employees := []payroll.Employee{
		scenarioEmployee("EMP-001", "Aminetou Sidi", "A1", hire(2015, time.June, 1), func(e *payroll.Employee) {
			e.Children = 3
			e.AutoMeal = true
			e.Bank = "BMCI"
			e.AccountNumber = "00012-000451"
		}),
		scenarioEmployee("EMP-002", "Mohamed Lemine", "B2", hire(2021, time.September, 15), func(e *payroll.Employee) {
			e.OvertimeMode = payroll.OvertimeWeekly
			e.Bank = "BNM"
			e.AccountNumber = "00031-118804"
		}),
		scenarioEmployee("EMP-003", "Khadijetou Ba", "A2", hire(2025, time.March, 10), func(e *payroll.Employee) {
			e.PaymentMode = payroll.PaymentCash
		}),
	}
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	// EMP-001: a 48-hour week with a night shift and one holiday.
	week := ScenarioPeriod.Start().AddDate(0, 0, 2) // Monday 3 March 2025
	days := []overtime.DailyRecord{
		{Date: week, DayHours: hours(10)},
		{Date: week.AddDate(0, 0, 1), DayHours: hours(10)},
		{Date: week.AddDate(0, 0, 2), DayHours: hours(8), NightHours: hours(2)},
		{Date: week.AddDate(0, 0, 3), DayHours: hours(10), External: true},
		{Date: week.AddDate(0, 0, 4), DayHours: hours(8)},
		{Date: week.AddDate(0, 0, 5), DayHours: hours(6), Holiday150: true},
	}
	for _, d := range days {
		if _, err := h.Overtime.AddDaily(ctx, employees[0], d); err != nil {
			return err
		}
	}

	// EMP-002: two recorded weeks, the second over the 115% cap.
	weeks := []overtime.WeeklyRecord{
		{WeekStart: week, DayHours: hours(44), HS115: hours(4), Meals: 2},
		{WeekStart: week.AddDate(0, 0, 7), DayHours: hours(50), HS115: hours(10), HS140: hours(2), Remoteness: 1},
	}
	for _, wk := range weeks {
		if _, err := h.Overtime.AddWeekly(ctx, employees[1], wk); err != nil {
			return err
		}
	}

	// EMP-003 joined mid-month; attendance counted 20 days.
	if err := h.Store.SetWorkedDays(ctx, "EMP-003", ScenarioPeriod, decimal.NewFromInt(20)); err != nil {
		return err
	}

	// EMP-002 repays a 30000 advance at 10000 a month, one month already withheld.
	inst, err := h.Installments.Open(ctx, installment.OpenRequest{
		Employee: "EMP-002",
		Rubrique: "RET_AVANCE",
		AgreedOn: ScenarioPeriod.Previous().Start(),
		Capital:  decimal.NewFromInt(30000),
		Amount:   decimal.NewFromInt(10000),
		Active:   true,
		Note:     "Avance sur salaire",
	})
	if err != nil {
		return err
	}
	_, err = h.Installments.Settle(ctx, inst.ID, ScenarioPeriod.Previous(), decimal.NewFromInt(10000))
	return err
}

func (h *Handler) loadFormulaCycleScenario(ctx context.Context) error {
	doc := factory.CatalogJSON{
		Parameters: scenarioParameters(),
		Motifs:     []factory.MotifJSON{{ID: "NORMAL", Label: "Paie normale", Kind: "normal"}},
		Rubriques: []factory.RubriqueJSON{
			{ID: "SALBASE", Label: "Salaire de base", Sense: "gain", Mandatory: true, Fixed: true, Order: 10},
			{ID: "PRIME_A", Label: "Prime A", Sense: "gain", Base: "[PRIME_B] + 100", Order: 20},
			{ID: "PRIME_B", Label: "Prime B", Sense: "gain", Base: "[PRIME_A] * 2", Order: 30},
			{ID: "PRIME_RDT", Label: "Prime de rendement", Sense: "gain", Base: "[SALBASE] * 0.05", Order: 40},
			{ID: "PRIME_DIV", Label: "Prime mal saisie", Sense: "gain", Base: "[SALBASE] / (F14 - F14)", Order: 50},
		},
	}
	if err := h.loadCatalog(ctx, doc); err != nil {
		return err
	}
	return h.Store.SaveEmployee(ctx, scenarioEmployee("EMP-101", "Sidi Mohamed", "A1", payroll.Date(2019, time.January, 7), nil))
}

func (h *Handler) loadLeaveRunScenario(ctx context.Context) error {
	doc := factory.StandardCatalog()
	doc.Parameters = scenarioParameters()
	if err := h.loadCatalog(ctx, doc); err != nil {
		return err
	}
	departure := payroll.Date(2024, time.March, 1)
	emp := scenarioEmployee("EMP-201", "Mariem Cheikh", "B1", payroll.Date(2012, time.April, 2), func(e *payroll.Employee) {
		e.OnLeave = true
		e.LastLeaveDeparture = &departure
	})
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}

	// Twelve months of normal pay since the last departure feed F05.
	salbase, _, err := h.Catalogs.RubriqueFromJSON(doc.Rubriques[0])
	if err != nil {
		return err
	}
	for p := payroll.PeriodOf(departure); p.Before(ScenarioPeriod); p = p.Next() {
		key := payroll.Key{Employee: emp.ID, Motif: "NORMAL", Period: p}
		line := payroll.PayLine{
			ID:         uuid.NewString(),
			Employee:   emp.ID,
			Rubrique:   salbase.ID,
			Motif:      key.Motif,
			Period:     p,
			Base:       decimal.NewFromInt(52000),
			Quantity:   decimal.NewFromInt(1),
			Amount:     decimal.NewFromInt(52000),
			Sense:      salbase.Sense,
			Flags:      salbase.Flags,
			Fixed:      salbase.Fixed,
			ComputedAt: p.End(),
		}
		if err := h.Store.ReplaceLines(ctx, key, []payroll.PayLine{line}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadCatalog(ctx context.Context, doc factory.CatalogJSON) error {
	catalog, err := h.Catalogs.FromJSON(doc)
	if err != nil {
		return err
	}
	return catalog.Load(ctx, h.Store)
}

func scenarioParameters() *factory.ParametersJSON {
	return &factory.ParametersJSON{
		CurrentPeriod: ScenarioPeriod.String(),
		SalaryGrid: map[string]decimal.Decimal{
			"A1": decimal.NewFromInt(45000),
			"A2": decimal.NewFromInt(38000),
			"B1": decimal.NewFromInt(52000),
			"B2": decimal.NewFromInt(60000),
		},
	}
}

func scenarioEmployee(id, name, category string, hired time.Time, edit func(*payroll.Employee)) payroll.Employee {
	e := payroll.Employee{
		ID:          payroll.EmployeeID(id),
		Name:        name,
		Category:    payroll.Category(category),
		HireDate:    hired,
		WeeklyHours: decimal.NewFromInt(40),
		Active:      true,
		PaymentMode: payroll.PaymentTransfer,
		Week:        payroll.DefaultWeek(),
	}
	if edit != nil {
		edit(&e)
	}
	return e
}

func hours(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
