package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/moustaphacheikh/paie/formula"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RUN - Reference data loaded once, shared read-only by every worker
// =============================================================================

// run is the immutable input of one computation: the snapshot and the
// cycles of its formula graph.
type run struct {
	snap   *payroll.Snapshot
	motif  payroll.MotifID
	period payroll.Period
	cycles map[payroll.RubriqueID][]payroll.RubriqueID
}

func (r *run) key(e payroll.EmployeeID) payroll.Key {
	return payroll.Key{Employee: e, Motif: r.motif, Period: r.period}
}

// load reads the reference data shared by the computation of ids for
// (motif, period). Per-key data is read later by forKey. Unknown
// employees are left out of the snapshot; their computation then fails
// with a missing reference instead of failing the whole load.
func (c *Computer) load(ctx context.Context, ids []payroll.EmployeeID, motif payroll.MotifID, period payroll.Period) (*run, error) {
	params, err := c.store.Parameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	snap := payroll.NewSnapshot(params)

	rubriques, err := c.store.ListRubriques(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rubriques: %w", err)
	}
	for _, r := range rubriques {
		snap.Rubriques[r.ID] = r
	}
	motifs, err := c.store.ListMotifs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load motifs: %w", err)
	}
	for _, m := range motifs {
		snap.Motifs[m.ID] = m
	}
	if snap.Formulas, err = c.store.Formulas(ctx); err != nil {
		return nil, fmt.Errorf("load formulas: %w", err)
	}

	var emps []payroll.Employee
	for _, id := range ids {
		e, err := c.store.GetEmployee(ctx, id)
		if errors.Is(err, payroll.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load employee %s: %w", id, err)
		}
		snap.Employees[id] = e
		emps = append(emps, e)
	}

	if err := c.loadEmployeeData(ctx, snap, emps, period); err != nil {
		return nil, err
	}

	_, cycles := formula.BuildGraph(snap.Formulas).Order()
	return &run{snap: snap, motif: motif, period: period, cycles: cycles}, nil
}

func (c *Computer) loadEmployeeData(ctx context.Context, snap *payroll.Snapshot, emps []payroll.Employee, period payroll.Period) error {
	days, err := c.store.WorkedDays(ctx, period)
	if err != nil {
		return fmt.Errorf("load worked days: %w", err)
	}
	summaries, err := c.overtime.Summaries(ctx, emps, period)
	if err != nil {
		return fmt.Errorf("load overtime: %w", err)
	}
	for _, e := range emps {
		if d, ok := days[e.ID]; ok {
			snap.WorkedDays[e.ID] = map[payroll.Period]decimal.Decimal{period: d}
		}
		if s, ok := summaries[e.ID]; ok {
			snap.Overtime[e.ID] = map[payroll.Period]payroll.OvertimeSummary{period: s}
		}
	}
	return nil
}

// forKey returns a run for employee e alone, with the data other writers
// of e's key can change (manual lines, installment dues, history) read
// from the store now. It must be called with the key's recompute lock
// held; the shared snapshot of r is left untouched.
func (c *Computer) forKey(ctx context.Context, r *run, e payroll.EmployeeID) (*run, error) {
	snap := *r.snap
	snap.History = map[payroll.EmployeeID][]payroll.PayLine{}
	snap.InstallmentDues = map[payroll.EmployeeID]map[payroll.RubriqueID]decimal.Decimal{}
	snap.Manual = map[payroll.Key][]payroll.PayLine{}
	if _, ok := snap.Employees[e]; !ok {
		return &run{snap: &snap, motif: r.motif, period: r.period, cycles: r.cycles}, nil
	}

	horizon := snap.Parameters.HistoryHorizonMonths
	if horizon <= 0 {
		horizon = 12
	}
	history, err := c.store.History(ctx, e, r.period.AddMonths(-horizon), r.period.Previous())
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", e, err)
	}
	snap.History[e] = history

	due, err := c.installments.DueFor(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("load installments of %s: %w", e, err)
	}
	if len(due) > 0 {
		snap.InstallmentDues[e] = due
	}

	key := r.key(e)
	current, err := c.store.Lines(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load lines of %s: %w", key, err)
	}
	for _, l := range current {
		if l.Manual {
			snap.Manual[key] = append(snap.Manual[key], l)
		}
	}
	return &run{snap: &snap, motif: r.motif, period: r.period, cycles: r.cycles}, nil
}
