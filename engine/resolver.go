package engine

import (
	"errors"
	"fmt"

	"github.com/moustaphacheikh/paie/formula"
	"github.com/moustaphacheikh/paie/functions"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EVALUATION - One employee/motif/period, rubriques computed on demand
// =============================================================================

// evaluation resolves Function and RubriqueRef tokens for one key. Each
// rubrique is computed at most once; references reuse the cached line.
// Cycles are known before the first evaluation from the dependency graph,
// and the in-progress set guards anything the graph could not see.
type evaluation struct {
	ctx    payroll.EvaluationContext
	lib    *functions.Library
	cycles map[payroll.RubriqueID][]payroll.RubriqueID
	manual map[payroll.RubriqueID]payroll.PayLine

	done       map[payroll.RubriqueID]outcome
	inProgress map[payroll.RubriqueID]bool
}

type outcome struct {
	line payroll.PayLine
	err  error
}

var one = decimal.NewFromInt(1)

func newEvaluation(ctx payroll.EvaluationContext, lib *functions.Library, cycles map[payroll.RubriqueID][]payroll.RubriqueID) *evaluation {
	manual := map[payroll.RubriqueID]payroll.PayLine{}
	for _, l := range ctx.Ref.ManualFor(ctx.Key()) {
		manual[l.Rubrique] = l
	}
	return &evaluation{
		ctx:        ctx,
		lib:        lib,
		cycles:     cycles,
		manual:     manual,
		done:       map[payroll.RubriqueID]outcome{},
		inProgress: map[payroll.RubriqueID]bool{},
	}
}

// Function implements formula.Resolver.
func (ev *evaluation) Function(code payroll.FunctionCode, ctx payroll.EvaluationContext) (decimal.Decimal, error) {
	return ev.lib.Call(code, ctx)
}

// Rubrique implements formula.Resolver: a reference is worth the amount of
// the referenced rubrique for the same key.
func (ev *evaluation) Rubrique(id payroll.RubriqueID, _ payroll.EvaluationContext) (decimal.Decimal, error) {
	line, err := ev.compute(id)
	if err == nil {
		return line.Amount, nil
	}
	var ferr *payroll.FormulaError
	if errors.As(err, &ferr) {
		// Re-attribute to the referencing rubrique, keeping the root cause.
		return decimal.Zero, &payroll.FormulaError{
			Reason:   ferr.Reason,
			Position: -1,
			Path:     ferr.Path,
			Detail:   fmt.Sprintf("via %s: %s", id, ferr.Error()),
		}
	}
	return decimal.Zero, err
}

// compute returns the line of rubrique id, computing it on first use.
func (ev *evaluation) compute(id payroll.RubriqueID) (payroll.PayLine, error) {
	if out, ok := ev.done[id]; ok {
		return out.line, out.err
	}
	if path, ok := ev.cycles[id]; ok {
		err := ev.cycleError(id, path)
		ev.done[id] = outcome{err: err}
		return payroll.PayLine{}, err
	}
	if ev.inProgress[id] {
		return payroll.PayLine{}, ev.cycleError(id, []payroll.RubriqueID{id, id})
	}
	ev.inProgress[id] = true
	line, err := ev.computeRubrique(id)
	delete(ev.inProgress, id)

	ev.done[id] = outcome{line: line, err: err}
	return line, err
}

func (ev *evaluation) cycleError(id payroll.RubriqueID, path []payroll.RubriqueID) error {
	return &payroll.FormulaError{
		Reason:   payroll.ReasonCycle,
		Employee: ev.ctx.Employee.ID,
		Rubrique: id,
		Period:   ev.ctx.Period,
		Position: -1,
		Path:     path,
		Detail:   "rubrique references itself",
	}
}

func (ev *evaluation) computeRubrique(id payroll.RubriqueID) (payroll.PayLine, error) {
	ref := ev.ctx.Ref
	r, err := ref.Rubrique(id)
	if err != nil {
		return payroll.PayLine{}, err
	}
	line := newLine(ev.ctx.Key(), r)
	manual, hasManual := ev.manual[id]
	line.Manual = hasManual && manual.Manual

	switch {
	case id == ref.Parameters.BaseSalaryRubrique:
		grid, err := functions.GridSalary(ev.ctx)
		if err != nil {
			return payroll.PayLine{}, err
		}
		line.Base, line.Quantity = grid, one

	case r.DirectAmount:
		amount := decimal.Zero
		if hasManual {
			amount = manual.Amount
		}
		line.Base, line.Quantity = amount, one

	case r.IsRetenue() && ev.hasDue(id):
		due, _ := ref.DueFor(ev.ctx.Employee.ID, id)
		line.Base, line.Quantity = due, one

	default:
		if line.Base, err = ev.slot(r, payroll.SlotBase, manual, hasManual); err != nil {
			return payroll.PayLine{}, err
		}
		if line.Quantity, err = ev.slot(r, payroll.SlotQuantity, manual, hasManual); err != nil {
			return payroll.PayLine{}, err
		}
	}
	line.Amount = payroll.RoundAmount(line.Base.Mul(line.Quantity))
	return line, nil
}

func (ev *evaluation) hasDue(id payroll.RubriqueID) bool {
	due, ok := ev.ctx.Ref.DueFor(ev.ctx.Employee.ID, id)
	return ok && due.IsPositive()
}

// slot evaluates the formula of an auto slot, or takes the stored value.
// A slot with no stored value defaults to 0 for Base and 1 for Quantity.
func (ev *evaluation) slot(r payroll.Rubrique, s payroll.Slot, manual payroll.PayLine, hasManual bool) (decimal.Decimal, error) {
	auto := r.BaseAuto
	if s == payroll.SlotQuantity {
		auto = r.QuantityAuto
	}
	tokens := ev.ctx.Ref.Formula(r.ID).Slot(s)
	if auto && len(tokens) > 0 {
		v, err := formula.Evaluate(tokens, ev.ctx, ev)
		if err != nil {
			return decimal.Zero, formula.Annotate(err, ev.ctx, r.ID, s)
		}
		return v, nil
	}
	switch {
	case s == payroll.SlotBase && hasManual:
		return manual.Base, nil
	case s == payroll.SlotQuantity && hasManual && !manual.Quantity.IsZero():
		return manual.Quantity, nil
	case s == payroll.SlotQuantity:
		return one, nil
	}
	return decimal.Zero, nil
}

func newLine(k payroll.Key, r payroll.Rubrique) payroll.PayLine {
	return payroll.PayLine{
		Employee:    k.Employee,
		Rubrique:    r.ID,
		Motif:       k.Motif,
		Period:      k.Period,
		Sense:       r.Sense,
		DeductionDu: r.DeductionDu,
		Flags:       r.Flags,
		Fixed:       r.Fixed,
	}
}
