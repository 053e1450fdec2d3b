package formula

import (
	"errors"
	"fmt"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOLVER - Where function and rubrique values come from
// =============================================================================

// Resolver supplies values for Function and RubriqueRef tokens. The
// evaluator itself is pure: it holds no state between calls.
type Resolver interface {
	Function(code payroll.FunctionCode, ctx payroll.EvaluationContext) (decimal.Decimal, error)
	Rubrique(id payroll.RubriqueID, ctx payroll.EvaluationContext) (decimal.Decimal, error)
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate parses tokens and computes their value in ctx.
func Evaluate(tokens []payroll.Token, ctx payroll.EvaluationContext, r Resolver) (decimal.Decimal, error) {
	e, err := Parse(tokens)
	if err != nil {
		return decimal.Zero, err
	}
	return Eval(e, ctx, r)
}

// Eval computes a parsed expression.
func Eval(e Expr, ctx payroll.EvaluationContext, r Resolver) (decimal.Decimal, error) {
	switch x := e.(type) {
	case numberExpr:
		return x.value, nil

	case funcExpr:
		v, err := r.Function(x.code, ctx)
		if err != nil {
			return decimal.Zero, tokenError(err, x.at, payroll.ReasonUnknownFunction)
		}
		return v, nil

	case refExpr:
		v, err := r.Rubrique(x.id, ctx)
		if err != nil {
			return decimal.Zero, tokenError(err, x.at, payroll.ReasonUnresolvedReference)
		}
		return v, nil

	case unaryExpr:
		v, err := Eval(x.x, ctx, r)
		if err != nil {
			return decimal.Zero, err
		}
		if x.op == payroll.OpSub {
			return v.Neg(), nil
		}
		return v, nil

	case binaryExpr:
		left, err := Eval(x.left, ctx, r)
		if err != nil {
			return decimal.Zero, err
		}
		right, err := Eval(x.right, ctx, r)
		if err != nil {
			return decimal.Zero, err
		}
		switch x.op {
		case payroll.OpAdd:
			return left.Add(right), nil
		case payroll.OpSub:
			return left.Sub(right), nil
		case payroll.OpMul:
			return left.Mul(right), nil
		case payroll.OpDiv:
			if right.IsZero() {
				return decimal.Zero, &payroll.FormulaError{
					Reason:   payroll.ReasonDivisionByZero,
					Position: x.at,
					Detail:   fmt.Sprintf("%s / %s", x.left, x.right),
				}
			}
			return left.Div(right), nil
		}
	}
	return decimal.Zero, malformed(e.pos(), "unsupported expression")
}

// tokenError keeps formula errors raised deeper (a cycle found while
// resolving a reference) and wraps anything else with the token position.
func tokenError(err error, at int, reason payroll.FormulaReason) error {
	var ferr *payroll.FormulaError
	if errors.As(err, &ferr) {
		return err
	}
	if errors.Is(err, payroll.ErrMissingReferenceData) {
		reason = payroll.ReasonUnresolvedReference
	}
	return &payroll.FormulaError{Reason: reason, Position: at, Detail: err.Error()}
}

// Annotate fills the context fields of a formula error that the evaluator
// cannot know. Non-formula errors are returned unchanged.
func Annotate(err error, ctx payroll.EvaluationContext, id payroll.RubriqueID, slot payroll.Slot) error {
	var ferr *payroll.FormulaError
	if !errors.As(err, &ferr) {
		return err
	}
	out := *ferr
	if out.Rubrique == "" {
		out.Rubrique = id
		out.Slot = slot
	}
	if out.Employee == "" {
		out.Employee = ctx.Employee.ID
	}
	if out.Period.IsZero() {
		out.Period = ctx.Period
	}
	return &out
}
