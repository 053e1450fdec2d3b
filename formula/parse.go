/*
Package formula parses, evaluates and renders rubrique formulas.

PURPOSE:
  A rubrique's Base and Quantity are user-authored infix token lists made
  of operators, function codes, constants and references to other
  rubriques. This package turns a token list into a number for a given
  evaluation context.

GRAMMAR (recursive descent, usual precedence):
  expr    := term   { ("+" | "-") term }
  term    := factor { ("*" | "/") factor }
  factor  := ("+" | "-") factor | primary
  primary := Constant | Function | RubriqueRef | "(" expr ")"

  So [10, +, 2, *, 3] is 16, and [(, 10, +, 2, ), *, 3] is 36.

ERRORS:
  Every failure is a *payroll.FormulaError: malformed stream, division by
  zero, unresolved reference, cycle. The caller decides what a failure
  means for the pay line (skip, zero, abort).

SEE ALSO:
  - eval.go: evaluation against a Resolver
  - render.go: display projections of the same tokens
  - graph.go: dependency ordering and cycle detection between rubriques
*/
package formula

import (
	"fmt"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AST
// =============================================================================

// Expr is a parsed formula.
type Expr interface {
	// String renders the expression fully parenthesized.
	String() string
	pos() int
}

type numberExpr struct {
	value decimal.Decimal
	at    int
}

type funcExpr struct {
	code payroll.FunctionCode
	at   int
}

type refExpr struct {
	id payroll.RubriqueID
	at int
}

type unaryExpr struct {
	op payroll.Operator
	x  Expr
	at int
}

type binaryExpr struct {
	op          payroll.Operator
	left, right Expr
	at          int
}

func (e numberExpr) pos() int { return e.at }
func (e funcExpr) pos() int   { return e.at }
func (e refExpr) pos() int    { return e.at }
func (e unaryExpr) pos() int  { return e.at }
func (e binaryExpr) pos() int { return e.at }

func (e numberExpr) String() string { return e.value.String() }
func (e funcExpr) String() string   { return e.code.String() }
func (e refExpr) String() string    { return "[" + string(e.id) + "]" }
func (e unaryExpr) String() string  { return "(" + e.op.String() + e.x.String() + ")" }
func (e binaryExpr) String() string {
	return "(" + e.left.String() + " " + e.op.String() + " " + e.right.String() + ")"
}

// =============================================================================
// PARSER
// =============================================================================

type parser struct {
	tokens []payroll.Token
	i      int
}

// Parse builds the expression tree of a token list.
func Parse(tokens []payroll.Token) (Expr, error) {
	if len(tokens) == 0 {
		return nil, malformed(-1, "empty formula")
	}
	for i, t := range tokens {
		if err := t.Validate(); err != nil {
			return nil, malformed(i, err.Error())
		}
	}
	p := &parser{tokens: tokens}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.i < len(tokens) {
		return nil, malformed(p.i, fmt.Sprintf("unexpected %s", describe(tokens[p.i])))
	}
	return e, nil
}

func (p *parser) peekOp(ops ...payroll.Operator) (payroll.Operator, bool) {
	if p.i >= len(p.tokens) {
		return 0, false
	}
	t := p.tokens[p.i]
	if t.Kind != payroll.TokenOperator {
		return 0, false
	}
	for _, o := range ops {
		if t.Op == o {
			return o, true
		}
	}
	return 0, false
}

func (p *parser) expr() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp(payroll.OpAdd, payroll.OpSub)
		if !ok {
			return left, nil
		}
		at := p.i
		p.i++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right, at: at}
	}
}

func (p *parser) term() (Expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp(payroll.OpMul, payroll.OpDiv)
		if !ok {
			return left, nil
		}
		at := p.i
		p.i++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right, at: at}
	}
}

func (p *parser) factor() (Expr, error) {
	if op, ok := p.peekOp(payroll.OpAdd, payroll.OpSub); ok {
		at := p.i
		p.i++
		x, err := p.factor()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: op, x: x, at: at}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	if p.i >= len(p.tokens) {
		return nil, malformed(p.i, "unexpected end of formula")
	}
	t := p.tokens[p.i]
	at := p.i
	switch t.Kind {
	case payroll.TokenConstant:
		p.i++
		return numberExpr{value: t.Constant, at: at}, nil
	case payroll.TokenFunction:
		p.i++
		return funcExpr{code: t.Function, at: at}, nil
	case payroll.TokenRubrique:
		p.i++
		return refExpr{id: t.Rubrique, at: at}, nil
	case payroll.TokenOperator:
		if t.Op != payroll.OpOpen {
			return nil, malformed(at, fmt.Sprintf("unexpected operator %s", t.Op))
		}
		p.i++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, ok := p.peekOp(payroll.OpClose); !ok {
			return nil, malformed(at, "unbalanced parenthesis")
		}
		p.i++
		return inner, nil
	}
	return nil, malformed(at, "invalid token")
}

func describe(t payroll.Token) string {
	switch t.Kind {
	case payroll.TokenOperator:
		return "operator " + t.Op.String()
	case payroll.TokenFunction:
		return "function " + t.Function.String()
	case payroll.TokenConstant:
		return "constant " + t.Constant.String()
	case payroll.TokenRubrique:
		return "rubrique " + string(t.Rubrique)
	}
	return "token"
}

func malformed(at int, detail string) *payroll.FormulaError {
	return &payroll.FormulaError{Reason: payroll.ReasonMalformed, Position: at, Detail: detail}
}

// Validate reports whether tokens form a complete expression.
func Validate(tokens []payroll.Token) error {
	_, err := Parse(tokens)
	return err
}
