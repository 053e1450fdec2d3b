package formula_test

import (
	"errors"
	"testing"

	"github.com/moustaphacheikh/paie/formula"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// mapResolver resolves functions and rubriques from fixed maps.
type mapResolver struct {
	functions map[payroll.FunctionCode]decimal.Decimal
	rubriques map[payroll.RubriqueID]decimal.Decimal
	calls     int
}

func (m *mapResolver) Function(code payroll.FunctionCode, _ payroll.EvaluationContext) (decimal.Decimal, error) {
	m.calls++
	v, ok := m.functions[code]
	if !ok {
		return decimal.Zero, errors.New("function not configured")
	}
	return v, nil
}

func (m *mapResolver) Rubrique(id payroll.RubriqueID, _ payroll.EvaluationContext) (decimal.Decimal, error) {
	m.calls++
	v, ok := m.rubriques[id]
	if !ok {
		return decimal.Zero, payroll.Missing("rubrique", string(id))
	}
	return v, nil
}

func evalCtx() payroll.EvaluationContext {
	return payroll.EvaluationContext{
		Employee: payroll.Employee{ID: "emp-1"},
		Motif:    payroll.Motif{ID: "NORMAL"},
		Period:   payroll.NewPeriod(2025, 3),
	}
}

func dec(s string) decimal.Decimal { return payroll.MustParseDecimal(s) }

var (
	lparen = payroll.Op(payroll.OpOpen)
	rparen = payroll.Op(payroll.OpClose)
	plus   = payroll.Op(payroll.OpAdd)
	minus  = payroll.Op(payroll.OpSub)
	times  = payroll.Op(payroll.OpMul)
	div    = payroll.Op(payroll.OpDiv)
)

func c(n int64) payroll.Token { return payroll.ConstInt(n) }

func eval(t *testing.T, tokens ...payroll.Token) decimal.Decimal {
	t.Helper()
	v, err := formula.Evaluate(tokens, evalCtx(), &mapResolver{})
	require.NoError(t, err)
	return v
}

// =============================================================================
// PRECEDENCE
// =============================================================================

func TestEvaluate_MultiplicationBindsTighter(t *testing.T) {
	// [C:10, +, C:2, *, C:3] is 16, not 36
	assert.True(t, eval(t, c(10), plus, c(2), times, c(3)).Equal(decimal.NewFromInt(16)))
}

func TestEvaluate_ParenthesesOverridePrecedence(t *testing.T) {
	assert.True(t, eval(t, lparen, c(10), plus, c(2), rparen, times, c(3)).Equal(decimal.NewFromInt(36)))
}

func TestEvaluate_LeftAssociativity(t *testing.T) {
	assert.True(t, eval(t, c(10), minus, c(4), minus, c(3)).Equal(decimal.NewFromInt(3)))
	assert.True(t, eval(t, c(100), div, c(10), div, c(2)).Equal(decimal.NewFromInt(5)))
}

func TestEvaluate_NestedParentheses(t *testing.T) {
	// ((2 + 3) * (4 - 1)) / 5 = 3
	v := eval(t, lparen, lparen, c(2), plus, c(3), rparen, times, lparen, c(4), minus, c(1), rparen, rparen, div, c(5))
	assert.True(t, v.Equal(decimal.NewFromInt(3)))
}

func TestEvaluate_UnaryMinus(t *testing.T) {
	assert.True(t, eval(t, minus, c(5), plus, c(2)).Equal(decimal.NewFromInt(-3)))
	assert.True(t, eval(t, c(2), times, minus, c(3)).Equal(decimal.NewFromInt(-6)))
}

func TestEvaluate_DecimalConstants(t *testing.T) {
	v := eval(t, payroll.ConstString("0.05"), times, c(40000))
	assert.True(t, v.Equal(decimal.NewFromInt(2000)))
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestEvaluate_FunctionsAndReferences(t *testing.T) {
	r := &mapResolver{
		functions: map[payroll.FunctionCode]decimal.Decimal{payroll.F04: dec("0.05")},
		rubriques: map[payroll.RubriqueID]decimal.Decimal{"SALBASE": dec("40000")},
	}
	v, err := formula.Evaluate([]payroll.Token{payroll.Fn(payroll.F04), times, payroll.Ref("SALBASE")}, evalCtx(), r)
	require.NoError(t, err)
	assert.True(t, v.Equal(dec("2000")))
}

func TestEvaluate_Deterministic(t *testing.T) {
	r := &mapResolver{functions: map[payroll.FunctionCode]decimal.Decimal{payroll.F01: dec("26")}}
	tokens := []payroll.Token{payroll.Fn(payroll.F01), div, c(30), times, c(1000)}
	first, err := formula.Evaluate(tokens, evalCtx(), r)
	require.NoError(t, err)
	second, err := formula.Evaluate(tokens, evalCtx(), r)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestEvaluate_UnresolvedReference(t *testing.T) {
	_, err := formula.Evaluate([]payroll.Token{c(1), plus, payroll.Ref("MISSING")}, evalCtx(), &mapResolver{})
	var ferr *payroll.FormulaError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, payroll.ReasonUnresolvedReference, ferr.Reason)
	assert.Equal(t, 2, ferr.Position)
	assert.ErrorIs(t, err, payroll.ErrFormula)
}

func TestEvaluate_FunctionFailure(t *testing.T) {
	_, err := formula.Evaluate([]payroll.Token{payroll.Fn(payroll.F09)}, evalCtx(), &mapResolver{})
	var ferr *payroll.FormulaError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, payroll.ReasonUnknownFunction, ferr.Reason)
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	_, err := formula.Evaluate([]payroll.Token{c(10), div, lparen, c(2), minus, c(2), rparen}, evalCtx(), &mapResolver{})
	var ferr *payroll.FormulaError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, payroll.ReasonDivisionByZero, ferr.Reason)
	assert.Equal(t, 1, ferr.Position)
}

// =============================================================================
// MALFORMED STREAMS
// =============================================================================

func TestParse_Malformed(t *testing.T) {
	cases := map[string][]payroll.Token{
		"empty":             nil,
		"trailing operator": {c(1), plus},
		"leading binary":    {times, c(1)},
		"missing rparen":     {lparen, c(1), plus, c(2)},
		"extra rparen":       {c(1), rparen},
		"two operands":      {c(1), c(2)},
		"empty parens":      {lparen, rparen},
		"bad operator":      {payroll.Op('%')},
		"bad function":      {payroll.Fn(99)},
		"empty reference":   {payroll.Ref("")},
	}
	for name, tokens := range cases {
		t.Run(name, func(t *testing.T) {
			err := formula.Validate(tokens)
			var ferr *payroll.FormulaError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, payroll.ReasonMalformed, ferr.Reason)
		})
	}
}

func TestEvaluate_MalformedDoesNotCallResolver(t *testing.T) {
	r := &mapResolver{functions: map[payroll.FunctionCode]decimal.Decimal{payroll.F01: dec("1")}}
	_, err := formula.Evaluate([]payroll.Token{payroll.Fn(payroll.F01), plus}, evalCtx(), r)
	require.Error(t, err)
	assert.Zero(t, r.calls)
}

// =============================================================================
// RENDERING
// =============================================================================

func TestRender_EntryOrder(t *testing.T) {
	tokens := []payroll.Token{payroll.Fn(payroll.F04), times, lparen, payroll.Ref("SALBASE"), plus, payroll.ConstString("1.5"), rparen}
	assert.Equal(t, "F04 * ( [SALBASE] + 1.5 )", formula.Render(tokens))
}

type labels struct{}

func (labels) FunctionLabel(code payroll.FunctionCode) string {
	if code == payroll.F04 {
		return "TauxAnciennete"
	}
	return ""
}
func (labels) RubriqueLabel(id payroll.RubriqueID) string { return "" }

func TestRenderLabeled_FallsBackToCodes(t *testing.T) {
	tokens := []payroll.Token{payroll.Fn(payroll.F04), times, payroll.Fn(payroll.F23)}
	assert.Equal(t, "TauxAnciennete * F23", formula.RenderLabeled(tokens, labels{}))
}

func TestCanonical_MatchesEvaluationPrecedence(t *testing.T) {
	s, err := formula.Canonical([]payroll.Token{c(10), plus, c(2), times, c(3)})
	require.NoError(t, err)
	assert.Equal(t, "(10 + (2 * 3))", s)

	s, err = formula.Canonical([]payroll.Token{lparen, c(10), plus, c(2), rparen, times, c(3)})
	require.NoError(t, err)
	assert.Equal(t, "((10 + 2) * 3)", s)
}

// =============================================================================
// EDITING
// =============================================================================

func TestEdit_AppendDropClear(t *testing.T) {
	var tokens []payroll.Token
	var err error
	tokens, err = formula.Append(tokens, c(1))
	require.NoError(t, err)
	tokens, err = formula.Append(tokens, plus)
	require.NoError(t, err)
	tokens, err = formula.Append(tokens, c(2))
	require.NoError(t, err)
	assert.Equal(t, "1 + 2", formula.Render(tokens))

	tokens = formula.DropLast(tokens)
	assert.Equal(t, "1 +", formula.Render(tokens))

	_, err = formula.Append(tokens, payroll.Op('^'))
	assert.ErrorIs(t, err, payroll.ErrFormula)

	assert.Empty(t, formula.Clear(tokens))
	assert.Empty(t, formula.DropLast(nil))
}

func TestEdit_AppendDoesNotAlias(t *testing.T) {
	base := make([]payroll.Token, 1, 4)
	base[0] = c(1)
	a, _ := formula.Append(base, plus)
	b, _ := formula.Append(base, times)
	assert.Equal(t, payroll.OpAdd, a[1].Op)
	assert.Equal(t, payroll.OpMul, b[1].Op)
}

// =============================================================================
// DEPENDENCY GRAPH
// =============================================================================

func TestGraph_OrderPutsDependenciesFirst(t *testing.T) {
	g := formula.BuildGraph(map[payroll.RubriqueID]payroll.Formula{
		"PRIME":   {Base: []payroll.Token{payroll.Fn(payroll.F04)}, Quantity: []payroll.Token{payroll.Ref("SALBASE")}},
		"CNSS":    {Base: []payroll.Token{payroll.Ref("PRIME"), plus, payroll.Ref("SALBASE")}},
		"SALBASE": {Base: []payroll.Token{payroll.Fn(payroll.F23)}},
	})
	order, cycles := g.Order()
	assert.Empty(t, cycles)
	pos := map[payroll.RubriqueID]int{}
	for i, id := range order {
		pos[id] = i
	}
	require.Len(t, order, 3)
	assert.Less(t, pos["SALBASE"], pos["PRIME"])
	assert.Less(t, pos["PRIME"], pos["CNSS"])
}

func TestGraph_SelfReferenceIsCycle(t *testing.T) {
	g := formula.BuildGraph(map[payroll.RubriqueID]payroll.Formula{
		"A": {Base: []payroll.Token{payroll.Ref("A"), plus, c(1)}},
	})
	order, cycles := g.Order()
	assert.Empty(t, order)
	assert.Equal(t, []payroll.RubriqueID{"A", "A"}, cycles["A"])
}

func TestGraph_TransitiveCycleFoundThroughCrossEdge(t *testing.T) {
	// A -> B -> A and A -> C -> B: C sits on the cycle A -> C -> B -> A
	g := formula.BuildGraph(map[payroll.RubriqueID]payroll.Formula{
		"A": {Base: []payroll.Token{payroll.Ref("B"), plus, payroll.Ref("C")}},
		"B": {Base: []payroll.Token{payroll.Ref("A")}},
		"C": {Quantity: []payroll.Token{payroll.Ref("B")}},
		"D": {Base: []payroll.Token{c(1)}},
	})
	order, cycles := g.Order()
	assert.Equal(t, []payroll.RubriqueID{"D"}, order)
	require.Len(t, cycles, 3)
	assert.Equal(t, []payroll.RubriqueID{"B", "A", "B"}, cycles["B"])
	assert.Equal(t, payroll.RubriqueID("C"), cycles["C"][0])
	assert.Equal(t, payroll.RubriqueID("C"), cycles["C"][len(cycles["C"])-1])
}

func TestReferences_Deduplicated(t *testing.T) {
	refs := formula.References([]payroll.Token{payroll.Ref("X"), plus, payroll.Ref("Y"), times, payroll.Ref("X")})
	assert.Equal(t, []payroll.RubriqueID{"X", "Y"}, refs)
}
