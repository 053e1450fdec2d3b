package formula

import (
	"strings"

	"github.com/moustaphacheikh/paie/payroll"
)

// Labeler names functions and rubriques for display. Either method may
// return "" to fall back to the code.
type Labeler interface {
	FunctionLabel(code payroll.FunctionCode) string
	RubriqueLabel(id payroll.RubriqueID) string
}

// Render shows tokens in entry order, which is also evaluation order:
// the displayed infix text parses back to the same tree.
func Render(tokens []payroll.Token) string {
	return RenderLabeled(tokens, nil)
}

func RenderLabeled(tokens []payroll.Token, l Labeler) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, renderToken(t, l))
	}
	return strings.Join(parts, " ")
}

func renderToken(t payroll.Token, l Labeler) string {
	switch t.Kind {
	case payroll.TokenOperator:
		return t.Op.String()
	case payroll.TokenConstant:
		return t.Constant.String()
	case payroll.TokenFunction:
		if l != nil {
			if s := l.FunctionLabel(t.Function); s != "" {
				return s
			}
		}
		return t.Function.String()
	case payroll.TokenRubrique:
		if l != nil {
			if s := l.RubriqueLabel(t.Rubrique); s != "" {
				return "[" + s + "]"
			}
		}
		return "[" + string(t.Rubrique) + "]"
	}
	return "?"
}

// Canonical renders the parsed tree fully parenthesized, making the
// precedence the evaluator applies explicit.
func Canonical(tokens []payroll.Token) (string, error) {
	e, err := Parse(tokens)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}
