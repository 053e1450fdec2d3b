package formula

import (
	"github.com/moustaphacheikh/paie/payroll"
)

// The configurator builds formulas one token at a time, so a list may be
// incomplete between edits. Only single tokens are checked here; Validate
// checks the whole expression.

// Append returns tokens with tok added at the end.
func Append(tokens []payroll.Token, tok payroll.Token) ([]payroll.Token, error) {
	if err := tok.Validate(); err != nil {
		return tokens, malformed(len(tokens), err.Error())
	}
	out := make([]payroll.Token, len(tokens), len(tokens)+1)
	copy(out, tokens)
	return append(out, tok), nil
}

// DropLast removes the last token. Dropping from an empty list is a no-op.
func DropLast(tokens []payroll.Token) []payroll.Token {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]payroll.Token, len(tokens)-1)
	copy(out, tokens)
	return out
}

// Clear empties a formula.
func Clear([]payroll.Token) []payroll.Token { return nil }

// References lists the rubriques a token list refers to, in first-seen order.
func References(tokens []payroll.Token) []payroll.RubriqueID {
	var out []payroll.RubriqueID
	seen := map[payroll.RubriqueID]bool{}
	for _, t := range tokens {
		if t.Kind == payroll.TokenRubrique && !seen[t.Rubrique] {
			seen[t.Rubrique] = true
			out = append(out, t.Rubrique)
		}
	}
	return out
}
