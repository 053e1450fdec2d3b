package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FORMULA TOKENS - Ordered token lists behind a rubrique's Base and Quantity
// =============================================================================

// Slot selects one of the two formulas of a rubrique.
type Slot int

const (
	SlotBase Slot = iota
	SlotQuantity
)

func (s Slot) String() string {
	if s == SlotQuantity {
		return "quantity"
	}
	return "base"
}

func ParseSlot(s string) (Slot, error) {
	switch s {
	case "base", "B":
		return SlotBase, nil
	case "quantity", "Q":
		return SlotQuantity, nil
	}
	return 0, fmt.Errorf("unknown formula slot %q", s)
}

type TokenKind int

const (
	TokenOperator TokenKind = iota + 1
	TokenFunction
	TokenConstant
	TokenRubrique
)

func (k TokenKind) String() string {
	switch k {
	case TokenOperator:
		return "operator"
	case TokenFunction:
		return "function"
	case TokenConstant:
		return "constant"
	case TokenRubrique:
		return "rubrique"
	default:
		return "unknown"
	}
}

// Operator is one of ( ) + - / *.
type Operator byte

const (
	OpOpen  Operator = '('
	OpClose Operator = ')'
	OpAdd   Operator = '+'
	OpSub   Operator = '-'
	OpMul   Operator = '*'
	OpDiv   Operator = '/'
)

func (o Operator) Valid() bool {
	switch o {
	case OpOpen, OpClose, OpAdd, OpSub, OpMul, OpDiv:
		return true
	}
	return false
}

func (o Operator) String() string { return string(o) }

// Token is a tagged variant. Only the field matching Kind is meaningful.
type Token struct {
	Kind     TokenKind
	Op       Operator
	Function FunctionCode
	Constant decimal.Decimal
	Rubrique RubriqueID
}

func Op(o Operator) Token { return Token{Kind: TokenOperator, Op: o} }
func Fn(c FunctionCode) Token { return Token{Kind: TokenFunction, Function: c} }
func Const(d decimal.Decimal) Token { return Token{Kind: TokenConstant, Constant: d} }
func ConstInt(n int64) Token { return Const(decimal.NewFromInt(n)) }
func ConstString(s string) Token { return Const(MustParseDecimal(s)) }
func Ref(id RubriqueID) Token { return Token{Kind: TokenRubrique, Rubrique: id} }

// Validate checks the payload of a single token.
func (t Token) Validate() error {
	switch t.Kind {
	case TokenOperator:
		if !t.Op.Valid() {
			return fmt.Errorf("invalid operator %q", byte(t.Op))
		}
	case TokenFunction:
		if !t.Function.Valid() {
			return fmt.Errorf("invalid function code %d", int(t.Function))
		}
	case TokenConstant:
	case TokenRubrique:
		if t.Rubrique == "" {
			return fmt.Errorf("rubrique reference without id")
		}
	default:
		return fmt.Errorf("invalid token kind %d", int(t.Kind))
	}
	return nil
}

// Formula holds both token lists of a rubrique.
type Formula struct {
	Base     []Token
	Quantity []Token
}

func (f Formula) Slot(s Slot) []Token {
	if s == SlotQuantity {
		return f.Quantity
	}
	return f.Base
}

// =============================================================================
// FUNCTION CODES - Closed set F01..F24
// =============================================================================

type FunctionCode int

const (
	F01 FunctionCode = iota + 1 // worked days (NJT)
	F02                         // daily base salary
	F03                         // hourly base salary
	F04                         // seniority rate
	F05                         // cumulative taxable gross since last leave (BI)
	F06                         // cumulative non-taxable gross since last leave (BNI)
	F07                         // cumulative gross, trailing 12 months
	F08                         // SMIG
	F09                         // hourly SMIG
	F10                         // dismissal rate
	F11                         // dependent children
	F12                         // presence rate
	F13                         // housing allowance base
	F14                         // total overtime hours
	F15                         // overtime hours 115%
	F16                         // overtime hours 140%
	F17                         // overtime hours 150%
	F18                         // overtime hours 200%
	F19                         // meal allowance count
	F20                         // remoteness allowance count
	F21                         // night hours
	F22                         // completed years of seniority
	F23                         // category grid base salary
	F24                         // months since last leave departure
)

// FunctionCount is the size of the closed set.
const FunctionCount = 24

func (c FunctionCode) Valid() bool { return c >= F01 && c <= F24 }

func (c FunctionCode) String() string { return fmt.Sprintf("F%02d", int(c)) }

// ParseFunctionCode reads "F04" or "f4".
func ParseFunctionCode(s string) (FunctionCode, error) {
	var n int
	if _, err := fmt.Sscanf(s, "F%d", &n); err != nil {
		if _, err := fmt.Sscanf(s, "f%d", &n); err != nil {
			return 0, fmt.Errorf("invalid function code %q", s)
		}
	}
	c := FunctionCode(n)
	if !c.Valid() {
		return 0, fmt.Errorf("function code out of range %q", s)
	}
	return c, nil
}
