/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts a JSON rubrique catalog into payroll.Rubrique, payroll.Motif,
  payroll.Parameters and formula token lists, and loads the result into a
  store. Payroll administrators maintain the catalog as a file; the factory
  turns it into the records the engine reads.

JSON SCHEMA:
  {
    "parameters": {
      "smig": 4000,
      "salary_grid": {"A1": 40000},
      "base_salary_rubrique": "SALBASE"
    },
    "motifs": [{"id": "NORMAL", "label": "Paie normale", "kind": "normal"}],
    "rubriques": [
      {
        "id": "PRIME_ANC",
        "label": "Prime d'anciennete",
        "sense": "gain",
        "flags": {"subject_its": true, "subject_cnss": true},
        "base": "F04 * [SALBASE]",
        "quantity": "1"
      }
    ]
  }

FORMULA TEXT:
  Formulas are written the way formula.Render prints them: functions as
  F01..F24, rubriques as [ID] (or a bare identifier), decimal constants and
  the operators + - * / ( ). A slot with formula text is automatic unless
  base_auto / quantity_auto says otherwise.

USAGE:
  f := factory.NewCatalogFactory()
  catalog, err := f.ParseCatalog(jsonString)
  if err != nil {
      return err
  }
  err = catalog.Load(ctx, store)

SEE ALSO:
  - formula/render.go: the inverse text projection
  - presets.go: the standard catalog
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/moustaphacheikh/paie/formula"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	Parameters *ParametersJSON `json:"parameters,omitempty"`
	Motifs     []MotifJSON     `json:"motifs,omitempty"`
	Rubriques  []RubriqueJSON  `json:"rubriques"`
}

// ParametersJSON overrides payroll.DefaultParameters field by field.
type ParametersJSON struct {
	CurrentPeriod        string                     `json:"current_period,omitempty"` // 2006-01
	SMIG                 *decimal.Decimal           `json:"smig,omitempty"`
	MonthlyHours         *decimal.Decimal           `json:"monthly_hours,omitempty"`
	MonthDays            int                        `json:"month_days,omitempty"`
	SalaryGrid           map[string]decimal.Decimal `json:"salary_grid,omitempty"`
	SeniorityBands       []payroll.Band             `json:"seniority_bands,omitempty"`
	DismissalBands       []payroll.Band             `json:"dismissal_bands,omitempty"`
	HousingRate          *decimal.Decimal           `json:"housing_rate,omitempty"`
	MaxChildren          int                        `json:"max_children,omitempty"`
	BaseSalaryRubrique   string                     `json:"base_salary_rubrique,omitempty"`
	WeeklyThreshold      *decimal.Decimal           `json:"weekly_threshold,omitempty"`
	HistoryHorizonMonths int                        `json:"history_horizon_months,omitempty"`
}

type MotifJSON struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"` // normal, leave, bonus, other
}

// RubriqueJSON represents one rubrique and its two formulas.
type RubriqueJSON struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	Sense        string        `json:"sense"`                  // gain | retenue
	DeductionDu  string        `json:"deduction_du,omitempty"` // net | brut
	Flags        payroll.Flags `json:"flags"`
	Base         string        `json:"base,omitempty"`
	Quantity     string        `json:"quantity,omitempty"`
	BaseAuto     *bool         `json:"base_auto,omitempty"`
	QuantityAuto *bool         `json:"quantity_auto,omitempty"`
	Mandatory    bool          `json:"mandatory,omitempty"`
	Fixed        bool          `json:"fixed,omitempty"`
	DirectAmount bool          `json:"direct_amount,omitempty"`
	Motifs       []string      `json:"motifs,omitempty"`
	Order        int           `json:"order,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed catalog ready to be loaded.
type Catalog struct {
	Parameters *payroll.Parameters
	Motifs     []payroll.Motif
	Rubriques  []payroll.Rubrique
	Formulas   map[payroll.RubriqueID]payroll.Formula
}

// Target is what a catalog loads into.
type Target interface {
	payroll.CatalogStore
	payroll.FormulaStore
}

// Load writes the catalog into store. Formulas of the listed rubriques are
// replaced; rubriques absent from the catalog are left untouched.
func (c *Catalog) Load(ctx context.Context, store Target) error {
	if c.Parameters != nil {
		if err := store.SaveParameters(ctx, *c.Parameters); err != nil {
			return fmt.Errorf("failed to save parameters: %w", err)
		}
	}
	for _, m := range c.Motifs {
		if err := store.SaveMotif(ctx, m); err != nil {
			return fmt.Errorf("failed to save motif %s: %w", m.ID, err)
		}
	}
	for _, r := range c.Rubriques {
		if err := store.SaveRubrique(ctx, r); err != nil {
			return fmt.Errorf("failed to save rubrique %s: %w", r.ID, err)
		}
		f := c.Formulas[r.ID]
		for _, slot := range []payroll.Slot{payroll.SlotBase, payroll.SlotQuantity} {
			if err := store.ClearTokens(ctx, r.ID, slot); err != nil {
				return err
			}
			for _, tok := range f.Slot(slot) {
				if err := store.AppendToken(ctx, r.ID, slot, tok); err != nil {
					return fmt.Errorf("failed to store %s formula of %s: %w", slot, r.ID, err)
				}
			}
		}
	}
	return nil
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to Go structs.
type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses a JSON string into a Catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CatalogJSON to a Catalog. Every formula is checked for
// syntax; references to rubriques are resolved only at computation time.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := &Catalog{Formulas: map[payroll.RubriqueID]payroll.Formula{}}

	if cj.Parameters != nil {
		p, err := parseParameters(*cj.Parameters)
		if err != nil {
			return nil, err
		}
		c.Parameters = &p
	}

	for _, mj := range cj.Motifs {
		if mj.ID == "" {
			return nil, payroll.Invalid("motif without id")
		}
		c.Motifs = append(c.Motifs, payroll.Motif{
			ID:    payroll.MotifID(mj.ID),
			Label: mj.Label,
			Kind:  payroll.ParseMotifKind(mj.Kind),
		})
	}

	seen := map[string]bool{}
	for i, rj := range cj.Rubriques {
		if rj.ID == "" {
			return nil, payroll.Invalid("rubrique #%d without id", i+1)
		}
		if seen[rj.ID] {
			return nil, payroll.Invalid("rubrique %s defined twice", rj.ID)
		}
		seen[rj.ID] = true

		r, fm, err := f.RubriqueFromJSON(rj)
		if err != nil {
			return nil, err
		}
		c.Rubriques = append(c.Rubriques, r)
		if len(fm.Base) > 0 || len(fm.Quantity) > 0 {
			c.Formulas[r.ID] = fm
		}
	}
	return c, nil
}

// RubriqueFromJSON converts one rubrique and parses its formulas.
func (f *CatalogFactory) RubriqueFromJSON(rj RubriqueJSON) (payroll.Rubrique, payroll.Formula, error) {
	sense, err := payroll.ParseSense(rj.Sense)
	if err != nil {
		return payroll.Rubrique{}, payroll.Formula{}, payroll.Invalid("rubrique %s: %v", rj.ID, err)
	}
	du, err := payroll.ParseDeductionBase(rj.DeductionDu)
	if err != nil {
		return payroll.Rubrique{}, payroll.Formula{}, payroll.Invalid("rubrique %s: %v", rj.ID, err)
	}

	var fm payroll.Formula
	if fm.Base, err = parseSlot(rj.ID, payroll.SlotBase, rj.Base); err != nil {
		return payroll.Rubrique{}, payroll.Formula{}, err
	}
	if fm.Quantity, err = parseSlot(rj.ID, payroll.SlotQuantity, rj.Quantity); err != nil {
		return payroll.Rubrique{}, payroll.Formula{}, err
	}

	r := payroll.Rubrique{
		ID:           payroll.RubriqueID(rj.ID),
		Label:        rj.Label,
		Sense:        sense,
		DeductionDu:  du,
		Flags:        rj.Flags,
		BaseAuto:     autoFlag(rj.BaseAuto, fm.Base),
		QuantityAuto: autoFlag(rj.QuantityAuto, fm.Quantity),
		Mandatory:    rj.Mandatory,
		Fixed:        rj.Fixed,
		DirectAmount: rj.DirectAmount,
		Order:        rj.Order,
	}
	for _, m := range rj.Motifs {
		r.Motifs = append(r.Motifs, payroll.MotifID(m))
	}
	return r, fm, nil
}

// ToJSON converts a catalog back to its JSON form. Parameters are not
// exported.
func (f *CatalogFactory) ToJSON(rubriques []payroll.Rubrique, motifs []payroll.Motif, formulas map[payroll.RubriqueID]payroll.Formula) CatalogJSON {
	cj := CatalogJSON{}
	for _, m := range motifs {
		cj.Motifs = append(cj.Motifs, MotifJSON{ID: string(m.ID), Label: m.Label, Kind: m.Kind.String()})
	}
	for _, r := range rubriques {
		fm := formulas[r.ID]
		baseAuto, qtyAuto := r.BaseAuto, r.QuantityAuto
		rj := RubriqueJSON{
			ID:           string(r.ID),
			Label:        r.Label,
			Sense:        r.Sense.String(),
			Flags:        r.Flags,
			Base:         formula.Render(fm.Base),
			Quantity:     formula.Render(fm.Quantity),
			BaseAuto:     &baseAuto,
			QuantityAuto: &qtyAuto,
			Mandatory:    r.Mandatory,
			Fixed:        r.Fixed,
			DirectAmount: r.DirectAmount,
			Order:        r.Order,
		}
		if r.IsRetenue() {
			rj.DeductionDu = r.DeductionDu.String()
		}
		for _, m := range r.Motifs {
			rj.Motifs = append(rj.Motifs, string(m))
		}
		cj.Rubriques = append(cj.Rubriques, rj)
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func autoFlag(explicit *bool, tokens []payroll.Token) bool {
	if explicit != nil {
		return *explicit
	}
	return len(tokens) > 0
}

func parseSlot(id string, slot payroll.Slot, text string) ([]payroll.Token, error) {
	tokens, err := ParseFormula(text)
	if err != nil {
		return nil, fmt.Errorf("rubrique %s %s: %w", id, slot, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	if err := formula.Validate(tokens); err != nil {
		return nil, fmt.Errorf("rubrique %s %s: %w", id, slot, err)
	}
	return tokens, nil
}

// ParseParameters reads general parameters. Absent fields keep their
// default value.
func (f *CatalogFactory) ParseParameters(pj ParametersJSON) (payroll.Parameters, error) {
	return parseParameters(pj)
}

// ParametersToJSON is the inverse of ParseParameters.
func (f *CatalogFactory) ParametersToJSON(p payroll.Parameters) ParametersJSON {
	smig, hours, housing, threshold := p.SMIG, p.MonthlyHours, p.HousingRate, p.WeeklyThreshold
	pj := ParametersJSON{
		SMIG:                 &smig,
		MonthlyHours:         &hours,
		MonthDays:            p.MonthDays,
		SeniorityBands:       p.SeniorityBands,
		DismissalBands:       p.DismissalBands,
		HousingRate:          &housing,
		MaxChildren:          p.MaxChildren,
		BaseSalaryRubrique:   string(p.BaseSalaryRubrique),
		WeeklyThreshold:      &threshold,
		HistoryHorizonMonths: p.HistoryHorizonMonths,
	}
	if !p.CurrentPeriod.IsZero() {
		pj.CurrentPeriod = p.CurrentPeriod.String()
	}
	if len(p.SalaryGrid) > 0 {
		pj.SalaryGrid = make(map[string]decimal.Decimal, len(p.SalaryGrid))
		for cat, amount := range p.SalaryGrid {
			pj.SalaryGrid[string(cat)] = amount
		}
	}
	return pj
}

func parseParameters(pj ParametersJSON) (payroll.Parameters, error) {
	p := payroll.DefaultParameters()
	if pj.CurrentPeriod != "" {
		period, err := payroll.ParsePeriod(pj.CurrentPeriod)
		if err != nil {
			return p, payroll.Invalid("current_period: %v", err)
		}
		p.CurrentPeriod = period
	}
	setDecimal(&p.SMIG, pj.SMIG)
	setDecimal(&p.MonthlyHours, pj.MonthlyHours)
	setDecimal(&p.HousingRate, pj.HousingRate)
	setDecimal(&p.WeeklyThreshold, pj.WeeklyThreshold)
	if pj.MonthDays > 0 {
		p.MonthDays = pj.MonthDays
	}
	if pj.MaxChildren > 0 {
		p.MaxChildren = pj.MaxChildren
	}
	if pj.HistoryHorizonMonths > 0 {
		p.HistoryHorizonMonths = pj.HistoryHorizonMonths
	}
	if pj.BaseSalaryRubrique != "" {
		p.BaseSalaryRubrique = payroll.RubriqueID(pj.BaseSalaryRubrique)
	}
	if pj.SeniorityBands != nil {
		p.SeniorityBands = pj.SeniorityBands
	}
	if pj.DismissalBands != nil {
		p.DismissalBands = pj.DismissalBands
	}
	for cat, amount := range pj.SalaryGrid {
		if amount.IsNegative() {
			return p, payroll.Invalid("negative grid salary for %s", cat)
		}
		p.SalaryGrid[payroll.Category(cat)] = amount
	}
	return p, nil
}

func setDecimal(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

// =============================================================================
// FORMULA TEXT
// =============================================================================

// ParseFormula reads formula text into tokens. It only tokenizes: whether
// the tokens form a valid expression is formula.Validate's business.
func ParseFormula(text string) ([]payroll.Token, error) {
	var out []payroll.Token
	rs := []rune(text)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case strings.ContainsRune("()+-*/", c):
			out = append(out, payroll.Op(payroll.Operator(c)))
			i++

		case c == '[':
			end := i + 1
			for end < len(rs) && rs[end] != ']' {
				end++
			}
			if end == len(rs) {
				return nil, payroll.Invalid("unterminated rubrique reference at %d", i)
			}
			id := strings.TrimSpace(string(rs[i+1 : end]))
			if id == "" {
				return nil, payroll.Invalid("empty rubrique reference at %d", i)
			}
			out = append(out, payroll.Ref(payroll.RubriqueID(id)))
			i = end + 1

		case unicode.IsDigit(c) || c == '.':
			end := i
			for end < len(rs) && (unicode.IsDigit(rs[end]) || rs[end] == '.') {
				end++
			}
			d, err := decimal.NewFromString(string(rs[i:end]))
			if err != nil {
				return nil, payroll.Invalid("bad number %q at %d", string(rs[i:end]), i)
			}
			out = append(out, payroll.Const(d))
			i = end

		case isIdentStart(c):
			end := i
			for end < len(rs) && isIdentPart(rs[end]) {
				end++
			}
			word := string(rs[i:end])
			if isFunctionCode(word) {
				code, err := payroll.ParseFunctionCode(word)
				if err != nil {
					return nil, payroll.Invalid("%v", err)
				}
				out = append(out, payroll.Fn(code))
			} else {
				out = append(out, payroll.Ref(payroll.RubriqueID(word)))
			}
			i = end

		default:
			return nil, payroll.Invalid("unexpected %q at %d", c, i)
		}
	}
	return out, nil
}

func isIdentStart(c rune) bool { return unicode.IsLetter(c) || c == '_' }
func isIdentPart(c rune) bool  { return isIdentStart(c) || unicode.IsDigit(c) }

// isFunctionCode matches F followed by exactly two digits.
func isFunctionCode(word string) bool {
	return len(word) == 3 && (word[0] == 'F' || word[0] == 'f') &&
		unicode.IsDigit(rune(word[1])) && unicode.IsDigit(rune(word[2]))
}
