/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types carry no
  JSON contract of their own (decimals, periods and enums are rendered
  here), so the wire format can change without touching the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:      FunctionDTO, RubriqueDTO, FormulaDTO, TokenRequest
  Employees:    EmployeeDTO, EmployeeRequest, WorkedDaysRequest
  Hours:        DailyHoursRequest, WeeklyHoursRequest, OvertimeSummaryDTO
  Installments: OpenInstallmentRequest, SettleRequest, TermsRequest
  Payroll:      ComputeRequest, ComputeResponse, PayLineDTO, SummaryDTO,
                TransferDTO, ManualLineRequest, BatchRequest
  Scenarios:    ScenarioDTO, LoadScenarioRequest

DECIMALS:
  Amounts are decimal.Decimal, which marshals as a JSON string and accepts
  both strings and numbers on input.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON, RubriqueJSON, ParametersJSON
*/
package api

import (
	"time"

	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CATALOG
// =============================================================================

type FunctionDTO struct {
	Code     string `json:"code"`
	Mnemonic string `json:"mnemonic"`
	Label    string `json:"label"`
}

// FormulaDTO is one slot of a rubrique, as tokens and as text.
type FormulaDTO struct {
	Slot      string     `json:"slot"`
	Tokens    []TokenDTO `json:"tokens"`
	Text      string     `json:"text"`
	Labeled   string     `json:"labeled"`
	Canonical string     `json:"canonical,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type TokenDTO struct {
	Kind  string `json:"kind"` // operator | function | constant | rubrique
	Value string `json:"value"`
}

// TokenRequest appends one token. Value is the operator character, the
// function code (F04), the constant or the referenced rubrique id.
type TokenRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// FormulaTextRequest replaces a slot with a parsed formula text.
type FormulaTextRequest struct {
	Text string `json:"text"`
}

type RubriqueDTO struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	Sense        string        `json:"sense"`
	DeductionDu  string        `json:"deduction_du,omitempty"`
	Flags        payroll.Flags `json:"flags"`
	BaseAuto     bool          `json:"base_auto"`
	QuantityAuto bool          `json:"quantity_auto"`
	Mandatory    bool          `json:"mandatory"`
	Fixed        bool          `json:"fixed"`
	DirectAmount bool          `json:"direct_amount"`
	Motifs       []string      `json:"motifs"`
	Order        int           `json:"order"`
	Base         *FormulaDTO   `json:"base,omitempty"`
	Quantity     *FormulaDTO   `json:"quantity,omitempty"`
}

type MotifDTO struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Category           string            `json:"category"`
	HireDate           string            `json:"hire_date"`
	SeniorityDate      string            `json:"seniority_date,omitempty"`
	ExitDate           string            `json:"exit_date,omitempty"`
	WeeklyHours        decimal.Decimal   `json:"weekly_hours"`
	Active             bool              `json:"active"`
	OnLeave            bool              `json:"on_leave"`
	LastLeaveDeparture string            `json:"last_leave_departure,omitempty"`
	Children           int               `json:"children"`
	PaymentMode        string            `json:"payment_mode"`
	Bank               string            `json:"bank,omitempty"`
	AccountNumber      string            `json:"account_number,omitempty"`
	OvertimeMode       string            `json:"overtime_mode"`
	AutoMeal           bool              `json:"auto_meal"`
	Week               map[string]string `json:"week,omitempty"`
}

// EmployeeRequest creates or replaces an employee. Dates use YYYY-MM-DD.
type EmployeeRequest struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Category           string            `json:"category"`
	HireDate           string            `json:"hire_date"`
	SeniorityDate      string            `json:"seniority_date,omitempty"`
	ExitDate           string            `json:"exit_date,omitempty"`
	WeeklyHours        *decimal.Decimal  `json:"weekly_hours,omitempty"`
	Active             *bool             `json:"active,omitempty"`
	OnLeave            bool              `json:"on_leave"`
	LastLeaveDeparture string            `json:"last_leave_departure,omitempty"`
	Children           int               `json:"children"`
	PaymentMode        string            `json:"payment_mode"`
	Bank               string            `json:"bank,omitempty"`
	AccountNumber      string            `json:"account_number,omitempty"`
	OvertimeMode       string            `json:"overtime_mode"`
	AutoMeal           bool              `json:"auto_meal"`
	Week               map[string]string `json:"week,omitempty"`
}

type WorkedDaysRequest struct {
	Period payroll.Period  `json:"period"`
	Days   decimal.Decimal `json:"days"`
}

// =============================================================================
// HOURS
// =============================================================================

type DailyHoursRequest struct {
	Date       string          `json:"date"`
	DayHours   decimal.Decimal `json:"day_hours"`
	NightHours decimal.Decimal `json:"night_hours"`
	Holiday150 bool            `json:"holiday_150"`
	Holiday200 bool            `json:"holiday_200"`
	External   bool            `json:"external_site"`
	Meal       bool            `json:"meal"`
	Note       string          `json:"note,omitempty"`
}

type WeeklyHoursRequest struct {
	WeekStart  string          `json:"week_start"`
	DayHours   decimal.Decimal `json:"day_hours"`
	NightHours decimal.Decimal `json:"night_hours"`
	HS115      decimal.Decimal `json:"hs115"`
	HS140      decimal.Decimal `json:"hs140"`
	HS150      decimal.Decimal `json:"hs150"`
	HS200      decimal.Decimal `json:"hs200"`
	Meals      int             `json:"meals"`
	Remoteness int             `json:"remoteness"`
	Note       string          `json:"note,omitempty"`
}

type OvertimeSummaryDTO struct {
	Employee             string          `json:"employee_id"`
	Period               payroll.Period  `json:"period"`
	Mode                 string          `json:"mode"`
	DayHours             decimal.Decimal `json:"day_hours"`
	NightHours           decimal.Decimal `json:"night_hours"`
	HS115                decimal.Decimal `json:"hs115"`
	HS140                decimal.Decimal `json:"hs140"`
	HS150                decimal.Decimal `json:"hs150"`
	HS200                decimal.Decimal `json:"hs200"`
	MealAllowances       int             `json:"meal_allowances"`
	RemotenessAllowances int             `json:"remoteness_allowances"`
}

func toOvertimeSummaryDTO(s payroll.OvertimeSummary) OvertimeSummaryDTO {
	return OvertimeSummaryDTO{
		Employee:             string(s.Employee),
		Period:               s.Period,
		Mode:                 s.Mode.String(),
		DayHours:             s.DayHours,
		NightHours:           s.NightHours,
		HS115:                s.HS115,
		HS140:                s.HS140,
		HS150:                s.HS150,
		HS200:                s.HS200,
		MealAllowances:       s.MealAllowances,
		RemotenessAllowances: s.RemotenessAllowances,
	}
}

// HoursResponse wraps a stored record with the period summary it moved.
type HoursResponse struct {
	Daily   *overtime.DailyRecord  `json:"daily,omitempty"`
	Weekly  *overtime.WeeklyRecord `json:"weekly,omitempty"`
	Summary OvertimeSummaryDTO     `json:"summary"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type OpenInstallmentRequest struct {
	Rubrique string          `json:"rubrique_id"`
	AgreedOn string          `json:"agreed_on"`
	Capital  decimal.Decimal `json:"capital"`
	Amount   decimal.Decimal `json:"amount"`
	Active   *bool           `json:"active,omitempty"`
	Note     string          `json:"note,omitempty"`
}

type SettleRequest struct {
	Period payroll.Period  `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

type ActiveRequest struct {
	Active bool `json:"active"`
}

// TermsRequest edits an installment. Override is required once a
// settlement exists.
type TermsRequest struct {
	Capital  *decimal.Decimal `json:"capital,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Note     *string          `json:"note,omitempty"`
	Override bool             `json:"override"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type ComputeRequest struct {
	Employee string         `json:"employee_id"`
	Motif    string         `json:"motif"`
	Period   payroll.Period `json:"period"`
	// Preview computes without replacing the stored set.
	Preview bool `json:"preview"`
}

type PayLineDTO struct {
	ID          string          `json:"id"`
	Employee    string          `json:"employee_id"`
	Rubrique    string          `json:"rubrique_id"`
	Motif       string          `json:"motif"`
	Period      payroll.Period  `json:"period"`
	Base        decimal.Decimal `json:"base"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Sense       string          `json:"sense"`
	DeductionDu string          `json:"deduction_du,omitempty"`
	Flags       payroll.Flags   `json:"flags"`
	Fixed       bool            `json:"fixed"`
	Manual      bool            `json:"manual"`
	ComputedAt  time.Time       `json:"computed_at"`
}

func toPayLineDTOs(lines []payroll.PayLine) []PayLineDTO {
	dtos := make([]PayLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = PayLineDTO{
			ID:         l.ID,
			Employee:   string(l.Employee),
			Rubrique:   string(l.Rubrique),
			Motif:      string(l.Motif),
			Period:     l.Period,
			Base:       l.Base,
			Quantity:   l.Quantity,
			Amount:     l.Amount,
			Sense:      l.Sense.String(),
			Flags:      l.Flags,
			Fixed:      l.Fixed,
			Manual:     l.Manual,
			ComputedAt: l.ComputedAt,
		}
		if l.Sense == payroll.SenseRetenue {
			dtos[i].DeductionDu = l.DeductionDu.String()
		}
	}
	return dtos
}

// FailureDTO is a rubrique left out of a computed set.
type FailureDTO struct {
	Rubrique string `json:"rubrique_id"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error"`
}

type ComputeResponse struct {
	Employee string       `json:"employee_id"`
	Motif    string       `json:"motif"`
	Period   string       `json:"period"`
	Status   string       `json:"status"` // ok | partial | cleared | failed
	Lines    []PayLineDTO `json:"lines"`
	Failures []FailureDTO `json:"failures,omitempty"`
	Summary  *SummaryDTO  `json:"summary,omitempty"`
	Error    string       `json:"error,omitempty"`
	Kind     string       `json:"kind,omitempty"`
}

type SummaryDTO struct {
	Gains         decimal.Decimal `json:"gains"`
	FixedGains    decimal.Decimal `json:"fixed_gains"`
	VariableGains decimal.Decimal `json:"variable_gains"`
	InKind        decimal.Decimal `json:"in_kind"`
	RetenuesBrut  decimal.Decimal `json:"retenues_brut"`
	RetenuesNet   decimal.Decimal `json:"retenues_net"`
	Brut          decimal.Decimal `json:"brut"`
	Net           decimal.Decimal `json:"net"`
	NetToPay      decimal.Decimal `json:"net_to_pay"`
	BaseITS       decimal.Decimal `json:"base_its"`
	BaseCNSS      decimal.Decimal `json:"base_cnss"`
	BaseCNAM      decimal.Decimal `json:"base_cnam"`
}

func toSummaryDTO(s engine.Summary) SummaryDTO {
	return SummaryDTO{
		Gains:         s.Gains,
		FixedGains:    s.FixedGains,
		VariableGains: s.VariableGains,
		InKind:        s.InKind,
		RetenuesBrut:  s.RetenuesBrut,
		RetenuesNet:   s.RetenuesNet,
		Brut:          s.Brut,
		Net:           s.Net,
		NetToPay:      s.NetToPay,
		BaseITS:       s.BaseITS,
		BaseCNSS:      s.BaseCNSS,
		BaseCNAM:      s.BaseCNAM,
	}
}

type TransferDTO struct {
	Employee      string          `json:"employee_id"`
	Name          string          `json:"name"`
	Bank          string          `json:"bank"`
	AccountNumber string          `json:"account_number"`
	Net           decimal.Decimal `json:"net"`
}

// TransfersResponse lists transfers with their total.
type TransfersResponse struct {
	Motif     string          `json:"motif"`
	Period    string          `json:"period"`
	Transfers []TransferDTO   `json:"transfers"`
	Total     decimal.Decimal `json:"total"`
}

// ManualLineRequest enters a rubrique value by hand for one key.
type ManualLineRequest struct {
	Employee string           `json:"employee_id"`
	Motif    string           `json:"motif"`
	Period   payroll.Period   `json:"period"`
	Rubrique string           `json:"rubrique_id"`
	Base     decimal.Decimal  `json:"base"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// BatchRequest queues a payroll run. Without employees, every active
// employee is computed.
type BatchRequest struct {
	Motif     string         `json:"motif"`
	Period    payroll.Period `json:"period"`
	Employees []string       `json:"employees,omitempty"`
}

type PurgeRequest struct {
	// Before purges periods strictly before it; zero applies the retained
	// history horizon.
	Before payroll.Period `json:"before"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
