/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the rubrique catalog, the formula editor, employees and the
  computation engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the domain packages.

ENDPOINTS:
  Catalog:
    GET    /api/functions                          Function library F01..F24
    GET    /api/parameters                         General parameters
    PUT    /api/parameters                         Replace general parameters
    GET    /api/catalog                            Export rubriques and motifs
    POST   /api/catalog                            Load a catalog document
    GET    /api/motifs                             List motifs
    POST   /api/motifs                             Create or replace a motif
    GET    /api/rubriques                          List rubriques with formulas
    POST   /api/rubriques                          Create or replace a rubrique
    GET    /api/rubriques/{id}                     Rubrique with formulas

  Formula editor (append-only):
    GET    /api/rubriques/{id}/formulas/{slot}        Tokens and rendered text
    POST   /api/rubriques/{id}/formulas/{slot}/tokens Append one token
    DELETE /api/rubriques/{id}/formulas/{slot}/tokens/last Drop the last token
    DELETE /api/rubriques/{id}/formulas/{slot}     Clear the slot
    PUT    /api/rubriques/{id}/formulas/{slot}     Replace from formula text

  Employees:
    GET    /api/employees                          List employees
    POST   /api/employees                          Create or replace employee
    GET    /api/employees/{id}                     Employee details
    PUT    /api/employees/{id}/worked-days         Attendance override (NJT)

  Hours, installments and payroll runs: see hours.go, installments.go and
  payroll.go.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, overtime, installment, factory)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors are mapped by kind (writeDomainError):
  - 400: invalid input
  - 404: missing reference data
  - 409: concurrent recompute, invalid installment state
  - 422: formula errors
  - 500: internal errors
  The response carries the kind in "code".

SECURITY NOTE:
  No authentication or authorization. Put the server behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/factory"
	"github.com/moustaphacheikh/paie/formula"
	"github.com/moustaphacheikh/paie/functions"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/moustaphacheikh/paie/store/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Computer     *engine.Computer
	Overtime     *overtime.Engine
	Installments *installment.Engine
	Catalogs     *factory.CatalogFactory
	Metrics      *observability.Metrics

	// Scheduler runs queued payroll batches. Nil disables /payroll/batches.
	Scheduler *PayrollScheduler

	log *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// Services are the collaborators a Handler delegates to.
type Services struct {
	Store        *sqlite.Store
	Computer     *engine.Computer
	Overtime     *overtime.Engine
	Installments *installment.Engine
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

func NewHandler(s Services) *Handler {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:        s.Store,
		Computer:     s.Computer,
		Overtime:     s.Overtime,
		Installments: s.Installments,
		Catalogs:     factory.NewCatalogFactory(),
		Metrics:      s.Metrics,
		log:          logger.Named("api"),
	}
}

// =============================================================================
// FUNCTION LIBRARY & PARAMETERS
// =============================================================================

// ListFunctions returns the function library in code order.
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	descs := h.Computer.Library().Describe()
	dtos := make([]FunctionDTO, len(descs))
	for i, d := range descs {
		dtos[i] = FunctionDTO{Code: d.Code.String(), Mnemonic: d.Mnemonic, Label: d.Label}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.Store.Parameters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load parameters", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Catalogs.ParametersToJSON(params))
}

// UpdateParameters replaces the general parameters. Absent fields take
// their default value.
func (h *Handler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	var req factory.ParametersJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	params, err := h.Catalogs.ParseParameters(req)
	if err != nil {
		writeDomainError(w, "Invalid parameters", err)
		return
	}
	if err := h.Store.SaveParameters(r.Context(), params); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save parameters", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Catalogs.ParametersToJSON(params))
}

// =============================================================================
// CATALOG
// =============================================================================

// GetCatalog exports rubriques, motifs, formulas and parameters in the
// document form POST /api/catalog accepts.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rubriques, err := h.Store.ListRubriques(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rubriques", err)
		return
	}
	motifs, err := h.Store.ListMotifs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list motifs", err)
		return
	}
	formulas, err := h.Store.Formulas(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formulas", err)
		return
	}
	params, err := h.Store.Parameters(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load parameters", err)
		return
	}

	doc := h.Catalogs.ToJSON(rubriques, motifs, formulas)
	pj := h.Catalogs.ParametersToJSON(params)
	doc.Parameters = &pj
	writeJSON(w, http.StatusOK, doc)
}

// LoadCatalog loads a catalog document. Rubriques absent from the document
// are left untouched.
func (h *Handler) LoadCatalog(w http.ResponseWriter, r *http.Request) {
	var doc factory.CatalogJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	catalog, err := h.Catalogs.FromJSON(doc)
	if err != nil {
		writeDomainError(w, "Invalid catalog", err)
		return
	}
	if err := catalog.Load(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load catalog", err)
		return
	}
	h.log.Info("catalog loaded",
		zap.Int("rubriques", len(catalog.Rubriques)),
		zap.Int("motifs", len(catalog.Motifs)))

	writeJSON(w, http.StatusOK, map[string]int{
		"rubriques": len(catalog.Rubriques),
		"motifs":    len(catalog.Motifs),
	})
}

func (h *Handler) ListMotifs(w http.ResponseWriter, r *http.Request) {
	motifs, err := h.Store.ListMotifs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list motifs", err)
		return
	}
	dtos := make([]MotifDTO, len(motifs))
	for i, m := range motifs {
		dtos[i] = MotifDTO{ID: string(m.ID), Label: m.Label, Kind: m.Kind.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateMotif(w http.ResponseWriter, r *http.Request) {
	var req MotifDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "Motif id is required", nil)
		return
	}
	m := payroll.Motif{ID: payroll.MotifID(req.ID), Label: req.Label, Kind: payroll.ParseMotifKind(req.Kind)}
	if err := h.Store.SaveMotif(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save motif", err)
		return
	}
	writeJSON(w, http.StatusCreated, MotifDTO{ID: string(m.ID), Label: m.Label, Kind: m.Kind.String()})
}

// ListRubriques returns every rubrique in computation order with both
// formulas rendered.
func (h *Handler) ListRubriques(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rubriques, err := h.Store.ListRubriques(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rubriques", err)
		return
	}
	formulas, err := h.Store.Formulas(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formulas", err)
		return
	}

	labels := h.labels(rubriques)
	dtos := make([]RubriqueDTO, len(rubriques))
	for i, rub := range rubriques {
		dtos[i] = toRubriqueDTO(rub, formulas[rub.ID], labels)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetRubrique(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.RubriqueID(chi.URLParam(r, "id"))

	rub, err := h.Store.GetRubrique(ctx, id)
	if err != nil {
		writeDomainError(w, "Rubrique not found", err)
		return
	}
	rubriques, err := h.Store.ListRubriques(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rubriques", err)
		return
	}
	f, err := h.formula(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formulas", err)
		return
	}
	writeJSON(w, http.StatusOK, toRubriqueDTO(rub, f, h.labels(rubriques)))
}

// CreateRubrique creates or replaces a rubrique. Formula texts present in
// the body replace the stored formulas; absent ones are left as they are.
func (h *Handler) CreateRubrique(w http.ResponseWriter, r *http.Request) {
	var req factory.RubriqueJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "Rubrique id is required", nil)
		return
	}
	rub, f, err := h.Catalogs.RubriqueFromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid rubrique", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveRubrique(ctx, rub); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rubrique", err)
		return
	}
	for slot, text := range map[payroll.Slot]string{payroll.SlotBase: req.Base, payroll.SlotQuantity: req.Quantity} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := h.replaceTokens(r, rub.ID, slot, f.Slot(slot)); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save formula", err)
			return
		}
	}

	stored, err := h.formula(r, rub.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formulas", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRubriqueDTO(rub, stored, nil))
}

// =============================================================================
// FORMULA EDITOR
// =============================================================================

func (h *Handler) GetFormula(w http.ResponseWriter, r *http.Request) {
	id, slot, ok := h.formulaTarget(w, r)
	if !ok {
		return
	}
	h.writeFormula(w, r, id, slot, http.StatusOK)
}

// AppendToken adds one token at the end of a slot. The token itself is
// validated; the formula may stay incomplete between edits.
func (h *Handler) AppendToken(w http.ResponseWriter, r *http.Request) {
	id, slot, ok := h.formulaTarget(w, r)
	if !ok {
		return
	}
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tok, err := tokenFromRequest(req)
	if err != nil {
		writeDomainError(w, "Invalid token", err)
		return
	}

	ctx := r.Context()
	current, err := h.Store.Tokens(ctx, id, slot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formula", err)
		return
	}
	if _, err := formula.Append(current, tok); err != nil {
		writeDomainError(w, "Invalid token", err)
		return
	}
	if err := h.Store.AppendToken(ctx, id, slot, tok); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to append token", err)
		return
	}
	h.writeFormula(w, r, id, slot, http.StatusCreated)
}

func (h *Handler) DropLastToken(w http.ResponseWriter, r *http.Request) {
	id, slot, ok := h.formulaTarget(w, r)
	if !ok {
		return
	}
	if err := h.Store.DropLastToken(r.Context(), id, slot); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to drop token", err)
		return
	}
	h.writeFormula(w, r, id, slot, http.StatusOK)
}

func (h *Handler) ClearFormula(w http.ResponseWriter, r *http.Request) {
	id, slot, ok := h.formulaTarget(w, r)
	if !ok {
		return
	}
	if err := h.Store.ClearTokens(r.Context(), id, slot); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear formula", err)
		return
	}
	h.writeFormula(w, r, id, slot, http.StatusOK)
}

// SetFormulaText replaces a slot with a parsed formula text. Unlike token
// appends, the text must form a complete expression.
func (h *Handler) SetFormulaText(w http.ResponseWriter, r *http.Request) {
	id, slot, ok := h.formulaTarget(w, r)
	if !ok {
		return
	}
	var req FormulaTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tokens, err := factory.ParseFormula(req.Text)
	if err != nil {
		writeDomainError(w, "Invalid formula text", err)
		return
	}
	if err := formula.Validate(tokens); err != nil {
		writeDomainError(w, "Invalid formula", err)
		return
	}
	if err := h.replaceTokens(r, id, slot, tokens); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save formula", err)
		return
	}
	h.writeFormula(w, r, id, slot, http.StatusOK)
}

// formulaTarget reads {id} and {slot} and checks the rubrique exists.
func (h *Handler) formulaTarget(w http.ResponseWriter, r *http.Request) (payroll.RubriqueID, payroll.Slot, bool) {
	id := payroll.RubriqueID(chi.URLParam(r, "id"))
	slot, err := payroll.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid formula slot (use base or quantity)", err)
		return "", 0, false
	}
	if _, err := h.Store.GetRubrique(r.Context(), id); err != nil {
		writeDomainError(w, "Rubrique not found", err)
		return "", 0, false
	}
	return id, slot, true
}

func (h *Handler) writeFormula(w http.ResponseWriter, r *http.Request, id payroll.RubriqueID, slot payroll.Slot, status int) {
	ctx := r.Context()
	tokens, err := h.Store.Tokens(ctx, id, slot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load formula", err)
		return
	}
	rubriques, err := h.Store.ListRubriques(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rubriques", err)
		return
	}
	writeJSON(w, status, toFormulaDTO(slot, tokens, h.labels(rubriques)))
}

func (h *Handler) replaceTokens(r *http.Request, id payroll.RubriqueID, slot payroll.Slot, tokens []payroll.Token) error {
	ctx := r.Context()
	if err := h.Store.ClearTokens(ctx, id, slot); err != nil {
		return err
	}
	for _, tok := range tokens {
		if err := h.Store.AppendToken(ctx, id, slot, tok); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) formula(r *http.Request, id payroll.RubriqueID) (payroll.Formula, error) {
	ctx := r.Context()
	base, err := h.Store.Tokens(ctx, id, payroll.SlotBase)
	if err != nil {
		return payroll.Formula{}, err
	}
	qty, err := h.Store.Tokens(ctx, id, payroll.SlotQuantity)
	if err != nil {
		return payroll.Formula{}, err
	}
	return payroll.Formula{Base: base, Quantity: qty}, nil
}

func tokenFromRequest(req TokenRequest) (payroll.Token, error) {
	value := strings.TrimSpace(req.Value)
	switch strings.ToLower(req.Kind) {
	case "operator", "op":
		if len(value) != 1 {
			return payroll.Token{}, payroll.Invalid("operator %q", value)
		}
		return payroll.Op(payroll.Operator(value[0])), nil
	case "function", "fn":
		code, err := payroll.ParseFunctionCode(value)
		if err != nil {
			return payroll.Token{}, payroll.Invalid("%v", err)
		}
		return payroll.Fn(code), nil
	case "constant", "const":
		d, err := decimal.NewFromString(value)
		if err != nil {
			return payroll.Token{}, payroll.Invalid("constant %q", value)
		}
		return payroll.Const(d), nil
	case "rubrique", "ref":
		return payroll.Ref(payroll.RubriqueID(strings.Trim(value, "[]"))), nil
	}
	return payroll.Token{}, payroll.Invalid("unknown token kind %q", req.Kind)
}

// catalogLabels renders formulas with mnemonics and rubrique labels.
type catalogLabels struct {
	lib       *functions.Library
	rubriques map[payroll.RubriqueID]string
}

func (h *Handler) labels(rubriques []payroll.Rubrique) catalogLabels {
	l := catalogLabels{lib: h.Computer.Library(), rubriques: make(map[payroll.RubriqueID]string, len(rubriques))}
	for _, r := range rubriques {
		l.rubriques[r.ID] = r.Label
	}
	return l
}

func (l catalogLabels) FunctionLabel(code payroll.FunctionCode) string {
	return l.lib.FunctionLabel(code)
}

func (l catalogLabels) RubriqueLabel(id payroll.RubriqueID) string { return l.rubriques[id] }

func toFormulaDTO(slot payroll.Slot, tokens []payroll.Token, labels formula.Labeler) FormulaDTO {
	dto := FormulaDTO{
		Slot:    slot.String(),
		Tokens:  make([]TokenDTO, len(tokens)),
		Text:    formula.Render(tokens),
		Labeled: formula.RenderLabeled(tokens, labels),
	}
	for i, t := range tokens {
		dto.Tokens[i] = TokenDTO{Kind: t.Kind.String(), Value: formula.Render([]payroll.Token{t})}
	}
	if len(tokens) > 0 {
		if canonical, err := formula.Canonical(tokens); err != nil {
			dto.Error = err.Error()
		} else {
			dto.Canonical = canonical
		}
	}
	return dto
}

func toRubriqueDTO(r payroll.Rubrique, f payroll.Formula, labels formula.Labeler) RubriqueDTO {
	dto := RubriqueDTO{
		ID:           string(r.ID),
		Label:        r.Label,
		Sense:        r.Sense.String(),
		Flags:        r.Flags,
		BaseAuto:     r.BaseAuto,
		QuantityAuto: r.QuantityAuto,
		Mandatory:    r.Mandatory,
		Fixed:        r.Fixed,
		DirectAmount: r.DirectAmount,
		Motifs:       make([]string, len(r.Motifs)),
		Order:        r.Order,
	}
	if r.IsRetenue() {
		dto.DeductionDu = r.DeductionDu.String()
	}
	for i, m := range r.Motifs {
		dto.Motifs[i] = string(m)
	}
	if len(f.Base) > 0 {
		base := toFormulaDTO(payroll.SlotBase, f.Base, labels)
		dto.Base = &base
	}
	if len(f.Quantity) > 0 {
		qty := toFormulaDTO(payroll.SlotQuantity, f.Quantity, labels)
		dto.Quantity = &qty
	}
	return dto
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	emp, err := employeeFromRequest(req)
	if err != nil {
		writeDomainError(w, "Invalid employee", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// SetWorkedDays records the days attendance counted for a period; F01
// returns it instead of the contract-derived value.
func (h *Handler) SetWorkedDays(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req WorkedDaysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Period.IsZero() {
		writeError(w, http.StatusBadRequest, "period is required", nil)
		return
	}
	if req.Days.IsNegative() || req.Days.GreaterThan(decimal.NewFromInt(31)) {
		writeError(w, http.StatusBadRequest, "days must be between 0 and 31", nil)
		return
	}
	if err := h.Store.SetWorkedDays(r.Context(), emp.ID, req.Period, req.Days); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save worked days", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// employee loads {id}, writing a 404 when it does not exist.
func (h *Handler) employee(w http.ResponseWriter, r *http.Request) (payroll.Employee, bool) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Employee not found", err)
		return payroll.Employee{}, false
	}
	return emp, true
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func employeeFromRequest(req EmployeeRequest) (payroll.Employee, error) {
	if strings.TrimSpace(req.ID) == "" {
		return payroll.Employee{}, payroll.Invalid("employee id is required")
	}
	hire, err := parseDate("hire_date", req.HireDate)
	if err != nil {
		return payroll.Employee{}, err
	}

	emp := payroll.Employee{
		ID:            payroll.EmployeeID(req.ID),
		Name:          req.Name,
		Category:      payroll.Category(req.Category),
		HireDate:      hire,
		WeeklyHours:   decimal.NewFromInt(40),
		Active:        true,
		OnLeave:       req.OnLeave,
		Children:      req.Children,
		PaymentMode:   payroll.PaymentMode(strings.ToLower(req.PaymentMode)),
		Bank:          req.Bank,
		AccountNumber: req.AccountNumber,
		OvertimeMode:  payroll.ParseOvertimeMode(req.OvertimeMode),
		AutoMeal:      req.AutoMeal,
		Week:          payroll.DefaultWeek(),
	}
	if req.WeeklyHours != nil {
		emp.WeeklyHours = *req.WeeklyHours
	}
	if req.Active != nil {
		emp.Active = *req.Active
	}
	if emp.PaymentMode == "" {
		emp.PaymentMode = payroll.PaymentTransfer
	}
	switch emp.PaymentMode {
	case payroll.PaymentTransfer, payroll.PaymentCash, payroll.PaymentCheque:
	default:
		return payroll.Employee{}, payroll.Invalid("payment_mode %q", req.PaymentMode)
	}
	if req.Children < 0 {
		return payroll.Employee{}, payroll.Invalid("children must not be negative")
	}
	if req.SeniorityDate != "" {
		if emp.SeniorityDate, err = parseDate("seniority_date", req.SeniorityDate); err != nil {
			return payroll.Employee{}, err
		}
	}
	if emp.ExitDate, err = optionalDate("exit_date", req.ExitDate); err != nil {
		return payroll.Employee{}, err
	}
	if emp.LastLeaveDeparture, err = optionalDate("last_leave_departure", req.LastLeaveDeparture); err != nil {
		return payroll.Employee{}, err
	}
	if len(req.Week) > 0 {
		emp.Week = payroll.WeekConfig{}
		for name, role := range req.Week {
			day, ok := weekdays[strings.ToLower(name)]
			if !ok {
				return payroll.Employee{}, payroll.Invalid("unknown weekday %q", name)
			}
			emp.Week[day] = payroll.ParseDayRole(role)
		}
		if err := emp.Week.Validate(); err != nil {
			return payroll.Employee{}, err
		}
	}
	return emp, nil
}

func toEmployeeDTO(e payroll.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Category:      string(e.Category),
		HireDate:      e.HireDate.Format(dateLayout),
		WeeklyHours:   e.WeeklyHours,
		Active:        e.Active,
		OnLeave:       e.OnLeave,
		Children:      e.Children,
		PaymentMode:   string(e.PaymentMode),
		Bank:          e.Bank,
		AccountNumber: e.AccountNumber,
		OvertimeMode:  e.OvertimeMode.String(),
		AutoMeal:      e.AutoMeal,
	}
	if !e.SeniorityDate.IsZero() {
		dto.SeniorityDate = e.SeniorityDate.Format(dateLayout)
	}
	if e.ExitDate != nil {
		dto.ExitDate = e.ExitDate.Format(dateLayout)
	}
	if e.LastLeaveDeparture != nil {
		dto.LastLeaveDeparture = e.LastLeaveDeparture.Format(dateLayout)
	}
	if len(e.Week) > 0 {
		dto.Week = make(map[string]string, len(e.Week))
		for day, role := range e.Week {
			dto.Week[strings.ToLower(day.String())] = role.String()
		}
	}
	return dto
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error kind.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: string(payroll.KindOf(err)), Details: err.Error()}
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrFormula):
		return http.StatusUnprocessableEntity
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case payroll.IsConflict(err), errors.Is(err, payroll.ErrInvalidInstallmentState):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, payroll.Invalid("invalid %s %q (use YYYY-MM-DD)", field, s)
	}
	return t, nil
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// keyFromQuery reads employee, motif and period query parameters.
func keyFromQuery(r *http.Request) (payroll.Key, error) {
	q := r.URL.Query()
	period, err := periodParam(r, "period")
	if err != nil {
		return payroll.Key{}, err
	}
	key := payroll.Key{
		Employee: payroll.EmployeeID(q.Get("employee")),
		Motif:    payroll.MotifID(q.Get("motif")),
		Period:   period,
	}
	if key.Employee == "" || key.Motif == "" {
		return payroll.Key{}, payroll.Invalid("employee, motif and period are required")
	}
	return key, nil
}

func periodParam(r *http.Request, name string) (payroll.Period, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return payroll.Period{}, payroll.Invalid("%s is required (YYYY-MM)", name)
	}
	p, err := payroll.ParsePeriod(s)
	if err != nil {
		return payroll.Period{}, payroll.Invalid("%v", err)
	}
	return p, nil
}
