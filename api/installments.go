package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// INSTALLMENTS
// =============================================================================
//
//   GET    /api/employees/{id}/installments   Installments with balances
//   POST   /api/employees/{id}/installments   Open an installment
//   GET    /api/installments                  Every installment
//   GET    /api/installments/{id}             Status and balance
//   PUT    /api/installments/{id}             Edit terms (override once settled)
//   DELETE /api/installments/{id}?override=   Delete
//   POST   /api/installments/{id}/settle      Record a tranche for a period
//   POST   /api/installments/{id}/active      Toggle withholding
//   GET    /api/installments/{id}/tranches    Settlement history

func (h *Handler) ListEmployeeInstallments(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	h.writeInstallments(w, r, emp.ID)
}

func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	h.writeInstallments(w, r, "")
}

func (h *Handler) writeInstallments(w http.ResponseWriter, r *http.Request, emp payroll.EmployeeID) {
	list, err := h.Installments.List(r.Context(), emp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}
	if list == nil {
		list = []installment.Status{}
	}
	writeJSON(w, http.StatusOK, list)
}

// OpenInstallment opens an installment repaid through a retenue rubrique.
func (h *Handler) OpenInstallment(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req OpenInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	rub, err := h.Store.GetRubrique(ctx, payroll.RubriqueID(req.Rubrique))
	if err != nil {
		writeDomainError(w, "Rubrique not found", err)
		return
	}
	if !rub.IsRetenue() {
		writeError(w, http.StatusBadRequest, "Installments are repaid through a retenue rubrique", nil)
		return
	}
	open := installment.OpenRequest{
		Employee: emp.ID,
		Rubrique: rub.ID,
		Capital:  req.Capital,
		Amount:   req.Amount,
		Active:   true,
		Note:     req.Note,
	}
	if req.Active != nil {
		open.Active = *req.Active
	}
	if req.AgreedOn != "" {
		if open.AgreedOn, err = parseDate("agreed_on", req.AgreedOn); err != nil {
			writeDomainError(w, "Invalid installment", err)
			return
		}
	}

	inst, err := h.Installments.Open(ctx, open)
	if err != nil {
		writeDomainError(w, "Failed to open installment", err)
		return
	}
	status, err := h.Installments.Status(ctx, inst.ID)
	if err != nil {
		writeDomainError(w, "Failed to load installment", err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	status, err := h.Installments.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Installment not found", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SettleInstallment records the tranche of one period. The amount is
// reduced to the outstanding balance.
func (h *Handler) SettleInstallment(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Period.IsZero() {
		writeError(w, http.StatusBadRequest, "period is required", nil)
		return
	}
	status, err := h.Installments.Settle(r.Context(), chi.URLParam(r, "id"), req.Period, req.Amount)
	if err != nil {
		writeDomainError(w, "Failed to settle installment", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) SetInstallmentActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status, err := h.Installments.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		writeDomainError(w, "Failed to update installment", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	var req TermsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	terms := installment.Terms{Capital: req.Capital, Amount: req.Amount, Note: req.Note}
	status, err := h.Installments.UpdateTerms(r.Context(), chi.URLParam(r, "id"), terms, req.Override)
	if err != nil {
		writeDomainError(w, "Failed to update installment", err)
		return
	}
	if req.Override {
		h.log.Warn("installment terms overridden")
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) DeleteInstallment(w http.ResponseWriter, r *http.Request) {
	override, _ := strconv.ParseBool(r.URL.Query().Get("override"))
	if err := h.Installments.Delete(r.Context(), chi.URLParam(r, "id"), override); err != nil {
		writeDomainError(w, "Failed to delete installment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetInstallmentTranches(w http.ResponseWriter, r *http.Request) {
	tranches, err := h.Installments.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Installment not found", err)
		return
	}
	if tranches == nil {
		tranches = []installment.Tranche{}
	}
	writeJSON(w, http.StatusOK, tranches)
}
