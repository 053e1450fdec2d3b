package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYROLL RUNS
// =============================================================================
//
//   POST /api/payroll/compute                         Compute one key (or preview)
//   GET  /api/payroll/lines?employee&motif&period     Current pay line set
//   POST /api/payroll/manual                          Enter a rubrique by hand
//   GET  /api/payroll/summary?employee&motif&period   Totals of a set
//   GET  /api/payroll/transfers?motif&period&bank     Bank transfer listing
//   POST /api/payroll/batches                         Queue computePayroll
//   GET  /api/payroll/batches                         Retained runs
//   GET  /api/payroll/batches/{id}                    One run
//   POST /api/payroll/purge                           Drop stale history

// Compute recomputes one (employee, motif, period) and returns the new set.
// A rejected concurrent recompute answers 409; a rubrique failure leaves
// the set partial and still answers 200 with the failures listed.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Employee == "" || req.Motif == "" || req.Period.IsZero() {
		writeError(w, http.StatusBadRequest, "employee_id, motif and period are required", nil)
		return
	}
	key := payroll.Key{
		Employee: payroll.EmployeeID(req.Employee),
		Motif:    payroll.MotifID(req.Motif),
		Period:   req.Period,
	}

	compute := h.Computer.Compute
	if req.Preview {
		compute = h.Computer.Preview
	}
	res, err := compute(r.Context(), key)
	resp := toComputeResponse(key, res, err)
	if err != nil {
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func toComputeResponse(key payroll.Key, res engine.Result, err error) ComputeResponse {
	resp := ComputeResponse{
		Employee: string(key.Employee),
		Motif:    string(key.Motif),
		Period:   key.Period.String(),
		Lines:    toPayLineDTOs(res.Lines),
	}
	for _, f := range res.Failures {
		fd := FailureDTO{Rubrique: string(f.Rubrique), Kind: string(payroll.KindOf(f.Err)), Error: f.Err.Error()}
		var ferr *payroll.FormulaError
		if errors.As(f.Err, &ferr) {
			fd.Reason = string(ferr.Reason)
		}
		resp.Failures = append(resp.Failures, fd)
	}

	switch {
	case err != nil:
		resp.Status = "failed"
		resp.Error = err.Error()
		resp.Kind = string(payroll.KindOf(err))
		return resp
	case res.Cleared:
		resp.Status = "cleared"
	case len(res.Failures) > 0:
		resp.Status = "partial"
	default:
		resp.Status = "ok"
	}
	summary := toSummaryDTO(engine.Summarize(res.Lines))
	resp.Summary = &summary
	return resp
}

func (h *Handler) GetLines(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	lines, err := h.Computer.Lines(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load pay lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayLineDTOs(lines))
}

// SetManualLine stores a hand-entered value. The next computation of the
// key reads it for every slot that is not auto.
func (h *Handler) SetManualLine(w http.ResponseWriter, r *http.Request) {
	var req ManualLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Employee == "" || req.Motif == "" || req.Period.IsZero() || req.Rubrique == "" {
		writeError(w, http.StatusBadRequest, "employee_id, motif, period and rubrique_id are required", nil)
		return
	}
	key := payroll.Key{
		Employee: payroll.EmployeeID(req.Employee),
		Motif:    payroll.MotifID(req.Motif),
		Period:   req.Period,
	}
	line, err := h.Computer.SetManual(r.Context(), key, payroll.RubriqueID(req.Rubrique), engine.ManualEntry{
		Base:     req.Base,
		Quantity: req.Quantity,
		Amount:   req.Amount,
	})
	if err != nil {
		writeDomainError(w, "Failed to save manual line", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayLineDTOs([]payroll.PayLine{line})[0])
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	summary, err := h.Computer.Summary(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize pay lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetTransfers lists net pay to wire for employees paid by transfer.
func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := periodParam(r, "period")
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	motif := q.Get("motif")
	if motif == "" {
		writeError(w, http.StatusBadRequest, "motif is required", nil)
		return
	}

	transfers, err := h.Computer.BankTransfers(r.Context(), engine.BankFilter{
		Motif:  payroll.MotifID(motif),
		Period: period,
		Bank:   q.Get("bank"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	resp := TransfersResponse{Motif: motif, Period: period.String(), Transfers: []TransferDTO{}, Total: decimal.Zero}
	for _, t := range transfers {
		resp.Transfers = append(resp.Transfers, TransferDTO{
			Employee:      string(t.Employee),
			Name:          t.Name,
			Bank:          t.Bank,
			AccountNumber: t.AccountNumber,
			Net:           t.Net,
		})
		resp.Total = resp.Total.Add(t.Net)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// BATCHES & RETENTION
// =============================================================================

// EnqueueBatch queues a computePayroll run and answers 202 with its record.
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Batch scheduler is not running", nil)
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	run, err := h.Scheduler.Enqueue(req)
	switch {
	case errors.Is(err, ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "Batch queue is full, retry later", err)
		return
	case err != nil:
		writeDomainError(w, "Invalid batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []BatchRun{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	run, ok := h.Scheduler.Run(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Purge drops pay lines before the given period, or beyond the retained
// history horizon when none is given.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var (
		n   int
		err error
	)
	if req.Before.IsZero() {
		n, err = h.Computer.Purge(r.Context())
	} else {
		n, err = h.Computer.PurgeBefore(r.Context(), req.Before)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge pay lines", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}
