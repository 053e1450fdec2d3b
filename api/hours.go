package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// HOURS & OVERTIME
// =============================================================================
//
//   POST   /api/employees/{id}/hours/daily          Record a day (daily mode)
//   DELETE /api/employees/{id}/hours/daily/{date}   Remove a day
//   POST   /api/employees/{id}/hours/weekly         Record a week (weekly mode)
//   GET    /api/employees/{id}/hours/summary?period Overtime summary F15..F20 read

// AddDailyHours records one day for an employee counting hours daily. A
// record for the same date replaces the previous one.
func (h *Handler) AddDailyHours(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req DailyHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, err := parseDate("date", req.Date)
	if err != nil {
		writeDomainError(w, "Invalid daily record", err)
		return
	}

	ctx := r.Context()
	rec, err := h.Overtime.AddDaily(ctx, emp, overtime.DailyRecord{
		Date:       day,
		DayHours:   req.DayHours,
		NightHours: req.NightHours,
		Holiday150: req.Holiday150,
		Holiday200: req.Holiday200,
		External:   req.External,
		Meal:       req.Meal,
		Note:       req.Note,
	})
	if err != nil {
		writeDomainError(w, "Failed to record hours", err)
		return
	}
	h.Metrics.RecordOvertime(payroll.OvertimeDaily.String())

	summary, err := h.Overtime.Summary(ctx, emp, payroll.PeriodOf(rec.Date))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize hours", err)
		return
	}
	writeJSON(w, http.StatusCreated, HoursResponse{Daily: &rec, Summary: toOvertimeSummaryDTO(summary)})
}

func (h *Handler) DeleteDailyHours(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	day, err := parseDate("date", chi.URLParam(r, "date"))
	if err != nil {
		writeDomainError(w, "Invalid date", err)
		return
	}
	if err := h.Overtime.RemoveDaily(r.Context(), emp.ID, day); err != nil {
		writeDomainError(w, "Failed to remove hours", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddWeeklyHours records one week for an employee counting hours weekly.
// The week is aligned on the employee's first weekday; tiers over their
// cap are reduced.
func (h *Handler) AddWeeklyHours(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	var req WeeklyHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseDate("week_start", req.WeekStart)
	if err != nil {
		writeDomainError(w, "Invalid weekly record", err)
		return
	}

	ctx := r.Context()
	rec, err := h.Overtime.AddWeekly(ctx, emp, overtime.WeeklyRecord{
		WeekStart:  start,
		DayHours:   req.DayHours,
		NightHours: req.NightHours,
		HS115:      req.HS115,
		HS140:      req.HS140,
		HS150:      req.HS150,
		HS200:      req.HS200,
		Meals:      req.Meals,
		Remoteness: req.Remoteness,
		Note:       req.Note,
	})
	if err != nil {
		writeDomainError(w, "Failed to record hours", err)
		return
	}
	h.Metrics.RecordOvertime(payroll.OvertimeWeekly.String())

	summary, err := h.Overtime.Summary(ctx, emp, payroll.PeriodOf(rec.WeekEnd()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize hours", err)
		return
	}
	writeJSON(w, http.StatusCreated, HoursResponse{Weekly: &rec, Summary: toOvertimeSummaryDTO(summary)})
}

func (h *Handler) GetOvertimeSummary(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.employee(w, r)
	if !ok {
		return
	}
	period, err := periodParam(r, "period")
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}
	summary, err := h.Overtime.Summary(r.Context(), emp, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize hours", err)
		return
	}
	writeJSON(w, http.StatusOK, toOvertimeSummaryDTO(summary))
}
