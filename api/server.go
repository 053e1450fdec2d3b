/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency per route pattern
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/functions, /api/parameters, /api/catalog   Reference data
  /api/motifs/*, /api/rubriques/*                 Catalog and formula editor
  /api/employees/*                                Employees, hours, installments
  /api/installments/*                             Installment lifecycle
  /api/payroll/*                                  Computation, lines, batches
  /api/scenarios/*                                Demo scenarios
  /healthz                                        Liveness and store ping
  /metrics                                        Prometheus exposition

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the router around the handlers.
type RouterConfig struct {
	CorsOrigins []string
	// MetricsPath exposes Gatherer when both are set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.MetricsPath != "" && cfg.Gatherer != nil {
		r.Handle(cfg.MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/functions", h.ListFunctions)
		r.Get("/parameters", h.GetParameters)
		r.Put("/parameters", h.UpdateParameters)
		r.Get("/catalog", h.GetCatalog)
		r.Post("/catalog", h.LoadCatalog)

		r.Route("/motifs", func(r chi.Router) {
			r.Get("/", h.ListMotifs)
			r.Post("/", h.CreateMotif)
		})

		// Rubriques and the append-only formula editor
		r.Route("/rubriques", func(r chi.Router) {
			r.Get("/", h.ListRubriques)
			r.Post("/", h.CreateRubrique)
			r.Get("/{id}", h.GetRubrique)
			r.Route("/{id}/formulas/{slot}", func(r chi.Router) {
				r.Get("/", h.GetFormula)
				r.Put("/", h.SetFormulaText)
				r.Delete("/", h.ClearFormula)
				r.Post("/tokens", h.AppendToken)
				r.Delete("/tokens/last", h.DropLastToken)
			})
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}/worked-days", h.SetWorkedDays)
			r.Post("/{id}/hours/daily", h.AddDailyHours)
			r.Delete("/{id}/hours/daily/{date}", h.DeleteDailyHours)
			r.Post("/{id}/hours/weekly", h.AddWeeklyHours)
			r.Get("/{id}/hours/summary", h.GetOvertimeSummary)
			r.Get("/{id}/installments", h.ListEmployeeInstallments)
			r.Post("/{id}/installments", h.OpenInstallment)
		})

		r.Route("/installments", func(r chi.Router) {
			r.Get("/", h.ListInstallments)
			r.Get("/{id}", h.GetInstallment)
			r.Put("/{id}", h.UpdateInstallment)
			r.Delete("/{id}", h.DeleteInstallment)
			r.Post("/{id}/settle", h.SettleInstallment)
			r.Post("/{id}/active", h.SetInstallmentActive)
			r.Get("/{id}/tranches", h.GetInstallmentTranches)
		})

		r.Route("/payroll", func(r chi.Router) {
			r.Post("/compute", h.Compute)
			r.Get("/lines", h.GetLines)
			r.Post("/manual", h.SetManualLine)
			r.Get("/summary", h.GetSummary)
			r.Get("/transfers", h.GetTransfers)
			r.Post("/purge", h.Purge)
			r.Get("/batches", h.ListBatches)
			r.Post("/batches", h.EnqueueBatch)
			r.Get("/batches/{id}", h.GetBatch)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// Health reports the process alive and the store reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observe records every request under its route pattern, not its raw
// path, so ids do not explode label cardinality.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}
