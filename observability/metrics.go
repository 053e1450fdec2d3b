package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so engines built in tests need no registry.
type Metrics struct {
	EmployeesComputed   *prometheus.CounterVec   // by status: ok, failed, skipped, canceled, conflict
	RubriqueFailures    *prometheus.CounterVec   // by formula error reason
	LinesWritten        prometheus.Counter       // pay lines persisted
	BatchDuration       prometheus.Histogram     // seconds per ComputePayroll call
	Settlements         *prometheus.CounterVec   // by result: settled, solde, rejected
	InstallmentsOpened  prometheus.Counter       // installments created
	OvertimeRecords     *prometheus.CounterVec   // by mode: daily, weekly
	JobsQueued          prometheus.Gauge         // batch jobs waiting for the worker
	HTTPRequestDuration *prometheus.HistogramVec // by method, route, status
}

// NewMetrics registers the collectors on reg, the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EmployeesComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paie_employees_computed_total",
				Help: "Employee pay line computations by status",
			},
			[]string{"status"},
		),
		RubriqueFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paie_rubrique_failures_total",
				Help: "Rubriques whose formula failed, by reason",
			},
			[]string{"reason"},
		),
		LinesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "paie_pay_lines_written_total",
				Help: "Pay lines persisted by computations",
			},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paie_batch_duration_seconds",
				Help:    "Duration of payroll batch runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		Settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paie_installment_settlements_total",
				Help: "Installment settlements by result",
			},
			[]string{"result"},
		),
		InstallmentsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "paie_installments_opened_total",
				Help: "Installments opened",
			},
		),
		OvertimeRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paie_overtime_records_total",
				Help: "Hour records saved by counting mode",
			},
			[]string{"mode"},
		),
		JobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "paie_jobs_queued",
				Help: "Batch jobs waiting to run",
			},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paie_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (m *Metrics) RecordEmployee(status string) {
	if m == nil {
		return
	}
	m.EmployeesComputed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRubriqueFailure(reason string) {
	if m == nil {
		return
	}
	m.RubriqueFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordLines(n int) {
	if m == nil {
		return
	}
	m.LinesWritten.Add(float64(n))
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSettlement(result string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordInstallmentOpened() {
	if m == nil {
		return
	}
	m.InstallmentsOpened.Inc()
}

func (m *Metrics) RecordOvertime(mode string) {
	if m == nil {
		return
	}
	m.OvertimeRecords.WithLabelValues(mode).Inc()
}

func (m *Metrics) SetJobsQueued(n int) {
	if m == nil {
		return
	}
	m.JobsQueued.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
