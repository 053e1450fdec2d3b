/*
scheduler.go - Queued payroll batches and periodic history purge

PURPOSE:
  Runs computePayroll batches in the background so a request for a whole
  workforce returns at once with a run id, and periodically drops pay lines
  older than the retained history horizon.

DESIGN:
  - One worker goroutine drains a bounded queue; batches run one at a time
    and parallelize over employees inside the engine
  - A full queue rejects the batch (ErrQueueFull) instead of blocking the
    request
  - Run records are kept in memory, newest first, up to MaxRuns
  - Stop cancels the running batch: employees already started finish,
    the others are reported canceled
  - A ticker calls Computer.Purge every PurgeInterval (0 disables it)

USAGE:
  scheduler := NewPayrollScheduler(computer, 32, logger, metrics)
  scheduler.PurgeInterval = 24 * time.Hour
  scheduler.Start()
  run, err := scheduler.Enqueue(BatchRequest{Motif: "NORMAL", Period: p})
  // ... later
  scheduler.Stop()

SEE ALSO:
  - payroll.go: batch endpoints
  - engine/batch.go: ComputePayroll
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/payroll"
	"go.uber.org/zap"
)

// ErrQueueFull rejects a batch when the queue has no room left.
var ErrQueueFull = errors.New("payroll batch queue is full")

type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchRun records one queued computePayroll call and its outcome.
type BatchRun struct {
	ID     string         `json:"id"`
	Motif  string         `json:"motif"`
	Period payroll.Period `json:"period"`
	// Employees lists the requested ids; empty means every active employee.
	Employees []string    `json:"employees,omitempty"`
	Status    BatchStatus `json:"status"`

	Computed int `json:"computed"`
	Partial  int `json:"partial"`
	Cleared  int `json:"cleared"`
	Failed   int `json:"failed"`
	// Errors maps failed employees to their error.
	Errors map[string]string `json:"errors,omitempty"`
	Error  string            `json:"error,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PayrollScheduler runs queued batches and the history purge.
type PayrollScheduler struct {
	Computer      *engine.Computer
	Metrics       *observability.Metrics
	PurgeInterval time.Duration
	MaxRuns       int

	log   *zap.Logger
	queue chan string

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	runs    map[string]*BatchRun
	order   []string // newest first
}

func NewPayrollScheduler(computer *engine.Computer, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *PayrollScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PayrollScheduler{
		Computer: computer,
		Metrics:  metrics,
		MaxRuns:  100,
		log:      logger.Named("scheduler"),
		queue:    make(chan string, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		runs:     make(map[string]*BatchRun),
	}
}

// Start launches the worker and, when PurgeInterval is set, the purge loop.
func (s *PayrollScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.worker()

	if s.PurgeInterval > 0 {
		s.wg.Add(1)
		go s.purgeLoop(s.PurgeInterval)
	}
	s.log.Info("scheduler started",
		zap.Int("queue_size", cap(s.queue)),
		zap.Duration("purge_interval", s.PurgeInterval))
}

// Stop cancels the running batch and waits for the goroutines to exit.
// Queued batches that never started stay queued.
func (s *PayrollScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Enqueue queues a batch and returns its run record.
func (s *PayrollScheduler) Enqueue(req BatchRequest) (BatchRun, error) {
	if req.Motif == "" || req.Period.IsZero() {
		return BatchRun{}, payroll.Invalid("motif and period are required")
	}
	run := &BatchRun{
		ID:        uuid.NewString(),
		Motif:     req.Motif,
		Period:    req.Period,
		Employees: req.Employees,
		Status:    BatchQueued,
		QueuedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.queue <- run.ID:
	default:
		s.log.Warn("batch queue full", zap.String("motif", req.Motif), zap.String("period", req.Period.String()))
		return BatchRun{}, ErrQueueFull
	}
	s.runs[run.ID] = run
	s.order = append([]string{run.ID}, s.order...)
	s.trim()
	s.Metrics.SetJobsQueued(len(s.queue))
	return *run, nil
}

// RunNow executes a batch synchronously, bypassing the queue.
func (s *PayrollScheduler) RunNow(ctx context.Context, req BatchRequest) BatchRun {
	run := &BatchRun{
		ID:        uuid.NewString(),
		Motif:     req.Motif,
		Period:    req.Period,
		Employees: req.Employees,
		Status:    BatchQueued,
		QueuedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append([]string{run.ID}, s.order...)
	s.trim()
	s.mu.Unlock()

	s.execute(ctx, run.ID)
	r, _ := s.Run(run.ID)
	return r
}

// Run returns a copy of a run record.
func (s *PayrollScheduler) Run(id string) (BatchRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return BatchRun{}, false
	}
	return *run, true
}

// Runs returns the retained run records, newest first.
func (s *PayrollScheduler) Runs() []BatchRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BatchRun, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.runs[id])
	}
	return out
}

func (s *PayrollScheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case id := <-s.queue:
			s.Metrics.SetJobsQueued(len(s.queue))
			s.execute(s.ctx, id)
		}
	}
}

func (s *PayrollScheduler) execute(ctx context.Context, id string) {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	started := time.Now().UTC()
	run.Status = BatchRunning
	run.StartedAt = &started
	motif, period := payroll.MotifID(run.Motif), run.Period
	requested := append([]string(nil), run.Employees...)
	s.mu.Unlock()

	outcome, err := s.compute(ctx, motif, period, requested)

	s.mu.Lock()
	defer s.mu.Unlock()
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = BatchFailed
		run.Error = err.Error()
		s.log.Error("payroll batch failed", zap.String("run", id), zap.Error(err))
		return
	}
	run.Status = BatchCompleted
	run.Computed, run.Partial, run.Cleared, run.Failed = outcome.computed, outcome.partial, outcome.cleared, outcome.failed
	if len(outcome.errors) > 0 {
		run.Errors = outcome.errors
	}
	s.log.Info("payroll batch completed",
		zap.String("run", id),
		zap.String("motif", string(motif)),
		zap.String("period", period.String()),
		zap.Int("computed", run.Computed),
		zap.Int("failed", run.Failed),
		zap.Duration("took", completed.Sub(started)))
}

type batchOutcome struct {
	computed, partial, cleared, failed int
	errors                             map[string]string
}

func (s *PayrollScheduler) compute(ctx context.Context, motif payroll.MotifID, period payroll.Period, requested []string) (batchOutcome, error) {
	var ids []payroll.EmployeeID
	if len(requested) == 0 {
		all, err := s.Computer.AllEmployees(ctx)
		if err != nil {
			return batchOutcome{}, err
		}
		ids = all
	} else {
		for _, e := range requested {
			ids = append(ids, payroll.EmployeeID(e))
		}
	}

	results, err := s.Computer.ComputePayroll(ctx, ids, motif, period)
	if err != nil {
		return batchOutcome{}, err
	}
	out := batchOutcome{errors: map[string]string{}}
	for id, res := range results {
		switch {
		case res.Err != nil:
			out.failed++
			out.errors[string(id)] = res.Err.Error()
		case res.Cleared:
			out.cleared++
		case len(res.Failures) > 0:
			out.partial++
		default:
			out.computed++
		}
	}
	return out, nil
}

func (s *PayrollScheduler) purgeLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Computer.Purge(s.ctx); err != nil {
				s.log.Warn("history purge failed", zap.Error(err))
			}
		}
	}
}

// trim drops the oldest finished runs beyond MaxRuns. Callers hold mu.
func (s *PayrollScheduler) trim() {
	for len(s.order) > s.MaxRuns && s.MaxRuns > 0 {
		last := s.order[len(s.order)-1]
		if st := s.runs[last].Status; st == BatchQueued || st == BatchRunning {
			return
		}
		delete(s.runs, last)
		s.order = s.order[:len(s.order)-1]
	}
}
