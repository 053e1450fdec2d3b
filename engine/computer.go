/*
Package engine turns rubriques, formulas and attendance into pay lines.

PURPOSE:
  The Computer is the pipeline orchestrator: for one (employee, motif,
  period) key it resolves the applicable rubriques, computes Base and
  Quantity (formula or stored value), derives the amount and replaces the
  key's pay line set. ComputePayroll runs it over many employees.

PIPELINE (per key):
  1. Applicable set: catalog rubriques of the motif plus rubriques that
     already carry a manual line for the key
  2. Base and Quantity: formula when the slot is auto, stored value else
  3. Amount: Base x Quantity, except the base salary rubrique (grid
     salary), direct-amount rubriques and installment retenues
  4. Flags copied from the rubrique onto the line
  5. The set replaces the previous one for the key

FAILURES:
  A rubrique whose formula fails is left out and reported in
  Result.Failures; the other rubriques are still computed. A failure on a
  Mandatory rubrique fails the whole employee.

CONCURRENCY:
  At most one recomputation per key runs at a time (lock.Locker, keyed on
  "recompute:<key>"); a second one is rejected with
  payroll.ErrConcurrentRecompute rather than queued. The snapshot is
  loaded before evaluation starts and is never written afterwards.

SEE ALSO:
  - resolver.go: rubrique references and caching
  - batch.go: ComputePayroll
  - summary.go: totals and bank transfer listing
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/functions"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/lock"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// COMPUTER
// =============================================================================

type Computer struct {
	store        payroll.Store
	lib          *functions.Library
	overtime     *overtime.Engine
	installments *installment.Engine
	locks        lock.Locker
	metrics      *observability.Metrics
	log          *zap.Logger
	now          func() time.Time
	workers      int
}

type Option func(*Computer)

func WithLocker(l lock.Locker) Option { return func(c *Computer) { c.locks = l } }
func WithMetrics(m *observability.Metrics) Option { return func(c *Computer) { c.metrics = m } }
func WithLogger(l *zap.Logger) Option { return func(c *Computer) { c.log = l.Named("engine") } }
func WithLibrary(lib *functions.Library) Option { return func(c *Computer) { c.lib = lib } }
func WithClock(now func() time.Time) Option { return func(c *Computer) { c.now = now } }

// WithWorkers bounds the employees computed in parallel by a batch.
func WithWorkers(n int) Option {
	return func(c *Computer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func NewComputer(store payroll.Store, ot *overtime.Engine, inst *installment.Engine, opts ...Option) *Computer {
	c := &Computer{
		store:        store,
		lib:          functions.New(),
		overtime:     ot,
		installments: inst,
		locks:        lock.NewLocal(),
		log:          zap.NewNop(),
		now:          time.Now,
		workers:      4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Library returns the function library formulas are evaluated with.
func (c *Computer) Library() *functions.Library { return c.lib }

// =============================================================================
// RESULT
// =============================================================================

// Failure is a rubrique left out of a pay line set.
type Failure struct {
	Rubrique payroll.RubriqueID
	Err      error
}

// Result is the outcome of one key. Err is set when the employee could not
// be computed at all; Lines and Failures are then empty.
type Result struct {
	Key      payroll.Key
	Lines    []payroll.PayLine
	Failures []Failure
	// Cleared is set when the employee is on leave for a normal run and
	// the key's lines were deleted.
	Cleared bool
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

// =============================================================================
// SINGLE KEY
// =============================================================================

// Compute recomputes key and replaces its pay line set.
func (c *Computer) Compute(ctx context.Context, key payroll.Key) (Result, error) {
	unlock, err := c.acquire(ctx, key)
	if err != nil {
		c.record(Result{Key: key, Err: err})
		return Result{Key: key, Err: err}, err
	}
	defer unlock()

	r, err := c.load(ctx, []payroll.EmployeeID{key.Employee}, key.Motif, key.Period)
	if err == nil {
		r, err = c.forKey(ctx, r, key.Employee)
	}
	if err != nil {
		return Result{Key: key}, err
	}
	res := c.computeKey(r, key.Employee)
	if res.OK() {
		if err := c.persist(ctx, res); err != nil {
			return Result{Key: key}, err
		}
	}
	c.record(res)
	return res, res.Err
}

// Preview computes key without persisting anything.
func (c *Computer) Preview(ctx context.Context, key payroll.Key) (Result, error) {
	r, err := c.load(ctx, []payroll.EmployeeID{key.Employee}, key.Motif, key.Period)
	if err == nil {
		r, err = c.forKey(ctx, r, key.Employee)
	}
	if err != nil {
		return Result{Key: key}, err
	}
	res := c.computeKey(r, key.Employee)
	return res, res.Err
}

// Lines returns the current pay line set of key.
func (c *Computer) Lines(ctx context.Context, key payroll.Key) ([]payroll.PayLine, error) {
	return c.store.Lines(ctx, key)
}

func (c *Computer) acquire(ctx context.Context, key payroll.Key) (lock.Unlock, error) {
	unlock, ok, err := c.locks.TryLock(ctx, recomputeKey(key))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, &payroll.RecomputeConflictError{Key: key.String()}
	}
	return unlock, nil
}

// failureReason labels a skipped rubrique for metrics.
func failureReason(err error) string {
	var ferr *payroll.FormulaError
	if errors.As(err, &ferr) {
		return string(ferr.Reason)
	}
	return string(payroll.KindOf(err))
}

func recomputeKey(k payroll.Key) string { return "recompute:" + k.String() }

func (c *Computer) persist(ctx context.Context, res Result) error {
	if res.Cleared {
		return c.store.DeleteLines(ctx, res.Key)
	}
	if err := c.store.ReplaceLines(ctx, res.Key, res.Lines); err != nil {
		return fmt.Errorf("replace lines of %s: %w", res.Key, err)
	}
	c.metrics.RecordLines(len(res.Lines))
	return nil
}

func (c *Computer) record(res Result) {
	for _, f := range res.Failures {
		c.metrics.RecordRubriqueFailure(failureReason(f.Err))
		c.log.Warn("rubrique skipped",
			zap.String("key", res.Key.String()),
			zap.String("rubrique", string(f.Rubrique)),
			zap.Error(f.Err))
	}
	switch {
	case errors.Is(res.Err, payroll.ErrConcurrentRecompute):
		c.metrics.RecordEmployee("conflict")
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		c.metrics.RecordEmployee("canceled")
	case res.Err != nil:
		c.metrics.RecordEmployee("failed")
		c.log.Error("employee computation failed",
			zap.String("employee", string(res.Key.Employee)),
			zap.String("motif", string(res.Key.Motif)),
			zap.String("period", res.Key.Period.String()),
			zap.Error(res.Err))
	case res.Cleared:
		c.metrics.RecordEmployee("skipped")
	default:
		c.metrics.RecordEmployee("ok")
	}
}

// computeKey evaluates every applicable rubrique of employee e. It only
// reads the run and never touches the store.
func (c *Computer) computeKey(r *run, e payroll.EmployeeID) Result {
	key := r.key(e)
	res := Result{Key: key}

	ectx, err := r.snap.Context(e, r.motif, r.period)
	if err != nil {
		res.Err = err
		return res
	}
	if ectx.Employee.OnLeave && ectx.Motif.Kind == payroll.MotifNormal {
		res.Cleared = true
		return res
	}

	ev := newEvaluation(ectx, c.lib, r.cycles)
	at := c.now().UTC()
	for _, rub := range applicable(r.snap, key) {
		line, err := ev.compute(rub.ID)
		if err != nil {
			if rub.Mandatory {
				res.Err = err
				res.Lines, res.Failures = nil, nil
				return res
			}
			res.Failures = append(res.Failures, Failure{Rubrique: rub.ID, Err: err})
			continue
		}
		if line.Amount.IsZero() && !line.Manual {
			continue
		}
		line.ID = uuid.NewString()
		line.ComputedAt = at
		res.Lines = append(res.Lines, line)
	}
	return res
}

// applicable returns the catalog rubriques of the motif plus the ones with
// a manual line for key, in catalog order.
func applicable(snap *payroll.Snapshot, key payroll.Key) []payroll.Rubrique {
	set := snap.RubriquesFor(key.Motif)
	seen := make(map[payroll.RubriqueID]bool, len(set))
	for _, r := range set {
		seen[r.ID] = true
	}
	extra := false
	for _, l := range snap.ManualFor(key) {
		if seen[l.Rubrique] {
			continue
		}
		seen[l.Rubrique] = true
		if r, err := snap.Rubrique(l.Rubrique); err == nil {
			set = append(set, r)
			extra = true
		}
	}
	if extra {
		payroll.SortRubriques(set)
	}
	return set
}

// =============================================================================
// MANUAL ENTRY & RETENTION
// =============================================================================

// ManualEntry is a hand-entered value for a rubrique. Amount is only read
// for direct-amount rubriques; Quantity defaults to 1.
type ManualEntry struct {
	Base     decimal.Decimal
	Quantity *decimal.Decimal
	Amount   *decimal.Decimal
}

// SetManual stores a manual line for rubrique id. It is used by the next
// Compute of key for every slot that is not auto.
func (c *Computer) SetManual(ctx context.Context, key payroll.Key, id payroll.RubriqueID, entry ManualEntry) (payroll.PayLine, error) {
	rub, err := c.store.GetRubrique(ctx, id)
	if errors.Is(err, payroll.ErrNotFound) {
		return payroll.PayLine{}, payroll.Missing("rubrique", string(id))
	}
	if err != nil {
		return payroll.PayLine{}, err
	}
	if _, err := c.store.GetEmployee(ctx, key.Employee); errors.Is(err, payroll.ErrNotFound) {
		return payroll.PayLine{}, payroll.Missing("employee", string(key.Employee))
	} else if err != nil {
		return payroll.PayLine{}, err
	}

	line := newLine(key, rub)
	line.ID = uuid.NewString()
	line.Manual = true
	line.ComputedAt = c.now().UTC()
	line.Base, line.Quantity = entry.Base, one
	if entry.Quantity != nil {
		line.Quantity = *entry.Quantity
	}
	switch {
	case rub.DirectAmount && entry.Amount == nil:
		return payroll.PayLine{}, payroll.Invalid("rubrique %s takes a direct amount", id)
	case rub.DirectAmount:
		line.Base, line.Quantity = *entry.Amount, one
	}
	line.Amount = payroll.RoundAmount(line.Base.Mul(line.Quantity))

	unlock, err := c.locks.Lock(ctx, recomputeKey(key))
	if err != nil {
		return payroll.PayLine{}, err
	}
	defer unlock()
	if err := c.store.SaveManualLine(ctx, line); err != nil {
		return payroll.PayLine{}, fmt.Errorf("save manual line: %w", err)
	}
	return line, nil
}

// Purge deletes pay lines of periods before the retained-history horizon,
// counted back from the current period. It returns the lines removed.
func (c *Computer) Purge(ctx context.Context) (int, error) {
	params, err := c.store.Parameters(ctx)
	if err != nil {
		return 0, err
	}
	current := params.CurrentPeriod
	if current.IsZero() {
		current = payroll.PeriodOf(c.now())
	}
	horizon := params.HistoryHorizonMonths
	if horizon <= 0 {
		return 0, nil
	}
	return c.PurgeBefore(ctx, current.AddMonths(-horizon))
}

// PurgeBefore deletes pay lines of periods strictly before p.
func (c *Computer) PurgeBefore(ctx context.Context, p payroll.Period) (int, error) {
	n, err := c.store.PurgeBefore(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", p, err)
	}
	if n > 0 {
		c.log.Info("stale pay lines purged", zap.String("before", p.String()), zap.Int("lines", n))
	}
	return n, nil
}
