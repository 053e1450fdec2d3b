package engine

import (
	"context"
	"sync"
	"time"

	"github.com/moustaphacheikh/paie/payroll"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH - computePayroll over many employees
// =============================================================================

// ComputePayroll computes and persists the pay lines of every employee in
// ids for (motif, period). Every id gets a Result: a failing employee
// never fails the batch. Cancellation is checked before each employee, so
// an employee already started is finished; the ones not started get the
// context error.
//
// The returned error is only set when the shared reference data could not
// be loaded.
func (c *Computer) ComputePayroll(ctx context.Context, ids []payroll.EmployeeID, motif payroll.MotifID, period payroll.Period) (map[payroll.EmployeeID]Result, error) {
	started := c.now()
	defer func() { c.metrics.ObserveBatch(c.now().Sub(started)) }()

	ids = dedupe(ids)
	r, err := c.load(ctx, ids, motif, period)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[payroll.EmployeeID]Result, len(ids))
	)
	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, id := range ids {
		g.Go(func() error {
			res := c.computeOne(ctx, r, id)
			c.record(res)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logBatch(motif, period, results, c.now().Sub(started))
	return results, nil
}

// computeOne runs one employee of a batch under its recompute lock.
func (c *Computer) computeOne(ctx context.Context, r *run, id payroll.EmployeeID) Result {
	key := r.key(id)
	if err := ctx.Err(); err != nil {
		return Result{Key: key, Err: err}
	}
	unlock, err := c.acquire(ctx, key)
	if err != nil {
		return Result{Key: key, Err: err}
	}
	defer unlock()

	kr, err := c.forKey(ctx, r, id)
	if err != nil {
		return Result{Key: key, Err: err}
	}
	res := c.computeKey(kr, id)
	if !res.OK() {
		return res
	}
	if err := c.persist(ctx, res); err != nil {
		return Result{Key: key, Err: err}
	}
	return res
}

func (c *Computer) logBatch(motif payroll.MotifID, period payroll.Period, results map[payroll.EmployeeID]Result, took time.Duration) {
	ok, failed, lines := 0, 0, 0
	for _, res := range results {
		if res.OK() {
			ok++
			lines += len(res.Lines)
		} else {
			failed++
		}
	}
	c.log.Info("payroll batch computed",
		zap.String("motif", string(motif)),
		zap.String("period", period.String()),
		zap.Int("succeeded", ok),
		zap.Int("failed", failed),
		zap.Int("lines", lines),
		zap.Duration("took", took))
}

func dedupe(ids []payroll.EmployeeID) []payroll.EmployeeID {
	seen := make(map[payroll.EmployeeID]bool, len(ids))
	out := make([]payroll.EmployeeID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// AllEmployees returns the ids of active employees, for batches run over
// the whole workforce.
func (c *Computer) AllEmployees(ctx context.Context) ([]payroll.EmployeeID, error) {
	emps, err := c.store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]payroll.EmployeeID, 0, len(emps))
	for _, e := range emps {
		if e.Active {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}
