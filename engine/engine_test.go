package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/engine"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/lock"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/moustaphacheikh/paie/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var march = payroll.NewPeriod(2025, time.March)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type fixture struct {
	store        *memory.Memory
	computer     *engine.Computer
	installments *installment.Engine
	locks        *lock.Local
	metrics      *observability.Metrics
}

// newFixture builds a catalog with a mandatory base salary (grid 40000 for
// category A1) and a seniority bonus of F04 x [SALBASE], plus three
// employees hired in January 2019 (6 years at the end of March 2025).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	params := payroll.DefaultParameters()
	params.CurrentPeriod = march
	params.SalaryGrid["A1"] = d(40000)
	require.NoError(t, st.SaveParameters(ctx, params))

	for _, m := range []payroll.Motif{
		{ID: "NORMAL", Label: "Paie normale", Kind: payroll.MotifNormal},
		{ID: "CONGE", Label: "Solde de congé", Kind: payroll.MotifLeave},
	} {
		require.NoError(t, st.SaveMotif(ctx, m))
	}

	taxable := payroll.Flags{SubjectITS: true, SubjectCNSS: true, SubjectCNAM: true}
	saveRubrique(t, st, payroll.Rubrique{ID: "SALBASE", Label: "Salaire de base", Sense: payroll.SenseGain, Flags: taxable, Mandatory: true, Fixed: true, Order: 1})
	saveRubrique(t, st, payroll.Rubrique{ID: "PRIME_ANC", Label: "Prime d'ancienneté", Sense: payroll.SenseGain, Flags: taxable, BaseAuto: true, QuantityAuto: true, Order: 2})
	setFormula(t, st, "PRIME_ANC", payroll.SlotBase, payroll.Fn(payroll.F04))
	setFormula(t, st, "PRIME_ANC", payroll.SlotQuantity, payroll.Ref("SALBASE"))

	for _, id := range []payroll.EmployeeID{"emp-1", "emp-2", "emp-3"} {
		saveEmployee(t, st, payroll.Employee{
			ID:          id,
			Name:        "Employee " + string(id),
			Category:    "A1",
			HireDate:    payroll.Date(2019, time.January, 15),
			Active:      true,
			PaymentMode: payroll.PaymentTransfer,
			Bank:        "BMCI",
		})
	}

	locks := lock.NewLocal()
	m := observability.NewMetrics(prometheus.NewRegistry())
	inst := installment.NewEngine(st, locks, nil)
	ot := overtime.NewEngine(st, params.WeeklyThreshold, nil)
	c := engine.NewComputer(st, ot, inst,
		engine.WithLocker(locks),
		engine.WithMetrics(m),
		engine.WithWorkers(2),
		engine.WithClock(func() time.Time { return time.Date(2025, time.March, 28, 12, 0, 0, 0, time.UTC) }),
	)
	return &fixture{store: st, computer: c, installments: inst, locks: locks, metrics: m}
}

func saveRubrique(t *testing.T, st *memory.Memory, r payroll.Rubrique) {
	t.Helper()
	require.NoError(t, st.SaveRubrique(context.Background(), r))
}

func saveEmployee(t *testing.T, st *memory.Memory, e payroll.Employee) {
	t.Helper()
	require.NoError(t, st.SaveEmployee(context.Background(), e))
}

func setFormula(t *testing.T, st *memory.Memory, id payroll.RubriqueID, slot payroll.Slot, tokens ...payroll.Token) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.ClearTokens(ctx, id, slot))
	for _, tok := range tokens {
		require.NoError(t, st.AppendToken(ctx, id, slot, tok))
	}
}

func key(e payroll.EmployeeID) payroll.Key {
	return payroll.Key{Employee: e, Motif: "NORMAL", Period: march}
}

func lineOf(lines []payroll.PayLine, id payroll.RubriqueID) (payroll.PayLine, bool) {
	for _, l := range lines {
		if l.Rubrique == id {
			return l, true
		}
	}
	return payroll.PayLine{}, false
}

func failureOf(res engine.Result, id payroll.RubriqueID) (*payroll.FormulaError, bool) {
	for _, f := range res.Failures {
		if f.Rubrique == id {
			var ferr *payroll.FormulaError
			if errors.As(f.Err, &ferr) {
				return ferr, true
			}
		}
	}
	return nil, false
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %d, got %s", msg, want, got)
}

// =============================================================================
// SINGLE KEY
// =============================================================================

func TestCompute_SeniorityBonusEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// WHEN computing emp-1 for March
	res, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	// THEN the base salary comes from the grid and the bonus is 5% of it
	base, ok := lineOf(res.Lines, "SALBASE")
	require.True(t, ok)
	assertAmount(t, 40000, base.Amount, "base salary")
	assert.True(t, base.Fixed)

	bonus, ok := lineOf(res.Lines, "PRIME_ANC")
	require.True(t, ok)
	assertAmount(t, 2000, bonus.Amount, "seniority bonus")
	assert.True(t, payroll.Percent(5).Equal(bonus.Base))
	assertAmount(t, 40000, bonus.Quantity, "bonus quantity")
	assert.Empty(t, res.Failures)

	// AND the set is persisted for the key
	stored, err := f.computer.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmployeesComputed.WithLabelValues("ok")))
}

func TestCompute_ReplacesPreviousSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)
	_, err = f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	stored, err := f.computer.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Len(t, stored, 2, "at most one current line per rubrique")
}

func TestPreview_DoesNotPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.computer.Preview(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Len(t, res.Lines, 2)

	stored, err := f.computer.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCompute_UnknownEmployee(t *testing.T) {
	f := newFixture(t)
	_, err := f.computer.Compute(context.Background(), key("ghost"))
	assert.ErrorIs(t, err, payroll.ErrMissingReferenceData)
}

// =============================================================================
// FORMULA FAILURES
// =============================================================================

func TestCompute_CycleFailsOnlyTheRubriquesInvolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN A -> B -> A, C -> A and a self-referencing D
	for i, id := range []payroll.RubriqueID{"A", "B", "C", "D"} {
		saveRubrique(t, f.store, payroll.Rubrique{ID: id, Sense: payroll.SenseGain, BaseAuto: true, Order: 10 + i})
	}
	setFormula(t, f.store, "A", payroll.SlotBase, payroll.Ref("B"))
	setFormula(t, f.store, "B", payroll.SlotBase, payroll.Ref("A"))
	setFormula(t, f.store, "C", payroll.SlotBase, payroll.Ref("A"), payroll.Op(payroll.OpAdd), payroll.ConstInt(1))
	setFormula(t, f.store, "D", payroll.SlotBase, payroll.Ref("D"))

	res, err := f.computer.Compute(ctx, key("emp-1"))

	// THEN the employee is computed, the four rubriques are reported
	require.NoError(t, err)
	assert.Len(t, res.Lines, 2)
	require.Len(t, res.Failures, 4)

	a, ok := failureOf(res, "A")
	require.True(t, ok)
	assert.Equal(t, payroll.ReasonCycle, a.Reason)
	assert.Equal(t, payroll.RubriqueID("A"), a.Path[0])
	assert.Equal(t, payroll.RubriqueID("A"), a.Path[len(a.Path)-1])

	c, ok := failureOf(res, "C")
	require.True(t, ok)
	assert.Equal(t, payroll.ReasonCycle, c.Reason)
	assert.Equal(t, payroll.RubriqueID("C"), c.Rubrique, "attributed to the referencing rubrique")
	assert.Equal(t, payroll.EmployeeID("emp-1"), c.Employee)

	self, ok := failureOf(res, "D")
	require.True(t, ok)
	assert.Equal(t, []payroll.RubriqueID{"D", "D"}, self.Path)

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.RubriqueFailures.WithLabelValues("cycle")))
}

func TestCompute_UnresolvedReferenceIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saveRubrique(t, f.store, payroll.Rubrique{ID: "PRIME", Sense: payroll.SenseGain, BaseAuto: true, Order: 5})
	setFormula(t, f.store, "PRIME", payroll.SlotBase, payroll.ConstInt(2), payroll.Op(payroll.OpMul), payroll.Ref("NOPE"))

	res, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	ferr, ok := failureOf(res, "PRIME")
	require.True(t, ok)
	assert.Equal(t, payroll.ReasonUnresolvedReference, ferr.Reason)
	assert.Equal(t, 2, ferr.Position)
	assert.Equal(t, payroll.SlotBase, ferr.Slot)
}

func TestCompute_MandatoryFailureAbortsEmployee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saveRubrique(t, f.store, payroll.Rubrique{ID: "CNSS", Sense: payroll.SenseRetenue, BaseAuto: true, Mandatory: true, Order: 20})
	setFormula(t, f.store, "CNSS", payroll.SlotBase, payroll.ConstInt(1), payroll.Op(payroll.OpDiv), payroll.ConstInt(0))

	res, err := f.computer.Compute(ctx, key("emp-1"))

	var ferr *payroll.FormulaError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, payroll.ReasonDivisionByZero, ferr.Reason)
	assert.Equal(t, payroll.RubriqueID("CNSS"), ferr.Rubrique)
	assert.Empty(t, res.Lines)

	stored, err := f.computer.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing persisted for a failed employee")
}

func TestCompute_MissingGridSalaryFailsMandatoryBase(t *testing.T) {
	f := newFixture(t)
	saveEmployee(t, f.store, payroll.Employee{ID: "emp-9", Category: "Z9", HireDate: payroll.Date(2020, time.May, 1), Active: true})

	_, err := f.computer.Compute(context.Background(), key("emp-9"))
	assert.ErrorIs(t, err, payroll.ErrMissingReferenceData)
}

// =============================================================================
// CONCURRENCY & LEAVE
// =============================================================================

func TestCompute_ConcurrentRecomputeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN another recomputation holding emp-1's key
	unlock, ok, err := f.locks.TryLock(ctx, "recompute:"+key("emp-1").String())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.computer.Compute(ctx, key("emp-1"))
	var cerr *payroll.RecomputeConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, key("emp-1").String(), cerr.Key)

	// WHEN it releases, the key computes again
	unlock()
	_, err = f.computer.Compute(ctx, key("emp-1"))
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmployeesComputed.WithLabelValues("conflict")))
}

func TestCompute_OnLeaveClearsNormalRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	// GIVEN emp-1 goes on leave
	e, err := f.store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	e.OnLeave = true
	saveEmployee(t, f.store, e)

	res, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.True(t, res.Cleared)
	assert.Empty(t, res.Lines)

	stored, err := f.computer.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, stored)

	// AND the leave settlement run still computes
	leave := payroll.Key{Employee: "emp-1", Motif: "CONGE", Period: march}
	res, err = f.computer.Compute(ctx, leave)
	require.NoError(t, err)
	assert.False(t, res.Cleared)
	assert.NotEmpty(t, res.Lines)
}

// =============================================================================
// MANUAL LINES & INSTALLMENTS
// =============================================================================

func TestCompute_ManualValuesAndAddedRubriques(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN a bonus outside the normal catalog, entered by hand
	saveRubrique(t, f.store, payroll.Rubrique{ID: "PRIME_REND", Sense: payroll.SenseGain, Motifs: []payroll.MotifID{"BONUS"}, Order: 30})
	qty := d(2)
	_, err := f.computer.SetManual(ctx, key("emp-1"), "PRIME_REND", engine.ManualEntry{Base: d(1500), Quantity: &qty})
	require.NoError(t, err)

	// AND a direct-amount rubrique of the catalog
	saveRubrique(t, f.store, payroll.Rubrique{ID: "RAPPEL", Sense: payroll.SenseGain, DirectAmount: true, Order: 31})
	amount := d(750)
	_, err = f.computer.SetManual(ctx, key("emp-1"), "RAPPEL", engine.ManualEntry{Amount: &amount})
	require.NoError(t, err)

	// AND a manual-slot rubrique nobody filled in
	saveRubrique(t, f.store, payroll.Rubrique{ID: "INDEMNITE", Sense: payroll.SenseGain, Order: 32})

	res, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	rend, ok := lineOf(res.Lines, "PRIME_REND")
	require.True(t, ok, "rubriques with a manual line are applicable")
	assertAmount(t, 3000, rend.Amount, "manual base x quantity")
	assert.True(t, rend.Manual)

	rappel, ok := lineOf(res.Lines, "RAPPEL")
	require.True(t, ok)
	assertAmount(t, 750, rappel.Amount, "direct amount")

	_, ok = lineOf(res.Lines, "INDEMNITE")
	assert.False(t, ok, "zero computed lines are left out")

	// AND a second compute keeps the manual values
	res, err = f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)
	rend, ok = lineOf(res.Lines, "PRIME_REND")
	require.True(t, ok)
	assertAmount(t, 3000, rend.Amount, "manual line survives recompute")
}

func TestSetManual_DirectAmountRequiresAmount(t *testing.T) {
	f := newFixture(t)
	saveRubrique(t, f.store, payroll.Rubrique{ID: "RAPPEL", Sense: payroll.SenseGain, DirectAmount: true})

	_, err := f.computer.SetManual(context.Background(), key("emp-1"), "RAPPEL", engine.ManualEntry{Base: d(10)})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	_, err = f.computer.SetManual(context.Background(), key("emp-1"), "NOPE", engine.ManualEntry{Base: d(10)})
	assert.ErrorIs(t, err, payroll.ErrMissingReferenceData)
}

func TestCompute_InstallmentWithheld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saveRubrique(t, f.store, payroll.Rubrique{ID: "AVANCE", Sense: payroll.SenseRetenue, DeductionDu: payroll.DeductNet, Order: 40})

	_, err := f.installments.Open(ctx, installment.OpenRequest{
		Employee: "emp-1", Rubrique: "AVANCE", Capital: d(2500), Amount: d(1000), Active: true,
	})
	require.NoError(t, err)

	res, err := f.computer.Compute(ctx, key("emp-1"))
	require.NoError(t, err)

	avance, ok := lineOf(res.Lines, "AVANCE")
	require.True(t, ok)
	assert.Equal(t, payroll.SenseRetenue, avance.Sense)
	assertAmount(t, 1000, avance.Amount, "installment amount")

	s := engine.Summarize(res.Lines)
	assertAmount(t, 42000, s.Gains, "gains")
	assertAmount(t, 42000, s.Brut, "brut")
	assertAmount(t, 41000, s.Net, "net")

	// Other employees withhold nothing
	res, err = f.computer.Compute(ctx, key("emp-2"))
	require.NoError(t, err)
	_, ok = lineOf(res.Lines, "AVANCE")
	assert.False(t, ok)
}

// =============================================================================
// BATCH
// =============================================================================

func TestComputePayroll_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN emp-3 carries a mandatory rubrique whose formula is malformed
	saveRubrique(t, f.store, payroll.Rubrique{ID: "BROKEN", Sense: payroll.SenseGain, BaseAuto: true, Mandatory: true, Motifs: []payroll.MotifID{"OTHER"}, Order: 50})
	setFormula(t, f.store, "BROKEN", payroll.SlotBase, payroll.ConstInt(1), payroll.Op(payroll.OpAdd))
	_, err := f.computer.SetManual(ctx, key("emp-3"), "BROKEN", engine.ManualEntry{Base: d(1)})
	require.NoError(t, err)

	results, err := f.computer.ComputePayroll(ctx, []payroll.EmployeeID{"emp-1", "emp-2", "emp-3"}, "NORMAL", march)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// THEN two succeed and one carries a structured formula error
	assert.True(t, results["emp-1"].OK())
	assert.True(t, results["emp-2"].OK())
	assert.Len(t, results["emp-2"].Lines, 2)

	var ferr *payroll.FormulaError
	require.ErrorAs(t, results["emp-3"].Err, &ferr)
	assert.Equal(t, payroll.ReasonMalformed, ferr.Reason)
	assert.Equal(t, payroll.EmployeeID("emp-3"), ferr.Employee)
	assert.Equal(t, payroll.RubriqueID("BROKEN"), ferr.Rubrique)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EmployeesComputed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmployeesComputed.WithLabelValues("failed")))
}

func TestComputePayroll_UnknownEmployeeIsolated(t *testing.T) {
	f := newFixture(t)
	results, err := f.computer.ComputePayroll(context.Background(), []payroll.EmployeeID{"emp-1", "ghost", "emp-1"}, "NORMAL", march)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results["emp-1"].OK())
	assert.ErrorIs(t, results["ghost"].Err, payroll.ErrMissingReferenceData)
}

func TestComputePayroll_CanceledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.computer.ComputePayroll(ctx, []payroll.EmployeeID{"emp-1", "emp-2"}, "NORMAL", march)
	require.NoError(t, err)
	for id, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled, "employee %s", id)
	}
	stored, err := f.computer.Lines(context.Background(), key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// manualDuringLoad saves a manual line once the batch has read its shared
// data and before any employee is locked.
type manualDuringLoad struct {
	*memory.Memory
	once sync.Once
	save func()
}

func (s *manualDuringLoad) WorkedDays(ctx context.Context, p payroll.Period) (map[payroll.EmployeeID]decimal.Decimal, error) {
	s.once.Do(s.save)
	return s.Memory.WorkedDays(ctx, p)
}

func TestComputePayroll_KeepsManualLineSavedDuringLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saveRubrique(t, f.store, payroll.Rubrique{ID: "PRIME_EXC", Sense: payroll.SenseGain, Motifs: []payroll.MotifID{"BONUS"}, Order: 60})

	// GIVEN a manual line entered while the batch is loading
	st := &manualDuringLoad{Memory: f.store}
	c := engine.NewComputer(st,
		overtime.NewEngine(st, payroll.DefaultParameters().WeeklyThreshold, nil),
		f.installments,
		engine.WithLocker(f.locks),
		engine.WithWorkers(2),
	)
	var saveErr error
	st.save = func() {
		_, saveErr = c.SetManual(ctx, key("emp-1"), "PRIME_EXC", engine.ManualEntry{Base: d(5000)})
	}

	// WHEN the batch runs
	results, err := c.ComputePayroll(ctx, []payroll.EmployeeID{"emp-1", "emp-2"}, "NORMAL", march)
	require.NoError(t, err)
	require.NoError(t, saveErr)
	require.True(t, results["emp-1"].OK())

	// THEN the computed and the stored sets both carry the manual line
	line, ok := lineOf(results["emp-1"].Lines, "PRIME_EXC")
	require.True(t, ok)
	assertAmount(t, 5000, line.Amount, "manual base")

	stored, err := c.Lines(ctx, key("emp-1"))
	require.NoError(t, err)
	line, ok = lineOf(stored, "PRIME_EXC")
	require.True(t, ok, "manual line survives the batch")
	assert.True(t, line.Manual)
	assert.Len(t, stored, 3)
}

func TestAllEmployees_ActiveOnly(t *testing.T) {
	f := newFixture(t)
	saveEmployee(t, f.store, payroll.Employee{ID: "emp-0", Category: "A1"})

	ids, err := f.computer.AllEmployees(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []payroll.EmployeeID{"emp-1", "emp-2", "emp-3"}, ids)
}

// =============================================================================
// SUMMARY & BANK TRANSFERS
// =============================================================================

func TestSummarize_SplitsTotals(t *testing.T) {
	lines := []payroll.PayLine{
		{Rubrique: "SALBASE", Sense: payroll.SenseGain, Fixed: true, Amount: d(40000), Flags: payroll.Flags{SubjectITS: true, SubjectCNSS: true}},
		{Rubrique: "HS", Sense: payroll.SenseGain, Amount: d(3000), Flags: payroll.Flags{SubjectITS: true}},
		{Rubrique: "LOGEMENT", Sense: payroll.SenseGain, Amount: d(2000), Flags: payroll.Flags{InKind: true}},
		{Rubrique: "CNSS", Sense: payroll.SenseRetenue, DeductionDu: payroll.DeductBrut, Amount: d(400), Flags: payroll.Flags{SubjectITS: true}},
		{Rubrique: "AVANCE", Sense: payroll.SenseRetenue, DeductionDu: payroll.DeductNet, Amount: d(1000)},
	}
	s := engine.Summarize(lines)

	assertAmount(t, 45000, s.Gains, "gains")
	assertAmount(t, 40000, s.FixedGains, "fixed")
	assertAmount(t, 5000, s.VariableGains, "variable")
	assertAmount(t, 2000, s.InKind, "in kind")
	assertAmount(t, 400, s.RetenuesBrut, "retenues brut")
	assertAmount(t, 1000, s.RetenuesNet, "retenues net")
	assertAmount(t, 44600, s.Brut, "brut")
	assertAmount(t, 43600, s.Net, "net")
	assertAmount(t, 41600, s.NetToPay, "in-kind gains are not paid in cash")
	assertAmount(t, 42600, s.BaseITS, "ITS base")
	assertAmount(t, 40000, s.BaseCNSS, "CNSS base")
	assert.True(t, s.BaseCNAM.IsZero())
}

func TestBankTransfers_FiltersByPaymentModeAndBank(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e2, err := f.store.GetEmployee(ctx, "emp-2")
	require.NoError(t, err)
	e2.PaymentMode = payroll.PaymentCash
	saveEmployee(t, f.store, e2)

	e3, err := f.store.GetEmployee(ctx, "emp-3")
	require.NoError(t, err)
	e3.Bank = "BNM"
	saveEmployee(t, f.store, e3)

	_, err = f.computer.ComputePayroll(ctx, []payroll.EmployeeID{"emp-1", "emp-2", "emp-3"}, "NORMAL", march)
	require.NoError(t, err)

	all, err := f.computer.BankTransfers(ctx, engine.BankFilter{Motif: "NORMAL", Period: march})
	require.NoError(t, err)
	require.Len(t, all, 2, "cash employee left out")
	assert.Equal(t, "BMCI", all[0].Bank)
	assert.Equal(t, "BNM", all[1].Bank)
	assertAmount(t, 42000, all[0].Net, "net")

	bnm, err := f.computer.BankTransfers(ctx, engine.BankFilter{Motif: "NORMAL", Period: march, Bank: "BNM"})
	require.NoError(t, err)
	require.Len(t, bnm, 1)
	assert.Equal(t, payroll.EmployeeID("emp-3"), bnm[0].Employee)
}

func TestBankTransfers_LeavesOutGainsInKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN emp-1 is housed by the employer
	saveRubrique(t, f.store, payroll.Rubrique{ID: "LOGEMENT", Sense: payroll.SenseGain, Flags: payroll.Flags{SubjectITS: true, InKind: true}, Motifs: []payroll.MotifID{"BONUS"}, Order: 70})
	_, err := f.computer.SetManual(ctx, key("emp-1"), "LOGEMENT", engine.ManualEntry{Base: d(3000)})
	require.NoError(t, err)

	_, err = f.computer.ComputePayroll(ctx, []payroll.EmployeeID{"emp-1", "emp-2"}, "NORMAL", march)
	require.NoError(t, err)

	// THEN the housing counts in the net but is not wired
	s, err := f.computer.Summary(ctx, key("emp-1"))
	require.NoError(t, err)
	assertAmount(t, 45000, s.Net, "net")
	assertAmount(t, 42000, s.NetToPay, "net to pay")

	transfers, err := f.computer.BankTransfers(ctx, engine.BankFilter{Motif: "NORMAL", Period: march})
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, payroll.EmployeeID("emp-1"), transfers[0].Employee)
	assertAmount(t, 42000, transfers[0].Net, "wired amount")
	assertAmount(t, 42000, transfers[1].Net, "wired amount")
}

// =============================================================================
// RETENTION
// =============================================================================

func TestPurge_DropsLinesBeyondHorizon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: payroll.NewPeriod(2023, time.January)}
	kept := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: payroll.NewPeriod(2023, time.April)}
	for _, k := range []payroll.Key{old, kept} {
		require.NoError(t, f.store.ReplaceLines(ctx, k, []payroll.PayLine{{Employee: k.Employee, Motif: k.Motif, Period: k.Period, Rubrique: "SALBASE", Amount: d(1)}}))
	}

	// WHEN purging with a 24 month horizon from March 2025
	n, err := f.computer.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines, err := f.computer.Lines(ctx, kept)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
