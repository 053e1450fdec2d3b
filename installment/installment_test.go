package installment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/lock"
	"github.com/moustaphacheikh/paie/observability"
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

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func period(month time.Month) payroll.Period { return payroll.NewPeriod(2025, month) }

func setup(t *testing.T) (*installment.Engine, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics(prometheus.NewRegistry())
	return installment.NewEngine(memory.New(), lock.NewLocal(), nil, installment.WithMetrics(m)), m
}

func open(t *testing.T, eng *installment.Engine, capital, amount int64) installment.Installment {
	t.Helper()
	inst, err := eng.Open(context.Background(), installment.OpenRequest{
		Employee: "emp-1",
		Rubrique: "AVANCE",
		AgreedOn: payroll.Date(2025, time.January, 10),
		Capital:  d(capital),
		Amount:   d(amount),
		Active:   true,
	})
	require.NoError(t, err)
	return inst
}

// =============================================================================
// OPEN
// =============================================================================

func TestOpen_RejectsNegativeCapital(t *testing.T) {
	eng, _ := setup(t)
	_, err := eng.Open(context.Background(), installment.OpenRequest{
		Employee: "emp-1", Rubrique: "AVANCE", Capital: d(-1), Amount: d(10),
	})
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)
}

func TestOpen_StartsActiveWithFullBalance(t *testing.T) {
	eng, m := setup(t)
	inst := open(t, eng, 30000, 10000)

	s, err := eng.Status(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, installment.StateActive, s.Current)
	assert.True(t, s.Balance.Equal(d(30000)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstallmentsOpened))
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestSettle_BalanceMonotonicAndSoldeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	eng, m := setup(t)
	inst := open(t, eng, 25000, 10000)

	// WHEN settling 10000 three times, the last one larger than the balance
	previous := d(25000)
	soldeCount := 0
	for _, month := range []time.Month{time.February, time.March, time.April} {
		s, err := eng.Settle(ctx, inst.ID, period(month), d(10000))
		require.NoError(t, err)

		// THEN the balance never increases and never goes negative
		assert.True(t, s.Balance.LessThanOrEqual(previous))
		assert.False(t, s.Balance.IsNegative())
		previous = s.Balance
		if s.Current == installment.StateSolde {
			soldeCount++
		}
	}

	assert.True(t, previous.IsZero())
	assert.Equal(t, 1, soldeCount)

	history, err := eng.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[2].Amount.Equal(d(5000)), "last tranche reduced to the balance")

	s, err := eng.Status(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, s.SoldeIn)
	assert.Equal(t, period(time.April), *s.SoldeIn)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues("solde")))
}

func TestSettle_RejectedOnceSolde(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	inst := open(t, eng, 1000, 1000)

	_, err := eng.Settle(ctx, inst.ID, period(time.February), d(1000))
	require.NoError(t, err)

	_, err = eng.Settle(ctx, inst.ID, period(time.March), d(1))
	var serr *payroll.InstallmentStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "solde", serr.State)
	assert.Equal(t, "settle", serr.Op)
}

func TestSettle_OnePerPeriod(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	inst := open(t, eng, 5000, 1000)

	_, err := eng.Settle(ctx, inst.ID, period(time.February), d(1000))
	require.NoError(t, err)
	_, err = eng.Settle(ctx, inst.ID, period(time.February), d(1000))
	assert.ErrorIs(t, err, installment.ErrDuplicateTranche)
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)
}

func TestSettle_RejectsNonPositiveAmount(t *testing.T) {
	eng, _ := setup(t)
	inst := open(t, eng, 5000, 1000)
	_, err := eng.Settle(context.Background(), inst.ID, period(time.February), d(0))
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)
}

func TestSettle_UnknownInstallment(t *testing.T) {
	eng, _ := setup(t)
	_, err := eng.Settle(context.Background(), "nope", period(time.February), d(10))
	assert.ErrorIs(t, err, payroll.ErrMissingReferenceData)
}

func TestSettle_ConcurrentSettlementsSerialized(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	inst := open(t, eng, 12000, 1000)

	// WHEN twelve settlements of 1500 race, one per month
	var wg sync.WaitGroup
	for month := time.January; month <= time.December; month++ {
		wg.Add(1)
		go func(m time.Month) {
			defer wg.Done()
			_, _ = eng.Settle(ctx, inst.ID, period(m), d(1500))
		}(month)
	}
	wg.Wait()

	// THEN exactly the capital was settled and the balance is zero
	s, err := eng.Status(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, s.Settled.Equal(d(12000)), "settled %s", s.Settled)
	assert.True(t, s.Balance.IsZero())
	assert.Equal(t, installment.StateSolde, s.Current)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestSetActive_ToggleUntilSolde(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	inst := open(t, eng, 2000, 1000)

	s, err := eng.SetActive(ctx, inst.ID, false)
	require.NoError(t, err)
	assert.Equal(t, installment.StateInactive, s.Current)

	s, err = eng.SetActive(ctx, inst.ID, true)
	require.NoError(t, err)
	assert.Equal(t, installment.StateActive, s.Current)

	_, err = eng.Settle(ctx, inst.ID, period(time.February), d(2000))
	require.NoError(t, err)

	_, err = eng.SetActive(ctx, inst.ID, true)
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)
}

func TestUpdateTerms_FrozenAfterSettlement(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	inst := open(t, eng, 5000, 1000)
	newCapital := d(6000)

	// Before any tranche the terms are editable
	s, err := eng.UpdateTerms(ctx, inst.ID, installment.Terms{Capital: &newCapital}, false)
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(d(6000)))

	_, err = eng.Settle(ctx, inst.ID, period(time.February), d(1000))
	require.NoError(t, err)

	// After one, only an override may change them
	amount := d(2000)
	_, err = eng.UpdateTerms(ctx, inst.ID, installment.Terms{Amount: &amount}, false)
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)

	s, err = eng.UpdateTerms(ctx, inst.ID, installment.Terms{Amount: &amount}, true)
	require.NoError(t, err)
	assert.True(t, s.Amount.Equal(d(2000)))

	// Even with override, capital cannot fall below what was settled
	tooLow := d(500)
	_, err = eng.UpdateTerms(ctx, inst.ID, installment.Terms{Capital: &tooLow}, true)
	assert.ErrorIs(t, err, payroll.ErrInvalidInstallmentState)
}

func TestUpdateTerms_SoldeIsTerminal(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)

	// GIVEN an installment repaid in one tranche
	inst := open(t, eng, 100, 100)
	s, err := eng.Settle(ctx, inst.ID, period(time.February), d(100))
	require.NoError(t, err)
	require.Equal(t, installment.StateSolde, s.Current)

	// WHEN an override raises its capital
	raised := d(300)
	_, err = eng.UpdateTerms(ctx, inst.ID, installment.Terms{Capital: &raised}, true)

	// THEN it is rejected and the installment stays repaid
	var serr *payroll.InstallmentStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "update", serr.Op)

	s, err = eng.Status(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, installment.StateSolde, s.Current)
	assert.True(t, s.Balance.IsZero())
	assert.True(t, s.Capital.Equal(d(100)))

	// AND the note can still be corrected with override
	note := "repaid early"
	s, err = eng.UpdateTerms(ctx, inst.ID, installment.Terms{Note: &note}, true)
	require.NoError(t, err)
	assert.Equal(t, "repaid early", s.Note)
	assert.Equal(t, installment.StateSolde, s.Current)
}

func TestDelete_RequiresOverrideOnceSettled(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)

	fresh := open(t, eng, 1000, 100)
	require.NoError(t, eng.Delete(ctx, fresh.ID, false))

	settled := open(t, eng, 1000, 100)
	_, err := eng.Settle(ctx, settled.ID, period(time.February), d(100))
	require.NoError(t, err)

	assert.ErrorIs(t, eng.Delete(ctx, settled.ID, false), payroll.ErrInvalidInstallmentState)
	require.NoError(t, eng.Delete(ctx, settled.ID, true))
	_, err = eng.Status(ctx, settled.ID)
	assert.ErrorIs(t, err, payroll.ErrMissingReferenceData)
}

// =============================================================================
// PAYROLL BRIDGE
// =============================================================================

func TestDueFor_LesserOfBalanceAndAmount(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)

	a := open(t, eng, 2500, 1000)
	_ = open(t, eng, 300, 1000)
	inactive := open(t, eng, 5000, 1000)
	_, err := eng.SetActive(ctx, inactive.ID, false)
	require.NoError(t, err)

	_, err = eng.Settle(ctx, a.ID, period(time.February), d(2000))
	require.NoError(t, err)

	due, err := eng.DueFor(ctx, "emp-1")
	require.NoError(t, err)
	// 500 left on the first, 300 on the second, the inactive one skipped
	assert.True(t, due["AVANCE"].Equal(d(800)), "due %s", due["AVANCE"])
}

func TestApplyToCurrentPeriod_MaterializesRetenueLine(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t)
	open(t, eng, 2500, 1000)

	key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: period(time.March)}
	r := payroll.Rubrique{ID: "AVANCE", Sense: payroll.SenseRetenue, DeductionDu: payroll.DeductNet}

	line, ok, err := eng.ApplyToCurrentPeriod(ctx, key, r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payroll.SenseRetenue, line.Sense)
	assert.True(t, line.Amount.Equal(d(1000)))
	assert.Equal(t, key, line.Key())

	_, ok, err = eng.ApplyToCurrentPeriod(ctx, key, payroll.Rubrique{ID: "OTHER"})
	require.NoError(t, err)
	assert.False(t, ok)
}
