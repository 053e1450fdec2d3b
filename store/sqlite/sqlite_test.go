package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/moustaphacheikh/paie/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return payroll.MustParseDecimal(s) }

var jan = payroll.NewPeriod(2025, time.January)

func line(e payroll.EmployeeID, r payroll.RubriqueID, p payroll.Period, amount string) payroll.PayLine {
	return payroll.PayLine{
		Employee: e,
		Rubrique: r,
		Motif:    "NORMAL",
		Period:   p,
		Base:     dec(amount),
		Quantity: decimal.NewFromInt(1),
		Amount:   dec(amount),
		Sense:    payroll.SenseGain,
		Flags:    payroll.Flags{SubjectITS: true},
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestRubrique_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r := payroll.Rubrique{
		ID:          "RET_AVANCE",
		Label:       "Avance sur salaire",
		Sense:       payroll.SenseRetenue,
		DeductionDu: payroll.DeductNet,
		Flags:       payroll.Flags{Cumulable: true},
		BaseAuto:    true,
		Motifs:      []payroll.MotifID{"NORMAL", "CONGE"},
		Order:       40,
	}
	require.NoError(t, store.SaveRubrique(ctx, r))

	got, err := store.GetRubrique(ctx, "RET_AVANCE")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	// Upsert keeps a single row.
	r.Label = "Avance"
	require.NoError(t, store.SaveRubrique(ctx, r))
	all, err := store.ListRubriques(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Avance", all[0].Label)

	_, err = store.GetRubrique(ctx, "NOPE")
	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

func TestParameters_DefaultsUntilSaved(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	p, err := store.Parameters(ctx)
	require.NoError(t, err)
	assert.True(t, p.SMIG.Equal(payroll.DefaultParameters().SMIG))

	p.CurrentPeriod = jan
	p.SalaryGrid = map[payroll.Category]decimal.Decimal{"A1": dec("40000")}
	require.NoError(t, store.SaveParameters(ctx, p))

	got, err := store.Parameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, jan, got.CurrentPeriod)
	assert.True(t, got.SalaryGrid["A1"].Equal(dec("40000")))
}

func TestTokens_AppendDropClear(t *testing.T) {
	// GIVEN: a base formula "F04 x SALBASE"
	// WHEN: appending, dropping the last token and clearing
	// THEN: tokens keep their order and only the tail is removed

	ctx := context.Background()
	store := newTestStore(t)

	for _, tok := range []payroll.Token{
		payroll.Fn(payroll.F04),
		payroll.Op(payroll.OpMul),
		payroll.Ref("SALBASE"),
		payroll.Op(payroll.OpMul),
		payroll.ConstString("1.5"),
	} {
		require.NoError(t, store.AppendToken(ctx, "PRIME_ANC", payroll.SlotBase, tok))
	}
	require.NoError(t, store.AppendToken(ctx, "PRIME_ANC", payroll.SlotQuantity, payroll.ConstInt(2)))

	toks, err := store.Tokens(ctx, "PRIME_ANC", payroll.SlotBase)
	require.NoError(t, err)
	require.Len(t, toks, 5)
	assert.Equal(t, payroll.F04, toks[0].Function)
	assert.Equal(t, payroll.OpMul, toks[1].Op)
	assert.Equal(t, payroll.RubriqueID("SALBASE"), toks[2].Rubrique)
	assert.True(t, toks[4].Constant.Equal(dec("1.5")))

	require.NoError(t, store.DropLastToken(ctx, "PRIME_ANC", payroll.SlotBase))
	require.NoError(t, store.DropLastToken(ctx, "PRIME_ANC", payroll.SlotBase))
	require.NoError(t, store.AppendToken(ctx, "PRIME_ANC", payroll.SlotBase, payroll.Op(payroll.OpDiv)))

	formulas, err := store.Formulas(ctx)
	require.NoError(t, err)
	f := formulas["PRIME_ANC"]
	require.Len(t, f.Base, 4)
	assert.Equal(t, payroll.OpDiv, f.Base[3].Op)
	require.Len(t, f.Quantity, 1)

	require.NoError(t, store.ClearTokens(ctx, "PRIME_ANC", payroll.SlotBase))
	toks, err = store.Tokens(ctx, "PRIME_ANC", payroll.SlotBase)
	require.NoError(t, err)
	assert.Empty(t, toks)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestEmployee_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exit := payroll.Date(2025, time.June, 30)
	e := payroll.Employee{
		ID:           "emp-1",
		Name:         "Aminetou",
		Category:     "A1",
		HireDate:     payroll.Date(2019, time.January, 15),
		ExitDate:     &exit,
		WeeklyHours:  dec("40"),
		Active:       true,
		Children:     3,
		PaymentMode:  payroll.PaymentTransfer,
		Bank:         "BMCI",
		OvertimeMode: payroll.OvertimeWeekly,
		Week:         payroll.DefaultWeek(),
	}
	require.NoError(t, store.SaveEmployee(ctx, e))

	got, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, e.HireDate, got.HireDate)
	require.NotNil(t, got.ExitDate)
	assert.Equal(t, exit, *got.ExitDate)
	assert.Nil(t, got.LastLeaveDeparture)
	assert.True(t, got.SeniorityDate.IsZero())
	assert.True(t, got.WeeklyHours.Equal(dec("40")))
	assert.Equal(t, payroll.OvertimeWeekly, got.OvertimeMode)
	assert.Equal(t, e.Week, got.Week)

	_, err = store.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, payroll.ErrNotFound)
}

func TestWorkedDays_Override(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SetWorkedDays(ctx, "emp-1", jan, dec("20")))
	require.NoError(t, store.SetWorkedDays(ctx, "emp-1", jan, dec("22.5")))

	days, err := store.WorkedDays(ctx, jan)
	require.NoError(t, err)
	assert.True(t, days["emp-1"].Equal(dec("22.5")))

	other, err := store.WorkedDays(ctx, jan.Next())
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// PAY LINES
// =============================================================================

func TestReplaceLines_SupersedesWholeSet(t *testing.T) {
	// GIVEN: a key with two lines
	// WHEN: the set is replaced by a single line
	// THEN: only the new line remains for that key

	ctx := context.Background()
	store := newTestStore(t)
	key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: jan}

	require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{
		line("emp-1", "SALBASE", jan, "40000"),
		line("emp-1", "PRIME_ANC", jan, "2000"),
	}))
	require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{
		line("emp-1", "SALBASE", jan, "41000"),
	}))

	lines, err := store.Lines(ctx, key)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Amount.Equal(dec("41000")))
	assert.True(t, lines[0].Flags.SubjectITS)
	assert.NotEmpty(t, lines[0].ID)
}

func TestLines_MalformedColumnsFailTheRead(t *testing.T) {
	// GIVEN: a stored line whose columns are damaged outside the store
	// WHEN: the set is read back
	// THEN: the read fails instead of returning zero flags or amounts

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paie.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: jan}
	require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{
		line("emp-1", "SALBASE", jan, "40000"),
	}))

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.ExecContext(ctx, "UPDATE pay_lines SET flags_json = '{not json' WHERE rubrique_id = 'SALBASE'")
	require.NoError(t, err)
	_, err = store.Lines(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed json")

	_, err = raw.ExecContext(ctx, `UPDATE pay_lines SET flags_json = '{"subject_its":true}', amount = '40 000' WHERE rubrique_id = 'SALBASE'`)
	require.NoError(t, err)
	_, err = store.Lines(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed decimal")

	_, err = raw.ExecContext(ctx, "UPDATE pay_lines SET amount = '40000' WHERE rubrique_id = 'SALBASE'")
	require.NoError(t, err)
	lines, err := store.Lines(ctx, key)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Amount.Equal(dec("40000")))
}

func TestReplaceLines_DuplicateRubriqueRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: jan}

	require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{line("emp-1", "SALBASE", jan, "40000")}))

	err := store.ReplaceLines(ctx, key, []payroll.PayLine{
		line("emp-1", "PRIME", jan, "1"),
		line("emp-1", "PRIME", jan, "2"),
	})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	lines, err := store.Lines(ctx, key)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, payroll.RubriqueID("SALBASE"), lines[0].Rubrique)
}

func TestSaveManualLine_ReplacesSameRubrique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: jan}

	require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{
		line("emp-1", "SALBASE", jan, "40000"),
		line("emp-1", "PRIME", jan, "500"),
	}))
	require.NoError(t, store.SaveManualLine(ctx, line("emp-1", "PRIME", jan, "750")))

	lines, err := store.Lines(ctx, key)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, payroll.RubriqueID("PRIME"), lines[0].Rubrique)
	assert.True(t, lines[0].Manual)
	assert.True(t, lines[0].Amount.Equal(dec("750")))
	assert.False(t, lines[1].Manual)
}

func TestHistoryAndPurge(t *testing.T) {
	// GIVEN: lines over three consecutive periods
	// WHEN: reading a two-period window and purging the oldest
	// THEN: history is bounded and ordered, purge counts removed lines

	ctx := context.Background()
	store := newTestStore(t)

	for _, p := range []payroll.Period{jan.Previous(), jan, jan.Next()} {
		key := payroll.Key{Employee: "emp-1", Motif: "NORMAL", Period: p}
		require.NoError(t, store.ReplaceLines(ctx, key, []payroll.PayLine{
			line("emp-1", "SALBASE", p, "40000"),
			line("emp-1", "PRIME", p, "100"),
		}))
	}

	hist, err := store.History(ctx, "emp-1", jan, jan.Next())
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, jan, hist[0].Period)
	assert.Equal(t, jan.Next(), hist[3].Period)

	n, err := store.PurgeBefore(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.History(ctx, "emp-1", payroll.NewPeriod(2000, time.January), jan.Next())
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byPeriod, err := store.LinesForPeriod(ctx, "NORMAL", jan)
	require.NoError(t, err)
	assert.Len(t, byPeriod, 2)
}

// =============================================================================
// HOUR RECORDS
// =============================================================================

func TestDailyRecords_UpsertByDay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	day := payroll.Date(2025, time.January, 6)
	require.NoError(t, store.SaveDaily(ctx, overtime.DailyRecord{Employee: "emp-1", Date: day, DayHours: dec("8")}))
	require.NoError(t, store.SaveDaily(ctx, overtime.DailyRecord{Employee: "emp-1", Date: day, DayHours: dec("10"), Holiday150: true}))
	require.NoError(t, store.SaveDaily(ctx, overtime.DailyRecord{Employee: "emp-1", Date: day.AddDate(0, 0, 1), NightHours: dec("6")}))

	recs, err := store.DailyRecords(ctx, "emp-1", jan.Start(), jan.End())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].DayHours.Equal(dec("10")))
	assert.True(t, recs[0].Holiday150)
	assert.True(t, recs[1].NightHours.Equal(dec("6")))

	require.NoError(t, store.DeleteDaily(ctx, "emp-1", day))
	recs, err = store.DailyRecords(ctx, "emp-1", jan.Start(), jan.End())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWeeklyRecords_Range(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, start := range []time.Time{
		payroll.Date(2024, time.December, 30),
		payroll.Date(2025, time.January, 27),
		payroll.Date(2025, time.February, 3),
	} {
		require.NoError(t, store.SaveWeekly(ctx, overtime.WeeklyRecord{
			Employee: "emp-1", WeekStart: start, DayHours: dec("40"), HS115: dec("4"), Meals: 2,
		}))
	}

	recs, err := store.WeeklyRecords(ctx, "emp-1", jan.Start(), jan.End())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, payroll.Date(2025, time.January, 27), recs[0].WeekStart)
	assert.True(t, recs[0].HS115.Equal(dec("4")))
	assert.Equal(t, 2, recs[0].Meals)
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func TestTranches_AppendOnlyOnePerPeriod(t *testing.T) {
	// GIVEN: an installment with a January tranche
	// WHEN: a second January tranche is appended
	// THEN: the store rejects it as a duplicate

	ctx := context.Background()
	store := newTestStore(t)

	inst := installment.Installment{
		ID:       "inst-1",
		Employee: "emp-1",
		Rubrique: "RET_AVANCE",
		AgreedOn: payroll.Date(2024, time.December, 1),
		Capital:  dec("30000"),
		Amount:   dec("10000"),
		Active:   true,
	}
	require.NoError(t, store.SaveInstallment(ctx, inst))

	require.NoError(t, store.AppendTranche(ctx, installment.Tranche{Installment: "inst-1", Period: jan.Next(), Amount: dec("10000")}))
	require.NoError(t, store.AppendTranche(ctx, installment.Tranche{Installment: "inst-1", Period: jan, Amount: dec("10000")}))

	err := store.AppendTranche(ctx, installment.Tranche{Installment: "inst-1", Period: jan, Amount: dec("5000")})
	assert.ErrorIs(t, err, installment.ErrDuplicateTranche)

	ts, err := store.Tranches(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, jan, ts[0].Period)
	assert.Equal(t, jan.Next(), ts[1].Period)
}

func TestInstallment_SoldeAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	inst := installment.Installment{
		ID: "inst-1", Employee: "emp-1", Rubrique: "RET_AVANCE",
		AgreedOn: payroll.Date(2024, time.December, 1),
		Capital:  dec("10000"), Amount: dec("10000"), Active: true,
	}
	require.NoError(t, store.SaveInstallment(ctx, inst))
	require.NoError(t, store.AppendTranche(ctx, installment.Tranche{Installment: "inst-1", Period: jan, Amount: dec("10000")}))

	inst.Solde = true
	inst.SoldeIn = &jan
	require.NoError(t, store.SaveInstallment(ctx, inst))

	got, err := store.GetInstallment(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, installment.StateSolde, got.State())
	require.NotNil(t, got.SoldeIn)
	assert.Equal(t, jan, *got.SoldeIn)

	list, err := store.ListInstallments(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	none, err := store.ListInstallments(ctx, "emp-2")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.DeleteInstallment(ctx, "inst-1"))
	_, err = store.GetInstallment(ctx, "inst-1")
	assert.ErrorIs(t, err, payroll.ErrNotFound)
	ts, err := store.Tranches(ctx, "inst-1")
	require.NoError(t, err)
	assert.Empty(t, ts)

	assert.ErrorIs(t, store.DeleteInstallment(ctx, "inst-1"), payroll.ErrNotFound)
}
