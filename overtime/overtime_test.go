package overtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/moustaphacheikh/paie/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	threshold = decimal.NewFromInt(40)
	march     = payroll.NewPeriod(2025, time.March)
)

func h(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

func dailyEmployee() payroll.Employee {
	return payroll.Employee{ID: "emp-1", OvertimeMode: payroll.OvertimeDaily, Week: payroll.DefaultWeek()}
}

func weeklyEmployee() payroll.Employee {
	e := dailyEmployee()
	e.OvertimeMode = payroll.OvertimeWeekly
	return e
}

func day(d int, dayHours, night float64) overtime.DailyRecord {
	return overtime.DailyRecord{
		Employee:   "emp-1",
		Date:       payroll.Date(2025, time.March, d),
		DayHours:   h(dayHours),
		NightHours: h(night),
	}
}

func assertHours(t *testing.T, want float64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, h(want).Equal(got), "%s: want %v, got %s", msg, want, got)
}

// =============================================================================
// DAILY MODE
// =============================================================================

func TestSummarize_DailyUnderThresholdHasNoOvertime(t *testing.T) {
	// GIVEN Monday 3 March to Friday 7 March, 8 hours a day
	var records []overtime.DailyRecord
	for d := 3; d <= 7; d++ {
		records = append(records, day(d, 8, 0))
	}

	s := overtime.Summarize(dailyEmployee(), march, records, nil, threshold)

	assertHours(t, 40, s.DayHours, "day hours")
	assert.True(t, s.TotalOvertime().IsZero())
}

func TestSummarize_DailyWeeklyThresholdSplitsTiers(t *testing.T) {
	// GIVEN 10 hours Monday..Friday and 5 hours Saturday: 55 hours, 15 over
	var records []overtime.DailyRecord
	for d := 3; d <= 7; d++ {
		records = append(records, day(d, 10, 0))
	}
	records = append(records, day(8, 5, 0))

	s := overtime.Summarize(dailyEmployee(), march, records, nil, threshold)

	// THEN the first 8 overtime hours are at 115%, the other 7 at 140%
	assertHours(t, 8, s.HS115, "hs115")
	assertHours(t, 7, s.HS140, "hs140")
	assertHours(t, 15, s.TotalOvertime(), "total")
}

func TestSummarize_DailyThresholdResetsEachWeek(t *testing.T) {
	var records []overtime.DailyRecord
	for d := 3; d <= 7; d++ { // week 1: 45 hours
		records = append(records, day(d, 9, 0))
	}
	for d := 10; d <= 14; d++ { // week 2: 40 hours
		records = append(records, day(d, 8, 0))
	}
	s := overtime.Summarize(dailyEmployee(), march, records, nil, threshold)
	assertHours(t, 5, s.HS115, "hs115")
	assertHours(t, 0, s.HS140, "hs140")
}

func TestSummarize_DailyHolidays(t *testing.T) {
	r150 := day(3, 6, 2)
	r150.Holiday150 = true
	r200 := day(4, 4, 0)
	r200.Holiday200 = true

	s := overtime.Summarize(dailyEmployee(), march, []overtime.DailyRecord{r150, r200}, nil, threshold)

	assertHours(t, 8, s.HS150, "hs150")
	assertHours(t, 4, s.HS200, "hs200")
	assertHours(t, 12, s.TotalOvertime(), "total")
}

func TestSummarize_DailyWeekStartingInPreviousMonth(t *testing.T) {
	// GIVEN the week of Monday 24 February: 40 hours in February, then
	// 6 hours on Saturday 1 March
	var records []overtime.DailyRecord
	for d := 24; d <= 28; d++ {
		records = append(records, overtime.DailyRecord{Employee: "emp-1", Date: payroll.Date(2025, time.February, d), DayHours: h(8)})
	}
	records = append(records, day(1, 6, 0))

	s := overtime.Summarize(dailyEmployee(), march, records, nil, threshold)

	// THEN March carries only its own day, all of it overtime
	assertHours(t, 6, s.DayHours, "day hours")
	assertHours(t, 6, s.HS115, "hs115")
}

func TestSummarize_DailyConservation(t *testing.T) {
	records := []overtime.DailyRecord{
		day(3, 10, 2), day(4, 11, 0), day(5, 9, 6), day(6, 12, 1), day(7, 7.5, 0), day(8, 3, 3),
	}
	holiday := day(9, 5, 0)
	holiday.Holiday200 = true
	records = append(records, holiday)

	s := overtime.Summarize(dailyEmployee(), march, records, nil, threshold)

	recorded := decimal.Zero
	for _, r := range records {
		recorded = recorded.Add(r.Total())
	}
	assert.True(t, s.DayHours.Add(s.NightHours).Equal(recorded))
	assert.True(t, s.HS115.Add(s.HS140).Add(s.HS150).Add(s.HS200).Equal(s.TotalOvertime()))
	// 64.5 regular hours in the week: 24.5 over, 8 at 115% and 16.5 at 140%
	assertHours(t, 8, s.HS115, "hs115")
	assertHours(t, 16.5, s.HS140, "hs140")
	assertHours(t, 5, s.HS200, "hs200")
}

func TestSummarize_MealAndRemoteness(t *testing.T) {
	long := day(3, 9, 0)
	night := day(4, 0, 6)
	short := day(5, 8, 0)
	short.Meal = true
	short.External = true
	external := day(6, 4, 0)
	external.External = true
	records := []overtime.DailyRecord{long, night, short, external}

	auto := dailyEmployee()
	auto.AutoMeal = true
	s := overtime.Summarize(auto, march, records, nil, threshold)
	assert.Equal(t, 2, s.MealAllowances, "auto meals on 9h days and 6h nights")
	assert.Equal(t, 2, s.RemotenessAllowances)

	manual := dailyEmployee()
	s = overtime.Summarize(manual, march, records, nil, threshold)
	assert.Equal(t, 1, s.MealAllowances, "manual flag only")
}

// =============================================================================
// WEEKLY MODE
// =============================================================================

func TestWeeklyRecord_Clamp(t *testing.T) {
	r := overtime.WeeklyRecord{HS115: h(10), HS140: h(7), HS150: h(9)}.Clamp()
	assertHours(t, 8, r.HS115, "hs115")
	assertHours(t, 6, r.HS140, "hs140")
	assertHours(t, 9, r.HS150, "hs150 is not capped")
}

func TestSummarize_WeeklyBelongsToPeriodOfWeekEnd(t *testing.T) {
	weeks := []overtime.WeeklyRecord{
		{Employee: "emp-1", WeekStart: payroll.Date(2025, time.February, 24), HS115: h(2)}, // ends 2 March
		{Employee: "emp-1", WeekStart: payroll.Date(2025, time.March, 3), HS115: h(3), Meals: 2},
		{Employee: "emp-1", WeekStart: payroll.Date(2025, time.March, 31), HS115: h(5)}, // ends 6 April
	}
	s := overtime.Summarize(weeklyEmployee(), march, nil, weeks, threshold)
	assertHours(t, 5, s.HS115, "hs115")
	assert.Equal(t, 2, s.MealAllowances)
	assert.Equal(t, payroll.OvertimeWeekly, s.Mode)
}

func TestSummarize_OnlyActiveModeCounts(t *testing.T) {
	daily := []overtime.DailyRecord{day(3, 16, 8), day(4, 16, 8)}
	weekly := []overtime.WeeklyRecord{{Employee: "emp-1", WeekStart: payroll.Date(2025, time.March, 3), HS115: h(4)}}

	s := overtime.Summarize(weeklyEmployee(), march, daily, weekly, threshold)
	assertHours(t, 4, s.TotalOvertime(), "weekly only")

	s = overtime.Summarize(dailyEmployee(), march, daily, weekly, threshold)
	assertHours(t, 8, s.TotalOvertime(), "daily only")
}

// =============================================================================
// ENGINE
// =============================================================================

func TestEngine_AddWeeklyClampsAndAligns(t *testing.T) {
	ctx := context.Background()
	eng := overtime.NewEngine(memory.New(), threshold, nil)

	// GIVEN a record entered on a Wednesday with tiers over the caps
	saved, err := eng.AddWeekly(ctx, weeklyEmployee(), overtime.WeeklyRecord{
		WeekStart: payroll.Date(2025, time.March, 12),
		HS115:     h(10),
		HS140:     h(7),
	})
	require.NoError(t, err)

	// THEN the week starts on Monday and tiers are clamped, not rejected
	assert.Equal(t, payroll.Date(2025, time.March, 10), saved.WeekStart)
	assertHours(t, 8, saved.HS115, "hs115")
	assertHours(t, 6, saved.HS140, "hs140")

	s, err := eng.Summary(ctx, weeklyEmployee(), march)
	require.NoError(t, err)
	assertHours(t, 14, s.TotalOvertime(), "summary")
}

func TestEngine_AddDailyReplacesSameDay(t *testing.T) {
	ctx := context.Background()
	eng := overtime.NewEngine(memory.New(), threshold, nil)
	emp := dailyEmployee()

	_, err := eng.AddDaily(ctx, emp, day(3, 8, 0))
	require.NoError(t, err)
	_, err = eng.AddDaily(ctx, emp, day(3, 10, 1))
	require.NoError(t, err)

	s, err := eng.Summary(ctx, emp, march)
	require.NoError(t, err)
	assertHours(t, 11, s.TotalHours(), "one record per day")

	require.NoError(t, eng.RemoveDaily(ctx, emp.ID, payroll.Date(2025, time.March, 3)))
	s, err = eng.Summary(ctx, emp, march)
	require.NoError(t, err)
	assert.True(t, s.TotalHours().IsZero())
}

func TestEngine_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	eng := overtime.NewEngine(memory.New(), threshold, nil)

	_, err := eng.AddDaily(ctx, dailyEmployee(), day(3, 17, 0))
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	_, err = eng.AddDaily(ctx, dailyEmployee(), day(3, -1, 0))
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	_, err = eng.AddDaily(ctx, weeklyEmployee(), day(3, 8, 0))
	assert.ErrorIs(t, err, payroll.ErrInvalidInput, "wrong mode")

	_, err = eng.AddWeekly(ctx, dailyEmployee(), overtime.WeeklyRecord{WeekStart: payroll.Date(2025, time.March, 3)})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput, "wrong mode")
}

func TestEngine_SummariesSkipsEmployeesWithoutHours(t *testing.T) {
	ctx := context.Background()
	eng := overtime.NewEngine(memory.New(), threshold, nil)
	worker := dailyEmployee()
	idle := dailyEmployee()
	idle.ID = "emp-2"

	_, err := eng.AddDaily(ctx, worker, day(3, 8, 0))
	require.NoError(t, err)

	all, err := eng.Summaries(ctx, []payroll.Employee{worker, idle}, march)
	require.NoError(t, err)
	assert.Contains(t, all, payroll.EmployeeID("emp-1"))
	assert.NotContains(t, all, payroll.EmployeeID("emp-2"))
}
