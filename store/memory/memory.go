// Package memory provides an in-memory store for tests and demos.
//
// One Memory value implements payroll.Store, overtime.Store and
// installment.Store. Every read returns copies, so callers may keep and
// mutate results without touching the stored state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	rubriques map[payroll.RubriqueID]payroll.Rubrique
	motifs    map[payroll.MotifID]payroll.Motif
	params    payroll.Parameters
	tokens    map[formulaKey][]payroll.Token

	employees  map[payroll.EmployeeID]payroll.Employee
	workedDays map[payroll.Period]map[payroll.EmployeeID]decimal.Decimal
	lines      map[payroll.Key][]payroll.PayLine

	daily  map[payroll.EmployeeID]map[time.Time]overtime.DailyRecord
	weekly map[payroll.EmployeeID]map[time.Time]overtime.WeeklyRecord

	installments map[string]installment.Installment
	tranches     map[string][]installment.Tranche
}

type formulaKey struct {
	Rubrique payroll.RubriqueID
	Slot     payroll.Slot
}

func New() *Memory {
	return &Memory{
		rubriques:    make(map[payroll.RubriqueID]payroll.Rubrique),
		motifs:       make(map[payroll.MotifID]payroll.Motif),
		params:       payroll.DefaultParameters(),
		tokens:       make(map[formulaKey][]payroll.Token),
		employees:    make(map[payroll.EmployeeID]payroll.Employee),
		workedDays:   make(map[payroll.Period]map[payroll.EmployeeID]decimal.Decimal),
		lines:        make(map[payroll.Key][]payroll.PayLine),
		daily:        make(map[payroll.EmployeeID]map[time.Time]overtime.DailyRecord),
		weekly:       make(map[payroll.EmployeeID]map[time.Time]overtime.WeeklyRecord),
		installments: make(map[string]installment.Installment),
		tranches:     make(map[string][]installment.Tranche),
	}
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, payroll.ErrNotFound)
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveRubrique(_ context.Context, r payroll.Rubrique) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Motifs = append([]payroll.MotifID(nil), r.Motifs...)
	m.rubriques[r.ID] = r
	return nil
}

func (m *Memory) GetRubrique(_ context.Context, id payroll.RubriqueID) (payroll.Rubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rubriques[id]
	if !ok {
		return payroll.Rubrique{}, notFound("rubrique", id)
	}
	return r, nil
}

func (m *Memory) ListRubriques(_ context.Context) ([]payroll.Rubrique, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.Rubrique, 0, len(m.rubriques))
	for _, r := range m.rubriques {
		out = append(out, r)
	}
	payroll.SortRubriques(out)
	return out, nil
}

func (m *Memory) SaveMotif(_ context.Context, mo payroll.Motif) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motifs[mo.ID] = mo
	return nil
}

func (m *Memory) ListMotifs(_ context.Context) ([]payroll.Motif, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.Motif, 0, len(m.motifs))
	for _, mo := range m.motifs {
		out = append(out, mo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Parameters(_ context.Context) (payroll.Parameters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.params
	p.SalaryGrid = make(map[payroll.Category]decimal.Decimal, len(m.params.SalaryGrid))
	for k, v := range m.params.SalaryGrid {
		p.SalaryGrid[k] = v
	}
	return p, nil
}

func (m *Memory) SaveParameters(_ context.Context, p payroll.Parameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	return nil
}

// =============================================================================
// FORMULAS
// =============================================================================

func (m *Memory) AppendToken(_ context.Context, id payroll.RubriqueID, slot payroll.Slot, tok payroll.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := formulaKey{Rubrique: id, Slot: slot}
	m.tokens[k] = append(m.tokens[k], tok)
	return nil
}

func (m *Memory) DropLastToken(_ context.Context, id payroll.RubriqueID, slot payroll.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := formulaKey{Rubrique: id, Slot: slot}
	if n := len(m.tokens[k]); n > 0 {
		m.tokens[k] = m.tokens[k][:n-1]
	}
	return nil
}

func (m *Memory) ClearTokens(_ context.Context, id payroll.RubriqueID, slot payroll.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, formulaKey{Rubrique: id, Slot: slot})
	return nil
}

func (m *Memory) Tokens(_ context.Context, id payroll.RubriqueID, slot payroll.Slot) ([]payroll.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.Token(nil), m.tokens[formulaKey{Rubrique: id, Slot: slot}]...), nil
}

func (m *Memory) Formulas(_ context.Context) (map[payroll.RubriqueID]payroll.Formula, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[payroll.RubriqueID]payroll.Formula)
	for k, toks := range m.tokens {
		if len(toks) == 0 {
			continue
		}
		f := out[k.Rubrique]
		cp := append([]payroll.Token(nil), toks...)
		if k.Slot == payroll.SlotBase {
			f.Base = cp
		} else {
			f.Quantity = cp
		}
		out[k.Rubrique] = f
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES & ATTENDANCE
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id payroll.EmployeeID) (payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return payroll.Employee{}, notFound("employee", id)
	}
	return e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetWorkedDays(_ context.Context, e payroll.EmployeeID, p payroll.Period, days decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workedDays[p] == nil {
		m.workedDays[p] = make(map[payroll.EmployeeID]decimal.Decimal)
	}
	m.workedDays[p][e] = days
	return nil
}

func (m *Memory) WorkedDays(_ context.Context, p payroll.Period) (map[payroll.EmployeeID]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[payroll.EmployeeID]decimal.Decimal, len(m.workedDays[p]))
	for e, d := range m.workedDays[p] {
		out[e] = d
	}
	return out, nil
}

// =============================================================================
// PAY LINES
// =============================================================================

func (m *Memory) ReplaceLines(_ context.Context, k payroll.Key, lines []payroll.PayLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(lines) == 0 {
		delete(m.lines, k)
		return nil
	}
	m.lines[k] = append([]payroll.PayLine(nil), lines...)
	return nil
}

func (m *Memory) Lines(_ context.Context, k payroll.Key) ([]payroll.PayLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.PayLine(nil), m.lines[k]...), nil
}

func (m *Memory) DeleteLines(_ context.Context, k payroll.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, k)
	return nil
}

func (m *Memory) SaveManualLine(_ context.Context, l payroll.PayLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := l.Key()
	kept := m.lines[k][:0:0]
	for _, existing := range m.lines[k] {
		if existing.Rubrique != l.Rubrique {
			kept = append(kept, existing)
		}
	}
	l.Manual = true
	m.lines[k] = append(kept, l)
	return nil
}

func (m *Memory) LinesForPeriod(_ context.Context, mo payroll.MotifID, p payroll.Period) ([]payroll.PayLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayLine
	for k, ls := range m.lines {
		if k.Motif == mo && k.Period == p {
			out = append(out, ls...)
		}
	}
	sortLines(out)
	return out, nil
}

func (m *Memory) History(_ context.Context, e payroll.EmployeeID, from, to payroll.Period) ([]payroll.PayLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayLine
	for k, ls := range m.lines {
		if k.Employee == e && !k.Period.Before(from) && !k.Period.After(to) {
			out = append(out, ls...)
		}
	}
	sortLines(out)
	return out, nil
}

func (m *Memory) PurgeBefore(_ context.Context, p payroll.Period) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, ls := range m.lines {
		if k.Period.Before(p) {
			n += len(ls)
			delete(m.lines, k)
		}
	}
	return n, nil
}

func sortLines(ls []payroll.PayLine) {
	sort.Slice(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		if a.Period != b.Period {
			return a.Period.Before(b.Period)
		}
		if a.Employee != b.Employee {
			return a.Employee < b.Employee
		}
		if a.Motif != b.Motif {
			return a.Motif < b.Motif
		}
		return a.Rubrique < b.Rubrique
	})
}

// =============================================================================
// HOUR RECORDS
// =============================================================================

func (m *Memory) SaveDaily(_ context.Context, r overtime.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.daily[r.Employee] == nil {
		m.daily[r.Employee] = make(map[time.Time]overtime.DailyRecord)
	}
	m.daily[r.Employee][payroll.TruncateDay(r.Date)] = r
	return nil
}

func (m *Memory) DeleteDaily(_ context.Context, e payroll.EmployeeID, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.daily[e], payroll.TruncateDay(day))
	return nil
}

func (m *Memory) DailyRecords(_ context.Context, e payroll.EmployeeID, from, to time.Time) ([]overtime.DailyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []overtime.DailyRecord
	for day, r := range m.daily[e] {
		if !day.Before(from) && !day.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) SaveWeekly(_ context.Context, r overtime.WeeklyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.weekly[r.Employee] == nil {
		m.weekly[r.Employee] = make(map[time.Time]overtime.WeeklyRecord)
	}
	m.weekly[r.Employee][payroll.TruncateDay(r.WeekStart)] = r
	return nil
}

func (m *Memory) WeeklyRecords(_ context.Context, e payroll.EmployeeID, from, to time.Time) ([]overtime.WeeklyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []overtime.WeeklyRecord
	for week, r := range m.weekly[e] {
		if !week.Before(from) && !week.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (m *Memory) SaveInstallment(_ context.Context, i installment.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installments[i.ID] = i
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id string) (installment.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.installments[id]
	if !ok {
		return installment.Installment{}, notFound("installment", id)
	}
	return i, nil
}

func (m *Memory) ListInstallments(_ context.Context, e payroll.EmployeeID) ([]installment.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []installment.Installment
	for _, i := range m.installments {
		if e == "" || i.Employee == e {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].AgreedOn.Equal(out[b].AgreedOn) {
			return out[a].AgreedOn.Before(out[b].AgreedOn)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *Memory) DeleteInstallment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.installments[id]; !ok {
		return notFound("installment", id)
	}
	delete(m.installments, id)
	delete(m.tranches, id)
	return nil
}

// AppendTranche inserts in period order. Append-only: there is no way to
// edit or remove a tranche short of deleting its installment.
func (m *Memory) AppendTranche(_ context.Context, t installment.Tranche) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.tranches[t.Installment]
	for _, existing := range ts {
		if existing.Period == t.Period {
			return installment.ErrDuplicateTranche
		}
	}
	i := sort.Search(len(ts), func(i int) bool { return ts[i].Period.After(t.Period) })
	ts = append(ts, installment.Tranche{})
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	m.tranches[t.Installment] = ts
	return nil
}

func (m *Memory) Tranches(_ context.Context, id string) ([]installment.Tranche, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]installment.Tranche(nil), m.tranches[id]...), nil
}

var (
	_ payroll.Store     = (*Memory)(nil)
	_ overtime.Store    = (*Memory)(nil)
	_ installment.Store = (*Memory)(nil)
)
