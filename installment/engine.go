package installment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moustaphacheikh/paie/lock"
	"github.com/moustaphacheikh/paie/observability"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   Store
	ledger  *Ledger
	locks   lock.Locker
	metrics *observability.Metrics
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock replaces time.Now for settlement timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, locks lock.Locker, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = lock.NewLocal()
	}
	e := &Engine{
		store:  store,
		ledger: NewLedger(store),
		locks:  locks,
		log:    logger.Named("installment"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenRequest carries the agreed terms of a new installment.
type OpenRequest struct {
	Employee payroll.EmployeeID
	Rubrique payroll.RubriqueID
	AgreedOn time.Time
	Capital  decimal.Decimal
	Amount   decimal.Decimal
	Active   bool
	Note     string
}

// Open creates an installment. A zero capital is repaid from the start.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (Installment, error) {
	reject := func(detail string) error {
		return &payroll.InstallmentStateError{Employee: req.Employee, Op: "open", State: "new", Detail: detail}
	}
	switch {
	case req.Employee == "" || req.Rubrique == "":
		return Installment{}, reject("employee and rubrique are required")
	case req.Capital.IsNegative():
		return Installment{}, reject("capital must not be negative")
	case req.Amount.IsNegative():
		return Installment{}, reject("installment amount must not be negative")
	}
	agreed := req.AgreedOn
	if agreed.IsZero() {
		agreed = e.now()
	}
	inst := Installment{
		ID:        uuid.NewString(),
		Employee:  req.Employee,
		Rubrique:  req.Rubrique,
		AgreedOn:  payroll.TruncateDay(agreed),
		Capital:   req.Capital,
		Amount:    req.Amount,
		Active:    req.Active,
		Note:      req.Note,
		Solde:     req.Capital.IsZero(),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.SaveInstallment(ctx, inst); err != nil {
		return Installment{}, fmt.Errorf("save installment: %w", err)
	}
	e.metrics.RecordInstallmentOpened()
	e.log.Info("installment opened",
		zap.String("installment", inst.ID),
		zap.String("employee", string(inst.Employee)),
		zap.String("rubrique", string(inst.Rubrique)),
		zap.String("capital", inst.Capital.String()))
	return inst, nil
}

// Settle records a repayment for period. The amount is reduced to the
// outstanding balance; the tranche that zeroes it makes the installment
// solde.
func (e *Engine) Settle(ctx context.Context, id string, period payroll.Period, amount decimal.Decimal) (Status, error) {
	unlock, err := e.locks.Lock(ctx, lockKey(id))
	if err != nil {
		return Status{}, err
	}
	defer unlock()

	inst, err := e.get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if inst.Solde {
		e.metrics.RecordSettlement("rejected")
		return Status{}, stateError(inst, "settle", "installment is already repaid")
	}
	if !amount.IsPositive() {
		e.metrics.RecordSettlement("rejected")
		return Status{}, stateError(inst, "settle", "amount must be positive")
	}
	settled, err := e.ledger.Settled(ctx, id)
	if err != nil {
		return Status{}, err
	}
	balance := inst.Capital.Sub(settled)
	applied := payroll.MinDecimal(amount, balance)

	t := Tranche{
		ID:          uuid.NewString(),
		Installment: id,
		Period:      period,
		Amount:      applied,
		SettledAt:   e.now().UTC(),
	}
	if err := e.ledger.Append(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTranche) {
			e.metrics.RecordSettlement("rejected")
		}
		return Status{}, err
	}

	result := "settled"
	if balance.Sub(applied).Sign() <= 0 {
		inst.Solde = true
		inst.SoldeIn = &period
		if err := e.store.SaveInstallment(ctx, inst); err != nil {
			return Status{}, fmt.Errorf("mark installment solde: %w", err)
		}
		result = "solde"
	}
	e.metrics.RecordSettlement(result)
	e.log.Info("installment settled",
		zap.String("installment", id),
		zap.String("period", period.String()),
		zap.String("amount", applied.String()),
		zap.String("result", result))
	return status(inst, settled.Add(applied)), nil
}

// SetActive toggles withholding. Rejected once solde.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (Status, error) {
	return e.mutate(ctx, id, "toggle", func(inst *Installment, settled decimal.Decimal) error {
		if inst.Solde {
			return stateError(*inst, "toggle", "installment is already repaid")
		}
		inst.Active = active
		return nil
	})
}

// UpdateTerms edits capital, amount or note. Once a tranche exists or the
// installment is solde, only an override may change it. Solde is terminal:
// the capital of a repaid installment never changes, even with override.
func (e *Engine) UpdateTerms(ctx context.Context, id string, terms Terms, override bool) (Status, error) {
	return e.mutate(ctx, id, "update", func(inst *Installment, settled decimal.Decimal) error {
		if !override && (inst.Solde || settled.IsPositive()) {
			return stateError(*inst, "update", "terms are frozen after the first settlement")
		}
		if terms.Capital != nil {
			if terms.Capital.IsNegative() {
				return stateError(*inst, "update", "capital must not be negative")
			}
			if terms.Capital.LessThan(settled) {
				return stateError(*inst, "update", fmt.Sprintf("capital below the %s already settled", settled))
			}
			if inst.Solde && !terms.Capital.Equal(inst.Capital) {
				return stateError(*inst, "update", "installment is already repaid, open a new one")
			}
			inst.Capital = *terms.Capital
		}
		if terms.Amount != nil {
			if terms.Amount.IsNegative() {
				return stateError(*inst, "update", "installment amount must not be negative")
			}
			inst.Amount = *terms.Amount
		}
		if terms.Note != nil {
			inst.Note = *terms.Note
		}
		if inst.Capital.Sub(settled).Sign() <= 0 {
			inst.Solde = true
		}
		return nil
	})
}

// Delete removes an installment that was never settled, or any
// installment with override.
func (e *Engine) Delete(ctx context.Context, id string, override bool) error {
	unlock, err := e.locks.Lock(ctx, lockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	inst, err := e.get(ctx, id)
	if err != nil {
		return err
	}
	settled, err := e.ledger.Settled(ctx, id)
	if err != nil {
		return err
	}
	if !override && (inst.Solde || settled.IsPositive()) {
		return stateError(inst, "delete", "installment has settlements")
	}
	return e.store.DeleteInstallment(ctx, id)
}

func (e *Engine) mutate(ctx context.Context, id, op string, fn func(*Installment, decimal.Decimal) error) (Status, error) {
	unlock, err := e.locks.Lock(ctx, lockKey(id))
	if err != nil {
		return Status{}, err
	}
	defer unlock()

	inst, err := e.get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	settled, err := e.ledger.Settled(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if err := fn(&inst, settled); err != nil {
		return Status{}, err
	}
	if err := e.store.SaveInstallment(ctx, inst); err != nil {
		return Status{}, fmt.Errorf("%s installment: %w", op, err)
	}
	return status(inst, settled), nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Status returns the installment with its balance.
func (e *Engine) Status(ctx context.Context, id string) (Status, error) {
	inst, err := e.get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	settled, err := e.ledger.Settled(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return status(inst, settled), nil
}

// Balance is capital minus every tranche.
func (e *Engine) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	s, err := e.Status(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Balance, nil
}

// History returns the tranches ordered by period, for audit display.
func (e *Engine) History(ctx context.Context, id string) ([]Tranche, error) {
	if _, err := e.get(ctx, id); err != nil {
		return nil, err
	}
	return e.ledger.History(ctx, id)
}

// List returns the installments of an employee ("" for all) with balances.
func (e *Engine) List(ctx context.Context, emp payroll.EmployeeID) ([]Status, error) {
	insts, err := e.store.ListInstallments(ctx, emp)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(insts))
	for _, inst := range insts {
		settled, err := e.ledger.Settled(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, status(inst, settled))
	}
	return out, nil
}

// DueFor returns, per retenue rubrique, what the employee's active
// installments withhold this period: the lesser of balance and amount.
func (e *Engine) DueFor(ctx context.Context, emp payroll.EmployeeID) (map[payroll.RubriqueID]decimal.Decimal, error) {
	all, err := e.List(ctx, emp)
	if err != nil {
		return nil, err
	}
	due := map[payroll.RubriqueID]decimal.Decimal{}
	for _, s := range all {
		if s.Current != StateActive {
			continue
		}
		due[s.Rubrique] = due[s.Rubrique].Add(payroll.MinDecimal(s.Balance, s.Amount))
	}
	return due, nil
}

// ApplyToCurrentPeriod materializes the retenue line of rubrique for key.
// ok is false when nothing is due.
func (e *Engine) ApplyToCurrentPeriod(ctx context.Context, key payroll.Key, r payroll.Rubrique) (payroll.PayLine, bool, error) {
	due, err := e.DueFor(ctx, key.Employee)
	if err != nil {
		return payroll.PayLine{}, false, err
	}
	amount, ok := due[r.ID]
	if !ok || !amount.IsPositive() {
		return payroll.PayLine{}, false, nil
	}
	return Line(key, r, amount, e.now()), true, nil
}

// Line builds the retenue pay line withholding amount.
func Line(key payroll.Key, r payroll.Rubrique, amount decimal.Decimal, at time.Time) payroll.PayLine {
	return payroll.PayLine{
		ID:          uuid.NewString(),
		Employee:    key.Employee,
		Rubrique:    r.ID,
		Motif:       key.Motif,
		Period:      key.Period,
		Base:        amount,
		Quantity:    decimal.NewFromInt(1),
		Amount:      payroll.RoundAmount(amount),
		Sense:       payroll.SenseRetenue,
		DeductionDu: r.DeductionDu,
		Flags:       r.Flags,
		ComputedAt:  at.UTC(),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) get(ctx context.Context, id string) (Installment, error) {
	inst, err := e.store.GetInstallment(ctx, id)
	if errors.Is(err, payroll.ErrNotFound) {
		return Installment{}, payroll.Missing("installment", id)
	}
	return inst, err
}

func status(inst Installment, settled decimal.Decimal) Status {
	balance := inst.Capital.Sub(settled)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return Status{Installment: inst, Settled: settled, Balance: balance, Current: inst.State()}
}

func stateError(inst Installment, op, detail string) error {
	return &payroll.InstallmentStateError{
		Installment: inst.ID,
		Employee:    inst.Employee,
		Op:          op,
		State:       string(inst.State()),
		Detail:      detail,
	}
}

func lockKey(id string) string { return "installment:" + id }
