package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SUMMARY - Totals of one pay line set
// =============================================================================

// Summary aggregates a pay line set the way bulletins and closing reports
// read it. Brut is gains minus retenues on brut; Net is Brut minus
// retenues on net. NetToPay is Net without the gains in kind, which the
// employee already received as benefits and is never paid in cash.
type Summary struct {
	Key           payroll.Key
	Gains         decimal.Decimal
	FixedGains    decimal.Decimal
	VariableGains decimal.Decimal
	InKind        decimal.Decimal
	RetenuesBrut  decimal.Decimal
	RetenuesNet   decimal.Decimal
	Brut          decimal.Decimal
	Net           decimal.Decimal
	NetToPay      decimal.Decimal

	// Contribution bases: subject gains minus subject retenues on brut.
	BaseITS  decimal.Decimal
	BaseCNSS decimal.Decimal
	BaseCNAM decimal.Decimal
}

// Summarize totals lines. Lines are expected to share one key.
func Summarize(lines []payroll.PayLine) Summary {
	var s Summary
	if len(lines) > 0 {
		s.Key = lines[0].Key()
	}
	for _, l := range lines {
		amount := l.Amount
		if l.Sense == payroll.SenseRetenue {
			if l.DeductionDu == payroll.DeductBrut {
				s.RetenuesBrut = s.RetenuesBrut.Add(amount)
				s.addBases(l.Flags, amount.Neg())
			} else {
				s.RetenuesNet = s.RetenuesNet.Add(amount)
			}
			continue
		}
		s.Gains = s.Gains.Add(amount)
		if l.Fixed {
			s.FixedGains = s.FixedGains.Add(amount)
		} else {
			s.VariableGains = s.VariableGains.Add(amount)
		}
		if l.Flags.InKind {
			s.InKind = s.InKind.Add(amount)
		}
		s.addBases(l.Flags, amount)
	}
	s.Brut = s.Gains.Sub(s.RetenuesBrut)
	s.Net = s.Brut.Sub(s.RetenuesNet)
	s.NetToPay = s.Net.Sub(s.InKind)
	return s
}

func (s *Summary) addBases(f payroll.Flags, amount decimal.Decimal) {
	if f.SubjectITS {
		s.BaseITS = s.BaseITS.Add(amount)
	}
	if f.SubjectCNSS {
		s.BaseCNSS = s.BaseCNSS.Add(amount)
	}
	if f.SubjectCNAM {
		s.BaseCNAM = s.BaseCNAM.Add(amount)
	}
}

// Summary totals the current pay line set of key.
func (c *Computer) Summary(ctx context.Context, key payroll.Key) (Summary, error) {
	lines, err := c.store.Lines(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	s := Summarize(lines)
	s.Key = key
	return s, nil
}

// =============================================================================
// BANK TRANSFERS - Listing consumed by the bank export
// =============================================================================

type BankFilter struct {
	Motif  payroll.MotifID
	Period payroll.Period
	// Bank restricts the listing to one bank; empty lists every bank.
	Bank string
}

// Transfer is one employee's net pay to wire.
type Transfer struct {
	Employee      payroll.EmployeeID
	Name          string
	Bank          string
	AccountNumber string
	Net           decimal.Decimal
}

// BankTransfers lists, for employees paid by transfer, the net to pay of
// their pay lines for the filter's motif and period, ordered by bank then
// employee. Employees with a non-positive net are left out.
func (c *Computer) BankTransfers(ctx context.Context, f BankFilter) ([]Transfer, error) {
	lines, err := c.store.LinesForPeriod(ctx, f.Motif, f.Period)
	if err != nil {
		return nil, fmt.Errorf("bank transfers: %w", err)
	}
	byEmployee := map[payroll.EmployeeID][]payroll.PayLine{}
	for _, l := range lines {
		byEmployee[l.Employee] = append(byEmployee[l.Employee], l)
	}

	var out []Transfer
	for id, ls := range byEmployee {
		e, err := c.store.GetEmployee(ctx, id)
		if errors.Is(err, payroll.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.PaymentMode != payroll.PaymentTransfer {
			continue
		}
		if f.Bank != "" && e.Bank != f.Bank {
			continue
		}
		net := Summarize(ls).NetToPay
		if !net.IsPositive() {
			continue
		}
		out = append(out, Transfer{
			Employee:      id,
			Name:          e.Name,
			Bank:          e.Bank,
			AccountNumber: e.AccountNumber,
			Net:           net,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bank != out[j].Bank {
			return out[i].Bank < out[j].Bank
		}
		return out[i].Employee < out[j].Employee
	})
	return out, nil
}
