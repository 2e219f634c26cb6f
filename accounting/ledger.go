/*
ledger.go - Outstanding balance as of a date

PURPOSE:
  Answers "how much is still owed on this policy as of date d?"

    balance(d) = sum(amount_due of active invoices billed on or before d)
               - sum(amount_paid of payments made on or before d)

  The result is signed: negative means the policy is overpaid.

NOTES:
  - Soft-deleted invoices never count.
  - A zero date means today, read from the engine's Clock.
  - Pure read.

SEE ALSO:
  - cancellation.go: Evaluates balance at each invoice's cancel date
  - schedule_change.go: Uses the balance as the new premium baseline
*/
package accounting

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Balance returns what remains owed on the policy as of asOf.
func (pa *PolicyAccounting) Balance(ctx context.Context, asOf Date) (decimal.Decimal, error) {
	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	return balanceAt(ctx, pa.engine.store, pa.id, pa.engine.orToday(asOf))
}

// balanceAt computes the balance against s, which may be a transaction view.
func balanceAt(ctx context.Context, s Store, id PolicyID, asOf Date) (decimal.Decimal, error) {
	invoices, err := s.ListInvoices(ctx, InvoiceQuery{PolicyID: id, BilledOnOrBefore: &asOf})
	if err != nil {
		return decimal.Zero, persistErr("load invoices", err)
	}
	payments, err := s.ListPayments(ctx, PaymentQuery{PolicyID: id, OnOrBefore: &asOf})
	if err != nil {
		return decimal.Zero, persistErr("load payments", err)
	}
	return TotalDue(invoices).Sub(TotalPaid(payments)), nil
}

// TotalDue sums amount_due over invoices.
func TotalDue(invoices []Invoice) decimal.Decimal {
	return lo.Reduce(invoices, func(sum decimal.Decimal, inv Invoice, _ int) decimal.Decimal {
		return sum.Add(inv.AmountDue)
	}, decimal.Zero)
}

// TotalPaid sums amount_paid over payments.
func TotalPaid(payments []Payment) decimal.Decimal {
	return lo.Reduce(payments, func(sum decimal.Decimal, p Payment, _ int) decimal.Decimal {
		return sum.Add(p.AmountPaid)
	}, decimal.Zero)
}
