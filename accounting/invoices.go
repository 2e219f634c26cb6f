/*
invoices.go - Invoice generation from a policy's billing schedule

PURPOSE:
  Builds the full installment set for a policy. GenerateInvoices replaces the
  policy's active invoices: old ones are soft-deleted and the new set is
  added in the same transaction.

ALGORITHM:
  k = installments for the schedule (Annual 1, Two-Pay 2, Quarterly 4, Monthly 12)
  for i in 0..k-1:
      bill   = effective + i*(12/k) months
      due    = bill + 1 month
      cancel = due + 14 days
      amount = premium / k

ROUNDING:
  premium/k is truncated to cents for every installment except the last,
  which takes whatever remains. The amounts always sum to the premium:

    1000 Monthly -> 11 x 83.33 + 83.37

SEE ALSO:
  - schedule.go: Installment counts
  - engine.go: Transaction wrapping
*/
package accounting

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// Invoice milestones relative to the bill date.
	dueAfterMonths = 1
	graceAfterDays = 14
	centsPrecision = 2
)

// BuildInvoices computes the invoice set for p without touching storage.
// newID is called once per invoice.
func BuildInvoices(p Policy, newID func() InvoiceID) ([]Invoice, error) {
	k, err := p.BillingSchedule.Installments()
	if err != nil {
		return nil, err
	}
	interval := 12 / k

	amounts := SplitPremium(p.AnnualPremium, k)
	invoices := make([]Invoice, 0, k)
	for i := 0; i < k; i++ {
		bill := p.EffectiveDate.AddMonths(i * interval)
		due := bill.AddMonths(dueAfterMonths)
		invoices = append(invoices, Invoice{
			ID:         newID(),
			PolicyID:   p.ID,
			BillDate:   bill,
			DueDate:    due,
			CancelDate: due.AddDays(graceAfterDays),
			AmountDue:  amounts[i],
		})
	}
	return invoices, nil
}

// SplitPremium divides premium into k installments that sum exactly to premium.
// All but the last are premium/k truncated to cents; the last absorbs the rest.
func SplitPremium(premium decimal.Decimal, k int) []decimal.Decimal {
	if k <= 1 {
		return []decimal.Decimal{premium}
	}
	share := premium.Div(decimal.NewFromInt(int64(k))).Truncate(centsPrecision)
	amounts := make([]decimal.Decimal, k)
	allocated := decimal.Zero
	for i := 0; i < k-1; i++ {
		amounts[i] = share
		allocated = allocated.Add(share)
	}
	amounts[k-1] = premium.Sub(allocated)
	return amounts
}

// GenerateInvoices replaces the policy's active invoice set.
func (pa *PolicyAccounting) GenerateInvoices(ctx context.Context) error {
	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	err := pa.engine.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, pa.id)
		if err != nil {
			return err
		}
		if err := pa.generateInvoices(ctx, s, *p); err != nil {
			return err
		}
		pa.setPolicy(*p)
		return nil
	})
	return persistErr("generate invoices", err)
}

// generateInvoices runs inside the caller's transaction.
func (pa *PolicyAccounting) generateInvoices(ctx context.Context, s Store, p Policy) error {
	invoices, err := BuildInvoices(p, pa.engine.newInvoiceID)
	if err != nil {
		pa.engine.log.Warn("invoice generation rejected",
			zap.String("policy_id", string(p.ID)),
			zap.String("billing_schedule", string(p.BillingSchedule)),
			zap.Error(err))
		return err
	}
	if err := s.SoftDeleteInvoices(ctx, p.ID); err != nil {
		return err
	}
	if err := s.AddInvoices(ctx, invoices); err != nil {
		return err
	}
	pa.engine.log.Info("invoices generated",
		zap.String("policy_id", string(p.ID)),
		zap.String("billing_schedule", string(p.BillingSchedule)),
		zap.Int("count", len(invoices)),
		zap.String("annual_premium", p.AnnualPremium.String()))
	return nil
}
