/*
cancellation.go - Cancellation for non-payment

PURPOSE:
  Decides whether a policy must be canceled because an invoice went unpaid
  past its grace period, and applies the cancellation.

STATE MACHINE:
  Active --(unpaid invoice past cancel date)--> Canceled
  Active --(forced)---------------------------> Canceled
  Canceled is terminal. Evaluating a canceled policy returns
  ErrPolicyCanceled and leaves the recorded date and reason untouched.

NON-FORCED EVALUATION:
  For each active invoice with cancel_date <= asOf, by bill date:
    balance at that invoice's cancel_date > 0  -> cancel, stop
    otherwise                                  -> next invoice

PENDING PROBE:
  IsPendingCancellation is true when an active invoice has both its due
  date and its cancel date strictly before asOf. It never writes.

SEE ALSO:
  - ledger.go: balanceAt
*/
package accounting

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCancelDescription is recorded when the caller gives no reason.
const DefaultCancelDescription = "No account balance"

// CancelRequest configures EvaluateCancel. A zero AsOf means today.
type CancelRequest struct {
	AsOf        Date
	Description string
	Force       bool
}

// CancellationResult reports what EvaluateCancel decided.
type CancellationResult struct {
	Canceled bool
	Forced   bool
	// Invoice is the first invoice found unpaid at its cancel date.
	// Nil when nothing triggered or the cancellation was forced.
	Invoice *Invoice
	// Balance is the amount owed at Invoice's cancel date.
	Balance decimal.Decimal
	Policy  Policy
}

// IsPendingCancellation reports whether some invoice is past both its due
// date and its cancel date as of asOf.
func (pa *PolicyAccounting) IsPendingCancellation(ctx context.Context, asOf Date) (bool, error) {
	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	asOf = pa.engine.orToday(asOf)
	invoices, err := pa.engine.store.ListInvoices(ctx, InvoiceQuery{
		PolicyID:     pa.id,
		DueBefore:    &asOf,
		CancelBefore: &asOf,
	})
	if err != nil {
		return false, persistErr("load invoices", err)
	}
	return len(invoices) > 0, nil
}

// EvaluateCancel cancels the policy when an invoice is still owed at its
// cancel date, or unconditionally when req.Force is set.
func (pa *PolicyAccounting) EvaluateCancel(ctx context.Context, req CancelRequest) (CancellationResult, error) {
	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	asOf := pa.engine.orToday(req.AsOf)
	description := req.Description
	if description == "" {
		description = DefaultCancelDescription
	}
	log := pa.engine.log.With(zap.String("policy_id", string(pa.id)), zap.Stringer("as_of", asOf))

	result := CancellationResult{Forced: req.Force}
	err := pa.engine.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, pa.id)
		if err != nil {
			return err
		}
		result.Policy = *p
		if p.IsCanceled() {
			return ErrPolicyCanceled
		}

		if !req.Force {
			trigger, owed, err := firstUnpaidAtCancel(ctx, s, pa.id, asOf)
			if err != nil {
				return err
			}
			if trigger == nil {
				return nil
			}
			result.Invoice = trigger
			result.Balance = owed
		}

		p.cancel(asOf, description)
		if err := s.SavePolicy(ctx, *p); err != nil {
			return err
		}
		result.Canceled = true
		result.Policy = *p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPolicyCanceled) {
			pa.setPolicy(result.Policy)
			log.Info("cancellation skipped, policy already canceled")
		}
		result.Canceled = false
		return result, persistErr("cancel policy", err)
	}

	pa.setPolicy(result.Policy)
	if result.Canceled {
		log.Info("policy canceled",
			zap.Bool("forced", req.Force),
			zap.String("description", description),
			zap.String("balance", result.Balance.String()))
	}
	return result, nil
}

// firstUnpaidAtCancel walks invoices whose grace period has ended by asOf and
// returns the first one still owed at its own cancel date.
func firstUnpaidAtCancel(ctx context.Context, s Store, id PolicyID, asOf Date) (*Invoice, decimal.Decimal, error) {
	invoices, err := s.ListInvoices(ctx, InvoiceQuery{PolicyID: id, CancelOnOrBefore: &asOf})
	if err != nil {
		return nil, decimal.Zero, err
	}
	for i := range invoices {
		owed, err := balanceAt(ctx, s, id, invoices[i].CancelDate)
		if err != nil {
			return nil, decimal.Zero, err
		}
		// Overpaid counts as settled; only money still owed cancels.
		if owed.IsPositive() {
			return &invoices[i], owed, nil
		}
	}
	return nil, decimal.Zero, nil
}
