package accounting

import (
	"context"

	"go.uber.org/zap"
)

// ChangeSchedule switches the policy to a new billing schedule mid-term.
//
// The balance owed as of asOf becomes the new annual premium, every payment
// is deleted, and invoices are regenerated for the new schedule. All of it
// commits together or not at all.
func (pa *PolicyAccounting) ChangeSchedule(ctx context.Context, schedule BillingSchedule, asOf Date) error {
	if _, err := schedule.Installments(); err != nil {
		return err
	}

	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	asOf = pa.engine.orToday(asOf)
	log := pa.engine.log.With(zap.String("policy_id", string(pa.id)))

	var changed Policy
	var removed int
	err := pa.engine.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, pa.id)
		if err != nil {
			return err
		}
		remaining, err := balanceAt(ctx, s, pa.id, asOf)
		if err != nil {
			return err
		}
		if removed, err = s.DeletePayments(ctx, pa.id); err != nil {
			return err
		}

		p.AnnualPremium = remaining
		p.BillingSchedule = schedule
		if err := s.SavePolicy(ctx, *p); err != nil {
			return err
		}
		if err := pa.generateInvoices(ctx, s, *p); err != nil {
			return err
		}
		changed = *p
		return nil
	})
	if err != nil {
		log.Error("schedule change rolled back", zap.String("billing_schedule", string(schedule)), zap.Error(err))
		return persistErr("change schedule", err)
	}

	pa.setPolicy(changed)
	log.Info("billing schedule changed",
		zap.String("billing_schedule", string(schedule)),
		zap.String("annual_premium", changed.AnnualPremium.String()),
		zap.Int("payments_removed", removed))
	return nil
}
