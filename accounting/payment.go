package accounting

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRequest describes a payment to record. ContactID and Date are optional.
type PaymentRequest struct {
	ContactID *ContactID
	Amount    decimal.Decimal
	Date      Date
}

// RecordPayment appends a payment against the policy.
//
// Without an explicit contact the payer defaults to the named insured, then
// the agent. If the policy has neither, the payment is stored without a
// contact and a warning is logged. Without a date, today is used.
func (pa *PolicyAccounting) RecordPayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	log := pa.engine.log.With(zap.String("policy_id", string(pa.id)))

	var payment Payment
	err := pa.engine.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, pa.id)
		if err != nil {
			return err
		}
		pa.setPolicy(*p)

		contactID, err := resolvePayer(ctx, s, *p, req.ContactID)
		if err != nil {
			return err
		}
		if contactID == nil {
			log.Warn("no contact found for payment, recording without payer")
		}

		payment = Payment{
			ID:              pa.engine.newPaymentID(),
			PolicyID:        pa.id,
			ContactID:       contactID,
			AmountPaid:      req.Amount,
			TransactionDate: pa.engine.orToday(req.Date),
		}
		return s.AddPayment(ctx, payment)
	})
	if err != nil {
		log.Error("payment not recorded", zap.Error(err))
		return nil, persistErr("record payment", err)
	}

	log.Info("payment recorded",
		zap.String("payment_id", string(payment.ID)),
		zap.String("amount", payment.AmountPaid.String()),
		zap.Stringer("date", payment.TransactionDate))
	return &payment, nil
}

// resolvePayer picks the paying contact: explicit, named insured, agent, none.
func resolvePayer(ctx context.Context, s Store, p Policy, explicit *ContactID) (*ContactID, error) {
	if explicit != nil {
		if _, err := s.GetContact(ctx, *explicit); err != nil {
			return nil, err
		}
		return explicit, nil
	}
	if p.NamedInsured != nil {
		return p.NamedInsured, nil
	}
	return p.Agent, nil
}
