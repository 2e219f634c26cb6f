package accounting

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NewPolicyRequest describes a policy to create. Agent and NamedInsured are
// contact names; each is looked up by name and role and created if missing.
type NewPolicyRequest struct {
	Number          string
	EffectiveDate   Date
	AnnualPremium   decimal.Decimal
	BillingSchedule BillingSchedule
	Agent           string
	NamedInsured    string
}

func (r NewPolicyRequest) Validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return &ConfigurationError{Field: "policy number", Value: r.Number}
	}
	if r.EffectiveDate.IsZero() {
		return &ConfigurationError{Field: "effective date", Value: ""}
	}
	if r.AnnualPremium.IsNegative() {
		return fmt.Errorf("annual premium %s: %w", r.AnnualPremium, ErrInvalidAmount)
	}
	_, err := r.BillingSchedule.Installments()
	return err
}

// CreatePolicy persists a new active policy, resolving its contacts, and
// returns its accounting handle with invoices already generated.
func (e *Engine) CreatePolicy(ctx context.Context, req NewPolicyRequest) (*PolicyAccounting, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := Policy{
		ID:              NewPolicyID(),
		Number:          req.Number,
		EffectiveDate:   req.EffectiveDate,
		AnnualPremium:   req.AnnualPremium,
		BillingSchedule: req.BillingSchedule,
		Status:          StatusActive,
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		if req.NamedInsured != "" {
			c, err := resolveContact(ctx, s, req.NamedInsured, RoleNamedInsured)
			if err != nil {
				return err
			}
			p.NamedInsured = &c.ID
		}
		if req.Agent != "" {
			c, err := resolveContact(ctx, s, req.Agent, RoleAgent)
			if err != nil {
				return err
			}
			p.Agent = &c.ID
		}
		return s.SavePolicy(ctx, p)
	})
	if err != nil {
		return nil, persistErr("create policy", err)
	}

	e.log.Info("policy created",
		zap.String("policy_id", string(p.ID)),
		zap.String("policy_number", p.Number),
		zap.String("billing_schedule", string(p.BillingSchedule)))
	return e.Open(ctx, p.ID)
}

// ResolveContact returns the contact with the given name and role, creating
// it when none exists.
func (e *Engine) ResolveContact(ctx context.Context, name string, role ContactRole) (*Contact, error) {
	var c *Contact
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		c, err = resolveContact(ctx, s, name, role)
		return err
	})
	if err != nil {
		return nil, persistErr("resolve contact", err)
	}
	return c, nil
}

func resolveContact(ctx context.Context, s Store, name string, role ContactRole) (*Contact, error) {
	existing, err := s.FindContact(ctx, name, role)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	c := Contact{ID: NewContactID(), Name: name, Role: role}
	if err := s.SaveContact(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}
