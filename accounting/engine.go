/*
engine.go - Engine construction and per-policy accounting handles

PURPOSE:
  The Engine owns the injected collaborators (TxStore, Clock, logger) and
  hands out a PolicyAccounting handle per policy. Every operation on a
  handle is serialized per policy; operations on different policies run
  in parallel.

LIFECYCLE:
  engine := NewEngine(store, WithClock(clock), WithLogger(log))
  pa, err := engine.Open(ctx, id)   // generates invoices if none exist
  pa.RecordPayment(ctx, PaymentRequest{Amount: ...})
  pa.EvaluateCancel(ctx, CancelRequest{AsOf: ...})

TRANSACTIONS:
  Multi-step writes (invoice regeneration, schedule change, policy creation,
  cancellation) run inside TxStore.WithTx. A failure anywhere rolls back
  everything written in that scope and surfaces as a PersistenceError
  unless the failure already carries a domain classification.

SEE ALSO:
  - store.go: TxStore contract
  - locks.go: Per-policy serialization
*/
package accounting

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store TxStore
	clock Clock
	log   *zap.Logger
	locks *policyLocks

	newInvoiceID func() InvoiceID
	newPaymentID func() PaymentID
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDs overrides ID generation, mainly for deterministic tests.
func WithIDs(invoice func() InvoiceID, payment func() PaymentID) Option {
	return func(e *Engine) {
		e.newInvoiceID = invoice
		e.newPaymentID = payment
	}
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		clock:        SystemClock{},
		log:          zap.NewNop(),
		locks:        newPolicyLocks(),
		newInvoiceID: NewInvoiceID,
		newPaymentID: NewPaymentID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today is the engine clock's current calendar day.
func (e *Engine) Today() Date { return Today(e.clock) }

func (e *Engine) orToday(d Date) Date {
	if d.IsZero() {
		return e.Today()
	}
	return d
}

// Open loads the accounting state for a policy. If the policy has never had
// invoices, they are generated before Open returns.
func (e *Engine) Open(ctx context.Context, id PolicyID) (*PolicyAccounting, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	p, err := e.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	pa := &PolicyAccounting{engine: e, id: id, policy: *p}

	existing, err := e.store.ListInvoices(ctx, InvoiceQuery{PolicyID: id, IncludeDeleted: true})
	if err != nil {
		return nil, persistErr("load invoices", err)
	}
	if len(existing) > 0 {
		return pa, nil
	}

	e.log.Info("invoices not found, generating", zap.String("policy_id", string(id)))
	err = e.store.WithTx(ctx, func(s Store) error {
		return pa.generateInvoices(ctx, s, *p)
	})
	if err != nil {
		return nil, persistErr("generate invoices", err)
	}
	return pa, nil
}

// ListPolicies returns stored policies matching filter.
func (e *Engine) ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error) {
	return e.store.ListPolicies(ctx, filter)
}

// =============================================================================
// POLICY ACCOUNTING - One policy's invoices, payments and status
// =============================================================================

// PolicyAccounting is the accounting handle for a single policy.
// A handle may be shared between goroutines.
type PolicyAccounting struct {
	engine *Engine
	id     PolicyID

	mu     sync.RWMutex
	policy Policy
}

func (pa *PolicyAccounting) ID() PolicyID { return pa.id }

// Policy returns the policy as of the last operation on this handle.
func (pa *PolicyAccounting) Policy() Policy {
	pa.mu.RLock()
	defer pa.mu.RUnlock()
	return pa.policy
}

func (pa *PolicyAccounting) setPolicy(p Policy) {
	pa.mu.Lock()
	pa.policy = p
	pa.mu.Unlock()
}

// Refresh reloads the policy from the store.
func (pa *PolicyAccounting) Refresh(ctx context.Context) error {
	unlock := pa.engine.locks.lock(pa.id)
	defer unlock()

	p, err := pa.engine.store.GetPolicy(ctx, pa.id)
	if err != nil {
		return err
	}
	pa.setPolicy(*p)
	return nil
}

// Invoices returns the policy's active (non-deleted) invoices by bill date.
func (pa *PolicyAccounting) Invoices(ctx context.Context) ([]Invoice, error) {
	invoices, err := pa.engine.store.ListInvoices(ctx, InvoiceQuery{PolicyID: pa.id})
	if err != nil {
		return nil, fmt.Errorf("list invoices for %s: %w", pa.id, err)
	}
	return invoices, nil
}

// InvoiceHistory returns every invoice ever generated, deleted ones included.
func (pa *PolicyAccounting) InvoiceHistory(ctx context.Context) ([]Invoice, error) {
	invoices, err := pa.engine.store.ListInvoices(ctx, InvoiceQuery{PolicyID: pa.id, IncludeDeleted: true})
	if err != nil {
		return nil, fmt.Errorf("list invoice history for %s: %w", pa.id, err)
	}
	return invoices, nil
}

// Payments returns the policy's payments by transaction date.
func (pa *PolicyAccounting) Payments(ctx context.Context) ([]Payment, error) {
	payments, err := pa.engine.store.ListPayments(ctx, PaymentQuery{PolicyID: pa.id})
	if err != nil {
		return nil, fmt.Errorf("list payments for %s: %w", pa.id, err)
	}
	return payments, nil
}
