/*
store.go - Persistence interface for policies, invoices, payments and contacts

PURPOSE:
  Defines the interface between the accounting engine and the database.
  The engine never builds queries itself; it asks the Store for filtered,
  ordered record sets and hands back records to add, soft-delete or delete.

KEY INTERFACES:
  Store:   lookup-by-id, filtered queries, add, delete
  TxStore: Store plus scoped transactions (commit on nil, rollback on error)

DELETION RULES:
  - Invoices are never physically removed: SoftDeleteInvoices flags them.
  - Payments are only removed in bulk, by DeletePayments, during a
    schedule change.
  - Policies and contacts are never deleted by the engine.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - accounting/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: Wraps multi-step writes in WithTx
*/
package accounting

import "context"

// =============================================================================
// QUERIES
// =============================================================================

// InvoiceQuery selects a policy's invoices. Nil bounds are unbounded.
// Results are ordered by BillDate ascending.
type InvoiceQuery struct {
	PolicyID PolicyID

	BilledOnOrBefore *Date // BillDate <= d
	DueBefore        *Date // DueDate < d
	CancelBefore     *Date // CancelDate < d
	CancelOnOrBefore *Date // CancelDate <= d
	IncludeDeleted   bool
}

// Matches reports whether inv satisfies the query. Store implementations that
// filter in memory use it; SQL stores translate the same bounds to WHERE clauses.
func (q InvoiceQuery) Matches(inv Invoice) bool {
	if inv.PolicyID != q.PolicyID {
		return false
	}
	if inv.Deleted && !q.IncludeDeleted {
		return false
	}
	if q.BilledOnOrBefore != nil && inv.BillDate.After(*q.BilledOnOrBefore) {
		return false
	}
	if q.DueBefore != nil && !inv.DueDate.Before(*q.DueBefore) {
		return false
	}
	if q.CancelBefore != nil && !inv.CancelDate.Before(*q.CancelBefore) {
		return false
	}
	if q.CancelOnOrBefore != nil && inv.CancelDate.After(*q.CancelOnOrBefore) {
		return false
	}
	return true
}

// PaymentQuery selects a policy's payments, ordered by TransactionDate.
type PaymentQuery struct {
	PolicyID   PolicyID
	OnOrBefore *Date // TransactionDate <= d
}

func (q PaymentQuery) Matches(p Payment) bool {
	if p.PolicyID != q.PolicyID {
		return false
	}
	if q.OnOrBefore != nil && p.TransactionDate.After(*q.OnOrBefore) {
		return false
	}
	return true
}

// PolicyFilter narrows ListPolicies. A zero filter lists every policy.
type PolicyFilter struct {
	Status *PolicyStatus
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of accounting records.
type Store interface {
	// GetPolicy returns ErrPolicyNotFound (as a ReferenceError) if absent.
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)

	// SavePolicy inserts or updates a policy.
	SavePolicy(ctx context.Context, p Policy) error

	// ListPolicies returns policies ordered by number.
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)

	// GetContact returns ErrContactNotFound (as a ReferenceError) if absent.
	GetContact(ctx context.Context, id ContactID) (*Contact, error)

	// FindContact looks a contact up by name and role. Returns nil, nil if absent.
	FindContact(ctx context.Context, name string, role ContactRole) (*Contact, error)

	SaveContact(ctx context.Context, c Contact) error

	ListInvoices(ctx context.Context, q InvoiceQuery) ([]Invoice, error)

	// AddInvoices persists a batch of new invoices.
	AddInvoices(ctx context.Context, invoices []Invoice) error

	// SoftDeleteInvoices flags every invoice of the policy as deleted.
	SoftDeleteInvoices(ctx context.Context, policyID PolicyID) error

	ListPayments(ctx context.Context, q PaymentQuery) ([]Payment, error)

	AddPayment(ctx context.Context, p Payment) error

	// DeletePayments removes every payment of the policy and returns the count.
	DeletePayments(ctx context.Context, policyID PolicyID) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
