// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/warp/policy-accounting/accounting"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	policies map[accounting.PolicyID]accounting.Policy
	contacts map[accounting.ContactID]accounting.Contact
	invoices map[accounting.PolicyID][]accounting.Invoice
	payments map[accounting.PolicyID][]accounting.Payment
}

func NewMemory() *Memory {
	return &Memory{
		policies: make(map[accounting.PolicyID]accounting.Policy),
		contacts: make(map[accounting.ContactID]accounting.Contact),
		invoices: make(map[accounting.PolicyID][]accounting.Invoice),
		payments: make(map[accounting.PolicyID][]accounting.Payment),
	}
}

func (m *Memory) GetPolicy(_ context.Context, id accounting.PolicyID) (*accounting.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicyLocked(id)
}

func (m *Memory) getPolicyLocked(id accounting.PolicyID) (*accounting.Policy, error) {
	p, ok := m.policies[id]
	if !ok {
		return nil, accounting.PolicyNotFound(id)
	}
	return &p, nil
}

func (m *Memory) SavePolicy(_ context.Context, p accounting.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) ListPolicies(_ context.Context, filter accounting.PolicyFilter) ([]accounting.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoliciesLocked(filter), nil
}

func (m *Memory) listPoliciesLocked(filter accounting.PolicyFilter) []accounting.Policy {
	result := lo.Filter(lo.Values(m.policies), func(p accounting.Policy, _ int) bool {
		return filter.Status == nil || p.Status == *filter.Status
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result
}

func (m *Memory) GetContact(_ context.Context, id accounting.ContactID) (*accounting.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContactLocked(id)
}

func (m *Memory) getContactLocked(id accounting.ContactID) (*accounting.Contact, error) {
	c, ok := m.contacts[id]
	if !ok {
		return nil, accounting.ContactNotFound(id)
	}
	return &c, nil
}

func (m *Memory) FindContact(_ context.Context, name string, role accounting.ContactRole) (*accounting.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findContactLocked(name, role), nil
}

func (m *Memory) findContactLocked(name string, role accounting.ContactRole) *accounting.Contact {
	c, ok := lo.Find(lo.Values(m.contacts), func(c accounting.Contact) bool {
		return c.Name == name && c.Role == role
	})
	if !ok {
		return nil
	}
	return &c
}

func (m *Memory) SaveContact(_ context.Context, c accounting.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	return nil
}

func (m *Memory) ListInvoices(_ context.Context, q accounting.InvoiceQuery) ([]accounting.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvoicesLocked(q), nil
}

func (m *Memory) listInvoicesLocked(q accounting.InvoiceQuery) []accounting.Invoice {
	result := lo.Filter(m.invoices[q.PolicyID], func(inv accounting.Invoice, _ int) bool {
		return q.Matches(inv)
	})
	sort.SliceStable(result, func(i, j int) bool { return result[i].BillDate.Before(result[j].BillDate) })
	return result
}

func (m *Memory) AddInvoices(_ context.Context, invoices []accounting.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addInvoicesLocked(invoices)
	return nil
}

func (m *Memory) addInvoicesLocked(invoices []accounting.Invoice) {
	for _, inv := range invoices {
		m.invoices[inv.PolicyID] = append(m.invoices[inv.PolicyID], inv)
	}
}

func (m *Memory) SoftDeleteInvoices(_ context.Context, policyID accounting.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.softDeleteLocked(policyID)
	return nil
}

func (m *Memory) softDeleteLocked(policyID accounting.PolicyID) {
	invoices := m.invoices[policyID]
	updated := make([]accounting.Invoice, len(invoices))
	for i, inv := range invoices {
		inv.Deleted = true
		updated[i] = inv
	}
	m.invoices[policyID] = updated
}

func (m *Memory) ListPayments(_ context.Context, q accounting.PaymentQuery) ([]accounting.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(q), nil
}

func (m *Memory) listPaymentsLocked(q accounting.PaymentQuery) []accounting.Payment {
	result := lo.Filter(m.payments[q.PolicyID], func(p accounting.Payment, _ int) bool {
		return q.Matches(p)
	})
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TransactionDate.Before(result[j].TransactionDate)
	})
	return result
}

func (m *Memory) AddPayment(_ context.Context, p accounting.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.PolicyID] = append(m.payments[p.PolicyID], p)
	return nil
}

func (m *Memory) DeletePayments(_ context.Context, policyID accounting.PolicyID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePaymentsLocked(policyID), nil
}

func (m *Memory) deletePaymentsLocked(policyID accounting.PolicyID) int {
	n := len(m.payments[policyID])
	delete(m.payments, policyID)
	return n
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(accounting.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	policies map[accounting.PolicyID]accounting.Policy
	contacts map[accounting.ContactID]accounting.Contact
	invoices map[accounting.PolicyID][]accounting.Invoice
	payments map[accounting.PolicyID][]accounting.Payment
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		policies: make(map[accounting.PolicyID]accounting.Policy, len(tm.policies)),
		contacts: make(map[accounting.ContactID]accounting.Contact, len(tm.contacts)),
		invoices: make(map[accounting.PolicyID][]accounting.Invoice, len(tm.invoices)),
		payments: make(map[accounting.PolicyID][]accounting.Payment, len(tm.payments)),
	}
	for k, v := range tm.policies {
		s.policies[k] = v
	}
	for k, v := range tm.contacts {
		s.contacts[k] = v
	}
	for k, v := range tm.invoices {
		s.invoices[k] = append([]accounting.Invoice{}, v...)
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]accounting.Payment{}, v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.policies = s.policies
	tm.contacts = s.contacts
	tm.invoices = s.invoices
	tm.payments = s.payments
}

// txMemoryView runs against the parent's maps while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetPolicy(_ context.Context, id accounting.PolicyID) (*accounting.Policy, error) {
	return tv.parent.getPolicyLocked(id)
}

func (tv *txMemoryView) SavePolicy(_ context.Context, p accounting.Policy) error {
	tv.parent.policies[p.ID] = p
	return nil
}

func (tv *txMemoryView) ListPolicies(_ context.Context, filter accounting.PolicyFilter) ([]accounting.Policy, error) {
	return tv.parent.listPoliciesLocked(filter), nil
}

func (tv *txMemoryView) GetContact(_ context.Context, id accounting.ContactID) (*accounting.Contact, error) {
	return tv.parent.getContactLocked(id)
}

func (tv *txMemoryView) FindContact(_ context.Context, name string, role accounting.ContactRole) (*accounting.Contact, error) {
	return tv.parent.findContactLocked(name, role), nil
}

func (tv *txMemoryView) SaveContact(_ context.Context, c accounting.Contact) error {
	tv.parent.contacts[c.ID] = c
	return nil
}

func (tv *txMemoryView) ListInvoices(_ context.Context, q accounting.InvoiceQuery) ([]accounting.Invoice, error) {
	return tv.parent.listInvoicesLocked(q), nil
}

func (tv *txMemoryView) AddInvoices(_ context.Context, invoices []accounting.Invoice) error {
	tv.parent.addInvoicesLocked(invoices)
	return nil
}

func (tv *txMemoryView) SoftDeleteInvoices(_ context.Context, policyID accounting.PolicyID) error {
	tv.parent.softDeleteLocked(policyID)
	return nil
}

func (tv *txMemoryView) ListPayments(_ context.Context, q accounting.PaymentQuery) ([]accounting.Payment, error) {
	return tv.parent.listPaymentsLocked(q), nil
}

func (tv *txMemoryView) AddPayment(_ context.Context, p accounting.Payment) error {
	tv.parent.payments[p.PolicyID] = append(tv.parent.payments[p.PolicyID], p)
	return nil
}

func (tv *txMemoryView) DeletePayments(_ context.Context, policyID accounting.PolicyID) (int, error) {
	return tv.parent.deletePaymentsLocked(policyID), nil
}
