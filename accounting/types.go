/*
Package accounting provides the policy accounting engine.

PURPOSE:
  Tracks the billing lifecycle of an insurance policy: invoices generated
  from a billing schedule, payments recorded against the policy, the
  outstanding balance as of a date, and cancellation for non-payment.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: premium, billing schedule, status and contact references
  - Invoice: one installment with bill/due/cancel milestones
  - Payment: money received, immutable once written
  - Contact: agent or named insured, referenced never owned

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. History: regenerated invoices are soft-deleted, not removed
  3. Type Safety: distinct ID types for policies, invoices, payments, contacts
  4. Injected collaborators: persistence (TxStore) and time (Clock)

USAGE:
  engine := accounting.NewEngine(store, accounting.WithClock(clock))
  pa, err := engine.Open(ctx, policyID)
  balance, err := pa.Balance(ctx, accounting.NewDate(2015, time.March, 1))

SEE ALSO:
  - schedule.go: Billing schedule table
  - invoices.go: Invoice generation
  - ledger.go: Balance calculation
  - cancellation.go: Cancellation evaluation
*/
package accounting

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type InvoiceID string
type PaymentID string
type ContactID string

func NewPolicyID() PolicyID   { return PolicyID(uuid.NewString()) }
func NewInvoiceID() InvoiceID { return InvoiceID(uuid.NewString()) }
func NewPaymentID() PaymentID { return PaymentID(uuid.NewString()) }
func NewContactID() ContactID { return ContactID(uuid.NewString()) }

// MustParseDecimal parses a decimal literal and panics if it is malformed.
// Intended for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// CONTACT
// =============================================================================

type ContactRole string

const (
	RoleAgent        ContactRole = "Agent"
	RoleNamedInsured ContactRole = "Named Insured"
)

// Contact is a person attached to a policy as its agent or named insured.
type Contact struct {
	ID   ContactID   `json:"id"`
	Name string      `json:"name"`
	Role ContactRole `json:"role"`
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	StatusActive   PolicyStatus = "Active"
	StatusCanceled PolicyStatus = "Canceled"
)

// Policy is an insurance policy and its billing terms.
type Policy struct {
	ID                      PolicyID        `json:"id"`
	Number                  string          `json:"policy_number"`
	EffectiveDate           Date            `json:"effective_date"`
	AnnualPremium           decimal.Decimal `json:"annual_premium"`
	BillingSchedule         BillingSchedule `json:"billing_schedule"`
	Status                  PolicyStatus    `json:"status"`
	CancellationDate        *Date           `json:"cancellation_date,omitempty"`
	CancellationDescription string          `json:"cancellation_description,omitempty"`
	NamedInsured            *ContactID      `json:"named_insured,omitempty"`
	Agent                   *ContactID      `json:"agent,omitempty"`
}

func (p Policy) IsCanceled() bool { return p.Status == StatusCanceled }

// cancel moves the policy to Canceled. The transition is one-way.
func (p *Policy) cancel(on Date, description string) {
	p.Status = StatusCanceled
	p.CancellationDate = &on
	p.CancellationDescription = description
}

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is one installment of a policy's premium.
//
// DueDate is one month after BillDate; CancelDate is 14 days after DueDate.
// Deleted invoices are kept for history and ignored by every balance and
// due-date query.
type Invoice struct {
	ID         InvoiceID       `json:"id"`
	PolicyID   PolicyID        `json:"policy_id"`
	BillDate   Date            `json:"bill_date"`
	DueDate    Date            `json:"due_date"`
	CancelDate Date            `json:"cancel_date"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	Deleted    bool            `json:"deleted"`
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment records money received for a policy. ContactID is nil when no
// paying contact could be determined.
type Payment struct {
	ID              PaymentID       `json:"id"`
	PolicyID        PolicyID        `json:"policy_id"`
	ContactID       *ContactID      `json:"contact_id,omitempty"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	TransactionDate Date            `json:"transaction_date"`
}
