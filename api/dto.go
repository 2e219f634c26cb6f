/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain records
  (Policy, Invoice, Payment) already carry JSON tags and are embedded
  as-is; the types here add request bodies and response envelopes.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal strings ("133.33"), never floats.

DATES:
  YYYY-MM-DD. An omitted date means "today" on the server's clock.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON (create request body)
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/policy-accounting/accounting"
)

// =============================================================================
// RESPONSES
// =============================================================================

// PolicySummaryDTO is a policy with its active invoices and balance.
type PolicySummaryDTO struct {
	Policy              accounting.Policy    `json:"policy"`
	Invoices            []accounting.Invoice `json:"invoices"`
	AsOf                accounting.Date      `json:"as_of"`
	Balance             decimal.Decimal      `json:"balance"`
	PendingCancellation bool                 `json:"pending_cancellation"`
}

// BalanceDTO is the outstanding balance as of a date.
type BalanceDTO struct {
	PolicyID accounting.PolicyID `json:"policy_id"`
	AsOf     accounting.Date     `json:"as_of"`
	Balance  decimal.Decimal     `json:"balance"`
}

// PendingCancellationDTO answers the pending-cancellation probe.
type PendingCancellationDTO struct {
	PolicyID accounting.PolicyID `json:"policy_id"`
	AsOf     accounting.Date     `json:"as_of"`
	Pending  bool                `json:"pending"`
}

// CancellationDTO reports the outcome of a cancel evaluation.
type CancellationDTO struct {
	Canceled bool                `json:"canceled"`
	Forced   bool                `json:"forced"`
	Invoice  *accounting.Invoice `json:"triggering_invoice,omitempty"`
	Balance  decimal.Decimal     `json:"balance_at_cancel_date"`
	Policy   accounting.Policy   `json:"policy"`
}

// SweepReportDTO summarizes one cancellation sweep.
type SweepReportDTO struct {
	AsOf      accounting.Date       `json:"as_of"`
	Evaluated int                   `json:"evaluated"`
	Canceled  []accounting.PolicyID `json:"canceled"`
	Failed    map[string]string     `json:"failed,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// RecordPaymentRequest is the body of POST /policies/{id}/payments.
type RecordPaymentRequest struct {
	ContactID *accounting.ContactID `json:"contact_id,omitempty"`
	Amount    decimal.Decimal       `json:"amount"`
	Date      accounting.Date       `json:"date,omitempty"`
}

// CancelPolicyRequest is the body of POST /policies/{id}/cancel.
type CancelPolicyRequest struct {
	Date        accounting.Date `json:"date,omitempty"`
	Description string          `json:"description,omitempty"`
	Force       bool            `json:"force,omitempty"`
}

// ChangeScheduleRequest is the body of POST /policies/{id}/schedule.
type ChangeScheduleRequest struct {
	BillingSchedule string          `json:"billing_schedule"`
	Date            accounting.Date `json:"date,omitempty"`
}
