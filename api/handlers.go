/*
handlers.go - HTTP API handlers for the policy accounting engine

PURPOSE:
  Exposes the accounting engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to accounting.Engine.

ENDPOINTS:
  Policies:
    GET    /api/policies                       List policies (?status=Active|Canceled)
    POST   /api/policies                       Create policy from JSON
    GET    /api/policies/{id}                  Policy, active invoices, balance (?date=)
    GET    /api/policies/{id}/balance          Balance as of ?date=
    GET    /api/policies/{id}/invoices         Active invoices (?history=true for all)

  Payments:
    GET    /api/policies/{id}/payments         Payment history
    POST   /api/policies/{id}/payments         Record a payment

  Cancellation:
    GET    /api/policies/{id}/cancellation     Pending-cancellation probe (?date=)
    POST   /api/policies/{id}/cancel           Evaluate (or force) cancellation

  Billing:
    POST   /api/policies/{id}/schedule         Change billing schedule

  Admin:
    POST   /api/admin/sweep                    Run the cancellation sweep once (?date=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unrecognized billing schedule, bad amount
  - 404: Policy or contact not found
  - 409: Policy already canceled
  - 500: Persistence failures

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: CancellationSweeper
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine        *accounting.Engine
	PolicyFactory *factory.PolicyFactory
	Sweeper       *CancellationSweeper
	// Health is pinged by /healthz. Nil means always healthy.
	Health Pinger

	log *zap.Logger
}

// NewHandler creates a handler over engine. The sweeper it builds is the one
// POST /api/admin/sweep runs; callers may Start it for periodic sweeps.
func NewHandler(engine *accounting.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:        engine,
		PolicyFactory: factory.NewPolicyFactory(),
		Sweeper:       NewCancellationSweeper(engine, log),
		log:           log,
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies, optionally filtered by status.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	var filter accounting.PolicyFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := accounting.PolicyStatus(s)
		if status != accounting.StatusActive && status != accounting.StatusCanceled {
			writeError(w, http.StatusBadRequest, "Invalid status (use Active or Canceled)", nil)
			return
		}
		filter.Status = &status
	}

	policies, err := h.Engine.ListPolicies(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}
	if policies == nil {
		policies = []accounting.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// CreatePolicy creates a policy from a JSON definition and generates its
// invoices.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var pj factory.PolicyJSON
	if err := dec.Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.PolicyFactory.FromJSON(pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}

	pa, err := h.Engine.CreatePolicy(r.Context(), *req)
	if err != nil {
		writeDomainError(w, "Failed to create policy", err)
		return
	}

	summary, err := h.summarize(r.Context(), pa, accounting.Date{})
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// GetPolicy returns a policy with its active invoices and balance.
// GET /api/policies/{id}?date=YYYY-MM-DD
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r)
	if !ok {
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	summary, err := h.summarize(r.Context(), pa, asOf)
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetBalance returns the outstanding balance as of a date.
// GET /api/policies/{id}/balance?date=YYYY-MM-DD
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r)
	if !ok {
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	asOf = h.orToday(asOf)
	balance, err := pa.Balance(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, "Failed to calculate balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{PolicyID: pa.ID(), AsOf: asOf, Balance: balance})
}

// GetInvoices returns active invoices, or every invoice with ?history=true.
// GET /api/policies/{id}/invoices
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	history := false
	if v := r.URL.Query().Get("history"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid history flag", err)
			return
		}
		history = b
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	var (
		invoices []accounting.Invoice
		err      error
	)
	if history {
		invoices, err = pa.InvoiceHistory(r.Context())
	} else {
		invoices, err = pa.Invoices(r.Context())
	}
	if err != nil {
		writeDomainError(w, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(invoices == nil, []accounting.Invoice{}, invoices))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns the policy's payments by transaction date.
// GET /api/policies/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	pa, ok := h.open(w, r)
	if !ok {
		return
	}
	payments, err := pa.Payments(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(payments == nil, []accounting.Payment{}, payments))
}

// RecordPayment records a payment against the policy.
// POST /api/policies/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	payment, err := pa.RecordPayment(r.Context(), accounting.PaymentRequest{
		ContactID: req.ContactID,
		Amount:    req.Amount,
		Date:      req.Date,
	})
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// =============================================================================
// CANCELLATION HANDLERS
// =============================================================================

// GetPendingCancellation reports whether an invoice is past its due and
// cancel dates.
// GET /api/policies/{id}/cancellation?date=YYYY-MM-DD
func (h *Handler) GetPendingCancellation(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r)
	if !ok {
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	asOf = h.orToday(asOf)
	pending, err := pa.IsPendingCancellation(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, "Failed to check cancellation", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingCancellationDTO{PolicyID: pa.ID(), AsOf: asOf, Pending: pending})
}

// CancelPolicy evaluates cancellation for non-payment, or cancels
// unconditionally when force is set.
// POST /api/policies/{id}/cancel
func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	var req CancelPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	result, err := pa.EvaluateCancel(r.Context(), accounting.CancelRequest{
		AsOf:        req.Date,
		Description: req.Description,
		Force:       req.Force,
	})
	if err != nil {
		writeDomainError(w, "Failed to cancel policy", err)
		return
	}
	writeJSON(w, http.StatusOK, CancellationDTO{
		Canceled: result.Canceled,
		Forced:   result.Forced,
		Invoice:  result.Invoice,
		Balance:  result.Balance,
		Policy:   result.Policy,
	})
}

// =============================================================================
// BILLING SCHEDULE HANDLERS
// =============================================================================

// ChangeSchedule switches the policy to a new billing schedule, rolling the
// outstanding balance into a fresh invoice set.
// POST /api/policies/{id}/schedule
func (h *Handler) ChangeSchedule(w http.ResponseWriter, r *http.Request) {
	var req ChangeScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	schedule, err := accounting.ParseBillingSchedule(req.BillingSchedule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing schedule", err)
		return
	}
	pa, ok := h.open(w, r)
	if !ok {
		return
	}

	if err := pa.ChangeSchedule(r.Context(), schedule, req.Date); err != nil {
		writeDomainError(w, "Failed to change billing schedule", err)
		return
	}

	summary, err := h.summarize(r.Context(), pa, req.Date)
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs one cancellation sweep over all active policies.
// POST /api/admin/sweep?date=YYYY-MM-DD
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r)
	if !ok {
		return
	}

	report, err := h.Sweeper.RunOnce(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report.DTO())
}

// Healthz reports whether the store is reachable.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// open resolves the {id} URL parameter to an accounting handle, writing the
// error response itself when that fails.
func (h *Handler) open(w http.ResponseWriter, r *http.Request) (*accounting.PolicyAccounting, bool) {
	id := accounting.PolicyID(chi.URLParam(r, "id"))
	pa, err := h.Engine.Open(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return nil, false
	}
	return pa, true
}

func (h *Handler) orToday(d accounting.Date) accounting.Date {
	if d.IsZero() {
		return h.Engine.Today()
	}
	return d
}

func (h *Handler) summarize(ctx context.Context, pa *accounting.PolicyAccounting, asOf accounting.Date) (PolicySummaryDTO, error) {
	asOf = h.orToday(asOf)

	if err := pa.Refresh(ctx); err != nil {
		return PolicySummaryDTO{}, err
	}
	invoices, err := pa.Invoices(ctx)
	if err != nil {
		return PolicySummaryDTO{}, err
	}
	balance, err := pa.Balance(ctx, asOf)
	if err != nil {
		return PolicySummaryDTO{}, err
	}
	pending, err := pa.IsPendingCancellation(ctx, asOf)
	if err != nil {
		return PolicySummaryDTO{}, err
	}

	return PolicySummaryDTO{
		Policy:              pa.Policy(),
		Invoices:            lo.Ternary(invoices == nil, []accounting.Invoice{}, invoices),
		AsOf:                asOf,
		Balance:             balance,
		PendingCancellation: pending && !pa.Policy().IsCanceled(),
	}, nil
}

// dateParam reads the optional ?date= query parameter. A missing date is the
// zero Date, which the engine treats as today.
func dateParam(w http.ResponseWriter, r *http.Request) (accounting.Date, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return accounting.Date{}, true
	}
	d, err := accounting.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return accounting.Date{}, false
	}
	return d, true
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case accounting.IsClientError(err):
		return http.StatusBadRequest
	case accounting.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, accounting.ErrPolicyCanceled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		message = fmt.Sprintf("%s: not found", message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
