/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into accounting.NewPolicyRequest values
  and accounting.Policy back into JSON. The API uses it for request bodies;
  operators can keep policy definitions in files and load them the same way.

JSON SCHEMA:
  {
    "policy_number": "Policy Two",
    "effective_date": "2015-02-01",
    "annual_premium": "1600",
    "billing_schedule": "Quarterly",
    "agent": "Joe Lee",
    "named_insured": "Anna White"
  }

  annual_premium accepts a JSON string or number; strings are preferred
  because they survive decoding without float rounding.

KEY FEATURES:
  - Validates the billing schedule against the closed set
  - Parses dates as YYYY-MM-DD
  - Rejects unknown fields

USAGE:
  factory := NewPolicyFactory()
  req, err := factory.ParsePolicy(jsonString)
  pa, err := engine.CreatePolicy(ctx, *req)

SEE ALSO:
  - accounting/policy.go: NewPolicyRequest and CreatePolicy
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/policy-accounting/accounting"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy definition.
type PolicyJSON struct {
	Number          string          `json:"policy_number"`
	EffectiveDate   string          `json:"effective_date"`
	AnnualPremium   decimal.Decimal `json:"annual_premium"`
	BillingSchedule string          `json:"billing_schedule"`
	Agent           string          `json:"agent,omitempty"`
	NamedInsured    string          `json:"named_insured,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy decodes and validates a JSON policy definition.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*accounting.NewPolicyRequest, error) {
	dec := json.NewDecoder(bytes.NewBufferString(jsonStr))
	dec.DisallowUnknownFields()

	var pj PolicyJSON
	if err := dec.Decode(&pj); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON validates pj and converts it to a creation request.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*accounting.NewPolicyRequest, error) {
	effective, err := accounting.ParseDate(pj.EffectiveDate)
	if err != nil {
		return nil, fmt.Errorf("effective_date %q (use YYYY-MM-DD): %w", pj.EffectiveDate, err)
	}
	schedule, err := accounting.ParseBillingSchedule(pj.BillingSchedule)
	if err != nil {
		return nil, err
	}

	req := &accounting.NewPolicyRequest{
		Number:          pj.Number,
		EffectiveDate:   effective,
		AnnualPremium:   pj.AnnualPremium,
		BillingSchedule: schedule,
		Agent:           pj.Agent,
		NamedInsured:    pj.NamedInsured,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// ToJSON converts a stored policy back to its definition. Contact names are
// passed in because the policy only holds contact IDs.
func (f *PolicyFactory) ToJSON(p accounting.Policy, agent, namedInsured string) PolicyJSON {
	return PolicyJSON{
		Number:          p.Number,
		EffectiveDate:   p.EffectiveDate.String(),
		AnnualPremium:   p.AnnualPremium,
		BillingSchedule: string(p.BillingSchedule),
		Agent:           agent,
		NamedInsured:    namedInsured,
	}
}
