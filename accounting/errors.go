/*
errors.go - Centralized error types for the accounting engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is against the sentinels below.

ERROR CATEGORIES:
  1. Configuration errors - unrecognized billing schedule, invalid input
  2. Persistence errors - a write or commit failed; the transaction rolled back
  3. Reference errors - a policy or contact that must exist does not

USAGE:
  if errors.Is(err, accounting.ErrPolicyNotFound) {
      // 404
  }
  var perr *accounting.PersistenceError
  if errors.As(err, &perr) {
      log.Error("write failed", zap.String("op", perr.Op))
  }

SEE ALSO:
  - engine.go: Wraps store failures in PersistenceError
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package accounting

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is the class of all ConfigurationError values.
	ErrConfiguration = errors.New("configuration error")

	// ErrPersistence is the class of all PersistenceError values.
	ErrPersistence = errors.New("persistence error")

	// ErrReference is the class of all ReferenceError values.
	ErrReference = errors.New("reference error")

	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrContactNotFound is returned when a referenced contact doesn't exist.
	ErrContactNotFound = errors.New("contact not found")

	// ErrPolicyCanceled is returned when cancellation is evaluated for a
	// policy that is already canceled. The recorded date and reason stand.
	ErrPolicyCanceled = errors.New("policy already canceled")

	// ErrInvalidAmount is returned for negative premiums or non-positive payments.
	ErrInvalidAmount = errors.New("invalid amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports a value the engine cannot act on, most commonly
// an unrecognized billing schedule.
type ConfigurationError struct {
	Field string
	Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: unrecognized %s %q", e.Field, e.Value)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// PersistenceError wraps a store failure. Whatever the operation had written
// before the failure was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ReferenceError reports a missing policy or contact.
type ReferenceError struct {
	Kind string // "policy" or "contact"
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *ReferenceError) Unwrap() error {
	switch e.Kind {
	case "policy":
		return ErrPolicyNotFound
	case "contact":
		return ErrContactNotFound
	default:
		return nil
	}
}

func (e *ReferenceError) Is(target error) bool { return target == ErrReference }

// PolicyNotFound builds the ReferenceError for a missing policy.
func PolicyNotFound(id PolicyID) error {
	return &ReferenceError{Kind: "policy", ID: string(id)}
}

// ContactNotFound builds the ReferenceError for a missing contact.
func ContactNotFound(id ContactID) error {
	return &ReferenceError{Kind: "contact", ID: string(id)}
}

// persistErr wraps err as a PersistenceError unless it already carries a
// domain classification that callers need to see unchanged.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrReference) || errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrPersistence) || errors.Is(err, ErrPolicyCanceled) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReference)
}
