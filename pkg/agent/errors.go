package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuestion is returned by Run for blank questions
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrNoProvider is returned when no model provider could be created
	ErrNoProvider = errors.New("no model provider available")
)

// ParseErrorKind classifies model output the parser could not act on.
type ParseErrorKind string

const (
	ParseMalformed   ParseErrorKind = "Malformed"
	ParseUnknownTool ParseErrorKind = "UnknownTool"
)

// ParseError is recoverable: its Observation is fed back to the model.
type ParseError struct {
	Kind      ParseErrorKind
	Detail    string
	Rationale string
	Tool      string
	Input     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Observation is the recovery hint shown to the model.
func (e *ParseError) Observation() string {
	return e.Detail
}

// CapabilityErrorKind classifies model provider failures.
type CapabilityErrorKind string

const (
	CapabilityUnreachable CapabilityErrorKind = "Unreachable"
	CapabilityAuthFailure CapabilityErrorKind = "AuthFailure"
	CapabilityRateLimited CapabilityErrorKind = "RateLimited"
)

// CapabilityError is a model provider failure. It ends the run as Failed
// once retries and failover are spent.
type CapabilityError struct {
	Kind       CapabilityErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *CapabilityError) Retryable() bool {
	switch e.Kind {
	case CapabilityAuthFailure:
		return false
	case CapabilityRateLimited:
		return true
	}
	// client errors other than timeouts will fail the same way again
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 408 {
		return false
	}
	return true
}

// capabilityFromStatus builds a CapabilityError from an HTTP status.
func capabilityFromStatus(provider string, status int, err error) *CapabilityError {
	kind := CapabilityUnreachable
	switch status {
	case 401, 403:
		kind = CapabilityAuthFailure
	case 429:
		kind = CapabilityRateLimited
	}
	return &CapabilityError{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}

// IsRetryableError checks if a provider error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	// unclassified errors are transport failures
	return true
}

// BudgetKind names the budget a run ran out of.
type BudgetKind string

const (
	BudgetIterationCap BudgetKind = "IterationCap"
	BudgetTimeBudget   BudgetKind = "TimeBudget"
)

// BudgetExceeded ends a run as Exhausted.
type BudgetExceeded struct {
	Kind  BudgetKind
	Limit string
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("%s exceeded (%s)", e.Kind, e.Limit)
}

// Message is the best-effort answer shown to the user.
func (e *BudgetExceeded) Message() string {
	switch e.Kind {
	case BudgetTimeBudget:
		return fmt.Sprintf("Agent stopped: no definitive answer was reached within the time budget of %s.", e.Limit)
	default:
		return fmt.Sprintf("Agent stopped: no definitive answer was reached within %s steps.", e.Limit)
	}
}
