package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPayoutNotFound indicates the payout could not be located.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrInvalidTransition indicates an illegal state-machine edge; the
	// order is left unchanged.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrAmbiguousMatch indicates a notification matched more than one
	// pending order and was parked instead of auto-resolved.
	ErrAmbiguousMatch = errors.New("ambiguous payment match")
	// ErrAlreadyProcessed indicates a duplicate (provider, transaction id)
	// delivery that resolved to a no-op.
	ErrAlreadyProcessed = errors.New("notification already processed")
	// ErrOrderNotEligible indicates an order cannot be included in a payout.
	ErrOrderNotEligible = errors.New("order not eligible for payout")
	// ErrPayoutNotRetryable indicates a retry on a payout that is not failed.
	ErrPayoutNotRetryable = errors.New("payout is not in a retryable state")
	// ErrOrderFrozen indicates the order belongs to a non-terminal payout
	// and its status may not change until the payout settles.
	ErrOrderFrozen = errors.New("order is frozen by a pending payout")
	// ErrOrderClosed indicates a payment arrived for a cancelled or
	// refunded order; the money needs a refund, not a confirmation.
	ErrOrderClosed = errors.New("order is cancelled or refunded")
)

// ValidationError rejects malformed input before any external call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError is a provider rejection or an embedded error returned
// with an HTTP 200 body; either way, never success.
type GatewayError struct {
	Provider string
	Code     string
	Message  string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Provider, e.Message)
}

// RetryBackoffError rejects a payout retry attempted before its backoff
// window has elapsed, carrying the remaining wait.
type RetryBackoffError struct {
	Remaining time.Duration
}

func (e *RetryBackoffError) Error() string {
	return fmt.Sprintf("retry not allowed yet, wait %s", e.Remaining.Round(time.Second))
}
