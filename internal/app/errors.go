package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when a monetary amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrUnsupportedCurrency is returned when the currency is not accepted.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidPhoneNumber is returned when a phone number cannot be
	// normalized to the gateway's expected format.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	// ErrConcurrentAttemptExists is returned when an order already has a
	// gateway attempt awaiting confirmation. Callers should poll the existing
	// attempt rather than retry blindly.
	ErrConcurrentAttemptExists = errors.New("a payment attempt is already awaiting confirmation")
	// ErrGatewayUnavailable is returned when the mobile-money integration is
	// not configured or unreachable. Callers should offer the manual path.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is returned on a synchronous gateway rejection.
	// Callers should offer the manual path.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrOrderNotPayable is returned when a gateway payment is begun on an
	// order outside pending/awaiting_payment.
	ErrOrderNotPayable = errors.New("order is not in a payable state")
	// ErrManualPaymentNotAllowed is returned when a manual claim targets an
	// order that has already settled or been refunded.
	ErrManualPaymentNotAllowed = errors.New("order does not accept manual payments")
	// ErrReviewerNotAuthorized is returned when the presented capability does
	// not carry payment verification authority.
	ErrReviewerNotAuthorized = errors.New("reviewer is not authorized to verify payments")
	// ErrRateLimited is returned when STK push initiations for a phone number
	// exceed the configured window limit.
	ErrRateLimited = errors.New("too many payment attempts, slow down")
)

// ValidationError reports a malformed or out-of-range input field. Validation
// failures are resolved before any store mutation and are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
