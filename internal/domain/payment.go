package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAttempt statuses. At most one attempt per order may sit in
// awaiting_confirmation at a time; the service enforces this, not the store.
const (
	AttemptStatusInitiated            = "initiated"
	AttemptStatusAwaitingConfirmation = "awaiting_confirmation"
	AttemptStatusCompleted            = "completed"
	AttemptStatusFailed               = "failed"
)

// PaymentAttempt represents one STK push try against the mobile-money gateway.
// Maps to the `payment_attempts` table. CorrelationID is the gateway's
// CheckoutRequestID and is the key the asynchronous callback writes against.
type PaymentAttempt struct {
	ID                uuid.UUID `json:"id"`
	OrderID           uuid.UUID `json:"order_id"`
	CorrelationID     string    `json:"correlation_id"`
	Amount            int64     `json:"amount"` // in cents
	Currency          string    `json:"currency"`
	PhoneNumber       string    `json:"phone_number"` // normalized 2547XX/2541XX form
	Status            string    `json:"status"`
	ResultCode        *int      `json:"result_code,omitempty"`
	ResultDescription *string   `json:"result_description,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StkPushPayload is the DTO for initiating a gateway payment on an order.
type StkPushPayload struct {
	PhoneNumber string `json:"phone_number"`
}

// GatewayCallbackResult is the normalized outcome extracted from the Daraja
// STK callback body. ResultCode 0 means the charge completed.
type GatewayCallbackResult struct {
	CorrelationID     string `json:"correlation_id"`
	ResultCode        int    `json:"result_code"`
	ResultDescription string `json:"result_description"`
	ReceiptNumber     string `json:"receipt_number,omitempty"`
}
