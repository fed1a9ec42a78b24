/**
 * @description
 * This file defines the core domain models for the payment-service. These structs
 * represent the entities driven by the reconciliation workflow: purchase orders,
 * studio-session bookings, gateway payment attempts, manual payment claims, and
 * producer earnings.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents) to avoid
 *   floating-point inaccuracies with financial data.
 * - Status transitions are performed exclusively through conditional updates in the
 *   store layer; these structs carry no transition logic of their own.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses. An order is the monetary intent behind a purchase; it is
// mutated only by the reconciliation service.
const (
	OrderStatusPending         = "pending"
	OrderStatusAwaitingPayment = "awaiting_payment"
	OrderStatusManualReview    = "manual_review"
	OrderStatusPaid            = "paid"
	OrderStatusFailed          = "failed"
	OrderStatusRefunded        = "refunded"
)

// Order purposes.
const (
	OrderPurposeBeat    = "beat"
	OrderPurposeBooking = "booking"
	OrderPurposeOther   = "other"
)

// Order represents a monetary purchase intent. Maps to the `orders` table.
type Order struct {
	ID            uuid.UUID `json:"id"`
	PayerID       uuid.UUID `json:"payer_id"`
	Amount        int64     `json:"amount"` // in cents
	Currency      string    `json:"currency"`
	Purpose       string    `json:"purpose"` // 'beat', 'booking' or 'other'
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateIntentPayload is the DTO for creating a new purchase intent.
// Booking fields are required only when Purpose is 'booking'.
type CreateIntentPayload struct {
	Purpose     string  `json:"purpose"`
	Amount      int64   `json:"amount"` // in cents
	Currency    string  `json:"currency"`
	ProducerID  *string `json:"producer_id,omitempty"`
	SessionKind string  `json:"session_kind,omitempty"`
	SessionDate string  `json:"session_date,omitempty"` // YYYY-MM-DD
	StartTime   string  `json:"start_time,omitempty"`   // HH:MM
	DurationMin int     `json:"duration_minutes,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// IntentResult pairs the created order with its booking, when one exists.
type IntentResult struct {
	Order   *Order   `json:"order"`
	Booking *Booking `json:"booking,omitempty"`
}
