package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event payloads published to RabbitMQ on reconciliation state transitions.
// Delivery is fire-and-forget; consumers (notification UI, analytics) decide
// what to do with each transition.

// PaymentConfirmedEvent is published when an order settles through either path.
type PaymentConfirmedEvent struct {
	OrderID   uuid.UUID  `json:"order_id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	PayerID   uuid.UUID  `json:"payer_id"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Path      string     `json:"path"` // 'gateway' or 'manual'
	Timestamp time.Time  `json:"timestamp"`
}

// PaymentFailedEvent is published when an order reaches failed.
type PaymentFailedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	PayerID   uuid.UUID `json:"payer_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ManualReviewEvent is published when a manual claim enters or leaves review.
type ManualReviewEvent struct {
	RecordID   uuid.UUID  `json:"record_id"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	ClaimantID uuid.UUID  `json:"claimant_id"`
	Status     string     `json:"status"`
	Notes      *string    `json:"notes,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// BookingSettledEvent is published when settlement confirms a session booking.
type BookingSettledEvent struct {
	BookingID  uuid.UUID  `json:"booking_id"`
	OrderID    uuid.UUID  `json:"order_id"`
	ClientID   uuid.UUID  `json:"client_id"`
	ProducerID *uuid.UUID `json:"producer_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// EarningsAllocatedEvent is published when a settled booking produces an
// earnings record for its producer.
type EarningsAllocatedEvent struct {
	EarningsID uuid.UUID `json:"earnings_id"`
	BookingID  uuid.UUID `json:"booking_id"`
	ProducerID uuid.UUID `json:"producer_id"`
	NetAmount  int64     `json:"net_amount"`
	Timestamp  time.Time `json:"timestamp"`
}
