package domain

import (
	"time"

	"github.com/google/uuid"
)

// EarningsRecord statuses. The payout subsystem moves records beyond pending
// when a payout batch clears.
const (
	EarningsStatusPending   = "pending"
	EarningsStatusConfirmed = "confirmed"
	EarningsStatusPaid      = "paid"
)

// EarningsRecord represents one producer's share of one settled booking.
// Exactly one record exists per settled booking with a producer; the
// commission rate is snapshotted at settlement time. Maps to the
// `earnings` table.
type EarningsRecord struct {
	ID             uuid.UUID `json:"id"`
	BookingID      uuid.UUID `json:"booking_id"`
	ProducerID     uuid.UUID `json:"producer_id"`
	GrossAmount    int64     `json:"gross_amount"`    // in cents, equals booking total price
	PlatformFee    int64     `json:"platform_fee"`    // in cents
	CommissionRate float64   `json:"commission_rate"` // percent kept by producer, <= 2dp
	NetAmount      int64     `json:"net_amount"`      // in cents
	Status         string    `json:"status"`
	PayoutBatchRef *string   `json:"payout_batch_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
