package domain

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
)

// Booking represents a scheduled studio session, optionally tied to an order.
// The booking references its order; the order does not reference back.
// Maps to the `bookings` table.
type Booking struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	ClientID    uuid.UUID  `json:"client_id"`
	ProducerID  *uuid.UUID `json:"producer_id,omitempty"`
	SessionKind string     `json:"session_kind"`
	SessionDate time.Time  `json:"session_date"`
	StartTime   string     `json:"start_time"` // HH:MM, studio-local
	DurationMin int        `json:"duration_minutes"`
	TotalPrice  int64      `json:"total_price"` // in cents
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
