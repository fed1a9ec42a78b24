package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManualPaymentRecord statuses. Pending is the only mutable state; a record
// never re-enters pending once reviewed.
const (
	ManualStatusPending  = "pending"
	ManualStatusVerified = "verified"
	ManualStatusRejected = "rejected"
)

// ManualPaymentRecord represents an out-of-band payment claim (Paybill or bank
// transfer) submitted by a customer and verified by a human reviewer.
// Maps to the `manual_payments` table.
type ManualPaymentRecord struct {
	ID            uuid.UUID  `json:"id"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"` // may precede order creation
	ClaimantID    uuid.UUID  `json:"claimant_id"`
	Amount        int64      `json:"amount"` // in cents
	Currency      string     `json:"currency"`
	ReferenceCode string     `json:"reference_code"`
	ProofURL      *string    `json:"proof_url,omitempty"`
	Status        string     `json:"status"`
	DuplicateRef  bool       `json:"duplicate_reference"` // flagged, reviewer decides
	ReviewerID    *uuid.UUID `json:"reviewer_id,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	AdminNotes    *string    `json:"admin_notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SubmitManualPaymentPayload is the DTO for submitting a manual payment claim.
type SubmitManualPaymentPayload struct {
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	Amount        int64      `json:"amount"` // in cents
	Currency      string     `json:"currency"`
	ReferenceCode string     `json:"reference_code"`
	ProofURL      *string    `json:"proof_url,omitempty"`
}

// ReviewManualPaymentPayload is the DTO for an admin review decision.
type ReviewManualPaymentPayload struct {
	Decision string  `json:"decision"` // 'verify' or 'reject'
	Notes    *string `json:"notes,omitempty"`
}

// ManualQueueListOptions controls filtering and pagination of the admin
// verification queue.
type ManualQueueListOptions struct {
	Status string
	Search string // matches reference code or claimant id
	Limit  int
	Offset int
}
