/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payment-service. By defining an interface,
 * we decouple the reconciliation logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @notes
 * - The store offers no multi-statement transactions to callers. Every status
 *   transition is a single-row conditional update guarded by the expected current
 *   status; a transition that matches no row reports `ErrStatusConflict` so the
 *   caller can re-read and decide.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sautihub/payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrdersByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]domain.Order, error)
	// TransitionOrderStatus moves an order from any of the expected statuses to
	// the target status. Returns ErrStatusConflict when the order is no longer
	// in an expected status.
	TransitionOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, to string, failureReason *string) (*domain.Order, error)

	// Booking methods
	CreateBooking(ctx context.Context, booking *domain.Booking) error
	FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	FindBookingByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Booking, error)
	TransitionBookingStatus(ctx context.Context, bookingID uuid.UUID, from []string, to string) (*domain.Booking, error)

	// Payment attempt methods
	CreatePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	FindPaymentAttemptByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error)
	// FindAwaitingAttemptByOrderID returns the attempt currently in
	// awaiting_confirmation for the order, or ErrAttemptNotFound when none is.
	FindAwaitingAttemptByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentAttempt, error)
	// RecordAttemptOutcome writes the gateway's terminal verdict onto a
	// non-terminal attempt. Terminal attempts are left untouched and reported
	// via ErrStatusConflict.
	RecordAttemptOutcome(ctx context.Context, correlationID string, status string, resultCode int, resultDescription string) (*domain.PaymentAttempt, error)
	// FailAwaitingAttempts marks every non-terminal attempt on the order as
	// failed (timeout sweep). Returns the number of attempts touched.
	FailAwaitingAttempts(ctx context.Context, orderID uuid.UUID, reason string) (int64, error)

	// Manual payment methods
	CreateManualPayment(ctx context.Context, record *domain.ManualPaymentRecord) error
	FindManualPaymentByID(ctx context.Context, recordID uuid.UUID) (*domain.ManualPaymentRecord, error)
	CountManualPaymentsByReference(ctx context.Context, referenceCode string) (int64, error)
	ListManualQueue(ctx context.Context, opts domain.ManualQueueListOptions) ([]domain.ManualPaymentRecord, error)
	// ReviewManualPayment atomically moves a pending record to verified or
	// rejected. Returns ErrAlreadyReviewed when the record is not pending.
	ReviewManualPayment(ctx context.Context, recordID uuid.UUID, reviewerID uuid.UUID, status string, notes *string) (*domain.ManualPaymentRecord, error)

	// Earnings methods
	FindEarningsByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.EarningsRecord, error)
	// CreateEarningsRecord inserts the record unless one already exists for the
	// booking. Returns false when the insert was skipped.
	CreateEarningsRecord(ctx context.Context, record *domain.EarningsRecord) (bool, error)
	FindProducerCommissionRate(ctx context.Context, producerID uuid.UUID) (float64, error)
}
