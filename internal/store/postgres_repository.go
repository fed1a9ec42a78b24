/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to orders, bookings, payment attempts, manual payments, and earnings.
 *
 * @dependencies
 * - context, errors, fmt, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sautihub/payment-service/internal/domain"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrAttemptNotFound       = errors.New("payment attempt not found")
	ErrManualPaymentNotFound = errors.New("manual payment record not found")
	ErrEarningsNotFound      = errors.New("earnings record not found")
	ErrProducerNotFound      = errors.New("producer profile not found")
	ErrStatusConflict        = errors.New("status transition conflict")
	ErrAlreadyReviewed       = errors.New("manual payment already reviewed")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, payer_id, amount, currency, purpose, status, failure_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.PayerID, &o.Amount, &o.Currency, &o.Purpose, &o.Status, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts a new order row.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, payer_id, amount, currency, purpose, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, query, order.ID, order.PayerID, order.Amount, order.Currency, order.Purpose, order.Status)
	return err
}

// FindOrderByID retrieves an order by its ID.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.db.QueryRow(ctx, query, orderID))
}

// ListOrdersByPayer retrieves a payer's orders, newest first.
func (r *PostgresRepository) ListOrdersByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, payerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.PayerID, &o.Amount, &o.Currency, &o.Purpose, &o.Status, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// TransitionOrderStatus performs a compare-and-swap status update on an order.
// The update applies only when the order currently sits in one of the expected
// statuses; otherwise no row matches and ErrStatusConflict is returned so the
// caller can re-read and decide (the order row itself may not even exist --
// callers that care distinguish via FindOrderByID).
func (r *PostgresRepository) TransitionOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, to string, failureReason *string) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID, from, to, failureReason))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}
	return order, nil
}

const bookingColumns = `id, order_id, client_id, producer_id, session_kind, session_date, start_time, duration_minutes, total_price, status, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.OrderID, &b.ClientID, &b.ProducerID, &b.SessionKind, &b.SessionDate, &b.StartTime, &b.DurationMin, &b.TotalPrice, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a new booking row.
func (r *PostgresRepository) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (id, order_id, client_id, producer_id, session_kind, session_date, start_time, duration_minutes, total_price, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, query,
		booking.ID, booking.OrderID, booking.ClientID, booking.ProducerID, booking.SessionKind,
		booking.SessionDate, booking.StartTime, booking.DurationMin, booking.TotalPrice,
		booking.Status, booking.Notes,
	)
	return err
}

// FindBookingByID retrieves a booking by its ID.
func (r *PostgresRepository) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.db.QueryRow(ctx, query, bookingID))
}

// FindBookingByOrderID retrieves the booking linked to an order, if any.
func (r *PostgresRepository) FindBookingByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE order_id = $1`
	return scanBooking(r.db.QueryRow(ctx, query, orderID))
}

// TransitionBookingStatus performs a compare-and-swap status update on a booking.
func (r *PostgresRepository) TransitionBookingStatus(ctx context.Context, bookingID uuid.UUID, from []string, to string) (*domain.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + bookingColumns
	booking, err := scanBooking(r.db.QueryRow(ctx, query, bookingID, from, to))
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}
	return booking, nil
}

const attemptColumns = `id, order_id, correlation_id, amount, currency, phone_number, status, result_code, result_description, created_at, updated_at`

func scanAttempt(row pgx.Row) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	err := row.Scan(&a.ID, &a.OrderID, &a.CorrelationID, &a.Amount, &a.Currency, &a.PhoneNumber, &a.Status, &a.ResultCode, &a.ResultDescription, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreatePaymentAttempt inserts a new gateway payment attempt row.
func (r *PostgresRepository) CreatePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (id, order_id, correlation_id, amount, currency, phone_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, query,
		attempt.ID, attempt.OrderID, attempt.CorrelationID, attempt.Amount,
		attempt.Currency, attempt.PhoneNumber, attempt.Status,
	)
	return err
}

// FindPaymentAttemptByCorrelationID retrieves an attempt by the gateway's correlation id.
func (r *PostgresRepository) FindPaymentAttemptByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE correlation_id = $1`
	return scanAttempt(r.db.QueryRow(ctx, query, correlationID))
}

// FindAwaitingAttemptByOrderID retrieves the attempt currently awaiting
// confirmation for an order. Used to enforce the one-in-flight invariant.
func (r *PostgresRepository) FindAwaitingAttemptByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM payment_attempts
		WHERE order_id = $1 AND status IN ('initiated', 'awaiting_confirmation')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanAttempt(r.db.QueryRow(ctx, query, orderID))
}

// RecordAttemptOutcome writes the gateway verdict onto a non-terminal attempt.
// Attempts already in a terminal state are not rewritten; the conflict is
// surfaced so the caller can log the benign collision.
func (r *PostgresRepository) RecordAttemptOutcome(ctx context.Context, correlationID string, status string, resultCode int, resultDescription string) (*domain.PaymentAttempt, error) {
	query := `
		UPDATE payment_attempts
		SET status = $2, result_code = $3, result_description = $4, updated_at = NOW()
		WHERE correlation_id = $1 AND status IN ('initiated', 'awaiting_confirmation')
		RETURNING ` + attemptColumns
	attempt, err := scanAttempt(r.db.QueryRow(ctx, query, correlationID, status, resultCode, resultDescription))
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}
	return attempt, nil
}

// FailAwaitingAttempts marks all non-terminal attempts for an order as failed.
func (r *PostgresRepository) FailAwaitingAttempts(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	query := `
		UPDATE payment_attempts
		SET status = 'failed', result_description = $2, updated_at = NOW()
		WHERE order_id = $1 AND status IN ('initiated', 'awaiting_confirmation')
	`
	result, err := r.db.Exec(ctx, query, orderID, reason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const manualColumns = `id, order_id, claimant_id, amount, currency, reference_code, proof_url, status, duplicate_reference, reviewer_id, reviewed_at, admin_notes, created_at, updated_at`

func scanManual(row pgx.Row) (*domain.ManualPaymentRecord, error) {
	var m domain.ManualPaymentRecord
	err := row.Scan(&m.ID, &m.OrderID, &m.ClaimantID, &m.Amount, &m.Currency, &m.ReferenceCode, &m.ProofURL, &m.Status, &m.DuplicateRef, &m.ReviewerID, &m.ReviewedAt, &m.AdminNotes, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrManualPaymentNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateManualPayment inserts a new manual payment claim.
func (r *PostgresRepository) CreateManualPayment(ctx context.Context, record *domain.ManualPaymentRecord) error {
	query := `
		INSERT INTO manual_payments (id, order_id, claimant_id, amount, currency, reference_code, proof_url, status, duplicate_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, query,
		record.ID, record.OrderID, record.ClaimantID, record.Amount, record.Currency,
		record.ReferenceCode, record.ProofURL, record.Status, record.DuplicateRef,
	)
	return err
}

// FindManualPaymentByID retrieves a manual payment record by its ID.
func (r *PostgresRepository) FindManualPaymentByID(ctx context.Context, recordID uuid.UUID) (*domain.ManualPaymentRecord, error) {
	query := `SELECT ` + manualColumns + ` FROM manual_payments WHERE id = $1`
	return scanManual(r.db.QueryRow(ctx, query, recordID))
}

// CountManualPaymentsByReference counts claims carrying the same reference code.
// Used to flag (not reject) duplicate references for the human reviewer.
func (r *PostgresRepository) CountManualPaymentsByReference(ctx context.Context, referenceCode string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM manual_payments WHERE upper(btrim(reference_code)) = upper(btrim($1))`
	if err := r.db.QueryRow(ctx, query, referenceCode).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListManualQueue retrieves manual payment records for the admin verification
// queue. The queue is scoped to human-submitted claims: records carrying a
// proof attachment or a reference code outside the gateway's auto-generated
// namespace, so system-generated ledger noise stays out of the inbox.
func (r *PostgresRepository) ListManualQueue(ctx context.Context, opts domain.ManualQueueListOptions) ([]domain.ManualPaymentRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		conditions = []string{`(proof_url IS NOT NULL OR reference_code !~* '^WS_CO_')`}
		args       []interface{}
	)
	if status := strings.TrimSpace(opts.Status); status != "" {
		args = append(args, status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(reference_code ILIKE $%d OR claimant_id::text ILIKE $%d)", len(args), len(args)))
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM manual_payments
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, manualColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ManualPaymentRecord
	for rows.Next() {
		var m domain.ManualPaymentRecord
		if err := rows.Scan(&m.ID, &m.OrderID, &m.ClaimantID, &m.Amount, &m.Currency, &m.ReferenceCode, &m.ProofURL, &m.Status, &m.DuplicateRef, &m.ReviewerID, &m.ReviewedAt, &m.AdminNotes, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

// ReviewManualPayment atomically resolves a pending claim. The WHERE clause is
// the defensive enforcement of the terminal-state invariant: verified and
// rejected records never match, so a second review reports ErrAlreadyReviewed
// regardless of what the service layer believed it had read.
func (r *PostgresRepository) ReviewManualPayment(ctx context.Context, recordID uuid.UUID, reviewerID uuid.UUID, status string, notes *string) (*domain.ManualPaymentRecord, error) {
	query := `
		UPDATE manual_payments
		SET status = $3, reviewer_id = $2, reviewed_at = NOW(), admin_notes = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + manualColumns
	record, err := scanManual(r.db.QueryRow(ctx, query, recordID, reviewerID, status, notes))
	if err != nil {
		if errors.Is(err, ErrManualPaymentNotFound) {
			// Distinguish a missing record from an already-resolved one.
			if _, findErr := r.FindManualPaymentByID(ctx, recordID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrAlreadyReviewed
		}
		return nil, err
	}
	return record, nil
}

const earningsColumns = `id, booking_id, producer_id, gross_amount, platform_fee, commission_rate, net_amount, status, payout_batch_ref, created_at, updated_at`

// FindEarningsByBookingID retrieves the earnings record for a booking, if allocated.
func (r *PostgresRepository) FindEarningsByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.EarningsRecord, error) {
	var e domain.EarningsRecord
	query := `SELECT ` + earningsColumns + ` FROM earnings WHERE booking_id = $1`
	err := r.db.QueryRow(ctx, query, bookingID).Scan(&e.ID, &e.BookingID, &e.ProducerID, &e.GrossAmount, &e.PlatformFee, &e.CommissionRate, &e.NetAmount, &e.Status, &e.PayoutBatchRef, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEarningsNotFound
		}
		return nil, err
	}
	return &e, nil
}

// CreateEarningsRecord inserts an earnings record unless the booking already
// has one. The unique index on booking_id makes double allocation impossible
// even when two settlement paths race; the loser observes inserted == false.
func (r *PostgresRepository) CreateEarningsRecord(ctx context.Context, record *domain.EarningsRecord) (bool, error) {
	query := `
		INSERT INTO earnings (id, booking_id, producer_id, gross_amount, platform_fee, commission_rate, net_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (booking_id) DO NOTHING
	`
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	result, err := r.db.Exec(ctx, query,
		record.ID, record.BookingID, record.ProducerID, record.GrossAmount,
		record.PlatformFee, record.CommissionRate, record.NetAmount, record.Status,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FindProducerCommissionRate reads the producer's current commission rate
// (percent kept by the producer). Callers snapshot the value at settlement.
func (r *PostgresRepository) FindProducerCommissionRate(ctx context.Context, producerID uuid.UUID) (float64, error) {
	var rate float64
	query := `SELECT commission_rate FROM producer_profiles WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, query, producerID).Scan(&rate); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrProducerNotFound
		}
		return 0, err
	}
	return rate, nil
}
