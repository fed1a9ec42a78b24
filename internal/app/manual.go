/**
 * @description
 * This file contains the manual payment half of the reconciliation service:
 * customers submit Paybill or bank-transfer claims, the order parks in
 * manual_review, and an authorized reviewer verifies or rejects each claim
 * from the admin queue. Verification settles through the same first-writer-
 * wins path the gateway uses.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
	"github.com/sautihub/payment-service/pkg/rabbitmq"
)

// SubmitManualPayment records an out-of-band payment claim. When the claim
// names an order, the order is parked in manual_review so the gateway path is
// discouraged while a human verdict is pending. Claims whose reference code
// was already used are persisted flagged, not rejected; the reviewer decides.
func (s *Service) SubmitManualPayment(ctx context.Context, claimantID uuid.UUID, payload domain.SubmitManualPaymentPayload) (*domain.ManualPaymentRecord, error) {
	// 1. Validate.
	if payload.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = "KES"
	}
	if !s.currencySupported(currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	reference := strings.ToUpper(strings.TrimSpace(payload.ReferenceCode))
	if reference == "" {
		return nil, &ValidationError{Field: "reference_code", Reason: "is required"}
	}

	// 2. When an order is named it must still be payable. Paid and refunded
	// orders take no further claims.
	if payload.OrderID != nil {
		order, err := s.repo.FindOrderByID(ctx, *payload.OrderID)
		if err != nil {
			return nil, err
		}
		switch order.Status {
		case domain.OrderStatusPaid, domain.OrderStatusRefunded:
			return nil, fmt.Errorf("%w: order is %s", ErrManualPaymentNotAllowed, order.Status)
		}
	}

	// 3. Flag reused reference codes for the reviewer.
	dupCount, err := s.repo.CountManualPaymentsByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	record := &domain.ManualPaymentRecord{
		OrderID:       payload.OrderID,
		ClaimantID:    claimantID,
		Amount:        payload.Amount,
		Currency:      currency,
		ReferenceCode: reference,
		ProofURL:      payload.ProofURL,
		Status:        domain.ManualStatusPending,
		DuplicateRef:  dupCount > 0,
	}
	if err := s.repo.CreateManualPayment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create manual payment record: %w", err)
	}

	// 4. Park the order for review. A conflict means the order raced into a
	// terminal state after the check above; the record stays pending and the
	// reviewer will see the mismatch.
	if payload.OrderID != nil {
		if _, err := s.repo.TransitionOrderStatus(ctx, *payload.OrderID,
			[]string{domain.OrderStatusPending, domain.OrderStatusAwaitingPayment, domain.OrderStatusFailed, domain.OrderStatusManualReview},
			domain.OrderStatusManualReview, nil); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				log.Printf("level=warn component=service op=submit_manual_payment record_id=%s order_id=%s msg=\"order left review parking, state changed concurrently\"", record.ID, *payload.OrderID)
			} else {
				return nil, err
			}
		}
	}

	s.publish(ctx, rabbitmq.RoutingKeyManualReviewOpened, domain.ManualReviewEvent{
		RecordID:   record.ID,
		OrderID:    record.OrderID,
		ClaimantID: record.ClaimantID,
		Status:     record.Status,
		Timestamp:  time.Now(),
	})
	log.Printf("level=info component=service op=submit_manual_payment record_id=%s reference=%s duplicate_ref=%t", record.ID, reference, record.DuplicateRef)
	return record, nil
}

// ListManualQueue returns manual payment records for the admin verification
// queue.
func (s *Service) ListManualQueue(ctx context.Context, opts domain.ManualQueueListOptions) ([]domain.ManualPaymentRecord, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Status != "" {
		switch opts.Status {
		case domain.ManualStatusPending, domain.ManualStatusVerified, domain.ManualStatusRejected:
		default:
			return nil, &ValidationError{Field: "status", Reason: "must be one of pending, verified, rejected"}
		}
	}
	return s.repo.ListManualQueue(ctx, opts)
}

// GetManualPayment returns a single manual payment record.
func (s *Service) GetManualPayment(ctx context.Context, recordID uuid.UUID) (*domain.ManualPaymentRecord, error) {
	return s.repo.FindManualPaymentByID(ctx, recordID)
}

// ReviewManualPayment applies a reviewer's verdict to a pending claim. A
// verified claim settles its order; a rejected claim fails it with the
// reviewer's notes as the failure reason. Reviewed records are immutable, so
// a second verdict reports store.ErrAlreadyReviewed.
func (s *Service) ReviewManualPayment(ctx context.Context, reviewer ReviewerCapability, recordID uuid.UUID, payload domain.ReviewManualPaymentPayload) (*domain.ManualPaymentRecord, error) {
	// 1. The capability must carry verification authority.
	if !reviewer.CanVerify {
		return nil, ErrReviewerNotAuthorized
	}

	var target string
	switch strings.ToLower(strings.TrimSpace(payload.Decision)) {
	case "verify":
		target = domain.ManualStatusVerified
	case "reject":
		target = domain.ManualStatusRejected
	default:
		return nil, &ValidationError{Field: "decision", Reason: "must be verify or reject"}
	}

	// 2. Atomically claim the pending record.
	record, err := s.repo.ReviewManualPayment(ctx, recordID, reviewer.ReviewerID, target, payload.Notes)
	if err != nil {
		return nil, err
	}

	// 3. Drive the order, when one is attached.
	if record.OrderID != nil {
		switch target {
		case domain.ManualStatusVerified:
			if err := s.settle(ctx, *record.OrderID, "manual"); err != nil {
				return nil, err
			}
		case domain.ManualStatusRejected:
			reason := "manual payment rejected"
			if payload.Notes != nil && strings.TrimSpace(*payload.Notes) != "" {
				reason = "manual payment rejected: " + strings.TrimSpace(*payload.Notes)
			}
			if err := s.failOrder(ctx, *record.OrderID, reason, reviewFailableStatuses); err != nil {
				return nil, err
			}
		}
	}

	s.publish(ctx, rabbitmq.RoutingKeyManualReviewResolve, domain.ManualReviewEvent{
		RecordID:   record.ID,
		OrderID:    record.OrderID,
		ClaimantID: record.ClaimantID,
		Status:     record.Status,
		Notes:      record.AdminNotes,
		Timestamp:  time.Now(),
	})
	log.Printf("level=info component=service op=review_manual_payment record_id=%s reviewer_id=%s verdict=%s", record.ID, reviewer.ReviewerID, target)
	return record, nil
}
