/**
 * @description
 * This file contains the core reconciliation logic of the payment-service. The
 * `Service` struct drives every order through its lifecycle: intent creation,
 * gateway (STK push) payment, timeout, asynchronous confirmation, and
 * settlement. Settlement is first-writer-wins: whichever path (gateway
 * callback or manual verification) lands its conditional status update first
 * owns the outcome, and the loser degrades to a logged no-op.
 *
 * @dependencies
 * - internal/store: The data access layer (ledger store).
 * - pkg/darajaclient: The M-Pesa gateway adapter.
 * - pkg/rabbitmq: The event publisher for transition events.
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
	"github.com/sautihub/payment-service/pkg/darajaclient"
	"github.com/sautihub/payment-service/pkg/rabbitmq"
)

// Gateway is the slice of the Daraja client the service depends on.
// *darajaclient.Client satisfies it; tests substitute a stub.
type Gateway interface {
	Configured() bool
	InitiateSTKPush(ctx context.Context, amount int64, phoneNumber, accountRef, description string) (*darajaclient.STKPushResponse, error)
}

// RateLimiter bounds STK push initiations per phone number. A nil limiter
// disables the check.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error)
}

// ReviewerCapability is the caller-asserted authority presented with a manual
// payment review. The API layer builds it from the verified token claims; the
// service only checks the flag.
type ReviewerCapability struct {
	ReviewerID uuid.UUID
	CanVerify  bool
}

// Config carries the reconciliation tunables resolved at startup.
type Config struct {
	SupportedCurrencies   []string
	DefaultCommissionRate float64 // percent kept by the producer when no profile rate exists
	StkPushLimitPerWindow int
	StkPushLimitWindow    time.Duration
	GatewayPollInterval   time.Duration
	GatewayPollDeadline   time.Duration
}

// Service provides the business logic for the payment-service.
type Service struct {
	repo    store.Repository
	gateway Gateway
	events  rabbitmq.Publisher
	limiter RateLimiter
	cfg     Config
}

// NewService creates a new Service with its dependencies. events and limiter
// may be nil; the corresponding behavior is skipped.
func NewService(repo store.Repository, gateway Gateway, events rabbitmq.Publisher, limiter RateLimiter, cfg Config) *Service {
	if len(cfg.SupportedCurrencies) == 0 {
		cfg.SupportedCurrencies = []string{"KES"}
	}
	if cfg.DefaultCommissionRate <= 0 {
		cfg.DefaultCommissionRate = 85.0
	}
	if cfg.StkPushLimitPerWindow <= 0 {
		cfg.StkPushLimitPerWindow = 5
	}
	if cfg.StkPushLimitWindow <= 0 {
		cfg.StkPushLimitWindow = time.Hour
	}
	if cfg.GatewayPollInterval <= 0 {
		cfg.GatewayPollInterval = 3 * time.Second
	}
	if cfg.GatewayPollDeadline <= 0 {
		cfg.GatewayPollDeadline = 120 * time.Second
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		events:  events,
		limiter: limiter,
		cfg:     cfg,
	}
}

func (s *Service) currencySupported(currency string) bool {
	for _, c := range s.cfg.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// CreateIntent validates and persists a new purchase intent. For booking
// purchases the session booking is created alongside the order, both in
// pending, with the booking total mirroring the order amount.
func (s *Service) CreateIntent(ctx context.Context, payerID uuid.UUID, payload domain.CreateIntentPayload) (*domain.IntentResult, error) {
	// 1. Validate the monetary shape before touching the store.
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

	purpose := strings.ToLower(strings.TrimSpace(payload.Purpose))
	switch purpose {
	case domain.OrderPurposeBeat, domain.OrderPurposeBooking, domain.OrderPurposeOther:
	default:
		return nil, &ValidationError{Field: "purpose", Reason: "must be one of beat, booking, other"}
	}

	// 2. Validate the session details for booking purchases.
	var (
		sessionDate time.Time
		producerID  *uuid.UUID
	)
	if purpose == domain.OrderPurposeBooking {
		if strings.TrimSpace(payload.SessionKind) == "" {
			return nil, &ValidationError{Field: "session_kind", Reason: "is required for bookings"}
		}
		parsed, err := time.Parse("2006-01-02", payload.SessionDate)
		if err != nil {
			return nil, &ValidationError{Field: "session_date", Reason: "must be YYYY-MM-DD"}
		}
		today := time.Now().Truncate(24 * time.Hour)
		if !parsed.After(today) {
			return nil, &ValidationError{Field: "session_date", Reason: "must be in the future"}
		}
		sessionDate = parsed
		if payload.DurationMin <= 0 {
			return nil, &ValidationError{Field: "duration_minutes", Reason: "must be greater than zero"}
		}
		if payload.ProducerID != nil && strings.TrimSpace(*payload.ProducerID) != "" {
			id, err := uuid.Parse(*payload.ProducerID)
			if err != nil {
				return nil, &ValidationError{Field: "producer_id", Reason: "must be a valid UUID"}
			}
			producerID = &id
		}
	}

	// 3. Persist the order first. If the booking insert below fails the order
	// stays pending, which is safe: nothing downstream acts on a pending order.
	order := &domain.Order{
		PayerID:  payerID,
		Amount:   payload.Amount,
		Currency: currency,
		Purpose:  purpose,
		Status:   domain.OrderStatusPending,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := &domain.IntentResult{Order: order}

	// 4. Create the session booking for booking purchases.
	if purpose == domain.OrderPurposeBooking {
		booking := &domain.Booking{
			OrderID:     &order.ID,
			ClientID:    payerID,
			ProducerID:  producerID,
			SessionKind: strings.TrimSpace(payload.SessionKind),
			SessionDate: sessionDate,
			StartTime:   strings.TrimSpace(payload.StartTime),
			DurationMin: payload.DurationMin,
			TotalPrice:  payload.Amount,
			Status:      domain.BookingStatusPending,
			Notes:       strings.TrimSpace(payload.Notes),
		}
		if err := s.repo.CreateBooking(ctx, booking); err != nil {
			log.Printf("level=error component=service op=create_intent order_id=%s msg=\"order created but booking insert failed\" err=%v", order.ID, err)
			return nil, fmt.Errorf("failed to create booking: %w", err)
		}
		result.Booking = booking
	}

	log.Printf("level=info component=service op=create_intent order_id=%s payer_id=%s purpose=%s amount=%d currency=%s", order.ID, payerID, purpose, payload.Amount, currency)
	return result, nil
}

// GetOrder returns the order with its booking, when one exists.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.IntentResult, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	result := &domain.IntentResult{Order: order}
	booking, err := s.repo.FindBookingByOrderID(ctx, orderID)
	if err == nil {
		result.Booking = booking
	} else if !errors.Is(err, store.ErrBookingNotFound) {
		return nil, err
	}
	return result, nil
}

// GetBooking returns a single booking.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.repo.FindBookingByID(ctx, bookingID)
}

// ListOrders returns the payer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListOrdersByPayer(ctx, payerID, limit, offset)
}

// BeginGatewayPayment initiates an STK push charge for the order. The order
// moves to awaiting_payment and an attempt row keyed by the gateway's
// CheckoutRequestID is created. At most one attempt per order may be awaiting
// confirmation at a time.
func (s *Service) BeginGatewayPayment(ctx context.Context, orderID uuid.UUID, payload domain.StkPushPayload) (*domain.PaymentAttempt, error) {
	// 1. Normalize the phone number up front so the caller gets a clean
	// validation error before any state changes.
	phone, err := darajaclient.NormalizePhoneNumber(payload.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhoneNumber, payload.PhoneNumber)
	}

	// 2. The order must be payable.
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusAwaitingPayment {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, order.Status)
	}

	// 3. Reject while a previous attempt is still in flight. The customer
	// should poll that attempt or let it time out first.
	if existing, err := s.repo.FindAwaitingAttemptByOrderID(ctx, orderID); err == nil {
		log.Printf("level=warn component=service op=begin_gateway_payment order_id=%s correlation_id=%s msg=\"attempt already in flight\"", orderID, existing.CorrelationID)
		return nil, ErrConcurrentAttemptExists
	} else if !errors.Is(err, store.ErrAttemptNotFound) {
		return nil, err
	}

	// 4. Throttle per phone number.
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "stk_push", phone, s.cfg.StkPushLimitPerWindow, s.cfg.StkPushLimitWindow)
		if err != nil {
			// A broken limiter must not block payments.
			log.Printf("level=warn component=service op=begin_gateway_payment order_id=%s msg=\"rate limiter unavailable, allowing\" err=%v", orderID, err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	// 5. Refuse before mutating anything when no gateway is configured.
	if !s.gateway.Configured() {
		return nil, ErrGatewayUnavailable
	}

	// 6. Move the order to awaiting_payment. A conflict means a concurrent
	// call raced us into a different state; retry once with a fresh read
	// before reporting.
	payable := []string{domain.OrderStatusPending, domain.OrderStatusAwaitingPayment}
	order, err = s.repo.TransitionOrderStatus(ctx, orderID, payable, domain.OrderStatusAwaitingPayment, nil)
	if err != nil {
		if !errors.Is(err, store.ErrStatusConflict) {
			return nil, err
		}
		current, findErr := s.repo.FindOrderByID(ctx, orderID)
		if findErr != nil {
			return nil, findErr
		}
		if current.Status != domain.OrderStatusPending && current.Status != domain.OrderStatusAwaitingPayment {
			return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, current.Status)
		}
		order, err = s.repo.TransitionOrderStatus(ctx, orderID, payable, domain.OrderStatusAwaitingPayment, nil)
		if err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return nil, ErrConcurrentAttemptExists
			}
			return nil, err
		}
	}

	// 7. Fire the STK push. On synchronous failure the order stays in
	// awaiting_payment, from which the manual path and timeout remain open.
	resp, err := s.gateway.InitiateSTKPush(ctx, order.Amount, phone,
		shortRef(order.ID), "SautiHub "+order.Purpose+" purchase")
	if err != nil {
		var rejection *darajaclient.RejectionError
		if errors.As(err, &rejection) {
			log.Printf("level=warn component=service op=begin_gateway_payment order_id=%s error_code=%s msg=\"gateway rejected initiation\"", orderID, rejection.ErrorCode)
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, rejection.ErrorMessage)
		}
		if errors.Is(err, darajaclient.ErrNotConfigured) {
			return nil, ErrGatewayUnavailable
		}
		log.Printf("level=error component=service op=begin_gateway_payment order_id=%s msg=\"gateway initiation failed\" err=%v", orderID, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	// 8. Record the attempt keyed by the gateway correlation id.
	attempt := &domain.PaymentAttempt{
		OrderID:       order.ID,
		CorrelationID: resp.CheckoutRequestID,
		Amount:        order.Amount,
		Currency:      order.Currency,
		PhoneNumber:   phone,
		Status:        domain.AttemptStatusAwaitingConfirmation,
	}
	if err := s.repo.CreatePaymentAttempt(ctx, attempt); err != nil {
		// The charge is in flight but we lost the correlation. The timeout
		// sweep will fail the order; the customer can retry or go manual.
		log.Printf("level=error component=service op=begin_gateway_payment order_id=%s correlation_id=%s msg=\"attempt insert failed after initiation\" err=%v", orderID, resp.CheckoutRequestID, err)
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	log.Printf("level=info component=service op=begin_gateway_payment order_id=%s correlation_id=%s msg=\"stk push initiated\"", orderID, attempt.CorrelationID)
	return attempt, nil
}

// RecordGatewayCallback applies the gateway's asynchronous verdict to the
// attempt and drives the order to its terminal state. Safe to call more than
// once per correlation id; only the first terminal write wins.
func (s *Service) RecordGatewayCallback(ctx context.Context, result domain.GatewayCallbackResult) error {
	status := domain.AttemptStatusCompleted
	if result.ResultCode != 0 {
		status = domain.AttemptStatusFailed
	}

	// 1. Write the verdict onto the attempt. A conflict means the attempt is
	// already terminal (earlier callback or timeout sweep won).
	attempt, err := s.repo.RecordAttemptOutcome(ctx, result.CorrelationID, status, result.ResultCode, result.ResultDescription)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			existing, findErr := s.repo.FindPaymentAttemptByCorrelationID(ctx, result.CorrelationID)
			if findErr != nil {
				return findErr
			}
			if existing.Status == domain.AttemptStatusFailed && status == domain.AttemptStatusCompleted {
				// Late success after a local timeout. The failed outcome has
				// already been surfaced; do not resurrect the order.
				log.Printf("level=warn component=service op=record_gateway_callback correlation_id=%s msg=\"duplicate settlement attempt ignored, attempt already failed\"", result.CorrelationID)
				return nil
			}
			log.Printf("level=info component=service op=record_gateway_callback correlation_id=%s msg=\"callback replay ignored, attempt already %s\"", result.CorrelationID, existing.Status)
			return nil
		}
		return err
	}

	// 2. Drive the order.
	if status == domain.AttemptStatusCompleted {
		return s.settle(ctx, attempt.OrderID, "gateway")
	}
	reason := result.ResultDescription
	if reason == "" {
		reason = fmt.Sprintf("gateway result code %d", result.ResultCode)
	}
	return s.failOrder(ctx, attempt.OrderID, reason, gatewayFailableStatuses)
}

// PollGatewayOutcome reads the current state of an attempt. When the attempt
// carries a terminal verdict but settlement did not finish (a crash between
// the attempt write and the order update), polling completes it.
func (s *Service) PollGatewayOutcome(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	attempt, err := s.repo.FindPaymentAttemptByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	switch attempt.Status {
	case domain.AttemptStatusCompleted:
		if err := s.settle(ctx, attempt.OrderID, "gateway"); err != nil {
			return nil, err
		}
	case domain.AttemptStatusFailed:
		reason := "payment attempt failed"
		if attempt.ResultDescription != nil && *attempt.ResultDescription != "" {
			reason = *attempt.ResultDescription
		}
		if err := s.failOrder(ctx, attempt.OrderID, reason, gatewayFailableStatuses); err != nil {
			return nil, err
		}
	}
	return attempt, nil
}

// TimeoutGatewayPayment fails an order whose gateway confirmation never
// arrived. Idempotent: an order already terminal is left untouched.
func (s *Service) TimeoutGatewayPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	reason := "gateway confirmation timed out"

	// 1. Sweep any in-flight attempts first so a late callback cannot claim a
	// completed verdict against them.
	if n, err := s.repo.FailAwaitingAttempts(ctx, orderID, reason); err != nil {
		return nil, err
	} else if n > 0 {
		log.Printf("level=info component=service op=timeout_gateway_payment order_id=%s swept_attempts=%d", orderID, n)
	}

	// 2. Fail the order only if it is still waiting.
	order, err := s.repo.TransitionOrderStatus(ctx, orderID,
		[]string{domain.OrderStatusAwaitingPayment}, domain.OrderStatusFailed, &reason)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, findErr := s.repo.FindOrderByID(ctx, orderID)
			if findErr != nil {
				return nil, findErr
			}
			log.Printf("level=info component=service op=timeout_gateway_payment order_id=%s msg=\"timeout no-op, order already %s\"", orderID, current.Status)
			return current, nil
		}
		return nil, err
	}

	s.publish(ctx, rabbitmq.RoutingKeyPaymentFailed, domain.PaymentFailedEvent{
		OrderID:   order.ID,
		PayerID:   order.PayerID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	return order, nil
}

// settle marks the order paid, confirms its booking, and allocates producer
// earnings. First writer wins: when another path already moved the order to a
// terminal status the call degrades to a logged no-op.
func (s *Service) settle(ctx context.Context, orderID uuid.UUID, path string) error {
	// 1. Claim the order.
	order, err := s.repo.TransitionOrderStatus(ctx, orderID,
		[]string{domain.OrderStatusPending, domain.OrderStatusAwaitingPayment, domain.OrderStatusManualReview},
		domain.OrderStatusPaid, nil)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, findErr := s.repo.FindOrderByID(ctx, orderID)
			if findErr != nil {
				return findErr
			}
			if current.Status == domain.OrderStatusPaid {
				// The other path settled first. Finishing the booking and
				// earnings below keeps the call idempotent after a crash.
				log.Printf("level=warn component=service op=settle order_id=%s path=%s msg=\"duplicate settlement attempt, order already paid\"", orderID, path)
				order = current
			} else {
				log.Printf("level=warn component=service op=settle order_id=%s path=%s msg=\"settlement skipped, order is %s\"", orderID, path, current.Status)
				return nil
			}
		} else {
			return err
		}
	}

	// 2. Confirm the booking, when one exists.
	booking, err := s.repo.FindBookingByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrBookingNotFound) {
		return err
	}
	var bookingID *uuid.UUID
	if booking != nil {
		bookingID = &booking.ID
		allocate := true
		if _, err := s.repo.TransitionBookingStatus(ctx, booking.ID,
			[]string{domain.BookingStatusPending}, domain.BookingStatusConfirmed); err != nil {
			if !errors.Is(err, store.ErrStatusConflict) {
				return err
			}
			// Already confirmed is a replay and settles on; anything else
			// (cancelled out of band) earns the producer nothing.
			current, findErr := s.repo.FindBookingByID(ctx, booking.ID)
			if findErr != nil {
				return findErr
			}
			if current.Status != domain.BookingStatusConfirmed {
				log.Printf("level=warn component=service op=settle order_id=%s booking_id=%s msg=\"earnings skipped, booking is %s\"", orderID, booking.ID, current.Status)
				allocate = false
			}
		} else {
			s.publish(ctx, rabbitmq.RoutingKeyBookingSettled, domain.BookingSettledEvent{
				BookingID:  booking.ID,
				OrderID:    order.ID,
				ClientID:   booking.ClientID,
				ProducerID: booking.ProducerID,
				Timestamp:  time.Now(),
			})
		}

		// 3. Allocate the producer's share.
		if allocate {
			if err := s.allocateEarnings(ctx, booking); err != nil {
				return err
			}
		}
	}

	// 4. Announce the settlement.
	s.publish(ctx, rabbitmq.RoutingKeyPaymentConfirmed, domain.PaymentConfirmedEvent{
		OrderID:   order.ID,
		BookingID: bookingID,
		PayerID:   order.PayerID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Path:      path,
		Timestamp: time.Now(),
	})
	log.Printf("level=info component=service op=settle order_id=%s path=%s msg=\"order settled\"", orderID, path)
	return nil
}

// Statuses a failure verdict may move an order from. A gateway verdict must
// not unseat an order parked for human review; only a reviewer's rejection
// covers manual_review.
var (
	gatewayFailableStatuses = []string{domain.OrderStatusPending, domain.OrderStatusAwaitingPayment}
	reviewFailableStatuses  = []string{domain.OrderStatusPending, domain.OrderStatusAwaitingPayment, domain.OrderStatusManualReview}
)

// failOrder moves the order to failed unless it left the from set.
func (s *Service) failOrder(ctx context.Context, orderID uuid.UUID, reason string, from []string) error {
	order, err := s.repo.TransitionOrderStatus(ctx, orderID, from, domain.OrderStatusFailed, &reason)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, findErr := s.repo.FindOrderByID(ctx, orderID)
			if findErr != nil {
				return findErr
			}
			log.Printf("level=info component=service op=fail_order order_id=%s msg=\"failure no-op, order already %s\"", orderID, current.Status)
			return nil
		}
		return err
	}

	s.publish(ctx, rabbitmq.RoutingKeyPaymentFailed, domain.PaymentFailedEvent{
		OrderID:   order.ID,
		PayerID:   order.PayerID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	log.Printf("level=info component=service op=fail_order order_id=%s reason=%q", orderID, reason)
	return nil
}

// publish sends a transition event when a publisher is wired. Failures are
// logged and swallowed; events never gate a payment outcome.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, rabbitmq.PaymentEventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service op=publish routing_key=%s msg=\"event publish failed\" err=%v", routingKey, err)
	}
}

// shortRef builds the account reference shown on the customer's STK prompt.
// Daraja caps it at 12 characters.
func shortRef(orderID uuid.UUID) string {
	raw := strings.ReplaceAll(orderID.String(), "-", "")
	if len(raw) > 12 {
		raw = raw[:12]
	}
	return strings.ToUpper(raw)
}
