package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
	"github.com/sautihub/payment-service/pkg/darajaclient"
)

type gatewayRepoStub struct {
	store.Repository

	order           *domain.Order
	awaitingAttempt *domain.PaymentAttempt
	createdAttempt  *domain.PaymentAttempt

	attemptByCorrelation *domain.PaymentAttempt
	recordOutcomeErr     error
	sweptAttempts        int64
}

func (s *gatewayRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if s.order == nil {
		return nil, store.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *gatewayRepoStub) TransitionOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, to string, failureReason *string) (*domain.Order, error) {
	for _, status := range from {
		if s.order != nil && s.order.Status == status {
			s.order.Status = to
			if failureReason != nil {
				s.order.FailureReason = failureReason
			}
			return s.order, nil
		}
	}
	return nil, store.ErrStatusConflict
}

func (s *gatewayRepoStub) FindAwaitingAttemptByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentAttempt, error) {
	if s.awaitingAttempt == nil {
		return nil, store.ErrAttemptNotFound
	}
	return s.awaitingAttempt, nil
}

func (s *gatewayRepoStub) CreatePaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	attempt.ID = uuid.New()
	s.createdAttempt = attempt
	return nil
}

func (s *gatewayRepoStub) FindPaymentAttemptByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	if s.attemptByCorrelation == nil {
		return nil, store.ErrAttemptNotFound
	}
	return s.attemptByCorrelation, nil
}

func (s *gatewayRepoStub) RecordAttemptOutcome(ctx context.Context, correlationID string, status string, resultCode int, resultDescription string) (*domain.PaymentAttempt, error) {
	if s.recordOutcomeErr != nil {
		return nil, s.recordOutcomeErr
	}
	s.attemptByCorrelation.Status = status
	s.attemptByCorrelation.ResultCode = &resultCode
	s.attemptByCorrelation.ResultDescription = &resultDescription
	return s.attemptByCorrelation, nil
}

func (s *gatewayRepoStub) FailAwaitingAttempts(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	n := s.sweptAttempts
	s.sweptAttempts = 0
	return n, nil
}

func (s *gatewayRepoStub) FindBookingByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Booking, error) {
	return nil, store.ErrBookingNotFound
}

type gatewayStub struct {
	configured bool
	resp       *darajaclient.STKPushResponse
	err        error

	calls       int
	lastAmount  int64
	lastPhone   string
	lastAccount string
}

func (g *gatewayStub) Configured() bool { return g.configured }

func (g *gatewayStub) InitiateSTKPush(ctx context.Context, amount int64, phoneNumber, accountRef, description string) (*darajaclient.STKPushResponse, error) {
	g.calls++
	g.lastAmount = amount
	g.lastPhone = phoneNumber
	g.lastAccount = accountRef
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func pendingOrder(amount int64) *domain.Order {
	return &domain.Order{
		ID:       uuid.New(),
		PayerID:  uuid.New(),
		Amount:   amount,
		Currency: "KES",
		Purpose:  domain.OrderPurposeBooking,
		Status:   domain.OrderStatusPending,
	}
}

func TestBeginGatewayPayment_NormalizesPhoneAndCreatesAttempt(t *testing.T) {
	repo := &gatewayRepoStub{order: pendingOrder(400000)}
	gateway := &gatewayStub{
		configured: true,
		resp:       &darajaclient.STKPushResponse{CheckoutRequestID: "ws_CO_191220191020363925", ResponseCode: "0"},
	}
	svc := NewService(repo, gateway, nil, nil, Config{})

	attempt, err := svc.BeginGatewayPayment(context.Background(), repo.order.ID, domain.StkPushPayload{PhoneNumber: "0712345678"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempt.PhoneNumber != "254712345678" {
		t.Fatalf("expected normalized phone, got %q", attempt.PhoneNumber)
	}
	if attempt.CorrelationID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected correlation id %q", attempt.CorrelationID)
	}
	if attempt.Status != domain.AttemptStatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %q", attempt.Status)
	}
	if repo.order.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("expected order awaiting_payment, got %q", repo.order.Status)
	}
	if gateway.lastAmount != 400000 {
		t.Fatalf("expected gateway charged in cents, got %d", gateway.lastAmount)
	}
	if gateway.lastPhone != "254712345678" {
		t.Fatalf("expected gateway to receive normalized phone, got %q", gateway.lastPhone)
	}
}

func TestBeginGatewayPayment_RejectsInvalidPhone(t *testing.T) {
	repo := &gatewayRepoStub{order: pendingOrder(400000)}
	gateway := &gatewayStub{configured: true}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.BeginGatewayPayment(context.Background(), repo.order.ID, domain.StkPushPayload{PhoneNumber: "12345"})
	if !errors.Is(err, ErrInvalidPhoneNumber) {
		t.Fatalf("expected ErrInvalidPhoneNumber, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order untouched, got %q", repo.order.Status)
	}
	if gateway.calls != 0 {
		t.Fatal("did not expect the gateway to be called")
	}
}

func TestBeginGatewayPayment_RejectsWhileAttemptInFlight(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusAwaitingPayment
	repo := &gatewayRepoStub{
		order: order,
		awaitingAttempt: &domain.PaymentAttempt{
			OrderID:       order.ID,
			CorrelationID: "ws_CO_existing",
			Status:        domain.AttemptStatusAwaitingConfirmation,
		},
	}
	gateway := &gatewayStub{configured: true}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.BeginGatewayPayment(context.Background(), order.ID, domain.StkPushPayload{PhoneNumber: "0712345678"})
	if !errors.Is(err, ErrConcurrentAttemptExists) {
		t.Fatalf("expected ErrConcurrentAttemptExists, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("did not expect the gateway to be called")
	}
}

func TestBeginGatewayPayment_RejectsSettledOrder(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusPaid
	repo := &gatewayRepoStub{order: order}
	svc := NewService(repo, &gatewayStub{configured: true}, nil, nil, Config{})

	_, err := svc.BeginGatewayPayment(context.Background(), order.ID, domain.StkPushPayload{PhoneNumber: "0712345678"})
	if !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable, got %v", err)
	}
}

func TestBeginGatewayPayment_SurfacesGatewayRejection(t *testing.T) {
	repo := &gatewayRepoStub{order: pendingOrder(400000)}
	gateway := &gatewayStub{
		configured: true,
		err:        &darajaclient.RejectionError{ErrorCode: "500.001.1001", ErrorMessage: "Invalid shortcode"},
	}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.BeginGatewayPayment(context.Background(), repo.order.ID, domain.StkPushPayload{PhoneNumber: "0712345678"})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	if repo.createdAttempt != nil {
		t.Fatal("did not expect an attempt to be recorded")
	}
	// The manual path stays open from awaiting_payment.
	if repo.order.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("expected order awaiting_payment, got %q", repo.order.Status)
	}
}

func TestBeginGatewayPayment_UnconfiguredGateway(t *testing.T) {
	repo := &gatewayRepoStub{order: pendingOrder(400000)}
	svc := NewService(repo, &gatewayStub{configured: false}, nil, nil, Config{})

	_, err := svc.BeginGatewayPayment(context.Background(), repo.order.ID, domain.StkPushPayload{PhoneNumber: "0712345678"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order untouched, got %q", repo.order.Status)
	}
}

func TestRecordGatewayCallback_LateSuccessAfterTimeoutIsNoOp(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusFailed
	failedDesc := "gateway confirmation timed out"
	repo := &gatewayRepoStub{
		order:            order,
		recordOutcomeErr: store.ErrStatusConflict,
		attemptByCorrelation: &domain.PaymentAttempt{
			OrderID:           order.ID,
			CorrelationID:     "ws_CO_late",
			Status:            domain.AttemptStatusFailed,
			ResultDescription: &failedDesc,
		},
	}
	svc := NewService(repo, nil, nil, nil, Config{})

	err := svc.RecordGatewayCallback(context.Background(), domain.GatewayCallbackResult{
		CorrelationID: "ws_CO_late",
		ResultCode:    0,
	})
	if err != nil {
		t.Fatalf("expected late callback to be absorbed, got %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("expected order to stay failed, got %q", order.Status)
	}
}

func TestRecordGatewayCallback_FailureResultFailsOrder(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusAwaitingPayment
	repo := &gatewayRepoStub{
		order: order,
		attemptByCorrelation: &domain.PaymentAttempt{
			OrderID:       order.ID,
			CorrelationID: "ws_CO_cancel",
			Status:        domain.AttemptStatusAwaitingConfirmation,
		},
	}
	svc := NewService(repo, nil, nil, nil, Config{})

	err := svc.RecordGatewayCallback(context.Background(), domain.GatewayCallbackResult{
		CorrelationID:     "ws_CO_cancel",
		ResultCode:        1032,
		ResultDescription: "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("expected order failed, got %q", order.Status)
	}
	if order.FailureReason == nil || *order.FailureReason != "Request cancelled by user" {
		t.Fatalf("expected cancellation reason, got %v", order.FailureReason)
	}
	if repo.attemptByCorrelation.Status != domain.AttemptStatusFailed {
		t.Fatalf("expected attempt failed, got %q", repo.attemptByCorrelation.Status)
	}
}

func TestRecordGatewayCallback_FailureLeavesManualReviewOrder(t *testing.T) {
	// A manual claim parked the order while an STK attempt was still in
	// flight. The stale gateway failure may close the attempt but must not
	// pull the order out of review; the reviewer owns the verdict now.
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusManualReview
	repo := &gatewayRepoStub{
		order: order,
		attemptByCorrelation: &domain.PaymentAttempt{
			OrderID:       order.ID,
			CorrelationID: "ws_CO_stale",
			Status:        domain.AttemptStatusAwaitingConfirmation,
		},
	}
	svc := NewService(repo, nil, nil, nil, Config{})

	err := svc.RecordGatewayCallback(context.Background(), domain.GatewayCallbackResult{
		CorrelationID:     "ws_CO_stale",
		ResultCode:        1032,
		ResultDescription: "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.attemptByCorrelation.Status != domain.AttemptStatusFailed {
		t.Fatalf("expected attempt failed, got %q", repo.attemptByCorrelation.Status)
	}
	if order.Status != domain.OrderStatusManualReview {
		t.Fatalf("expected order to stay in manual_review, got %q", order.Status)
	}

	// The parked order still settles once the claim is verified.
	if err := svc.settle(context.Background(), order.ID, "manual"); err != nil {
		t.Fatalf("expected settle to succeed, got %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order paid after verification, got %q", order.Status)
	}
}

func TestTimeoutGatewayPayment_FailsAwaitingOrder(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusAwaitingPayment
	repo := &gatewayRepoStub{order: order, sweptAttempts: 1}
	svc := NewService(repo, nil, nil, nil, Config{})

	result, err := svc.TimeoutGatewayPayment(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.OrderStatusFailed {
		t.Fatalf("expected order failed, got %q", result.Status)
	}
	if result.FailureReason == nil || *result.FailureReason != "gateway confirmation timed out" {
		t.Fatalf("expected timeout reason, got %v", result.FailureReason)
	}
}

func TestTimeoutGatewayPayment_NoOpWhenAlreadyPaid(t *testing.T) {
	order := pendingOrder(400000)
	order.Status = domain.OrderStatusPaid
	repo := &gatewayRepoStub{order: order}
	svc := NewService(repo, nil, nil, nil, Config{})

	result, err := svc.TimeoutGatewayPayment(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid, got %q", result.Status)
	}
}
