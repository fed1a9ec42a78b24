package app

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
	"github.com/sautihub/payment-service/pkg/rabbitmq"
)

type publisherStub struct {
	routingKeys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) count(routingKey string) int {
	n := 0
	for _, k := range p.routingKeys {
		if k == routingKey {
			n++
		}
	}
	return n
}

type settleRepoStub struct {
	store.Repository

	order   *domain.Order
	booking *domain.Booking

	commissionRate  float64
	earningsExists  bool
	createdEarnings *domain.EarningsRecord
	allocations     int
}

func (s *settleRepoStub) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if s.order == nil {
		return nil, store.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *settleRepoStub) TransitionOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, to string, failureReason *string) (*domain.Order, error) {
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

func (s *settleRepoStub) FindBookingByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Booking, error) {
	if s.booking == nil {
		return nil, store.ErrBookingNotFound
	}
	return s.booking, nil
}

func (s *settleRepoStub) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	if s.booking == nil {
		return nil, store.ErrBookingNotFound
	}
	return s.booking, nil
}

func (s *settleRepoStub) TransitionBookingStatus(ctx context.Context, bookingID uuid.UUID, from []string, to string) (*domain.Booking, error) {
	for _, status := range from {
		if s.booking != nil && s.booking.Status == status {
			s.booking.Status = to
			return s.booking, nil
		}
	}
	return nil, store.ErrStatusConflict
}

func (s *settleRepoStub) FindProducerCommissionRate(ctx context.Context, producerID uuid.UUID) (float64, error) {
	if s.commissionRate == 0 {
		return 0, store.ErrProducerNotFound
	}
	return s.commissionRate, nil
}

func (s *settleRepoStub) FindEarningsByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.EarningsRecord, error) {
	if s.earningsExists && s.createdEarnings != nil {
		return s.createdEarnings, nil
	}
	return nil, store.ErrEarningsNotFound
}

func (s *settleRepoStub) CreateEarningsRecord(ctx context.Context, record *domain.EarningsRecord) (bool, error) {
	if s.earningsExists {
		return false, nil
	}
	record.ID = uuid.New()
	s.earningsExists = true
	s.createdEarnings = record
	s.allocations++
	return true, nil
}

func newSettleFixture(orderStatus string) (*settleRepoStub, *Service) {
	producerID := uuid.New()
	orderID := uuid.New()
	repo := &settleRepoStub{
		order: &domain.Order{
			ID:       orderID,
			PayerID:  uuid.New(),
			Amount:   400000,
			Currency: "KES",
			Purpose:  domain.OrderPurposeBooking,
			Status:   orderStatus,
		},
		booking: &domain.Booking{
			ID:         uuid.New(),
			OrderID:    &orderID,
			ClientID:   uuid.New(),
			ProducerID: &producerID,
			TotalPrice: 400000,
			Status:     domain.BookingStatusPending,
		},
		commissionRate: 85,
	}
	svc := NewService(repo, nil, nil, nil, Config{})
	return repo, svc
}

func TestSettle_ConfirmsBookingAndAllocatesEarnings(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusAwaitingPayment)

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %q", repo.order.Status)
	}
	if repo.booking.Status != domain.BookingStatusConfirmed {
		t.Fatalf("expected booking confirmed, got %q", repo.booking.Status)
	}
	if repo.createdEarnings == nil {
		t.Fatal("expected an earnings record to be created")
	}
	if repo.createdEarnings.NetAmount != 340000 || repo.createdEarnings.PlatformFee != 60000 {
		t.Fatalf("unexpected split: net=%d fee=%d", repo.createdEarnings.NetAmount, repo.createdEarnings.PlatformFee)
	}
	if repo.createdEarnings.NetAmount+repo.createdEarnings.PlatformFee != repo.createdEarnings.GrossAmount {
		t.Fatal("expected net and fee to sum to gross")
	}
}

func TestSettle_ReplayIsIdempotent(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusAwaitingPayment)

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	if err := svc.settle(context.Background(), repo.order.ID, "manual"); err != nil {
		t.Fatalf("expected replay to be a no-op, got %v", err)
	}
	if repo.allocations != 1 {
		t.Fatalf("expected exactly one allocation, got %d", repo.allocations)
	}
	if repo.order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid, got %q", repo.order.Status)
	}
}

func TestSettle_SkipsFailedOrder(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusFailed)

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusFailed {
		t.Fatalf("expected order to stay failed, got %q", repo.order.Status)
	}
	if repo.booking.Status != domain.BookingStatusPending {
		t.Fatalf("expected booking untouched, got %q", repo.booking.Status)
	}
	if repo.allocations != 0 {
		t.Fatalf("expected no allocation, got %d", repo.allocations)
	}
}

func TestSettle_RecoversAfterCrashBetweenOrderAndBooking(t *testing.T) {
	// Order already paid but booking and earnings never followed; settling
	// again finishes the routine.
	repo, svc := newSettleFixture(domain.OrderStatusPaid)

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.booking.Status != domain.BookingStatusConfirmed {
		t.Fatalf("expected booking confirmed, got %q", repo.booking.Status)
	}
	if repo.allocations != 1 {
		t.Fatalf("expected allocation to run, got %d", repo.allocations)
	}
}

func TestSettle_SkipsEarningsForCancelledBooking(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusAwaitingPayment)
	repo.booking.Status = domain.BookingStatusCancelled

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %q", repo.order.Status)
	}
	if repo.booking.Status != domain.BookingStatusCancelled {
		t.Fatalf("expected booking to stay cancelled, got %q", repo.booking.Status)
	}
	if repo.allocations != 0 {
		t.Fatalf("expected no allocation for a cancelled session, got %d", repo.allocations)
	}
}

func TestSettle_PublishesBookingSettledOnce(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusAwaitingPayment)
	pub := &publisherStub{}
	svc.events = pub

	if err := svc.settle(context.Background(), repo.order.ID, "gateway"); err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	if err := svc.settle(context.Background(), repo.order.ID, "manual"); err != nil {
		t.Fatalf("replay settle failed: %v", err)
	}
	if got := pub.count(rabbitmq.RoutingKeyBookingSettled); got != 1 {
		t.Fatalf("expected one booking.settled event, got %d", got)
	}
	if got := pub.count(rabbitmq.RoutingKeyPaymentConfirmed); got == 0 {
		t.Fatal("expected a payment.confirmed event")
	}
}

func TestFailOrder_IgnoresSettledOrder(t *testing.T) {
	repo, svc := newSettleFixture(domain.OrderStatusPaid)

	if err := svc.failOrder(context.Background(), repo.order.ID, "late failure", gatewayFailableStatuses); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid, got %q", repo.order.Status)
	}
	if repo.order.FailureReason != nil {
		t.Fatalf("expected no failure reason, got %q", *repo.order.FailureReason)
	}
}
