package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
)

type intentRepoStub struct {
	store.Repository

	createdOrder   *domain.Order
	createdBooking *domain.Booking
	bookingErr     error
}

func (s *intentRepoStub) CreateOrder(ctx context.Context, order *domain.Order) error {
	order.ID = uuid.New()
	s.createdOrder = order
	return nil
}

func (s *intentRepoStub) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	if s.bookingErr != nil {
		return s.bookingErr
	}
	booking.ID = uuid.New()
	s.createdBooking = booking
	return nil
}

func tomorrow() string {
	return time.Now().AddDate(0, 0, 1).Format("2006-01-02")
}

func TestCreateIntent_BookingHappyPath(t *testing.T) {
	repo := &intentRepoStub{}
	svc := NewService(repo, nil, nil, nil, Config{})
	payerID := uuid.New()
	producerID := uuid.New().String()

	result, err := svc.CreateIntent(context.Background(), payerID, domain.CreateIntentPayload{
		Purpose:     "booking",
		Amount:      400000,
		Currency:    "kes",
		ProducerID:  &producerID,
		SessionKind: "recording",
		SessionDate: tomorrow(),
		StartTime:   "14:00",
		DurationMin: 120,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %q", result.Order.Status)
	}
	if result.Order.Currency != "KES" {
		t.Fatalf("expected uppercased currency, got %q", result.Order.Currency)
	}
	if result.Booking == nil {
		t.Fatal("expected a booking alongside the order")
	}
	if result.Booking.TotalPrice != result.Order.Amount {
		t.Fatalf("expected booking total to mirror the order amount, got %d vs %d", result.Booking.TotalPrice, result.Order.Amount)
	}
	if result.Booking.OrderID == nil || *result.Booking.OrderID != result.Order.ID {
		t.Fatal("expected the booking to reference the order")
	}
	if result.Booking.ProducerID == nil || result.Booking.ProducerID.String() != producerID {
		t.Fatal("expected the producer to be attached")
	}
}

func TestCreateIntent_BeatPurchaseSkipsBooking(t *testing.T) {
	repo := &intentRepoStub{}
	svc := NewService(repo, nil, nil, nil, Config{})

	result, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
		Purpose:  "beat",
		Amount:   150000,
		Currency: "KES",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Booking != nil {
		t.Fatal("did not expect a booking for a beat purchase")
	}
	if repo.createdBooking != nil {
		t.Fatal("did not expect a booking insert")
	}
}

func TestCreateIntent_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&intentRepoStub{}, nil, nil, nil, Config{})

	for _, amount := range []int64{0, -100} {
		_, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
			Purpose: "beat",
			Amount:  amount,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCreateIntent_RejectsUnsupportedCurrency(t *testing.T) {
	svc := NewService(&intentRepoStub{}, nil, nil, nil, Config{SupportedCurrencies: []string{"KES"}})

	_, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
		Purpose:  "beat",
		Amount:   1000,
		Currency: "USD",
	})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestCreateIntent_RejectsPastSessionDate(t *testing.T) {
	repo := &intentRepoStub{}
	svc := NewService(repo, nil, nil, nil, Config{})

	_, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
		Purpose:     "booking",
		Amount:      400000,
		SessionKind: "recording",
		SessionDate: "2020-01-01",
		DurationMin: 60,
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "session_date" {
		t.Fatalf("expected session_date validation error, got %v", err)
	}
	if repo.createdOrder != nil {
		t.Fatal("did not expect an order for an invalid intent")
	}
}

func TestCreateIntent_RejectsZeroDuration(t *testing.T) {
	svc := NewService(&intentRepoStub{}, nil, nil, nil, Config{})

	_, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
		Purpose:     "booking",
		Amount:      400000,
		SessionKind: "mixing",
		SessionDate: tomorrow(),
		DurationMin: 0,
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "duration_minutes" {
		t.Fatalf("expected duration validation error, got %v", err)
	}
}

func TestCreateIntent_RejectsUnknownPurpose(t *testing.T) {
	svc := NewService(&intentRepoStub{}, nil, nil, nil, Config{})

	_, err := svc.CreateIntent(context.Background(), uuid.New(), domain.CreateIntentPayload{
		Purpose: "subscription",
		Amount:  1000,
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "purpose" {
		t.Fatalf("expected purpose validation error, got %v", err)
	}
}
