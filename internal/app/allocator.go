/**
 * @description
 * This file contains the earnings allocator. When a booking with a producer
 * settles, the allocator splits the booking's gross amount into the producer's
 * net share and the platform fee and persists exactly one earnings record per
 * booking. All arithmetic is integer math on cents; the commission rate is
 * converted to basis points so no floating-point value ever touches money.
 */

package app

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
	"github.com/sautihub/payment-service/pkg/rabbitmq"
)

// allocateEarnings creates the producer's earnings record for a settled
// booking. Bookings without a producer allocate nothing. Replays are absorbed
// by the store's per-booking uniqueness, so crashing between settlement and
// allocation is recoverable by settling again.
func (s *Service) allocateEarnings(ctx context.Context, booking *domain.Booking) error {
	if booking.ProducerID == nil {
		return nil
	}

	// Cheap replay check before the insert path; the store's per-booking
	// uniqueness is still the authority under concurrency.
	if _, err := s.repo.FindEarningsByBookingID(ctx, booking.ID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrEarningsNotFound) {
		return err
	}

	// 1. Snapshot the producer's current rate. A missing profile falls back
	// to the platform default rather than blocking settlement.
	rate, err := s.repo.FindProducerCommissionRate(ctx, *booking.ProducerID)
	if err != nil {
		if !errors.Is(err, store.ErrProducerNotFound) {
			return err
		}
		rate = s.cfg.DefaultCommissionRate
		log.Printf("level=warn component=service op=allocate_earnings booking_id=%s producer_id=%s msg=\"no commission profile, using default rate\" rate=%.2f", booking.ID, *booking.ProducerID, rate)
	}

	// 2. Split the gross amount.
	net, fee := splitEarnings(booking.TotalPrice, rate)

	record := &domain.EarningsRecord{
		BookingID:      booking.ID,
		ProducerID:     *booking.ProducerID,
		GrossAmount:    booking.TotalPrice,
		PlatformFee:    fee,
		CommissionRate: rate,
		NetAmount:      net,
		Status:         domain.EarningsStatusPending,
	}

	// 3. Insert unless an allocation already exists for this booking.
	inserted, err := s.repo.CreateEarningsRecord(ctx, record)
	if err != nil {
		return err
	}
	if !inserted {
		log.Printf("level=info component=service op=allocate_earnings booking_id=%s msg=\"allocation replay ignored, record exists\"", booking.ID)
		return nil
	}

	s.publish(ctx, rabbitmq.RoutingKeyEarningsAllocated, domain.EarningsAllocatedEvent{
		EarningsID: record.ID,
		BookingID:  record.BookingID,
		ProducerID: record.ProducerID,
		NetAmount:  record.NetAmount,
		Timestamp:  time.Now(),
	})
	log.Printf("level=info component=service op=allocate_earnings booking_id=%s producer_id=%s gross=%d net=%d fee=%d rate=%.2f", booking.ID, record.ProducerID, record.GrossAmount, record.NetAmount, record.PlatformFee, rate)
	return nil
}

// splitEarnings divides a gross amount in cents between the producer and the
// platform. ratePercent is the producer's share in percent with at most two
// decimal places; it is converted to integer basis points so the division
// rounds half up deterministically. fee + net always equals gross.
func splitEarnings(gross int64, ratePercent float64) (net, fee int64) {
	bps := int64(math.Round(ratePercent * 100))
	if bps < 0 {
		bps = 0
	}
	if bps > 10000 {
		bps = 10000
	}
	net = (gross*bps + 5000) / 10000
	fee = gross - net
	return net, fee
}
