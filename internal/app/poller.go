package app

import (
	"context"
	"log"
	"time"

	"github.com/sautihub/payment-service/internal/domain"
)

// AwaitGatewayOutcome polls an attempt until it reaches a terminal status or
// the configured deadline passes, at which point the order is timed out and
// the (now failed) attempt is returned. The poll budget is bounded; callers
// wanting a shorter wait cancel the context.
func (s *Service) AwaitGatewayOutcome(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	deadline := time.NewTimer(s.cfg.GatewayPollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.GatewayPollInterval)
	defer ticker.Stop()

	for {
		attempt, err := s.PollGatewayOutcome(ctx, correlationID)
		if err != nil {
			return nil, err
		}
		if attempt.Status == domain.AttemptStatusCompleted || attempt.Status == domain.AttemptStatusFailed {
			return attempt, nil
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-deadline.C:
			log.Printf("level=info component=service op=await_gateway_outcome correlation_id=%s msg=\"poll deadline reached, timing out order\"", correlationID)
			if _, err := s.TimeoutGatewayPayment(ctx, attempt.OrderID); err != nil {
				return nil, err
			}
			return s.PollGatewayOutcome(ctx, correlationID)
		case <-ticker.C:
		}
	}
}
