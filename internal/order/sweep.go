package order

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
)

const expiredReason = "payment window expired"

// ExpireStale cancels pending orders older than the pending TTL. Pending
// orders hold no seats, so no inventory changes.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.PendingTTL)
	ids, err := s.DB.StalePendingOrders(ctx, cutoff, 200)
	if err != nil {
		return 0, fmt.Errorf("find stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		cancelled := false
		err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
			o, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			ok, err := s.DB.MarkCancelled(ctx, tx, id, models.OrderStatusPending, expiredReason, s.now())
			if err != nil || !ok {
				return err
			}
			cancelled = true
			notice := orderNotice{OrderID: id, Quantity: o.Quantity, Total: o.TotalPrice, Reason: expiredReason}
			return outbox.Append(ctx, tx, outbox.TopicOrderCancelled, id, o.EventID, o.UserID, notice)
		})
		if err != nil {
			return expired, fmt.Errorf("expire order %s: %w", id, err)
		}
		if cancelled {
			expired++
		}
	}
	if expired > 0 {
		metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusPending), string(models.OrderStatusCancelled)).Add(float64(expired))
		s.logger.LogProcess("ORDER_SWEEP", fmt.Sprintf("expired %d pending orders", expired))
	}
	return expired, nil
}

// RunExpirySweep calls ExpireStale every interval until ctx is cancelled.
func (s *OrderService) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("ORDER_SWEEP", err.Error())
			}
		}
	}
}
