package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// errOfferGone marks an expired offer that was resolved before the sweep got
// to it: the user left, or left and joined again with a fresh entry.
var errOfferGone = errors.New("offer no longer pending")

// SweepExpired drops users whose offer window closed without a purchase and
// offers their place to the next user while the event still has seats.
func (q *Queue) SweepExpired(ctx context.Context) (int, error) {
	expired, err := q.DB.ExpiredOffers(ctx, q.now(), 200)
	if err != nil {
		return 0, fmt.Errorf("find expired offers: %w", err)
	}

	now := q.now()
	removed := 0
	for _, e := range expired {
		entry := e
		err := q.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
			if _, err := q.DB.LockQueue(ctx, tx, entry.EventID); err != nil {
				return err
			}
			current, err := q.DB.Entry(ctx, tx, entry.EventID, entry.UserID)
			if errors.Is(err, sql.ErrNoRows) {
				return errOfferGone
			}
			if err != nil {
				return err
			}
			if current.ID != entry.ID || current.ExpiresAt == nil || current.ExpiresAt.After(now) {
				return errOfferGone
			}
			if err := q.removeTx(ctx, tx, current); err != nil {
				return err
			}
			return q.SeatsRestored(ctx, tx, entry.EventID)
		})
		if errors.Is(err, errOfferGone) {
			continue
		}
		if err != nil {
			q.logger.Error("WAITLIST", fmt.Sprintf("expire offer %s: %v", entry.ID, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		q.logger.LogProcess("WAITLIST_SWEEP", fmt.Sprintf("removed %d expired offers", removed))
	}
	return removed, nil
}

// RunSweep calls SweepExpired every interval until ctx is cancelled.
func (q *Queue) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("WAITLIST_SWEEP", err.Error())
			}
		}
	}
}
