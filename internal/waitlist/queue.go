// Package waitlist keeps a dense, ordered queue of users waiting for seats on
// a sold-out event. Positions per event are always 1..N.
package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
)

var (
	ErrSeatsAvailable = apperr.Conflict("seats_available", "event still has seats, buy a ticket instead")
	ErrAlreadyJoined  = apperr.Conflict("already_joined", "user is already on the waitlist")
	ErrNotOnWaitlist  = apperr.NotFound("not_on_waitlist", "user is not on the waitlist")
)

type DBLayer interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	LockQueue(ctx context.Context, tx bun.IDB, eventID string) (int, error)
	AdjustLength(ctx context.Context, tx bun.IDB, eventID string, delta int) error
	QueueLength(ctx context.Context, eventID string) (int, error)
	Entry(ctx context.Context, tx bun.IDB, eventID, userID string) (*models.WaitlistEntry, error)
	InsertEntry(ctx context.Context, tx bun.IDB, e *models.WaitlistEntry) error
	DeleteEntry(ctx context.Context, tx bun.IDB, id string) error
	CloseGap(ctx context.Context, tx bun.IDB, eventID string, position int) error
	NextWaiting(ctx context.Context, tx bun.IDB, eventID string) (*models.WaitlistEntry, error)
	OutstandingOffers(ctx context.Context, tx bun.IDB, eventID string, now time.Time) (int, error)
	MarkNotified(ctx context.Context, tx bun.IDB, id string, at, expiresAt time.Time) (bool, error)
	Entries(ctx context.Context, eventID string) ([]models.WaitlistEntry, error)
	ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.WaitlistEntry, error)
}

type EventLookup interface {
	EventTx(ctx context.Context, tx bun.IDB, eventID string) (inventory.EventView, error)
}

type Queue struct {
	DB           DBLayer
	Events       EventLookup
	logger       *logger.Logger
	notifyWindow time.Duration
	now          func() time.Time
}

func NewQueue(db DBLayer, events EventLookup, log *logger.Logger, notifyWindow time.Duration) *Queue {
	if notifyWindow <= 0 {
		notifyWindow = 30 * time.Minute
	}
	return &Queue{
		DB:           db,
		Events:       events,
		logger:       log,
		notifyWindow: notifyWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type promotionNotice struct {
	EntryID   string    `json:"entry_id"`
	Position  int       `json:"position"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Join appends userID to the event's waitlist and returns its position.
// Only sold-out events accept joins.
func (q *Queue) Join(ctx context.Context, eventID, userID string) (int, error) {
	var position int
	err := q.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		ev, err := q.Events.EventTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !ev.StartsAt.After(q.now()) {
			return inventory.ErrEventPast
		}
		if ev.AvailableSeats > 0 {
			return ErrSeatsAvailable
		}

		length, err := q.DB.LockQueue(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("lock waitlist %s: %w", eventID, err)
		}
		if _, err := q.DB.Entry(ctx, tx, eventID, userID); err == nil {
			return ErrAlreadyJoined
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check waitlist entry: %w", err)
		}

		position = length + 1
		entry := &models.WaitlistEntry{
			ID:        uuid.New().String(),
			EventID:   eventID,
			UserID:    userID,
			Position:  position,
			CreatedAt: q.now(),
		}
		if err := q.DB.InsertEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert waitlist entry: %w", err)
		}
		return q.DB.AdjustLength(ctx, tx, eventID, 1)
	})
	metrics.WaitlistOperations.WithLabelValues("join", metrics.Outcome(err, apperr.CodeOf(err))).Inc()
	if err != nil {
		return 0, err
	}
	q.logger.Info("WAITLIST", fmt.Sprintf("%s joined %s at position %d", userID, eventID, position))
	return position, nil
}

// Leave removes userID and moves everyone behind it up one place.
func (q *Queue) Leave(ctx context.Context, eventID, userID string) error {
	err := q.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		if _, err := q.DB.LockQueue(ctx, tx, eventID); err != nil {
			return fmt.Errorf("lock waitlist %s: %w", eventID, err)
		}
		entry, err := q.DB.Entry(ctx, tx, eventID, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotOnWaitlist
		}
		if err != nil {
			return fmt.Errorf("load waitlist entry: %w", err)
		}
		return q.removeTx(ctx, tx, entry)
	})
	metrics.WaitlistOperations.WithLabelValues("leave", metrics.Outcome(err, apperr.CodeOf(err))).Inc()
	if err != nil {
		return err
	}
	q.logger.Info("WAITLIST", fmt.Sprintf("%s left %s", userID, eventID))
	return nil
}

// removeTx deletes entry and closes the gap. The queue row must be locked.
func (q *Queue) removeTx(ctx context.Context, tx bun.IDB, entry *models.WaitlistEntry) error {
	if err := q.DB.DeleteEntry(ctx, tx, entry.ID); err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	if err := q.DB.CloseGap(ctx, tx, entry.EventID, entry.Position); err != nil {
		return fmt.Errorf("renumber waitlist: %w", err)
	}
	return q.DB.AdjustLength(ctx, tx, entry.EventID, -1)
}

// Promote notifies the front-most waiting user. It returns nil when nobody is
// waiting. Promotion is advisory: the user still has to buy a ticket.
func (q *Queue) Promote(ctx context.Context, eventID string) (*models.WaitlistEntry, error) {
	var promoted *models.WaitlistEntry
	err := q.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		promoted, err = q.PromoteTx(ctx, tx, eventID)
		return err
	})
	return promoted, err
}

func (q *Queue) PromoteTx(ctx context.Context, tx bun.IDB, eventID string) (*models.WaitlistEntry, error) {
	if _, err := q.DB.LockQueue(ctx, tx, eventID); err != nil {
		return nil, fmt.Errorf("lock waitlist %s: %w", eventID, err)
	}
	next, err := q.DB.NextWaiting(ctx, tx, eventID)
	if err != nil {
		return nil, fmt.Errorf("find next waiting: %w", err)
	}
	if next == nil {
		return nil, nil
	}

	now := q.now()
	expires := now.Add(q.notifyWindow)
	ok, err := q.DB.MarkNotified(ctx, tx, next.ID, now, expires)
	if err != nil {
		return nil, fmt.Errorf("mark notified: %w", err)
	}
	if !ok {
		return nil, nil
	}
	next.NotifiedAt = &now
	next.ExpiresAt = &expires

	notice := promotionNotice{EntryID: next.ID, Position: next.Position, ExpiresAt: expires}
	if err := outbox.Append(ctx, tx, outbox.TopicWaitlistPromoted, next.ID, eventID, next.UserID, notice); err != nil {
		return nil, err
	}
	metrics.WaitlistOperations.WithLabelValues("promote", "ok").Inc()
	q.logger.Info("WAITLIST", fmt.Sprintf("promoted %s on %s (position %d)", next.UserID, eventID, next.Position))
	return next, nil
}

// SeatsRestored promotes one waiting user per available seat that is not
// already covered by an open offer.
func (q *Queue) SeatsRestored(ctx context.Context, tx bun.IDB, eventID string) error {
	ev, err := q.Events.EventTx(ctx, tx, eventID)
	if err != nil {
		return err
	}
	open, err := q.DB.OutstandingOffers(ctx, tx, eventID, q.now())
	if err != nil {
		return fmt.Errorf("count open offers: %w", err)
	}
	for i := open; i < ev.AvailableSeats; i++ {
		promoted, err := q.PromoteTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if promoted == nil {
			break
		}
	}
	return nil
}

func (q *Queue) Position(ctx context.Context, eventID, userID string) (*models.WaitlistEntry, error) {
	entry, err := q.DB.Entry(ctx, nil, eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotOnWaitlist
	}
	if err != nil {
		return nil, fmt.Errorf("load waitlist entry: %w", err)
	}
	return entry, nil
}

func (q *Queue) List(ctx context.Context, eventID string) ([]models.WaitlistEntry, error) {
	entries, err := q.DB.Entries(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist %s: %w", eventID, err)
	}
	return entries, nil
}

func (q *Queue) Length(ctx context.Context, eventID string) (int, error) {
	return q.DB.QueueLength(ctx, eventID)
}
