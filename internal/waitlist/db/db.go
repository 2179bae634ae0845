package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// RunInTx runs fn in one transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// LockQueue creates the event's queue row if missing and touches it, which
// holds the row lock until tx ends. Every position change goes through it.
func (d *DB) LockQueue(ctx context.Context, tx bun.IDB, eventID string) (int, error) {
	q := &models.WaitlistQueue{EventID: eventID, UpdatedAt: time.Now().UTC()}
	_, err := tx.NewInsert().
		Model(q).
		On("CONFLICT (event_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	var length int
	err = tx.NewSelect().
		Model((*models.WaitlistQueue)(nil)).
		Column("length").
		Where("event_id = ?", eventID).
		Scan(ctx, &length)
	return length, err
}

func (d *DB) AdjustLength(ctx context.Context, tx bun.IDB, eventID string, delta int) error {
	_, err := tx.NewUpdate().
		Model((*models.WaitlistQueue)(nil)).
		Set("length = length + ?", delta).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// QueueLength reads the length without locking. Missing queues are empty.
func (d *DB) QueueLength(ctx context.Context, eventID string) (int, error) {
	var lengths []int
	err := d.Bun.NewSelect().
		Model((*models.WaitlistQueue)(nil)).
		Column("length").
		Where("event_id = ?", eventID).
		Scan(ctx, &lengths)
	if err != nil || len(lengths) == 0 {
		return 0, err
	}
	return lengths[0], nil
}

// Entry fetches a user's entry. tx may be nil.
func (d *DB) Entry(ctx context.Context, tx bun.IDB, eventID, userID string) (*models.WaitlistEntry, error) {
	if tx == nil {
		tx = d.Bun
	}
	var e models.WaitlistEntry
	err := tx.NewSelect().
		Model(&e).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *DB) InsertEntry(ctx context.Context, tx bun.IDB, e *models.WaitlistEntry) error {
	_, err := tx.NewInsert().Model(e).Exec(ctx)
	return err
}

func (d *DB) DeleteEntry(ctx context.Context, tx bun.IDB, id string) error {
	_, err := tx.NewDelete().
		Model((*models.WaitlistEntry)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// CloseGap moves every entry behind position up by one.
func (d *DB) CloseGap(ctx context.Context, tx bun.IDB, eventID string, position int) error {
	_, err := tx.NewUpdate().
		Model((*models.WaitlistEntry)(nil)).
		Set("position = position - 1").
		Where("event_id = ?", eventID).
		Where("position > ?", position).
		Exec(ctx)
	return err
}

// NextWaiting returns the front-most entry not yet notified, or nil.
func (d *DB) NextWaiting(ctx context.Context, tx bun.IDB, eventID string) (*models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := tx.NewSelect().
		Model(&entries).
		Where("event_id = ?", eventID).
		Where("notified_at IS NULL").
		Order("position ASC").
		Limit(1).
		Scan(ctx)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// OutstandingOffers counts notified entries whose window is still open.
func (d *DB) OutstandingOffers(ctx context.Context, tx bun.IDB, eventID string, now time.Time) (int, error) {
	return tx.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("event_id = ?", eventID).
		Where("notified_at IS NOT NULL").
		Where("expires_at > ?", now).
		Count(ctx)
}

func (d *DB) MarkNotified(ctx context.Context, tx bun.IDB, id string, at, expiresAt time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.WaitlistEntry)(nil)).
		Set("notified_at = ?", at).
		Set("expires_at = ?", expiresAt).
		Where("id = ?", id).
		Where("notified_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *DB) Entries(ctx context.Context, eventID string) ([]models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("event_id = ?", eventID).
		Order("position ASC").
		Scan(ctx)
	return entries, err
}

// ExpiredOffers returns notified entries whose window closed before now.
func (d *DB) ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("notified_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	return entries, err
}
