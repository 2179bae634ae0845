// Package inventory owns the available seat count of every event. The event
// row type is unexported: Reserve, Release and Resize are the only writers of
// available_seats.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/metrics"
)

var (
	ErrEventNotFound     = apperr.NotFound("event_not_found", "event not found")
	ErrEventPast         = apperr.Conflict("event_past", "event has already started")
	ErrInsufficientSeats = apperr.Insufficient("insufficient_seats", "not enough seats available")
	ErrInvalidQuantity   = apperr.Invalid("invalid_quantity", "quantity must be positive")
	ErrInvalidCapacity   = apperr.Invalid("invalid_capacity", "capacity cannot drop below seats already held")
	ErrInvalidEvent      = apperr.Invalid("invalid_event", "event needs a title, a future start and a non-negative price")
	ErrContention        = apperr.Conflict("inventory_contention", "seat count changed concurrently, retry")
)

const defaultCASAttempts = 8

type eventRow struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID             string          `bun:"id,pk"`
	Title          string          `bun:"title,notnull"`
	StartsAt       time.Time       `bun:"starts_at,notnull"`
	Price          decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
	TotalSeats     int             `bun:"total_seats,notnull"`
	AvailableSeats int             `bun:"available_seats,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
}

// EventView is a read-only copy of an event row.
type EventView struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	StartsAt       time.Time       `json:"starts_at"`
	Price          decimal.Decimal `json:"price"`
	TotalSeats     int             `json:"total_seats"`
	AvailableSeats int             `json:"available_seats"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Held is the number of seats currently owned by paid orders.
func (e EventView) Held() int {
	return e.TotalSeats - e.AvailableSeats
}

func (r *eventRow) view() EventView {
	return EventView{
		ID:             r.ID,
		Title:          r.Title,
		StartsAt:       r.StartsAt,
		Price:          r.Price,
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.AvailableSeats,
		CreatedAt:      r.CreatedAt,
	}
}

type NewEvent struct {
	Title      string          `json:"title" validate:"required,max=200"`
	StartsAt   time.Time       `json:"starts_at" validate:"required"`
	Price      decimal.Decimal `json:"price"`
	TotalSeats int             `json:"total_seats" validate:"min=0"`
}

// SeatsRestoredHook is notified inside the releasing transaction when an
// event goes from zero available seats to at least one.
type SeatsRestoredHook interface {
	SeatsRestored(ctx context.Context, tx bun.IDB, eventID string) error
}

type Ledger struct {
	db          *bun.DB
	logger      *logger.Logger
	hooks       []SeatsRestoredHook
	now         func() time.Time
	casAttempts int
}

func NewLedger(db *bun.DB, log *logger.Logger) *Ledger {
	return &Ledger{
		db:          db,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
		casAttempts: defaultCASAttempts,
	}
}

// OnSeatsRestored registers a hook. Not safe to call once the ledger is serving.
func (l *Ledger) OnSeatsRestored(h SeatsRestoredHook) {
	l.hooks = append(l.hooks, h)
}

// TableModel exposes the event row model for schema creation.
func TableModel() interface{} {
	return (*eventRow)(nil)
}

func (l *Ledger) CreateEvent(ctx context.Context, in NewEvent) (EventView, error) {
	now := l.now()
	if in.Title == "" || !in.StartsAt.After(now) || in.Price.IsNegative() {
		return EventView{}, ErrInvalidEvent
	}
	if in.TotalSeats < 0 {
		return EventView{}, ErrInvalidCapacity
	}

	row := &eventRow{
		ID:             uuid.New().String(),
		Title:          in.Title,
		StartsAt:       in.StartsAt.UTC(),
		Price:          in.Price,
		TotalSeats:     in.TotalSeats,
		AvailableSeats: in.TotalSeats,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := l.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return EventView{}, fmt.Errorf("insert event: %w", err)
	}
	l.logger.LogInventory("CREATE", row.ID, fmt.Sprintf("%d seats", row.TotalSeats))
	return row.view(), nil
}

func (l *Ledger) Event(ctx context.Context, eventID string) (EventView, error) {
	return l.EventTx(ctx, l.db, eventID)
}

// EventTx reads the event inside tx. A nil tx reads outside any transaction.
func (l *Ledger) EventTx(ctx context.Context, tx bun.IDB, eventID string) (EventView, error) {
	if tx == nil {
		tx = l.db
	}
	row, err := l.load(ctx, tx, eventID)
	if err != nil {
		return EventView{}, err
	}
	return row.view(), nil
}

// ListUpcoming returns events that have not started, soonest first.
func (l *Ledger) ListUpcoming(ctx context.Context, limit int) ([]EventView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []eventRow
	err := l.db.NewSelect().
		Model(&rows).
		Where("starts_at > ?", l.now()).
		Order("starts_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]EventView, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].view())
	}
	return out, nil
}

func (l *Ledger) load(ctx context.Context, tx bun.IDB, eventID string) (*eventRow, error) {
	row := new(eventRow)
	err := tx.NewSelect().Model(row).Where("id = ?", eventID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	return row, nil
}

func (l *Ledger) Reserve(ctx context.Context, eventID string, qty int) error {
	return l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.ReserveTx(ctx, tx, eventID, qty)
	})
}

// ReserveTx decrements available seats with one conditional update, so two
// concurrent reservations can never both take the last seats.
func (l *Ledger) ReserveTx(ctx context.Context, tx bun.IDB, eventID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	row, err := l.load(ctx, tx, eventID)
	if err != nil {
		metrics.SeatOperations.WithLabelValues("reserve", apperr.CodeOf(err)).Inc()
		return err
	}
	now := l.now()
	if !row.StartsAt.After(now) {
		metrics.SeatOperations.WithLabelValues("reserve", ErrEventPast.Code).Inc()
		return ErrEventPast
	}

	res, err := tx.NewUpdate().
		Model((*eventRow)(nil)).
		Set("available_seats = available_seats - ?", qty).
		Set("updated_at = ?", now).
		Where("id = ?", eventID).
		Where("available_seats >= ?", qty).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reserve seats for %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve seats for %s: %w", eventID, err)
	}
	if n == 0 {
		metrics.SeatOperations.WithLabelValues("reserve", ErrInsufficientSeats.Code).Inc()
		return ErrInsufficientSeats
	}

	metrics.SeatOperations.WithLabelValues("reserve", "ok").Inc()
	metrics.SeatsReserved.Add(float64(qty))
	l.logger.LogInventory("RESERVE", eventID, fmt.Sprintf("%d seats", qty))
	return nil
}

func (l *Ledger) Release(ctx context.Context, eventID string, qty int) error {
	return l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.ReleaseTx(ctx, tx, eventID, qty)
	})
}

// ReleaseTx returns seats to the pool, never exceeding total_seats. A release
// that would overflow is clamped and logged as an anomaly. It succeeds
// whenever the event exists.
func (l *Ledger) ReleaseTx(ctx context.Context, tx bun.IDB, eventID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := l.lockRow(ctx, tx, eventID); err != nil {
		metrics.SeatOperations.WithLabelValues("release", apperr.CodeOf(err)).Inc()
		return err
	}
	row, err := l.load(ctx, tx, eventID)
	if err != nil {
		return err
	}

	_, err = tx.NewUpdate().
		Model((*eventRow)(nil)).
		Set("available_seats = CASE WHEN available_seats + ? > total_seats THEN total_seats ELSE available_seats + ? END", qty, qty).
		Set("updated_at = ?", l.now()).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release seats for %s: %w", eventID, err)
	}

	next := row.AvailableSeats + qty
	if next > row.TotalSeats {
		next = row.TotalSeats
		l.logger.Warn("INVENTORY", fmt.Sprintf("release of %d seats on %s clamped at total %d (available was %d)",
			qty, eventID, row.TotalSeats, row.AvailableSeats))
	}
	metrics.SeatOperations.WithLabelValues("release", "ok").Inc()
	metrics.SeatsReleased.Add(float64(next - row.AvailableSeats))
	l.logger.LogInventory("RELEASE", eventID, fmt.Sprintf("%d seats, available %d", qty, next))

	if row.AvailableSeats == 0 && next > 0 {
		l.seatsRestored(ctx, tx, eventID)
	}
	return nil
}

// lockRow takes the event row's write lock for the rest of tx, so a following
// read sees the value the next update will start from.
func (l *Ledger) lockRow(ctx context.Context, tx bun.IDB, eventID string) error {
	res, err := tx.NewUpdate().
		Model((*eventRow)(nil)).
		Set("updated_at = updated_at").
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("lock event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock event %s: %w", eventID, err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Resize changes total capacity and shifts available seats by the same delta.
func (l *Ledger) Resize(ctx context.Context, eventID string, newTotal int) (EventView, error) {
	if newTotal < 0 {
		return EventView{}, ErrInvalidCapacity
	}
	var out EventView
	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for attempt := 0; attempt < l.casAttempts; attempt++ {
			row, err := l.load(ctx, tx, eventID)
			if err != nil {
				return err
			}
			held := row.TotalSeats - row.AvailableSeats
			if newTotal < held {
				return ErrInvalidCapacity
			}
			next := newTotal - held

			ok, err := l.swap(ctx, tx, row, newTotal, next)
			if err != nil {
				return fmt.Errorf("resize %s: %w", eventID, err)
			}
			if !ok {
				continue
			}

			l.logger.LogInventory("RESIZE", eventID, fmt.Sprintf("total %d -> %d, available %d", row.TotalSeats, newTotal, next))
			if row.AvailableSeats == 0 && next > 0 {
				l.seatsRestored(ctx, tx, eventID)
			}
			row.TotalSeats, row.AvailableSeats = newTotal, next
			out = row.view()
			return nil
		}
		return ErrContention
	})
	metrics.SeatOperations.WithLabelValues("resize", metrics.Outcome(err, apperr.CodeOf(err))).Inc()
	return out, err
}

// swap writes total/available only if the row still holds the values read.
func (l *Ledger) swap(ctx context.Context, tx bun.IDB, prev *eventRow, total, available int) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*eventRow)(nil)).
		Set("total_seats = ?", total).
		Set("available_seats = ?", available).
		Set("updated_at = ?", l.now()).
		Where("id = ?", prev.ID).
		Where("total_seats = ?", prev.TotalSeats).
		Where("available_seats = ?", prev.AvailableSeats).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// seatsRestored runs each hook in its own savepoint. A failing hook is logged
// and does not undo the release.
func (l *Ledger) seatsRestored(ctx context.Context, tx bun.IDB, eventID string) {
	for _, h := range l.hooks {
		err := tx.RunInTx(ctx, nil, func(ctx context.Context, sp bun.Tx) error {
			return h.SeatsRestored(ctx, sp, eventID)
		})
		if err != nil {
			l.logger.Error("INVENTORY", fmt.Sprintf("seats restored hook for %s failed: %v", eventID, err))
		}
	}
}
