package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ticketing-core/internal/database/dbtest"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
)

type recordingHook struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHook) SeatsRestored(ctx context.Context, tx bun.IDB, eventID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventID)
	return nil
}

func setup(t *testing.T) (*inventory.Ledger, *bun.DB) {
	db := dbtest.New(t)
	return inventory.NewLedger(db, logger.Nop()), db
}

func createEvent(t *testing.T, l *inventory.Ledger, seats int) inventory.EventView {
	ev, err := l.CreateEvent(context.Background(), inventory.NewEvent{
		Title:      "Concert",
		StartsAt:   time.Now().Add(7 * 24 * time.Hour),
		Price:      decimal.NewFromInt(50),
		TotalSeats: seats,
	})
	require.NoError(t, err)
	return ev
}

func TestReserveDecrementsAvailable(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	ev := createEvent(t, l, 10)

	require.NoError(t, l.Reserve(ctx, ev.ID, 3))

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.AvailableSeats)
	assert.Equal(t, 10, got.TotalSeats)
	assert.Equal(t, 3, got.Held())
}

func TestReserveErrors(t *testing.T) {
	l, db := setup(t)
	ctx := context.Background()
	ev := createEvent(t, l, 2)

	assert.ErrorIs(t, l.Reserve(ctx, ev.ID, 3), inventory.ErrInsufficientSeats)
	assert.ErrorIs(t, l.Reserve(ctx, "missing", 1), inventory.ErrEventNotFound)
	assert.ErrorIs(t, l.Reserve(ctx, ev.ID, 0), inventory.ErrInvalidQuantity)

	_, err := db.NewRaw("UPDATE events SET starts_at = ? WHERE id = ?", time.Now().Add(-time.Hour).UTC(), ev.ID).Exec(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Reserve(ctx, ev.ID, 1), inventory.ErrEventPast)

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableSeats)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	ev := createEvent(t, l, 5)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, ev.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, inventory.ErrInsufficientSeats)
			}
		}()
	}
	wg.Wait()

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, got.AvailableSeats)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	ev := createEvent(t, l, 8)

	require.NoError(t, l.Reserve(ctx, ev.ID, 5))
	require.NoError(t, l.Release(ctx, ev.ID, 5))

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.AvailableSeats)
}

func TestReleaseClampsAtTotal(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	ev := createEvent(t, l, 4)

	require.NoError(t, l.Reserve(ctx, ev.ID, 1))
	require.NoError(t, l.Release(ctx, ev.ID, 3))

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableSeats)
	assert.ErrorIs(t, l.Release(ctx, "missing", 1), inventory.ErrEventNotFound)
}

func TestReleaseFromZeroFiresHook(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	hook := &recordingHook{}
	l.OnSeatsRestored(hook)
	ev := createEvent(t, l, 2)

	require.NoError(t, l.Reserve(ctx, ev.ID, 2))
	require.NoError(t, l.Release(ctx, ev.ID, 1))
	require.NoError(t, l.Release(ctx, ev.ID, 1))

	assert.Equal(t, []string{ev.ID}, hook.events)
}

func TestConcurrentReleasesAllSucceed(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	hook := &recordingHook{}
	l.OnSeatsRestored(hook)
	ev := createEvent(t, l, 10)
	require.NoError(t, l.Reserve(ctx, ev.ID, 10))

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Release(ctx, ev.ID, 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := l.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AvailableSeats)
	assert.Equal(t, []string{ev.ID}, hook.events)
}

func TestResize(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	hook := &recordingHook{}
	l.OnSeatsRestored(hook)
	ev := createEvent(t, l, 3)
	require.NoError(t, l.Reserve(ctx, ev.ID, 3))

	_, err := l.Resize(ctx, ev.ID, 2)
	assert.ErrorIs(t, err, inventory.ErrInvalidCapacity)

	got, err := l.Resize(ctx, ev.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalSeats)
	assert.Equal(t, 2, got.AvailableSeats)
	assert.Equal(t, []string{ev.ID}, hook.events)

	got, err = l.Resize(ctx, ev.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableSeats)
}

func TestCreateEventValidation(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	_, err := l.CreateEvent(ctx, inventory.NewEvent{Title: "Past", StartsAt: time.Now().Add(-time.Hour), TotalSeats: 1})
	assert.ErrorIs(t, err, inventory.ErrInvalidEvent)

	_, err = l.CreateEvent(ctx, inventory.NewEvent{Title: "Neg", StartsAt: time.Now().Add(time.Hour), TotalSeats: -1})
	assert.ErrorIs(t, err, inventory.ErrInvalidCapacity)
}

func TestListUpcoming(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	a := createEvent(t, l, 1)
	b := createEvent(t, l, 1)

	events, err := l.ListUpcoming(ctx, 10)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}
