//go:build integration

package migrations_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"ticketing-core/internal/config"
	"ticketing-core/internal/database"
	"ticketing-core/internal/database/migrations"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/order"
	orderdb "ticketing-core/internal/order/db"
	"ticketing-core/internal/payment"
	"ticketing-core/internal/tickets"
	"ticketing-core/internal/tickets/credential"
	ticketdb "ticketing-core/internal/tickets/db"
	"ticketing-core/internal/users"
)

func startPostgres(t *testing.T) *bun.DB {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ticketing",
				"POSTGRES_PASSWORD": "ticketing",
				"POSTGRES_DB":       "ticketing",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.Connect(ctx, config.DatabaseConfig{
		DSN:          fmt.Sprintf("postgres://ticketing:ticketing@%s:%s/ticketing?sslmode=disable", host, port.Port()),
		MaxOpenConns: 20,
		MaxIdleConns: 20,
		MaxLifetime:  time.Minute,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsRoundTrip(t *testing.T) {
	db := startPostgres(t)
	runner := migrations.NewRunner(db, logger.Nop())
	defer runner.Close()

	require.NoError(t, runner.MigrateUp())
	v, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	require.NoError(t, runner.MigrateDown())
	v, _, err = runner.Version()
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, runner.MigrateUp())
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	db := startPostgres(t)
	runner := migrations.NewRunner(db, logger.Nop())
	defer runner.Close()
	require.NoError(t, runner.MigrateUp())

	ctx := context.Background()
	ledger := inventory.NewLedger(db, logger.Nop())
	ev, err := ledger.CreateEvent(ctx, inventory.NewEvent{
		Title:      "Arena",
		StartsAt:   time.Now().Add(24 * time.Hour),
		Price:      decimal.NewFromInt(10),
		TotalSeats: 5,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(ctx, ev.ID, 1); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := ledger.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, reserved, 5)
	assert.GreaterOrEqual(t, got.AvailableSeats, 0)
	assert.Equal(t, 5-reserved, got.AvailableSeats)
}

func TestConcurrentReleasesAlwaysSucceed(t *testing.T) {
	db := startPostgres(t)
	runner := migrations.NewRunner(db, logger.Nop())
	defer runner.Close()
	require.NoError(t, runner.MigrateUp())

	ctx := context.Background()
	ledger := inventory.NewLedger(db, logger.Nop())
	ev, err := ledger.CreateEvent(ctx, inventory.NewEvent{
		Title:      "Stadium",
		StartsAt:   time.Now().Add(24 * time.Hour),
		Price:      decimal.NewFromInt(10),
		TotalSeats: 30,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.Reserve(ctx, ev.ID, 30))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ledger.Release(ctx, ev.ID, 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := ledger.Event(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.AvailableSeats)
}

func TestOneActiveListingPerTicket(t *testing.T) {
	db := startPostgres(t)
	runner := migrations.NewRunner(db, logger.Nop())
	defer runner.Close()
	require.NoError(t, runner.MigrateUp())

	ctx := context.Background()
	log := logger.Nop()
	codec, err := credential.NewCodec("integration", 128)
	require.NoError(t, err)
	ledger := inventory.NewLedger(db, log)
	ts := tickets.NewService(&ticketdb.DB{Bun: db}, ledger, users.NewDirectory(db), codec, log, tickets.Options{})
	orders := order.NewOrderService(&orderdb.DB{Bun: db}, ledger, ts, payment.MockAuthority{}, log, order.Options{Currency: "usd"})

	ev, err := ledger.CreateEvent(ctx, inventory.NewEvent{
		Title:      "Club",
		StartsAt:   time.Now().Add(7 * 24 * time.Hour),
		Price:      decimal.NewFromInt(20),
		TotalSeats: 2,
	})
	require.NoError(t, err)
	o, err := orders.CreateOrder(ctx, "seller", ev.ID, 1)
	require.NoError(t, err)
	resp, err := orders.ConfirmPayment(ctx, o.OrderID, "seller", "pi_integration")
	require.NoError(t, err)
	ticketID := resp.Tickets[0].TicketID

	listing := func() *models.TicketListing {
		now := time.Now().UTC()
		return &models.TicketListing{
			ID:        uuid.New().String(),
			TicketID:  ticketID,
			EventID:   ev.ID,
			SellerID:  "seller",
			Price:     decimal.NewFromInt(25),
			Status:    models.ListingStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	_, err = db.NewInsert().Model(listing()).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(listing()).Exec(ctx)
	assert.Error(t, err)
}
