// Package database opens the bun handle and creates the schema for local and
// test runs. Production schema changes go through the migrations package.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketing-core/internal/config"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
)

const connectAttempts = 5

// Connect opens postgres and pings it, retrying while the database starts up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var sqldb *sql.DB
	var err error

	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL not ready: %v", err))
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", connectAttempts, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// OpenSQLite opens an sqlite database through the bun shim. A single
// connection keeps ":memory:" databases shared and writes serialized.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Models lists every table the service owns, in creation order.
func Models() []interface{} {
	return []interface{}{
		inventory.TableModel(),
		(*models.User)(nil),
		(*models.Order)(nil),
		(*models.Ticket)(nil),
		(*models.TicketTransfer)(nil),
		(*models.TicketListing)(nil),
		(*models.WaitlistQueue)(nil),
		(*models.WaitlistEntry)(nil),
		(*models.OutboxMessage)(nil),
	}
}

// CreateSchema creates all tables and secondary indexes if missing.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name    string
		model   interface{}
		columns []string
		unique  bool
		where   string
	}{
		{"orders_user_idx", (*models.Order)(nil), []string{"user_id"}, false, ""},
		{"orders_status_created_idx", (*models.Order)(nil), []string{"status", "created_at"}, false, ""},
		{"tickets_order_idx", (*models.Ticket)(nil), []string{"order_id"}, false, ""},
		{"tickets_holder_idx", (*models.Ticket)(nil), []string{"holder_id"}, false, ""},
		{"waitlist_event_position_idx", (*models.WaitlistEntry)(nil), []string{"event_id", "position"}, false, ""},
		{"ticket_listings_active_ticket_idx", (*models.TicketListing)(nil), []string{"ticket_id"}, true, "status = 'active'"},
		{"outbox_unpublished_idx", (*models.OutboxMessage)(nil), []string{"published_at", "id"}, false, ""},
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if idx.where != "" {
			q = q.Where(idx.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
