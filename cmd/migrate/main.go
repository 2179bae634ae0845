// Command migrate applies the embedded schema migrations and can seed a demo
// event for local runs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"ticketing-core/internal/config"
	"ticketing-core/internal/database"
	"ticketing-core/internal/database/migrations"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		down    bool
		to      uint
		version bool
		seed    bool
	)
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.BoolVar(&down, "down", false, "roll back every migration")
	flagSet.UintVar(&to, "to", 0, "migrate up or down to this version")
	flagSet.BoolVar(&version, "version", false, "print the applied schema version and exit")
	flagSet.BoolVar(&seed, "seed", false, "after migrating, create demo users and an event")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger("migrate")
	defer log.Close()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := migrations.NewRunner(db, log)
	defer runner.Close()

	switch {
	case version:
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
		return nil
	case down:
		return runner.MigrateDown()
	case flagSet.Changed("to"):
		err = runner.MigrateTo(to)
	default:
		err = runner.MigrateUp()
	}
	if err != nil {
		return err
	}

	if seed {
		return seedData(ctx, inventory.NewLedger(db, log), users.NewDirectory(db), log)
	}
	return nil
}

func seedData(ctx context.Context, ledger *inventory.Ledger, dir *users.Directory, log *logger.Logger) error {
	for _, u := range []struct{ id, email, name string }{
		{"user001", "alice@example.com", "Alice Wonderland"},
		{"user002", "bob@example.com", "Bob Builder"},
	} {
		if err := dir.Upsert(ctx, u.id, u.email, u.name); err != nil {
			return fmt.Errorf("seed user %s: %w", u.id, err)
		}
	}

	ev, err := ledger.CreateEvent(ctx, inventory.NewEvent{
		Title:      "Summer Fest",
		StartsAt:   time.Now().AddDate(0, 1, 0),
		Price:      decimal.RequireFromString("49.50"),
		TotalSeats: 100,
	})
	if err != nil {
		return fmt.Errorf("seed event: %w", err)
	}
	log.Info("MIGRATE", fmt.Sprintf("Seeded event %s with %d seats", ev.ID, ev.TotalSeats))
	return nil
}
