package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 2, cfg.Tickets.MaxTransfers)
	assert.Equal(t, 48*time.Hour, cfg.Tickets.TransferCutoff)
	assert.Equal(t, 30*time.Minute, cfg.Waitlist.NotifyWindow)
	assert.Equal(t, 10, cfg.Orders.MaxQuantity)
	assert.Equal(t, "mock", cfg.Payment.Provider)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TICKET_MAX_TRANSFERS", "5")
	t.Setenv("TICKET_TRANSFER_CUTOFF", "24h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, 5, cfg.Tickets.MaxTransfers)
	assert.Equal(t, 24*time.Hour, cfg.Tickets.TransferCutoff)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TICKET_MAX_TRANSFERS", "many")
	t.Setenv("WAITLIST_NOTIFY_WINDOW", "soon")

	cfg := Load()

	assert.Equal(t, 2, cfg.Tickets.MaxTransfers)
	assert.Equal(t, 30*time.Minute, cfg.Waitlist.NotifyWindow)
}
