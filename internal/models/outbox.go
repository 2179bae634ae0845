package models

import (
	"time"

	"github.com/uptrace/bun"
)

// OutboxMessage is written in the same transaction as the state change it
// describes and published by the relay after commit.
type OutboxMessage struct {
	bun.BaseModel `bun:"table:outbox_messages,alias:ob"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	Topic       string     `bun:"topic,notnull" json:"topic"`
	Key         string     `bun:"key,notnull" json:"key"`
	Payload     string     `bun:"payload,type:text,notnull" json:"payload"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	PublishedAt *time.Time `bun:"published_at" json:"published_at,omitempty"`
	Attempts    int        `bun:"attempts,notnull" json:"attempts"`
	LastError   string     `bun:"last_error,nullzero" json:"last_error,omitempty"`
	// DeliveredTo lists the sinks, comma separated, that already accepted
	// the message. Retries skip them.
	DeliveredTo string `bun:"delivered_to,nullzero" json:"delivered_to,omitempty"`
}
