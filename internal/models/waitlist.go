package models

import (
	"time"

	"github.com/uptrace/bun"
)

type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries,alias:w"`

	ID         string     `bun:"id,pk" json:"id"`
	EventID    string     `bun:"event_id,notnull,unique:waitlist_event_user" json:"event_id"`
	UserID     string     `bun:"user_id,notnull,unique:waitlist_event_user" json:"user_id"`
	Position   int        `bun:"position,notnull" json:"position"`
	NotifiedAt *time.Time `bun:"notified_at" json:"notified_at,omitempty"`
	ExpiresAt  *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// WaitlistQueue is the per-event lock row; Length always equals the number
// of entries for the event.
type WaitlistQueue struct {
	bun.BaseModel `bun:"table:waitlist_queues,alias:wq"`

	EventID   string    `bun:"event_id,pk" json:"event_id"`
	Length    int       `bun:"length,notnull" json:"length"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

type WaitlistPosition struct {
	EventID  string `json:"event_id"`
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
}
