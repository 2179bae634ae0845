package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string    `bun:"id,pk" json:"id"`
	Email       string    `bun:"email,nullzero,unique" json:"email,omitempty"`
	DisplayName string    `bun:"display_name,nullzero" json:"display_name,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}
