// Package users keeps the local directory of known accounts. Rows are
// upserted from verified bearer-token claims and used to resolve transfer
// recipients.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/models"
)

var ErrUserNotFound = apperr.NotFound("user_not_found", "user not found")

type Directory struct {
	db *bun.DB
}

func NewDirectory(db *bun.DB) *Directory {
	return &Directory{db: db}
}

// Upsert records id with its latest email and display name.
func (d *Directory) Upsert(ctx context.Context, id, email, displayName string) error {
	u := &models.User{
		ID:          id,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := d.db.NewInsert().
		Model(u).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("display_name = EXCLUDED.display_name").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", id, err)
	}
	return nil
}

func (d *Directory) Get(ctx context.Context, id string) (*models.User, error) {
	return d.ResolveTx(ctx, d.db, id)
}

// ResolveTx finds a user by id, or by email when ref contains "@".
func (d *Directory) ResolveTx(ctx context.Context, tx bun.IDB, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrUserNotFound
	}

	u := new(models.User)
	q := tx.NewSelect().Model(u).Limit(1)
	if strings.Contains(ref, "@") {
		q = q.Where("email = ?", strings.ToLower(ref))
	} else {
		q = q.Where("id = ?", ref)
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", ref, err)
	}
	return u, nil
}
