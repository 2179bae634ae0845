package users_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-core/internal/database/dbtest"
	"ticketing-core/internal/users"
)

func TestUpsertAndResolve(t *testing.T) {
	dir := users.NewDirectory(dbtest.New(t))
	ctx := context.Background()

	require.NoError(t, dir.Upsert(ctx, "user-1", "Alice@Example.com", "Alice"))
	require.NoError(t, dir.Upsert(ctx, "user-1", "alice@example.org", "Alice B"))

	byID, err := dir.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", byID.Email)
	assert.Equal(t, "Alice B", byID.DisplayName)

	byEmail, err := dir.Get(ctx, "ALICE@example.org")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)
}

func TestResolveMissing(t *testing.T) {
	dir := users.NewDirectory(dbtest.New(t))

	_, err := dir.Get(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
	_, err = dir.Get(context.Background(), "")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}
