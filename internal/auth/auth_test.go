package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-core/internal/logger"
)

var secret = []byte("test-secret")

type recordingSink struct {
	ids []string
}

func (s *recordingSink) Upsert(ctx context.Context, id, email, displayName string) error {
	s.ids = append(s.ids, id)
	return nil
}

type countingVerifier struct {
	Verifier
	calls int
}

func (c *countingVerifier) Verify(ctx context.Context, raw string) (Identity, time.Time, error) {
	c.calls++
	return c.Verifier.Verify(ctx, raw)
}

func token(t *testing.T, id Identity, ttl time.Duration) string {
	raw, err := IssueToken(secret, id, ttl)
	require.NoError(t, err)
	return raw
}

func TestHMACVerifier(t *testing.T) {
	v := HMACVerifier{Secret: secret}
	ctx := context.Background()

	id, exp, err := v.Verify(ctx, token(t, Identity{UserID: "u1", Email: "u1@example.com", Role: RoleScanner}, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, RoleScanner, id.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	_, _, err = v.Verify(ctx, token(t, Identity{UserID: "u1"}, -time.Minute))
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := IssueToken([]byte("other"), Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, _, err = v.Verify(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleFromRealmAccess(t *testing.T) {
	c := claims{}
	c.RealmAccess.Roles = []string{"offline_access", "scanner"}
	assert.Equal(t, RoleScanner, c.role())

	c.RealmAccess.Roles = append(c.RealmAccess.Roles, "admin")
	assert.Equal(t, RoleAdmin, c.role())

	assert.Equal(t, RoleUser, claims{}.role())
}

func TestMiddlewareAndRoles(t *testing.T) {
	sink := &recordingSink{}
	var seen Identity
	h := Middleware(HMACVerifier{Secret: secret}, sink, logger.Nop())(
		RequireRole(RoleScanner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = FromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})),
	)

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scan", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer nonsense"))
	assert.Equal(t, http.StatusForbidden, call("Bearer "+token(t, Identity{UserID: "fan", Role: RoleUser}, time.Hour)))
	assert.Equal(t, http.StatusNoContent, call("Bearer "+token(t, Identity{UserID: "gate", Role: RoleScanner}, time.Hour)))
	assert.Equal(t, "gate", seen.UserID)
	assert.Equal(t, http.StatusNoContent, call("Bearer "+token(t, Identity{UserID: "boss", Role: RoleAdmin}, time.Hour)))

	assert.Equal(t, []string{"fan", "gate", "boss"}, sink.ids)
}

func TestCachingVerifierSkipsRepeatChecks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingVerifier{Verifier: HMACVerifier{Secret: secret}}
	v := NewCachingVerifier(inner, client, 5*time.Minute, logger.Nop())
	raw := token(t, Identity{UserID: "u1", Role: RoleAdmin}, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, _, err := v.Verify(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, id.Role)
	}
	assert.Equal(t, 1, inner.calls)
	assert.True(t, mr.Exists(tokenKey(raw)))

	_, _, err = v.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, mr.Exists(tokenKey("garbage")))
}
