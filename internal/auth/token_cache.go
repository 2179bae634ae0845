package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketing-core/internal/logger"
)

const (
	tokenKeyPrefix = "auth_token:"
	// TokenExpiryBuffer is cut from a token's remaining life before caching it.
	TokenExpiryBuffer = 10 * time.Second
)

type cachedIdentity struct {
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CachingVerifier remembers verified tokens in Redis, keyed by a hash of
// the raw token, so repeat requests skip signature checks and key fetches.
type CachingVerifier struct {
	Next   Verifier
	Client *redis.Client
	MaxTTL time.Duration
	logger *logger.Logger
}

func NewCachingVerifier(next Verifier, client *redis.Client, maxTTL time.Duration, log *logger.Logger) *CachingVerifier {
	return &CachingVerifier{Next: next, Client: client, MaxTTL: maxTTL, logger: log}
}

func tokenKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachingVerifier) Verify(ctx context.Context, raw string) (Identity, time.Time, error) {
	key := tokenKey(raw)
	if data, err := c.Client.Get(ctx, key).Bytes(); err == nil {
		var hit cachedIdentity
		if json.Unmarshal(data, &hit) == nil && time.Now().Before(hit.ExpiresAt) {
			return hit.Identity, hit.ExpiresAt, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("AUTH", "token cache read failed: "+err.Error())
	}

	id, exp, err := c.Next.Verify(ctx, raw)
	if err != nil {
		return Identity{}, time.Time{}, err
	}

	ttl := time.Until(exp) - TokenExpiryBuffer
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	if ttl > 0 {
		data, _ := json.Marshal(cachedIdentity{Identity: id, ExpiresAt: exp})
		if err := c.Client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Warn("AUTH", "token cache write failed: "+err.Error())
		}
	}
	return id, exp, nil
}
