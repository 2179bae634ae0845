// Package ratelimit is a Redis token bucket shared by every API replica.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketing-core/internal/logger"
)

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter allows Capacity requests per Window for each key, refilled one
// token at a time.
type Limiter struct {
	Client   *redis.Client
	Prefix   string
	Capacity int
	Window   time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewLimiter(client *redis.Client, prefix string, perWindow int, window time.Duration, log *logger.Logger) *Limiter {
	return &Limiter{
		Client:   client,
		Prefix:   prefix,
		Capacity: perWindow,
		Window:   window,
		logger:   log,
		now:      time.Now,
	}
}

func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
	interval := l.Window.Milliseconds() / int64(l.Capacity)
	ttl := int64(math.Ceil(l.Window.Seconds())) * 2

	vals, err := bucketScript.Run(ctx, l.Client, []string{l.Prefix + ":" + key},
		l.now().UnixMilli(), l.Capacity, interval, ttl).Result()
	if err != nil {
		return Decision{Allowed: true}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Decision{Allowed: true}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

// Middleware rejects requests over the limit with 429. keyFn picks the
// bucket; an empty key skips limiting. Redis errors let the request through.
func (l *Limiter) Middleware(keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" || l.Client == nil {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Take(r.Context(), key)
			if err != nil {
				l.logger.Warn("RATELIMIT", fmt.Sprintf("redis error for %s: %v", key, err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"too_many_requests","message":"rate limit exceeded","retry_after":%d}`, secs)
				l.logger.LogSecurity("RATE_LIMIT", fmt.Sprintf("blocked %s %s for %s", r.Method, r.URL.Path, key))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
