// Package cache keeps short-lived copies of event views in Redis so that
// browse traffic does not hit the ledger on every request.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
)

const eventKeyPrefix = "event_view:"

type EventSource interface {
	Event(ctx context.Context, eventID string) (inventory.EventView, error)
}

// EventCache is a read-through cache over an EventSource. Redis failures
// degrade to reading the source directly.
type EventCache struct {
	Client *redis.Client
	Source EventSource
	TTL    time.Duration
	logger *logger.Logger
}

func NewEventCache(client *redis.Client, source EventSource, ttl time.Duration, log *logger.Logger) *EventCache {
	return &EventCache{Client: client, Source: source, TTL: ttl, logger: log}
}

func eventKey(eventID string) string {
	return eventKeyPrefix + eventID
}

func (c *EventCache) Event(ctx context.Context, eventID string) (inventory.EventView, error) {
	if c.Client == nil || c.TTL <= 0 {
		return c.Source.Event(ctx, eventID)
	}

	raw, err := c.Client.Get(ctx, eventKey(eventID)).Bytes()
	switch {
	case err == nil:
		var ev inventory.EventView
		if err := json.Unmarshal(raw, &ev); err == nil {
			return ev, nil
		}
		c.logger.Warn("CACHE", fmt.Sprintf("dropping unreadable entry for %s", eventID))
	case err != redis.Nil:
		c.logger.Warn("CACHE", fmt.Sprintf("redis get %s: %v", eventID, err))
	}

	ev, err := c.Source.Event(ctx, eventID)
	if err != nil {
		return inventory.EventView{}, err
	}
	if payload, err := json.Marshal(ev); err == nil {
		if err := c.Client.Set(ctx, eventKey(eventID), payload, c.TTL).Err(); err != nil {
			c.logger.Warn("CACHE", fmt.Sprintf("redis set %s: %v", eventID, err))
		}
	}
	return ev, nil
}

// Invalidate drops the cached view after a write the caller knows about.
func (c *EventCache) Invalidate(ctx context.Context, eventID string) {
	if c.Client == nil {
		return
	}
	if err := c.Client.Del(ctx, eventKey(eventID)).Err(); err != nil {
		c.logger.Warn("CACHE", fmt.Sprintf("redis del %s: %v", eventID, err))
	}
}
