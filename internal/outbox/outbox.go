// Package outbox records notifications in the same transaction as the state
// change they describe. The Relay delivers them after commit, so a failed
// delivery never undoes a committed order, transfer or promotion.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

const (
	TopicOrderPaid         = "order.paid"
	TopicOrderCancelled    = "order.cancelled"
	TopicTicketTransferred = "ticket.transferred"
	TopicTicketScanned     = "ticket.scanned"
	TopicWaitlistPromoted  = "waitlist.promoted"
	TopicListingSold       = "listing.sold"
)

// Topics lists every topic the core writes.
func Topics() []string {
	return []string{
		TopicOrderPaid,
		TopicOrderCancelled,
		TopicTicketTransferred,
		TopicTicketScanned,
		TopicWaitlistPromoted,
		TopicListingSold,
	}
}

// Envelope is the payload stored for each message.
type Envelope struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Append stores a message for topic. key groups messages for ordering
// downstream (the Kafka message key).
func Append(ctx context.Context, tx bun.IDB, topic, key, eventID, userID string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	now := time.Now().UTC()
	payload, err := json.Marshal(Envelope{
		Type:       topic,
		EventID:    eventID,
		UserID:     userID,
		OccurredAt: now,
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", topic, err)
	}

	msg := &models.OutboxMessage{
		Topic:     topic,
		Key:       key,
		Payload:   string(payload),
		CreatedAt: now,
	}
	if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
		return fmt.Errorf("append %s to outbox: %w", topic, err)
	}
	return nil
}

// Decode parses the stored payload.
func Decode(msg models.OutboxMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode outbox message %d: %w", msg.ID, err)
	}
	return env, nil
}

// Pending returns undelivered messages, oldest first.
func Pending(ctx context.Context, db bun.IDB, limit int) ([]models.OutboxMessage, error) {
	var msgs []models.OutboxMessage
	err := db.NewSelect().
		Model(&msgs).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending outbox: %w", err)
	}
	return msgs, nil
}
