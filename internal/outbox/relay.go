package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/logger"
	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
)

// Sink receives delivered messages. A Sink error leaves the message pending
// and it is retried on the next pass. Sinks that already accepted the message
// are not called again.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg models.OutboxMessage, env Envelope) error
}

type Relay struct {
	db       *bun.DB
	sinks    []Sink
	logger   *logger.Logger
	batch    int
	interval time.Duration
}

func NewRelay(db *bun.DB, log *logger.Logger, batch int, interval time.Duration, sinks ...Sink) *Relay {
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{db: db, sinks: sinks, logger: log, batch: batch, interval: interval}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.LogProcess("OUTBOX", fmt.Sprintf("relay started (every %s, batch %d)", r.interval, r.batch))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.LogProcess("OUTBOX", "relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("OUTBOX", fmt.Sprintf("relay pass failed: %v", err))
			}
		}
	}
}

// Flush delivers one batch and returns how many messages were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := Pending(ctx, r.db, r.batch)
	if err != nil {
		return 0, err
	}
	metrics.OutboxBacklog.Set(float64(len(msgs)))

	published := 0
	for _, msg := range msgs {
		delivered, deliverErr := r.deliver(ctx, msg)
		if deliverErr != nil {
			metrics.OutboxPublished.WithLabelValues(msg.Topic, "error").Inc()
			r.logger.Warn("OUTBOX", fmt.Sprintf("message %d (%s) not delivered: %v", msg.ID, msg.Topic, deliverErr))
			_, err := r.db.NewUpdate().
				Model((*models.OutboxMessage)(nil)).
				Set("attempts = attempts + 1").
				Set("last_error = ?", deliverErr.Error()).
				Set("delivered_to = ?", delivered).
				Where("id = ?", msg.ID).
				Exec(ctx)
			if err != nil {
				return published, fmt.Errorf("record outbox failure: %w", err)
			}
			continue
		}

		_, err := r.db.NewUpdate().
			Model((*models.OutboxMessage)(nil)).
			Set("published_at = ?", time.Now().UTC()).
			Set("attempts = attempts + 1").
			Where("id = ?", msg.ID).
			Exec(ctx)
		if err != nil {
			return published, fmt.Errorf("mark outbox message %d published: %w", msg.ID, err)
		}
		metrics.OutboxPublished.WithLabelValues(msg.Topic, "ok").Inc()
		published++
	}
	return published, nil
}

// deliver hands msg to every sink that has not yet accepted it. It returns
// the updated delivered_to list alongside the first sink error.
func (r *Relay) deliver(ctx context.Context, msg models.OutboxMessage) (string, error) {
	env, err := Decode(msg)
	if err != nil {
		return msg.DeliveredTo, err
	}
	var done []string
	if msg.DeliveredTo != "" {
		done = strings.Split(msg.DeliveredTo, ",")
	}
	for _, sink := range r.sinks {
		if contains(done, sink.Name()) {
			continue
		}
		if err := sink.Deliver(ctx, msg, env); err != nil {
			return strings.Join(done, ","), fmt.Errorf("%s: %w", sink.Name(), err)
		}
		done = append(done, sink.Name())
	}
	return strings.Join(done, ","), nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
