package sse

import (
	"context"
	"sync"

	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
)

// Hub fans relayed outbox envelopes out to live SSE subscribers, keyed by
// event and by user.
type Hub struct {
	eventClients     map[string][]chan outbox.Envelope
	eventClientMutex sync.RWMutex

	userClients     map[string][]chan outbox.Envelope
	userClientMutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		eventClients: make(map[string][]chan outbox.Envelope),
		userClients:  make(map[string][]chan outbox.Envelope),
	}
}

// SubscribeToEvent returns a channel that is closed when ctx is done.
func (h *Hub) SubscribeToEvent(ctx context.Context, eventID string) <-chan outbox.Envelope {
	return subscribe(ctx, &h.eventClientMutex, h.eventClients, eventID)
}

// SubscribeToUser returns a channel that is closed when ctx is done.
func (h *Hub) SubscribeToUser(ctx context.Context, userID string) <-chan outbox.Envelope {
	return subscribe(ctx, &h.userClientMutex, h.userClients, userID)
}

func subscribe(ctx context.Context, mu *sync.RWMutex, clients map[string][]chan outbox.Envelope, key string) <-chan outbox.Envelope {
	ch := make(chan outbox.Envelope, 10)

	mu.Lock()
	clients[key] = append(clients[key], ch)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		remove(mu, clients, key, ch)
	}()
	return ch
}

func remove(mu *sync.RWMutex, clients map[string][]chan outbox.Envelope, key string, ch chan outbox.Envelope) {
	mu.Lock()
	defer mu.Unlock()

	list := clients[key]
	for i, c := range list {
		if c == ch {
			clients[key] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}

// broadcast holds the read lock while sending so a channel cannot be closed
// mid-send. Slow clients miss messages rather than block the relay.
func broadcast(mu *sync.RWMutex, clients map[string][]chan outbox.Envelope, key string, env outbox.Envelope) {
	mu.RLock()
	defer mu.RUnlock()

	for _, ch := range clients[key] {
		select {
		case ch <- env:
		default:
		}
	}
}

func (h *Hub) Name() string { return "sse" }

// Deliver implements outbox.Sink. It never fails.
func (h *Hub) Deliver(ctx context.Context, msg models.OutboxMessage, env outbox.Envelope) error {
	if env.EventID != "" {
		broadcast(&h.eventClientMutex, h.eventClients, env.EventID, env)
	}
	if env.UserID != "" {
		broadcast(&h.userClientMutex, h.userClients, env.UserID, env)
	}
	return nil
}

func (h *Hub) EventClientCount(eventID string) int {
	h.eventClientMutex.RLock()
	defer h.eventClientMutex.RUnlock()
	return len(h.eventClients[eventID])
}

func (h *Hub) UserClientCount(userID string) int {
	h.userClientMutex.RLock()
	defer h.userClientMutex.RUnlock()
	return len(h.userClients[userID])
}
