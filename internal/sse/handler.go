package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/outbox"
)

const keepAliveInterval = 25 * time.Second

// Handler serves Server-Sent Events streams backed by the Hub.
type Handler struct {
	Hub    *Hub
	Logger *logger.Logger
}

func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{Hub: hub, Logger: log}
}

// HandleEventStream streams every notification for one event. Admin only.
func (h *Handler) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}
	h.stream(w, r, "event", eventID, h.Hub.SubscribeToEvent(r.Context(), eventID))
}

// HandleUserStream streams the caller's own notifications, such as waitlist
// offers and incoming transfers.
func (h *Handler) HandleUserStream(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}
	h.stream(w, r, "user", userID, h.Hub.SubscribeToUser(r.Context(), userID))
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, scope, key string, events <-chan outbox.Envelope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	h.setupSSEHeaders(w)

	ctx := r.Context()
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"%s\":\"%s\"}\n\n", scope, key)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to %s stream %s", scope, key))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-events:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for %s %s", scope, key))
				return
			}
			jsonData, err := json.Marshal(env)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize %s notification: %v", env.Type, err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(env.Type), jsonData)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from %s stream %s", scope, key))
			return
		}
	}
}

// eventName turns "order.paid" into "order_paid" for EventSource listeners.
func eventName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

func (h *Handler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}
