package events_api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/utils"
)

// EventReader serves single-event reads, usually through the Redis cache.
type EventReader interface {
	Event(ctx context.Context, eventID string) (inventory.EventView, error)
}

// Invalidator drops cached views after admin writes. Optional.
type Invalidator interface {
	Invalidate(ctx context.Context, eventID string)
}

type Handler struct {
	Ledger *inventory.Ledger
	Reader EventReader
	Cache  Invalidator
	Logger *logger.Logger
}

func NewHandler(ledger *inventory.Ledger, reader EventReader, cache Invalidator, log *logger.Logger) *Handler {
	if reader == nil {
		reader = ledger
	}
	return &Handler{Ledger: ledger, Reader: reader, Cache: cache, Logger: log}
}

type ResizeRequest struct {
	TotalSeats *int `json:"total_seats" validate:"required,min=0"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.ListEvents)
	r.Get("/events/{eventId}", h.GetEvent)
}

func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/events", h.CreateEvent)
	r.Put("/events/{eventId}/capacity", h.ResizeEvent)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.Ledger.ListUpcoming(r.Context(), limit)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Reader.Event(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req inventory.NewEvent
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	ev, err := h.Ledger.CreateEvent(r.Context(), req)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handler) ResizeEvent(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	eventID := chi.URLParam(r, "eventId")
	ev, err := h.Ledger.Resize(r.Context(), eventID, *req.TotalSeats)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Invalidate(r.Context(), eventID)
	}
	utils.WriteJSON(w, http.StatusOK, ev)
}
