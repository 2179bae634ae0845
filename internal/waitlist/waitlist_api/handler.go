package waitlist_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/utils"
	"ticketing-core/internal/waitlist"
)

type Handler struct {
	Queue  *waitlist.Queue
	Logger *logger.Logger
}

func NewHandler(q *waitlist.Queue, log *logger.Logger) *Handler {
	return &Handler{Queue: q, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/waitlist/{eventId}", func(r chi.Router) {
		r.Post("/join", h.Join)
		r.Delete("/leave", h.Leave)
		r.Get("/position", h.Position)
	})
}

// RegisterAdminRoutes mounts the queue inspection endpoint.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/events/{eventId}/waitlist", h.List)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	pos, err := h.Queue.Join(r.Context(), eventID, userID)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, models.WaitlistPosition{EventID: eventID, UserID: userID, Position: pos})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.Leave(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context())); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Queue.Position(r.Context(), chi.URLParam(r, "eventId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Queue.List(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []models.WaitlistEntry{}
	}
	utils.WriteJSON(w, http.StatusOK, entries)
}
