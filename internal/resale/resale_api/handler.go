package resale_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/resale"
	"ticketing-core/internal/utils"
)

type Handler struct {
	Resale *resale.Service
	Logger *logger.Logger
}

func NewHandler(svc *resale.Service, log *logger.Logger) *Handler {
	return &Handler{Resale: svc, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/listings", func(r chi.Router) {
		r.Post("/", h.CreateListing)
		r.Delete("/{listingId}", h.CancelListing)
		r.Post("/{listingId}/buy", h.BuyListing)
	})
	r.Get("/events/{eventId}/listings", h.EventListings)
}

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req models.CreateListingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	l, err := h.Resale.List(r.Context(), req.TicketID, auth.UserID(r.Context()), req.Price)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	if err := h.Resale.CancelListing(r.Context(), chi.URLParam(r, "listingId"), auth.UserID(r.Context())); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BuyListing(w http.ResponseWriter, r *http.Request) {
	var req models.BuyListingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	sale, err := h.Resale.Buy(r.Context(), chi.URLParam(r, "listingId"), auth.UserID(r.Context()), req.PaymentProof)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sale)
}

func (h *Handler) EventListings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Resale.ActiveListings(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []models.TicketListing{}
	}
	utils.WriteJSON(w, http.StatusOK, list)
}
