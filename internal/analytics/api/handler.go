package analytics_api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/analytics"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/utils"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes. Callers mount it behind the
// admin role check.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events/{eventId}/analytics", func(r chi.Router) {
		r.Get("/", h.GetEventAnalytics)
		r.Get("/sales", h.GetEventSales)
		r.Get("/orders", h.GetEventOrders)
	})
}

func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	summary, err := h.Service.EventSummary(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	h.Logger.Debug("ANALYTICS", fmt.Sprintf("summary for %s: %d paid days", eventID, len(summary.DailySales)))
	utils.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetEventSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Service.SalesByDay(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sales)
}

// GetEventOrders handles request to get orders for an event with optional filters and sorting
func (h *Handler) GetEventOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	options := analytics.EventOrderOptions{
		Status:   query.Get("status"),
		SortBy:   query.Get("sort"),
		SortDesc: query.Get("order") == "desc",
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		var limit int
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err == nil && limit > 0 {
			options.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		var offset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &offset); err == nil && offset >= 0 {
			options.Offset = offset
		}
	}

	orders, err := h.Service.EventOrders(r.Context(), chi.URLParam(r, "eventId"), options)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}
