package ticket_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/tickets/db"
	"ticketing-core/internal/utils"
)

// TicketCountResponse is the response format for the ticket count endpoint
type TicketCountResponse struct {
	EventID string `json:"event_id"`
	db.Counts
}

// GetEventTicketCounts reports issued, scanned, voided and transferred
// tickets for an event. Mounted under the admin routes.
func (h *Handler) GetEventTicketCounts(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	counts, err := h.TicketService.Counts(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, TicketCountResponse{EventID: eventID, Counts: counts})
}
