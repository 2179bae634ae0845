package ticket_api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/tickets"
	"ticketing-core/internal/utils"
)

type Handler struct {
	TicketService *tickets.Service
	Logger        *logger.Logger
	// ScanLimit throttles credential scans per scanner. Optional.
	ScanLimit func(http.Handler) http.Handler
}

func NewHandler(ticketService *tickets.Service, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.ListMyTickets)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleScanner))
			if h.ScanLimit != nil {
				r.With(h.ScanLimit).Post("/scan", h.ScanCredential)
			} else {
				r.Post("/scan", h.ScanCredential)
			}
			r.Post("/{ticketId}/scan", h.ScanTicket)
		})

		r.Get("/{ticketId}", h.ViewTicket)
		r.Get("/{ticketId}/qr", h.TicketQR)
		r.Post("/{ticketId}/transfer", h.TransferTicket)
	})
}

func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.TicketsByHolder(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []models.Ticket{}
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

// ViewTicket returns a ticket with its transfer history. Only the holder,
// scanners and admins may read it.
func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	t, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if t.HolderID != id.UserID && !id.Allows(auth.RoleScanner) {
		utils.WriteError(w, r, h.Logger, tickets.ErrNotOwner)
		return
	}
	if t.HolderID != id.UserID {
		t.Credential = ""
	}
	utils.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.TicketService.QRCode(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) TransferTicket(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	t, err := h.TicketService.Transfer(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()), req.Recipient)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, t)
}

// ScanCredential admits the bearer of a presented credential.
func (h *Handler) ScanCredential(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	t, err := h.TicketService.ScanCredential(r.Context(), req.Credential, req.EventID)
	if err != nil {
		h.Logger.LogTicket("SCAN_REJECTED", "-", fmt.Sprintf("scanner %s: %v", auth.UserID(r.Context()), err))
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, t)
}

// ScanTicket admits a ticket by id, for door staff resolving a holder by hand.
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var req models.ManualScanRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.WriteError(w, r, h.Logger, err)
			return
		}
	}

	ticketID := chi.URLParam(r, "ticketId")
	t, err := h.TicketService.ScanTicket(r.Context(), ticketID, req.EventID)
	if err != nil {
		h.Logger.LogTicket("SCAN_REJECTED", ticketID, fmt.Sprintf("manual scan by %s: %v", auth.UserID(r.Context()), err))
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, t)
}
