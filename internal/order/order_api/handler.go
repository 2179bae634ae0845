package order_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/order"
	"ticketing-core/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Logger: log}
}

// RegisterRoutes mounts the order endpoints. Callers must already be
// authenticated.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Post("/{orderId}/confirm", h.ConfirmOrder)
		r.Post("/{orderId}/cancel", h.CancelOrder)
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	o, err := h.OrderService.CreateOrder(r.Context(), auth.UserID(r.Context()), req.EventID, req.Quantity)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrdersByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	resp, err := h.OrderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"), id.UserID, id.IsAdmin())
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmOrderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}

	resp, err := h.OrderService.ConfirmPayment(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()), req.PaymentProof)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CancelOrderRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.WriteError(w, r, h.Logger, err)
			return
		}
	}

	id, _ := auth.FromContext(r.Context())
	o, err := h.OrderService.Cancel(r.Context(), chi.URLParam(r, "orderId"), id.UserID, id.IsAdmin(), req.Reason)
	if err != nil {
		utils.WriteError(w, r, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}
