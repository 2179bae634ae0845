package order_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-core/internal/auth"
	"ticketing-core/internal/database/dbtest"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/order"
	orderdb "ticketing-core/internal/order/db"
	"ticketing-core/internal/payment"
	"ticketing-core/internal/tickets"
	"ticketing-core/internal/tickets/credential"
	ticketdb "ticketing-core/internal/tickets/db"
	"ticketing-core/internal/users"
)

func setupRouter(t *testing.T) (http.Handler, inventory.EventView, *inventory.Ledger) {
	db := dbtest.New(t)
	log := logger.Nop()

	codec, err := credential.NewCodec("order-api", 128)
	require.NoError(t, err)
	ledger := inventory.NewLedger(db, log)
	ts := tickets.NewService(&ticketdb.DB{Bun: db}, ledger, users.NewDirectory(db), codec, log, tickets.Options{})
	svc := order.NewOrderService(&orderdb.DB{Bun: db}, ledger, ts, payment.MockAuthority{}, log, order.Options{MaxQuantity: 4, Currency: "usd"})

	ev, err := ledger.CreateEvent(context.Background(), inventory.NewEvent{
		Title:      "Play",
		StartsAt:   time.Now().Add(10 * 24 * time.Hour),
		Price:      decimal.NewFromInt(12),
		TotalSeats: 3,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.Identity{UserID: r.Header.Get("X-User"), Role: auth.Role(r.Header.Get("X-Role"))}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	})
	NewHandler(svc, log).RegisterRoutes(r)
	return r, ev, ledger
}

func call(h http.Handler, method, path, user string, role auth.Role, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User", user)
	req.Header.Set("X-Role", string(role))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	r, ev, ledger := setupRouter(t)

	rec := call(r, http.MethodPost, "/orders", "u1", auth.RoleUser, models.CreateOrderRequest{EventID: ev.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.OrderStatusPending, created.Status)
	assert.True(t, decimal.NewFromInt(24).Equal(created.TotalPrice))

	path := "/orders/" + created.OrderID
	rec = call(r, http.MethodPost, path+"/confirm", "u2", auth.RoleUser, models.ConfirmOrderRequest{PaymentProof: "pi_x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(r, http.MethodPost, path+"/confirm", "u1", auth.RoleUser, models.ConfirmOrderRequest{PaymentProof: "declined_card"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = call(r, http.MethodPost, path+"/confirm", "u1", auth.RoleUser, models.ConfirmOrderRequest{PaymentProof: "pi_ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed models.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.Equal(t, models.OrderStatusPaid, confirmed.Order.Status)
	assert.Len(t, confirmed.Tickets, 2)

	got, err := ledger.Event(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	rec = call(r, http.MethodGet, path, "u2", auth.RoleUser, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(r, http.MethodGet, path, "ops", auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(r, http.MethodGet, "/orders", "u1", auth.RoleUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine, 1)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	r, ev, _ := setupRouter(t)

	rec := call(r, http.MethodPost, "/orders", "u1", auth.RoleUser, models.CreateOrderRequest{EventID: ev.ID, Quantity: 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(r, http.MethodPost, "/orders", "u1", auth.RoleUser, map[string]interface{}{"event_id": ev.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(r, http.MethodPost, "/orders", "u1", auth.RoleUser, models.CreateOrderRequest{EventID: "nope", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelWithoutBody(t *testing.T) {
	r, ev, _ := setupRouter(t)

	rec := call(r, http.MethodPost, "/orders", "u1", auth.RoleUser, models.CreateOrderRequest{EventID: ev.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = call(r, http.MethodPost, "/orders/"+created.OrderID+"/cancel", "u1", auth.RoleUser, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}
