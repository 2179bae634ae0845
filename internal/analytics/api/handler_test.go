package analytics_api

import (
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

	"ticketing-core/internal/analytics"
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

func setupRouter(t *testing.T) (http.Handler, inventory.EventView) {
	db := dbtest.New(t)
	log := logger.Nop()
	ctx := context.Background()

	codec, err := credential.NewCodec("analytics-api", 128)
	require.NoError(t, err)
	ledger := inventory.NewLedger(db, log)
	tdb := &ticketdb.DB{Bun: db}
	ts := tickets.NewService(tdb, ledger, users.NewDirectory(db), codec, log, tickets.Options{})
	orders := order.NewOrderService(&orderdb.DB{Bun: db}, ledger, ts, payment.MockAuthority{}, log, order.Options{Currency: "usd"})

	ev, err := ledger.CreateEvent(ctx, inventory.NewEvent{
		Title:      "Expo",
		StartsAt:   time.Now().Add(20 * 24 * time.Hour),
		Price:      decimal.NewFromInt(10),
		TotalSeats: 8,
	})
	require.NoError(t, err)

	for i, buyer := range []string{"u1", "u2"} {
		o, err := orders.CreateOrder(ctx, buyer, ev.ID, i+1)
		require.NoError(t, err)
		_, err = orders.ConfirmPayment(ctx, o.OrderID, buyer, "pi_"+buyer)
		require.NoError(t, err)
	}
	_, err = orders.CreateOrder(ctx, "u3", ev.ID, 1)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(analytics.NewService(analytics.NewDB(db), ledger, tdb), log).RegisterRoutes(r)
	return r, ev
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEventAnalyticsOverHTTP(t *testing.T) {
	r, ev := setupRouter(t)
	base := "/events/" + ev.ID + "/analytics"

	rec := get(r, base+"/")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary analytics.EventSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 8, summary.TotalSeats)
	assert.Equal(t, 5, summary.AvailableSeats)
	assert.True(t, decimal.NewFromInt(30).Equal(summary.Revenue), summary.Revenue.String())
	assert.Equal(t, 3, summary.Tickets.Issued)

	rec = get(r, base+"/sales")
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []analytics.DailySalesMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
	require.Len(t, sales, 1)
	assert.Equal(t, 3, sales[0].TicketsSold)
	assert.Equal(t, 2, sales[0].Orders)
}

func TestEventOrdersFilters(t *testing.T) {
	r, ev := setupRouter(t)
	base := "/events/" + ev.ID + "/analytics/orders"

	rec := get(r, base+"?status=paid")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid []models.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.Len(t, paid, 2)

	rec = get(r, base+"?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []models.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "u3", pending[0].Order.UserID)

	rec = get(r, base+"?limit=1&offset=0")
	require.Equal(t, http.StatusOK, rec.Code)
	var page []models.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page, 1)
}

func TestUnknownEventIsNotFound(t *testing.T) {
	r, _ := setupRouter(t)

	for _, path := range []string{"/events/missing/analytics/", "/events/missing/analytics/sales", "/events/missing/analytics/orders"} {
		rec := get(r, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
