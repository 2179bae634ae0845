// Package metrics holds the Prometheus collectors shared by the core services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SeatOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_seat_operations_total",
			Help: "Inventory ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SeatsReserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_seats_reserved_total",
			Help: "Seats moved from available to held by a paid order",
		},
	)

	SeatsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_seats_released_total",
			Help: "Seats returned to the available pool",
		},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_order_transitions_total",
			Help: "Order state transitions",
		},
		[]string{"from", "to"},
	)

	TicketScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_ticket_scans_total",
			Help: "Ticket scan attempts by outcome",
		},
		[]string{"outcome"},
	)

	TicketTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_ticket_transfers_total",
			Help: "Ticket transfer attempts by outcome",
		},
		[]string{"outcome"},
	)

	WaitlistOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_waitlist_operations_total",
			Help: "Waitlist operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_outbox_published_total",
			Help: "Outbox messages delivered to sinks",
		},
		[]string{"topic", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	OutboxBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_outbox_backlog",
			Help: "Unpublished outbox messages seen by the last relay pass",
		},
	)
)

// Outcome maps an error to a short label value.
func Outcome(err error, code string) string {
	if err == nil {
		return "ok"
	}
	return code
}
