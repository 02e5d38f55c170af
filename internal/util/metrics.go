package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderly_orders_created_total",
		Help: "Total number of orders created from carts",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_orders_failed_total",
		Help: "Total number of rejected checkouts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderly_orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_order_transitions_total",
		Help: "Order status transitions by outcome",
	}, []string{"from", "to", "result"})

	DriverAssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_driver_assignments_total",
		Help: "Driver assignment attempts by outcome",
	}, []string{"result"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderly_checkout_latency_seconds",
		Help:    "Latency of the cart to order transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderly_payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_payment_outcomes_total",
		Help: "Payment results by status",
	}, []string{"status"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderly_payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	DuplicateEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_duplicate_events_total",
		Help: "Deliveries skipped because the event was already processed",
	}, []string{"event_type"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_events_published_total",
		Help: "Events published by type and result",
	}, []string{"event_type", "result"})

	MessagesConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_messages_consumed_total",
		Help: "Deliveries settled by the consumer, by outcome",
	}, []string{"queue", "outcome"})

	BrokerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderly_broker_reconnects_total",
		Help: "Number of broker connection re-establishments",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderly_broker_connected",
		Help: "1 when the broker connection is up",
	})

	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderly_hub_connections",
		Help: "Open live subscription connections",
	})

	HubBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_hub_broadcasts_total",
		Help: "Messages pushed to subscribers, by result",
	}, []string{"result"})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderly_cache_requests_total",
		Help: "Product cache lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
