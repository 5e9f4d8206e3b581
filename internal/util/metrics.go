package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Total number of cart operations by kind and result",
	}, []string{"op", "result"})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkout attempts by terminal state",
	}, []string{"state"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of a full checkout sequence",
		Buckets: prometheus.DefBuckets,
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	PartialOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_partial_total",
		Help: "Total number of orders created without their items",
	})

	SignInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sign_ins_total",
		Help: "Total number of sign-in attempts by result",
	}, []string{"result"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_request_duration_seconds",
		Help:    "Latency of calls to the remote data service",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "table"})

	BackendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_errors_total",
		Help: "Total number of failed calls to the remote data service",
	}, []string{"op", "table"})

	ReconcileFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_reconcile_flagged_total",
		Help: "Total number of orders flagged for manual reconciliation",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_active_sessions",
		Help: "Number of live storefront sessions held in memory",
	})

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
