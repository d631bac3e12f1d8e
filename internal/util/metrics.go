package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders moved to paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order attempts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	StockAdjustLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_adjust_latency_seconds",
		Help:    "Latency of the order transaction that adjusts stock",
		Buckets: prometheus.DefBuckets,
	})

	StockShortfallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_shortfall_total",
		Help: "Order lines accepted without enough stock to decrement",
	}, []string{"kind"})

	ReferralsLinkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referrals_linked_total",
		Help: "Total number of referral links created",
	})

	ReferralLinkRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_link_rejected_total",
		Help: "Total number of rejected referral link attempts",
	}, []string{"reason"})

	CommissionsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_recorded_total",
		Help: "Total number of commissions recorded",
	})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploads_total",
		Help: "Image uploads by outcome",
	}, []string{"result"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout sessions by outcome",
	}, []string{"result"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment webhook events received by type",
	}, []string{"type"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Broker events handled by workers",
	}, []string{"type", "result"})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Notification emails by outcome",
	}, []string{"template", "result"})

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
