package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the payment session and settlement flow
var (
	PaymentSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_total",
			Help: "Payment session creation attempts by plan and result",
		},
		[]string{"plan", "result"},
	)

	PaymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks by outcome",
		},
		[]string{"outcome"},
	)

	SubscriptionExtensionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_extensions_total",
			Help: "Dealership subscription extensions applied",
		},
		[]string{"plan"},
	)

	ReconciledSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_sessions_total",
			Help: "Stale pending sessions processed by the reconciler, by outcome",
		},
		[]string{"outcome"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of outbound payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Register registers all metrics with reg
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PaymentSessionsTotal,
		PaymentCallbacksTotal,
		SubscriptionExtensionsTotal,
		ReconciledSessionsTotal,
		GatewayRequestDuration,
	)
}
