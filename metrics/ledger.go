// Package metrics holds the ledger's domain counters. HTTP metrics live in
// middleware; both register with the default Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_orders_created_total",
			Help: "Total number of orders created",
		},
		[]string{"package_type", "provider"},
	)

	paymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_payment_callbacks_total",
			Help: "Total number of gateway callbacks by outcome",
		},
		[]string{"provider", "outcome"},
	)

	creditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Credits moved through the ledger",
		},
		[]string{"direction"}, // granted, deducted, refunded
	)

	promoValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_promo_validations_total",
			Help: "Total number of promo code validations by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(ordersCreatedTotal)
	prometheus.MustRegister(paymentCallbacksTotal)
	prometheus.MustRegister(creditsTotal)
	prometheus.MustRegister(promoValidationsTotal)
}

func RecordOrderCreated(packageType, provider string) {
	ordersCreatedTotal.WithLabelValues(packageType, provider).Inc()
}

func RecordPaymentCallback(provider, outcome string) {
	paymentCallbacksTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordCredits(direction string, n int) {
	creditsTotal.WithLabelValues(direction).Add(float64(n))
}

func RecordPromoValidation(result string) {
	promoValidationsTotal.WithLabelValues(result).Inc()
}
