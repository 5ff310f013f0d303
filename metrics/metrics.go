package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Mint quotes
	// ============================================
	QuotePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_quote_polls_total",
		Help: "Total number of mint quote state checks",
	})

	QuoteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_quote_outcomes_total",
			Help: "Mint quote polling outcomes",
		},
		[]string{"outcome"}, // minted | already_issued | timeout | transport | cancelled | error
	)

	// ============================================
	// Settlement
	// ============================================
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_settlements_total",
			Help: "Settled seller orders by payout channel",
		},
		[]string{"channel"},
	)

	MeltFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_melt_fallbacks_total",
		Help: "Melts that failed and were paid out as ecash instead",
	})

	SettledSats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_settled_sats_total",
			Help: "Sats routed per share",
		},
		[]string{"share"}, // seller | donation | change
	)

	// ============================================
	// Notifications
	// ============================================
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_notifications_total",
			Help: "Order messages by subject and delivery result",
		},
		[]string{"subject", "result"},
	)

	NotificationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_notification_attempts",
		Help:    "Delivery attempts needed per message",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
)
