package mailer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authservice_mail_deliveries_total",
			Help: "Mail delivery attempts by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authservice_mail_delivery_duration_seconds",
			Help:    "Mail delivery latency by transport.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"transport"},
	)
)
