package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Duration of provider delivery calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Total delivery retries by channel and error category",
		},
		[]string{"channel", "category"},
	)

	DlqTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dlq_entries_total",
			Help: "Total deliveries moved to the dead-letter queue",
		},
		[]string{"channel", "category"},
	)

	StatusPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_status_publish_errors_total",
			Help: "Total Kafka status publish errors",
		},
	)
)
