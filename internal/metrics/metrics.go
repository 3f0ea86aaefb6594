// Package metrics exposes Prometheus collectors for reservation outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helperslots_signups_total",
			Help: "Committed signups by kind (general, slot) and resulting status",
		},
		[]string{"kind", "status"},
	)

	signupRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helperslots_signup_rejections_total",
			Help: "Signups rejected by reason",
		},
		[]string{"reason"},
	)

	cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helperslots_cancellations_total",
			Help: "Committed cancellations by the status the reservation held",
		},
		[]string{"previous_status"},
	)

	promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helperslots_promotions_total",
			Help: "Waitlisted reservations promoted to confirmed",
		},
	)

	promotionSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helperslots_promotion_skips_total",
			Help: "Waitlist candidates left waitlisted because of a time conflict",
		},
	)

	txRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helperslots_tx_retries_total",
			Help: "Operations retried after losing a transaction race",
		},
		[]string{"operation"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helperslots_notifications_total",
			Help: "Notification dispatch attempts by sink and result",
		},
		[]string{"sink", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helperslots_operation_duration_seconds",
			Help:    "Duration of engine operations including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// SignupCommitted records a successful signup.
func SignupCommitted(kind, status string) {
	signups.WithLabelValues(kind, status).Inc()
}

// SignupRejected records a rejected signup.
func SignupRejected(reason string) {
	signupRejections.WithLabelValues(reason).Inc()
}

// CancellationCommitted records a successful cancellation.
func CancellationCommitted(previousStatus string) {
	cancellations.WithLabelValues(previousStatus).Inc()
}

// Promoted records a waitlist promotion.
func Promoted() {
	promotions.Inc()
}

// PromotionSkipped records a candidate skipped because of a conflict.
func PromotionSkipped() {
	promotionSkips.Inc()
}

// TxRetried records an operation retried after a transaction conflict.
func TxRetried(operation string) {
	txRetries.WithLabelValues(operation).Inc()
}

// NotificationSent records a notification attempt; ok=false means it failed.
func NotificationSent(sink string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	notifications.WithLabelValues(sink, result).Inc()
}

// ObserveOperation records how long an operation took since start.
func ObserveOperation(operation string, start time.Time) {
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
