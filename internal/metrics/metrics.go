package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for MessagesProcessed.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeIgnored     = "ignored"
	OutcomeSkipped     = "skipped"
	OutcomeDuplicate   = "duplicate"
	OutcomeRateLimited = "rate_limited"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	NotificationsReceived   prometheus.Counter
	NotificationsDuplicate  prometheus.Counter
	NotificationsDispatched prometheus.Counter
	DispatchFailures        prometheus.Counter
	StaleNotifications      prometheus.Counter
	HistoryFailures         prometheus.Counter
	MessagesProcessed       *prometheus.CounterVec
	ProcessingTime          prometheus.Histogram
	WatchRenewals           *prometheus.CounterVec
	ActiveWatches           prometheus.Gauge
}

// NewMetrics registers the metrics with the default registry
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers the metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NotificationsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_notifications_received_total",
			Help: "Total number of push notifications accepted",
		}),
		NotificationsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_notifications_duplicate_total",
			Help: "Total number of redelivered push notifications dropped",
		}),
		NotificationsDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_notifications_dispatched_total",
			Help: "Total number of notifications handed to the task dispatcher",
		}),
		DispatchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_dispatch_failures_total",
			Help: "Total number of notifications the dispatcher could not accept",
		}),
		StaleNotifications: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_stale_notifications_total",
			Help: "Total number of notifications at or behind the stored watermark",
		}),
		HistoryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gmail_auto_reply_history_failures_total",
			Help: "Total number of history diffs that failed",
		}),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmail_auto_reply_messages_total",
			Help: "Candidate messages by outcome",
		}, []string{"outcome"}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmail_auto_reply_processing_duration_seconds",
			Help:    "Time spent processing one notification",
			Buckets: prometheus.DefBuckets,
		}),
		WatchRenewals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmail_auto_reply_watch_renewals_total",
			Help: "Watch renewal results",
		}, []string{"result"}),
		ActiveWatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "gmail_auto_reply_active_watches",
			Help: "Number of active watches seen by the last renewal sweep",
		}),
	}
}
