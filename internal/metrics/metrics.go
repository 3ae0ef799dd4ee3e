// Package metrics exposes sync runner counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_messages_total",
			Help: "Messages processed by the sync runner, by outcome: fetched, ingested, duplicate, failed, vanished.",
		},
		[]string{"label", "outcome"},
	)
	metricAttachments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_attachments_total",
			Help: "Attachments stored, by kind: any or patch.",
		},
		[]string{"label", "kind"},
	)
	metricCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_cycle_errors_total",
			Help: "Failed sync cycles, by error class.",
		},
		[]string{"label", "class"},
	)
	metricCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_cycle_duration_seconds",
			Help:    "Duration of successful sync cycles, from connect or IDLE wake to the drained mailbox.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"label"},
	)
	metricCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsync_cursor_uid",
			Help: "Highest UID whose ingest committed.",
		},
		[]string{"label"},
	)
	metricBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsync_backlog",
			Help: "UIDs beyond the cursor at the start of the last pass.",
		},
		[]string{"label"},
	)
	metricBackoff = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsync_backoff_seconds",
			Help: "Current reconnect delay, zero when healthy.",
		},
		[]string{"label"},
	)
)

// Pass holds the counters of one sync pass.
type Pass struct {
	Fetched     int
	Ingested    int
	Duplicates  int
	Failed      int
	Vanished    int
	Attachments int
	PatchFiles  int
	Backlog     int
	Cursor      uint32
	Duration    time.Duration
}

// ObservePass records a completed pass for label.
func ObservePass(label string, p Pass) {
	metricMessages.WithLabelValues(label, "fetched").Add(float64(p.Fetched))
	metricMessages.WithLabelValues(label, "ingested").Add(float64(p.Ingested))
	metricMessages.WithLabelValues(label, "duplicate").Add(float64(p.Duplicates))
	metricMessages.WithLabelValues(label, "failed").Add(float64(p.Failed))
	metricMessages.WithLabelValues(label, "vanished").Add(float64(p.Vanished))
	metricAttachments.WithLabelValues(label, "any").Add(float64(p.Attachments))
	metricAttachments.WithLabelValues(label, "patch").Add(float64(p.PatchFiles))
	metricCursor.WithLabelValues(label).Set(float64(p.Cursor))
	metricBacklog.WithLabelValues(label).Set(float64(p.Backlog))
	metricCycleDuration.WithLabelValues(label).Observe(p.Duration.Seconds())
}

// ObserveCycleError records a failed cycle and the delay before reconnecting.
func ObserveCycleError(label, class string, backoff time.Duration) {
	metricCycleErrors.WithLabelValues(label, class).Inc()
	metricBackoff.WithLabelValues(label).Set(backoff.Seconds())
}

// ObserveHealthy clears the backoff gauge after a successful cycle.
func ObserveHealthy(label string) {
	metricBackoff.WithLabelValues(label).Set(0)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
