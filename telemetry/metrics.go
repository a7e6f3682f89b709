// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers for the chat relay.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatLinesReceived prometheus.Counter
	SlotUpserts       *prometheus.CounterVec // label: slot
	FlushCycles       *prometheus.CounterVec // label: outcome (skipped|delivered|failed)
	DeliveryFailures  *prometheus.CounterVec // label: kind (transport|status|timeout|serialization)

	// Histograms (seconds)
	DeliveryDuration prometheus.Observer

	// Gauges
	BufferedEntries *prometheus.GaugeVec // label: slot
	LastFlushSuccess prometheus.Gauge    // unix seconds of the last confirmed delivery
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatLinesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_chat_lines_received_total", Help: "Chat lines received from the transport"})
		SlotUpserts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_slot_upserts_total", Help: "Classified chat lines stored per slot"}, []string{"slot"})
		FlushCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_flush_cycles_total", Help: "Flush cycles by outcome"}, []string{"outcome"})
		DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_delivery_failures_total", Help: "Failed deliveries by failure kind"}, []string{"kind"})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_delivery_duration_seconds", Help: "Delivery request duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}})
		BufferedEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "relay_buffered_entries", Help: "Entries currently buffered per slot"}, []string{"slot"})
		LastFlushSuccess = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_last_flush_success_timestamp_seconds", Help: "Unix time of the last confirmed delivery"})
	})
}

// IncChatLine counts one inbound chat line.
func IncChatLine() {
	if ChatLinesReceived != nil {
		ChatLinesReceived.Inc()
	}
}

// IncSlotUpsert counts one stored payload for slot.
func IncSlotUpsert(slot string) {
	if SlotUpserts != nil {
		SlotUpserts.WithLabelValues(slot).Inc()
	}
}

// IncFlushCycle counts one flush cycle with its outcome.
func IncFlushCycle(outcome string) {
	if FlushCycles != nil {
		FlushCycles.WithLabelValues(outcome).Inc()
	}
}

// IncDeliveryFailure counts one failed delivery of the given kind.
func IncDeliveryFailure(kind string) {
	if DeliveryFailures != nil {
		DeliveryFailures.WithLabelValues(kind).Inc()
	}
}

// SetBuffered records the buffered entry counts.
func SetBuffered(p1, p2 int) {
	if BufferedEntries != nil {
		BufferedEntries.WithLabelValues("p1").Set(float64(p1))
		BufferedEntries.WithLabelValues("p2").Set(float64(p2))
	}
}

// MarkFlushSuccess stamps the last-success gauge.
func MarkFlushSuccess(at time.Time) {
	if LastFlushSuccess != nil {
		LastFlushSuccess.Set(float64(at.Unix()))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
