package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Source metrics
	MessagesConsumed *prometheus.CounterVec
	OffsetCommits    *prometheus.CounterVec
	Rebalances       *prometheus.CounterVec

	// Decode metrics
	RecordsDecoded    *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	SchemaCacheHits   prometheus.Counter
	SchemaCacheMisses prometheus.Counter

	// Window metrics
	WindowsOpened      *prometheus.CounterVec
	WindowsFired       *prometheus.CounterVec
	LateRecordsDropped *prometheus.CounterVec
	LateRecordsRouted  *prometheus.CounterVec
	OpenWindows        *prometheus.GaugeVec

	// Sink metrics
	RowsAppended   *prometheus.CounterVec
	SinkRetries    *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	AppendDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),

		RecordsDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_decoded_total",
				Help: "Total number of change events decoded successfully",
			},
			[]string{"topic", "partition"},
		),
		DecodeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_failures_total",
				Help: "Total number of records rejected by the decoder",
			},
			[]string{"reason"},
		),
		SchemaCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "schema_cache_hits_total",
				Help: "Total number of schema cache hits",
			},
		),
		SchemaCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "schema_cache_misses_total",
				Help: "Total number of schema cache misses requiring registry resolution",
			},
		),

		WindowsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windows_opened_total",
				Help: "Total number of windows opened",
			},
			[]string{"partition"},
		),
		WindowsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windows_fired_total",
				Help: "Total number of windows fired and handed to the sink",
			},
			[]string{"partition"},
		),
		LateRecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "late_records_dropped_total",
				Help: "Total number of records dropped for arriving after their window closed",
			},
			[]string{"partition"},
		),
		LateRecordsRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "late_records_routed_total",
				Help: "Total number of late records routed to the late output topic",
			},
			[]string{"partition"},
		),
		OpenWindows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "open_windows",
				Help: "Number of currently open windows",
			},
			[]string{"partition"},
		),

		RowsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rows_appended_total",
				Help: "Total number of rows appended to the destination",
			},
			[]string{"destination", "status"},
		),
		SinkRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_retries_total",
				Help: "Total number of retried sink operations",
			},
			[]string{"destination"},
		),
		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_errors_total",
				Help: "Total number of sink errors",
			},
			[]string{"destination", "operation"},
		),
		AppendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_append_duration_seconds",
				Help:    "Duration of window append operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"destination"},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncRecordsDecoded increments the decoded records counter.
func (m *Metrics) IncRecordsDecoded(topic string, partition int32) {
	m.RecordsDecoded.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncDecodeFailures increments the decode failure counter by reason.
func (m *Metrics) IncDecodeFailures(reason string) {
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

// IncSchemaCacheHit increments the schema cache hit counter.
func (m *Metrics) IncSchemaCacheHit() {
	m.SchemaCacheHits.Inc()
}

// IncSchemaCacheMiss increments the schema cache miss counter.
func (m *Metrics) IncSchemaCacheMiss() {
	m.SchemaCacheMisses.Inc()
}

// IncWindowsOpened increments the windows opened counter.
func (m *Metrics) IncWindowsOpened(partition string) {
	m.WindowsOpened.WithLabelValues(partition).Inc()
}

// IncWindowsFired increments the windows fired counter.
func (m *Metrics) IncWindowsFired(partition string) {
	m.WindowsFired.WithLabelValues(partition).Inc()
}

// IncLateRecordsDropped increments the late drop counter.
func (m *Metrics) IncLateRecordsDropped(partition string) {
	m.LateRecordsDropped.WithLabelValues(partition).Inc()
}

// IncLateRecordsRouted increments the late route counter.
func (m *Metrics) IncLateRecordsRouted(partition string) {
	m.LateRecordsRouted.WithLabelValues(partition).Inc()
}

// SetOpenWindows sets the open windows gauge.
func (m *Metrics) SetOpenWindows(partition string, count float64) {
	m.OpenWindows.WithLabelValues(partition).Set(count)
}

// AddRowsAppended adds to the rows appended counter.
func (m *Metrics) AddRowsAppended(destination string, status string, count int) {
	m.RowsAppended.WithLabelValues(destination, status).Add(float64(count))
}

// IncSinkRetries increments the sink retry counter.
func (m *Metrics) IncSinkRetries(destination string) {
	m.SinkRetries.WithLabelValues(destination).Inc()
}

// IncSinkErrors increments the sink error counter.
func (m *Metrics) IncSinkErrors(destination string, operation string) {
	m.SinkErrors.WithLabelValues(destination, operation).Inc()
}

// ObserveAppendDuration observes an append latency sample.
func (m *Metrics) ObserveAppendDuration(destination string, seconds float64) {
	m.AppendDuration.WithLabelValues(destination).Observe(seconds)
}
