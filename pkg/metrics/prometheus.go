// Package metrics provides Prometheus metrics for the loan labeling pipeline.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultLatencyBuckets are the partition latency buckets in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000} //nolint:gochecknoglobals // default value table

// Manager owns all Prometheus collectors of the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer
	gatherer         prometheus.Gatherer

	// Ingestion
	filesRead             prometheus.Counter
	recordsRead           prometheus.Counter
	recordWidthMismatches prometheus.Counter

	// Reduction and casting
	loansReduced      prometheus.Counter
	loansKept         prometheus.Counter
	loansFiltered     prometheus.Counter
	blankLoanIDs      prometheus.Counter
	castFailures      *prometheus.CounterVec
	castMissing       *prometheus.CounterVec
	schemaAmbiguities *prometheus.CounterVec

	// Partitions
	partitionsProcessed prometheus.Counter
	partitionLatency    prometheus.Histogram
	partitionRecords    prometheus.Histogram

	// Output
	rowsWritten prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerActiveCount prometheus.Gauge
	workerErrorRate   prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// Run
	runDurationSeconds prometheus.Gauge
	runLastSuccessUnix prometheus.Gauge
}

// Global metrics manager instance.
var current atomic.Pointer[Manager] //nolint:gochecknoglobals // singleton metrics manager

func init() { //nolint:gochecknoinits // global metrics setup
	Reset()
}

// Reset replaces the global manager with a fresh one on its own registry, so
// the next export only carries what was recorded after the call. Options
// apply on top of the defaults.
func Reset(opts ...Option) *Manager {
	// Custom registry to avoid default Go metrics.
	registry := prometheus.NewRegistry()
	m := NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	current.Store(m)
	return m
}

func global() *Manager { return current.Load() }

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "loanlabel",
		subsystem:        "pipeline",
		histogramBuckets: DefaultLatencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if g, ok := m.registry.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.filesRead = m.counter("files_read_total", "Raw performance files opened")
	m.recordsRead = m.counter("records_read_total", "Raw monthly performance records read")
	m.recordWidthMismatches = m.counter("record_width_mismatches_total",
		"Raw records whose field count differs from the derived schema")

	m.loansReduced = m.counter("loans_reduced_total", "Loan groups reduced to one summary row")
	m.loansKept = m.counter("loans_kept_total", "Loans retained by the history filter")
	m.loansFiltered = m.counter("loans_filtered_total", "Loans dropped for insufficient observed history")
	m.blankLoanIDs = m.counter("blank_loan_id_records_total", "Records skipped for a blank loan identifier")
	m.castFailures = m.counterVec("cast_failures_total",
		"Values that could not be cast to their column type", "column")
	m.castMissing = m.counterVec("cast_missing_total",
		"Blank values written as missing", "column")
	m.schemaAmbiguities = m.counterVec("schema_ambiguities_total",
		"Numeric glossary columns with an unrecognized format hint", "column")

	m.partitionsProcessed = m.counter("partitions_processed_total", "Partitions reduced by workers")
	m.partitionLatency = m.histogram("partition_latency_milliseconds",
		"Time to load and reduce one partition", m.histogramBuckets)
	m.partitionRecords = m.histogram("partition_records",
		"Raw records per partition", prometheus.ExponentialBuckets(16, 4, 10))

	m.rowsWritten = m.counter("rows_written_total", "Rows persisted to the output table")

	m.queueSize = m.gauge("queue_size", "Partition jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum partition jobs the queue holds")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size over capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Partition jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Partition jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Partition jobs rejected by the queue")

	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running")
	m.workerErrorRate = m.counter("worker_errors_total", "Partition jobs that failed in a worker")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")

	m.runDurationSeconds = m.gauge("run_duration_seconds", "Wall time of the last run")
	m.runLastSuccessUnix = m.gauge("run_last_success_timestamp_seconds", "Unix time of the last successful run")
}

// RecordFileRead increments the files read counter.
func RecordFileRead() {
	global().filesRead.Inc()
}

// RecordRecordsRead adds n raw records to the records read counter.
func RecordRecordsRead(n int) {
	global().recordsRead.Add(float64(n))
}

// RecordWidthMismatch increments the width mismatch counter.
func RecordWidthMismatch() {
	global().recordWidthMismatches.Inc()
}

// RecordLoansReduced adds n reduced loans.
func RecordLoansReduced(n int) {
	global().loansReduced.Add(float64(n))
}

// RecordLoansKept adds n retained loans.
func RecordLoansKept(n int) {
	global().loansKept.Add(float64(n))
}

// RecordLoansFiltered adds n filtered loans.
func RecordLoansFiltered(n int) {
	global().loansFiltered.Add(float64(n))
}

// RecordBlankLoanIDs adds n records that carried no loan identifier.
func RecordBlankLoanIDs(n int64) {
	global().blankLoanIDs.Add(float64(n))
}

// RecordCastFailures adds n cast failures for a column.
func RecordCastFailures(column string, n int64) {
	global().castFailures.WithLabelValues(column).Add(float64(n))
}

// RecordCastMissing adds n missing values for a column.
func RecordCastMissing(column string, n int64) {
	global().castMissing.WithLabelValues(column).Add(float64(n))
}

// RecordSchemaAmbiguity increments the ambiguity counter for a column.
func RecordSchemaAmbiguity(column string) {
	global().schemaAmbiguities.WithLabelValues(column).Inc()
}

// RecordPartitionProcessed observes one processed partition.
func RecordPartitionProcessed(latencyMs float64, records int) {
	global().partitionsProcessed.Inc()
	global().partitionLatency.Observe(latencyMs)
	global().partitionRecords.Observe(float64(records))
}

// RecordRowsWritten adds n rows to the rows written counter.
func RecordRowsWritten(n int) {
	global().rowsWritten.Add(float64(n))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	global().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	global().queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	global().queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	global().queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	global().queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	global().queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) {
	global().workerActiveCount.Add(float64(delta))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	global().workerErrorRate.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	global().errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// Run Metrics Functions.

// RecordRunDuration sets the wall time of the last run.
func RecordRunDuration(seconds float64) {
	global().runDurationSeconds.Set(seconds)
}

// RecordRunSuccess stamps the current time as the last successful run.
func RecordRunSuccess() {
	global().runLastSuccessUnix.SetToCurrentTime()
}

// WriteTextfile writes the global registry in the Prometheus text format,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return global().WriteTextfile(path)
}

// WriteTextfile writes the manager's registry to path.
func (m *Manager) WriteTextfile(path string) error {
	if m.gatherer == nil {
		return fmt.Errorf("%w: registry cannot be gathered", ErrExportFailed)
	}
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}
