package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vibrolab/daqbench/internal/logger"
)

// AcquisitionMetrics contains Prometheus metrics for the recorder and the
// capture controller. It satisfies acquisition.Metrics.
type AcquisitionMetrics struct {
	chunksTotal      prometheus.Counter
	overflowsTotal   prometheus.Counter
	droppedBytes     prometheus.Counter
	capturesTotal    *prometheus.CounterVec
	capturedSamples  *prometheus.CounterVec
	triggersTotal    *prometheus.CounterVec
	chunkDuration    prometheus.Histogram
	ringFillRatio    prometheus.Gauge
	streamRunning    prometheus.Gauge
	streamStartTotal prometheus.Counter
}

// NewAcquisitionMetrics creates and registers the acquisition metrics.
func NewAcquisitionMetrics(registry prometheus.Registerer) (*AcquisitionMetrics, error) {
	m := &AcquisitionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	log.Debug("acquisition metrics registered")
	return m, nil
}

func (m *AcquisitionMetrics) initMetrics() {
	m.chunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Device chunks written to the ring buffer",
	})
	m.overflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overflows_total",
		Help:      "Reassembly queue saturations",
	})
	m.droppedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overflow_dropped_bytes_total",
		Help:      "Device bytes discarded on queue saturation",
	})
	m.capturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Completed capture sessions",
	}, []string{"mode"}) // mode: duration, trigger
	m.capturedSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captured_samples_total",
		Help:      "Samples per channel delivered by completed captures",
	}, []string{"mode"})
	m.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_total",
		Help:      "Trigger detections",
	}, []string{"channel"})
	m.chunkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chunk_process_seconds",
		Help:      "Time spent handling one device chunk",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10), // 1µs to ~0.26s
	})
	m.ringFillRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ring_fill_ratio",
		Help:      "Fraction of the ring buffer holding written samples (0.0 to 1.0)",
	})
	m.streamRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_running",
		Help:      "1 while the device stream is running",
	})
	m.streamStartTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_starts_total",
		Help:      "Device stream starts",
	})
}

// Describe implements prometheus.Collector.
func (m *AcquisitionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.chunksTotal.Describe(ch)
	m.overflowsTotal.Describe(ch)
	m.droppedBytes.Describe(ch)
	m.capturesTotal.Describe(ch)
	m.capturedSamples.Describe(ch)
	m.triggersTotal.Describe(ch)
	m.chunkDuration.Describe(ch)
	m.ringFillRatio.Describe(ch)
	m.streamRunning.Describe(ch)
	m.streamStartTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *AcquisitionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.chunksTotal.Collect(ch)
	m.overflowsTotal.Collect(ch)
	m.droppedBytes.Collect(ch)
	m.capturesTotal.Collect(ch)
	m.capturedSamples.Collect(ch)
	m.triggersTotal.Collect(ch)
	m.chunkDuration.Collect(ch)
	m.ringFillRatio.Collect(ch)
	m.streamRunning.Collect(ch)
	m.streamStartTotal.Collect(ch)
}

// Triggered counts a trigger detection on channel.
func (m *AcquisitionMetrics) Triggered(channel int) {
	m.triggersTotal.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// CaptureCompleted counts a finished capture of samples per channel.
func (m *AcquisitionMetrics) CaptureCompleted(mode string, samples int) {
	m.capturesTotal.WithLabelValues(mode).Inc()
	m.capturedSamples.WithLabelValues(mode).Add(float64(samples))
}

// ChunkProcessed records one device chunk and the ring fill afterwards.
func (m *AcquisitionMetrics) ChunkProcessed(elapsed time.Duration, ringFill float64) {
	m.chunksTotal.Inc()
	m.chunkDuration.Observe(elapsed.Seconds())
	m.ringFillRatio.Set(ringFill)
}

// Overflow counts a queue saturation that discarded droppedBytes.
func (m *AcquisitionMetrics) Overflow(droppedBytes int) {
	m.overflowsTotal.Inc()
	m.droppedBytes.Add(float64(droppedBytes))
}

// StreamState records stream start and stop.
func (m *AcquisitionMetrics) StreamState(running bool) {
	if running {
		m.streamRunning.Set(1)
		m.streamStartTotal.Inc()
		return
	}
	m.streamRunning.Set(0)
}

// AnalysisMetrics records pipeline operations. It implements Recorder.
type AnalysisMetrics struct {
	operationsTotal *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// NewAnalysisMetrics creates and registers the analysis metrics.
func NewAnalysisMetrics(registry prometheus.Registerer) (*AnalysisMetrics, error) {
	m := &AnalysisMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_operations_total",
			Help:      "Analysis operations by outcome",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Analysis operation duration",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_errors_total",
			Help:      "Analysis errors by type",
		}, []string{"operation", "error_type"}),
	}
	for _, c := range []prometheus.Collector{m.operationsTotal, m.duration, m.errorsTotal} {
		if err := registry.Register(c); err != nil {
			log.Warn("analysis metric registration failed", logger.Error(err))
			return nil, err
		}
	}
	return m, nil
}

// RecordOperation counts operation with status.
func (m *AnalysisMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration observes the duration of operation.
func (m *AnalysisMetrics) RecordDuration(operation string, seconds float64) {
	m.duration.WithLabelValues(operation).Observe(seconds)
}

// RecordError counts an error of errorType in operation.
func (m *AnalysisMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}
