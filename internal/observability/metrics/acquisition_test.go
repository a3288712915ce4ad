package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibrolab/daqbench/internal/acquisition"
)

var (
	_ acquisition.Metrics = (*AcquisitionMetrics)(nil)
	_ Recorder            = (*AnalysisMetrics)(nil)
	_ Recorder            = NopRecorder{}
)

func TestAcquisitionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAcquisitionMetrics(registry)
	require.NoError(t, err)

	m.StreamState(true)
	m.ChunkProcessed(50*time.Microsecond, 0.25)
	m.ChunkProcessed(80*time.Microsecond, 0.5)
	m.Triggered(1)
	m.CaptureCompleted("trigger", 1200)
	m.CaptureCompleted("duration", 4096)
	m.Overflow(2048)

	assert.InDelta(t, 2, testutil.ToFloat64(m.chunksTotal), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.ringFillRatio), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.triggersTotal.WithLabelValues("1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.capturesTotal.WithLabelValues("trigger")), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.capturedSamples.WithLabelValues("duration")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.overflowsTotal), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.droppedBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.streamRunning), 0)

	m.StreamState(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.streamRunning), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.streamStartTotal), 0)

	n, err := testutil.GatherAndCount(registry, "daqbench_chunk_process_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAcquisitionMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewAcquisitionMetrics(registry)
	require.NoError(t, err)
	_, err = NewAcquisitionMetrics(registry)
	assert.Error(t, err, "duplicate registration is rejected")
}

func TestAnalysisMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAnalysisMetrics(registry)
	require.NoError(t, err)

	m.RecordOperation(OpFit, StatusSuccess)
	m.RecordOperation(OpFit, StatusWarning)
	m.RecordOperation(OpFit, StatusWarning)
	m.RecordDuration(OpProcess, 0.01)
	m.RecordError(OpArchiveSave, "file-io")

	assert.InDelta(t, 2, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpFit, StatusWarning)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues(OpArchiveSave, "file-io")), 0)
	n, err := testutil.GatherAndCount(registry, "daqbench_analysis_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
