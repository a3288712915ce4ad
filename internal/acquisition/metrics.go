package acquisition

import (
	"time"

	"github.com/vibrolab/daqbench/internal/acquisition/capture"
)

// Metrics receives recorder counters. metrics.AcquisitionMetrics
// implements it for prometheus.
type Metrics interface {
	capture.Observer
	ChunkProcessed(elapsed time.Duration, ringFill float64)
	Overflow(droppedBytes int)
	StreamState(running bool)
}

type nopMetrics struct{}

func (nopMetrics) Triggered(int) {}
func (nopMetrics) CaptureCompleted(string, int) {}
func (nopMetrics) ChunkProcessed(time.Duration, float64) {}
func (nopMetrics) Overflow(int) {}
func (nopMetrics) StreamState(bool) {}
