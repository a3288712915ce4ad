// Package metrics provides the prometheus collectors of daqbench.
package metrics

// Recorder defines a minimal interface for recording metrics, letting
// components depend on an abstraction rather than concrete collectors.
type Recorder interface {
	// RecordOperation records an operation (e.g. "process", "fit") with its
	// status ("success", "warning" or "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string) {}
