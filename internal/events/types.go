// Package events provides the status bus: a single asynchronous channel for
// acquisition and analysis notifications, kept apart from the sample data path.
package events

import (
	"time"
)

// Kind identifies a status notification.
type Kind string

const (
	// KindRecordingDone is emitted once a capture reaches its target length.
	KindRecordingDone Kind = "recording_done"
	// KindTriggered is emitted when an armed trigger fires.
	KindTriggered Kind = "triggered"
	// KindOverflow is emitted when the chunk reassembly queue is saturated.
	KindOverflow Kind = "overflow"
	// KindStreamFailed is emitted when a device stream terminates on error.
	KindStreamFailed Kind = "stream_failed"
	// KindAlreadyRunning is emitted when start is called on a running stream.
	KindAlreadyRunning Kind = "already_running"
	// KindStreamStopped is emitted when a stream stops normally.
	KindStreamStopped Kind = "stream_stopped"
	// KindFitWarning carries CircleFitDegenerate and FitNonConvergent warnings.
	KindFitWarning Kind = "fit_warning"
	// KindModelWarning carries non-fatal model conditions such as DuplicateDataSet.
	KindModelWarning Kind = "model_warning"
	// KindError carries enhanced errors forwarded by the errors package.
	KindError Kind = "error"
)

// StatusEvent is one notification on the status bus.
type StatusEvent struct {
	Kind      Kind
	Source    string // component that emitted the event
	SessionID string // capture session, empty when not session scoped
	Timestamp time.Time
	Message   string
	Err       error
	Data      map[string]any
}

// NewStatusEvent stamps a status event with the current time.
func NewStatusEvent(kind Kind, source, message string) StatusEvent {
	return StatusEvent{
		Kind:      kind,
		Source:    source,
		Timestamp: time.Now(),
		Message:   message,
	}
}

// WithSession returns a copy of the event scoped to a capture session.
func (e StatusEvent) WithSession(id string) StatusEvent {
	e.SessionID = id
	return e
}

// WithErr returns a copy of the event carrying err.
func (e StatusEvent) WithErr(err error) StatusEvent {
	e.Err = err
	return e
}

// WithData returns a copy of the event with key set in its data map.
func (e StatusEvent) WithData(key string, value any) StatusEvent {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher is the narrow view producers hold on the bus. A nil Publisher
// is valid for callers that don't care about status.
type Publisher interface {
	// TryPublish queues the event without blocking. It returns false when
	// the event was dropped.
	TryPublish(event StatusEvent) bool

	// Suppress discards any queued or future event of the session.
	Suppress(sessionID string)
}

// EventConsumer processes status events
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single status event
	ProcessEvent(event StatusEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
	FastPathHits     uint64 // publishes skipped because no consumer was registered
}
