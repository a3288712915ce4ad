package events

import (
	"sync/atomic"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// Consumers run on bus worker goroutines while the delivery lock is held.
// They must not cancel a capture session synchronously; hand the event to
// another goroutine first.

// FuncConsumer adapts a function to EventConsumer.
type FuncConsumer struct {
	ConsumerName string
	Fn           func(StatusEvent) error
}

// Name returns the consumer name
func (f FuncConsumer) Name() string { return f.ConsumerName }

// ProcessEvent calls the wrapped function
func (f FuncConsumer) ProcessEvent(event StatusEvent) error { return f.Fn(event) }

// ChannelConsumer forwards events onto a buffered Go channel. When the
// channel is full the event is dropped and counted.
type ChannelConsumer struct {
	name    string
	ch      chan StatusEvent
	dropped atomic.Uint64
}

// Subscribe registers a ChannelConsumer and returns its receive side.
func (eb *EventBus) Subscribe(name string, buffer int) (<-chan StatusEvent, *ChannelConsumer, error) {
	if buffer <= 0 {
		buffer = 64
	}
	c := &ChannelConsumer{name: name, ch: make(chan StatusEvent, buffer)}
	if err := eb.RegisterConsumer(c); err != nil {
		return nil, nil, err
	}
	return c.ch, c, nil
}

// Name returns the consumer name
func (c *ChannelConsumer) Name() string { return c.name }

// ProcessEvent forwards the event without blocking
func (c *ChannelConsumer) ProcessEvent(event StatusEvent) error {
	select {
	case c.ch <- event:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many events found the channel full
func (c *ChannelConsumer) Dropped() uint64 { return c.dropped.Load() }

// LogConsumer writes every status event to a module logger.
type LogConsumer struct {
	log logger.Logger
}

// NewLogConsumer creates a consumer logging under the "status" module
func NewLogConsumer(log logger.Logger) *LogConsumer {
	if log == nil {
		log = logger.Global().Module("status")
	}
	return &LogConsumer{log: log}
}

// Name returns the consumer name
func (l *LogConsumer) Name() string { return "log" }

// ProcessEvent logs the event at a level derived from its kind
func (l *LogConsumer) ProcessEvent(event StatusEvent) error {
	fields := []logger.Field{
		logger.String("kind", string(event.Kind)),
		logger.String("source", event.Source),
	}
	if event.SessionID != "" {
		fields = append(fields, logger.String("session", event.SessionID))
	}
	for k, v := range event.Data {
		fields = append(fields, logger.Any(k, v))
	}
	if event.Err != nil {
		fields = append(fields, logger.Error(event.Err))
	}

	switch event.Kind {
	case KindStreamFailed, KindError:
		l.log.Error(event.Message, fields...)
	case KindOverflow, KindFitWarning, KindModelWarning:
		l.log.Warn(event.Message, fields...)
	default:
		l.log.Info(event.Message, fields...)
	}
	return nil
}

// errorReporter forwards enhanced errors to the bus as KindError events
type errorReporter struct {
	bus *EventBus
}

// ReportError publishes the error on the status bus
func (r errorReporter) ReportError(ee *errors.EnhancedError) {
	ev := NewStatusEvent(KindError, ee.GetComponent(), ee.GetMessage()).
		WithErr(ee).
		WithData("category", ee.GetCategory())
	r.bus.TryPublish(ev)
}

// ErrorReporter returns an errors.Reporter backed by this bus. Install it
// with errors.SetReporter to route built errors onto the status channel.
func (eb *EventBus) ErrorReporter() errors.Reporter {
	return errorReporter{bus: eb}
}
