package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

const (
	// suppressionTTL bounds how long a cancelled session stays suppressed.
	suppressionTTL = 10 * time.Minute
)

// Config holds event bus configuration
type Config struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// Workers > 1 trades delivery order for throughput.
	Workers int  `yaml:"workers" mapstructure:"workers"`
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ReportErrors routes every built EnhancedError onto the bus.
	ReportErrors bool `yaml:"report_errors" mapstructure:"report_errors"`
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1024,
		Workers:    1,
		Enabled:    true,
	}
}

// EventBus provides asynchronous status delivery with non-blocking publish
type EventBus struct {
	eventChan chan StatusEvent

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer

	// deliverMu orders Suppress against in-flight deliveries: once Suppress
	// returns, no event of that session reaches a consumer.
	deliverMu  sync.RWMutex
	suppressed *cache.Cache

	stats EventBusStats

	logger logger.Logger
}

// New creates an event bus. Workers start with the first registered consumer.
func New(config *Config) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		eventChan:  make(chan StatusEvent, bufferSize),
		bufferSize: bufferSize,
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
		suppressed: cache.New(suppressionTTL, 2*suppressionTTL),
		logger:     logger.Global().Module("events"),
	}

	eb.logger.Debug("event bus initialized",
		logger.Int("buffer_size", bufferSize),
		logger.Int("workers", workers))

	return eb
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Debug("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 && !eb.running.Load() && eb.ctx.Err() == nil {
		eb.start()
	}

	return nil
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) TryPublish(event StatusEvent) bool {
	if eb == nil || !eb.running.Load() {
		if eb != nil {
			atomic.AddUint64(&eb.stats.FastPathHits, 1)
		}
		return false
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.logger.Debug("event dropped due to full buffer",
			logger.String("kind", string(event.Kind)),
			logger.String("source", event.Source))
		return false
	}
}

// Suppress drops every event of the session that has not yet been delivered.
func (eb *EventBus) Suppress(sessionID string) {
	if eb == nil || sessionID == "" {
		return
	}
	eb.deliverMu.Lock()
	eb.suppressed.SetDefault(sessionID, struct{}{})
	eb.deliverMu.Unlock()
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}

	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.logger.With(logger.Int("worker_id", id))

	for {
		select {
		case <-eb.ctx.Done():
			return
		case event, ok := <-eb.eventChan:
			if !ok {
				return
			}
			eb.processEvent(event, log)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event StatusEvent, log logger.Logger) {
	eb.deliverMu.RLock()
	defer eb.deliverMu.RUnlock()

	if event.SessionID != "" {
		if _, found := eb.suppressed.Get(event.SessionID); found {
			atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
			return
		}
	}

	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", string(event.Kind)))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				log.Error("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Error(err),
					logger.String("kind", string(event.Kind)))
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops the workers, waiting at most timeout.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil {
		return nil
	}

	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-timer.C:
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:   atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsSuppressed: atomic.LoadUint64(&eb.stats.EventsSuppressed),
		EventsProcessed:  atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:   atomic.LoadUint64(&eb.stats.ConsumerErrors),
		FastPathHits:     atomic.LoadUint64(&eb.stats.FastPathHits),
	}
}

var _ Publisher = (*EventBus)(nil)
