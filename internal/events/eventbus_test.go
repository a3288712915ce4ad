package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

// mockConsumer records delivered events
type mockConsumer struct {
	name           string
	processedCount atomic.Int32
	errorOnProcess bool
	panicOnProcess bool
	mu             sync.Mutex
	events         []StatusEvent
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) ProcessEvent(event StatusEvent) error {
	if m.panicOnProcess {
		panic("consumer failure")
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.processedCount.Add(1)
	if m.errorOnProcess {
		return fmt.Errorf("mock error")
	}
	return nil
}

func (m *mockConsumer) GetEvents() []StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusEvent(nil), m.events...)
}

func newTestBus(t *testing.T, cfg *Config) *EventBus {
	t.Helper()
	eb := New(cfg)
	t.Cleanup(func() { require.NoError(t, eb.Shutdown(time.Second)) })
	return eb
}

func TestPublishWithoutConsumersTakesFastPath(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	assert.False(t, eb.TryPublish(NewStatusEvent(KindOverflow, "recorder", "queue full")))
	assert.Equal(t, uint64(1), eb.GetStats().FastPathHits)
}

func TestDeliveryPreservesOrderWithSingleWorker(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	consumer := &mockConsumer{name: "ordered"}
	require.NoError(t, eb.RegisterConsumer(consumer))

	const n = 100
	for i := range n {
		require.True(t, eb.TryPublish(NewStatusEvent(KindTriggered, "capture", "t").WithData("seq", i)))
	}

	require.Eventually(t, func() bool { return consumer.processedCount.Load() == n }, time.Second, 5*time.Millisecond)
	for i, ev := range consumer.GetEvents() {
		assert.Equal(t, i, ev.Data["seq"])
	}
	assert.Equal(t, uint64(n), eb.GetStats().EventsProcessed)
}

func TestDuplicateConsumerRejected(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
	assert.Error(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
}

func TestFullBufferDropsEvents(t *testing.T) {
	t.Parallel()

	eb := New(&Config{BufferSize: 1, Workers: 1})
	// workers are not started, so the single slot fills
	eb.running.Store(true)

	assert.True(t, eb.TryPublish(NewStatusEvent(KindOverflow, "recorder", "a")))
	assert.False(t, eb.TryPublish(NewStatusEvent(KindOverflow, "recorder", "b")))
	assert.Equal(t, uint64(1), eb.GetStats().EventsDropped)

	eb.running.Store(false)
	require.NoError(t, eb.Shutdown(time.Second))
}

func TestSuppressedSessionIsNotDelivered(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	consumer := &mockConsumer{name: "sessions"}
	require.NoError(t, eb.RegisterConsumer(consumer))

	eb.Suppress("cancelled")
	require.True(t, eb.TryPublish(NewStatusEvent(KindRecordingDone, "capture", "done").WithSession("cancelled")))
	require.True(t, eb.TryPublish(NewStatusEvent(KindRecordingDone, "capture", "done").WithSession("live")))

	require.Eventually(t, func() bool { return consumer.processedCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	events := consumer.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "live", events[0].SessionID)
	assert.Eventually(t, func() bool { return eb.GetStats().EventsSuppressed == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumerFailuresAreCounted(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "err", errorOnProcess: true}))
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "panic", panicOnProcess: true}))

	require.True(t, eb.TryPublish(NewStatusEvent(KindFitWarning, "circlefit", "degenerate")))
	assert.Eventually(t, func() bool { return eb.GetStats().ConsumerErrors == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeChannel(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, nil)
	ch, sub, err := eb.Subscribe("ui", 4)
	require.NoError(t, err)

	require.True(t, eb.TryPublish(NewStatusEvent(KindTriggered, "capture", "fired")))

	ev := testutil.Receive(t, ch, testutil.ShortTestTimeout, "event not delivered")
	assert.Equal(t, KindTriggered, ev.Kind)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Zero(t, sub.Dropped())
}

func TestErrorReporterPublishesErrors(t *testing.T) {
	eb := newTestBus(t, nil)
	ch, _, err := eb.Subscribe("errors", 4)
	require.NoError(t, err)

	errors.SetReporter(eb.ErrorReporter())
	t.Cleanup(func() { errors.SetReporter(nil) })

	_ = errors.Newf("device stream lost").Component("recorder").Category(errors.CategoryDevice).Build()

	ev := testutil.Receive(t, ch, testutil.ShortTestTimeout, "error event not delivered")
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "recorder", ev.Source)
	assert.Equal(t, "device", ev.Data["category"])
	assert.EqualError(t, ev.Err, "device stream lost")
}

func TestWithDataCopies(t *testing.T) {
	t.Parallel()

	base := NewStatusEvent(KindOverflow, "recorder", "x").WithData("a", 1)
	derived := base.WithData("b", 2)

	assert.Len(t, base.Data, 1)
	assert.Len(t, derived.Data, 2)
}
