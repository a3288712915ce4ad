package acquisition

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vibrolab/daqbench/internal/acquisition/capture"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

const waitFor = 2 * time.Second

type fakeDevice struct {
	mu         sync.Mutex
	kind       string
	fullScale  float64
	handler    StreamHandler
	started    bool
	opens      int
	closes     int
	enumerates int
	openErr    error
}

func newFakeDevice(kind string, fullScale float64) *fakeDevice {
	return &fakeDevice{kind: kind, fullScale: fullScale}
}

func (d *fakeDevice) Kind() string { return d.kind }
func (d *fakeDevice) FullScale() float64 { return d.fullScale }

func (d *fakeDevice) Enumerate() ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerates++
	return []DeviceInfo{{Name: "fake", Kind: d.kind, ID: "fake:0", IsDefault: true}}, nil
}

func (d *fakeDevice) Open(_ StreamConfig, h StreamHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.handler = h
	d.opens++
	return nil
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.handler = nil
	return nil
}

func (d *fakeDevice) stream() StreamHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

// push delivers interleaved samples as the device thread would.
func (d *fakeDevice) push(samples ...int16) {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		buf[2*i] = byte(uint16(s))
		buf[2*i+1] = byte(uint16(s) >> 8)
	}
	d.stream().OnData(buf)
}

type statusRecorder struct {
	mu     sync.Mutex
	events []events.StatusEvent
}

func (p *statusRecorder) TryPublish(ev events.StatusEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *statusRecorder) Suppress(string) {}

func (p *statusRecorder) count(kind events.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func ramp(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func openRecorder(t *testing.T, dev *fakeDevice, cfg Config) (*Recorder, *statusRecorder) {
	t.Helper()
	pub := &statusRecorder{}
	r := NewRecorder(dev, WithPublisher(pub))
	require.NoError(t, r.Open(cfg))
	t.Cleanup(func() { _ = r.Close() })
	return r, pub
}

func waitChunks(t *testing.T, r *Recorder, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Status().ChunksWritten >= n },
		waitFor, time.Millisecond, "expected %d chunks", n)
}

func TestScalingPerDeviceKind(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		fullScale float64
		raw       int16
		want      float64
	}{
		{"sound card half scale", KindSoundCard, 1, 1 << 14, 0.5},
		{"sound card negative full scale", KindSoundCard, 1, -1 << 15, -1},
		{"daq half scale is five volts", KindDAQ, 10, 1 << 14, 5},
		{"daq quarter scale", KindDAQ, 10, -1 << 13, -2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.kind, tt.fullScale)
			r, _ := openRecorder(t, dev, Config{Channels: 2, SampleRate: 1000, ChunkSize: 4, NumChunks: 2})
			require.NoError(t, r.Start())

			dev.push(tt.raw, 0, tt.raw, 0, tt.raw, 0, tt.raw, 0)
			waitChunks(t, r, 1)

			tail := r.Ring().Tail(4)
			for i := range 4 {
				assert.InDelta(t, tt.want, tail.At(i, 0), 1e-12)
				assert.InDelta(t, 0.0, tail.At(i, 1), 0)
			}
		})
	}
}

func TestReassemblesOddDeliveriesIntoChunks(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r, _ := openRecorder(t, dev, Config{Channels: 1, SampleRate: 8000, ChunkSize: 256, NumChunks: 4})
	require.NoError(t, r.Start())

	all := ramp(600, 1)
	dev.push(all[:100]...)
	dev.push(all[100:400]...)
	dev.push(all[400:]...)

	waitChunks(t, r, 2)
	assert.Equal(t, uint64(2), r.Status().ChunksWritten, "the partial third chunk stays queued")

	tail := r.Ring().Tail(512).Column(0)
	for i, v := range tail {
		require.InDelta(t, float64(i+1)/(1<<15), v, 1e-15, "sample %d", i)
	}
}

func TestOverflowIsCountedNotRaised(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r, pub := openRecorder(t, dev, Config{Channels: 1, SampleRate: 8000, ChunkSize: 8, NumChunks: 4, QueueDepth: 1})

	// Not started yet, so nothing drains the queue.
	dev.push(ramp(8, 0)...)
	dev.push(ramp(8, 100)...)
	dev.push(ramp(4, 200)...)

	st := r.Status()
	assert.Equal(t, uint64(2), st.Overflows)
	assert.Equal(t, uint64(24), st.DroppedBytes)
	assert.Equal(t, 2, pub.count(events.KindOverflow))

	require.NoError(t, r.Start())
	waitChunks(t, r, 1)
	assert.InDelta(t, 7.0/(1<<15), r.Ring().Tail(1).At(0, 0), 1e-15)
}

func TestStartStopLifecycle(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	pub := &statusRecorder{}
	r := NewRecorder(dev, WithPublisher(pub))

	err := r.Start()
	require.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, StateClosed, r.State())

	cfg := Config{Channels: 1, SampleRate: 8000, ChunkSize: 16}
	require.NoError(t, r.Open(cfg))
	assert.Equal(t, defaultNumChunks, r.Config().NumChunks)

	err = r.Open(cfg)
	require.ErrorIs(t, err, ErrBusy)
	assert.True(t, errors.IsCategory(err, errors.CategoryDevice))

	require.NoError(t, r.Start())
	require.NoError(t, r.Start(), "second start is a no-op")
	assert.Equal(t, 1, pub.count(events.KindAlreadyRunning))
	assert.Equal(t, StateRunning, r.State())

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, StateOpen, r.State())
	assert.Equal(t, 1, pub.count(events.KindStreamStopped))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, 1, dev.closes)
}

func TestStopDiscardsPartialChunk(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r, _ := openRecorder(t, dev, Config{Channels: 1, SampleRate: 8000, ChunkSize: 8, NumChunks: 4})

	require.NoError(t, r.Start())
	dev.push(1000, 1001, 1002, 1003)
	require.NoError(t, r.Stop())
	assert.Zero(t, r.Status().ChunksWritten)

	require.NoError(t, r.Start())
	dev.push(ramp(8, 1)...)
	waitChunks(t, r, 1)
	assert.Equal(t, uint64(1), r.Status().ChunksWritten)

	tail := r.Ring().Tail(8).Column(0)
	for i, v := range tail {
		assert.InDelta(t, float64(i+1)/(1<<15), v, 1e-15, "sample %d", i)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	r := NewRecorder(newFakeDevice(KindDAQ, 10))
	for _, cfg := range []Config{
		{Channels: 0, SampleRate: 1000, ChunkSize: 8},
		{Channels: 1, SampleRate: 0, ChunkSize: 8},
		{Channels: 1, SampleRate: 1000, ChunkSize: 0},
	} {
		assert.ErrorIs(t, r.Open(cfg), ErrUnsupportedConfig)
	}
	assert.Equal(t, StateClosed, r.State())
}

func TestOpenPropagatesDeviceErrors(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	dev.openErr = DeviceError(KindSoundCard, "open", ErrDeviceNotFound, nil)
	r := NewRecorder(dev)

	err := r.Open(Config{Channels: 1, SampleRate: 1000, ChunkSize: 8})
	require.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, StateClosed, r.State())
	assert.Nil(t, r.Ring())
}

func TestStreamFailureRequiresReopen(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r, pub := openRecorder(t, dev, Config{Channels: 1, SampleRate: 8000, ChunkSize: 8})
	require.NoError(t, r.Start())

	id, err := r.Capture().ArmDuration(1000)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	dev.stream().OnError(errors.NewStd("usb unplugged"))
	require.Eventually(t, func() bool { return r.State() == StateFailed }, waitFor, time.Millisecond)
	assert.Equal(t, 1, pub.count(events.KindStreamFailed))
	assert.Equal(t, capture.StateIdle, r.Status().Capture.State, "capture is discarded")

	err = r.Start()
	require.ErrorIs(t, err, ErrStreamFailed)

	require.NoError(t, r.Open(Config{Channels: 1, SampleRate: 8000, ChunkSize: 8}))
	require.NoError(t, r.Start())
	assert.Equal(t, 2, dev.opens)
}

func TestEndOfStreamDrainsQueuedChunks(t *testing.T) {
	dev := newFakeDevice(KindReplay, 1)
	r, pub := openRecorder(t, dev, Config{Channels: 1, SampleRate: 8000, ChunkSize: 4, QueueDepth: 8})
	require.NoError(t, r.Start())

	h := dev.stream()
	dev.push(ramp(14, 0)...)
	h.OnEnd()

	require.Eventually(t, func() bool { return r.State() == StateOpen }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(3), r.Status().ChunksWritten)
	assert.Equal(t, 1, pub.count(events.KindStreamStopped))
}

func TestDurationCaptureThroughRecorder(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r, pub := openRecorder(t, dev, Config{Channels: 2, SampleRate: 8000, ChunkSize: 32, NumChunks: 4})
	require.NoError(t, r.Start())

	_, err := r.Capture().ArmDuration(100)
	require.NoError(t, err)

	for k := range 4 {
		frames := make([]int16, 64)
		for i := range 32 {
			frames[2*i] = int16(k*32 + i)
			frames[2*i+1] = -int16(k*32 + i)
		}
		dev.push(frames...)
	}

	require.Eventually(t, func() bool { return r.Capture().State() == capture.StateFlushable },
		waitFor, time.Millisecond)
	assert.Equal(t, 1, pub.count(events.KindRecordingDone))

	out, err := r.Capture().Flush()
	require.NoError(t, err)
	require.Equal(t, 100, out.Rows)
	for i := range 100 {
		require.InDelta(t, float64(i)/(1<<15), out.At(i, 0), 1e-15)
		require.InDelta(t, -float64(i)/(1<<15), out.At(i, 1), 1e-15)
	}
}

func TestEnumerateDevicesIsCached(t *testing.T) {
	dev := newFakeDevice(KindSoundCard, 1)
	r := NewRecorder(dev)

	for range 3 {
		infos, err := r.EnumerateDevices()
		require.NoError(t, err)
		require.Len(t, infos, 1)
	}
	assert.Equal(t, 1, dev.enumerates)

	r.RefreshDevices()
	_, err := r.EnumerateDevices()
	require.NoError(t, err)
	assert.Equal(t, 2, dev.enumerates)
}
