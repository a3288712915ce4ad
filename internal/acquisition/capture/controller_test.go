package capture

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibrolab/daqbench/internal/acquisition/ring"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/frames"
)

type recordingPublisher struct {
	mu         sync.Mutex
	events     []events.StatusEvent
	suppressed []string
}

func (p *recordingPublisher) TryPublish(ev events.StatusEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) Suppress(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suppressed = append(p.suppressed, id)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type countingObserver struct {
	triggers  int
	completed []int
}

func (o *countingObserver) Triggered(int) { o.triggers++ }

func (o *countingObserver) CaptureCompleted(_ string, samples int) {
	o.completed = append(o.completed, samples)
}

// signalChunk returns rows samples of sig starting at global index start,
// copied to every channel.
func signalChunk(sig func(int) float64, start, rows, channels int) frames.Block {
	b := frames.New(rows, channels)
	for r := range rows {
		for c := range channels {
			b.Set(r, c, sig(start+r))
		}
	}
	return b
}

// pipeline mirrors the recorder's per-chunk order.
func pipeline(t *testing.T, rb *ring.Buffer, c *Controller, chunk frames.Block) {
	t.Helper()
	if rb != nil {
		require.NoError(t, rb.Write(chunk))
	}
	require.NoError(t, c.Feed(chunk))
	_, err := c.CheckTrigger(chunk)
	require.NoError(t, err)
}

func ramp(n int) float64 { return float64(n) }

func TestDurationCaptureReturnsExactLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		samples   int
		chunkSize int
	}{
		{"multiple of chunk", 4096, 512},
		{"partial last chunk", 1000, 512},
		{"shorter than chunk", 7, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pub := &recordingPublisher{}
			obs := &countingObserver{}
			c := NewController(2, WithPublisher(pub), WithObserver(obs))

			id, err := c.ArmDuration(tt.samples)
			require.NoError(t, err)
			require.NotEmpty(t, id)
			assert.Equal(t, StateCapturing, c.State())

			for k := 0; c.State() != StateFlushable; k++ {
				require.Less(t, k, 100, "capture never completed")
				pipeline(t, nil, c, signalChunk(ramp, k*tt.chunkSize, tt.chunkSize, 2))
			}

			out, err := c.Flush()
			require.NoError(t, err)
			assert.Equal(t, tt.samples, out.Rows)
			assert.Equal(t, 2, out.Channels)
			for i := range out.Rows {
				require.InDelta(t, float64(i), out.At(i, 1), 0)
			}

			assert.Equal(t, StateIdle, c.State())
			assert.Equal(t, []events.Kind{events.KindRecordingDone}, pub.kinds())
			assert.Equal(t, id, pub.events[0].SessionID)
			assert.Equal(t, []int{tt.samples}, obs.completed)
		})
	}
}

func TestArmDurationSeconds(t *testing.T) {
	t.Parallel()

	c := NewController(1)
	_, err := c.ArmDurationSeconds(0.5, 8000)
	require.NoError(t, err)
	assert.Equal(t, 4000, c.Status().Target)
}

func TestTriggerWithPreRoll(t *testing.T) {
	t.Parallel()

	const (
		sampleRate = 8000.0
		chunkSize  = 512
		onset      = 10*chunkSize + 100
		pre, post  = 200, 1000
	)
	sig := func(n int) float64 {
		tt := float64(n) / sampleRate
		if n < onset {
			return 0.001 * math.Sin(2*math.Pi*1000*tt)
		}
		d := float64(n - onset)
		return 0.5 * math.Exp(-d/200) * math.Cos(2*math.Pi*1000*d/sampleRate)
	}

	rb, err := ring.New(16, chunkSize, 1)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	obs := &countingObserver{}
	c := NewController(1, WithHistory(rb), WithPublisher(pub), WithObserver(obs))

	id, err := c.ArmTrigger(TriggerParams{Channel: 0, Threshold: 0.1, PreSamples: pre, PostSamples: post})
	require.NoError(t, err)
	assert.Equal(t, StateArmed, c.State())

	for k := range 14 {
		pipeline(t, rb, c, signalChunk(sig, k*chunkSize, chunkSize, 1))
		if k < 10 {
			require.Equal(t, StateArmed, c.State(), "fired early at chunk %d", k)
		}
	}
	require.Equal(t, StateFlushable, c.State())

	out, err := c.Flush()
	require.NoError(t, err)
	require.Equal(t, pre+post, out.Rows)

	assert.GreaterOrEqual(t, math.Abs(out.At(pre, 0)), 0.1)
	for i := range pre {
		require.Less(t, math.Abs(out.At(i, 0)), 0.1, "pre-trigger sample %d", i)
	}
	for i := range out.Rows {
		require.InDelta(t, sig(onset-pre+i), out.At(i, 0), 0, "splice must be contiguous at %d", i)
	}

	assert.Equal(t, []events.Kind{events.KindTriggered, events.KindRecordingDone}, pub.kinds())
	for _, ev := range pub.events {
		assert.Equal(t, id, ev.SessionID)
	}
	assert.Equal(t, 1, obs.triggers)
	assert.Equal(t, []int{pre + post}, obs.completed)
}

func TestTriggerPreRollWithoutRing(t *testing.T) {
	t.Parallel()

	const chunkSize = 64
	sig := func(n int) float64 {
		if n == 3*chunkSize+5 {
			return 1
		}
		return float64(n%7) * 1e-3
	}

	c := NewController(1)
	_, err := c.ArmTrigger(TriggerParams{Channel: 0, Threshold: 0.5, PreSamples: 40, PostSamples: 10})
	require.NoError(t, err)

	for k := range 4 {
		pipeline(t, nil, c, signalChunk(sig, k*chunkSize, chunkSize, 1))
	}

	out, err := c.Flush()
	require.NoError(t, err)
	require.Equal(t, 50, out.Rows)
	for i := range out.Rows {
		require.InDelta(t, sig(3*chunkSize+5-40+i), out.At(i, 0), 0)
	}
}

func TestTriggerZeroPadsShortHistory(t *testing.T) {
	t.Parallel()

	const chunkSize = 64
	sig := func(n int) float64 {
		if n == 10 {
			return 2
		}
		return 0.5 + float64(n)*1e-4
	}

	for _, withRing := range []bool{true, false} {
		var rb *ring.Buffer
		opts := []Option{}
		if withRing {
			var err error
			rb, err = ring.New(2, chunkSize, 1)
			require.NoError(t, err)
			opts = append(opts, WithHistory(rb))
		}
		c := NewController(1, opts...)

		_, err := c.ArmTrigger(TriggerParams{Channel: 0, Threshold: 1, PreSamples: 50, PostSamples: 20})
		require.NoError(t, err)
		pipeline(t, rb, c, signalChunk(sig, 0, chunkSize, 1))

		out, err := c.Flush()
		require.NoError(t, err)
		require.Equal(t, 70, out.Rows)
		for i := range 40 {
			require.Zero(t, out.At(i, 0), "ring=%v index %d", withRing, i)
		}
		for i := 40; i < 70; i++ {
			require.InDelta(t, sig(i-40), out.At(i, 0), 0, "ring=%v index %d", withRing, i)
		}
	}
}

func TestTriggerPreLongerThanRing(t *testing.T) {
	t.Parallel()

	const chunkSize = 32
	rb, err := ring.New(2, chunkSize, 1)
	require.NoError(t, err)
	c := NewController(1, WithHistory(rb))

	trig := 5*chunkSize + 4
	sig := func(n int) float64 {
		if n == trig {
			return 10
		}
		return float64(n) * 1e-3
	}

	_, err = c.ArmTrigger(TriggerParams{Channel: 0, Threshold: 5, PreSamples: 100, PostSamples: 8})
	require.NoError(t, err)
	for k := range 6 {
		pipeline(t, rb, c, signalChunk(sig, k*chunkSize, chunkSize, 1))
	}

	out, err := c.Flush()
	require.NoError(t, err)
	require.Equal(t, 108, out.Rows)

	// The ring holds 64 samples ending at the end of the trigger chunk, so
	// only the 36 samples before the trigger survive.
	zeros := 100 - (2*chunkSize - (chunkSize - 4))
	for i := range zeros {
		require.Zero(t, out.At(i, 0))
	}
	for i := zeros; i < out.Rows; i++ {
		require.InDelta(t, sig(trig-100+i), out.At(i, 0), 0, "index %d", i)
	}
}

func TestArmThenCancelRestoresIdle(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	c := NewController(2, WithPublisher(pub))
	before := c.Status()

	id, err := c.ArmTrigger(TriggerParams{Channel: 1, Threshold: 0.2, PreSamples: 10, PostSamples: 10})
	require.NoError(t, err)
	c.Cancel()

	assert.Equal(t, before, c.Status())
	assert.Equal(t, []string{id}, pub.suppressed)

	id2, err := c.ArmDuration(128)
	require.NoError(t, err)
	require.NoError(t, c.Feed(frames.New(64, 2)))
	c.Cancel()
	assert.Equal(t, before, c.Status())
	assert.Equal(t, []string{id, id2}, pub.suppressed)

	_, err = c.Flush()
	assert.ErrorIs(t, err, ErrNotReady)

	c.Cancel()
	assert.Len(t, pub.suppressed, 2, "cancel while idle is a no-op")
	assert.Empty(t, pub.kinds())
}

func TestCancelAfterCompletionSuppressesSession(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	c := NewController(1, WithPublisher(pub))
	id, err := c.ArmDuration(4)
	require.NoError(t, err)
	require.NoError(t, c.Feed(frames.New(8, 1)))
	require.Equal(t, StateFlushable, c.State())

	c.Cancel()
	assert.Equal(t, []string{id}, pub.suppressed)
	assert.Equal(t, StateIdle, c.State())
}

func TestControlErrors(t *testing.T) {
	t.Parallel()

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		c := NewController(1)
		_, err := c.ArmDuration(10)
		require.NoError(t, err)

		_, err = c.ArmDuration(10)
		assert.ErrorIs(t, err, ErrBusy)
		assert.True(t, errors.IsCategory(err, errors.CategoryCapture))

		_, err = c.ArmTrigger(TriggerParams{Threshold: 1, PostSamples: 1})
		assert.ErrorIs(t, err, ErrBusy)
	})

	t.Run("already armed", func(t *testing.T) {
		t.Parallel()
		c := NewController(1)
		_, err := c.ArmTrigger(TriggerParams{Threshold: 1, PostSamples: 1})
		require.NoError(t, err)

		_, err = c.ArmTrigger(TriggerParams{Threshold: 1, PostSamples: 1})
		assert.ErrorIs(t, err, ErrAlreadyArmed)
		assert.ErrorIs(t, err, ErrBusy)
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		c := NewController(1)
		_, err := c.Flush()
		assert.ErrorIs(t, err, ErrNotReady)

		_, err = c.ArmDuration(100)
		require.NoError(t, err)
		require.NoError(t, c.Feed(frames.New(10, 1)))
		_, err = c.Flush()
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("invalid channel", func(t *testing.T) {
		t.Parallel()
		c := NewController(2)
		for _, ch := range []int{-1, 2, 5} {
			_, err := c.ArmTrigger(TriggerParams{Channel: ch, Threshold: 1, PostSamples: 1})
			assert.ErrorIs(t, err, ErrInvalidChannel)
		}
		assert.Equal(t, StateIdle, c.State())
	})

	t.Run("invalid parameters", func(t *testing.T) {
		t.Parallel()
		c := NewController(1)
		_, err := c.ArmDuration(0)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		_, err = c.ArmTrigger(TriggerParams{Threshold: 1, PostSamples: 0})
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		t.Parallel()
		c := NewController(2)
		_, err := c.ArmDuration(10)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Feed(frames.New(4, 3)), ring.ErrShapeMismatch)
	})
}

func TestTriggerBelowThresholdStaysArmed(t *testing.T) {
	t.Parallel()

	c := NewController(1)
	_, err := c.ArmTrigger(TriggerParams{Threshold: 0.1, PostSamples: 10})
	require.NoError(t, err)

	// A DC offset is removed before the threshold test.
	fired, err := c.CheckTrigger(signalChunk(func(int) float64 { return 0.9 }, 0, 32, 1))
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, StateArmed, c.State())
}

func TestDetectMeasuresDeviationFromMean(t *testing.T) {
	chunk, err := frames.FromColumns([][]float64{
		{0, 0, 0, 0, 0, 0},
		{5, 5, 5, 2, 9, 5},
	})
	require.NoError(t, err)

	pos, peak, fired := detect(chunk, 1, 3)
	assert.True(t, fired)
	assert.Equal(t, 4, pos)
	assert.InDelta(t, 9-31.0/6, peak, 1e-12)

	_, _, fired = detect(chunk, 0, 0)
	assert.False(t, fired, "a flat channel never exceeds a zero threshold")

	_, _, fired = detect(frames.New(0, 2), 1, 0)
	assert.False(t, fired)
}
