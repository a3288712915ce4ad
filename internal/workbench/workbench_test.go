package workbench

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/acquisition/capture"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/synthetic"
	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

const testTimeout = testutil.LongTestTimeout

func testSettings() *conf.Settings {
	s := conf.Defaults()
	s.Device.Kind = conf.DeviceSynthetic
	s.Device.Channels = 2
	s.Device.SampleRate = 8000
	s.Device.ChunkSize = 256
	s.Device.NumChunks = 16
	s.Device.QueueDepth = 64
	s.Device.Synthetic.Paced = true
	s.Capture.Mode = conf.CaptureDuration
	s.Capture.Samples = 1024
	s.Capture.Count = 2
	s.Capture.AutoArm = true
	s.Analysis.TransferFunction = true
	s.Analysis.SegmentLength = 256
	s.Metrics.Enabled = false
	return s
}

type captures struct {
	mu  sync.Mutex
	res []Result
}

func (c *captures) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res = append(c.res, r)
}

func (c *captures) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.res...)
}

func TestRunTakesConfiguredCaptures(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Archive.Enabled = true
	s.Archive.Directory = "captures"
	s.Archive.Retention.MaxRecords = 5
	fs := afero.NewMemMapFs()
	got := &captures{}

	wb, err := New(s,
		WithFs(fs),
		WithWorkspace(&conf.Workspace{Name: "bench", Path: "/ws"}),
		WithCaptureHandler(got.add))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, wb.Run(ctx))

	results := got.all()
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].SessionID, results[1].SessionID)
	for _, r := range results {
		require.Equal(t, 2, r.Set.Len())
		ch, err := r.Set.Channel(1)
		require.NoError(t, err)
		assert.Len(t, ch.GetData(channel.TimeSeries).Real, 1024)
		assert.Len(t, ch.GetData(channel.Spectrum).Complex, 513)
		assert.Len(t, ch.GetData(channel.TransferFunction).Complex, 129)

		require.NotNil(t, r.Saved)
		assert.Regexp(t, `^/ws/captures/.*\.dqb$`, r.Saved.Record)
		assert.Equal(t, r.SessionID, r.Saved.Header.Session)
	}

	names, err := afero.Glob(fs, "/ws/captures/*.dqb")
	require.NoError(t, err)
	assert.Len(t, names, 2)

	assert.Equal(t, acquisition.StateClosed, wb.Recorder().State())
	assert.Equal(t, 1, promtest.CollectAndCount(wb.Metrics().Acquisition, "daqbench_captures_total"))
}

func TestCaptureOnceTrigger(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Device.Channels = 1
	s.Device.Synthetic = conf.SyntheticSettings{
		Signal:     synthetic.SignalBurst,
		Frequency:  500,
		Amplitude:  0.5,
		Floor:      0.001,
		BurstAfter: 8,
		Paced:      true,
	}
	s.Capture.Mode = conf.CaptureTrigger
	s.Capture.Threshold = 0.1
	s.Capture.PreSamples = 128
	s.Capture.PostSamples = 512
	s.Analysis.TransferFunction = false

	wb, err := New(s, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	require.NoError(t, wb.Recorder().Open(acquisition.Config{
		Channels: 1, SampleRate: 8000, ChunkSize: 256, NumChunks: 16, QueueDepth: 64,
	}))
	require.NoError(t, wb.Recorder().Start())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := wb.CaptureOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, res.Saved)

	ch, err := res.Set.Channel(0)
	require.NoError(t, err)
	x := ch.GetData(channel.TimeSeries).Real
	require.Len(t, x, 640)
	assert.GreaterOrEqual(t, math.Abs(x[128]), 0.1)
	for i := range 128 {
		require.Less(t, math.Abs(x[i]), 0.1, "sample %d precedes the trigger", i)
	}
}

func TestCaptureOnceStreamEnds(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Capture.Samples = 100000
	dev := synthetic.New(synthetic.Config{Signal: synthetic.SignalSine, Frequency: 100, Amplitude: 0.5, MaxChunks: 4})

	wb, err := New(s, WithDevice(dev), WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err = wb.Run(ctx)
	require.ErrorIs(t, err, ErrStreamEnded)
}

func TestCaptureOnceCancelled(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Capture.Samples = 8000 * 60

	wb, err := New(s, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	require.NoError(t, wb.Recorder().Open(acquisition.Config{
		Channels: 2, SampleRate: 8000, ChunkSize: 256,
	}))
	require.NoError(t, wb.Recorder().Start())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = wb.CaptureOnce(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, capture.StateIdle, wb.Recorder().Capture().State())
}

func TestCaptureOnceNeedsStream(t *testing.T) {
	t.Parallel()
	wb, err := New(testSettings(), WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	_, err = wb.CaptureOnce(context.Background())
	require.ErrorIs(t, err, acquisition.ErrNotOpen)
}

func TestMonitorWithoutAutoArm(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Capture.AutoArm = false

	wb, err := New(s, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, wb.Run(ctx))
	assert.Positive(t, wb.Recorder().Status().ChunksWritten)
}

func TestNewRejectsUnknownDevice(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Device.Kind = "oscilloscope"
	_, err := New(s)
	require.ErrorIs(t, err, acquisition.ErrUnsupportedConfig)
}

func TestRunAppliesRetention(t *testing.T) {
	t.Parallel()
	s := testSettings()
	s.Capture.Count = 3
	s.Archive.Enabled = true
	s.Archive.Directory = "/archive"
	s.Archive.Retention.MaxRecords = 1
	fs := afero.NewMemMapFs()

	wb, err := New(s, WithFs(fs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, wb.Run(ctx))

	names, err := afero.Glob(fs, "/archive/*.dqb")
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestReportErrorsPublishesOnStatusBus(t *testing.T) {
	s := testSettings()
	s.EventBus.ReportErrors = true

	wb, err := New(s, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	_, err = wb.CaptureOnce(context.Background())
	require.ErrorIs(t, err, acquisition.ErrNotOpen)

	ev := testutil.WaitFor(t, wb.status, func(ev events.StatusEvent) bool {
		return ev.Kind == events.KindError && ev.Source == componentName
	}, testutil.ShortTestTimeout, "error not reported on the status bus")
	assert.Equal(t, string(errors.CategoryState), ev.Data["category"])
}
