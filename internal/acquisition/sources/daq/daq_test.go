package daq

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

// TestHelperProcess is the fake acquisition board. It only runs when
// re-executed by helperDevice.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DAQ_HELPER") != "1" {
		return
	}
	channels, _ := strconv.Atoi(os.Getenv("DAQBENCH_CHANNELS"))
	chunk, _ := strconv.Atoi(os.Getenv("DAQBENCH_CHUNK_SIZE"))
	chunks, _ := strconv.Atoi(os.Getenv("DAQ_HELPER_CHUNKS"))

	buf := make([]byte, chunk*channels*2)
	for c := range chunks {
		for i := range chunk * channels {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(c*chunk*channels+i)))
		}
		_, _ = os.Stdout.Write(buf)
	}
	if os.Getenv("DAQ_HELPER_HANG") == "1" {
		time.Sleep(time.Minute)
	}
	if code, _ := strconv.Atoi(os.Getenv("DAQ_HELPER_EXIT")); code != 0 {
		fmt.Fprintln(os.Stderr, "board not responding")
		os.Exit(code)
	}
	os.Exit(0)
}

func helperDevice(t *testing.T, chunks int, env map[string]string) *Device {
	t.Helper()
	t.Setenv("DAQ_HELPER", "1")
	t.Setenv("DAQ_HELPER_CHUNKS", strconv.Itoa(chunks))
	for k, v := range env {
		t.Setenv(k, v)
	}
	return New(Config{Command: os.Args[0], Args: []string{"-test.run=^TestHelperProcess$"}})
}

type handler struct {
	mu    sync.Mutex
	data  []byte
	err   error
	ended chan struct{}
	once  sync.Once
}

func newHandler() *handler { return &handler{ended: make(chan struct{})} }

func (h *handler) OnData(pcm []byte) {
	h.mu.Lock()
	h.data = append(h.data, pcm...)
	h.mu.Unlock()
}

func (h *handler) OnError(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.once.Do(func() { close(h.ended) })
}

func (h *handler) OnEnd() { h.once.Do(func() { close(h.ended) }) }

func (h *handler) wait(t *testing.T) {
	t.Helper()
	testutil.WaitForChannel(t, h.ended, testutil.LongTestTimeout, "stream did not end")
}

func TestReadsFramesUntilExit(t *testing.T) {
	d := helperDevice(t, 3, nil)
	h := newHandler()
	require.NoError(t, d.Open(acquisition.StreamConfig{Channels: 2, SampleRate: 1000, ChunkSize: 64}, h))
	require.NoError(t, d.Start())
	h.wait(t)
	require.NoError(t, d.Close())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NoError(t, h.err)
	require.Len(t, h.data, 3*64*2*2)
	for i := range 3 * 64 * 2 {
		require.Equal(t, int16(i), int16(binary.LittleEndian.Uint16(h.data[2*i:])))
	}
}

func TestNonZeroExitFailsStream(t *testing.T) {
	d := helperDevice(t, 1, map[string]string{"DAQ_HELPER_EXIT": "3"})
	h := newHandler()
	require.NoError(t, d.Open(acquisition.StreamConfig{Channels: 1, SampleRate: 1000, ChunkSize: 16}, h))
	require.NoError(t, d.Start())
	h.wait(t)
	require.NoError(t, d.Close())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.ErrorIs(t, h.err, acquisition.ErrStreamFailed)
	assert.Contains(t, fmt.Sprint(h.err), "exit status 3")
	assert.Contains(t, d.stderr.String(), "board not responding")
}

func TestStopKillsRunningProcess(t *testing.T) {
	d := helperDevice(t, 1, map[string]string{"DAQ_HELPER_HANG": "1"})
	h := newHandler()
	require.NoError(t, d.Open(acquisition.StreamConfig{Channels: 1, SampleRate: 1000, ChunkSize: 16}, h))
	require.NoError(t, d.Start())
	require.NoError(t, d.Start(), "second start is a no-op")

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.data) == 32
	}, 10*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, d.Stop())
	assert.Less(t, time.Since(start), 30*time.Second)

	select {
	case <-h.ended:
		t.Fatal("intentional stop must not end or fail the stream")
	default:
	}
	require.NoError(t, d.Close())
}

func TestOpenErrors(t *testing.T) {
	err := New(Config{}).Open(acquisition.StreamConfig{Channels: 1, SampleRate: 1000, ChunkSize: 16}, newHandler())
	assert.ErrorIs(t, err, acquisition.ErrDeviceNotFound)

	err = New(Config{Command: "daqbench-no-such-board"}).Open(acquisition.StreamConfig{Channels: 1, SampleRate: 1000, ChunkSize: 16}, newHandler())
	assert.ErrorIs(t, err, acquisition.ErrDeviceNotFound)

	err = New(Config{Command: os.Args[0]}).Open(acquisition.StreamConfig{Channels: 0, SampleRate: 1000, ChunkSize: 16}, newHandler())
	assert.ErrorIs(t, err, acquisition.ErrUnsupportedConfig)

	err = New(Config{Command: os.Args[0]}).Start()
	assert.ErrorIs(t, err, acquisition.ErrNotOpen)
}

func TestRecorderScalesToVolts(t *testing.T) {
	d := helperDevice(t, 2, nil)
	rec := acquisition.NewRecorder(d)
	require.NoError(t, rec.Open(acquisition.Config{Channels: 1, SampleRate: 1000, ChunkSize: 32, NumChunks: 4}))
	defer rec.Close()
	require.NoError(t, rec.Start())

	require.Eventually(t, func() bool {
		return rec.Status().ChunksWritten == 2
	}, 10*time.Second, 10*time.Millisecond)

	tail := rec.Ring().Tail(64)
	for i := range 64 {
		require.InDelta(t, float64(i)*FullScale/32768, tail.At(i, 0), 1e-12)
	}
}
