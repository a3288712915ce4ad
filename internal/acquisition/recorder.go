package acquisition

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"

	"github.com/vibrolab/daqbench/internal/acquisition/capture"
	"github.com/vibrolab/daqbench/internal/acquisition/ring"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/frames"
	"github.com/vibrolab/daqbench/internal/logger"
)

const (
	componentName = "recorder"

	bytesPerSample = 2
	int16FullScale = 1 << 15

	defaultNumChunks  = 32
	defaultQueueDepth = 16

	deviceCacheTTL = 30 * time.Second
)

// State is the recorder stream state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config is the stream geometry requested from the device.
type Config struct {
	DeviceName string
	Channels   int
	SampleRate float64
	ChunkSize  int
	NumChunks  int
	// QueueDepth is the reassembly queue capacity in chunks.
	QueueDepth int
}

// Status is a point-in-time view of the recorder.
type Status struct {
	State         State
	Kind          string
	Config        Config
	ChunksWritten uint64
	Overflows     uint64
	DroppedBytes  uint64
	RingFill      float64
	Capture       capture.Status
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher sets the status channel.
func WithPublisher(p events.Publisher) Option {
	return func(r *Recorder) { r.pub = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Recorder wraps one Device. It owns the ring buffer and capture controller
// of the open stream.
type Recorder struct {
	mu      sync.Mutex
	device  Device
	pub     events.Publisher
	metrics Metrics
	log     logger.Logger
	devices *cache.Cache

	state   State
	cfg     Config
	ring    *ring.Buffer
	capture *capture.Controller
	stream  *stream
	pump    *pumpControl

	chunks      atomic.Uint64
	overflows   atomic.Uint64
	dropped     atomic.Uint64
	overflowLog *rate.Limiter
}

// stream is the per-Open state shared with the device thread. Its fields
// never change after Open.
type stream struct {
	r          *Recorder
	queue      *ringbuffer.RingBuffer
	notify     chan struct{}
	frameBytes int
	chunkBytes int
	chunkSize  int
	channels   int
	scale      float64
	ring       *ring.Buffer
	capture    *capture.Controller
}

type pumpControl struct {
	cancel context.CancelFunc
	drain  chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder wraps device. The recorder is Closed until Open.
func NewRecorder(device Device, opts ...Option) *Recorder {
	r := &Recorder{
		device:      device,
		metrics:     nopMetrics{},
		log:         GetLogger().With(logger.String("device_kind", device.Kind())),
		devices:     cache.New(deviceCacheTTL, 2*deviceCacheTTL),
		overflowLog: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnumerateDevices lists the devices of this recorder's kind. Results are
// cached briefly since enumeration can be slow on some host APIs.
func (r *Recorder) EnumerateDevices() ([]DeviceInfo, error) {
	key := r.device.Kind()
	if cached, found := r.devices.Get(key); found {
		return cached.([]DeviceInfo), nil
	}
	infos, err := r.device.Enumerate()
	if err != nil {
		return nil, err
	}
	r.devices.SetDefault(key, infos)
	return infos, nil
}

// RefreshDevices drops cached enumeration results.
func (r *Recorder) RefreshDevices() {
	r.devices.Flush()
}

// Open configures the device and allocates the ring buffer and capture
// controller. A failed stream must be reopened before it can start again.
func (r *Recorder) Open(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateOpen, StateRunning:
		return errors.Newf("recorder already %s: %w", r.state, ErrBusy).
			Component(componentName).
			Category(errors.CategoryDevice).
			Build()
	case StateFailed:
		if err := r.device.Close(); err != nil {
			r.log.Warn("closing failed device", logger.Error(err))
		}
		r.state = StateClosed
	}

	if cfg.NumChunks <= 0 {
		cfg.NumChunks = defaultNumChunks
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Channels <= 0 || cfg.ChunkSize <= 0 || !(cfg.SampleRate > 0) {
		return errors.Newf("channels=%d chunk_size=%d sample_rate=%g: %w",
			cfg.Channels, cfg.ChunkSize, cfg.SampleRate, ErrUnsupportedConfig).
			Component(componentName).
			Category(errors.CategoryDevice).
			Build()
	}

	rb, err := ring.New(cfg.NumChunks, cfg.ChunkSize, cfg.Channels)
	if err != nil {
		return err
	}
	ctrl := capture.NewController(cfg.Channels,
		capture.WithHistory(rb),
		capture.WithPublisher(r.pub),
		capture.WithObserver(r.metrics))

	frameBytes := cfg.Channels * bytesPerSample
	s := &stream{
		r:          r,
		queue:      ringbuffer.New(cfg.QueueDepth * cfg.ChunkSize * frameBytes),
		notify:     make(chan struct{}, 1),
		frameBytes: frameBytes,
		chunkBytes: cfg.ChunkSize * frameBytes,
		chunkSize:  cfg.ChunkSize,
		channels:   cfg.Channels,
		scale:      r.device.FullScale() / int16FullScale,
		ring:       rb,
		capture:    ctrl,
	}

	streamCfg := StreamConfig{
		DeviceName: cfg.DeviceName,
		Channels:   cfg.Channels,
		SampleRate: cfg.SampleRate,
		ChunkSize:  cfg.ChunkSize,
	}
	if err := r.device.Open(streamCfg, s); err != nil {
		return err
	}

	r.cfg = cfg
	r.ring = rb
	r.capture = ctrl
	r.stream = s
	r.state = StateOpen
	r.chunks.Store(0)

	r.log.Info("device opened",
		logger.String("device", cfg.DeviceName),
		logger.Int("channels", cfg.Channels),
		logger.Float64("sample_rate", cfg.SampleRate),
		logger.Int("chunk_size", cfg.ChunkSize),
		logger.Int("num_chunks", cfg.NumChunks))
	return nil
}

// Start begins streaming. Starting a running stream is a no-op reported on
// the status channel.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		r.log.Info("start ignored, stream already running")
		r.publish(events.NewStatusEvent(events.KindAlreadyRunning, componentName, "stream already running"))
		return nil
	case StateClosed:
		return errors.Newf("start: %w", ErrNotOpen).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	case StateFailed:
		return errors.Newf("start after failure, reopen required: %w", ErrStreamFailed).
			Component(componentName).
			Category(errors.CategoryDevice).
			Build()
	}

	r.startPumpLocked()
	if err := r.device.Start(); err != nil {
		r.stopPumpLocked(false)
		return err
	}

	r.state = StateRunning
	r.metrics.StreamState(true)
	r.log.Info("stream started")
	return nil
}

// Stop halts streaming. Partial chunks in the reassembly queue are
// discarded. Stopping a stream that is not running is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Recorder) stopLocked() error {
	if r.state != StateRunning {
		return nil
	}
	err := r.device.Stop()
	r.stopPumpLocked(false)
	r.stream.discardPending()
	r.state = StateOpen
	r.metrics.StreamState(false)
	r.publish(events.NewStatusEvent(events.KindStreamStopped, componentName, "stream stopped"))
	r.log.Info("stream stopped", logger.Uint64("chunks", r.chunks.Load()))
	return err
}

// Close stops the stream, cancels any capture and releases the device.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return nil
	}
	stopErr := r.stopLocked()
	if r.capture != nil {
		r.capture.Cancel()
	}
	closeErr := r.device.Close()
	r.state = StateClosed
	r.stream = nil
	r.log.Debug("device closed")
	return errors.Join(stopErr, closeErr)
}

func (r *Recorder) startPumpLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pumpControl{cancel: cancel, drain: make(chan struct{})}
	s := r.stream
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		s.run(ctx, p.drain)
	}()
	r.pump = p
}

// stopPumpLocked stops the chunk pump. With drain set, complete chunks
// already queued are processed first.
func (r *Recorder) stopPumpLocked(drain bool) {
	p := r.pump
	if p == nil {
		return
	}
	if drain {
		close(p.drain)
	} else {
		p.cancel()
	}
	p.wg.Wait()
	p.cancel()
	r.pump = nil
}

// fail tears down a stream after a device error. It runs off the device
// thread.
func (r *Recorder) fail(s *stream, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != s || r.state != StateRunning {
		return
	}
	r.stopPumpLocked(false)
	if err := r.device.Stop(); err != nil {
		r.log.Debug("stopping failed device", logger.Error(err))
	}
	s.discardPending()
	r.capture.Cancel()
	r.state = StateFailed
	r.metrics.StreamState(false)

	err := errors.Newf("%w: %w", ErrStreamFailed, cause).
		Component(componentName).
		Category(errors.CategoryDevice).
		Build()
	r.log.Error("stream failed", logger.Error(err))
	r.publish(events.NewStatusEvent(events.KindStreamFailed, componentName, err.Error()).WithErr(err))
}

// finish stops a finite source that ran out of data, processing every
// complete chunk first.
func (r *Recorder) finish(s *stream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != s || r.state != StateRunning {
		return
	}
	r.stopPumpLocked(true)
	if err := r.device.Stop(); err != nil {
		r.log.Debug("stopping finished device", logger.Error(err))
	}
	s.discardPending()
	r.state = StateOpen
	r.metrics.StreamState(false)
	r.publish(events.NewStatusEvent(events.KindStreamStopped, componentName, "end of stream"))
	r.log.Info("stream ended", logger.Uint64("chunks", r.chunks.Load()))
}

func (r *Recorder) overflow(dropped int) {
	n := r.overflows.Add(1)
	r.dropped.Add(uint64(dropped))
	r.metrics.Overflow(dropped)
	r.publish(events.NewStatusEvent(events.KindOverflow, componentName, "reassembly queue full").
		WithData("dropped_bytes", dropped).
		WithData("overflows", n))
	if r.overflowLog.Allow() {
		r.log.Warn("reassembly queue full, dropping device data",
			logger.Int("dropped_bytes", dropped),
			logger.Uint64("overflows", n))
	}
}

func (r *Recorder) publish(ev events.StatusEvent) {
	if r.pub == nil {
		return
	}
	r.pub.TryPublish(ev)
}

// OnData queues device frames. It never blocks: when the queue cannot hold
// the whole delivery it is dropped and an overflow is reported.
func (s *stream) OnData(pcm []byte) {
	pcm = pcm[:len(pcm)-len(pcm)%s.frameBytes]
	if len(pcm) == 0 {
		return
	}
	if s.queue.Free() < len(pcm) {
		s.r.overflow(len(pcm))
		return
	}
	if _, err := s.queue.Write(pcm); err != nil {
		s.r.overflow(len(pcm))
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// OnError hands the failure to a goroutine so device callbacks never wait
// on the recorder lock.
func (s *stream) OnError(err error) {
	go s.r.fail(s, err)
}

// OnEnd finishes the stream off the device thread.
func (s *stream) OnEnd() {
	go s.r.finish(s)
}

// discardPending drops queued frames and any stale wakeup so the next
// Start begins on a chunk boundary. The pump must be stopped.
func (s *stream) discardPending() {
	s.queue.Reset()
	select {
	case <-s.notify:
	default:
	}
}

// run is the chunk pump. It is the only reader of the queue.
func (s *stream) run(ctx context.Context, drain <-chan struct{}) {
	raw := make([]byte, s.chunkBytes)
	block := frames.New(s.chunkSize, s.channels)
	for {
		select {
		case <-ctx.Done():
			return
		case <-drain:
			s.processPending(ctx, raw, block)
			return
		case <-s.notify:
			s.processPending(ctx, raw, block)
		}
	}
}

func (s *stream) processPending(ctx context.Context, raw []byte, block frames.Block) {
	for s.queue.Length() >= s.chunkBytes {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(s.queue, raw); err != nil {
			s.r.log.Error("reading reassembly queue", logger.Error(err))
			return
		}
		s.onChunk(raw, block)
	}
}

// onChunk scales one chunk and runs it through the ring and the capture
// controller, in that order.
func (s *stream) onChunk(raw []byte, block frames.Block) {
	start := time.Now()

	for i := range block.Data {
		v := int16(binary.LittleEndian.Uint16(raw[i*bytesPerSample:]))
		block.Data[i] = float64(v) * s.scale
	}

	if err := s.ring.Write(block); err != nil {
		s.r.log.Error("ring write failed", logger.Error(err))
		return
	}
	if err := s.capture.Feed(block); err != nil {
		s.r.log.Error("capture feed failed", logger.Error(err))
	}
	if _, err := s.capture.CheckTrigger(block); err != nil {
		s.r.log.Error("trigger check failed", logger.Error(err))
	}

	s.r.chunks.Add(1)
	s.r.metrics.ChunkProcessed(time.Since(start), s.ring.FillRatio())
}

// Ring returns the live ring buffer of the open stream, nil when closed.
func (r *Recorder) Ring() *ring.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring
}

// Capture returns the capture controller of the open stream, nil when closed.
func (r *Recorder) Capture() *capture.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture
}

// Config returns the configuration of the open stream.
func (r *Recorder) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// State returns the stream state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot of the recorder and its capture session.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:         r.state,
		Kind:          r.device.Kind(),
		Config:        r.cfg,
		ChunksWritten: r.chunks.Load(),
		Overflows:     r.overflows.Load(),
		DroppedBytes:  r.dropped.Load(),
	}
	if r.ring != nil {
		st.RingFill = r.ring.FillRatio()
	}
	if r.capture != nil {
		st.Capture = r.capture.Status()
	}
	return st
}
