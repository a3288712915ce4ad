// Package capture implements duration and trigger capture sessions fed from
// the recorder's chunk callback.
package capture

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vibrolab/daqbench/internal/acquisition/ring"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/frames"
	"github.com/vibrolab/daqbench/internal/logger"
)

const componentName = "capture"

var (
	// ErrBusy is returned when arming a controller that is not idle.
	ErrBusy = errors.NewStd("capture controller busy")
	// ErrAlreadyArmed is returned when arming an armed controller. It also
	// matches ErrBusy.
	ErrAlreadyArmed = errors.NewStd("capture already armed")
	// ErrNotReady is returned by Flush before the capture completes.
	ErrNotReady = errors.NewStd("capture not ready")
	// ErrInvalidChannel is returned for a trigger channel outside [0, channels).
	ErrInvalidChannel = errors.NewStd("invalid trigger channel")
)

// Mode selects how a session ends.
type Mode int

const (
	// ModeDuration captures a fixed number of samples starting immediately.
	ModeDuration Mode = iota
	// ModeTrigger waits for a threshold crossing and keeps pre-trigger history.
	ModeTrigger
)

func (m Mode) String() string {
	switch m {
	case ModeDuration:
		return "duration"
	case ModeTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateCapturing
	StateFlushable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateCapturing:
		return "capturing"
	case StateFlushable:
		return "flushable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TriggerParams configures a trigger session.
type TriggerParams struct {
	Channel     int
	Threshold   float64
	PreSamples  int
	PostSamples int
}

// History supplies the most recent samples. *ring.Buffer satisfies it.
type History interface {
	Tail(n int) frames.Block
}

// Observer receives capture lifecycle counts, typically prometheus metrics.
type Observer interface {
	Triggered(channel int)
	CaptureCompleted(mode string, samples int)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State
	Mode      Mode
	SessionID string
	Captured  int
	Target    int
}

// Controller owns one capture session at a time. Feed and CheckTrigger run
// on the device thread; Arm, Cancel and Flush may be called from any
// goroutine. All share a single mutex held for at most one chunk append.
type Controller struct {
	mu       sync.Mutex
	channels int
	history  History
	pub      events.Publisher
	observer Observer
	log      logger.Logger

	state     State
	mode      Mode
	sessionID string
	target    int // post-trigger or total samples to capture
	trigger   TriggerParams

	pre      frames.Block
	captured []frames.Block
	count    int
	prev     frames.Block // last chunk, used for history when no History is set
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory sets the pre-trigger history source.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithPublisher sets the status channel.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.pub = p }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// NewController returns an idle controller for chunks with the given
// channel count.
func NewController(channels int, opts ...Option) *Controller {
	c := &Controller{
		channels: channels,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ArmDuration starts a duration session of exactly samples samples. The
// controller moves straight to Capturing.
func (c *Controller) ArmDuration(samples int) (string, error) {
	if samples <= 0 {
		return "", errors.Newf("duration capture needs a positive sample count, got %d", samples).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdle(); err != nil {
		return "", err
	}

	c.mode = ModeDuration
	c.target = samples
	c.sessionID = uuid.NewString()
	c.state = StateCapturing

	c.log.Debug("duration capture armed",
		logger.String("session_id", c.sessionID),
		logger.Int("samples", samples))
	return c.sessionID, nil
}

// ArmDurationSeconds arms a duration session of seconds*sampleRate samples.
func (c *Controller) ArmDurationSeconds(seconds, sampleRate float64) (string, error) {
	return c.ArmDuration(int(math.Round(seconds * sampleRate)))
}

// ArmTrigger arms a threshold trigger on p.Channel.
func (c *Controller) ArmTrigger(p TriggerParams) (string, error) {
	if p.Channel < 0 || p.Channel >= c.channels {
		return "", errors.Newf("trigger channel %d outside [0, %d): %w", p.Channel, c.channels, ErrInvalidChannel).
			Component(componentName).
			Category(errors.CategoryCapture).
			Context("channel", p.Channel).
			Build()
	}
	if p.PreSamples < 0 || p.PostSamples <= 0 || p.Threshold < 0 {
		return "", errors.Newf("invalid trigger parameters: pre=%d post=%d threshold=%g",
			p.PreSamples, p.PostSamples, p.Threshold).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdle(); err != nil {
		return "", err
	}

	c.mode = ModeTrigger
	c.trigger = p
	c.target = p.PostSamples
	c.sessionID = uuid.NewString()
	c.state = StateArmed

	c.log.Debug("trigger armed",
		logger.String("session_id", c.sessionID),
		logger.Int("channel", p.Channel),
		logger.Float64("threshold", p.Threshold),
		logger.Int("pre_samples", p.PreSamples),
		logger.Int("post_samples", p.PostSamples))
	return c.sessionID, nil
}

func (c *Controller) checkIdle() error {
	switch c.state {
	case StateIdle:
		return nil
	case StateArmed:
		return errors.Newf("session %s: %w: %w", c.sessionID, ErrAlreadyArmed, ErrBusy).
			Component(componentName).
			Category(errors.CategoryCapture).
			Context("state", c.state.String()).
			Build()
	default:
		return errors.Newf("controller is %s: %w", c.state, ErrBusy).
			Component(componentName).
			Category(errors.CategoryCapture).
			Context("state", c.state.String()).
			Build()
	}
}

// Feed appends chunk to an active capture. It is a no-op unless the
// controller is Capturing.
func (c *Controller) Feed(chunk frames.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCapturing {
		return nil
	}
	if chunk.Channels != c.channels {
		return c.shapeError(chunk)
	}
	c.appendLocked(chunk.Clone())
	return nil
}

// CheckTrigger tests chunk against the armed threshold. When it fires, the
// chunk is split at the trigger sample: history before it becomes the
// pre-trigger block and the tail opens the capture. It reports whether the
// trigger fired. Call it after Feed for every chunk.
func (c *Controller) CheckTrigger(chunk frames.Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history == nil {
		defer c.rememberPrev(chunk)
	}

	if c.state != StateArmed || c.mode != ModeTrigger {
		return false, nil
	}
	if chunk.Channels != c.channels {
		return false, c.shapeError(chunk)
	}

	pos, peak, fired := detect(chunk, c.trigger.Channel, c.trigger.Threshold)
	if !fired {
		return false, nil
	}

	c.pre = c.historyBefore(chunk, pos)
	c.state = StateCapturing
	c.publish(events.NewStatusEvent(events.KindTriggered, componentName, "trigger fired").
		WithData("channel", c.trigger.Channel).
		WithData("peak", peak))
	if c.observer != nil {
		c.observer.Triggered(c.trigger.Channel)
	}
	c.log.Debug("trigger fired",
		logger.String("session_id", c.sessionID),
		logger.Int("position", pos),
		logger.Float64("peak", peak))

	c.appendLocked(chunk.Slice(pos, chunk.Rows).Clone())
	return true, nil
}

// detect returns argmax |x - mean(x)| over the channel and whether it
// exceeds threshold.
func detect(chunk frames.Block, channel int, threshold float64) (pos int, peak float64, fired bool) {
	if chunk.Rows == 0 {
		return 0, 0, false
	}
	dev := chunk.Column(channel)
	mean := stat.Mean(dev, nil)
	for i, v := range dev {
		dev[i] = math.Abs(v - mean)
	}
	pos = floats.MaxIdx(dev)
	peak = dev[pos]
	return pos, peak, peak > threshold
}

// historyBefore returns the PreSamples samples immediately preceding row
// pos of chunk, zero-padded on the left when history is short.
func (c *Controller) historyBefore(chunk frames.Block, pos int) frames.Block {
	pre := c.trigger.PreSamples
	if pre == 0 {
		return frames.New(0, c.channels)
	}

	if c.history != nil {
		// The recorder writes the chunk to the ring before checking the
		// trigger, so the ring tail ends with the whole current chunk.
		want := pre + chunk.Rows - pos
		tail := frames.PadLeft(c.history.Tail(want), want)
		if tail.Channels == c.channels {
			return tail.Slice(0, pre).Clone()
		}
	}

	joined, err := frames.Concat(c.prev, chunk.Slice(0, pos))
	if err != nil || joined.Empty() {
		return frames.New(pre, c.channels)
	}
	if joined.Rows > pre {
		joined = joined.Slice(joined.Rows-pre, joined.Rows)
	}
	return frames.PadLeft(joined, pre)
}

func (c *Controller) rememberPrev(chunk frames.Block) {
	if chunk.Channels != c.channels {
		return
	}
	c.prev = chunk.Clone()
}

func (c *Controller) appendLocked(chunk frames.Block) {
	c.captured = append(c.captured, chunk)
	c.count += chunk.Rows
	if c.count < c.target {
		return
	}

	c.state = StateFlushable
	c.publish(events.NewStatusEvent(events.KindRecordingDone, componentName, "capture complete").
		WithData("mode", c.mode.String()).
		WithData("samples", c.target+c.pre.Rows))
	if c.observer != nil {
		c.observer.CaptureCompleted(c.mode.String(), c.target+c.pre.Rows)
	}
	c.log.Debug("capture complete",
		logger.String("session_id", c.sessionID),
		logger.String("mode", c.mode.String()),
		logger.Int("captured", c.count))
}

func (c *Controller) publish(ev events.StatusEvent) {
	if c.pub == nil {
		return
	}
	c.pub.TryPublish(ev.WithSession(c.sessionID))
}

// Flush returns the capture, pre-trigger history first, trimmed to exactly
// the requested length, and returns the controller to Idle.
func (c *Controller) Flush() (frames.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateFlushable {
		return frames.Block{}, errors.Newf("flush in state %s: %w", c.state, ErrNotReady).
			Component(componentName).
			Category(errors.CategoryCapture).
			Context("captured", c.count).
			Context("target", c.target).
			Build()
	}

	blocks := make([]frames.Block, 0, len(c.captured)+1)
	blocks = append(blocks, c.pre)
	blocks = append(blocks, c.captured...)
	out, err := frames.Concat(blocks...)
	if err != nil {
		return frames.Block{}, errors.New(err).
			Component(componentName).
			Category(errors.CategoryGeometry).
			Build()
	}

	want := c.pre.Rows + c.target
	if out.Rows > want {
		out = out.Slice(0, want)
	}

	c.resetLocked()
	return out, nil
}

// Cancel discards any session. After it returns, no further event of the
// cancelled session reaches a status consumer.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return
	}
	if c.pub != nil {
		c.pub.Suppress(c.sessionID)
	}
	c.log.Debug("capture cancelled",
		logger.String("session_id", c.sessionID),
		logger.String("state", c.state.String()))
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.mode = ModeDuration
	c.sessionID = ""
	c.target = 0
	c.trigger = TriggerParams{}
	c.pre = frames.Block{}
	c.captured = nil
	c.count = 0
}

// Resize changes the chunk channel count. It cancels any session.
func (c *Controller) Resize(channels int) {
	c.Cancel()
	c.mu.Lock()
	c.channels = channels
	c.prev = frames.Block{}
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Mode:      c.mode,
		SessionID: c.sessionID,
		Captured:  c.count,
		Target:    c.target,
	}
}

func (c *Controller) shapeError(chunk frames.Block) error {
	return errors.Newf("chunk has %d channels, controller expects %d: %w",
		chunk.Channels, c.channels, ring.ErrShapeMismatch).
		Component(componentName).
		Category(errors.CategoryGeometry).
		Build()
}

var _ History = (*ring.Buffer)(nil)
