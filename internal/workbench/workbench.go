// Package workbench wires the acquisition engine, the analysis pipeline and
// the archive into the acquisition session run by the command line.
package workbench

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/acquisition/capture"
	"github.com/vibrolab/daqbench/internal/acquisition/sources"
	"github.com/vibrolab/daqbench/internal/analysis"
	"github.com/vibrolab/daqbench/internal/archive"
	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/logger"
	"github.com/vibrolab/daqbench/internal/observability"
)

const (
	componentName = "workbench"

	busShutdownTimeout = 2 * time.Second
	statusBuffer       = 256
	monitorInterval    = time.Second
	donePollInterval   = 50 * time.Millisecond
)

// ErrStreamEnded is returned when the device stream stops before an armed
// capture completes.
var ErrStreamEnded = errors.NewStd("stream ended before capture completed")

// Result is one completed capture.
type Result struct {
	SessionID string
	Set       *channel.Set
	Saved     *archive.Saved // nil when archiving is disabled
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithFs sets the filesystem used for replay files and the archive.
func WithFs(fs afero.Fs) Option {
	return func(w *Workbench) { w.fs = fs }
}

// WithDevice replaces the device selected by the settings.
func WithDevice(d acquisition.Device) Option {
	return func(w *Workbench) { w.device = d }
}

// WithWorkspace sets the workspace whose path roots a relative archive directory.
func WithWorkspace(ws *conf.Workspace) Option {
	return func(w *Workbench) { w.workspace = ws }
}

// WithCaptureHandler is called with every completed capture.
func WithCaptureHandler(fn func(Result)) Option {
	return func(w *Workbench) { w.onCapture = fn }
}

// Workbench owns one recorder and processes its captures.
type Workbench struct {
	settings  *conf.Settings
	workspace *conf.Workspace
	fs        afero.Fs
	device    acquisition.Device
	onCapture func(Result)

	bus      *events.EventBus
	status   <-chan events.StatusEvent
	metrics  *observability.Metrics
	recorder *acquisition.Recorder
	pipeline *analysis.Pipeline
	store    *archive.Store
	log      logger.Logger
}

// New builds the engine described by settings. The stream is opened by Run.
func New(settings *conf.Settings, opts ...Option) (*Workbench, error) {
	w := &Workbench{
		settings: settings,
		fs:       afero.NewOsFs(),
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workspace == nil {
		w.workspace = conf.CurrentWorkspace()
	}

	if w.device == nil {
		d, err := sources.New(&settings.Device, w.fs)
		if err != nil {
			return nil, err
		}
		w.device = d
	}

	cfg, err := analysis.ConfigFromSettings(settings.Analysis)
	if err != nil {
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	w.metrics = m

	busCfg := settings.EventBus
	w.bus = events.New(&busCfg)
	if err := w.bus.RegisterConsumer(events.NewLogConsumer(nil)); err != nil {
		return nil, err
	}
	status, _, err := w.bus.Subscribe(componentName, statusBuffer)
	if err != nil {
		_ = w.bus.Shutdown(busShutdownTimeout)
		return nil, err
	}
	w.status = status
	if settings.EventBus.ReportErrors {
		errors.SetReporter(w.bus.ErrorReporter())
	}

	w.recorder = acquisition.NewRecorder(w.device,
		acquisition.WithPublisher(w.bus),
		acquisition.WithMetrics(m.Acquisition))
	w.pipeline = analysis.New(cfg,
		analysis.WithPublisher(w.bus),
		analysis.WithRecorder(m.Analysis))

	if settings.Archive.Enabled {
		arch := settings.Archive
		if !filepath.IsAbs(arch.Directory) && w.workspace.Path != "" {
			arch.Directory = filepath.Join(w.workspace.Path, arch.Directory)
		}
		w.store = archive.NewStore(w.fs, arch)
	}
	return w, nil
}

// Recorder returns the recorder driven by the workbench.
func (w *Workbench) Recorder() *acquisition.Recorder { return w.recorder }

// Pipeline returns the analysis pipeline.
func (w *Workbench) Pipeline() *analysis.Pipeline { return w.pipeline }

// Metrics returns the metric collectors.
func (w *Workbench) Metrics() *observability.Metrics { return w.metrics }

// Run opens and starts the stream, then takes capture.count captures, or
// captures until ctx is done when the count is 0. Without auto_arm it only
// monitors the live stream until ctx is done. The stream is closed on return.
func (w *Workbench) Run(ctx context.Context) (err error) {
	if err := w.recorder.Open(sources.StreamConfig(&w.settings.Device)); err != nil {
		return err
	}
	defer func() {
		if cerr := w.recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := w.recorder.Start(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	defer func() {
		close(quitChan)
		wg.Wait()
	}()
	w.startMetricsEndpoint(&wg, quitChan)

	if !w.settings.Capture.AutoArm {
		w.monitor(ctx)
		return nil
	}

	count := w.settings.Capture.Count
	for n := 0; count == 0 || n < count; n++ {
		if _, err := w.CaptureOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// CaptureOnce arms a capture per the capture settings on the running
// stream, waits for it to complete, then analyses and archives it.
// Cancelling ctx cancels the armed capture.
func (w *Workbench) CaptureOnce(ctx context.Context) (Result, error) {
	ctrl := w.recorder.Capture()
	if ctrl == nil {
		return Result{}, errors.Newf("capture: %w", acquisition.ErrNotOpen).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}

	session, err := w.arm(ctrl)
	if err != nil {
		return Result{}, err
	}
	w.log.Info("capture armed",
		logger.String("session", session),
		logger.String("mode", w.settings.Capture.Mode))

	if err := w.waitDone(ctx, ctrl, session); err != nil {
		ctrl.Cancel()
		w.bus.Suppress(session)
		return Result{}, err
	}

	block, err := ctrl.Flush()
	if err != nil {
		return Result{}, err
	}

	set, err := w.pipeline.Process(ctx, block, w.recorder.Config().SampleRate, session)
	if err != nil {
		return Result{}, err
	}
	res := Result{SessionID: session, Set: set}

	if w.store != nil {
		saved, err := w.store.Save(set, archive.Info{Session: session})
		if err != nil {
			return Result{}, err
		}
		res.Saved = &saved
		if _, err := w.store.Prune(time.Now()); err != nil {
			w.log.Warn("archive retention failed", logger.Error(err))
		}
	}

	w.log.Info("capture complete",
		logger.String("session", session),
		logger.Int("samples", block.Rows),
		logger.Int("channels", block.Channels))
	if w.onCapture != nil {
		w.onCapture(res)
	}
	return res, nil
}

func (w *Workbench) arm(ctrl *capture.Controller) (string, error) {
	c := w.settings.Capture
	switch c.Mode {
	case conf.CaptureTrigger:
		return ctrl.ArmTrigger(capture.TriggerParams{
			Channel:     c.TriggerChannel,
			Threshold:   c.Threshold,
			PreSamples:  c.PreSamples,
			PostSamples: c.PostSamples,
		})
	default:
		if c.Samples > 0 {
			return ctrl.ArmDuration(c.Samples)
		}
		return ctrl.ArmDurationSeconds(c.Duration, w.recorder.Config().SampleRate)
	}
}

// waitDone blocks until recording_done arrives for session. The controller
// state is polled as well since the status bus drops events when saturated.
func (w *Workbench) waitDone(ctx context.Context, ctrl *capture.Controller, session string) error {
	poll := time.NewTicker(donePollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component(componentName).
				Category(errors.CategoryCancellation).
				Context("session", session).
				Build()
		case <-poll.C:
			if ctrl.State() == capture.StateFlushable {
				return nil
			}
		case ev := <-w.status:
			switch ev.Kind {
			case events.KindRecordingDone:
				if ev.SessionID == session {
					return nil
				}
			case events.KindStreamFailed, events.KindStreamStopped:
				if ctrl.State() == capture.StateFlushable {
					return nil
				}
				if ev.Err != nil {
					return errors.Join(ErrStreamEnded, ev.Err)
				}
				return ErrStreamEnded
			}
		}
	}
}

// monitor logs the dominant frequency of the live stream until ctx is done.
func (w *Workbench) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	rate := w.recorder.Config().SampleRate
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rb := w.recorder.Ring()
			if rb == nil {
				continue
			}
			live, err := analysis.LiveSpectrum(rb.Snapshot(), 0, rate, true)
			if err != nil {
				w.log.Debug("live spectrum unavailable", logger.Error(err))
				continue
			}
			w.log.Debug("live stream",
				logger.Float64("peak_hz", live.Frequency[live.Peak()]),
				logger.Float64("ring_fill", rb.FillRatio()))
		}
	}
}

func (w *Workbench) startMetricsEndpoint(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	if !w.settings.Metrics.Enabled {
		return
	}
	endpoint, err := observability.NewEndpoint(w.settings.Metrics, w.metrics)
	if err != nil {
		w.log.Warn("metrics endpoint not started", logger.Error(err))
		return
	}
	endpoint.Start(wg, quitChan)
}

// Close releases the stream and drains the status bus.
func (w *Workbench) Close() error {
	if w.settings.EventBus.ReportErrors {
		errors.SetReporter(nil)
	}
	err := w.recorder.Close()
	if berr := w.bus.Shutdown(busShutdownTimeout); berr != nil {
		err = errors.Join(err, berr)
	}
	return err
}
