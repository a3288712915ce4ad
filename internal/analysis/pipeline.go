// Package analysis turns flushed captures into analysed channel sets:
// spectra, transfer functions against a reference channel, sonograms and
// SDOF circle fits. Problems with individual channels or fits are reported
// on the status channel and never abort a run.
package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/circlefit"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/frames"
	"github.com/vibrolab/daqbench/internal/logger"
	"github.com/vibrolab/daqbench/internal/observability/metrics"
)

const source = "analysis"

// Config selects the datasets computed for every capture.
type Config struct {
	ReferenceChannel     int
	WindowWidth          int
	Overlap              float64
	SegmentLength        int // Welch segment for the transfer function, 0 for the whole capture
	TransferFunctionType dsp.TFType
	CalibrationFactor    float64
	TransferFunction     bool
	Sonogram             bool
	Average              bool // accumulate transfer-function spectra across captures
	Workers              int
}

// ConfigFromSettings converts the analysis section of the settings.
func ConfigFromSettings(s conf.AnalysisSettings) (Config, error) {
	tf, err := dsp.ParseTFType(s.TransferFunctionType)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ReferenceChannel:     s.ReferenceChannel,
		WindowWidth:          s.WindowWidth,
		Overlap:              s.Overlap,
		SegmentLength:        s.SegmentLength,
		TransferFunctionType: tf,
		CalibrationFactor:    s.CalibrationFactor,
		TransferFunction:     s.TransferFunction,
		Sonogram:             s.Sonogram,
		Average:              s.Average,
		Workers:              s.Workers,
	}, nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher sets the status channel for warnings.
func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) { pl.pub = p }
}

// WithFitStore shares an existing circle-fit parameter store.
func WithFitStore(s *circlefit.Store) Option {
	return func(pl *Pipeline) {
		if s != nil {
			pl.fits = s
		}
	}
}

// WithRecorder sets the metrics sink for pipeline operations.
func WithRecorder(r metrics.Recorder) Option {
	return func(pl *Pipeline) {
		if r != nil {
			pl.metrics = r
		}
	}
}

// Pipeline analyses captures. It is safe for concurrent use.
type Pipeline struct {
	cfg     Config
	pub     events.Publisher
	fits    *circlefit.Store
	metrics metrics.Recorder
	log     logger.Logger

	mu  sync.Mutex
	acc map[int]*dsp.TFAccumulator
}

// New returns a pipeline with an empty fit store.
func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	p := &Pipeline{
		cfg:     cfg,
		fits:    circlefit.NewStore(),
		metrics: metrics.NopRecorder{},
		log:     GetLogger(),
		acc:     make(map[int]*dsp.TFAccumulator),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Fits returns the circle-fit parameter store.
func (p *Pipeline) Fits() *circlefit.Store { return p.fits }

// Process builds a channel set from a flushed capture and computes the
// configured datasets for every channel in parallel.
func (p *Pipeline) Process(ctx context.Context, block frames.Block, sampleRate float64, sessionID string) (set *channel.Set, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordDuration(metrics.OpProcess, time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordOperation(metrics.OpProcess, metrics.StatusError)
			p.metrics.RecordError(metrics.OpProcess, string(errors.CategoryOf(err)))
			return
		}
		p.metrics.RecordOperation(metrics.OpProcess, metrics.StatusSuccess)
	}()

	set, err = channel.FromBlock(block, sampleRate)
	if err != nil {
		return nil, err
	}
	md := map[string]any{channel.KeyTransferFunctionType: p.cfg.TransferFunctionType.String()}
	if p.cfg.CalibrationFactor > 0 {
		md[channel.KeyCalibrationFactor] = p.cfg.CalibrationFactor
	}
	if err := set.SetMetadata(channel.All(), md); err != nil {
		return nil, err
	}

	chs := set.Channels()
	var ref []float64
	if p.cfg.TransferFunction {
		if p.cfg.ReferenceChannel < 0 || p.cfg.ReferenceChannel >= len(chs) {
			return nil, analysisError(ErrInvalidChannel, "process", "reference %d of %d channels", p.cfg.ReferenceChannel, len(chs))
		}
		ref = chs[p.cfg.ReferenceChannel].GetData(channel.TimeSeries).Real
		if err := dsp.CheckFinite(ref); err != nil {
			p.warn(events.KindModelWarning, sessionID, "reference channel is not finite, transfer functions skipped", err, nil)
			ref = nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, ch := range chs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.New(ErrAnalysisCanceled).
					Component("analysis").
					Category(errors.CategoryCancellation).
					Context("channel", i).
					Build()
			}
			return p.processChannel(i, ch, ref, sessionID)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.log.Debug("capture analysed",
		logger.String("session", sessionID),
		logger.Int("channels", len(chs)),
		logger.Int("samples", block.Rows))
	return set, nil
}

func (p *Pipeline) processChannel(i int, ch *channel.Channel, ref []float64, sessionID string) error {
	x := ch.GetData(channel.TimeSeries).Real
	data := map[string]any{"channel": i}
	if err := dsp.CheckFinite(x); err != nil {
		p.warn(events.KindModelWarning, sessionID, fmt.Sprintf("channel %d is not finite, analysis skipped", i), err, data)
		return nil
	}
	if err := ch.SetData(channel.Spectrum, channel.Complexes(dsp.Spectrum(x))); err != nil {
		return err
	}

	if ref != nil {
		tf, err := p.transfer(i, ref, x)
		if err != nil {
			p.warn(events.KindModelWarning, sessionID, fmt.Sprintf("transfer function of channel %d", i), err, data)
		} else {
			if err := ch.SetData(channel.TransferFunction, channel.Complexes(tf.H)); err != nil {
				return err
			}
			if err := ch.SetData(channel.Coherence, channel.Reals(tf.Coherence)); err != nil {
				return err
			}
		}
	}

	if p.cfg.Sonogram {
		son, err := dsp.Sonogram(x, p.cfg.WindowWidth, p.cfg.Overlap)
		if err != nil {
			p.warn(events.KindModelWarning, sessionID, fmt.Sprintf("sonogram of channel %d", i), err, data)
			return nil
		}
		if err := ch.SetData(channel.Sonogram, channel.ComplexMatrix(son.Data, son.Rows, son.Cols)); err != nil {
			return err
		}
		if err := ch.SetData(channel.SonogramPhase, channel.RealMatrix(son.Phase(), son.Rows, son.Cols)); err != nil {
			return err
		}
		if err := ch.SetSonogramParams(son.Width, son.Hop); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) transfer(i int, ref, x []float64) (dsp.TransferResult, error) {
	segment := p.cfg.SegmentLength
	if segment > len(x) {
		segment = 0
	}
	if !p.cfg.Average {
		return dsp.TransferFunction(ref, x, segment)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.acc[i]
	if !ok {
		acc = &dsp.TFAccumulator{}
		p.acc[i] = acc
	}
	if err := acc.Add(ref, x, segment); err != nil {
		return dsp.TransferResult{}, err
	}
	return acc.Result(), nil
}

// Averages returns the spectra accumulated for channel i.
func (p *Pipeline) Averages(i int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.acc[i]; ok {
		return acc.Averages()
	}
	return 0
}

// ResetAverages drops accumulated transfer-function spectra.
func (p *Pipeline) ResetAverages() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.acc)
}

// FitPeak fits one SDOF peak inside band on every selected channel and
// records the results under peak. Fit warnings are published and kept in
// the store; only missing data or bad input fail the call.
func (p *Pipeline) FitPeak(set *channel.Set, peak int, band circlefit.Band, sel channel.Selector, sessionID string) ([]circlefit.Result, error) {
	idx, err := sel.Resolve(set.Len())
	if err != nil {
		return nil, err
	}
	p.fits.SetBand(peak, band)

	results := make([]circlefit.Result, 0, len(idx))
	for _, i := range idx {
		ch, err := set.Channel(i)
		if err != nil {
			return nil, err
		}
		tf := ch.GetData(channel.TransferFunction)
		if tf.Empty() {
			return nil, analysisError(ErrNoTransferFunction, "fit", "channel %d", i)
		}
		_, omega := ch.TransferAxes()
		if len(omega) != len(tf.Complex) {
			return nil, analysisError(ErrNoTransferFunction, "fit", "channel %d has no transfer function axis", i)
		}
		md := ch.Metadata()
		res, err := circlefit.Fit(omega, tf.Complex, band, md.TransferFunctionType)
		if err != nil {
			return nil, err
		}
		p.fits.Update(peak, i, res)
		if res.Warning == nil {
			p.metrics.RecordOperation(metrics.OpFit, metrics.StatusSuccess)
		} else {
			p.metrics.RecordOperation(metrics.OpFit, metrics.StatusWarning)
			p.warn(events.KindFitWarning, sessionID, fmt.Sprintf("peak %d on channel %d kept its initial estimate", peak, i), res.Warning,
				map[string]any{"peak": peak, "channel": i})
		}
		results = append(results, res)
	}
	return results, nil
}

// Reconstruct sums the stored modes of channel i over the bins of its
// transfer function, for overlay on the measured data.
func (p *Pipeline) Reconstruct(set *channel.Set, i int) ([]complex128, error) {
	ch, err := set.Channel(i)
	if err != nil {
		return nil, err
	}
	tf := ch.GetData(channel.TransferFunction)
	if tf.Empty() {
		return nil, analysisError(ErrNoTransferFunction, "reconstruct", "channel %d", i)
	}
	_, omega := ch.TransferAxes()
	if len(omega) != len(tf.Complex) {
		return nil, analysisError(ErrNoTransferFunction, "reconstruct", "channel %d has no transfer function axis", i)
	}
	return circlefit.Reconstruct(omega, p.fits.Modes(i), ch.Metadata().TransferFunctionType), nil
}

func (p *Pipeline) warn(kind events.Kind, sessionID, msg string, err error, data map[string]any) {
	p.log.Warn(msg,
		logger.String("kind", string(kind)),
		logger.String("session", sessionID),
		logger.Error(err))
	if p.pub == nil {
		return
	}
	ev := events.NewStatusEvent(kind, source, msg).WithSession(sessionID).WithErr(err)
	for k, v := range data {
		ev = ev.WithData(k, v)
	}
	p.pub.TryPublish(ev)
}
