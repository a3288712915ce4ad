// Package soundcard captures from a host audio interface through miniaudio.
package soundcard

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// Config selects the host API. Device names come from the stream config.
type Config struct {
	Backend string
}

// Device is a malgo capture device.
type Device struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	handler atomic.Pointer[acquisition.StreamHandler]
	name    atomic.Pointer[string]

	// stopping is set while Stop drives the device down so the stop
	// callback can tell an intentional stop from a lost device.
	stopping atomic.Bool
}

// New returns a sound card device.
func New(cfg Config) *Device {
	return &Device{
		cfg: cfg,
		log: logger.Global().Module("acquisition.soundcard"),
	}
}

func (d *Device) Kind() string { return acquisition.KindSoundCard }

func (d *Device) FullScale() float64 { return 1 }

func (d *Device) Enumerate() ([]acquisition.DeviceInfo, error) {
	mctx, err := d.initContext()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, acquisition.DeviceError(d.Kind(), "enumerate", mapResult(err), err)
	}
	list := candidates(infos)
	out := make([]acquisition.DeviceInfo, 0, len(list))
	for _, c := range list {
		out = append(out, acquisition.DeviceInfo{
			Name:      c.name,
			Kind:      acquisition.KindSoundCard,
			ID:        c.id,
			IsDefault: c.isDefault,
		})
	}
	return out, nil
}

// Open initialises the capture device at the requested rate with int16
// samples and one period per chunk. A device that cannot run at exactly
// the requested rate is rejected.
func (d *Device) Open(cfg acquisition.StreamConfig, handler acquisition.StreamHandler) error {
	if cfg.Channels <= 0 || cfg.ChunkSize <= 0 || !(cfg.SampleRate > 0) {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()

	mctx, err := d.initContext()
	if err != nil {
		return err
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		d.freeContext(mctx)
		return acquisition.DeviceError(d.Kind(), "open", mapResult(err), err)
	}
	list := candidates(infos)
	chosen, ok := selectCandidate(list, cfg.DeviceName)
	if !ok {
		d.freeContext(mctx)
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrDeviceNotFound,
			errors.Newf("no capture device matches %q among %d", cfg.DeviceName, len(list)).
				Component("acquisition.soundcard").
				Category(errors.CategoryNotFound).
				Context("device_name", cfg.DeviceName).
				Build())
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Capture.DeviceID = infos[chosen.index].ID.Pointer()
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.ChunkSize)
	devCfg.Alsa.NoMMap = 1

	d.handler.Store(&handler)
	d.name.Store(&chosen.name)
	d.stopping.Store(false)
	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		d.freeContext(mctx)
		return acquisition.DeviceError(d.Kind(), "open", mapResult(err), err)
	}

	if got := dev.SampleRate(); float64(got) != cfg.SampleRate {
		dev.Uninit()
		d.freeContext(mctx)
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig,
			errors.Newf("device runs at %d Hz, requested %g Hz", got, cfg.SampleRate).
				Component("acquisition.soundcard").
				Category(errors.CategoryDevice).
				Build())
	}
	if f := dev.CaptureFormat(); f != malgo.FormatS16 {
		dev.Uninit()
		d.freeContext(mctx)
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig,
			errors.Newf("device delivers format %d, want signed 16-bit", f).
				Component("acquisition.soundcard").
				Category(errors.CategoryDevice).
				Build())
	}

	d.ctx, d.device = mctx, dev
	d.log.Info("capture device opened",
		logger.String("device", chosen.name),
		logger.String("id", chosen.id),
		logger.Int("channels", cfg.Channels),
		logger.Float64("sample_rate", cfg.SampleRate),
		logger.Int("period_frames", cfg.ChunkSize))
	return nil
}

func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return acquisition.DeviceError(d.Kind(), "start", acquisition.ErrNotOpen, nil)
	}
	if d.device.IsStarted() {
		return nil
	}
	d.stopping.Store(false)
	if err := d.device.Start(); err != nil {
		return acquisition.DeviceError(d.Kind(), "start", mapResult(err), err)
	}
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Device) stopLocked() error {
	if d.device == nil || !d.device.IsStarted() {
		return nil
	}
	d.stopping.Store(true)
	if err := d.device.Stop(); err != nil {
		return acquisition.DeviceError(d.Kind(), "stop", acquisition.ErrStreamFailed, err)
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.stopLocked()
	d.closeLocked()
	return err
}

func (d *Device) closeLocked() {
	if d.device != nil {
		d.stopping.Store(true)
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		d.freeContext(d.ctx)
		d.ctx = nil
	}
	d.handler.Store(nil)
}

func (d *Device) initContext() (*malgo.AllocatedContext, error) {
	backend, err := platformBackend(d.cfg.Backend)
	if err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(msg string) {
		d.log.Debug("miniaudio", logger.String("message", strings.TrimSpace(msg)))
	})
	if err != nil {
		return nil, acquisition.DeviceError(d.Kind(), "init-context", acquisition.ErrDeviceNotFound, err)
	}
	return mctx, nil
}

func (d *Device) freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// onData runs on the audio thread.
func (d *Device) onData(_, in []byte, _ uint32) {
	if h := d.handler.Load(); h != nil && len(in) > 0 {
		(*h).OnData(in)
	}
}

// onStop runs on the audio thread whenever the device stops. Only a stop
// nobody asked for is reported.
func (d *Device) onStop() {
	if d.stopping.Load() {
		return
	}
	h := d.handler.Load()
	if h == nil {
		return
	}
	var name string
	if p := d.name.Load(); p != nil {
		name = *p
	}
	d.log.Warn("capture device stopped unexpectedly", logger.String("device", name))
	(*h).OnError(acquisition.DeviceError(d.Kind(), "stream", acquisition.ErrStreamFailed,
		errors.NewStd("device stopped unexpectedly")))
}

var _ acquisition.Device = (*Device)(nil)
