// Package synthetic provides a signal generator device for hardware-less
// operation, demos and tests.
package synthetic

import (
	"io"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/pcm"
	"github.com/vibrolab/daqbench/internal/errors"
)

// Signals understood by the generator.
const (
	SignalSine    = "sine"
	SignalNoise   = "noise"
	SignalBurst   = "burst"
	SignalSilence = "silence"
)

// burstDecay is the time constant of the burst envelope in seconds.
const burstDecay = 0.05

// Config describes the generated signal.
type Config struct {
	Signal    string
	Frequency float64 // Hz, sine and burst carrier
	Amplitude float64 // unit scale
	// Floor is the amplitude of the sine before a burst starts. The burst
	// itself is a decaying cosine of Amplitude.
	Floor float64
	// BurstAfter is the number of chunks before the burst begins.
	BurstAfter int
	Seed       uint64
	// Paced delivers chunks at the sample rate instead of as fast as possible.
	Paced bool
	// MaxChunks ends the stream after that many chunks; 0 runs forever.
	MaxChunks int
}

// Device generates int16 frames.
type Device struct {
	cfg Config

	mu     sync.Mutex
	stream acquisition.StreamConfig
	player *pcm.Player
	n      int // next sample index
	chunks int
	noise  []distuv.Normal
}

// New returns a synthetic device.
func New(cfg Config) *Device {
	if cfg.Signal == "" {
		cfg.Signal = SignalSine
	}
	return &Device{cfg: cfg}
}

func (d *Device) Kind() string { return acquisition.KindSynthetic }

func (d *Device) FullScale() float64 { return 1 }

func (d *Device) Enumerate() ([]acquisition.DeviceInfo, error) {
	return []acquisition.DeviceInfo{{
		Name:      "synthetic " + d.cfg.Signal,
		Kind:      acquisition.KindSynthetic,
		ID:        "synthetic:" + d.cfg.Signal,
		IsDefault: true,
	}}, nil
}

func (d *Device) Open(cfg acquisition.StreamConfig, handler acquisition.StreamHandler) error {
	switch d.cfg.Signal {
	case SignalSine, SignalNoise, SignalBurst, SignalSilence:
	default:
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig,
			errors.NewStd("unknown signal "+d.cfg.Signal))
	}
	if cfg.Channels <= 0 || cfg.ChunkSize <= 0 || !(cfg.SampleRate > 0) {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		_ = d.player.Stop()
	}
	d.stream = cfg
	d.n, d.chunks = 0, 0
	d.noise = make([]distuv.Normal, cfg.Channels)
	for ch := range d.noise {
		d.noise[ch] = distuv.Normal{
			Mu:    0,
			Sigma: d.cfg.Amplitude,
			Src:   rand.NewPCG(d.cfg.Seed, uint64(ch)+1),
		}
	}

	interval := pcm.ChunkInterval(cfg.ChunkSize, cfg.SampleRate)
	if !d.cfg.Paced {
		interval = 0
	}
	d.player = pcm.NewPlayer(handler, cfg.ChunkSize*cfg.Channels*pcm.BytesPerSample, interval, d.next)
	return nil
}

func (d *Device) Start() error {
	d.mu.Lock()
	p := d.player
	d.mu.Unlock()
	if p == nil {
		return acquisition.DeviceError(d.Kind(), "start", acquisition.ErrNotOpen, nil)
	}
	return p.Start()
}

func (d *Device) Stop() error {
	d.mu.Lock()
	p := d.player
	d.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Stop()
}

func (d *Device) Close() error {
	err := d.Stop()
	d.mu.Lock()
	d.player = nil
	d.mu.Unlock()
	return err
}

// next fills one chunk. It runs on the player goroutine only.
func (d *Device) next(buf []byte) (int, error) {
	if d.cfg.MaxChunks > 0 && d.chunks >= d.cfg.MaxChunks {
		return 0, io.EOF
	}
	channels := d.stream.Channels
	frames := len(buf) / (channels * pcm.BytesPerSample)
	for i := range frames {
		for ch := range channels {
			pcm.Put(buf, i*channels+ch, pcm.Quantize(d.sample(d.n, ch)))
		}
		d.n++
	}
	d.chunks++
	return frames * channels * pcm.BytesPerSample, nil
}

func (d *Device) sample(n, ch int) float64 {
	t := float64(n) / d.stream.SampleRate
	switch d.cfg.Signal {
	case SignalSine:
		return d.cfg.Amplitude * math.Sin(2*math.Pi*d.cfg.Frequency*t)
	case SignalNoise:
		return d.noise[ch].Rand()
	case SignalBurst:
		onset := d.cfg.BurstAfter * d.stream.ChunkSize
		if n < onset {
			return d.cfg.Floor * math.Sin(2*math.Pi*d.cfg.Frequency*t)
		}
		// Decaying cosine: the onset is the largest sample of the burst.
		k := float64(n-onset) / d.stream.SampleRate
		return d.cfg.Amplitude * math.Exp(-k/burstDecay) * math.Cos(2*math.Pi*d.cfg.Frequency*k)
	default:
		return 0
	}
}

var _ acquisition.Device = (*Device)(nil)
