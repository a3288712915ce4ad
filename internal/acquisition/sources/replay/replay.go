// Package replay plays a recorded WAV or FLAC file back as a live stream.
package replay

import (
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/tphakala/flac"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/pcm"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// Config selects the file to replay.
type Config struct {
	Path string
	Loop bool
	// Paced delivers chunks at the file's sample rate. Unpaced replay runs
	// as fast as the recorder drains.
	Paced bool
	Fs    afero.Fs
}

// Clip is a decoded file as interleaved int16 frames.
type Clip struct {
	SampleRate int
	Channels   int
	Frames     int
	PCM        []byte
}

// Device replays a Clip.
type Device struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	clip   *Clip
	player *pcm.Player
	pos    int // byte offset into clip.PCM
}

// New returns a replay device for cfg.
func New(cfg Config) *Device {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	return &Device{
		cfg: cfg,
		log: logger.Global().Module("acquisition.replay"),
	}
}

func (d *Device) Kind() string { return acquisition.KindReplay }

func (d *Device) FullScale() float64 { return 1 }

func (d *Device) Enumerate() ([]acquisition.DeviceInfo, error) {
	if d.cfg.Path == "" {
		return nil, nil
	}
	return []acquisition.DeviceInfo{{
		Name:      filepath.Base(d.cfg.Path),
		Kind:      acquisition.KindReplay,
		ID:        d.cfg.Path,
		IsDefault: true,
	}}, nil
}

// Open decodes the file and checks it against the requested stream. The
// file must match the configured channel count and sample rate exactly.
func (d *Device) Open(cfg acquisition.StreamConfig, handler acquisition.StreamHandler) error {
	clip, err := Load(d.cfg.Fs, d.cfg.Path)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFile) {
			return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig, err)
		}
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrDeviceNotFound, err)
	}
	if clip.Channels != cfg.Channels || float64(clip.SampleRate) != cfg.SampleRate {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig,
			errors.Newf("file has %d channels at %d Hz, stream wants %d at %g Hz",
				clip.Channels, clip.SampleRate, cfg.Channels, cfg.SampleRate).
				Component("acquisition.replay").
				Category(errors.CategoryDevice).
				Build())
	}
	if cfg.ChunkSize <= 0 {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		_ = d.player.Stop()
	}
	d.clip = clip
	d.pos = 0

	interval := pcm.ChunkInterval(cfg.ChunkSize, cfg.SampleRate)
	if !d.cfg.Paced {
		interval = 0
	}
	d.player = pcm.NewPlayer(handler, cfg.ChunkSize*cfg.Channels*pcm.BytesPerSample, interval, d.next)

	d.log.Info("replay file opened",
		logger.String("path", d.cfg.Path),
		logger.Int("channels", clip.Channels),
		logger.Int("sample_rate", clip.SampleRate),
		logger.Int("frames", clip.Frames),
		logger.Bool("loop", d.cfg.Loop))
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
	d.clip = nil
	d.mu.Unlock()
	return err
}

// next copies the following chunk of the clip into buf. The last chunk of a
// non-looping clip may be short; the recorder keeps the remainder queued
// until the stream ends.
func (d *Device) next(buf []byte) (int, error) {
	data := d.clip.PCM
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(buf) {
		if d.pos >= len(data) {
			if !d.cfg.Loop {
				break
			}
			d.pos = 0
		}
		c := copy(buf[n:], data[d.pos:])
		n += c
		d.pos += c
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ErrUnsupportedFile marks files that decode but cannot be replayed.
var ErrUnsupportedFile = errors.NewStd("unsupported replay file")

// Load decodes a WAV or FLAC file into int16 frames. Wider samples are
// reduced to their top 16 bits.
func Load(fs afero.Fs, path string) (*Clip, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return loadWAV(f, path)
	case ".flac":
		return loadFLAC(f, path)
	default:
		return nil, unsupported(path, "extension %q", filepath.Ext(path))
	}
}

func loadWAV(r io.ReadSeeker, path string) (*Clip, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, unsupported(path, "not a valid WAV file")
	}
	shift, err := shiftFor(int(dec.BitDepth), path)
	if err != nil {
		return nil, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(err).
			Component("acquisition.replay").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	channels := int(dec.NumChans)
	frames := len(buf.Data) / channels
	out := make([]byte, frames*channels*pcm.BytesPerSample)
	for i, s := range buf.Data[:frames*channels] {
		pcm.Put(out, i, narrow(int32(s), shift))
	}
	return &Clip{SampleRate: int(dec.SampleRate), Channels: channels, Frames: frames, PCM: out}, nil
}

func loadFLAC(r io.Reader, path string) (*Clip, error) {
	dec, err := flac.NewDecoder(r)
	if err != nil {
		return nil, unsupported(path, "flac: %v", err)
	}
	shift, err := shiftFor(dec.BitsPerSample, path)
	if err != nil {
		return nil, err
	}
	width := dec.BitsPerSample / 8

	var out []byte
	if dec.TotalSamples > 0 {
		out = make([]byte, 0, int(dec.TotalSamples)*dec.NChannels*pcm.BytesPerSample)
	}
	var sample [pcm.BytesPerSample]byte
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(err).
				Component("acquisition.replay").
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
		for i := 0; i+width <= len(frame); i += width {
			binary.LittleEndian.PutUint16(sample[:], uint16(narrow(decodeLE(frame[i:i+width]), shift)))
			out = append(out, sample[:]...)
		}
	}

	frameBytes := dec.NChannels * pcm.BytesPerSample
	frames := len(out) / frameBytes
	return &Clip{
		SampleRate: dec.SampleRate,
		Channels:   dec.NChannels,
		Frames:     frames,
		PCM:        out[:frames*frameBytes],
	}, nil
}

func shiftFor(bitDepth int, path string) (uint, error) {
	switch bitDepth {
	case 16:
		return 0, nil
	case 24:
		return 8, nil
	case 32:
		return 16, nil
	default:
		return 0, unsupported(path, "bit depth %d", bitDepth)
	}
}

// decodeLE sign-extends a little-endian sample of 2 to 4 bytes.
func decodeLE(b []byte) int32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	unused := uint(32 - 8*len(b))
	return int32(v<<unused) >> unused
}

func narrow(s int32, shift uint) int16 {
	v := s >> shift
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func unsupported(path, format string, args ...any) error {
	return errors.Newf("%w: "+format, append([]any{ErrUnsupportedFile}, args...)...).
		Component("acquisition.replay").
		Category(errors.CategoryValidation).
		Context("path", path).
		Build()
}

var _ acquisition.Device = (*Device)(nil)
