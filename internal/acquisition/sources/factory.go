// Package sources builds acquisition devices from settings.
package sources

import (
	"github.com/spf13/afero"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/daq"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/replay"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/soundcard"
	"github.com/vibrolab/daqbench/internal/acquisition/sources/synthetic"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
)

// New returns the device selected by settings.Kind. Replay files are read
// from fs, or from the OS filesystem when fs is nil.
func New(settings *conf.DeviceSettings, fs afero.Fs) (acquisition.Device, error) {
	switch settings.Kind {
	case conf.DeviceSoundCard:
		return soundcard.New(soundcard.Config{Backend: settings.Backend}), nil

	case conf.DeviceDAQ:
		return daq.New(daq.Config{
			Command: settings.DAQ.Command,
			Args:    settings.DAQ.Args,
		}), nil

	case conf.DeviceReplay:
		return replay.New(replay.Config{
			Path:  settings.Replay.Path,
			Loop:  settings.Replay.Loop,
			Paced: true,
			Fs:    fs,
		}), nil

	case conf.DeviceSynthetic:
		s := settings.Synthetic
		return synthetic.New(synthetic.Config{
			Signal:     s.Signal,
			Frequency:  s.Frequency,
			Amplitude:  s.Amplitude,
			Floor:      s.Floor,
			BurstAfter: s.BurstAfter,
			Seed:       uint64(s.Seed),
			Paced:      s.Paced,
		}), nil

	default:
		return nil, errors.Newf("%w: unknown device kind %q", acquisition.ErrUnsupportedConfig, settings.Kind).
			Component("acquisition").
			Category(errors.CategoryConfiguration).
			Context("device_kind", settings.Kind).
			Build()
	}
}

// StreamConfig derives the recorder configuration from settings.
func StreamConfig(settings *conf.DeviceSettings) acquisition.Config {
	return acquisition.Config{
		DeviceName: settings.Name,
		Channels:   settings.Channels,
		SampleRate: settings.SampleRate,
		ChunkSize:  settings.ChunkSize,
		NumChunks:  settings.NumChunks,
		QueueDepth: settings.QueueDepth,
	}
}
