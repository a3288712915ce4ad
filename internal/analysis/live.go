package analysis

import (
	"gonum.org/v1/gonum/floats"

	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/frames"
)

// Live is a display spectrum of the latest ring contents.
type Live struct {
	Frequency []float64
	DB        []float64
}

// Peak returns the bin of the largest level, ignoring DC.
func (l Live) Peak() int {
	if len(l.DB) < 2 {
		return 0
	}
	return 1 + floats.MaxIdx(l.DB[1:])
}

// LiveSpectrum returns the dB spectrum of channel c of a ring snapshot.
// With weighted set the exponential display emphasis is applied along time
// before the Hann-windowed FFT. The result is for display only.
func LiveSpectrum(snapshot frames.Block, c int, sampleRate float64, weighted bool) (Live, error) {
	if c < 0 || c >= snapshot.Channels {
		return Live{}, analysisError(ErrInvalidChannel, "live-spectrum", "channel %d of %d", c, snapshot.Channels)
	}
	if snapshot.Rows < 2 {
		return Live{}, analysisError(dsp.ErrDimensionMismatch, "live-spectrum", "snapshot of %d samples", snapshot.Rows)
	}
	x := snapshot.Column(c)
	if weighted {
		var err error
		if x, err = dsp.ApplyWindow(x, x, dsp.ExponentialWeighting(len(x))); err != nil {
			return Live{}, err
		}
	}
	return Live{
		Frequency: dsp.Frequencies(len(x), sampleRate),
		DB:        dsp.MagnitudeDB(dsp.Spectrum(x)),
	}, nil
}
