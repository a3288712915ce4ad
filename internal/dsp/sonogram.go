package dsp

import (
	"math"
)

// SonogramResult is a one-sided STFT stored row-major, one row per time
// bin and Width/2+1 columns.
type SonogramResult struct {
	Data  []complex128
	Rows  int
	Cols  int
	Width int
	Hop   int
}

// At returns the bin at time row r and frequency column c.
func (s SonogramResult) At(r, c int) complex128 { return s.Data[r*s.Cols+c] }

// Row returns time row r. The slice aliases Data.
func (s SonogramResult) Row(r int) []complex128 { return s.Data[r*s.Cols : (r+1)*s.Cols] }

// Phase returns arg per bin, row-major like Data.
func (s SonogramResult) Phase() []float64 { return Phase(s.Data) }

// MagnitudeDB returns 20·log10|S| per bin, row-major like Data.
func (s SonogramResult) MagnitudeDB() []float64 { return MagnitudeDB(s.Data) }

// SonogramHop is the STFT hop W·(1 − 1/O) rounded to whole samples. The
// overlap factor O must exceed 1.
func SonogramHop(width int, overlap float64) (int, error) {
	if width < 2 {
		return 0, parameterError("sonogram", "window width %d below 2", width)
	}
	if !(overlap > 1) || math.IsInf(overlap, 0) {
		return 0, parameterError("sonogram", "overlap factor %g must exceed 1", overlap)
	}
	hop := int(math.Round(float64(width) * (1 - 1/overlap)))
	return max(hop, 1), nil
}

// Sonogram computes the Hann-windowed STFT of x with window width and
// overlap factor O.
func Sonogram(x []float64, width int, overlap float64) (SonogramResult, error) {
	hop, err := SonogramHop(width, overlap)
	if err != nil {
		return SonogramResult{}, err
	}
	if len(x) < width {
		return SonogramResult{}, dimensionError("sonogram", width, len(x))
	}

	rows := 1 + (len(x)-width)/hop
	cols := Bins(width)
	res := SonogramResult{
		Data:  make([]complex128, rows*cols),
		Rows:  rows,
		Cols:  cols,
		Width: width,
		Hop:   hop,
	}
	plan := NewPlan(width)
	for r := range rows {
		start := r * hop
		if _, err := plan.Spectrum(res.Row(r), x[start:start+width]); err != nil {
			return SonogramResult{}, err
		}
	}
	return res, nil
}

// SonogramTimes returns the start time of each STFT row.
func SonogramTimes(rows, hop int, sampleRate float64) []float64 {
	t := make([]float64, rows)
	for r := range t {
		t[r] = float64(r*hop) / sampleRate
	}
	return t
}

// SonogramFrequencies returns the W/2+1 bin frequencies spanning [0, fs/2].
func SonogramFrequencies(width int, sampleRate float64) []float64 {
	return Frequencies(width, sampleRate)
}

// Omega converts frequencies in Hz to angular frequency.
func Omega(freq []float64) []float64 {
	out := make([]float64, len(freq))
	for i, f := range freq {
		out[i] = 2 * math.Pi * f
	}
	return out
}

// Unwrap removes 2π jumps from a phase sequence.
func Unwrap(phase []float64) []float64 {
	out := make([]float64, len(phase))
	if len(phase) == 0 {
		return out
	}
	out[0] = phase[0]
	offset := 0.0
	for i := 1; i < len(phase); i++ {
		d := phase[i] - phase[i-1]
		switch {
		case d > math.Pi:
			offset -= 2 * math.Pi
		case d < -math.Pi:
			offset += 2 * math.Pi
		}
		out[i] = phase[i] + offset
	}
	return out
}
