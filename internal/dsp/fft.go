package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// Bins is the one-sided spectrum length of an n-sample real signal.
func Bins(n int) int { return n/2 + 1 }

// Plan is a reusable Hann-windowed real FFT of fixed length. A Plan is not
// safe for concurrent use; give each goroutine its own.
type Plan struct {
	n      int
	fft    *fourier.FFT
	window []float64
	buf    []float64
}

// NewPlan prepares a plan for n-sample inputs.
func NewPlan(n int) *Plan {
	return &Plan{
		n:      n,
		fft:    fourier.NewFFT(n),
		window: Hann(n),
		buf:    make([]float64, n),
	}
}

// Len is the input length of the plan.
func (p *Plan) Len() int { return p.n }

// Window returns the plan's Hann window. Callers must not modify it.
func (p *Plan) Window() []float64 { return p.window }

// Spectrum computes rFFT(x·w) into dst, allocating when dst is nil.
func (p *Plan) Spectrum(dst []complex128, x []float64) ([]complex128, error) {
	if len(x) != p.n {
		return nil, dimensionError("spectrum", p.n, len(x))
	}
	if dst != nil && len(dst) != Bins(p.n) {
		return nil, dimensionError("spectrum", Bins(p.n), len(dst))
	}
	for i := range x {
		p.buf[i] = x[i] * p.window[i]
	}
	return p.fft.Coefficients(dst, p.buf), nil
}

// Transform computes the unwindowed rFFT of x into dst.
func (p *Plan) Transform(dst []complex128, x []float64) ([]complex128, error) {
	if len(x) != p.n {
		return nil, dimensionError("rfft", p.n, len(x))
	}
	if dst != nil && len(dst) != Bins(p.n) {
		return nil, dimensionError("rfft", Bins(p.n), len(dst))
	}
	return p.fft.Coefficients(dst, x), nil
}

// RFFT returns the unwindowed one-sided FFT of x.
func RFFT(x []float64) []complex128 {
	if len(x) == 0 {
		return nil
	}
	return fourier.NewFFT(len(x)).Coefficients(nil, x)
}

// Spectrum returns rFFT(x·w) with a Hann window of len(x).
func Spectrum(x []float64) []complex128 {
	if len(x) == 0 {
		return nil
	}
	out, _ := NewPlan(len(x)).Spectrum(nil, x)
	return out
}

// Frequencies returns the bin frequencies k·fs/n of an n-sample rFFT.
func Frequencies(n int, sampleRate float64) []float64 {
	if n <= 0 {
		return nil
	}
	f := make([]float64, Bins(n))
	for k := range f {
		f[k] = float64(k) * sampleRate / float64(n)
	}
	return f
}
