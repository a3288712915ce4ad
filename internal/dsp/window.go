package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

// Hann returns the symmetric Hann window of length n,
// w[i] = 0.5·(1 − cos(2πi/(n−1))). A length-1 window is [1].
func Hann(n int) []float64 {
	if n <= 0 {
		return nil
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	if n == 1 {
		return w
	}
	return window.Hann(w)
}

// ExponentialWeighting returns v[i] = exp(2i/(n−1)), the amplitude
// emphasis applied to live display buffers. Stored spectra never use it.
func ExponentialWeighting(n int) []float64 {
	if n <= 0 {
		return nil
	}
	v := make([]float64, n)
	if n == 1 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = math.Exp(2 * float64(i) / float64(n-1))
	}
	return v
}

// ApplyWindow writes x·w into dst and returns it. dst is allocated when nil.
func ApplyWindow(dst, x, w []float64) ([]float64, error) {
	if len(x) != len(w) {
		return nil, dimensionError("window", len(w), len(x))
	}
	if dst == nil {
		dst = make([]float64, len(x))
	} else if len(dst) != len(x) {
		return nil, dimensionError("window", len(x), len(dst))
	}
	for i := range x {
		dst[i] = x[i] * w[i]
	}
	return dst, nil
}
