package dsp

import (
	"math"
	"math/cmplx"
)

// AutoSpectrum returns S_xx = X·conj(X), the real non-negative power.
func AutoSpectrum(x []complex128) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		out[k] = real(v)*real(v) + imag(v)*imag(v)
	}
	return out
}

// CrossSpectrum returns S_xy = conj(X)·Y.
func CrossSpectrum(x, y []complex128) ([]complex128, error) {
	if len(x) != len(y) {
		return nil, dimensionError("cross-spectrum", len(x), len(y))
	}
	out := make([]complex128, len(x))
	for k := range x {
		out[k] = cmplx.Conj(x[k]) * y[k]
	}
	return out, nil
}

// DB returns 20·log10(|v|). Zero maps to -Inf.
func DB(v complex128) float64 {
	return 20 * math.Log10(cmplx.Abs(v))
}

// MagnitudeDB applies DB to every bin.
func MagnitudeDB(x []complex128) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		out[k] = DB(v)
	}
	return out
}

// AmplitudeDB returns 20·log10(|v|) of real values.
func AmplitudeDB(x []float64) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		out[k] = 20 * math.Log10(math.Abs(v))
	}
	return out
}

// Phase returns arg(v) per bin in radians.
func Phase(x []complex128) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		out[k] = cmplx.Phase(v)
	}
	return out
}
