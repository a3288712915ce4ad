// Package dsp holds the pure signal-processing kernels: windows, real FFT
// spectra, auto and cross spectra, transfer function with coherence,
// sonogram and the single-degree-of-freedom modal peak model.
//
// All frequency-domain vectors are one-sided with N/2+1 bins. Kernels are
// synchronous and allocate their results; a Plan can be reused to avoid
// per-call FFT setup.
package dsp

import (
	"math"

	"github.com/vibrolab/daqbench/internal/errors"
)

var (
	// ErrDimensionMismatch reports inputs whose lengths do not agree.
	ErrDimensionMismatch = errors.NewStd("dimension mismatch")
	// ErrNonFinite reports NaN or infinite input samples.
	ErrNonFinite = errors.NewStd("non-finite input")
	// ErrInvalidParameter reports a window, overlap or segment setting
	// outside its domain.
	ErrInvalidParameter = errors.NewStd("invalid parameter")
)

func dimensionError(operation string, want, got int) error {
	return errors.Newf("%s: %w: want %d samples, got %d", operation, ErrDimensionMismatch, want, got).
		Component("dsp").
		Category(errors.CategoryDSP).
		Context("operation", operation).
		Context("want", want).
		Context("got", got).
		Build()
}

func parameterError(operation, format string, args ...any) error {
	return errors.Newf("%s: %w: "+format, append([]any{operation, ErrInvalidParameter}, args...)...).
		Component("dsp").
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Build()
}

// CheckFinite returns ErrNonFinite for the first NaN or Inf in x.
func CheckFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Newf("%w at sample %d", ErrNonFinite, i).
				Component("dsp").
				Category(errors.CategoryDSP).
				Context("index", i).
				Build()
		}
	}
	return nil
}
