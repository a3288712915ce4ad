package dsp

import (
	"math"
	"math/cmplx"
)

// TransferResult is an averaged transfer function estimate between a
// reference channel x and a response channel y.
type TransferResult struct {
	// H is S_yy/S_xy per bin; NaN where S_xx or S_xy vanishes.
	H []complex128
	// Coherence is |S_xy|²/(S_xx·S_yy) clamped to [0, 1]; NaN where the
	// denominator vanishes.
	Coherence []float64
	Sxx       []float64
	Syy       []float64
	Sxy       []complex128
	// Averages is the number of spectra summed into the estimate.
	Averages int
}

// Segments returns the Welch segment starts for an n-sample signal split
// into segment-length windows with 50% overlap. segment 0 uses the whole
// signal as one segment.
func Segments(n, segment int) ([]int, error) {
	if segment == 0 || segment == n {
		if n == 0 {
			return nil, dimensionError("segments", 1, 0)
		}
		return []int{0}, nil
	}
	if segment < 2 {
		return nil, parameterError("segments", "segment length %d below 2", segment)
	}
	if segment > n {
		return nil, dimensionError("segments", segment, n)
	}
	hop := segment / 2
	starts := make([]int, 0, 1+(n-segment)/hop)
	for s := 0; s+segment <= n; s += hop {
		starts = append(starts, s)
	}
	return starts, nil
}

// TransferFunction estimates H = S_yy/S_xy and coherence from x (reference)
// and y (response), averaging Hann-windowed Welch segments of the given
// length. A single segment always yields coherence 1 where defined.
func TransferFunction(x, y []float64, segment int) (TransferResult, error) {
	var acc TFAccumulator
	if err := acc.Add(x, y, segment); err != nil {
		return TransferResult{}, err
	}
	return acc.Result(), nil
}

// TFAccumulator sums auto and cross spectra across segments and captures.
// The zero value is ready to use. The bin count is fixed by the first Add.
type TFAccumulator struct {
	sxx  []float64
	syy  []float64
	sxy  []complex128
	n    int
	plan *Plan
}

// Add accumulates the Welch segments of one x/y capture.
func (a *TFAccumulator) Add(x, y []float64, segment int) error {
	if len(x) != len(y) {
		return dimensionError("transfer-function", len(x), len(y))
	}
	starts, err := Segments(len(x), segment)
	if err != nil {
		return err
	}
	if segment == 0 {
		segment = len(x)
	}
	if a.plan == nil || a.plan.Len() != segment {
		if a.sxx != nil && Bins(segment) != len(a.sxx) {
			return dimensionError("transfer-function", 2*(len(a.sxx)-1), segment)
		}
		a.plan = NewPlan(segment)
	}
	bins := Bins(segment)
	if a.sxx == nil {
		a.sxx = make([]float64, bins)
		a.syy = make([]float64, bins)
		a.sxy = make([]complex128, bins)
	}

	xs := make([]complex128, bins)
	ys := make([]complex128, bins)
	for _, s := range starts {
		if _, err := a.plan.Spectrum(xs, x[s:s+segment]); err != nil {
			return err
		}
		if _, err := a.plan.Spectrum(ys, y[s:s+segment]); err != nil {
			return err
		}
		for k := range bins {
			a.sxx[k] += real(xs[k])*real(xs[k]) + imag(xs[k])*imag(xs[k])
			a.syy[k] += real(ys[k])*real(ys[k]) + imag(ys[k])*imag(ys[k])
			a.sxy[k] += cmplx.Conj(xs[k]) * ys[k]
		}
		a.n++
	}
	return nil
}

// Averages is the number of segments accumulated.
func (a *TFAccumulator) Averages() int { return a.n }

// Reset drops all accumulated spectra.
func (a *TFAccumulator) Reset() {
	*a = TFAccumulator{}
}

// Result returns the averaged estimate. The accumulator keeps its sums.
func (a *TFAccumulator) Result() TransferResult {
	bins := len(a.sxx)
	res := TransferResult{
		H:         make([]complex128, bins),
		Coherence: make([]float64, bins),
		Sxx:       make([]float64, bins),
		Syy:       make([]float64, bins),
		Sxy:       make([]complex128, bins),
		Averages:  a.n,
	}
	if a.n == 0 {
		return res
	}
	scale := 1 / float64(a.n)
	nan := complex(math.NaN(), math.NaN())
	for k := range bins {
		sxx := a.sxx[k] * scale
		syy := a.syy[k] * scale
		sxy := a.sxy[k] * complex(scale, 0)
		res.Sxx[k], res.Syy[k], res.Sxy[k] = sxx, syy, sxy

		if sxx == 0 || sxy == 0 {
			res.H[k] = nan
		} else {
			res.H[k] = complex(syy, 0) / sxy
		}

		den := sxx * syy
		if den == 0 {
			res.Coherence[k] = math.NaN()
			continue
		}
		g := (real(sxy)*real(sxy) + imag(sxy)*imag(sxy)) / den
		res.Coherence[k] = math.Min(1, math.Max(0, g))
	}
	return res
}
