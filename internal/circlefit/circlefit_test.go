package circlefit

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibrolab/daqbench/internal/dsp"
)

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func TestFitCircleExact(t *testing.T) {
	t.Parallel()
	const n = 50
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range n {
		theta := 2 * math.Pi * float64(i) / n
		x[i] = 1 + 3*math.Cos(theta)
		y[i] = -2 + 3*math.Sin(theta)
	}
	c, err := FitCircle(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.X0, 1e-9)
	assert.InDelta(t, -2.0, c.Y0, 1e-9)
	assert.InDelta(t, 3.0, c.R, 1e-9)
}

func TestFitCircleArc(t *testing.T) {
	t.Parallel()
	x := make([]float64, 20)
	y := make([]float64, 20)
	for i := range x {
		theta := 0.1 + 0.1*float64(i)
		x[i] = -1 + 0.5*math.Cos(theta)
		y[i] = 2 + 0.5*math.Sin(theta)
	}
	c, err := FitCircle(x, y)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, c.X0, 1e-6)
	assert.InDelta(t, 2.0, c.Y0, 1e-6)
	assert.InDelta(t, 0.5, c.R, 1e-6)
}

func TestFitCircleDegenerate(t *testing.T) {
	t.Parallel()
	_, err := FitCircle([]float64{0, 1, 2, 3}, []float64{0, 1, 2, 3})
	assert.ErrorIs(t, err, ErrCircleFitDegenerate)

	_, err = FitCircle([]float64{0, 1}, []float64{0, 1})
	assert.ErrorIs(t, err, ErrCircleFitDegenerate)

	_, err = FitCircle([]float64{0, 1, 2}, []float64{0, 1})
	assert.ErrorIs(t, err, dsp.ErrDimensionMismatch)
}

func sdof(omega []float64, m dsp.Mode, tfType dsp.TFType) []complex128 {
	return Reconstruct(omega, []dsp.Mode{m}, tfType)
}

func TestFitRecoversSDOF(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 500, 1024)
	truth := dsp.Mode{OmegaR: 100, ZetaR: 0.01, CR: 1, Phi: 0}
	tf := sdof(omega, truth, dsp.Displacement)

	res, err := Fit(omega, tf, Band{Lo: 90, Hi: 110}, dsp.Displacement)
	require.NoError(t, err)
	require.NoError(t, res.Warning)
	assert.True(t, res.Refined())

	assert.InEpsilon(t, 100, res.Mode.OmegaR, 1e-3)
	assert.InEpsilon(t, 0.01, res.Mode.ZetaR, 0.05)
	assert.InEpsilon(t, 1, res.Mode.CR, 0.05)
	assert.InDelta(t, 0, res.Mode.Phi, 0.05)
	assert.Less(t, res.Residual, 1e-6)
}

func TestFitVelocityPeak(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 500, 1024)
	truth := dsp.Mode{OmegaR: 240, ZetaR: 0.02, CR: 3, Phi: 0.4}
	tf := sdof(omega, truth, dsp.Velocity)

	res, err := Fit(omega, tf, Band{Lo: 220, Hi: 260}, dsp.Velocity)
	require.NoError(t, err)
	require.NoError(t, res.Warning)
	assert.InEpsilon(t, 240, res.Mode.OmegaR, 5e-3)
	assert.InEpsilon(t, 0.02, res.Mode.ZetaR, 0.2)
}

func TestFitInitialEstimate(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 500, 1024)
	tf := sdof(omega, dsp.Mode{OmegaR: 100, ZetaR: 0.01, CR: 1}, dsp.Displacement)
	res, err := Fit(omega, tf, Band{Lo: 90, Hi: 110}, dsp.Displacement)
	require.NoError(t, err)

	var best int
	for i, w := range omega {
		if w >= 90 && w <= 110 && cmplx.Abs(tf[i]) > cmplx.Abs(tf[best]) {
			best = i
		}
	}
	assert.InDelta(t, omega[best], res.Initial.OmegaR, 0)
	assert.InDelta(t, InitialDamping, res.Initial.ZetaR, 0)
	assert.InDelta(t, cmplx.Abs(tf[best]), res.Initial.CR, 0)
	assert.InDelta(t, cmplx.Phase(tf[best]), res.Initial.Phi, 0)
}

func TestFitDegenerateFallsBackToEstimate(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 10, 11)
	tf := make([]complex128, len(omega))
	for i, w := range omega {
		tf[i] = complex(w, w)
	}
	res, err := Fit(omega, tf, Band{Lo: 2, Hi: 8}, dsp.Displacement)
	require.NoError(t, err)
	require.ErrorIs(t, res.Warning, ErrCircleFitDegenerate)
	assert.False(t, res.Refined())
	assert.Equal(t, res.Initial, res.Mode)
	assert.InDelta(t, 8, res.Mode.OmegaR, 0)
}

func TestFitInputErrors(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 10, 11)
	tf := make([]complex128, 11)

	_, err := Fit(omega, tf[:5], Band{Lo: 0, Hi: 10}, dsp.Displacement)
	assert.ErrorIs(t, err, dsp.ErrDimensionMismatch)
	_, err = Fit(omega, tf, Band{Lo: 5, Hi: 5}, dsp.Displacement)
	assert.ErrorIs(t, err, dsp.ErrInvalidParameter)
	_, err = Fit(omega, tf, Band{Lo: 20, Hi: 30}, dsp.Displacement)
	assert.ErrorIs(t, err, ErrEmptyBand)
}

func TestFitSkipsNonFiniteBins(t *testing.T) {
	t.Parallel()
	omega := linspace(0, 500, 1024)
	tf := sdof(omega, dsp.Mode{OmegaR: 100, ZetaR: 0.01, CR: 1}, dsp.Displacement)
	for i := range tf {
		if i%7 == 0 {
			tf[i] = cmplx.NaN()
		}
	}
	res, err := Fit(omega, tf, Band{Lo: 90, Hi: 110}, dsp.Displacement)
	require.NoError(t, err)
	require.NoError(t, res.Warning)
	assert.InEpsilon(t, 100, res.Mode.OmegaR, 1e-3)
}

func TestEvaluateMatchesModelAtTruth(t *testing.T) {
	t.Parallel()
	omega := linspace(80, 120, 64)
	m := dsp.Mode{OmegaR: 100, ZetaR: 0.01, CR: 1}
	r := Result{Mode: m, Circle: Circle{X0: 0, Y0: -1 / (2 * 0.01 * 100 * 100), R: 1 / (2 * 0.01 * 100 * 100)}, TFType: dsp.Displacement}
	got := r.Evaluate(omega)
	want := sdof(omega, m, dsp.Displacement)
	for i := range got {
		require.InDelta(t, real(want[i]), real(got[i]), 1e-12)
		require.InDelta(t, imag(want[i]), imag(got[i]), 1e-12)
	}
}

func TestReconstructSumsModes(t *testing.T) {
	t.Parallel()
	omega := []float64{50, 150}
	a := dsp.Mode{OmegaR: 100, ZetaR: 0.02, CR: 1}
	b := dsp.Mode{OmegaR: 200, ZetaR: 0.05, CR: 2, Phi: 1}
	sum := Reconstruct(omega, []dsp.Mode{a, b}, dsp.Acceleration)
	for i, w := range omega {
		want := dsp.Acceleration.Factor(w) * (a.At(w) + b.At(w))
		assert.InDelta(t, real(want), real(sum[i]), 1e-12)
		assert.InDelta(t, imag(want), imag(sum[i]), 1e-12)
	}
	assert.Equal(t, []complex128{0, 0}, Reconstruct(omega, nil, dsp.Displacement))
}
