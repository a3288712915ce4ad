package circlefit

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/optimize"

	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/errors"
)

const (
	// InitialDamping is ζ_r of the argmax estimate.
	InitialDamping = 0.01
	// MaxIterations bounds Nelder–Mead major iterations.
	MaxIterations = 20000

	// tanh saturates beyond this, pinning ω_r to the band edge.
	edgeClamp = 0.999999
)

// Band is an inclusive angular-frequency interval in rad/s.
type Band struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// Contains reports whether w lies inside the band.
func (b Band) Contains(w float64) bool { return w >= b.Lo && w <= b.Hi }

// Valid reports whether the band is a non-empty finite interval.
func (b Band) Valid() bool {
	return b.Hi > b.Lo && !math.IsInf(b.Lo, 0) && !math.IsInf(b.Hi, 0)
}

// Result is the outcome of one peak fit. Warning carries
// ErrCircleFitDegenerate or ErrFitNonConvergent when Mode is the argmax
// estimate instead of a refined fit.
type Result struct {
	Mode       dsp.Mode
	Initial    dsp.Mode
	Circle     Circle
	TFType     dsp.TFType
	Residual   float64
	Iterations int
	Warning    error
}

// Refined reports whether Mode came from a converged refinement.
func (r Result) Refined() bool { return r.Warning == nil }

// Evaluate returns the fitted curve (x0 + j·y0) − R0·e^{jφ_adj} + k(ω)·p(ω).
func (r Result) Evaluate(omega []float64) []complex128 {
	m := model{circle: r.Circle, tfType: r.TFType}
	out := make([]complex128, len(omega))
	for i, w := range omega {
		out[i] = m.at(r.Mode, w)
	}
	return out
}

// Fit extracts the SDOF parameters of the peak inside band from a transfer
// function sampled at omega. Points outside the band or with non-finite
// values are ignored. Warnings are reported in Result.Warning; the error
// return is reserved for inputs that cannot be fitted at all.
func Fit(omega []float64, tf []complex128, band Band, tfType dsp.TFType) (Result, error) {
	if len(omega) != len(tf) {
		return Result{}, errors.Newf("fit: %w: %d frequencies, %d transfer function bins", dsp.ErrDimensionMismatch, len(omega), len(tf)).
			Component("circlefit").
			Category(errors.CategoryDSP).
			Build()
	}
	if !band.Valid() {
		return Result{}, errors.Newf("fit: %w: band [%g, %g]", dsp.ErrInvalidParameter, band.Lo, band.Hi).
			Component("circlefit").
			Category(errors.CategoryValidation).
			Build()
	}

	var w []float64
	var h []complex128
	for i, wi := range omega {
		if band.Contains(wi) && !cmplx.IsNaN(tf[i]) && !cmplx.IsInf(tf[i]) {
			w = append(w, wi)
			h = append(h, tf[i])
		}
	}
	if len(w) < 3 {
		return Result{}, errors.Newf("fit: %w: %d points in [%g, %g]", ErrEmptyBand, len(w), band.Lo, band.Hi).
			Component("circlefit").
			Category(errors.CategoryFit).
			Build()
	}

	peak := argmaxAbs(h)
	initial := dsp.Mode{
		OmegaR: w[peak],
		ZetaR:  InitialDamping,
		CR:     cmplx.Abs(h[peak]),
		Phi:    cmplx.Phase(h[peak]),
	}
	res := Result{Mode: initial, Initial: initial, TFType: tfType}

	re := make([]float64, len(h))
	im := make([]float64, len(h))
	for i, v := range h {
		re[i], im[i] = real(v), imag(v)
	}
	circle, err := FitCircle(re, im)
	if err != nil {
		res.Warning = err
		return res, nil
	}
	res.Circle = circle

	lo, hi := w[0], w[0]
	for _, wi := range w {
		lo, hi = math.Min(lo, wi), math.Max(hi, wi)
	}
	start := startingMode(w, h, peak, tfType)
	obj := &objective{
		model: model{circle: circle, tfType: tfType},
		omega: w,
		tf:    h,
		lo:    lo,
		hi:    hi,
		zs:    start.ZetaR,
		cs:    start.CR,
	}
	for _, v := range h {
		obj.norm += real(v)*real(v) + imag(v)*imag(v)
	}
	if obj.norm == 0 {
		res.Warning = degenerate("transfer function vanishes in band")
		return res, nil
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-16,
			Relative:   1e-10,
			Iterations: 200,
		},
		MajorIterations: MaxIterations,
	}
	out, err := optimize.Minimize(optimize.Problem{Func: obj.eval}, obj.encode(start), settings, &optimize.NelderMead{})
	if err != nil || out == nil || math.IsNaN(out.F) || math.IsInf(out.F, 0) {
		res.Warning = nonConvergent(out, err)
		return res, nil
	}

	mode := obj.decode(out.X).Canonical()
	if err := mode.Validate(); err != nil {
		res.Warning = nonConvergent(out, err)
		return res, nil
	}
	res.Mode = mode
	res.Residual = out.F
	res.Iterations = out.MajorIterations
	return res, nil
}

func nonConvergent(out *optimize.Result, cause error) error {
	b := errors.Newf("fit: %w: %v", ErrFitNonConvergent, cause).
		Component("circlefit").
		Category(errors.CategoryFit).
		Priority(errors.PriorityLow)
	if out != nil {
		b = b.Context("status", out.Status.String()).Context("iterations", out.MajorIterations)
	}
	return b.Build()
}

func argmaxAbs(h []complex128) int {
	best, idx := -1.0, 0
	for i, v := range h {
		if a := cmplx.Abs(v); a > best {
			best, idx = a, i
		}
	}
	return idx
}

// startingMode seeds the optimiser from the peak: ζ from the half-power
// bandwidth when both crossings lie in the band, C and φ inverted from the
// peak value of k·p.
func startingMode(w []float64, h []complex128, peak int, tfType dsp.TFType) dsp.Mode {
	wr := w[peak]
	top := cmplx.Abs(h[peak])
	level := top / math.Sqrt2

	zeta := InitialDamping
	w1, ok1 := crossing(w, h, peak, -1, level)
	w2, ok2 := crossing(w, h, peak, 1, level)
	if ok1 && ok2 && wr > 0 {
		zeta = (w2 - w1) / (2 * wr)
	}
	zeta = math.Min(math.Max(zeta, 1e-4), 0.5)

	k := cmplx.Abs(tfType.Factor(wr))
	if k == 0 {
		k = 1
	}
	return dsp.Mode{
		OmegaR: wr,
		ZetaR:  zeta,
		CR:     top * 2 * zeta * wr * wr / k,
		Phi:    dsp.WrapPhase(cmplx.Phase(h[peak]) - tfType.PhaseAdjust(0)),
	}
}

// crossing walks from peak in direction dir until |h| drops below level
// and interpolates the crossing frequency linearly.
func crossing(w []float64, h []complex128, peak, dir int, level float64) (float64, bool) {
	prev := peak
	for i := peak + dir; i >= 0 && i < len(h); i += dir {
		a := cmplx.Abs(h[i])
		if a < level {
			ap := cmplx.Abs(h[prev])
			t := (ap - level) / (ap - a)
			return w[prev] + t*(w[i]-w[prev]), true
		}
		prev = i
	}
	return 0, false
}

type model struct {
	circle Circle
	tfType dsp.TFType
}

func (m model) at(p dsp.Mode, w float64) complex128 {
	adj := m.tfType.PhaseAdjust(p.Phi)
	offset := m.circle.Center() - complex(m.circle.R, 0)*cmplx.Exp(complex(0, adj))
	return offset + m.tfType.Factor(w)*p.At(w)
}

// objective is the normalised residual Σ|f − TF|² / Σ|TF|² over the band.
// ω_r is mapped through tanh into [lo, hi]; ζ and C are scaled by their
// starting values.
type objective struct {
	model
	omega  []float64
	tf     []complex128
	lo, hi float64
	zs, cs float64
	norm   float64
}

func (o *objective) encode(m dsp.Mode) []float64 {
	s := 2*(m.OmegaR-o.lo)/(o.hi-o.lo) - 1
	s = math.Max(-edgeClamp, math.Min(edgeClamp, s))
	return []float64{math.Atanh(s), m.ZetaR / o.zs, m.CR / o.cs, m.Phi}
}

func (o *objective) decode(x []float64) dsp.Mode {
	return dsp.Mode{
		OmegaR: o.lo + (o.hi-o.lo)*(1+math.Tanh(x[0]))/2,
		ZetaR:  x[1] * o.zs,
		CR:     x[2] * o.cs,
		Phi:    x[3],
	}
}

func (o *objective) eval(x []float64) float64 {
	m := o.decode(x)
	var sum float64
	for i, w := range o.omega {
		d := o.at(m, w) - o.tf[i]
		sum += real(d)*real(d) + imag(d)*imag(d)
	}
	sum /= o.norm
	if math.IsNaN(sum) {
		return math.Inf(1)
	}
	return sum
}

// Reconstruct sums k(ω)·p(ω) over modes, the synthesised transfer function
// of the fitted peaks.
func Reconstruct(omega []float64, modes []dsp.Mode, tfType dsp.TFType) []complex128 {
	out := make([]complex128, len(omega))
	for _, m := range modes {
		for i, w := range omega {
			out[i] += tfType.Factor(w) * m.At(w)
		}
	}
	return out
}
