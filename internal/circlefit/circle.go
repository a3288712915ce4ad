// Package circlefit extracts single-degree-of-freedom modal parameters
// from a transfer function. A geometric circle is fitted to the Nyquist
// locus inside a frequency band, then the SDOF model is refined by
// non-linear least squares.
//
// Degenerate circles and optimiser non-convergence are warnings: the fit
// still returns the argmax estimate so callers can keep working.
package circlefit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/errors"
)

var (
	// ErrCircleFitDegenerate reports a singular algebraic circle system.
	ErrCircleFitDegenerate = errors.NewStd("circle fit degenerate")
	// ErrFitNonConvergent reports that refinement stopped before converging.
	ErrFitNonConvergent = errors.NewStd("fit did not converge")
	// ErrEmptyBand reports a band holding too few finite points to fit.
	ErrEmptyBand = errors.NewStd("band holds too few points")
)

// Circle is a circle in the complex plane.
type Circle struct {
	X0 float64
	Y0 float64
	R  float64
}

// Center returns x0 + j·y0.
func (c Circle) Center() complex128 { return complex(c.X0, c.Y0) }

// FitCircle solves the algebraic least-squares circle through (x, y):
//
//	[Σx²  Σxy  −Σx] [a]   [−(Σx³ + Σxy²)]
//	[Σxy  Σy²  −Σy] [b] = [−(Σy³ + Σyx²)]
//	[−Σx  −Σy   N ] [c]   [  Σx² + Σy²  ]
//
// with x0 = −a/2, y0 = −b/2 and R = √(c + x0² + y0²).
func FitCircle(x, y []float64) (Circle, error) {
	if len(x) != len(y) {
		return Circle{}, errors.Newf("circle fit: %w: %d x values, %d y values", dsp.ErrDimensionMismatch, len(x), len(y)).
			Component("circlefit").
			Category(errors.CategoryDSP).
			Build()
	}
	if len(x) < 3 {
		return Circle{}, degenerate("need at least 3 points, got %d", len(x))
	}

	var sx, sy, sxx, syy, sxy, sxxx, syyy, sxyy, syxx float64
	for i := range x {
		xi, yi := x[i], y[i]
		sx += xi
		sy += yi
		sxx += xi * xi
		syy += yi * yi
		sxy += xi * yi
		sxxx += xi * xi * xi
		syyy += yi * yi * yi
		sxyy += xi * yi * yi
		syxx += yi * xi * xi
	}
	n := float64(len(x))

	a := mat.NewDense(3, 3, []float64{
		sxx, sxy, -sx,
		sxy, syy, -sy,
		-sx, -sy, n,
	})
	b := mat.NewVecDense(3, []float64{
		-(sxxx + sxyy),
		-(syyy + syxx),
		sxx + syy,
	})
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Circle{}, degenerate("%v", err)
	}

	x0 := -sol.AtVec(0) / 2
	y0 := -sol.AtVec(1) / 2
	r2 := sol.AtVec(2) + x0*x0 + y0*y0
	if !(r2 > 0) || math.IsInf(r2, 0) {
		return Circle{}, degenerate("squared radius %g", r2)
	}
	return Circle{X0: x0, Y0: y0, R: math.Sqrt(r2)}, nil
}

func degenerate(format string, args ...any) error {
	return errors.Newf("circle fit: %w: "+format, append([]any{ErrCircleFitDegenerate}, args...)...).
		Component("circlefit").
		Category(errors.CategoryFit).
		Priority(errors.PriorityLow).
		Build()
}
