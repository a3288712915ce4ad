package dsp

import (
	"math"
	"math/cmplx"
	"strings"

	"github.com/vibrolab/daqbench/internal/errors"
)

// TFType is the measured quantity of a transfer function.
type TFType int

const (
	Displacement TFType = iota
	Velocity
	Acceleration
)

func (t TFType) String() string {
	switch t {
	case Displacement:
		return "displacement"
	case Velocity:
		return "velocity"
	case Acceleration:
		return "acceleration"
	default:
		return "unknown"
	}
}

// ParseTFType accepts the lower-case names returned by String.
func ParseTFType(s string) (TFType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "displacement":
		return Displacement, nil
	case "velocity":
		return Velocity, nil
	case "acceleration":
		return Acceleration, nil
	}
	return Displacement, parameterError("tf-type", "unknown transfer function type %q", s)
}

// PhaseAdjust returns φ_adj for the circle offset term: φ−π/2 for
// displacement, φ for velocity and φ+π/2 for acceleration.
func (t TFType) PhaseAdjust(phi float64) float64 {
	switch t {
	case Velocity:
		return phi
	case Acceleration:
		return phi + math.Pi/2
	default:
		return phi - math.Pi/2
	}
}

// Factor returns k(ω): 1, jω or −ω².
func (t TFType) Factor(omega float64) complex128 {
	switch t {
	case Velocity:
		return complex(0, omega)
	case Acceleration:
		return complex(-omega*omega, 0)
	default:
		return 1
	}
}

// Mode holds the SDOF peak parameters (ω_r, ζ_r, C_r, φ).
type Mode struct {
	OmegaR float64
	ZetaR  float64
	CR     float64
	Phi    float64
}

// At evaluates p(ω) = C·e^{jφ} / (ω_r² − ω² + 2j·ζ_r·ω_r²).
func (m Mode) At(omega float64) complex128 {
	wr2 := m.OmegaR * m.OmegaR
	den := complex(wr2-omega*omega, 2*m.ZetaR*wr2)
	return complex(m.CR, 0) * cmplx.Exp(complex(0, m.Phi)) / den
}

// Response evaluates p over omega.
func (m Mode) Response(omega []float64) []complex128 {
	out := make([]complex128, len(omega))
	for i, w := range omega {
		out[i] = m.At(w)
	}
	return out
}

// Canonical returns the equivalent mode with ζ ≥ 0 and C ≥ 0. A negative
// amplitude is negated and φ rotated by π, wrapped to (−π, π].
func (m Mode) Canonical() Mode {
	m.ZetaR = math.Abs(m.ZetaR)
	if m.CR < 0 {
		m.CR = -m.CR
		m.Phi += math.Pi
	}
	m.Phi = WrapPhase(m.Phi)
	return m
}

// WrapPhase maps phi into (−π, π].
func WrapPhase(phi float64) float64 {
	phi = math.Mod(phi, 2*math.Pi)
	switch {
	case phi > math.Pi:
		phi -= 2 * math.Pi
	case phi <= -math.Pi:
		phi += 2 * math.Pi
	}
	return phi
}

// Validate rejects modes that cannot describe a resonance.
func (m Mode) Validate() error {
	for _, v := range []float64{m.OmegaR, m.ZetaR, m.CR, m.Phi} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Newf("%w: mode parameter %g", ErrNonFinite, v).
				Component("dsp").
				Category(errors.CategoryDSP).
				Build()
		}
	}
	if m.OmegaR <= 0 {
		return parameterError("sdof", "resonance %g must be positive", m.OmegaR)
	}
	return nil
}
