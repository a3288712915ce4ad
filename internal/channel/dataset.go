package channel

import (
	"math"
	"slices"
	"strings"
)

// DataSetID names one of the closed set of per-channel datasets.
type DataSetID int

const (
	TimeSeries DataSetID = iota
	Time
	Frequency
	Omega
	Spectrum
	TransferFunction
	Coherence
	Sonogram
	SonogramTime
	SonogramFrequency
	SonogramOmega
	SonogramPhase

	numDataSets
)

var dataSetNames = [numDataSets]string{
	TimeSeries:        "time_series",
	Time:              "time",
	Frequency:         "frequency",
	Omega:             "omega",
	Spectrum:          "spectrum",
	TransferFunction:  "transfer_function",
	Coherence:         "coherence",
	Sonogram:          "sonogram",
	SonogramTime:      "sonogram_time",
	SonogramFrequency: "sonogram_frequency",
	SonogramOmega:     "sonogram_omega",
	SonogramPhase:     "sonogram_phase",
}

// String returns the serialised dataset name.
func (id DataSetID) String() string {
	if id < 0 || id >= numDataSets {
		return "unknown"
	}
	return dataSetNames[id]
}

// Valid reports whether id belongs to the closed set.
func (id DataSetID) Valid() bool { return id >= 0 && id < numDataSets }

// Derived reports whether the model computes id from other datasets and
// metadata. Derived datasets cannot be written directly.
func (id DataSetID) Derived() bool {
	switch id {
	case Time, Frequency, Omega, SonogramTime, SonogramFrequency, SonogramOmega:
		return true
	}
	return false
}

// Complex reports whether id stores complex values.
func (id DataSetID) Complex() bool {
	switch id {
	case Spectrum, TransferFunction, Sonogram:
		return true
	}
	return false
}

// DataSetIDs lists every id in declaration order.
func DataSetIDs() []DataSetID {
	ids := make([]DataSetID, numDataSets)
	for i := range ids {
		ids[i] = DataSetID(i)
	}
	return ids
}

// ParseDataSetID maps a serialised name back to its id. The legacy alias
// "TF" is accepted for transfer_function.
func ParseDataSetID(s string) (DataSetID, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "tf") {
		return TransferFunction, nil
	}
	for i, name := range dataSetNames {
		if name == s {
			return DataSetID(i), nil
		}
	}
	return 0, modelError(ErrNoSuchDataSet, "parse", "unknown dataset id %q", s)
}

// Values is a real or complex vector, or a row-major 2-D matrix when Cols
// is non-zero. Exactly one of Real and Complex is used.
type Values struct {
	Real    []float64
	Complex []complex128
	Rows    int
	Cols    int
}

// Reals wraps a real vector.
func Reals(x []float64) Values { return Values{Real: x} }

// Complexes wraps a complex vector.
func Complexes(x []complex128) Values { return Values{Complex: x} }

// ComplexMatrix wraps a row-major complex matrix.
func ComplexMatrix(x []complex128, rows, cols int) Values {
	return Values{Complex: x, Rows: rows, Cols: cols}
}

// RealMatrix wraps a row-major real matrix.
func RealMatrix(x []float64, rows, cols int) Values {
	return Values{Real: x, Rows: rows, Cols: cols}
}

// Len is the total number of elements.
func (v Values) Len() int {
	if v.Complex != nil {
		return len(v.Complex)
	}
	return len(v.Real)
}

// Empty reports whether v holds no elements.
func (v Values) Empty() bool { return v.Len() == 0 }

// IsComplex reports whether v carries complex elements.
func (v Values) IsComplex() bool { return v.Complex != nil }

// Is2D reports whether v has a matrix shape.
func (v Values) Is2D() bool { return v.Cols > 0 }

// Shape returns (rows, cols); a vector is (Len, 1).
func (v Values) Shape() (rows, cols int) {
	if v.Is2D() {
		return v.Rows, v.Cols
	}
	return v.Len(), 1
}

func (v Values) validate() error {
	if v.Real != nil && v.Complex != nil {
		return modelError(ErrInvalidValues, "values", "both real and complex elements set")
	}
	if v.Cols < 0 || v.Rows < 0 {
		return modelError(ErrInvalidValues, "values", "negative shape %dx%d", v.Rows, v.Cols)
	}
	if v.Is2D() && v.Rows*v.Cols != v.Len() {
		return modelError(ErrInvalidValues, "values", "shape %dx%d does not hold %d elements", v.Rows, v.Cols, v.Len())
	}
	return nil
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	return Values{
		Real:    slices.Clone(v.Real),
		Complex: slices.Clone(v.Complex),
		Rows:    v.Rows,
		Cols:    v.Cols,
	}
}

// Equal compares shape and bit patterns, so NaN equals NaN.
func (v Values) Equal(o Values) bool {
	if v.IsComplex() != o.IsComplex() || v.Len() != o.Len() || v.Rows != o.Rows || v.Cols != o.Cols {
		return false
	}
	for i := range v.Real {
		if math.Float64bits(v.Real[i]) != math.Float64bits(o.Real[i]) {
			return false
		}
	}
	for i := range v.Complex {
		a, b := v.Complex[i], o.Complex[i]
		if math.Float64bits(real(a)) != math.Float64bits(real(b)) ||
			math.Float64bits(imag(a)) != math.Float64bits(imag(b)) {
			return false
		}
	}
	return true
}

// DataSet is one named vector owned by a channel.
type DataSet struct {
	ID     DataSetID
	Units  string
	Values Values
}

// DefaultUnits returns the unit label used when a dataset is created
// without one.
func DefaultUnits(id DataSetID) string {
	switch id {
	case TimeSeries:
		return "V"
	case Time, SonogramTime:
		return "s"
	case Frequency, SonogramFrequency:
		return "Hz"
	case Omega, SonogramOmega:
		return "rad/s"
	case SonogramPhase:
		return "rad"
	case Spectrum, Sonogram:
		return "V"
	}
	return ""
}
