package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"unsafe"

	"github.com/sbinet/npyio/npy"
)

// NPY element types.
const (
	DescrFloat64    = "<f8"
	DescrComplex128 = "<c16"
	DescrInt64      = "<i8"
)

// maxNPYBytes caps a single member regardless of what its zip entry claims.
const maxNPYBytes = 1 << 30

// Array is a little-endian C-order NPY array. Exactly one of Float,
// Complex and Int is populated, matching Descr.
type Array struct {
	Descr   string
	Shape   []int
	Float   []float64
	Complex []complex128
	Int     []int64
}

// FloatArray wraps float64 data with a shape.
func FloatArray(data []float64, shape ...int) Array {
	return Array{Descr: DescrFloat64, Shape: shape, Float: data}
}

// ComplexArray wraps complex128 data with a shape.
func ComplexArray(data []complex128, shape ...int) Array {
	return Array{Descr: DescrComplex128, Shape: shape, Complex: data}
}

// IntArray wraps int64 data with a shape.
func IntArray(data []int64, shape ...int) Array {
	return Array{Descr: DescrInt64, Shape: shape, Int: data}
}

// Scalar returns a 0-d float array.
func Scalar(v float64) Array { return FloatArray([]float64{v}) }

// Len is the element count implied by Shape; a 0-d array holds one element.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a Array) stored() int {
	switch a.Descr {
	case DescrFloat64:
		return len(a.Float)
	case DescrComplex128:
		return len(a.Complex)
	case DescrInt64:
		return len(a.Int)
	}
	return -1
}

// ScalarValue returns the single element of a 0-d or 1-element array as
// float64.
func (a Array) ScalarValue() (float64, error) {
	if a.Len() != 1 {
		return 0, fmt.Errorf("array of shape %v is not a scalar", a.Shape)
	}
	switch a.Descr {
	case DescrFloat64:
		return a.Float[0], nil
	case DescrInt64:
		return float64(a.Int[0]), nil
	}
	return 0, fmt.Errorf("scalar of type %s", a.Descr)
}

// value is the Go value npy.Write encodes with a's shape.
func (a Array) value() any {
	switch a.Descr {
	case DescrFloat64:
		return shaped(a.Float, a.Shape)
	case DescrComplex128:
		return shaped(a.Complex, a.Shape)
	default:
		return shaped(a.Int, a.Shape)
	}
}

// shaped returns data as a scalar, a slice, or for n-d shapes a slice of
// fixed-size arrays sharing C order with data, so the npy header carries
// the full shape.
func shaped[T float64 | complex128 | int64](data []T, shape []int) any {
	switch len(shape) {
	case 0:
		return data[0]
	case 1:
		return data
	}
	elem := reflect.TypeFor[T]()
	for _, d := range slices.Backward(shape[1:]) {
		elem = reflect.ArrayOf(d, elem)
	}
	rows := reflect.MakeSlice(reflect.SliceOf(elem), shape[0], shape[0])
	if len(data) > 0 {
		copy(unsafe.Slice((*T)(rows.UnsafePointer()), len(data)), data)
	}
	return rows.Interface()
}

// check reports whether a can be encoded with its shape intact.
func (a Array) check() error {
	if a.stored() < 0 {
		return fmt.Errorf("npy dtype %q unsupported", a.Descr)
	}
	if a.stored() != a.Len() {
		return fmt.Errorf("npy %s: shape %v needs %d elements, have %d", a.Descr, a.Shape, a.Len(), a.stored())
	}
	if len(a.Shape) > 1 && a.Len() == 0 {
		return fmt.Errorf("npy %s: empty array of shape %v", a.Descr, a.Shape)
	}
	return nil
}

// WriteNPY encodes a in the NPY format.
func WriteNPY(w io.Writer, a Array) error {
	if err := a.check(); err != nil {
		return err
	}
	return npy.Write(w, a.value())
}

// ReadNPY decodes an NPY array of a supported type from a stream of at
// most size bytes. Headers whose shape needs more data than size are
// rejected before anything is allocated.
func ReadNPY(r io.Reader, size int64) (Array, error) {
	nr, err := npy.NewReader(r)
	if err != nil {
		return Array{}, fmt.Errorf("npy header: %w", err)
	}
	h := nr.Header
	if h.Descr.Fortran {
		return Array{}, fmt.Errorf("npy fortran-order arrays unsupported")
	}
	a := Array{Descr: h.Descr.Type, Shape: slices.Clone(h.Descr.Shape)}

	var itemSize int64
	switch a.Descr {
	case DescrFloat64, DescrInt64:
		itemSize = 8
	case DescrComplex128:
		itemSize = 16
	default:
		return Array{}, fmt.Errorf("npy dtype %q unsupported", a.Descr)
	}
	n, err := elementCount(a.Shape, itemSize, size)
	if err != nil {
		return Array{}, err
	}

	switch a.Descr {
	case DescrFloat64:
		a.Float = make([]float64, n)
		err = readElems(nr, &a.Float)
	case DescrComplex128:
		a.Complex = make([]complex128, n)
		err = readElems(nr, &a.Complex)
	case DescrInt64:
		a.Int = make([]int64, n)
		err = readElems(nr, &a.Int)
	}
	if err != nil {
		return Array{}, fmt.Errorf("npy data: %w", err)
	}
	return a, nil
}

func readElems[T any](nr *npy.Reader, dst *[]T) error {
	if len(*dst) == 0 {
		return nil
	}
	return nr.Read(dst)
}

// elementCount multiplies shape without overflow and checks the payload
// fits in size bytes.
func elementCount(shape []int, itemSize, size int64) (int, error) {
	if slices.Contains(shape, 0) {
		return 0, nil
	}
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("npy shape %v", shape)
		}
		if n > math.MaxInt64/int64(d) {
			return 0, fmt.Errorf("npy shape %v overflows", shape)
		}
		n *= int64(d)
	}
	if n > size/itemSize {
		return 0, fmt.Errorf("npy shape %v needs %d bytes, member holds %d", shape, n*itemSize, size)
	}
	return int(n), nil
}

// memberLimit bounds the bytes a zip member may decode to.
func memberLimit(f *zip.File) int64 {
	return int64(min(f.UncompressedSize64, maxNPYBytes))
}
