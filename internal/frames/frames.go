// Package frames defines Block, the (samples, channels) matrix passed
// between the device, the ring buffer, the capture controller and analysis.
package frames

import (
	"fmt"
)

// Block is a row-major matrix of samples: row i holds one sample per
// channel. Data has exactly Rows*Channels elements.
type Block struct {
	Rows     int
	Channels int
	Data     []float64
}

// New returns a zeroed block.
func New(rows, channels int) Block {
	if rows < 0 || channels < 0 {
		panic(fmt.Sprintf("frames: negative shape (%d, %d)", rows, channels))
	}
	return Block{Rows: rows, Channels: channels, Data: make([]float64, rows*channels)}
}

// FromRows wraps an interleaved slice without copying.
func FromRows(data []float64, channels int) (Block, error) {
	if channels <= 0 || len(data)%channels != 0 {
		return Block{}, fmt.Errorf("frames: %d samples do not divide into %d channels", len(data), channels)
	}
	return Block{Rows: len(data) / channels, Channels: channels, Data: data}, nil
}

// FromColumns interleaves planar per-channel slices. All columns must have
// the same length.
func FromColumns(columns [][]float64) (Block, error) {
	if len(columns) == 0 {
		return Block{}, nil
	}
	rows := len(columns[0])
	for ch, col := range columns {
		if len(col) != rows {
			return Block{}, fmt.Errorf("frames: column %d has %d samples, want %d", ch, len(col), rows)
		}
	}
	b := New(rows, len(columns))
	for ch, col := range columns {
		for i, v := range col {
			b.Data[i*b.Channels+ch] = v
		}
	}
	return b, nil
}

// Len returns the number of samples per channel.
func (b Block) Len() int { return b.Rows }

// Empty reports whether the block holds no samples.
func (b Block) Empty() bool { return b.Rows == 0 }

// At returns the sample at row r, channel c.
func (b Block) At(r, c int) float64 { return b.Data[r*b.Channels+c] }

// Set stores v at row r, channel c.
func (b Block) Set(r, c int, v float64) { b.Data[r*b.Channels+c] = v }

// Row returns row r as a view into Data.
func (b Block) Row(r int) []float64 {
	return b.Data[r*b.Channels : (r+1)*b.Channels]
}

// Column copies channel c out of the block.
func (b Block) Column(c int) []float64 {
	return b.ColumnInto(nil, c)
}

// ColumnInto copies channel c into dst, growing it if needed.
func (b Block) ColumnInto(dst []float64, c int) []float64 {
	if cap(dst) < b.Rows {
		dst = make([]float64, b.Rows)
	}
	dst = dst[:b.Rows]
	for i := range b.Rows {
		dst[i] = b.Data[i*b.Channels+c]
	}
	return dst
}

// Columns returns every channel as its own slice.
func (b Block) Columns() [][]float64 {
	out := make([][]float64, b.Channels)
	for c := range b.Channels {
		out[c] = b.Column(c)
	}
	return out
}

// Slice returns rows [from, to) as a view sharing Data.
func (b Block) Slice(from, to int) Block {
	if from < 0 || to > b.Rows || from > to {
		panic(fmt.Sprintf("frames: slice [%d:%d] out of range for %d rows", from, to, b.Rows))
	}
	return Block{Rows: to - from, Channels: b.Channels, Data: b.Data[from*b.Channels : to*b.Channels]}
}

// Clone returns a deep copy.
func (b Block) Clone() Block {
	data := make([]float64, len(b.Data))
	copy(data, b.Data)
	return Block{Rows: b.Rows, Channels: b.Channels, Data: data}
}

// SameShape reports whether o has the same rows and channels.
func (b Block) SameShape(o Block) bool {
	return b.Rows == o.Rows && b.Channels == o.Channels
}

// Concat stacks blocks vertically into a new block. Empty blocks are
// skipped; the rest must agree on channel count.
func Concat(blocks ...Block) (Block, error) {
	channels, rows := 0, 0
	for _, blk := range blocks {
		if blk.Empty() {
			continue
		}
		if channels == 0 {
			channels = blk.Channels
		} else if blk.Channels != channels {
			return Block{}, fmt.Errorf("frames: cannot concat %d and %d channels", channels, blk.Channels)
		}
		rows += blk.Rows
	}

	out := New(rows, channels)
	off := 0
	for _, blk := range blocks {
		if blk.Empty() {
			continue
		}
		off += copy(out.Data[off:], blk.Data)
	}
	return out, nil
}

// PadLeft returns a copy of b with zero rows prepended so it has at least
// rows rows.
func PadLeft(b Block, rows int) Block {
	if b.Rows >= rows {
		return b.Clone()
	}
	out := New(rows, b.Channels)
	copy(out.Data[(rows-b.Rows)*b.Channels:], b.Data)
	return out
}
