// Package ring implements the chunk-aligned circular store holding the most
// recent chunks of multi-channel samples.
package ring

import (
	"sync"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/frames"
	"github.com/vibrolab/daqbench/internal/logger"
)

// MaxSamples caps num_chunks*chunk_size. Larger requests lose chunks.
const MaxSamples = 1 << 25

// Option configures a Buffer.
type Option func(*Buffer)

// WithCeiling lowers the sample ceiling below MaxSamples.
func WithCeiling(samples int) Option {
	return func(b *Buffer) {
		if samples > 0 && samples < MaxSamples {
			b.ceiling = samples
		}
	}
}

var (
	// ErrInvalidGeometry is returned for non-positive or unrepresentable dimensions.
	ErrInvalidGeometry = errors.NewStd("invalid ring geometry")
	// ErrShapeMismatch is returned when a chunk does not match the ring's chunk shape.
	ErrShapeMismatch = errors.NewStd("chunk shape mismatch")
)

// Buffer retains the last numChunks chunks. Writes copy into the slot at
// writeIndex and advance it; reads copy under the same short lock, so a
// snapshot always observes a single writeIndex.
type Buffer struct {
	mu         sync.Mutex
	storage    []float64 // [numChunks][chunkSize][channels]
	numChunks  int
	chunkSize  int
	channels   int
	writeIndex int
	written    uint64
	ceiling    int
}

// New allocates a zeroed ring.
func New(numChunks, chunkSize, channels int, opts ...Option) (*Buffer, error) {
	if channels <= 0 {
		return nil, geometryError(numChunks, chunkSize, channels)
	}
	b := &Buffer{channels: channels, ceiling: MaxSamples}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.Resize(numChunks, chunkSize); err != nil {
		return nil, err
	}
	return b, nil
}

// Resize reallocates and clears the ring. When numChunks*chunkSize exceeds
// the ceiling, numChunks is reduced until it fits.
func (b *Buffer) Resize(numChunks, chunkSize int) error {
	if numChunks <= 0 || chunkSize <= 0 || chunkSize > b.ceiling {
		return geometryError(numChunks, chunkSize, b.channels)
	}

	requested := numChunks
	if numChunks > b.ceiling/chunkSize {
		numChunks = b.ceiling / chunkSize
		GetLogger().Info("ring capacity reduced to ceiling",
			logger.Int("requested_chunks", requested),
			logger.Int("num_chunks", numChunks),
			logger.Int("chunk_size", chunkSize))
	}

	storage := make([]float64, numChunks*chunkSize*b.channels)

	b.mu.Lock()
	b.storage = storage
	b.numChunks = numChunks
	b.chunkSize = chunkSize
	b.writeIndex = 0
	b.written = 0
	b.mu.Unlock()

	return nil
}

// Write copies chunk into the current slot and advances writeIndex. The
// oldest chunk is overwritten silently.
func (b *Buffer) Write(chunk frames.Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if chunk.Rows != b.chunkSize || chunk.Channels != b.channels || len(chunk.Data) != b.chunkSize*b.channels {
		return errors.Newf("chunk is %dx%d, ring expects %dx%d: %w",
			chunk.Rows, chunk.Channels, b.chunkSize, b.channels, ErrShapeMismatch).
			Component("ring").
			Category(errors.CategoryGeometry).
			GeometryContext(b.numChunks, b.chunkSize, b.channels).
			Build()
	}

	slot := b.chunkSize * b.channels
	copy(b.storage[b.writeIndex*slot:(b.writeIndex+1)*slot], chunk.Data)
	b.writeIndex = (b.writeIndex + 1) % b.numChunks
	b.written++

	return nil
}

// Snapshot returns the whole ring in chronological order, shape
// (numChunks*chunkSize, channels). Slots never written read as zeros.
func (b *Buffer) Snapshot() frames.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := frames.New(b.numChunks*b.chunkSize, b.channels)
	split := b.writeIndex * b.chunkSize * b.channels
	n := copy(out.Data, b.storage[split:])
	copy(out.Data[n:], b.storage[:split])
	return out
}

// Tail returns the most recent n samples in chronological order. n is
// clamped to the ring capacity; history not yet written reads as zeros.
func (b *Buffer) Tail(n int) frames.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.numChunks * b.chunkSize
	n = max(0, min(n, total))
	out := frames.New(n, b.channels)
	if n == 0 {
		return out
	}

	end := b.writeIndex * b.chunkSize
	start := (end - n + total) % total
	ch := b.channels
	if start < end {
		copy(out.Data, b.storage[start*ch:end*ch])
		return out
	}
	k := copy(out.Data, b.storage[start*ch:])
	copy(out.Data[k:], b.storage[:end*ch])
	return out
}

// Reset zeroes the contents without reallocating.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.storage)
	b.writeIndex = 0
	b.written = 0
}

// Geometry returns the ring dimensions.
func (b *Buffer) Geometry() (numChunks, chunkSize, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numChunks, b.chunkSize, b.channels
}

// WriteIndex returns the slot the next chunk will be written to.
func (b *Buffer) WriteIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeIndex
}

// ChunksWritten returns the number of chunks written since the last resize.
func (b *Buffer) ChunksWritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Capacity returns the number of samples per channel the ring holds.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numChunks * b.chunkSize
}

// FillRatio is the share of slots written at least once.
func (b *Buffer) FillRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.written >= uint64(b.numChunks) {
		return 1
	}
	return float64(b.written) / float64(b.numChunks)
}

func geometryError(numChunks, chunkSize, channels int) error {
	return errors.Newf("ring of %d chunks x %d samples x %d channels: %w",
		numChunks, chunkSize, channels, ErrInvalidGeometry).
		Component("ring").
		Category(errors.CategoryGeometry).
		GeometryContext(numChunks, chunkSize, channels).
		Build()
}
