package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/frames"
)

func constChunk(rows, channels int, v float64) frames.Block {
	b := frames.New(rows, channels)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

func rampChunk(rows, channels, start int) frames.Block {
	b := frames.New(rows, channels)
	for r := range rows {
		for c := range channels {
			b.Set(r, c, float64(start+r))
		}
	}
	return b
}

func TestOverwriteKeepsNewestChunksInOrder(t *testing.T) {
	t.Parallel()

	const chunkSize = 8
	rb, err := New(4, chunkSize, 2)
	require.NoError(t, err)

	for v := 1; v <= 6; v++ {
		require.NoError(t, rb.Write(constChunk(chunkSize, 2, float64(v))))
	}

	snap := rb.Snapshot()
	require.Equal(t, 4*chunkSize, snap.Rows)
	require.Equal(t, 2, snap.Channels)

	for i, want := range []float64{3, 4, 5, 6} {
		for r := range chunkSize {
			assert.InDelta(t, want, snap.At(i*chunkSize+r, 0), 0)
			assert.InDelta(t, want, snap.At(i*chunkSize+r, 1), 0)
		}
	}
	assert.Equal(t, 2, rb.WriteIndex())
	assert.Equal(t, uint64(6), rb.ChunksWritten())
}

func TestSnapshotZeroPadsBeforeFirstWrite(t *testing.T) {
	t.Parallel()

	rb, err := New(4, 2, 1)
	require.NoError(t, err)
	require.NoError(t, rb.Write(constChunk(2, 1, 1)))
	require.NoError(t, rb.Write(constChunk(2, 1, 2)))

	assert.Equal(t, []float64{0, 0, 0, 0, 1, 1, 2, 2}, rb.Snapshot().Column(0))
	assert.InDelta(t, 0.5, rb.FillRatio(), 1e-12)
}

func TestSnapshotIsLastCapacitySamples(t *testing.T) {
	t.Parallel()

	const numChunks, chunkSize = 3, 5
	rb, err := New(numChunks, chunkSize, 1)
	require.NoError(t, err)

	written := 0
	for k := range 11 {
		require.NoError(t, rb.Write(rampChunk(chunkSize, 1, k*chunkSize)))
		written += chunkSize

		snap := rb.Snapshot().Column(0)
		capacity := numChunks * chunkSize
		for i, v := range snap {
			want := float64(written - capacity + i)
			if want < 0 {
				want = 0
			}
			require.InDelta(t, want, v, 0, "write %d index %d", k, i)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	rb, err := New(3, 4, 1)
	require.NoError(t, err)
	require.NoError(t, rb.Write(rampChunk(4, 1, 1)))

	assert.Equal(t, []float64{3, 4}, rb.Tail(2).Column(0))
	assert.Equal(t, []float64{0, 0, 1, 2, 3, 4}, rb.Tail(6).Column(0))

	for k := 1; k < 5; k++ {
		require.NoError(t, rb.Write(rampChunk(4, 1, 1+4*k)))
	}
	assert.Equal(t, []float64{15, 16, 17, 18, 19, 20}, rb.Tail(6).Column(0))
	assert.Len(t, rb.Tail(100).Data, 12, "tail clamps to capacity")
	assert.Equal(t, 0, rb.Tail(-1).Rows)
}

func TestWriteShapeMismatch(t *testing.T) {
	t.Parallel()

	rb, err := New(2, 4, 2)
	require.NoError(t, err)

	for _, chunk := range []frames.Block{
		frames.New(3, 2),
		frames.New(4, 1),
		{Rows: 4, Channels: 2, Data: make([]float64, 7)},
	} {
		err := rb.Write(chunk)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrShapeMismatch)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeometry))
	}
	assert.Equal(t, uint64(0), rb.ChunksWritten())
}

func TestInvalidGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                          string
		numChunks, chunkSize, channel int
	}{
		{"zero chunks", 0, 4, 1},
		{"zero chunk size", 4, 0, 1},
		{"zero channels", 4, 4, 0},
		{"negative", -1, 4, 1},
		{"chunk above ceiling", 1, MaxSamples + 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.numChunks, tt.chunkSize, tt.channel)
			assert.ErrorIs(t, err, ErrInvalidGeometry)
		})
	}
}

func TestResizeEnforcesCeiling(t *testing.T) {
	t.Parallel()

	const ceiling = 1 << 12
	rb, err := New(2, 2, 1, WithCeiling(ceiling))
	require.NoError(t, err)
	require.NoError(t, rb.Write(constChunk(2, 1, 5)))

	require.NoError(t, rb.Resize(1<<10, 100))
	numChunks, chunkSize, _ := rb.Geometry()
	assert.Equal(t, 100, chunkSize)
	assert.Equal(t, ceiling/100, numChunks)
	assert.LessOrEqual(t, numChunks*chunkSize, ceiling)
	assert.Equal(t, 0, rb.WriteIndex())
	assert.Equal(t, uint64(0), rb.ChunksWritten())

	require.NoError(t, rb.Resize(3, 1000))
	assert.Equal(t, 3000, rb.Capacity())

	assert.ErrorIs(t, rb.Resize(1, ceiling+1), ErrInvalidGeometry)
	for _, v := range rb.Snapshot().Data {
		require.Zero(t, v)
	}
}

func TestConcurrentSnapshotsAreConsistent(t *testing.T) {
	t.Parallel()

	const chunkSize = 16
	rb, err := New(8, chunkSize, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() {
		for k := range 2000 {
			_ = rb.Write(rampChunk(chunkSize, 1, k*chunkSize))
		}
	})
	wg.Go(func() {
		for range 200 {
			snap := rb.Snapshot().Column(0)
			for i := 1; i < len(snap); i++ {
				if snap[i] != 0 && snap[i] != snap[i-1]+1 && snap[i-1] != 0 {
					t.Errorf("snapshot not chronological at %d: %v then %v", i, snap[i-1], snap[i])
					return
				}
			}
		}
	})
	wg.Wait()
}
