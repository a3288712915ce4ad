// Package pcm holds the int16 little-endian framing and chunk pacing shared
// by the file and generator sources.
package pcm

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/vibrolab/daqbench/internal/acquisition"
)

// BytesPerSample is the width of one int16 sample.
const BytesPerSample = 2

// Quantize converts a unit-scaled sample to int16, clamping to full scale.
func Quantize(v float64) int16 {
	q := math.Round(v * (1 << 15))
	switch {
	case q > math.MaxInt16:
		return math.MaxInt16
	case q < math.MinInt16:
		return math.MinInt16
	default:
		return int16(q)
	}
}

// Put writes s at sample index i of dst.
func Put(dst []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(s))
}

// Get reads the sample at index i of src.
func Get(src []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(src[i*BytesPerSample:]))
}

// Generator fills buf with whole frames and returns the bytes written.
// io.EOF ends the stream; any other error fails it.
type Generator func(buf []byte) (int, error)

// Player delivers generated chunks to a stream handler from its own
// goroutine, optionally paced at one chunk per interval.
type Player struct {
	handler    acquisition.StreamHandler
	chunkBytes int
	interval   time.Duration
	gen        Generator

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer returns a stopped player. interval 0 delivers as fast as the
// handler accepts.
func NewPlayer(handler acquisition.StreamHandler, chunkBytes int, interval time.Duration, gen Generator) *Player {
	return &Player{
		handler:    handler,
		chunkBytes: chunkBytes,
		interval:   interval,
		gen:        gen,
	}
}

// ChunkInterval is the wall-clock duration of one chunk.
func ChunkInterval(chunkSize int, sampleRate float64) time.Duration {
	return time.Duration(float64(chunkSize) / sampleRate * float64(time.Second))
}

// Start launches the delivery goroutine. It is a no-op when running.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	return nil
}

// Stop cancels delivery and waits for the goroutine to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (p *Player) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if p.interval > 0 {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		tick = t.C
	}

	buf := make([]byte, p.chunkBytes)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		n, err := p.gen(buf)
		if n > 0 {
			p.handler.OnData(buf[:n])
		}
		switch {
		case err == io.EOF:
			p.handler.OnEnd()
			return
		case err != nil:
			p.handler.OnError(err)
			return
		}
	}
}
