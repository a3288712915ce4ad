package channel

import (
	"fmt"
	"sync"

	"github.com/vibrolab/daqbench/internal/frames"
)

// Set is an ordered sequence of channels. Colours follow position through
// the set's ColourMap when channels are appended.
type Set struct {
	mu       sync.RWMutex
	channels []*Channel
	colours  ColourMap
}

// NewSet creates n empty channels named "Channel <i>".
func NewSet(n int, sampleRate float64) *Set {
	s := &Set{colours: ColourMap{Hues: DefaultHues}}
	for i := range n {
		s.appendLocked(New(fmt.Sprintf("Channel %d", i), sampleRate))
	}
	return s
}

// FromBlock builds a set with one channel per block column, each holding
// that column as its time series.
func FromBlock(b frames.Block, sampleRate float64) (*Set, error) {
	s := NewSet(b.Channels, sampleRate)
	for i, col := range b.Columns() {
		if err := s.channels[i].SetData(TimeSeries, Reals(col)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the number of channels.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Append adds channels at the end and assigns their positional colour.
func (s *Set) Append(chs ...*Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chs {
		s.appendLocked(ch)
	}
}

func (s *Set) appendLocked(ch *Channel) {
	col := s.colours.Colour(len(s.channels))
	ch.mu.Lock()
	ch.meta.Colour = col
	ch.mu.Unlock()
	s.channels = append(s.channels, ch)
}

// Channel returns the channel at position i; negative i counts from the end.
func (s *Set) Channel(i int) (*Channel, error) {
	chs, err := s.Select(Index(i))
	if err != nil {
		return nil, err
	}
	return chs[0], nil
}

// Channels returns every channel in order.
func (s *Set) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Select returns the channels picked by sel, in selection order.
func (s *Set) Select(sel Selector) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := sel.Resolve(len(s.channels))
	if err != nil {
		return nil, err
	}
	out := make([]*Channel, len(idx))
	for i, j := range idx {
		out[i] = s.channels[j]
	}
	return out, nil
}

// SelectString parses expr with ParseSelector and selects.
func (s *Set) SelectString(expr string) ([]*Channel, error) {
	sel, err := ParseSelector(expr)
	if err != nil {
		return nil, err
	}
	return s.Select(sel)
}

// SetMetadata applies md to every selected channel. All channels are
// validated against md before any is changed.
func (s *Set) SetMetadata(sel Selector, md map[string]any) error {
	chs, err := s.Select(sel)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		candidate := ch.Metadata()
		for key, v := range md {
			if err := applyMetadata(&candidate, key, v); err != nil {
				return err
			}
		}
	}
	for _, ch := range chs {
		if err := ch.SetMetadata(md); err != nil {
			return err
		}
	}
	return nil
}

// GetData returns id's values for each selected channel, aligned with the
// selection. Absent datasets yield empty Values.
func (s *Set) GetData(sel Selector, id DataSetID) ([]Values, error) {
	chs, err := s.Select(sel)
	if err != nil {
		return nil, err
	}
	out := make([]Values, len(chs))
	for i, ch := range chs {
		out[i] = ch.GetData(id)
	}
	return out, nil
}

// SetData writes values[i] to the i-th selected channel.
func (s *Set) SetData(sel Selector, id DataSetID, values []Values) error {
	chs, err := s.Select(sel)
	if err != nil {
		return err
	}
	if len(values) != len(chs) {
		return modelError(ErrInvalidValues, "set-data", "%d values for %d channels", len(values), len(chs))
	}
	for i, ch := range chs {
		if err := ch.SetData(id, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// TimeSeries stacks the channels' time series into a block. Channels
// without a time series, or of differing length, report ErrInvalidValues.
func (s *Set) TimeSeries() (frames.Block, error) {
	chs := s.Channels()
	cols := make([][]float64, len(chs))
	for i, ch := range chs {
		v := ch.GetData(TimeSeries)
		if v.Empty() || v.IsComplex() {
			return frames.Block{}, modelError(ErrNoSuchDataSet, "time-series", "channel %d has no time series", i)
		}
		cols[i] = v.Real
	}
	b, err := frames.FromColumns(cols)
	if err != nil {
		return frames.Block{}, modelError(ErrInvalidValues, "time-series", "%v", err)
	}
	return b, nil
}
