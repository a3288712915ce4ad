package circlefit

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/errors"
)

// Param indexes one of the four SDOF parameters.
type Param int

const (
	OmegaR Param = iota
	ZetaR
	CR
	Phi

	numParams
)

// Params lists the parameters in display order.
var Params = []Param{OmegaR, ZetaR, CR, Phi}

func (p Param) String() string {
	switch p {
	case OmegaR:
		return "omega_r"
	case ZetaR:
		return "zeta_r"
	case CR:
		return "c_r"
	case Phi:
		return "phi"
	}
	return fmt.Sprintf("param(%d)", int(p))
}

// ParseParam maps a name from String back to its Param.
func ParseParam(s string) (Param, error) {
	for _, p := range Params {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, errors.Newf("unknown parameter %q: %w", s, dsp.ErrInvalidParameter).
		Component("circlefit").
		Category(errors.CategoryValidation).
		Build()
}

func get(m dsp.Mode, p Param) float64 {
	switch p {
	case OmegaR:
		return m.OmegaR
	case ZetaR:
		return m.ZetaR
	case CR:
		return m.CR
	default:
		return m.Phi
	}
}

func set(m *dsp.Mode, p Param, v float64) {
	switch p {
	case OmegaR:
		m.OmegaR = v
	case ZetaR:
		m.ZetaR = v
	case CR:
		m.CR = v
	default:
		m.Phi = v
	}
}

// Value is one stored parameter: the last fitted value and an optional
// manual override.
type Value struct {
	Auto    float64 `yaml:"auto"`
	Manual  float64 `yaml:"manual"`
	IsAuto  bool    `yaml:"is_auto"`
	HasAuto bool    `yaml:"has_auto"`
}

// Effective returns the manual value when overridden, else the fitted one.
func (v Value) Effective() float64 {
	if v.IsAuto {
		return v.Auto
	}
	return v.Manual
}

// Entry is the stored state of one (peak, channel) pair.
type Entry struct {
	Peak    int
	Channel int
	Values  [numParams]Value
	Warning error
}

// Mode returns the effective parameters.
func (e Entry) Mode() dsp.Mode {
	var m dsp.Mode
	for _, p := range Params {
		set(&m, p, e.Values[p].Effective())
	}
	return m
}

type peakState struct {
	band     Band
	hasBand  bool
	channels map[int]*Entry
}

// Store keeps per-(peak, channel) parameters with per-parameter auto or
// manual mode, and the band of each peak. Iteration order is by peak,
// then channel. Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	peaks map[int]*peakState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{peaks: make(map[int]*peakState)}
}

func (s *Store) peak(i int) *peakState {
	ps, ok := s.peaks[i]
	if !ok {
		ps = &peakState{channels: make(map[int]*Entry)}
		s.peaks[i] = ps
	}
	return ps
}

func (s *Store) entry(peak, channel int) *Entry {
	ps := s.peak(peak)
	e, ok := ps.channels[channel]
	if !ok {
		e = &Entry{Peak: peak, Channel: channel}
		for p := range e.Values {
			e.Values[p].IsAuto = true
		}
		ps.channels[channel] = e
	}
	return e
}

// SetBand records the fitting band of a peak.
func (s *Store) SetBand(peak int, band Band) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.peak(peak)
	ps.band, ps.hasBand = band, true
}

// Band returns the band of a peak.
func (s *Store) Band(peak int) (Band, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.peaks[peak]
	if !ok || !ps.hasBand {
		return Band{}, false
	}
	return ps.band, true
}

// Update writes a fit result as the auto value of every parameter.
// Parameters in manual mode keep their user value.
func (s *Store) Update(peak, channel int, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(peak, channel)
	for _, p := range Params {
		e.Values[p].Auto = get(r.Mode, p)
		e.Values[p].HasAuto = true
	}
	e.Warning = r.Warning
}

// SetManual overrides p with a user value and switches it to manual mode.
func (s *Store) SetManual(peak, channel int, p Param, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(peak, channel)
	e.Values[p].Manual = v
	e.Values[p].IsAuto = false
}

// SetAuto returns p to auto mode; the next read uses the fitted value.
func (s *Store) SetAuto(peak, channel int, p Param) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(peak, channel).Values[p].IsAuto = true
}

// Entry returns a copy of the stored state.
func (s *Store) Entry(peak, channel int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.peaks[peak]
	if !ok {
		return Entry{}, false
	}
	e, ok := ps.channels[channel]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Mode returns the effective parameters of a (peak, channel) pair.
func (s *Store) Mode(peak, channel int) (dsp.Mode, bool) {
	e, ok := s.Entry(peak, channel)
	if !ok {
		return dsp.Mode{}, false
	}
	return e.Mode(), true
}

// Peaks returns the stored peak indices in ascending order.
func (s *Store) Peaks() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.peaks))
}

// Entries returns every entry ordered by peak, then channel.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, peak := range slices.Sorted(maps.Keys(s.peaks)) {
		ps := s.peaks[peak]
		for _, ch := range slices.Sorted(maps.Keys(ps.channels)) {
			out = append(out, *ps.channels[ch])
		}
	}
	return out
}

// Aggregate is the per-peak view across channels.
type Aggregate struct {
	Peak int
	// Mean holds the channel mean of each parameter; Valid is false where
	// any channel is in manual mode or has not been fitted.
	Mean  [numParams]float64
	Valid [numParams]bool
}

// Aggregate averages each parameter over the channels of a peak when
// every channel's value for it is in auto mode.
func (s *Store) Aggregate(peak int) (Aggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.peaks[peak]
	if !ok || len(ps.channels) == 0 {
		return Aggregate{}, false
	}
	agg := Aggregate{Peak: peak}
	channels := slices.Sorted(maps.Keys(ps.channels))
	for _, p := range Params {
		var sum float64
		valid := true
		for _, ch := range channels {
			v := ps.channels[ch].Values[p]
			if !v.IsAuto || !v.HasAuto {
				valid = false
				break
			}
			sum += v.Auto
		}
		if valid {
			agg.Mean[p] = sum / float64(len(channels))
			agg.Valid[p] = true
		}
	}
	return agg, true
}

// Modes returns the effective modes of one channel across peaks, in peak
// order, for Reconstruct.
func (s *Store) Modes(channel int) []dsp.Mode {
	var out []dsp.Mode
	for _, e := range s.Entries() {
		if e.Channel == channel {
			out = append(out, e.Mode())
		}
	}
	return out
}

// RemovePeak drops a peak with its band and every channel entry.
func (s *Store) RemovePeak(peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peaks, peak)
}
