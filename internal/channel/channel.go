package channel

import (
	"image/color"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/vibrolab/daqbench/internal/dsp"
)

// Recognised metadata keys.
const (
	KeyName                 = "name"
	KeySampleRate           = "sample_rate"
	KeyCalibrationFactor    = "calibration_factor"
	KeyTransferFunctionType = "transfer_function_type"
	KeyTags                 = "tags"
	KeyComments             = "comments"
	KeyColour               = "colour"
)

// Metadata is a snapshot of a channel's descriptive fields.
type Metadata struct {
	Name                 string     `yaml:"name"`
	SampleRate           float64    `yaml:"sample_rate"`
	CalibrationFactor    float64    `yaml:"calibration_factor"`
	TransferFunctionType dsp.TFType `yaml:"-"`
	Tags                 []string   `yaml:"tags,omitempty"`
	Comments             string     `yaml:"comments,omitempty"`
	Colour               color.RGBA `yaml:"-"`
}

// Channel owns a set of datasets keyed by id plus metadata. It is safe for
// concurrent use; derived axes are recomputed lazily under the write lock.
type Channel struct {
	mu       sync.RWMutex
	meta     Metadata
	data     map[DataSetID]*DataSet
	stale    [numDataSets]bool
	sonWidth int
	sonHop   int
}

// New returns an empty channel.
func New(name string, sampleRate float64) *Channel {
	return &Channel{
		meta: Metadata{
			Name:                 name,
			SampleRate:           sampleRate,
			CalibrationFactor:    1,
			TransferFunctionType: dsp.Displacement,
		},
		data: make(map[DataSetID]*DataSet),
	}
}

// Metadata returns a copy of the channel metadata.
func (c *Channel) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.meta
	m.Tags = slices.Clone(m.Tags)
	return m
}

// Name returns the channel name.
func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta.Name
}

// SampleRate returns the channel sample rate in Hz.
func (c *Channel) SampleRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta.SampleRate
}

// SetMetadata applies recognised keys. Every key and value is validated
// before any field changes, so a failed call leaves the channel untouched.
func (c *Channel) SetMetadata(md map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.meta
	keys := slices.Sorted(maps.Keys(md))
	for _, key := range keys {
		if err := applyMetadata(&next, key, md[key]); err != nil {
			return err
		}
	}

	if next.SampleRate != c.meta.SampleRate {
		c.markAxesStale()
	}
	c.meta = next
	return nil
}

func applyMetadata(m *Metadata, key string, v any) error {
	switch key {
	case KeyName:
		s, err := cast.ToStringE(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		m.Name = s
	case KeySampleRate:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		if !(f > 0) || math.IsInf(f, 0) {
			return modelError(ErrInvalidMetadata, "set-metadata", "sample_rate %g must be positive", f)
		}
		m.SampleRate = f
	case KeyCalibrationFactor:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return modelError(ErrInvalidMetadata, "set-metadata", "calibration_factor %g must be finite and non-zero", f)
		}
		m.CalibrationFactor = f
	case KeyTransferFunctionType:
		switch t := v.(type) {
		case dsp.TFType:
			if t.String() == "unknown" {
				return modelError(ErrInvalidMetadata, "set-metadata", "transfer_function_type %d", int(t))
			}
			m.TransferFunctionType = t
		default:
			s, err := cast.ToStringE(v)
			if err != nil {
				return metadataValueError(key, v, err)
			}
			parsed, perr := dsp.ParseTFType(s)
			if perr != nil {
				return metadataValueError(key, v, perr)
			}
			m.TransferFunctionType = parsed
		}
	case KeyTags:
		tags, err := toTags(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		m.Tags = tags
	case KeyComments:
		s, err := cast.ToStringE(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		m.Comments = s
	case KeyColour:
		col, err := toColour(v)
		if err != nil {
			return metadataValueError(key, v, err)
		}
		m.Colour = col
	default:
		return modelError(ErrUnknownMetadata, "set-metadata", "key %q", key)
	}
	return nil
}

func metadataValueError(key string, v any, cause error) error {
	return modelError(ErrInvalidMetadata, "set-metadata", "%s=%v: %v", key, v, cause)
}

func toTags(v any) ([]string, error) {
	if s, ok := v.(string); ok {
		var tags []string
		for t := range strings.SplitSeq(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags, nil
	}
	return cast.ToStringSliceE(v)
}

func toColour(v any) (color.RGBA, error) {
	switch c := v.(type) {
	case color.RGBA:
		return c, nil
	case color.Color:
		return color.RGBAModel.Convert(c).(color.RGBA), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return color.RGBA{}, err
	}
	return ParseHexColour(s)
}

// SetSonogramParams records the STFT window width and hop used to produce
// the sonogram dataset.
func (c *Channel) SetSonogramParams(width, hop int) error {
	if width < 2 || hop < 1 {
		return modelError(ErrInvalidMetadata, "sonogram-params", "width %d hop %d", width, hop)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sonWidth, c.sonHop = width, hop
	c.stale[SonogramTime] = true
	c.stale[SonogramFrequency] = true
	c.stale[SonogramOmega] = true
	return nil
}

// SonogramParams returns the STFT width and hop, zero when unset.
func (c *Channel) SonogramParams() (width, hop int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sonWidth, c.sonHop
}

// AddDataSet creates a dataset. Adding an existing id is a no-op unless
// values are given and differ from the stored ones, which reports
// ErrDuplicateDataSet and leaves the stored values in place.
func (c *Channel) AddDataSet(id DataSetID, units string, values Values) error {
	if err := checkWritable(id, values); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ds, ok := c.data[id]; ok {
		if values.Empty() || ds.Values.Equal(values) {
			return nil
		}
		return modelError(ErrDuplicateDataSet, "add-dataset", "%s on channel %q holds different values", id, c.meta.Name)
	}
	if units == "" {
		units = DefaultUnits(id)
	}
	c.data[id] = &DataSet{ID: id, Units: units, Values: values.Clone()}
	c.invalidateFrom(id)
	return nil
}

// SetData replaces the values of id, creating the dataset if needed.
func (c *Channel) SetData(id DataSetID, values Values) error {
	if err := checkWritable(id, values); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ds, ok := c.data[id]; ok {
		ds.Values = values.Clone()
	} else {
		c.data[id] = &DataSet{ID: id, Units: DefaultUnits(id), Values: values.Clone()}
	}
	c.invalidateFrom(id)
	return nil
}

// Remove drops id and any axes derived from it.
func (c *Channel) Remove(id DataSetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	c.invalidateFrom(id)
}

func checkWritable(id DataSetID, values Values) error {
	if !id.Valid() {
		return modelError(ErrNoSuchDataSet, "set-data", "id %d", int(id))
	}
	if id.Derived() {
		return modelError(ErrDerivedDataSet, "set-data", "%s is computed from the channel", id)
	}
	return values.validate()
}

// GetData returns a copy of id's values, or empty Values when the dataset
// is absent.
func (c *Channel) GetData(id DataSetID) Values {
	ds, err := c.Lookup(id)
	if err != nil {
		return Values{}
	}
	return ds.Values
}

// Lookup returns a copy of the dataset, refreshing derived axes first.
// An absent dataset reports ErrNoSuchDataSet.
func (c *Channel) Lookup(id DataSetID) (DataSet, error) {
	if !id.Valid() {
		return DataSet{}, modelError(ErrNoSuchDataSet, "lookup", "id %d", int(id))
	}
	if id.Derived() {
		c.refresh(id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.data[id]
	if !ok {
		return DataSet{}, modelError(ErrNoSuchDataSet, "lookup", "%s on channel %q", id, c.meta.Name)
	}
	out := *ds
	out.Values = ds.Values.Clone()
	return out, nil
}

// Has reports whether id is present, counting derived axes whose source
// exists.
func (c *Channel) Has(id DataSetID) bool {
	_, err := c.Lookup(id)
	return err == nil
}

// IDs lists present datasets in declaration order, derived axes included.
func (c *Channel) IDs() []DataSetID {
	for _, id := range []DataSetID{Time, Frequency, Omega, SonogramTime, SonogramFrequency, SonogramOmega} {
		c.refresh(id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]DataSetID, 0, len(c.data))
	for id := range c.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// invalidateFrom marks axes depending on id as stale. Caller holds mu.
func (c *Channel) invalidateFrom(id DataSetID) {
	switch id {
	case TimeSeries:
		c.stale[Time] = true
	case Spectrum, TransferFunction, Coherence:
		c.stale[Frequency] = true
		c.stale[Omega] = true
	case Sonogram:
		c.stale[SonogramTime] = true
		c.stale[SonogramFrequency] = true
		c.stale[SonogramOmega] = true
	}
}

// markAxesStale invalidates every derived axis. Caller holds mu.
func (c *Channel) markAxesStale() {
	for id := range c.stale {
		if DataSetID(id).Derived() {
			c.stale[id] = true
		}
	}
}

func (c *Channel) refresh(id DataSetID) {
	c.mu.RLock()
	stale := c.stale[id]
	c.mu.RUnlock()
	if !stale {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stale[id] {
		return
	}
	switch id {
	case Time:
		c.deriveTime()
	case Frequency, Omega:
		c.deriveFrequency()
	case SonogramTime, SonogramFrequency, SonogramOmega:
		c.deriveSonogramAxes()
	}
}

// setDerived stores or removes a derived axis. Caller holds mu.
func (c *Channel) setDerived(id DataSetID, v []float64) {
	c.stale[id] = false
	if v == nil {
		delete(c.data, id)
		return
	}
	if ds, ok := c.data[id]; ok {
		ds.Values = Reals(v)
		return
	}
	c.data[id] = &DataSet{ID: id, Units: DefaultUnits(id), Values: Reals(v)}
}

func (c *Channel) deriveTime() {
	src, ok := c.data[TimeSeries]
	if !ok || !(c.meta.SampleRate > 0) {
		c.setDerived(Time, nil)
		return
	}
	n := src.Values.Len()
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) / c.meta.SampleRate
	}
	c.setDerived(Time, t)
}

// frequencySource picks the one-sided vector the frequency axis follows.
func (c *Channel) frequencySource() (int, bool) {
	for _, id := range []DataSetID{Spectrum, TransferFunction, Coherence} {
		if ds, ok := c.data[id]; ok && ds.Values.Len() > 0 {
			return ds.Values.Len(), true
		}
	}
	return 0, false
}

func (c *Channel) deriveFrequency() {
	bins, ok := c.frequencySource()
	if !ok || !(c.meta.SampleRate > 0) {
		c.setDerived(Frequency, nil)
		c.setDerived(Omega, nil)
		return
	}
	f := binFrequencies(bins, c.meta.SampleRate)
	c.setDerived(Frequency, f)
	c.setDerived(Omega, dsp.Omega(f))
}

// binFrequencies is the frequency of each bin of a one-sided vector.
func binFrequencies(bins int, sampleRate float64) []float64 {
	f := make([]float64, bins)
	if bins > 1 {
		n := float64(2 * (bins - 1))
		for k := range f {
			f[k] = float64(k) * sampleRate / n
		}
	}
	return f
}

// TransferAxes returns the frequency and angular frequency of each
// transfer function bin. They differ from the frequency and omega datasets
// when the transfer function was estimated on segments shorter than the
// capture. Both are nil without a transfer function or sample rate.
func (c *Channel) TransferAxes() (freq, omega []float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tf, ok := c.data[TransferFunction]
	if !ok || tf.Values.Len() == 0 || !(c.meta.SampleRate > 0) {
		return nil, nil
	}
	freq = binFrequencies(tf.Values.Len(), c.meta.SampleRate)
	return freq, dsp.Omega(freq)
}

func (c *Channel) deriveSonogramAxes() {
	son, ok := c.data[Sonogram]
	if !ok || !son.Values.Is2D() || c.sonHop == 0 || !(c.meta.SampleRate > 0) {
		c.setDerived(SonogramTime, nil)
		c.setDerived(SonogramFrequency, nil)
		c.setDerived(SonogramOmega, nil)
		return
	}
	width := c.sonWidth
	if width == 0 {
		width = 2 * (son.Values.Cols - 1)
	}
	f := dsp.SonogramFrequencies(width, c.meta.SampleRate)
	c.setDerived(SonogramTime, dsp.SonogramTimes(son.Values.Rows, c.sonHop, c.meta.SampleRate))
	c.setDerived(SonogramFrequency, f)
	c.setDerived(SonogramOmega, dsp.Omega(f))
}
