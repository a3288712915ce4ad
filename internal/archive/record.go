// Package archive persists channel sets. The native record is a zip
// holding a YAML header and one NPY member per dataset; the legacy layout
// splits time, spectrum and sonogram data into separate NPZ files with the
// historical key names. Captures can also be exported as 16-bit WAV.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// FormatVersion tags native records.
const FormatVersion = "daqbench/1"

const headerMember = "header.yaml"

var (
	// ErrUnsupportedFormat reports a record this package cannot read.
	ErrUnsupportedFormat = errors.NewStd("unsupported archive format")
	// ErrCorruptRecord reports a record whose members disagree with its header.
	ErrCorruptRecord = errors.NewStd("corrupt archive record")
	// ErrInconsistentDataSet reports a dataset present on only some
	// channels or with differing shapes across channels.
	ErrInconsistentDataSet = errors.NewStd("inconsistent dataset across channels")
	// ErrEmptySet reports an attempt to persist a set without channels.
	ErrEmptySet = errors.NewStd("channel set is empty")
)

// persisted lists the datasets written to a record, in member order.
// Derived axes are rebuilt on load.
var persisted = []channel.DataSetID{
	channel.TimeSeries,
	channel.Spectrum,
	channel.TransferFunction,
	channel.Coherence,
	channel.Sonogram,
	channel.SonogramPhase,
}

// GetLogger returns the archive logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("archive")
}

// Info identifies a record.
type Info struct {
	ID      string
	Session string
	Created time.Time
}

// ChannelHeader is the persisted metadata of one channel.
type ChannelHeader struct {
	Name                 string   `yaml:"name"`
	Comments             string   `yaml:"comments,omitempty"`
	Tags                 []string `yaml:"tags,omitempty"`
	TransferFunctionType string   `yaml:"transfer_function_type"`
	CalibrationFactor    float64  `yaml:"calibration_factor"`
}

// SonogramHeader records the STFT parameters of the sonogram datasets.
type SonogramHeader struct {
	Width int `yaml:"width"`
	Hop   int `yaml:"hop"`
}

// Header is the YAML header of a native record.
type Header struct {
	Format            string          `yaml:"format"`
	ID                string          `yaml:"id"`
	Session           string          `yaml:"session,omitempty"`
	Created           time.Time       `yaml:"created"`
	SampleRate        float64         `yaml:"sample_rate"`
	Channels          int             `yaml:"channels"`
	NSamples          int             `yaml:"n_samples"`
	CalibrationFactor float64         `yaml:"calibration_factor"`
	DataSets          []string        `yaml:"datasets"`
	Sonogram          *SonogramHeader `yaml:"sonogram,omitempty"`
	ChannelMetadata   []ChannelHeader `yaml:"channel_metadata"`
}

func archiveError(sentinel error, operation, format string, args ...any) error {
	return errors.Newf("%s: %w: "+format, append([]any{operation, sentinel}, args...)...).
		Component("archive").
		Category(errors.CategoryArchive).
		Context("operation", operation).
		Build()
}

func wrapIO(err error, operation string) error {
	return errors.New(err).
		Component("archive").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Build()
}

// BuildHeader describes set without encoding any data.
func BuildHeader(set *channel.Set, info Info) (Header, error) {
	chs := set.Channels()
	if len(chs) == 0 {
		return Header{}, archiveError(ErrEmptySet, "header", "nothing to persist")
	}
	first := chs[0].Metadata()
	h := Header{
		Format:            FormatVersion,
		ID:                info.ID,
		Session:           info.Session,
		Created:           info.Created.UTC(),
		SampleRate:        first.SampleRate,
		Channels:          len(chs),
		NSamples:          chs[0].GetData(channel.TimeSeries).Len(),
		CalibrationFactor: first.CalibrationFactor,
	}
	for _, ch := range chs {
		md := ch.Metadata()
		h.ChannelMetadata = append(h.ChannelMetadata, ChannelHeader{
			Name:                 md.Name,
			Comments:             md.Comments,
			Tags:                 md.Tags,
			TransferFunctionType: md.TransferFunctionType.String(),
			CalibrationFactor:    md.CalibrationFactor,
		})
	}
	if w, hop := chs[0].SonogramParams(); hop > 0 {
		h.Sonogram = &SonogramHeader{Width: w, Hop: hop}
	}
	return h, nil
}

// Encode writes set as a native record.
func Encode(w io.Writer, set *channel.Set, info Info) (Header, error) {
	h, err := BuildHeader(set, info)
	if err != nil {
		return Header{}, err
	}
	chs := set.Channels()

	arrays := make(map[channel.DataSetID]Array)
	for _, id := range persisted {
		arr, ok, err := gather(chs, id)
		if err != nil {
			return Header{}, err
		}
		if ok {
			arrays[id] = arr
			h.DataSets = append(h.DataSets, id.String())
		}
	}

	zw := zip.NewWriter(w)
	hw, err := zw.Create(headerMember)
	if err != nil {
		return Header{}, wrapIO(err, "create_header")
	}
	enc := yaml.NewEncoder(hw)
	if err := enc.Encode(&h); err != nil {
		return Header{}, wrapIO(err, "write_header")
	}
	if err := enc.Close(); err != nil {
		return Header{}, wrapIO(err, "write_header")
	}

	for _, name := range h.DataSets {
		id, _ := channel.ParseDataSetID(name)
		mw, err := zw.Create(name + ".npy")
		if err != nil {
			return Header{}, wrapIO(err, "create_member")
		}
		if err := WriteNPY(mw, arrays[id]); err != nil {
			return Header{}, wrapIO(err, "write_member")
		}
	}
	if err := zw.Close(); err != nil {
		return Header{}, wrapIO(err, "close_archive")
	}
	return h, nil
}

// gather stacks id across channels: vectors become (len, channels)
// matrices, 2-D datasets become (channels, rows, cols).
func gather(chs []*channel.Channel, id channel.DataSetID) (Array, bool, error) {
	vals := make([]channel.Values, len(chs))
	present := 0
	for i, ch := range chs {
		vals[i] = ch.GetData(id)
		if !vals[i].Empty() {
			present++
		}
	}
	if present == 0 {
		return Array{}, false, nil
	}
	if present != len(chs) {
		return Array{}, false, archiveError(ErrInconsistentDataSet, "encode", "%s present on %d of %d channels", id, present, len(chs))
	}

	first := vals[0]
	for i, v := range vals {
		if v.IsComplex() != first.IsComplex() || v.Len() != first.Len() || v.Rows != first.Rows || v.Cols != first.Cols {
			return Array{}, false, archiveError(ErrInconsistentDataSet, "encode", "%s on channel %d differs in shape", id, i)
		}
	}

	n := len(chs)
	if first.Is2D() {
		shape := []int{n, first.Rows, first.Cols}
		if first.IsComplex() {
			data := make([]complex128, 0, n*first.Len())
			for _, v := range vals {
				data = append(data, v.Complex...)
			}
			return ComplexArray(data, shape...), true, nil
		}
		data := make([]float64, 0, n*first.Len())
		for _, v := range vals {
			data = append(data, v.Real...)
		}
		return FloatArray(data, shape...), true, nil
	}

	rows := first.Len()
	if first.IsComplex() {
		data := make([]complex128, rows*n)
		for c, v := range vals {
			for r, x := range v.Complex {
				data[r*n+c] = x
			}
		}
		return ComplexArray(data, rows, n), true, nil
	}
	data := make([]float64, rows*n)
	for c, v := range vals {
		for r, x := range v.Real {
			data[r*n+c] = x
		}
	}
	return FloatArray(data, rows, n), true, nil
}

// scatter is the inverse of gather.
func scatter(set *channel.Set, id channel.DataSetID, arr Array) error {
	if arr.Descr != DescrFloat64 && arr.Descr != DescrComplex128 {
		return archiveError(ErrCorruptRecord, "decode", "%s stored as %s", id, arr.Descr)
	}
	n := set.Len()
	chs := set.Channels()
	switch len(arr.Shape) {
	case 3:
		if arr.Shape[0] != n {
			return archiveError(ErrCorruptRecord, "decode", "%s holds %d channels, header says %d", id, arr.Shape[0], n)
		}
		rows, cols := arr.Shape[1], arr.Shape[2]
		size := rows * cols
		for c, ch := range chs {
			var v channel.Values
			if arr.Descr == DescrComplex128 {
				v = channel.ComplexMatrix(arr.Complex[c*size:(c+1)*size], rows, cols)
			} else {
				v = channel.RealMatrix(arr.Float[c*size:(c+1)*size], rows, cols)
			}
			if err := ch.SetData(id, v); err != nil {
				return err
			}
		}
	case 2:
		if arr.Shape[1] != n {
			return archiveError(ErrCorruptRecord, "decode", "%s holds %d channels, header says %d", id, arr.Shape[1], n)
		}
		rows := arr.Shape[0]
		for c, ch := range chs {
			var v channel.Values
			if arr.Descr == DescrComplex128 {
				col := make([]complex128, rows)
				for r := range col {
					col[r] = arr.Complex[r*n+c]
				}
				v = channel.Complexes(col)
			} else {
				col := make([]float64, rows)
				for r := range col {
					col[r] = arr.Float[r*n+c]
				}
				v = channel.Reals(col)
			}
			if err := ch.SetData(id, v); err != nil {
				return err
			}
		}
	default:
		return archiveError(ErrCorruptRecord, "decode", "%s has shape %v", id, arr.Shape)
	}
	return nil
}

// Decode reads a native record.
func Decode(r io.ReaderAt, size int64) (*channel.Set, Header, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, Header{}, archiveError(ErrUnsupportedFormat, "decode", "%v", err)
	}
	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	hf, ok := members[headerMember]
	if !ok {
		return nil, Header{}, archiveError(ErrUnsupportedFormat, "decode", "missing %s", headerMember)
	}
	var h Header
	if err := readMember(hf, func(rc io.Reader) error {
		return yaml.NewDecoder(rc).Decode(&h)
	}); err != nil {
		return nil, Header{}, archiveError(ErrCorruptRecord, "decode", "header: %v", err)
	}
	if h.Format != FormatVersion {
		return nil, Header{}, archiveError(ErrUnsupportedFormat, "decode", "format %q", h.Format)
	}
	if h.Channels <= 0 || len(h.ChannelMetadata) != h.Channels {
		return nil, Header{}, archiveError(ErrCorruptRecord, "decode", "%d channels with %d metadata entries", h.Channels, len(h.ChannelMetadata))
	}

	set := channel.NewSet(h.Channels, h.SampleRate)
	for i, ch := range set.Channels() {
		if err := ch.SetMetadata(channelMetadata(h.ChannelMetadata[i])); err != nil {
			return nil, Header{}, err
		}
		if h.Sonogram != nil {
			if err := ch.SetSonogramParams(h.Sonogram.Width, h.Sonogram.Hop); err != nil {
				return nil, Header{}, err
			}
		}
	}

	for _, name := range h.DataSets {
		id, err := channel.ParseDataSetID(name)
		if err != nil {
			return nil, Header{}, archiveError(ErrCorruptRecord, "decode", "dataset %q", name)
		}
		f, ok := members[name+".npy"]
		if !ok {
			return nil, Header{}, archiveError(ErrCorruptRecord, "decode", "missing member %s.npy", name)
		}
		var arr Array
		if err := readMember(f, func(rc io.Reader) (err error) {
			arr, err = ReadNPY(rc, memberLimit(f))
			return err
		}); err != nil {
			return nil, Header{}, archiveError(ErrCorruptRecord, "decode", "%s: %v", name, err)
		}
		if err := scatter(set, id, arr); err != nil {
			return nil, Header{}, err
		}
	}
	return set, h, nil
}

func channelMetadata(ch ChannelHeader) map[string]any {
	md := map[string]any{
		channel.KeyName:     ch.Name,
		channel.KeyComments: ch.Comments,
	}
	if len(ch.Tags) > 0 {
		md[channel.KeyTags] = ch.Tags
	}
	if ch.TransferFunctionType != "" {
		md[channel.KeyTransferFunctionType] = ch.TransferFunctionType
	}
	if ch.CalibrationFactor != 0 {
		md[channel.KeyCalibrationFactor] = ch.CalibrationFactor
	}
	return md
}

func readMember(f *zip.File, fn func(io.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := fn(rc); err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	return nil
}
