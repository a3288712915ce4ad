package archive

import (
	"archive/zip"
	"io"
	iofs "io/fs"
	"math"
	"math/cmplx"
	"slices"
	"strings"

	"github.com/sbinet/npyio/npz"
	"github.com/spf13/afero"

	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/dsp"
	"github.com/vibrolab/daqbench/internal/errors"
)

// Legacy file suffixes, one file per dataset group.
const (
	LegacyTimeSuffix     = "_time.npz"
	LegacySpectrumSuffix = "_spec.npz"
	LegacySonogramSuffix = "_sono.npz"
)

// Legacy keys.
const (
	keyInData  = "indata"
	keySpec    = "yspec"
	keySon     = "yson"
	keyPhase   = "yphase"
	keyFreq    = "freq"
	keyDT2     = "dt2"
	keyBufLen  = "buflen"
	keyTSMax   = "tsmax"
	keyTFun    = "tfun"
	keySonStep = "sonstep"
)

// EncodeLegacy writes set in the split legacy layout next to base and
// returns the files written. indata holds the time series with one column
// per channel; yspec holds the transfer function when present (tfun=1),
// else the spectrum (tfun=0); yson and yphase hold sonogram magnitude in
// dB and phase as (channels, rows, cols).
func EncodeLegacy(fs afero.Fs, base string, set *channel.Set) ([]string, error) {
	chs := set.Channels()
	if len(chs) == 0 {
		return nil, archiveError(ErrEmptySet, "encode_legacy", "nothing to persist")
	}
	first := chs[0].Metadata()

	timeArr, hasTime, err := gather(chs, channel.TimeSeries)
	if err != nil {
		return nil, err
	}
	specID, tfun := channel.Spectrum, int64(0)
	if !chs[0].GetData(channel.TransferFunction).Empty() {
		specID, tfun = channel.TransferFunction, 1
	}
	specArr, hasSpec, err := gather(chs, specID)
	if err != nil {
		return nil, err
	}
	sonArr, hasSon, err := gather(chs, channel.Sonogram)
	if err != nil {
		return nil, err
	}

	counts := []int64{0, 0, 0}
	if hasTime {
		counts[0] = int64(len(chs))
	}
	if hasSpec {
		counts[1] = int64(len(chs))
	}
	if hasSon {
		counts[2] = int64(len(chs))
	}
	nSamples := 0
	if hasTime {
		nSamples = timeArr.Shape[0]
	}
	common := func(m map[string]Array) map[string]Array {
		m[keyFreq] = Scalar(first.SampleRate)
		m[keyDT2] = IntArray(counts, 3)
		m[keyBufLen] = IntArray([]int64{int64(nSamples)})
		m[keyTSMax] = Scalar(first.CalibrationFactor)
		return m
	}

	var written []string
	if hasTime {
		path := base + LegacyTimeSuffix
		if err := writeNPZ(fs, path, common(map[string]Array{keyInData: timeArr})); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if hasSpec {
		path := base + LegacySpectrumSuffix
		m := common(map[string]Array{
			keySpec: specArr,
			keyTFun: IntArray([]int64{tfun}),
		})
		if err := writeNPZ(fs, path, m); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if hasSon {
		_, hop := chs[0].SonogramParams()
		path := base + LegacySonogramSuffix
		m := common(map[string]Array{
			keySon:     FloatArray(dsp.MagnitudeDB(sonArr.Complex), sonArr.Shape...),
			keyPhase:   FloatArray(dsp.Phase(sonArr.Complex), sonArr.Shape...),
			keySonStep: IntArray([]int64{int64(hop)}),
		})
		if err := writeNPZ(fs, path, m); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// DecodeLegacy reassembles a set from whichever legacy files exist for
// base. The sonogram is rebuilt from magnitude and phase, so it is exact
// only to float precision.
func DecodeLegacy(fs afero.Fs, base string) (*channel.Set, error) {
	groups := make(map[string]map[string]Array)
	for _, suffix := range []string{LegacyTimeSuffix, LegacySpectrumSuffix, LegacySonogramSuffix} {
		m, err := readNPZ(fs, base+suffix)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		groups[suffix] = m
	}
	if len(groups) == 0 {
		return nil, archiveError(ErrUnsupportedFormat, "decode_legacy", "no legacy files for %q", base)
	}

	var rate, cal float64 = 0, 1
	channels := 0
	for _, m := range groups {
		if a, ok := m[keyFreq]; ok {
			rate, _ = a.ScalarValue()
		}
		if a, ok := m[keyTSMax]; ok {
			cal, _ = a.ScalarValue()
		}
		if a, ok := m[keyDT2]; ok && a.Descr == DescrInt64 {
			for _, c := range a.Int {
				channels = max(channels, int(c))
			}
		}
	}
	if channels == 0 {
		return nil, archiveError(ErrCorruptRecord, "decode_legacy", "dt2 reports no channels")
	}

	set := channel.NewSet(channels, rate)
	if cal != 0 && cal != 1 {
		if err := set.SetMetadata(channel.All(), map[string]any{channel.KeyCalibrationFactor: cal}); err != nil {
			return nil, err
		}
	}

	if m, ok := groups[LegacyTimeSuffix]; ok {
		if err := scatterKey(set, m, keyInData, channel.TimeSeries); err != nil {
			return nil, err
		}
	}
	if m, ok := groups[LegacySpectrumSuffix]; ok {
		id := channel.Spectrum
		if a, ok := m[keyTFun]; ok {
			if v, _ := a.ScalarValue(); v == 1 {
				id = channel.TransferFunction
			}
		}
		if err := scatterKey(set, m, keySpec, id); err != nil {
			return nil, err
		}
	}
	if m, ok := groups[LegacySonogramSuffix]; ok {
		if err := decodeLegacySonogram(set, m); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func scatterKey(set *channel.Set, m map[string]Array, key string, id channel.DataSetID) error {
	a, ok := m[key]
	if !ok {
		return archiveError(ErrCorruptRecord, "decode_legacy", "missing key %s", key)
	}
	return scatter(set, id, a)
}

func decodeLegacySonogram(set *channel.Set, m map[string]Array) error {
	mag, ok1 := m[keySon]
	phase, ok2 := m[keyPhase]
	if !ok1 || !ok2 || len(mag.Shape) != 3 || mag.Len() != phase.Len() ||
		mag.Descr != DescrFloat64 || phase.Descr != DescrFloat64 {
		return archiveError(ErrCorruptRecord, "decode_legacy", "sonogram keys missing or mismatched")
	}
	son := make([]complex128, mag.Len())
	for i := range son {
		son[i] = cmplx.Rect(math.Pow(10, mag.Float[i]/20), phase.Float[i])
	}
	if err := scatter(set, channel.Sonogram, ComplexArray(son, mag.Shape...)); err != nil {
		return err
	}
	if err := scatter(set, channel.SonogramPhase, phase); err != nil {
		return err
	}
	if a, ok := m[keySonStep]; ok {
		hop, _ := a.ScalarValue()
		width := 2 * (mag.Shape[2] - 1)
		if hop >= 1 && width >= 2 {
			for _, ch := range set.Channels() {
				if err := ch.SetSonogramParams(width, int(hop)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeNPZ stores arrays as <key>.npy members.
func writeNPZ(fs afero.Fs, path string, arrays map[string]Array) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return wrapIO(err, "create_legacy")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = wrapIO(cerr, "close_legacy")
		}
	}()

	zw := npz.NewWriter(f)
	for _, key := range sortedKeys(arrays) {
		a := arrays[key]
		if err := a.check(); err != nil {
			return archiveError(ErrCorruptRecord, "encode_legacy", "%s: %v", key, err)
		}
		if err := zw.Write(key+".npy", a.value()); err != nil {
			return wrapIO(err, "write_member")
		}
	}
	if err := zw.Close(); err != nil {
		return wrapIO(err, "close_archive")
	}
	return nil
}

func readNPZ(fs afero.Fs, path string) (map[string]Array, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, wrapIO(err, "stat_legacy")
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		return nil, archiveError(ErrUnsupportedFormat, "decode_legacy", "%s: %v", path, err)
	}
	out := make(map[string]Array, len(zr.File))
	for _, zf := range zr.File {
		key, ok := strings.CutSuffix(zf.Name, ".npy")
		if !ok {
			continue
		}
		if err := readMember(zf, func(r io.Reader) (err error) {
			out[key], err = ReadNPY(r, memberLimit(zf))
			return err
		}); err != nil {
			return nil, archiveError(ErrCorruptRecord, "decode_legacy", "%s: %v", path, err)
		}
	}
	return out, nil
}

func sortedKeys(m map[string]Array) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
