package archive

import (
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/vibrolab/daqbench/internal/channel"
	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// RecordExt is the file extension of native records.
const RecordExt = ".dqb"

const stampLayout = "20060102T150405Z"

// Saved lists the files written for one record.
type Saved struct {
	Header Header
	Record string
	Legacy []string
	WAV    string
}

// Store writes records below a directory of an afero filesystem.
type Store struct {
	fs     afero.Fs
	dir    string
	legacy bool
	wav    bool
	keep   retention
	log    logger.Logger
}

// NewStore returns a store rooted at settings.Directory.
func NewStore(fsys afero.Fs, settings conf.ArchiveSettings) *Store {
	dir := settings.Directory
	if dir == "" {
		dir = "."
	}
	s := &Store{
		fs:     fsys,
		dir:    dir,
		legacy: settings.Legacy,
		wav:    settings.ExportWAV,
		log:    GetLogger(),
	}
	s.keep = newRetention(settings.Retention, s.log)
	return s
}

// Dir is the directory records are written to.
func (s *Store) Dir() string { return s.dir }

// Save persists set. A missing ID or creation time is filled in. Legacy
// files and a WAV export are written next to the record when enabled.
func (s *Store) Save(set *channel.Set, info Info) (saved Saved, err error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.Created.IsZero() {
		info.Created = time.Now()
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return Saved{}, wrapIO(err, "mkdir")
	}

	base := path.Join(s.dir, recordBase(info))
	saved.Record = base + RecordExt
	f, err := s.fs.Create(saved.Record)
	if err != nil {
		return Saved{}, wrapIO(err, "create_record")
	}
	saved.Header, err = Encode(f, set, info)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = wrapIO(cerr, "close_record")
	}
	if err != nil {
		_ = s.fs.Remove(saved.Record)
		return Saved{}, err
	}

	if s.legacy {
		if saved.Legacy, err = EncodeLegacy(s.fs, base, set); err != nil {
			return saved, err
		}
	}
	if s.wav && saved.Header.NSamples > 0 {
		saved.WAV = base + ".wav"
		if err := s.exportWAV(saved.WAV, set); err != nil {
			return saved, err
		}
	}

	s.log.Info("record saved",
		logger.String("record", saved.Record),
		logger.String("session", info.Session),
		logger.Int("channels", saved.Header.Channels),
		logger.Int("samples", saved.Header.NSamples),
		logger.Int("legacy_files", len(saved.Legacy)))
	return saved, nil
}

func (s *Store) exportWAV(name string, set *channel.Set) (err error) {
	f, err := s.fs.Create(name)
	if err != nil {
		return wrapIO(err, "create_wav")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = wrapIO(cerr, "close_wav")
		}
	}()
	first, err := set.Channel(0)
	if err != nil {
		return err
	}
	block, err := set.TimeSeries()
	if err != nil {
		return err
	}
	md := first.Metadata()
	return ExportWAV(f, block, int(md.SampleRate), md.CalibrationFactor)
}

// Load reads a native record, or a legacy set when name is a legacy file
// or the base name shared by legacy files.
func (s *Store) Load(name string) (*channel.Set, error) {
	if !strings.ContainsRune(name, '/') {
		name = path.Join(s.dir, name)
	}
	if strings.HasSuffix(name, RecordExt) {
		f, err := s.fs.Open(name)
		if err != nil {
			return nil, wrapIO(err, "open_record")
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return nil, wrapIO(err, "stat_record")
		}
		set, _, err := Decode(f, st.Size())
		return set, err
	}
	for _, suffix := range []string{LegacyTimeSuffix, LegacySpectrumSuffix, LegacySonogramSuffix} {
		if base, ok := strings.CutSuffix(name, suffix); ok {
			return DecodeLegacy(s.fs, base)
		}
	}
	return DecodeLegacy(s.fs, name)
}

// List returns the native record names in the store, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIO(err, "list")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), RecordExt) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func recordBase(info Info) string {
	id := strings.ReplaceAll(info.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return info.Created.UTC().Format(stampLayout) + "_" + id
}
