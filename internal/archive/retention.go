package archive

import (
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// maxPruneDeletions bounds the records removed by one Prune call.
const maxPruneDeletions = 1000

type retention struct {
	maxAge     time.Duration
	maxRecords int
	minRecords int
}

func newRetention(r conf.RetentionSettings, log logger.Logger) retention {
	keep := retention{maxRecords: r.MaxRecords, minRecords: r.MinRecords}
	if r.MaxAge != "" {
		age, err := conf.ParseRetentionPeriod(r.MaxAge)
		if err != nil {
			log.Warn("invalid retention age, records kept regardless of age",
				logger.String("max_age", r.MaxAge),
				logger.Error(err))
		}
		keep.maxAge = age
	}
	return keep
}

func (r retention) enabled() bool {
	return r.maxAge > 0 || r.maxRecords > 0
}

// Prune removes the records that fall outside the retention policy, oldest
// first, together with their legacy files and WAV export. Records are aged
// by the timestamp in their name and the newest min_records are always
// kept. It returns the removed record paths.
func (s *Store) Prune(now time.Time) ([]string, error) {
	if !s.keep.enabled() {
		return nil, nil
	}
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	type dated struct {
		name    string
		created time.Time
	}
	var records []dated
	for _, name := range names {
		if created, ok := recordTime(name); ok {
			records = append(records, dated{name, created})
		}
	}

	expiry := now.Add(-s.keep.maxAge)
	remaining := len(records)
	var removed []string
	for _, rec := range records {
		if remaining <= s.keep.minRecords || len(removed) >= maxPruneDeletions {
			break
		}
		overCount := s.keep.maxRecords > 0 && remaining > s.keep.maxRecords
		expired := s.keep.maxAge > 0 && rec.created.Before(expiry)
		if !overCount && !expired {
			continue
		}

		record := path.Join(s.dir, rec.name)
		if err := s.removeRecord(record); err != nil {
			return removed, err
		}
		removed = append(removed, record)
		remaining--
	}

	if len(removed) > 0 {
		s.log.Info("archive pruned",
			logger.Int("removed", len(removed)),
			logger.Int("kept", remaining))
	}
	return removed, nil
}

// removeRecord deletes a record and its companion files.
func (s *Store) removeRecord(record string) error {
	base := strings.TrimSuffix(record, RecordExt)
	companions := []string{
		record,
		base + LegacyTimeSuffix,
		base + LegacySpectrumSuffix,
		base + LegacySonogramSuffix,
		base + ".wav",
	}
	for _, name := range companions {
		if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return wrapIO(err, "prune")
		}
	}
	return nil
}

// recordTime parses the creation stamp at the start of a record name.
func recordTime(name string) (time.Time, bool) {
	if len(name) < len(stampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(stampLayout, name[:len(stampLayout)])
	return t, err == nil
}
