// Package channel holds the in-memory capture model: channels that own
// named datasets plus metadata, and ordered channel sets with selectors
// and a positional colour map.
//
// Derived axes (time, frequency, omega and the sonogram axes) are owned by
// the model. They are marked stale whenever their source dataset or the
// sample rate changes and recomputed on the next read.
package channel

import (
	"github.com/vibrolab/daqbench/internal/errors"
)

var (
	// ErrUnknownMetadata reports a metadata key outside the recognised set.
	ErrUnknownMetadata = errors.NewStd("unknown metadata")
	// ErrInvalidMetadata reports a recognised key with an unusable value.
	ErrInvalidMetadata = errors.NewStd("invalid metadata value")
	// ErrDuplicateDataSet reports an add that disagrees with existing values.
	ErrDuplicateDataSet = errors.NewStd("duplicate dataset")
	// ErrNoSuchDataSet reports a lookup of an absent dataset.
	ErrNoSuchDataSet = errors.NewStd("no such dataset")
	// ErrDerivedDataSet reports a write to a model-derived axis.
	ErrDerivedDataSet = errors.NewStd("dataset is derived")
	// ErrInvalidValues reports a malformed Values shape.
	ErrInvalidValues = errors.NewStd("invalid dataset values")
	// ErrInvalidSelector reports a selector expression that cannot be parsed.
	ErrInvalidSelector = errors.NewStd("invalid selector")
	// ErrIndexOutOfRange reports a single channel index outside the set.
	ErrIndexOutOfRange = errors.NewStd("channel index out of range")
)

func modelError(sentinel error, operation, format string, args ...any) error {
	return errors.Newf("%s: %w: "+format, append([]any{operation, sentinel}, args...)...).
		Component("channel").
		Category(errors.CategoryModel).
		Context("operation", operation).
		Build()
}
