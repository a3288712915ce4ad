package analysis

import "github.com/vibrolab/daqbench/internal/errors"

var (
	// ErrAnalysisCanceled is returned when the context ends mid-pipeline.
	ErrAnalysisCanceled = errors.NewStd("analysis canceled")
	// ErrInvalidChannel reports a channel index outside the capture.
	ErrInvalidChannel = errors.NewStd("channel index out of range")
	// ErrNoTransferFunction reports a fit request on a channel without a
	// transfer function.
	ErrNoTransferFunction = errors.NewStd("channel has no transfer function")
)

func analysisError(sentinel error, operation, format string, args ...any) error {
	return errors.Newf("%s: %w: "+format, append([]any{operation, sentinel}, args...)...).
		Component("analysis").
		Category(errors.CategoryDSP).
		Context("operation", operation).
		Build()
}
