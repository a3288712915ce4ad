package conf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vibrolab/daqbench/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateDeviceSettings(&settings.Device)...)
	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture, settings.Device.Channels)...)
	ve.Errors = append(ve.Errors, validateAnalysisSettings(&settings.Analysis, settings.Device.Channels)...)
	ve.Errors = append(ve.Errors, validateRetentionSettings(&settings.Archive.Retention)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateDeviceSettings(d *DeviceSettings) []string {
	var errs []string

	kinds := []string{DeviceSoundCard, DeviceDAQ, DeviceReplay, DeviceSynthetic}
	if !slices.Contains(kinds, d.Kind) {
		errs = append(errs, fmt.Sprintf("device.kind %q must be one of %s", d.Kind, strings.Join(kinds, ", ")))
	}
	if d.Channels <= 0 {
		errs = append(errs, "device.channels must be positive")
	}
	if d.SampleRate <= 0 {
		errs = append(errs, "device.sample_rate must be positive")
	}
	if d.ChunkSize <= 0 {
		errs = append(errs, "device.chunk_size must be positive")
	}
	if d.NumChunks <= 0 {
		errs = append(errs, "device.num_chunks must be positive")
	}
	if d.QueueDepth <= 0 {
		errs = append(errs, "device.queue_depth must be positive")
	}

	switch d.Kind {
	case DeviceDAQ:
		if d.DAQ.Command == "" {
			errs = append(errs, "device.daq.command is required for the daq device")
		}
	case DeviceReplay:
		if d.Replay.Path == "" {
			errs = append(errs, "device.replay.path is required for the replay device")
		}
	case DeviceSynthetic:
		if !slices.Contains([]string{"sine", "noise", "burst"}, d.Synthetic.Signal) {
			errs = append(errs, fmt.Sprintf("device.synthetic.signal %q must be sine, noise or burst", d.Synthetic.Signal))
		}
	}

	return errs
}

func validateCaptureSettings(c *CaptureSettings, channels int) []string {
	var errs []string

	switch c.Mode {
	case CaptureDuration:
		if c.Samples < 0 || (c.Samples == 0 && c.Duration <= 0) {
			errs = append(errs, "capture needs positive samples or duration")
		}
	case CaptureTrigger:
		if c.Threshold <= 0 {
			errs = append(errs, "capture.threshold must be positive")
		}
		if c.PreSamples < 0 || c.PostSamples <= 0 {
			errs = append(errs, "capture.pre_samples must be >= 0 and capture.post_samples > 0")
		}
		if c.TriggerChannel < 0 || (channels > 0 && c.TriggerChannel >= channels) {
			errs = append(errs, fmt.Sprintf("capture.trigger_channel %d outside [0, %d)", c.TriggerChannel, channels))
		}
	default:
		errs = append(errs, fmt.Sprintf("capture.mode %q must be duration or trigger", c.Mode))
	}
	if c.Count < 0 {
		errs = append(errs, "capture.count must be >= 0")
	}

	return errs
}

func validateAnalysisSettings(a *AnalysisSettings, channels int) []string {
	var errs []string

	if a.WindowWidth <= 1 {
		errs = append(errs, "analysis.window_width must be greater than 1")
	}
	if a.Overlap <= 1 {
		errs = append(errs, "analysis.overlap must be greater than 1")
	}
	if a.SegmentLength < 0 {
		errs = append(errs, "analysis.segment_length must be >= 0")
	}
	if a.Workers < 0 {
		errs = append(errs, "analysis.workers must be >= 0")
	}
	if a.ReferenceChannel < 0 || (channels > 0 && a.ReferenceChannel >= channels) {
		errs = append(errs, fmt.Sprintf("analysis.reference_channel %d outside [0, %d)", a.ReferenceChannel, channels))
	}
	if !slices.Contains([]string{"displacement", "velocity", "acceleration"}, a.TransferFunctionType) {
		errs = append(errs, fmt.Sprintf("analysis.transfer_function_type %q is not recognized", a.TransferFunctionType))
	}
	if a.CalibrationFactor <= 0 {
		errs = append(errs, "analysis.calibration_factor must be positive")
	}

	return errs
}

func validateRetentionSettings(r *RetentionSettings) []string {
	var errs []string
	if r.MaxAge != "" {
		if _, err := ParseRetentionPeriod(r.MaxAge); err != nil {
			errs = append(errs, "archive.retention.max_age: "+err.Error())
		}
	}
	if r.MaxRecords < 0 {
		errs = append(errs, "archive.retention.max_records must be >= 0")
	}
	if r.MinRecords < 0 {
		errs = append(errs, "archive.retention.min_records must be >= 0")
	}
	return errs
}
