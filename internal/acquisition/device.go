// Package acquisition provides the Recorder: the device facade that turns
// raw int16 device frames into scaled chunks and drives the ring buffer and
// capture controller.
//
// Data flow:
//
//	Device thread -> reassembly queue -> chunk pump -> ring.Write -> capture.Feed -> capture.CheckTrigger
//
// Status notifications (recording_done, triggered, overflow, stream
// failures) travel on the events bus, never on the data path.
package acquisition

import (
	"github.com/vibrolab/daqbench/internal/errors"
)

// Device error taxonomy. Concrete devices wrap these with %w.
var (
	ErrDeviceNotFound    = errors.NewStd("device not found")
	ErrBusy              = errors.NewStd("device busy")
	ErrUnsupportedConfig = errors.NewStd("unsupported device configuration")
	ErrStreamFailed      = errors.NewStd("stream failed")
	ErrNotOpen           = errors.NewStd("device not open")
)

// Device kinds.
const (
	KindSoundCard = "soundcard"
	KindDAQ       = "daq"
	KindReplay    = "replay"
	KindSynthetic = "synthetic"
)

// DeviceInfo describes one enumerable input device.
type DeviceInfo struct {
	Name      string
	Kind      string
	ID        string
	IsDefault bool
}

// StreamConfig is the stream a device is asked to open.
type StreamConfig struct {
	DeviceName string
	Channels   int
	SampleRate float64
	ChunkSize  int // frames per callback, a hint for devices that honour it
}

// StreamHandler receives device callbacks. OnData is called on the device
// thread with interleaved little-endian int16 frames and must not retain pcm.
type StreamHandler interface {
	OnData(pcm []byte)
	// OnError reports a fatal stream error. The stream is dead afterwards.
	OnError(err error)
	// OnEnd reports that a finite source ran out of data.
	OnEnd()
}

// Device is the capability set every input variant implements.
type Device interface {
	// Kind returns one of the Kind* constants.
	Kind() string

	// FullScale is the physical value of int16 full scale: 1 for sound
	// cards, 10 (volts) for the DAQ.
	FullScale() float64

	Enumerate() ([]DeviceInfo, error)

	// Open configures the stream. Errors wrap ErrDeviceNotFound, ErrBusy
	// or ErrUnsupportedConfig.
	Open(cfg StreamConfig, handler StreamHandler) error
	Start() error
	Stop() error
	Close() error
}

// DeviceError builds a device-category error wrapping sentinel.
func DeviceError(kind, operation string, sentinel, cause error) error {
	var eb *errors.ErrorBuilder
	if cause != nil {
		eb = errors.Newf("%s %s: %w: %w", kind, operation, sentinel, cause)
	} else {
		eb = errors.Newf("%s %s: %w", kind, operation, sentinel)
	}
	return eb.
		Component("acquisition").
		Category(errors.CategoryDevice).
		Context("device_kind", kind).
		Context("operation", operation).
		Build()
}
