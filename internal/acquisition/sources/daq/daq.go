// Package daq runs an external acquisition process and reads interleaved
// little-endian int16 frames from its stdout.
//
// The process learns the stream geometry from its environment:
//
//	DAQBENCH_DEVICE       device name, may be empty
//	DAQBENCH_CHANNELS     channel count
//	DAQBENCH_SAMPLE_RATE  frames per second
//	DAQBENCH_CHUNK_SIZE   frames per chunk
//
// A clean exit ends the stream. A non-zero exit or a read error fails it.
package daq

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
)

// FullScale is the input range of the supported boards in volts.
const FullScale = 10.0

const bytesPerSample = 2

// maxStderr bounds the diagnostic tail kept from the process.
const maxStderr = 4096

// Config names the acquisition command.
type Config struct {
	Command string
	Args    []string
}

// Device is an external process source.
type Device struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	stream  acquisition.StreamConfig
	handler acquisition.StreamHandler
	opened  bool
	cancel  context.CancelFunc
	done    chan struct{}
	stderr  tailWriter
}

// New returns a DAQ device running cfg.Command.
func New(cfg Config) *Device {
	return &Device{
		cfg: cfg,
		log: logger.Global().Module("acquisition.daq"),
	}
}

func (d *Device) Kind() string { return acquisition.KindDAQ }

func (d *Device) FullScale() float64 { return FullScale }

func (d *Device) Enumerate() ([]acquisition.DeviceInfo, error) {
	if d.cfg.Command == "" {
		return nil, nil
	}
	return []acquisition.DeviceInfo{{
		Name:      filepath.Base(d.cfg.Command),
		Kind:      acquisition.KindDAQ,
		ID:        d.cfg.Command,
		IsDefault: true,
	}}, nil
}

// Open validates the command and remembers the stream. The process is not
// started until Start.
func (d *Device) Open(cfg acquisition.StreamConfig, handler acquisition.StreamHandler) error {
	if d.cfg.Command == "" {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrDeviceNotFound,
			errors.NewStd("no acquisition command configured"))
	}
	if _, err := exec.LookPath(d.cfg.Command); err != nil {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrDeviceNotFound, err)
	}
	if cfg.Channels <= 0 || cfg.ChunkSize <= 0 || !(cfg.SampleRate > 0) {
		return acquisition.DeviceError(d.Kind(), "open", acquisition.ErrUnsupportedConfig, nil)
	}

	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	d.stream = cfg
	d.handler = handler
	d.opened = true
	d.mu.Unlock()
	return nil
}

// Start launches the process. It is a no-op when already running.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return acquisition.DeviceError(d.Kind(), "start", acquisition.ErrNotOpen, nil)
	}
	if d.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, d.cfg.Command, d.cfg.Args...) //nolint:gosec // command comes from validated settings
	cmd.Env = append(os.Environ(),
		"DAQBENCH_DEVICE="+d.stream.DeviceName,
		"DAQBENCH_CHANNELS="+strconv.Itoa(d.stream.Channels),
		"DAQBENCH_SAMPLE_RATE="+strconv.FormatFloat(d.stream.SampleRate, 'f', -1, 64),
		"DAQBENCH_CHUNK_SIZE="+strconv.Itoa(d.stream.ChunkSize),
	)
	setupProcessGroup(cmd)
	d.stderr.Reset()
	cmd.Stderr = &d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return acquisition.DeviceError(d.Kind(), "start", acquisition.ErrStreamFailed, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		sentinel := acquisition.ErrStreamFailed
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			sentinel = acquisition.ErrDeviceNotFound
		}
		return acquisition.DeviceError(d.Kind(), "start", sentinel, err)
	}

	d.log.Info("acquisition process started",
		logger.String("command", d.cfg.Command),
		logger.Int("pid", cmd.Process.Pid),
		logger.Int("channels", d.stream.Channels),
		logger.Float64("sample_rate", d.stream.SampleRate))

	d.cancel = cancel
	d.done = make(chan struct{})
	go d.read(ctx, cmd, stdout, d.handler, d.stream.ChunkSize*d.stream.Channels*bytesPerSample, d.done)
	return nil
}

// Stop kills the process and waits for the reader to exit.
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (d *Device) Close() error {
	err := d.Stop()
	d.mu.Lock()
	d.opened = false
	d.handler = nil
	d.mu.Unlock()
	return err
}

func (d *Device) read(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, h acquisition.StreamHandler, chunkBytes int, done chan struct{}) {
	defer close(done)

	buf := make([]byte, chunkBytes)
	var readErr error
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			h.OnData(buf[:n])
		}
		if err != nil {
			readErr = err
			break
		}
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return
	}

	clean := (readErr == io.EOF || readErr == io.ErrUnexpectedEOF) && waitErr == nil
	if clean {
		d.log.Info("acquisition process exited", logger.Int("pid", cmd.Process.Pid))
		h.OnEnd()
		return
	}

	cause := waitErr
	if cause == nil {
		cause = readErr
	}
	tail := d.stderr.String()
	d.log.Error("acquisition process failed",
		logger.Int("pid", cmd.Process.Pid),
		logger.Error(cause),
		logger.String("stderr", tail))
	h.OnError(acquisition.DeviceError(d.Kind(), "read", acquisition.ErrStreamFailed,
		errors.New(cause).
			Component("acquisition.daq").
			Category(errors.CategoryCommandExecution).
			Context("command", d.cfg.Command).
			Context("stderr", tail).
			Build()))
}

// tailWriter keeps the last maxStderr bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if over := w.buf.Len() - maxStderr; over > 0 {
		w.buf.Next(over)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *tailWriter) Reset() {
	w.mu.Lock()
	w.buf.Reset()
	w.mu.Unlock()
}

var _ acquisition.Device = (*Device)(nil)
