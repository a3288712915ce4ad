// Package conf holds the process-wide settings and the workspace file.
//
// Settings are read once at start-up with Init and treated as read-only by
// the acquisition engine afterwards. Tests call Reset to drop them.
package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/events"
	"github.com/vibrolab/daqbench/internal/logger"
)

// Device kinds accepted in device.kind
const (
	DeviceSoundCard = "soundcard"
	DeviceDAQ       = "daq"
	DeviceReplay    = "replay"
	DeviceSynthetic = "synthetic"
)

// Capture modes accepted in capture.mode
const (
	CaptureDuration = "duration"
	CaptureTrigger  = "trigger"
)

const (
	appName    = "daqbench"
	envPrefix  = "DAQBENCH"
	configName = "config"
	osWindows  = "windows"
)

// Settings is the root configuration object
type Settings struct {
	Device   DeviceSettings       `yaml:"device" mapstructure:"device"`
	Capture  CaptureSettings      `yaml:"capture" mapstructure:"capture"`
	Analysis AnalysisSettings     `yaml:"analysis" mapstructure:"analysis"`
	Archive  ArchiveSettings      `yaml:"archive" mapstructure:"archive"`
	Logging  logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	EventBus events.Config        `yaml:"eventbus" mapstructure:"eventbus"`
}

// DeviceSettings selects and configures the acquisition device
type DeviceSettings struct {
	Kind       string  `yaml:"kind" mapstructure:"kind"`               // soundcard, daq, replay or synthetic
	Name       string  `yaml:"name" mapstructure:"name"`               // device name or ID, empty for default
	Backend    string  `yaml:"backend" mapstructure:"backend"`         // sound card host API override
	Channels   int     `yaml:"channels" mapstructure:"channels"`       // input channels
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"` // Hz
	ChunkSize  int     `yaml:"chunk_size" mapstructure:"chunk_size"`   // frames per chunk
	NumChunks  int     `yaml:"num_chunks" mapstructure:"num_chunks"`   // ring buffer depth in chunks
	QueueDepth int     `yaml:"queue_depth" mapstructure:"queue_depth"` // reassembly queue depth in chunks

	DAQ       DAQSettings       `yaml:"daq" mapstructure:"daq"`
	Replay    ReplaySettings    `yaml:"replay" mapstructure:"replay"`
	Synthetic SyntheticSettings `yaml:"synthetic" mapstructure:"synthetic"`
}

// DAQSettings configures the external acquisition process
type DAQSettings struct {
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
}

// ReplaySettings configures WAV/FLAC file replay
type ReplaySettings struct {
	Path string `yaml:"path" mapstructure:"path"`
	Loop bool   `yaml:"loop" mapstructure:"loop"`
}

// SyntheticSettings configures the signal generator
type SyntheticSettings struct {
	Signal     string  `yaml:"signal" mapstructure:"signal"`           // sine, noise or burst
	Frequency  float64 `yaml:"frequency" mapstructure:"frequency"`     // Hz
	Amplitude  float64 `yaml:"amplitude" mapstructure:"amplitude"`     // unit voltage
	Floor      float64 `yaml:"floor" mapstructure:"floor"`             // burst: amplitude before onset
	BurstAfter int     `yaml:"burst_after" mapstructure:"burst_after"` // burst: onset in chunks
	Seed       int64   `yaml:"seed" mapstructure:"seed"`
	Paced      bool    `yaml:"paced" mapstructure:"paced"` // emit at real-time rate
}

// CaptureSettings configures capture sessions started by the CLI
type CaptureSettings struct {
	Mode           string  `yaml:"mode" mapstructure:"mode"`
	Duration       float64 `yaml:"duration" mapstructure:"duration"` // seconds, used when samples is 0
	Samples        int     `yaml:"samples" mapstructure:"samples"`
	Threshold      float64 `yaml:"threshold" mapstructure:"threshold"`
	PreSamples     int     `yaml:"pre_samples" mapstructure:"pre_samples"`
	PostSamples    int     `yaml:"post_samples" mapstructure:"post_samples"`
	TriggerChannel int     `yaml:"trigger_channel" mapstructure:"trigger_channel"`
	AutoArm        bool    `yaml:"auto_arm" mapstructure:"auto_arm"`
	Count          int     `yaml:"count" mapstructure:"count"` // captures before exit, 0 runs until interrupted
}

// AnalysisSettings configures the post-capture pipeline
type AnalysisSettings struct {
	ReferenceChannel     int     `yaml:"reference_channel" mapstructure:"reference_channel"`
	WindowWidth          int     `yaml:"window_width" mapstructure:"window_width"`
	Overlap              float64 `yaml:"overlap" mapstructure:"overlap"`
	SegmentLength        int     `yaml:"segment_length" mapstructure:"segment_length"`
	TransferFunctionType string  `yaml:"transfer_function_type" mapstructure:"transfer_function_type"`
	CalibrationFactor    float64 `yaml:"calibration_factor" mapstructure:"calibration_factor"`
	TransferFunction     bool    `yaml:"transfer_function" mapstructure:"transfer_function"`
	Sonogram             bool    `yaml:"sonogram" mapstructure:"sonogram"`
	Average              bool    `yaml:"average" mapstructure:"average"` // accumulate TF spectra across captures
	Workers              int     `yaml:"workers" mapstructure:"workers"` // per-channel parallelism, 0 uses GOMAXPROCS
}

// ArchiveSettings configures persistence of completed captures
type ArchiveSettings struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Directory string `yaml:"directory" mapstructure:"directory"`
	Legacy    bool   `yaml:"legacy" mapstructure:"legacy"`
	ExportWAV bool   `yaml:"export_wav" mapstructure:"export_wav"`

	Retention RetentionSettings `yaml:"retention" mapstructure:"retention"`
}

// RetentionSettings limits how many records the archive keeps
type RetentionSettings struct {
	MaxAge     string `yaml:"max_age" mapstructure:"max_age"`         // e.g. 48h, 30d, 2w; empty keeps records regardless of age
	MaxRecords int    `yaml:"max_records" mapstructure:"max_records"` // 0 for no limit
	MinRecords int    `yaml:"min_records" mapstructure:"min_records"` // newest records never pruned
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Init loads settings from configPath, or from the default search paths
// when configPath is empty, and installs them process-wide. A missing
// config file is not an error; defaults apply.
func Init(configPath string) (*Settings, error) {
	return InitFs(afero.NewOsFs(), configPath)
}

// InitFs is Init over an explicit filesystem.
func InitFs(fs afero.Fs, configPath string) (*Settings, error) {
	settings, err := Load(fs, configPath)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// Load reads settings without installing them.
func Load(fs afero.Fs, configPath string) (*Settings, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultConfig(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		for _, path := range defaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read-config").
				Context("path", configPath).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Setting returns the installed settings, or defaults when Init was not called.
func Setting() *Settings {
	settingsMutex.RLock()
	s := settingsInstance
	settingsMutex.RUnlock()
	if s != nil {
		return s
	}
	return Defaults()
}

// Defaults returns settings populated only from defaults.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// defaults always decode
	_ = v.Unmarshal(settings)
	return settings
}

// Reset drops the installed settings and workspace.
func Reset() {
	settingsMutex.Lock()
	settingsInstance = nil
	settingsMutex.Unlock()

	workspaceMutex.Lock()
	workspaceInstance = nil
	workspaceMutex.Unlock()
}

// SaveYAMLConfig writes settings to configPath atomically.
func SaveYAMLConfig(fs afero.Fs, configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "marshal-config").
			Build()
	}

	if err := fs.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.FileError(err, configPath, 0)
	}

	tmp := configPath + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errors.FileError(err, tmp, int64(len(data)))
	}
	if err := fs.Rename(tmp, configPath); err != nil {
		_ = fs.Remove(tmp)
		return errors.FileError(err, configPath, int64(len(data)))
	}
	return nil
}

// defaultConfigPaths lists the directories searched for config.yaml
func defaultConfigPaths() []string {
	paths := []string{"."}

	homeDir, err := os.UserHomeDir()
	if runtime.GOOS == osWindows {
		if exe, exeErr := os.Executable(); exeErr == nil {
			paths = append(paths, filepath.Dir(exe))
		}
		if err == nil {
			paths = append(paths, filepath.Join(homeDir, "AppData", "Roaming", appName))
		}
		return paths
	}

	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", appName))
	}
	return append(paths, filepath.Join("/etc", appName))
}
