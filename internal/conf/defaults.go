package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value of every setting
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("device.kind", DeviceSynthetic)
	v.SetDefault("device.name", "")
	v.SetDefault("device.backend", "")
	v.SetDefault("device.channels", 1)
	v.SetDefault("device.sample_rate", 48000.0)
	v.SetDefault("device.chunk_size", 1024)
	v.SetDefault("device.num_chunks", 32)
	v.SetDefault("device.queue_depth", 16)
	v.SetDefault("device.daq.command", "")
	v.SetDefault("device.daq.args", []string{})
	v.SetDefault("device.replay.path", "")
	v.SetDefault("device.replay.loop", false)
	v.SetDefault("device.synthetic.signal", "sine")
	v.SetDefault("device.synthetic.frequency", 1000.0)
	v.SetDefault("device.synthetic.amplitude", 0.5)
	v.SetDefault("device.synthetic.floor", 0.001)
	v.SetDefault("device.synthetic.burst_after", 10)
	v.SetDefault("device.synthetic.seed", 1)
	v.SetDefault("device.synthetic.paced", true)

	v.SetDefault("capture.mode", CaptureDuration)
	v.SetDefault("capture.duration", 1.0)
	v.SetDefault("capture.samples", 0)
	v.SetDefault("capture.threshold", 0.1)
	v.SetDefault("capture.pre_samples", 256)
	v.SetDefault("capture.post_samples", 4096)
	v.SetDefault("capture.trigger_channel", 0)
	v.SetDefault("capture.auto_arm", true)
	v.SetDefault("capture.count", 1)

	v.SetDefault("analysis.reference_channel", 0)
	v.SetDefault("analysis.window_width", 256)
	v.SetDefault("analysis.overlap", 4.0)
	v.SetDefault("analysis.segment_length", 0)
	v.SetDefault("analysis.transfer_function_type", "displacement")
	v.SetDefault("analysis.calibration_factor", 1.0)
	v.SetDefault("analysis.transfer_function", false)
	v.SetDefault("analysis.sonogram", false)
	v.SetDefault("analysis.average", false)
	v.SetDefault("analysis.workers", 0)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.directory", "captures")
	v.SetDefault("archive.legacy", false)
	v.SetDefault("archive.export_wav", false)
	v.SetDefault("archive.retention.max_age", "")
	v.SetDefault("archive.retention.max_records", 0)
	v.SetDefault("archive.retention.min_records", 0)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/daqbench.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("eventbus.enabled", true)
	v.SetDefault("eventbus.buffer_size", 1024)
	v.SetDefault("eventbus.workers", 1)
	v.SetDefault("eventbus.report_errors", false)
}
