package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level LogLevel
		want  int
	}{
		{"trace", LogLevelTrace, 5},
		{"debug", LogLevelDebug, 4},
		{"info", LogLevelInfo, 3},
		{"warn", LogLevelWarn, 2},
		{"error", LogLevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			log := NewSlogLogger(buf, tt.level, time.UTC)
			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			assert.Len(t, decodeLines(t, buf), tt.want)
		})
	}
}

func TestModuleScopingAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).
		Module("acquisition").
		Module("soundcard").
		With(String("device", "hw:1"))

	log.Info("stream opened",
		Int("channels", 2),
		Float64("sample_rate", 48000.12345),
		Bool("running", true),
		Duration("latency", 10*time.Millisecond))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	got := lines[0]
	assert.Equal(t, "acquisition.soundcard", got["module"])
	assert.Equal(t, "hw:1", got["device"])
	assert.InDelta(t, 2, got["channels"], 0)
	assert.InDelta(t, 48000.123, got["sample_rate"], 1e-9)
	assert.Equal(t, true, got["running"])
	assert.Equal(t, "10ms", got["latency"])
	assert.Equal(t, "stream opened", got["msg"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("capture")

	assert.Same(t, base, base.WithContext(context.Background()))

	ctx := WithTraceID(context.Background(), "session-42")
	base.WithContext(ctx).Info("armed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "session-42", lines[0]["trace_id"])
}

func TestErrorFieldNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, "error", Error(assert.AnError).Key)
}

func TestCentralLoggerDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)
	defer func() { _ = cl.Close() }()

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.NotNil(t, cl.Module("dsp"))
	assert.NoError(t, cl.Flush())
}

func TestCentralLoggerModuleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		ModuleOutputs: map[string]ModuleOutput{
			"acquisition": {Enabled: true, FilePath: dir + "/acq/acquisition.log", Level: "debug"},
		},
	}
	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)

	cl.Module("acquisition").Debug("overflow", Int("dropped", 3))
	require.NoError(t, cl.Close())

	assert.FileExists(t, dir+"/acq/acquisition.log")
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
