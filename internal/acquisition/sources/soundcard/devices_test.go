package soundcard

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibrolab/daqbench/internal/acquisition"
)

func TestBackendFor(t *testing.T) {
	tests := []struct {
		name string
		goos string
		want malgo.Backend
	}{
		{"", "linux", malgo.BackendAlsa},
		{"", "windows", malgo.BackendWasapi},
		{"", "darwin", malgo.BackendCoreaudio},
		{"PulseAudio", "linux", malgo.BackendPulseaudio},
		{"jack", "linux", malgo.BackendJack},
		{"dsound", "windows", malgo.BackendDsound},
		{"null", "plan9", malgo.BackendNull},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.goos, func(t *testing.T) {
			got, err := backendFor(tt.name, tt.goos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := backendFor("", "plan9")
	assert.ErrorIs(t, err, acquisition.ErrUnsupportedConfig)
	_, err = backendFor("asio", "windows")
	assert.ErrorIs(t, err, acquisition.ErrUnsupportedConfig)
}

func TestSelectCandidate(t *testing.T) {
	list := []candidate{
		{index: 0, name: "HDA Intel PCH: ALC3246 Analog", id: ":0,0"},
		{index: 1, name: "Focusrite Scarlett 2i2", id: ":1,0", isDefault: true},
		{index: 3, name: "USB Accelerometer Interface", id: ":2,0"},
	}

	tests := []struct {
		want      string
		wantIndex int
	}{
		{"", 1},
		{"default", 1},
		{"sysdefault", 1},
		{"HDA Intel PCH: ALC3246 Analog", 0},
		{":2,0", 3},
		{"Accelerometer", 3},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, ok := selectCandidate(list, tt.want)
			require.True(t, ok)
			assert.Equal(t, tt.wantIndex, got.index)
		})
	}

	_, ok := selectCandidate(list, "Behringer")
	assert.False(t, ok)
	_, ok = selectCandidate(nil, "")
	assert.False(t, ok)

	noDefault := list[:1]
	got, ok := selectCandidate(noDefault, "")
	require.True(t, ok)
	assert.Equal(t, 0, got.index)
}

func TestMapResult(t *testing.T) {
	assert.Equal(t, acquisition.ErrBusy, mapResult(malgo.ErrBusy))
	assert.Equal(t, acquisition.ErrBusy, mapResult(malgo.ErrAlreadyInUse))
	assert.Equal(t, acquisition.ErrDeviceNotFound, mapResult(malgo.ErrNoDevice))
	assert.Equal(t, acquisition.ErrUnsupportedConfig, mapResult(malgo.ErrFormatNotSupported))
	assert.Equal(t, acquisition.ErrUnsupportedConfig, mapResult(malgo.ErrInvalidDeviceConfig))
	assert.Equal(t, acquisition.ErrStreamFailed, mapResult(malgo.ErrIO))
}

func TestHexToASCII(t *testing.T) {
	s, err := hexToASCII("3a312c30")
	require.NoError(t, err)
	assert.Equal(t, ":1,0", s)

	_, err = hexToASCII("zz")
	assert.Error(t, err)
}

func TestOpenRejectsInvalidStream(t *testing.T) {
	err := New(Config{}).Open(acquisition.StreamConfig{Channels: 0, SampleRate: 48000, ChunkSize: 512}, nil)
	assert.ErrorIs(t, err, acquisition.ErrUnsupportedConfig)

	err = New(Config{}).Start()
	assert.ErrorIs(t, err, acquisition.ErrNotOpen)
}
