package soundcard

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/vibrolab/daqbench/internal/acquisition"
	"github.com/vibrolab/daqbench/internal/errors"
)

// candidate is the part of a malgo device record used for selection.
type candidate struct {
	index     int
	name      string
	id        string // decoded backend ID, e.g. ":1,0" on ALSA
	isDefault bool
}

// backendFor maps a host API name to a malgo backend. An empty name picks
// the platform default.
func backendFor(name, goos string) (malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "":
		switch goos {
		case "linux":
			return malgo.BackendAlsa, nil
		case "windows":
			return malgo.BackendWasapi, nil
		case "darwin":
			return malgo.BackendCoreaudio, nil
		}
		return malgo.BackendNull, errors.Newf("%w: no audio backend for %s", acquisition.ErrUnsupportedConfig, goos).
			Component("acquisition.soundcard").
			Category(errors.CategoryDevice).
			Context("os", goos).
			Build()
	case "alsa":
		return malgo.BackendAlsa, nil
	case "pulseaudio", "pulse":
		return malgo.BackendPulseaudio, nil
	case "jack":
		return malgo.BackendJack, nil
	case "wasapi":
		return malgo.BackendWasapi, nil
	case "dsound", "directsound":
		return malgo.BackendDsound, nil
	case "coreaudio":
		return malgo.BackendCoreaudio, nil
	case "null":
		return malgo.BackendNull, nil
	default:
		return malgo.BackendNull, errors.Newf("%w: unknown audio backend %q", acquisition.ErrUnsupportedConfig, name).
			Component("acquisition.soundcard").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func platformBackend(name string) (malgo.Backend, error) {
	return backendFor(name, runtime.GOOS)
}

func candidates(infos []malgo.DeviceInfo) []candidate {
	out := make([]candidate, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		// miniaudio's null backend device
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		id, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			id = infos[i].ID.String()
		}
		out = append(out, candidate{
			index:     i,
			name:      name,
			id:        strings.TrimRight(id, "\x00"),
			isDefault: infos[i].IsDefault == 1,
		})
	}
	return out
}

// selectCandidate finds the device named want. Empty, "default" and
// "sysdefault" select the system default, or the first device when the
// backend reports none. Otherwise an exact name, an exact decoded ID and a
// name substring are tried in that order.
func selectCandidate(list []candidate, want string) (candidate, bool) {
	if want == "" || want == "default" || want == "sysdefault" {
		for _, c := range list {
			if c.isDefault {
				return c, true
			}
		}
		if len(list) > 0 {
			return list[0], true
		}
		return candidate{}, false
	}
	for _, c := range list {
		if c.name == want {
			return c, true
		}
	}
	for _, c := range list {
		if c.id == want {
			return c, true
		}
	}
	for _, c := range list {
		if strings.Contains(c.name, want) {
			return c, true
		}
	}
	return candidate{}, false
}

// mapResult translates a malgo failure into the acquisition sentinels.
func mapResult(err error) error {
	switch {
	case errors.Is(err, malgo.ErrBusy), errors.Is(err, malgo.ErrAlreadyInUse):
		return acquisition.ErrBusy
	case errors.Is(err, malgo.ErrNoDevice), errors.Is(err, malgo.ErrDoesNotExist):
		return acquisition.ErrDeviceNotFound
	case errors.Is(err, malgo.ErrFormatNotSupported),
		errors.Is(err, malgo.ErrInvalidDeviceConfig),
		errors.Is(err, malgo.ErrDeviceTypeNotSupported):
		return acquisition.ErrUnsupportedConfig
	default:
		return acquisition.ErrStreamFailed
	}
}

func hexToASCII(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
