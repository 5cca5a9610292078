package agent

import (
	"strconv"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

// inputDevice is the selection view of one capture device. Kept separate from
// malgo's types so the resolution rules are testable without audio hardware.
type inputDevice struct {
	ID        malgo.DeviceID
	Name      string
	Channels  int
	IsDefault bool
}

// monitorHints mark devices that carry application output rather than a
// microphone: PulseAudio/PipeWire monitor sources, Windows "Stereo Mix",
// macOS loopback drivers.
var monitorHints = []string{"monitor", "stereo mix", "blackhole", "loopback", "soundflower"}

// chooseInputDevice resolves the capture device for a session.
//
// With an explicit specifier (index or name substring) resolution is strict:
// a miss or a zero-input-channel device is a DeviceSelectionError. Without
// one, an application-output monitor source is preferred (best effort), then
// the system default input; no default means no usable device.
func chooseInputDevice(devices []inputDevice, specifier string) (inputDevice, error) {
	if specifier != "" {
		dev, err := resolveSpecifier(devices, specifier)
		if err != nil {
			return inputDevice{}, err
		}
		if dev.Channels == 0 {
			return inputDevice{}, &DeviceSelectionError{Specifier: specifier, Reason: "device has no input channels"}
		}
		return dev, nil
	}

	for _, dev := range devices {
		if dev.Channels == 0 {
			continue
		}
		lower := strings.ToLower(dev.Name)
		for _, hint := range monitorHints {
			if strings.Contains(lower, hint) {
				logging.Info(logging.CategoryDevice, "auto-detected application output monitor device=%q", dev.Name)
				return dev, nil
			}
		}
	}

	for _, dev := range devices {
		if dev.IsDefault && dev.Channels > 0 {
			return dev, nil
		}
	}
	return inputDevice{}, ErrNoAudioDevice
}

func resolveSpecifier(devices []inputDevice, specifier string) (inputDevice, error) {
	if idx, err := strconv.Atoi(specifier); err == nil {
		if idx < 0 || idx >= len(devices) {
			return inputDevice{}, &DeviceSelectionError{Specifier: specifier, Reason: "device index out of range"}
		}
		return devices[idx], nil
	}

	needle := strings.ToLower(specifier)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev, nil
		}
	}
	return inputDevice{}, &DeviceSelectionError{Specifier: specifier, Reason: "no device name matches"}
}
