// Package audio provides capture.Host implementations backed by native audio
// libraries.
package audio

import (
	"fmt"
	"strings"

	"github.com/petems/audio-bridge/internal/capture"
)

// Device represents an audio input device
type Device struct {
	ID          string
	Name        string
	Default     bool
	MaxChannels int
}

// Host is a capture.Host that can also enumerate devices and be shut down.
type Host interface {
	capture.Host
	ListDevices() ([]Device, error)
	Terminate() error
}

// Backend names accepted by Open.
const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"
)

// pickDevice returns the device called name, or the default one when name is empty.
func pickDevice(devices []Device, name string) (Device, error) {
	for _, d := range devices {
		if (name == "" && d.Default) || (name != "" && d.Name == name) {
			return d, nil
		}
	}
	if name == "" {
		return Device{}, fmt.Errorf("%w: no default input device", capture.ErrDeviceError)
	}
	return Device{}, fmt.Errorf("%w: device not found: %s", capture.ErrDeviceError, name)
}

func checkChannels(d Device, cfg capture.Config) error {
	if d.MaxChannels > 0 && cfg.Channels > d.MaxChannels {
		return fmt.Errorf("%w: %s supports %d input channels, %d requested",
			capture.ErrUnsupportedFormat, d.Name, d.MaxChannels, cfg.Channels)
	}
	return nil
}

func normalizeBackend(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
