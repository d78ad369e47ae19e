// SPDX-License-Identifier: MIT
package audio

import (
	"time"

	"github.com/gordonklaus/portaudio"
)

// Device is a PortAudio device as shown by `conga list`.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowInputLatency   time.Duration
	HighInputLatency  time.Duration
}

func newDevice(id int, info *portaudio.DeviceInfo) Device {
	return Device{
		ID:                id,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		LowInputLatency:   info.DefaultLowInputLatency,
		HighInputLatency:  info.DefaultHighInputLatency,
	}
}

// Kind is "Input", "Output" or "Input/Output".
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	}
	return "Unknown"
}

// CanCapture reports whether the device can feed the detector.
func (d Device) CanCapture() bool {
	return d.MaxInputChannels > 0
}
