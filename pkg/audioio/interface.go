package audioio

import (
	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
)

// DefaultDeviceIdentifier selects the host's default input device.
const DefaultDeviceIdentifier = "default"

var (
	ErrDevice = errors.New("audio device error")
	ErrStream = errors.New("audio stream error")

	ErrDeviceNotFound    = errors.WithMessage(ErrDevice, "device not found")
	ErrNoDefaultDevice   = errors.WithMessage(ErrDevice, "no default input device")
	ErrUnsupportedConfig = errors.WithMessage(ErrDevice, "no supported input configuration")
)

// SupportedConfig is one input configuration a device advertises.
type SupportedConfig struct {
	Channels      uint32
	MinSampleRate uint32
	MaxSampleRate uint32
}

func (c SupportedConfig) supports(rate uint32) bool {
	return c.MinSampleRate <= rate && rate <= c.MaxSampleRate
}

type Device struct {
	Name      string
	IsDefault bool
	Configs   []SupportedConfig

	// nil means "let the backend pick its default".
	id *malgo.DeviceID
}

// StreamFormat is the negotiated stream configuration.
type StreamFormat struct {
	SampleRate uint32
	Channels   uint32
}

// Callbacks are invoked on the backend's audio thread.
type Callbacks struct {
	// Samples receives mono float32 samples at host-controlled granularity.
	Samples func(samples []float32)
	// Error is the side channel for device failures, it never reaches the caller of Start.
	Error func(err error)
}

// Stream is a running (or startable) capture stream.
// Close blocks until the audio thread has acknowledged teardown; no callback runs after it returns.
type Stream interface {
	Start() error
	Close() error
}

// Backend is the host audio API.
type Backend interface {
	InputDevices() ([]Device, error)
	DefaultInputDevice() (Device, error)
	OpenCapture(device Device, format StreamFormat, callbacks Callbacks) (Stream, error)
}
