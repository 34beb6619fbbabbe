package audioio

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sample rates in order of preference; 16 kHz is what the classifiers run natively at.
const (
	PreferredSampleRate uint32 = 16000
	FallbackSampleRate  uint32 = 48000
	CDSampleRate        uint32 = 44100
)

// MonoChannels is forced on every capture stream.
const MonoChannels uint32 = 1

type Catalog struct {
	backend Backend
}

func NewCatalog(backend Backend) *Catalog {
	return &Catalog{backend: backend}
}

// Names lists the identifiers accepted by Resolve (the default sentinel excluded).
func (c *Catalog) Names() ([]string, error) {
	devices, err := c.backend.InputDevices()
	if err != nil {
		return nil, asDeviceError(err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names, nil
}

// Resolve maps "default" or an exact device name to a device.
func (c *Catalog) Resolve(identifier string) (Device, error) {
	if identifier == DefaultDeviceIdentifier || identifier == "" {
		d, err := c.backend.DefaultInputDevice()
		if err != nil {
			if errors.Is(err, ErrDevice) {
				return Device{}, err
			}
			return Device{}, errors.Wrap(ErrNoDefaultDevice, err.Error())
		}
		return d, nil
	}

	devices, err := c.backend.InputDevices()
	if err != nil {
		return Device{}, asDeviceError(err)
	}
	for _, d := range devices {
		if d.Name == identifier {
			return d, nil
		}
	}
	log.Debug().Str("device", identifier).Int("num_devices", len(devices)).Msg("no input device with that name")
	return Device{}, errors.Wrapf(ErrDeviceNotFound, "device %q", identifier)
}

// NegotiateFormat picks a mono format: 16 kHz if any config supports it, then 48 kHz,
// then 44.1 kHz, else the highest rate the device supports.
func NegotiateFormat(device Device) (StreamFormat, error) {
	if len(device.Configs) == 0 {
		return StreamFormat{}, errors.Wrapf(ErrUnsupportedConfig, "device %q", device.Name)
	}

	for _, rate := range []uint32{PreferredSampleRate, FallbackSampleRate, CDSampleRate} {
		for _, cfg := range device.Configs {
			if cfg.supports(rate) {
				return StreamFormat{SampleRate: rate, Channels: MonoChannels}, nil
			}
		}
	}

	var maxRate uint32
	for _, cfg := range device.Configs {
		if cfg.MaxSampleRate > maxRate {
			maxRate = cfg.MaxSampleRate
		}
	}
	if maxRate == 0 {
		return StreamFormat{}, errors.Wrapf(ErrUnsupportedConfig, "device %q reports no sample rate", device.Name)
	}
	return StreamFormat{SampleRate: maxRate, Channels: MonoChannels}, nil
}

// asDeviceError classifies a backend failure without wrapping it twice.
func asDeviceError(err error) error {
	if errors.Is(err, ErrDevice) {
		return err
	}
	return errors.Wrap(ErrDevice, err.Error())
}
