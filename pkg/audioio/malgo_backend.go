// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// miniaudio reports SampleRate == 0 for "any rate", these are its standard bounds.
const (
	minStandardSampleRate uint32 = 8000
	maxStandardSampleRate uint32 = 384000
)

type MalgoBackend struct {
	malgoContext *malgo.AllocatedContext
}

// NewMalgoBackend inits the miniaudio context, you should defer Close.
func NewMalgoBackend() (*MalgoBackend, error) {
	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo: "+message, "\n", "", -1))
	})
	if err != nil {
		return nil, errors.Wrap(ErrDevice, fmt.Sprintf("cannot init malgo context: %v", err))
	}
	return &MalgoBackend{malgoContext: ctx}, nil
}

func (b *MalgoBackend) Close() error {
	err := b.malgoContext.Uninit()
	b.malgoContext.Free()
	return err
}

func (b *MalgoBackend) InputDevices() ([]Device, error) {
	infos, err := b.malgoContext.Context.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.Wrap(ErrDevice, fmt.Sprintf("cannot enumerate capture devices: %v", err))
	}
	devices := make([]Device, 0, len(infos))
	for i := range infos {
		devices = append(devices, b.toDevice(infos[i]))
	}
	return devices, nil
}

func (b *MalgoBackend) DefaultInputDevice() (Device, error) {
	devices, err := b.InputDevices()
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, ErrNoDefaultDevice
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	// Some hosts never flag a default; a nil ID lets miniaudio open whatever the host routes to.
	return Device{
		Name:      DefaultDeviceIdentifier,
		IsDefault: true,
		Configs:   []SupportedConfig{{Channels: MonoChannels, MinSampleRate: minStandardSampleRate, MaxSampleRate: maxStandardSampleRate}},
	}, nil
}

func (b *MalgoBackend) toDevice(info malgo.DeviceInfo) Device {
	id := info.ID
	d := Device{
		Name:      info.Name(),
		IsDefault: info.IsDefault != 0,
		id:        &id,
	}

	// Enumeration does not fill in native formats, ask for the full info.
	full, err := b.malgoContext.Context.DeviceInfo(malgo.Capture, info.ID, malgo.Shared)
	if err != nil {
		log.Debug().Err(err).Str("device", d.Name).Msg("cannot query device formats")
		return d
	}
	for i := uint32(0); i < full.FormatCount && int(i) < len(full.Formats); i++ {
		f := full.Formats[i]
		cfg := SupportedConfig{Channels: f.Channels, MinSampleRate: f.SampleRate, MaxSampleRate: f.SampleRate}
		if f.SampleRate == 0 {
			cfg.MinSampleRate, cfg.MaxSampleRate = minStandardSampleRate, maxStandardSampleRate
		}
		d.Configs = append(d.Configs, cfg)
	}
	return d
}

// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (b *MalgoBackend) OpenCapture(device Device, format StreamFormat, callbacks Callbacks) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = format.Channels
	deviceConfig.SampleRate = format.SampleRate
	deviceConfig.Alsa.NoMMap = 1
	if device.id != nil {
		deviceConfig.Capture.DeviceID = device.id.Pointer()
	}

	s := &malgoStream{callbacks: callbacks, channels: int(format.Channels)}
	deviceCallbacks := malgo.DeviceCallbacks{
		Data: s.onRecvFrames,
		Stop: s.onStop,
	}
	dev, err := malgo.InitDevice(b.malgoContext.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return nil, errors.Wrap(ErrStream, fmt.Sprintf("cannot init malgo device %q: %v", device.Name, err))
	}
	s.device = dev
	return s, nil
}

type malgoStream struct {
	device    *malgo.Device
	callbacks Callbacks
	channels  int

	// samples is reused across callbacks, only the audio thread touches it.
	samples []float32

	closing   atomic.Bool
	closeOnce sync.Once
}

func (s *malgoStream) onRecvFrames(_, pSample []byte, framecount uint32) {
	if framecount == 0 || s.callbacks.Samples == nil {
		return
	}
	n := int(framecount) * s.channels
	if n*4 > len(pSample) {
		n = len(pSample) / 4
	}
	if cap(s.samples) < n {
		s.samples = make([]float32, n)
	}
	s.samples = s.samples[:n]
	for i := 0; i < n; i++ {
		s.samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
	}
	s.callbacks.Samples(s.samples)
}

func (s *malgoStream) onStop() {
	if s.closing.Load() {
		return
	}
	log.Warn().Msg("malgo capture device stopped unexpectedly")
	if s.callbacks.Error != nil {
		s.callbacks.Error(errors.WithMessage(ErrStream, "capture device stopped unexpectedly"))
	}
}

func (s *malgoStream) Start() error {
	log.Info().Msg("malgo START recording...")
	if err := s.device.Start(); err != nil {
		return errors.Wrap(ErrStream, fmt.Sprintf("cannot start malgo device: %v", err))
	}
	return nil
}

// Close stops the device and waits for miniaudio to tear down the audio thread.
func (s *malgoStream) Close() (err error) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		log.Info().Msg("malgo STOP recording")
		if stopErr := s.device.Stop(); stopErr != nil {
			err = errors.Wrap(ErrStream, fmt.Sprintf("cannot stop malgo device: %v", stopErr))
		}
		s.device.Uninit()
	})
	return
}
