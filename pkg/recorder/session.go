package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/petrzlen/vad-recorder/pkg/audioio"
	"github.com/petrzlen/vad-recorder/pkg/models"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/vad"
)

type Options struct {
	Backend    audioio.Backend
	Classifier vad.Factory
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// DataDir is the application data directory, recordings go to DataDir/recordings.
	DataDir string
	Sink    notify.Sink
	// ChunkSize defaults to vad.DefaultChunkSize.
	ChunkSize int
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnError receives failures that cannot be returned to a caller:
	// stream errors and recordings that could not be created or written.
	OnError func(error)
}

type StartOptions struct {
	// Device is "default" or an exact input device name.
	Device    string
	Threshold float32
	// SilenceTimeout defaults to DefaultSilenceTimeout when zero.
	SilenceTimeout time.Duration
}

func (o StartOptions) validate() error {
	if o.Threshold < 0 || o.Threshold > 1 || o.Threshold != o.Threshold {
		return errors.Wrapf(ErrInvalidArgument, "threshold %v is outside [0, 1]", o.Threshold)
	}
	if o.SilenceTimeout < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative silence timeout %v", o.SilenceTimeout)
	}
	return nil
}

// Manager owns at most one capture session at a time.
//
// Start and Stop are serialized by control; the session slot has its own
// lock so State never waits behind a hardware teardown.
type Manager struct {
	opts    Options
	catalog *audioio.Catalog

	control sync.Mutex

	slotMu sync.Mutex
	active *session
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "audio backend is required")
	}
	if opts.Classifier == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "classifier factory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = vad.DefaultChunkSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{opts: opts, catalog: audioio.NewCatalog(opts.Backend)}, nil
}

// session is the context handed to the audio callback.
type session struct {
	id      string
	device  string
	format  audioio.StreamFormat
	stream  audioio.Stream
	running atomic.Bool
	state   *sharedState
	chunker *Chunker
	gate    *Gate
	onError func(error)
}

// Start replaces any active session with a new one. On error nothing is left registered.
func (m *Manager) Start(opts StartOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.Device == "" {
		opts.Device = audioio.DefaultDeviceIdentifier
	}
	if opts.SilenceTimeout == 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}
	log.Info().Str("device", opts.Device).Float32("threshold", opts.Threshold).Dur("silence_timeout", opts.SilenceTimeout).Msg("starting speech recording session")

	m.control.Lock()
	defer m.control.Unlock()

	if m.current() != nil {
		log.Info().Msg("stopping existing session before starting a new one")
		dbg(m.stopLocked())
	}

	device, err := m.catalog.Resolve(opts.Device)
	if err != nil {
		return err
	}
	format, err := audioio.NegotiateFormat(device)
	if err != nil {
		return err
	}
	log.Info().Str("device", device.Name).Uint32("sample_rate", format.SampleRate).Uint32("channels", format.Channels).Msg("audio config negotiated")

	store, err := NewStore(m.opts.Fs, m.opts.DataDir)
	if err != nil {
		return err
	}

	classifier, err := m.opts.Classifier(vad.Params{
		SampleRate: format.SampleRate,
		ChunkSize:  m.opts.ChunkSize,
		Threshold:  opts.Threshold,
	})
	if err != nil {
		return errors.Wrap(ErrDevice, fmt.Sprintf("cannot create speech classifier: %v", err))
	}

	s := &session{
		id:      uuid.NewString(),
		device:  device.Name,
		format:  format,
		state:   newSharedState(true),
		chunker: NewChunker(m.opts.ChunkSize),
		onError: m.opts.OnError,
	}
	s.gate = newGate(GateConfig{
		SessionID:      s.id,
		Threshold:      opts.Threshold,
		SilenceTimeout: opts.SilenceTimeout,
		SampleRate:     format.SampleRate,
	}, classifier, store, m.opts.Sink, s.state, m.opts.Clock, m.opts.OnError)
	s.running.Store(true)

	stream, err := m.opts.Backend.OpenCapture(device, format, audioio.Callbacks{
		Samples: s.onSamples,
		Error:   s.onStreamError,
	})
	if err != nil {
		s.gate.Shutdown()
		return err
	}
	s.stream = stream
	if err = stream.Start(); err != nil {
		s.running.Store(false)
		dbg(stream.Close())
		s.gate.Shutdown()
		return err
	}

	m.slotMu.Lock()
	m.active = s
	m.slotMu.Unlock()

	log.Info().Str("session_id", s.id).Msg("speech recording session started")
	return nil
}

// Stop tears the active session down. No audio callback runs after it returns.
func (m *Manager) Stop() error {
	m.control.Lock()
	defer m.control.Unlock()
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	m.slotMu.Lock()
	s := m.active
	m.active = nil
	m.slotMu.Unlock()

	if s == nil {
		return ErrNotInitialized
	}
	log.Info().Str("session_id", s.id).Msg("stopping speech recording session")

	s.running.Store(false)
	// Blocks until the audio thread acknowledged the teardown.
	closeErr := s.stream.Close()
	s.gate.Shutdown()
	s.chunker.Reset()
	s.state.reset()

	if closeErr != nil {
		log.Error().Err(closeErr).Str("session_id", s.id).Msg("stream teardown reported an error")
		return closeErr
	}
	log.Info().Str("session_id", s.id).Msg("speech recording session stopped")
	return nil
}

// State never fails; without a session it is the all-idle state.
func (m *Manager) State() models.RecorderState {
	s := m.current()
	if s == nil {
		return models.IdleState()
	}
	return s.state.snapshot()
}

// SessionID of the active session, empty when idle.
func (m *Manager) SessionID() string {
	if s := m.current(); s != nil {
		return s.id
	}
	return ""
}

func (m *Manager) Devices() ([]string, error) {
	return m.catalog.Names()
}

func (m *Manager) Recordings() ([]models.Recording, error) {
	store, err := NewStore(m.opts.Fs, m.opts.DataDir)
	if err != nil {
		return nil, err
	}
	return store.List()
}

func (m *Manager) current() *session {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.active
}

func (s *session) onSamples(samples []float32) {
	if !s.running.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session_id", s.id).Msg("audio callback panicked")
		}
	}()
	for _, chunk := range s.chunker.Push(samples) {
		if !s.running.Load() {
			return
		}
		s.gate.Process(chunk)
	}
}

func (s *session) onStreamError(err error) {
	log.Error().Err(err).Str("session_id", s.id).Str("device", s.device).Msg("audio stream error")
	if s.onError != nil {
		s.onError(err)
	}
}
