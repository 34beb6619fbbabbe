package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrzlen/vad-recorder/pkg/audioio"
	"github.com/petrzlen/vad-recorder/pkg/models"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/vad"
)

type managerFixture struct {
	manager    *Manager
	backend    *fakeBackend
	fs         afero.Fs
	clock      *fakeClock
	sink       *recordingSink
	classifier *scriptedClassifier
	params     []vad.Params

	errMu sync.Mutex
	errs  []error
}

func newManagerFixture(t *testing.T, probabilities []float32) *managerFixture {
	t.Helper()
	f := &managerFixture{
		backend: newFakeBackend(),
		fs:      afero.NewMemMapFs(),
		clock:   newFakeClock(),
		sink:    &recordingSink{},
	}
	factory := func(params vad.Params) (vad.Classifier, error) {
		f.params = append(f.params, params)
		f.classifier = newScriptedClassifier(probabilities, f.clock)
		return f.classifier, nil
	}
	m, err := NewManager(Options{
		Backend:    f.backend,
		Classifier: factory,
		Fs:         f.fs,
		DataDir:    "/app",
		Sink:       f.sink,
		ChunkSize:  testChunkSize,
		Clock:      f.clock.Now,
		OnError: func(err error) {
			f.errMu.Lock()
			defer f.errMu.Unlock()
			f.errs = append(f.errs, err)
		},
	})
	require.NoError(t, err)
	f.manager = m
	return f
}

// feed pushes chunks worth of samples in uneven slices, like a real device would.
func (f *managerFixture) feed(t *testing.T, chunks int) {
	t.Helper()
	stream := f.backend.Last()
	require.NotNil(t, stream)
	samples := tone(chunks*testChunkSize, 0.2)
	for len(samples) > 0 {
		n := 300
		if n > len(samples) {
			n = len(samples)
		}
		stream.Feed(samples[:n])
		samples = samples[n:]
	}
}

func defaultStart() StartOptions {
	return StartOptions{Device: audioio.DefaultDeviceIdentifier, Threshold: 0.5}
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(Options{Classifier: factoryOf(nil)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewManager(Options{Backend: newFakeBackend()})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStopWithoutSession(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	assert.ErrorIs(t, f.manager.Stop(), ErrNotInitialized)
	assert.Equal(t, models.RecorderState{}, f.manager.State())
	assert.Empty(t, f.manager.SessionID())
}

func TestStateIsStableWithoutMutation(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	require.NoError(t, f.manager.Start(defaultStart()))
	first := f.manager.State()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.manager.State())
	}
}

func TestStartAndStop(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	require.NoError(t, f.manager.Start(defaultStart()))

	assert.Equal(t, models.RecorderState{IsRunning: true}, f.manager.State())
	assert.NotEmpty(t, f.manager.SessionID())
	assert.Equal(t, 1, f.backend.ActiveStreams())
	stream := f.backend.Last()
	assert.Equal(t, "Built-in Microphone", stream.device)
	assert.Equal(t, audioio.StreamFormat{SampleRate: 16000, Channels: 1}, stream.format)
	require.Len(t, f.params, 1)
	assert.Equal(t, vad.Params{SampleRate: 16000, ChunkSize: testChunkSize, Threshold: 0.5}, f.params[0])

	exists, err := afero.DirExists(f.fs, "/app/recordings")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.manager.Stop())
	assert.Equal(t, models.RecorderState{}, f.manager.State())
	assert.Zero(t, f.backend.ActiveStreams())
	assert.True(t, f.classifier.closed)
	assert.ErrorIs(t, f.manager.Stop(), ErrNotInitialized)
}

func TestStartReplacesActiveSession(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	require.NoError(t, f.manager.Start(defaultStart()))
	firstID := f.manager.SessionID()
	first := f.backend.Last()

	require.NoError(t, f.manager.Start(StartOptions{Device: "USB Headset", Threshold: 0.3}))
	assert.Equal(t, 1, f.backend.ActiveStreams())
	assert.False(t, first.Active())
	assert.NotEqual(t, firstID, f.manager.SessionID())
	assert.Equal(t, "USB Headset", f.backend.Last().device)
	assert.EqualValues(t, 44100, f.backend.Last().format.SampleRate)
	assert.Len(t, f.backend.Streams(), 2)
}

func TestStartFailuresLeaveNoSession(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		setup   func(f *managerFixture)
		opts    StartOptions
		wantErr []error
		streams int
	}{
		{
			name:    "unknown device",
			opts:    StartOptions{Device: "Nope", Threshold: 0.5},
			wantErr: []error{ErrDevice, audioio.ErrDeviceNotFound},
		},
		{
			name:    "no default device",
			setup:   func(f *managerFixture) { f.backend.hasDefault = false },
			opts:    defaultStart(),
			wantErr: []error{ErrDevice, audioio.ErrNoDefaultDevice},
		},
		{
			name: "device without configs",
			setup: func(f *managerFixture) {
				f.backend.devices = append(f.backend.devices, audioio.Device{Name: "Broken"})
			},
			opts:    StartOptions{Device: "Broken", Threshold: 0.5},
			wantErr: []error{ErrDevice, audioio.ErrUnsupportedConfig},
		},
		{
			name:    "stream cannot be built",
			setup:   func(f *managerFixture) { f.backend.openErr = errors.Wrap(ErrStream, "init failed") },
			opts:    defaultStart(),
			wantErr: []error{ErrStream},
		},
		{
			name:    "stream cannot start",
			setup:   func(f *managerFixture) { f.backend.startErr = errors.Wrap(ErrStream, boom.Error()) },
			opts:    defaultStart(),
			wantErr: []error{ErrStream},
			streams: 1,
		},
		{
			name:    "threshold out of range",
			opts:    StartOptions{Threshold: 1.5},
			wantErr: []error{ErrInvalidArgument},
		},
		{
			name:    "negative silence timeout",
			opts:    StartOptions{Threshold: 0.5, SilenceTimeout: -time.Second},
			wantErr: []error{ErrInvalidArgument},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t, script(0.1, 1))
			if tt.setup != nil {
				tt.setup(f)
			}
			err := f.manager.Start(tt.opts)
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, models.RecorderState{}, f.manager.State())
			assert.Zero(t, f.backend.ActiveStreams())
			assert.Len(t, f.backend.Streams(), tt.streams)
			assert.ErrorIs(t, f.manager.Stop(), ErrNotInitialized)
		})
	}
}

func TestStartFailsWhenClassifierCannotBeBuilt(t *testing.T) {
	m, err := NewManager(Options{
		Backend: newFakeBackend(),
		Classifier: func(vad.Params) (vad.Classifier, error) {
			return nil, errors.New("model file missing")
		},
		Fs: afero.NewMemMapFs(),
	})
	require.NoError(t, err)

	err = m.Start(defaultStart())
	assert.ErrorIs(t, err, ErrDevice)
	assert.Contains(t, err.Error(), "model file missing")
	assert.Equal(t, models.RecorderState{}, m.State())
}

func TestSessionRecordsSpeechEndToEnd(t *testing.T) {
	f := newManagerFixture(t, script(0.9, 10, 0.1, 40))
	require.NoError(t, f.manager.Start(defaultStart()))

	f.feed(t, 5)
	state := f.manager.State()
	assert.True(t, state.IsSpeaking)
	assert.NotEmpty(t, state.CurrentFile)

	f.feed(t, 45)
	assert.Equal(t, models.RecorderState{IsRunning: true}, f.manager.State())

	events := f.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notify.SpeechStart, events[0].Name)
	assert.Equal(t, notify.SpeechDetected, events[1].Name)
	assert.Equal(t, f.manager.SessionID(), events[1].SessionID)
	assert.Equal(t, state.CurrentFile, events[1].FilePath)
	assert.Len(t, events[1].FileContents, ExpectedFileSize(34*testChunkSize))

	recordings, err := f.manager.Recordings()
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.Equal(t, events[1].FilePath, recordings[0].Path)
}

func TestStopFinalizesOpenRecording(t *testing.T) {
	f := newManagerFixture(t, script(0.9, 1))
	require.NoError(t, f.manager.Start(defaultStart()))
	f.feed(t, 3)
	require.True(t, f.manager.State().IsSpeaking)

	require.NoError(t, f.manager.Stop())
	detected := f.sink.Named(notify.SpeechDetected)
	require.Len(t, detected, 1)
	assert.Len(t, detected[0].FileContents, ExpectedFileSize(3*testChunkSize))
	assert.Equal(t, models.RecorderState{}, f.manager.State())
}

func TestNoCallbackAfterStop(t *testing.T) {
	f := newManagerFixture(t, script(0.9, 1))
	require.NoError(t, f.manager.Start(defaultStart()))
	stream := f.backend.Last()

	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := tone(testChunkSize, 0.2)
		for stream.Feed(chunk) {
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.manager.Stop())
	calls := f.classifier.Calls()
	events := len(f.sink.Events())
	<-done

	assert.False(t, stream.Feed(tone(testChunkSize, 0.2)))
	assert.Equal(t, calls, f.classifier.Calls())
	assert.Equal(t, events, len(f.sink.Events()))
	assert.Equal(t, models.RecorderState{}, f.manager.State())
}

func TestConcurrentControlKeepsOneStream(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 2 {
				_ = f.manager.Stop()
				return
			}
			assert.NoError(t, f.manager.Start(defaultStart()))
			_ = f.manager.State()
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, f.backend.ActiveStreams(), 1)
	if f.manager.State().IsRunning {
		assert.Equal(t, 1, f.backend.ActiveStreams())
	}
}

func TestStreamErrorsGoToSideChannel(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	require.NoError(t, f.manager.Start(defaultStart()))
	f.backend.Last().Fail(errors.Wrap(ErrStream, "device unplugged"))

	f.errMu.Lock()
	defer f.errMu.Unlock()
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrStream)
	assert.True(t, f.manager.State().IsRunning)
}

func TestDevices(t *testing.T) {
	f := newManagerFixture(t, script(0.1, 1))
	names, err := f.manager.Devices()
	require.NoError(t, err)
	assert.Equal(t, []string{"Built-in Microphone", "USB Headset"}, names)
}
