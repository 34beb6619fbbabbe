package recorder

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/petrzlen/vad-recorder/pkg/audioio"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/vad"
)

const (
	testSampleRate = 16000
	testChunkSize  = 512
	// chunkDuration is 512 samples at 16 kHz.
	chunkDuration = 32 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedClassifier returns probabilities in order, then the last one forever.
// When clock is set every call advances it by one chunk, so the timeline follows the samples.
type scriptedClassifier struct {
	mu      sync.Mutex
	script  []float32
	errAt   int // call index that fails, -1 for never
	calls   int
	clock   *fakeClock
	closed  bool
	advance time.Duration
}

func newScriptedClassifier(script []float32, clock *fakeClock) *scriptedClassifier {
	return &scriptedClassifier{script: script, errAt: -1, clock: clock, advance: chunkDuration}
}

func (c *scriptedClassifier) Classify(chunk []float32) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if c.clock != nil {
		c.clock.Advance(c.advance)
	}
	if i == c.errAt {
		return 0, errors.New("model exploded")
	}
	if i >= len(c.script) {
		return c.script[len(c.script)-1], nil
	}
	return c.script[i], nil
}

func (c *scriptedClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func factoryOf(c vad.Classifier) vad.Factory {
	return func(vad.Params) (vad.Classifier, error) {
		return c, nil
	}
}

// script builds a probability sequence from (probability, count) pairs.
func script(parts ...interface{}) []float32 {
	var out []float32
	for i := 0; i+1 < len(parts); i += 2 {
		p := float32(parts[i].(float64))
		for n := 0; n < parts[i+1].(int); n++ {
			out = append(out, p)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSink) Notify(event notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Events() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

func (s *recordingSink) Named(name notify.EventName) []notify.Event {
	var out []notify.Event
	for _, e := range s.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeStream struct {
	mu        sync.Mutex
	callbacks audioio.Callbacks
	format    audioio.StreamFormat
	device    string
	startErr  error
	started   bool
	closed    bool
}

// Feed delivers samples like the audio thread would. It holds the stream lock
// during the callback so Close waits for an in-flight callback.
func (s *fakeStream) Feed(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	s.callbacks.Samples(samples)
	return true
}

func (s *fakeStream) Fail(err error) {
	s.callbacks.Error(err)
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

type fakeBackend struct {
	mu         sync.Mutex
	devices    []audioio.Device
	hasDefault bool
	openErr    error
	startErr   error
	streams    []*fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		devices: []audioio.Device{
			{Name: "Built-in Microphone", IsDefault: true, Configs: []audioio.SupportedConfig{{Channels: 1, MinSampleRate: 8000, MaxSampleRate: 48000}}},
			{Name: "USB Headset", Configs: []audioio.SupportedConfig{{Channels: 2, MinSampleRate: 44100, MaxSampleRate: 44100}}},
		},
		hasDefault: true,
	}
}

func (b *fakeBackend) InputDevices() ([]audioio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]audioio.Device(nil), b.devices...), nil
}

func (b *fakeBackend) DefaultInputDevice() (audioio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasDefault {
		for _, d := range b.devices {
			if d.IsDefault {
				return d, nil
			}
		}
	}
	return audioio.Device{}, audioio.ErrNoDefaultDevice
}

func (b *fakeBackend) OpenCapture(device audioio.Device, format audioio.StreamFormat, callbacks audioio.Callbacks) (audioio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &fakeStream{callbacks: callbacks, format: format, device: device.Name, startErr: b.startErr}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) Streams() []*fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeStream(nil), b.streams...)
}

func (b *fakeBackend) ActiveStreams() int {
	n := 0
	for _, s := range b.Streams() {
		if s.Active() {
			n++
		}
	}
	return n
}

func (b *fakeBackend) Last() *fakeStream {
	streams := b.Streams()
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

func tone(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}
