package recorder

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/petrzlen/vad-recorder/pkg/models"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/vad"
)

// DefaultSilenceTimeout bridges the pauses inside one utterance.
const DefaultSilenceTimeout = 800 * time.Millisecond

type GateConfig struct {
	SessionID      string
	Threshold      float32
	SilenceTimeout time.Duration
	SampleRate     uint32
}

// Gate is the speech-gated recorder: Idle until a chunk is classified as
// speech, then Capturing into a fresh file until SilenceTimeout of
// continuous silence has passed.
//
// Process is only ever called from the audio thread. Each piece of state
// has its own lock so that control queries never wait on classification.
type Gate struct {
	cfg     GateConfig
	store   *Store
	sink    notify.Sink
	clock   func() time.Time
	onError func(error)
	state   *sharedState

	classifierMu sync.Mutex
	classifier   vad.Classifier

	speechMu   sync.Mutex
	lastSpeech time.Time // zero until the first speech chunk

	writerMu sync.Mutex
	writer   *Writer
}

func newGate(cfg GateConfig, classifier vad.Classifier, store *Store, sink notify.Sink, state *sharedState, clock func() time.Time, onError func(error)) *Gate {
	if sink == nil {
		sink = notify.Discard
	}
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		cfg:        cfg,
		classifier: classifier,
		store:      store,
		sink:       sink,
		state:      state,
		clock:      clock,
		onError:    onError,
	}
}

// Process runs one chunk through the state machine.
func (g *Gate) Process(chunk []float32) {
	now := g.clock()

	probability, err := g.classify(chunk)
	if err != nil {
		log.Error().Err(err).Str("session_id", g.cfg.SessionID).Msg("classifier failed, falling back to idle")
		g.forgetSpeech()
		g.endCapture()
		return
	}
	shouldRecord := g.observe(now, probability > g.cfg.Threshold)

	var started bool
	var finished *Writer

	g.writerMu.Lock()
	switch {
	case shouldRecord && g.writer == nil:
		started = g.open()
	case !shouldRecord && g.writer != nil:
		finished = g.detach()
	}
	if g.writer != nil {
		if err := g.writer.Write(chunk); err != nil {
			g.abandon(err)
		}
	}
	g.writerMu.Unlock()

	if started {
		g.sink.Notify(notify.Event{Name: notify.SpeechStart, SessionID: g.cfg.SessionID, At: now})
	}
	if finished != nil {
		g.finish(finished)
	}
}

// Shutdown finalizes any open recording and releases the classifier.
// It must only be called once the audio thread has stopped.
func (g *Gate) Shutdown() {
	g.forgetSpeech()
	g.endCapture()

	g.classifierMu.Lock()
	defer g.classifierMu.Unlock()
	if g.classifier != nil {
		if err := g.classifier.Close(); err != nil {
			log.Debug().Err(err).Msg("cannot close classifier")
		}
		g.classifier = nil
	}
}

func (g *Gate) classify(chunk []float32) (p float32, err error) {
	g.classifierMu.Lock()
	defer g.classifierMu.Unlock()
	if g.classifier == nil {
		return 0, errors.New("classifier is closed")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("classifier panicked: %v", r)
		}
	}()
	p, err = g.classifier.Classify(chunk)
	return vad.Clamp(p), err
}

// observe records speech and reports whether the silence window is still open.
func (g *Gate) observe(now time.Time, isSpeech bool) bool {
	g.speechMu.Lock()
	defer g.speechMu.Unlock()
	if isSpeech {
		g.lastSpeech = now
	}
	return !g.lastSpeech.IsZero() && now.Sub(g.lastSpeech) < g.cfg.SilenceTimeout
}

func (g *Gate) forgetSpeech() {
	g.speechMu.Lock()
	defer g.speechMu.Unlock()
	g.lastSpeech = time.Time{}
}

// open must be called with writerMu held. A failure leaves the gate Idle.
func (g *Gate) open() bool {
	w, err := g.store.Create(g.cfg.SampleRate)
	if err != nil {
		log.Error().Err(err).Str("session_id", g.cfg.SessionID).Msg("cannot create recording, staying idle")
		g.reportError(err)
		return false
	}
	log.Info().Str("session_id", g.cfg.SessionID).Str("file_path", w.Path()).Msg("starting new speech recording")
	g.writer = w
	g.state.startSpeaking(w.Path())
	return true
}

// detach must be called with writerMu held.
func (g *Gate) detach() *Writer {
	w := g.writer
	g.writer = nil
	g.state.stopSpeaking()
	return w
}

// abandon must be called with writerMu held. The partial file is dropped and no artifact is produced.
func (g *Gate) abandon(cause error) {
	w := g.detach()
	log.Error().Err(cause).Str("session_id", g.cfg.SessionID).Str("file_path", w.Path()).Msg("cannot write recording, abandoning it")
	g.reportError(cause)
	dbg(w.Close())
	dbg(g.store.Remove(w.Path()))
	g.forgetSpeech()
}

func (g *Gate) endCapture() {
	g.writerMu.Lock()
	var finished *Writer
	if g.writer != nil {
		finished = g.detach()
	}
	g.writerMu.Unlock()
	if finished != nil {
		g.finish(finished)
	}
}

// finish closes a detached writer, reads it back and hands it to the sink.
func (g *Gate) finish(w *Writer) {
	if err := w.Close(); err != nil {
		log.Error().Err(err).Str("file_path", w.Path()).Msg("cannot finalize recording, dropping it")
		g.reportError(err)
		dbg(g.store.Remove(w.Path()))
		return
	}

	artifact := models.SpeechArtifact{
		FilePath:   w.Path(),
		Samples:    w.Samples(),
		SampleRate: g.cfg.SampleRate,
		Trace:      w.Trace(),
	}
	artifact.Trace.ProcessedAt = time.Now()
	artifact.Trace.Processor = "recorder.gate"
	contents, err := g.store.ReadAll(w.Path())
	if err != nil {
		log.Error().Err(err).Str("file_path", w.Path()).Msg("cannot read back recording")
	} else {
		artifact.FileContents = contents
	}
	log.Info().Str("session_id", g.cfg.SessionID).Str("file_path", artifact.FilePath).Dur("duration", artifact.Duration()).Int("file_bytes", len(artifact.FileContents)).Msg("completed speech recording")

	g.sink.Notify(notify.Event{
		Name:         notify.SpeechDetected,
		SessionID:    g.cfg.SessionID,
		At:           g.clock(),
		FilePath:     artifact.FilePath,
		FileContents: artifact.FileContents,
		Trace:        artifact.Trace,
	})
}

func (g *Gate) reportError(err error) {
	if g.onError != nil {
		g.onError(err)
	}
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
