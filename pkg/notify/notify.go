// Package notify carries recorder lifecycle events to whoever is listening.
// Delivery is fire-and-forget: a Sink must not block the caller, and a lost
// event never affects the recorder.
package notify

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petrzlen/vad-recorder/pkg/models"
)

type EventName string

const (
	SpeechStart    EventName = "speech-start"
	SpeechDetected EventName = "speech-detected"
)

type Event struct {
	Name      EventName
	SessionID string
	At        time.Time
	// FilePath and FileContents are only set for SpeechDetected.
	// FileContents is nil when the finished file could not be read back.
	FilePath     string
	FileContents []byte
	// Trace spans the recording from creation to hand-off, SpeechDetected only.
	Trace models.Trace
}

// Payload is the JSON body of a SpeechDetected event.
type Payload struct {
	FilePath     string `json:"filePath"`
	FileContents []byte `json:"fileContents"`
}

func (e Event) Payload() *Payload {
	if e.Name != SpeechDetected {
		return nil
	}
	return &Payload{FilePath: e.FilePath, FileContents: e.FileContents}
}

type Sink interface {
	Notify(event Event)
}

type SinkFunc func(event Event)

func (f SinkFunc) Notify(event Event) {
	f(event)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Notify(event Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(event)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type LogSink struct{}

func (LogSink) Notify(event Event) {
	l := log.Info().Str("event", string(event.Name)).Str("session_id", event.SessionID)
	if event.Name == SpeechDetected {
		l = l.Str("file_path", event.FilePath).Int("file_bytes", len(event.FileContents))
	}
	l.Msg("recorder notification")
	if event.Name == SpeechDetected {
		event.Trace.Log()
	}
}
