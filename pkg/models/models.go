package models

import (
	"github.com/rs/zerolog/log"
	"time"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ProcessedAt time.Time
	Processor   string
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

// RecorderState is what the control surface reports about the capture session.
// Invariant: CurrentFile != "" if and only if IsSpeaking and a writer is open.
type RecorderState struct {
	IsRunning   bool   `json:"isRunning"`
	IsSpeaking  bool   `json:"isSpeaking"`
	CurrentFile string `json:"currentFile,omitempty"`
}

// IdleState is the all-idle default, also reported when no session exists.
func IdleState() RecorderState {
	return RecorderState{}
}

// SpeechArtifact is one finalized recording, produced once per capturing interval.
type SpeechArtifact struct {
	FilePath string
	// FileContents is nil when the finished file could not be read back.
	FileContents []byte
	Samples      int
	SampleRate   uint32
	Trace        Trace
}

// Duration of the recorded audio, derived from the sample count.
func (a SpeechArtifact) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(int64(a.Samples) * int64(time.Second) / int64(a.SampleRate))
}

// Recording is an entry of the recordings directory listing.
type Recording struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}
