// Package vad is the boundary to the speech/silence classifier.
//
// A Classifier is created once per capture session and may keep internal
// state (smoothing, recurrent model state) across chunks; that state is
// discarded with the classifier when the session ends.
package vad

import "fmt"

// DefaultChunkSize is the window the Silero model expects at 16 kHz.
const DefaultChunkSize = 512

type Params struct {
	SampleRate uint32
	ChunkSize  int
	// Threshold is the session's speech threshold, for backends that need it internally.
	Threshold float32
}

func (p Params) Validate() error {
	if p.SampleRate == 0 {
		return fmt.Errorf("vad: sample rate must be positive")
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("vad: chunk size must be positive, got %d", p.ChunkSize)
	}
	return nil
}

type Classifier interface {
	// Classify returns the speech probability of one chunk, in [0, 1].
	Classify(chunk []float32) (float32, error)
	Close() error
}

type Factory func(params Params) (Classifier, error)

// Clamp keeps a probability inside [0, 1].
func Clamp(p float32) float32 {
	switch {
	case p < 0 || p != p:
		return 0
	case p > 1:
		return 1
	}
	return p
}
