package recorder

import (
	"sync"

	"github.com/petrzlen/vad-recorder/pkg/models"
)

// sharedState is written by the audio thread and read by the control API.
type sharedState struct {
	mu    sync.RWMutex
	state models.RecorderState
}

func newSharedState(running bool) *sharedState {
	return &sharedState{state: models.RecorderState{IsRunning: running}}
}

func (s *sharedState) snapshot() models.RecorderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *sharedState) startSpeaking(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsSpeaking = true
	s.state.CurrentFile = file
}

func (s *sharedState) stopSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsSpeaking = false
	s.state.CurrentFile = ""
}

func (s *sharedState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.IdleState()
}
