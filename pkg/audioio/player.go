package audioio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

// Player replays recordings on the default output.
//
// The state flow is:
//  1. current == nil => nothing going on
//  2. Play grabs mutex => starting to play, then polls until done or stopped.
//  3. Stop grabs mutex and pauses the player, Play notices and closes it.
//
// Invariant: there is at most one oto.Player alive at the same time.
type Player struct {
	otoContext *oto.Context

	mutex    sync.Mutex // Protects current and stopFlag
	current  *oto.Player
	stopFlag bool
}

// NewPlayer creates the oto context; you should not create more than one per process.
func NewPlayer(sampleRate int, numChannels int) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatFloat32LE,
	}

	log.Info().Int("sample_rate", sampleRate).Msg("oto context - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context %w", err)
	}
	<-readyChan
	return &Player{otoContext: otoCtx}, nil
}

// Play streams little-endian float32 PCM and blocks until it is done or Stop is called.
func (p *Player) Play(pcm io.Reader) error {
	p.mutex.Lock()
	if p.current != nil {
		p.mutex.Unlock()
		return fmt.Errorf("player is busy, you need to call Stop first")
	}
	p.current = p.otoContext.NewPlayer(pcm)
	p.current.Play()
	p.mutex.Unlock()

	startTime := time.Now()
	for {
		p.mutex.Lock()
		playing := p.current.IsPlaying()
		stop := p.stopFlag
		p.mutex.Unlock()

		if !playing || stop {
			break
		}
		time.Sleep(time.Millisecond)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	err := p.current.Close()
	p.current = nil
	p.stopFlag = false
	log.Debug().Dur("playback_duration", time.Since(startTime)).Msg("playback done")
	return err
}

func (p *Player) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.current == nil {
		return
	}
	p.stopFlag = true
	p.current.Pause()
}
