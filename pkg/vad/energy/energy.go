// Package energy is a pure-Go classifier based on RMS energy, for hosts without a Silero model.
package energy

import (
	"fmt"
	"math"

	"github.com/petrzlen/vad-recorder/pkg/vad"
)

const (
	// DefaultMidpointDBFS maps to probability 0.5.
	DefaultMidpointDBFS = -40.0
	// DefaultSlopeDB is how many dB move the probability across most of its range.
	DefaultSlopeDB = 4.0
	// DefaultSmoothing is the weight of the newest chunk in the moving average.
	DefaultSmoothing = 0.6

	silenceFloorDBFS = -120.0
)

type Config struct {
	MidpointDBFS float64
	SlopeDB      float64
	Smoothing    float64
}

func DefaultConfig() Config {
	return Config{
		MidpointDBFS: DefaultMidpointDBFS,
		SlopeDB:      DefaultSlopeDB,
		Smoothing:    DefaultSmoothing,
	}
}

type Classifier struct {
	cfg       Config
	chunkSize int
	smoothed  float64
	primed    bool
}

func NewFactory(cfg Config) vad.Factory {
	return func(params vad.Params) (vad.Classifier, error) {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		if cfg.SlopeDB <= 0 {
			return nil, fmt.Errorf("energy: slope must be positive, got %v", cfg.SlopeDB)
		}
		if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
			return nil, fmt.Errorf("energy: smoothing must be in (0, 1], got %v", cfg.Smoothing)
		}
		return &Classifier{cfg: cfg, chunkSize: params.ChunkSize}, nil
	}
}

func (c *Classifier) Classify(chunk []float32) (float32, error) {
	if len(chunk) != c.chunkSize {
		return 0, fmt.Errorf("energy: expected %d samples, got %d", c.chunkSize, len(chunk))
	}
	p := logistic((dbfs(chunk) - c.cfg.MidpointDBFS) / c.cfg.SlopeDB)
	if !c.primed {
		c.smoothed = p
		c.primed = true
	} else {
		c.smoothed = c.cfg.Smoothing*p + (1-c.cfg.Smoothing)*c.smoothed
	}
	return vad.Clamp(float32(c.smoothed)), nil
}

func (c *Classifier) Close() error {
	return nil
}

func dbfs(chunk []float32) float64 {
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(chunk)))
	if rms == 0 {
		return silenceFloorDBFS
	}
	return math.Max(20*math.Log10(rms), silenceFloorDBFS)
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
