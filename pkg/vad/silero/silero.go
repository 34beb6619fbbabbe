// Package silero adapts github.com/streamer45/silero-vad-go to vad.Classifier.
//
// The model runs at 16 kHz on 512-sample windows. Chunks captured at other
// rates are resampled, and windows are fed as they fill up, so one Classify
// call may run zero or several inferences. The detector only exposes its
// triggered state, which is reported as probability 1 (speech) or 0.
package silero

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/streamer45/silero-vad-go/speech"
	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/petrzlen/vad-recorder/pkg/vad"
)

const (
	modelSampleRate = 16000
	windowSize      = 512

	minThreshold = 0.01
	maxThreshold = 0.99

	// errSpeechEnd is what Detect returns when speech ends in a later call than it started.
	// The detector has already left its triggered state at that point.
	errSpeechEnd = "unexpected speech end"
)

type Config struct {
	ModelPath            string
	MinSilenceDurationMs int
	SpeechPadMs          int
}

type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Destroy() error
}

type converter interface {
	Process(input []float32) ([]float32, error)
}

type Classifier struct {
	detector  detector
	resampler converter // nil when the input is already at the model rate
	chunkSize int

	pending  []float32
	window   []float32
	speaking bool
}

func NewFactory(cfg Config) vad.Factory {
	return func(params vad.Params) (vad.Classifier, error) {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("silero: model path is required")
		}
		threshold := params.Threshold
		if threshold < minThreshold {
			threshold = minThreshold
		} else if threshold > maxThreshold {
			threshold = maxThreshold
		}

		var conv converter
		if params.SampleRate != modelSampleRate {
			r, err := resampler.NewEngineFloat32(float64(params.SampleRate), modelSampleRate, resampler.QualityLow)
			if err != nil {
				return nil, fmt.Errorf("silero: cannot resample %d Hz: %w", params.SampleRate, err)
			}
			conv = r
		}

		d, err := speech.NewDetector(speech.DetectorConfig{
			ModelPath:            cfg.ModelPath,
			SampleRate:           modelSampleRate,
			Threshold:            threshold,
			MinSilenceDurationMs: cfg.MinSilenceDurationMs,
			SpeechPadMs:          cfg.SpeechPadMs,
		})
		if err != nil {
			return nil, fmt.Errorf("silero: cannot create detector: %w", err)
		}
		log.Debug().Str("model_path", cfg.ModelPath).Uint32("input_sample_rate", params.SampleRate).Msg("silero detector ready")

		return newClassifier(d, conv, params.ChunkSize), nil
	}
}

func newClassifier(d detector, conv converter, chunkSize int) *Classifier {
	return &Classifier{
		detector:  d,
		resampler: conv,
		chunkSize: chunkSize,
		// Detect skips the last window of its input, hence the extra sample.
		window: make([]float32, windowSize+1),
	}
}

func (c *Classifier) Classify(chunk []float32) (float32, error) {
	if len(chunk) != c.chunkSize {
		return 0, fmt.Errorf("silero: expected %d samples, got %d", c.chunkSize, len(chunk))
	}
	if c.resampler == nil {
		c.pending = append(c.pending, chunk...)
	} else {
		out, err := c.resampler.Process(chunk)
		if err != nil {
			return 0, fmt.Errorf("silero: resample: %w", err)
		}
		c.pending = append(c.pending, out...)
	}

	consumed := 0
	for len(c.pending)-consumed >= windowSize {
		copy(c.window, c.pending[consumed:consumed+windowSize])
		c.window[windowSize] = c.window[windowSize-1]
		consumed += windowSize

		segments, err := c.detector.Detect(c.window)
		if err != nil {
			if err.Error() == errSpeechEnd {
				c.speaking = false
				continue
			}
			c.pending = c.pending[:copy(c.pending, c.pending[consumed:])]
			return 0, fmt.Errorf("silero: detect: %w", err)
		}
		for _, seg := range segments {
			c.speaking = seg.SpeechEndAt == 0
		}
	}
	c.pending = c.pending[:copy(c.pending, c.pending[consumed:])]

	if c.speaking {
		return 1, nil
	}
	return 0, nil
}

func (c *Classifier) Close() error {
	return c.detector.Destroy()
}
