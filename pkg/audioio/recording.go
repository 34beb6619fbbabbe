package audioio

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// IEEE float format tag of the WAVE fmt chunk.
const WavFormatFloat = 3

// RecordingPCM is the raw payload of a recording plus what is needed to play it.
type RecordingPCM struct {
	SampleRate int
	Channels   int
	PCM        io.Reader
	closer     io.Closer
}

func (r *RecordingPCM) Close() error {
	return r.closer.Close()
}

// OpenRecording validates a 32-bit float WAV and positions its reader at the PCM data.
func OpenRecording(fs afero.Fs, path string) (*RecordingPCM, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open recording %s: %w", path, err)
	}
	decoder := wav.NewDecoder(f)
	if err = decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("cannot read wav header of %s: %w", path, err)
	}
	if decoder.WavAudioFormat != WavFormatFloat || decoder.BitDepth != 32 {
		f.Close()
		return nil, fmt.Errorf("%s is not a 32-bit float wav (format %d, %d bits)", path, decoder.WavAudioFormat, decoder.BitDepth)
	}
	return &RecordingPCM{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		PCM:        decoder.PCMChunk,
		closer:     f,
	}, nil
}
