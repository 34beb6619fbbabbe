package recorder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/petrzlen/vad-recorder/pkg/audioio"
	"github.com/petrzlen/vad-recorder/pkg/models"
)

const (
	RecordingsDirName = "recordings"

	recordingPrefix = "vad_"
	recordingExt    = ".wav"

	bitDepth       = 32
	bytesPerSample = bitDepth / 8
	// wavHeaderSize is RIFF + fmt + data chunk headers as written by wav.Encoder.
	wavHeaderSize = 44

	maxCreateAttempts = 64
)

// Store owns the recordings directory.
type Store struct {
	fs  afero.Fs
	dir string
	now func() time.Time
	seq atomic.Uint64
}

// NewStore creates <dataDir>/recordings if needed; calling it again is harmless.
func NewStore(fs afero.Fs, dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, RecordingsDirName)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(ErrIO, "cannot create recordings dir %s: %v", dir, err)
	}
	return &Store{fs: fs, dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Create opens a new, uniquely named recording named after the capture time.
// Existing files are never overwritten, the sequence number is bumped instead.
func (s *Store) Create(sampleRate uint32) (*Writer, error) {
	millis := s.now().UnixMilli()
	var err error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		name := fmt.Sprintf("%s%d_%d%s", recordingPrefix, millis, s.seq.Add(1)-1, recordingExt)
		path := filepath.Join(s.dir, name)
		var file afero.File
		file, err = s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return newWriter(file, path, sampleRate), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, errors.Wrapf(ErrIO, "cannot create %s: %v", path, err)
		}
	}
	return nil, errors.Wrapf(ErrIO, "no free recording name after %d attempts: %v", maxCreateAttempts, err)
}

func (s *Store) ReadAll(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "cannot read %s: %v", path, err)
	}
	return data, nil
}

func (s *Store) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil {
		return errors.Wrapf(ErrIO, "cannot remove %s: %v", path, err)
	}
	return nil
}

// List returns the recordings, newest first.
func (s *Store) List() ([]models.Recording, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "cannot list %s: %v", s.dir, err)
	}
	recordings := make([]models.Recording, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasPrefix(name, recordingPrefix) || !strings.HasSuffix(name, recordingExt) {
			continue
		}
		recordings = append(recordings, models.Recording{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(recordings, func(i, j int) bool {
		if !recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].ModTime.After(recordings[j].ModTime)
		}
		return recordings[i].Name > recordings[j].Name
	})
	return recordings, nil
}

// Writer appends mono float32 samples to a 32-bit IEEE float WAV file.
// wav.Encoder only writes integers, so samples travel as their raw bit patterns.
type Writer struct {
	path       string
	sampleRate uint32
	file       afero.File
	encoder    *wav.Encoder
	buf        *audio.IntBuffer
	samples    int
	closed     bool
	trace      models.Trace
}

func newWriter(file afero.File, path string, sampleRate uint32) *Writer {
	return &Writer{
		path:       path,
		sampleRate: sampleRate,
		trace:      models.NewTrace("recorder.store"),
		file:       file,
		encoder:    wav.NewEncoder(file, int(sampleRate), bitDepth, int(audioio.MonoChannels), audioio.WavFormatFloat),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: int(audioio.MonoChannels), SampleRate: int(sampleRate)},
			SourceBitDepth: bitDepth,
		},
	}
}

func (w *Writer) Path() string {
	return w.path
}

// Trace is stamped when the recording is created.
func (w *Writer) Trace() models.Trace {
	return w.trace
}

func (w *Writer) Samples() int {
	return w.samples
}

func (w *Writer) Write(samples []float32) error {
	if w.closed {
		return errors.Wrapf(ErrWriter, "%s is already closed", w.path)
	}
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = int(int32(math.Float32bits(s)))
	}
	if err := w.encoder.Write(w.buf); err != nil {
		return errors.Wrapf(ErrWriter, "cannot write %d samples to %s: %v", len(samples), w.path, err)
	}
	w.samples += len(samples)
	return nil
}

// Close finalizes the WAV header and closes the file. Calling it twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.encoder.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return errors.Wrapf(ErrWriter, "cannot finalize %s: %v", w.path, encErr)
	}
	if fileErr != nil {
		return errors.Wrapf(ErrIO, "cannot close %s: %v", w.path, fileErr)
	}
	return nil
}

// ExpectedFileSize is the size of a finalized recording holding n samples.
func ExpectedFileSize(samples int) int {
	return wavHeaderSize + samples*bytesPerSample
}
