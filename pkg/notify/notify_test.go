package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOutInOrder(t *testing.T) {
	var got []string
	sink := Multi{
		SinkFunc(func(e Event) { got = append(got, "first:"+string(e.Name)) }),
		nil,
		SinkFunc(func(e Event) { got = append(got, "second:"+string(e.Name)) }),
		LogSink{},
		Discard,
	}
	sink.Notify(Event{Name: SpeechStart, SessionID: "s1", At: time.Now()})
	assert.Equal(t, []string{"first:speech-start", "second:speech-start"}, got)
}

func TestPayload(t *testing.T) {
	assert.Nil(t, Event{Name: SpeechStart, FilePath: "/tmp/a.wav"}.Payload())

	p := Event{Name: SpeechDetected, FilePath: "/tmp/a.wav", FileContents: []byte("RIFF")}.Payload()
	require.NotNil(t, p)
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filePath":"/tmp/a.wav","fileContents":"UklGRg=="}`, string(b))
}
