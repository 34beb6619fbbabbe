package networking

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petrzlen/vad-recorder/pkg/models"
	"github.com/petrzlen/vad-recorder/pkg/notify"
	"github.com/petrzlen/vad-recorder/pkg/recorder"
)

// Controller is the part of recorder.Manager exposed over the websocket.
type Controller interface {
	Start(opts recorder.StartOptions) error
	Stop() error
	State() models.RecorderState
	SessionID() string
	Devices() ([]string, error)
	Recordings() ([]models.Recording, error)
}

const (
	CommandGetState         = "getState"
	CommandEnumerateDevices = "enumerateDevices"
	CommandListRecordings   = "listRecordings"
	CommandStart            = "start"
	CommandStop             = "stop"

	// clientBufferSize bounds how many messages may wait for a slow client before new ones are dropped.
	clientBufferSize = 32
)

type Command struct {
	ID               string   `json:"id,omitempty"`
	Command          string   `json:"command"`
	Device           string   `json:"device,omitempty"`
	Threshold        *float32 `json:"threshold,omitempty"`
	SilenceTimeoutMs *int     `json:"silenceTimeoutMs,omitempty"`
}

type Reply struct {
	ID         string                `json:"id,omitempty"`
	Command    string                `json:"command"`
	Error      string                `json:"error,omitempty"`
	State      *models.RecorderState `json:"state,omitempty"`
	SessionID  string                `json:"sessionId,omitempty"`
	Devices    []string              `json:"devices,omitempty"`
	Recordings []models.Recording    `json:"recordings,omitempty"`
}

type EventMessage struct {
	Event     notify.EventName `json:"event"`
	SessionID string           `json:"sessionId"`
	At        time.Time        `json:"at"`
	Payload   *notify.Payload  `json:"payload,omitempty"`
}

// Hub broadcasts recorder notifications to every connected client and
// executes their control commands. It implements notify.Sink.
type Hub struct {
	controller Controller
	defaults   recorder.StartOptions

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(controller Controller, defaults recorder.StartOptions) *Hub {
	return &Hub{
		controller: controller,
		defaults:   defaults,
		clients:    make(map[*client]struct{}),
	}
}

// Notify never blocks: a client whose buffer is full misses the event.
func (h *Hub) Notify(event notify.Event) {
	msg, err := json.Marshal(EventMessage{
		Event:     event.Name,
		SessionID: event.SessionID,
		At:        event.At,
		Payload:   event.Payload(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Name)).Msg("cannot encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.trySend(msg)
	}
}

func (h *Hub) NumClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler serves the control websocket.
func (h *Hub) Handler() http.HandlerFunc {
	return NewWebsocketHandlerFunc(func() WebsocketMessageHandler {
		c := h.register(clientBufferSize)
		go h.serve(c)
		return c
	})
}

func (h *Hub) register(bufferSize int) *client {
	c := &client{
		reader: make(chan []byte),
		writer: make(chan []byte, bufferSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// serve runs the commands of one client until its connection is gone.
func (h *Hub) serve(c *client) {
	for msg := range c.reader {
		c.trySend(h.execute(msg))
	}
	h.mu.Lock()
	delete(h.clients, c)
	close(c.writer)
	h.mu.Unlock()
	log.Info().Msg("websocket client disconnected")
}

func (h *Hub) execute(msg []byte) []byte {
	var cmd Command
	var reply Reply
	if err := json.Unmarshal(msg, &cmd); err != nil {
		reply.Error = "invalid command: " + err.Error()
	} else {
		reply = h.run(cmd)
	}
	out, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("command", cmd.Command).Msg("cannot encode reply")
		return []byte(`{"error":"internal error"}`)
	}
	return out
}

func (h *Hub) run(cmd Command) Reply {
	reply := Reply{ID: cmd.ID, Command: cmd.Command}
	log.Debug().Str("command", cmd.Command).Str("id", cmd.ID).Msg("websocket command")

	var err error
	switch cmd.Command {
	case CommandGetState:
	case CommandEnumerateDevices:
		reply.Devices, err = h.controller.Devices()
	case CommandListRecordings:
		reply.Recordings, err = h.controller.Recordings()
	case CommandStart:
		opts := h.defaults
		if cmd.Device != "" {
			opts.Device = cmd.Device
		}
		if cmd.Threshold != nil {
			opts.Threshold = *cmd.Threshold
		}
		if cmd.SilenceTimeoutMs != nil {
			opts.SilenceTimeout = time.Duration(*cmd.SilenceTimeoutMs) * time.Millisecond
		}
		err = h.controller.Start(opts)
	case CommandStop:
		err = h.controller.Stop()
	default:
		reply.Error = "unknown command " + cmd.Command
		return reply
	}
	if err != nil {
		reply.Error = err.Error()
	}
	state := h.controller.State()
	reply.State = &state
	reply.SessionID = h.controller.SessionID()
	return reply
}

type client struct {
	reader chan []byte
	writer chan []byte
}

func (c *client) GetReader() chan<- []byte {
	return c.reader
}

func (c *client) GetWriter() <-chan []byte {
	return c.writer
}

func (c *client) trySend(msg []byte) {
	select {
	case c.writer <- msg:
	default:
		log.Warn().Int("buffered", len(c.writer)).Msg("websocket client too slow, dropping message")
	}
}
