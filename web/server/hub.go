package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 16
	maxMessageSize    = 4096
	writeWait         = 2 * time.Second
)

// Event is the envelope of every websocket message in either direction.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(name string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}

// client is one websocket connection. Messages are queued on send and written by a single writer
// goroutine.
type client struct {
	id     uuid.UUID
	socket *websocket.Conn
	send   chan []byte
	// control bounds how often this client may move the base or the gimbal.
	control *rate.Limiter
}

func newClient(socket *websocket.Conn, control *rate.Limiter) *client {
	return &client{
		id:      uuid.New(),
		socket:  socket,
		send:    make(chan []byte, messageBufferSize),
		control: control,
	}
}

// write drains send until the hub closes it.
func (c *client) write() {
	defer func() {
		//nolint:errcheck
		c.socket.Close()
	}()
	for msg := range c.send {
		goutils.UncheckedError(c.socket.SetWriteDeadline(time.Now().Add(writeWait)))
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			// closing the socket ends the reader, which makes the hub close send
			goutils.UncheckedError(c.socket.Close())
			for range c.send {
			}
			return
		}
	}
}

// hub tracks connected clients and fans messages out to them.
type hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*client
	logger  golog.Logger
}

func newHub(logger golog.Logger) *hub {
	return &hub{clients: map[uuid.UUID]*client{}, logger: logger}
}

func (h *hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.logger.Infow("client connected", "id", c.id, "clients", len(h.clients))
}

func (h *hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.logger.Infow("client disconnected", "id", c.id, "clients", len(h.clients))
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// sendTo queues an event for one client. A client whose queue is full misses the event.
func (h *hub) sendTo(c *client, name string, data interface{}) {
	msg, err := encodeEvent(name, data)
	if err != nil {
		h.logger.Errorw("cannot encode event", "event", name, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.enqueueLocked(c, name, msg)
}

// broadcast queues an event for every client.
func (h *hub) broadcast(name string, data interface{}) {
	msg, err := encodeEvent(name, data)
	if err != nil {
		h.logger.Errorw("cannot encode event", "event", name, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.enqueueLocked(c, name, msg)
	}
}

func (h *hub) enqueueLocked(c *client, name string, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Debugw("client queue full, dropping event", "id", c.id, "event", name)
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
