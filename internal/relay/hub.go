// Package relay fans translated messages out to the participants of a
// room over websockets and keeps the membership protocol in sync with
// the session store.
package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/observability/logging"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/protocol"
)

// wsConn is the subset of *websocket.Conn the relay touches, so tests
// can substitute a fake connection.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outbound struct {
	messageType int
	data        []byte
}

// Client is one connected participant.
type Client struct {
	hub  *Hub
	conn wsConn

	roomCode      string
	participantID string
	name          string
	role          string

	langMu     sync.RWMutex
	targetLang string // reconfigurable mid-connection

	send chan outbound
	done chan struct{}
	once sync.Once
}

// TargetLanguage returns the language this participant currently wants
// messages rendered in.
func (c *Client) TargetLanguage() string {
	c.langMu.RLock()
	defer c.langMu.RUnlock()
	return c.targetLang
}

func (c *Client) setTargetLanguage(lang string) {
	c.langMu.Lock()
	c.targetLang = lang
	c.langMu.Unlock()
}

func newClient(hub *Hub, conn wsConn, roomCode, participantID, name, role, targetLang string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		roomCode:      roomCode,
		participantID: participantID,
		name:          name,
		role:          role,
		targetLang:    targetLang,
		send:          make(chan outbound, hub.sendBuffer),
		done:          make(chan struct{}),
	}
}

// SendFrame encodes and queues one text frame for this participant.
func (c *Client) SendFrame(frame protocol.ServerFrame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Error().Err(err).Str("frameType", frame.FrameType()).Msg("Failed to encode frame")
		return
	}
	if c.enqueue(websocket.TextMessage, data) {
		c.hub.metrics.FramesRelayed.WithLabelValues(frame.FrameType()).Inc()
	}
}

// SendBinary queues raw audio bytes for this participant.
func (c *Client) SendBinary(data []byte) {
	if c.enqueue(websocket.BinaryMessage, data) {
		c.hub.metrics.AudioBytesOut.Add(float64(len(data)))
	}
}

// enqueue is non-blocking: a participant whose buffer is full loses the
// frame rather than stalling the whole room.
func (c *Client) enqueue(messageType int, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- outbound{messageType: messageType, data: data}:
		return true
	default:
		c.hub.metrics.FramesDropped.WithLabelValues("slow_receiver").Inc()
		logging.WithParticipant(c.roomCode, c.participantID, c.role).Warn().Msg("Dropping frame for slow receiver")
		return false
	}
}

// writePump serializes all writes to the connection. One goroutine per
// client; gorilla connections allow a single concurrent writer.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(out.messageType, out.data); err != nil {
				log.Debug().Err(err).Str("participant", c.participantID).Msg("Write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// close stops the write pump. Idempotent.
func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is the registry of connected clients grouped by room code.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	writeTimeout time.Duration
	sendBuffer   int
	metrics      *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub(cfg config.RelayConfig) *Hub {
	return &Hub{
		rooms:        make(map[string]map[*Client]struct{}),
		writeTimeout: cfg.WriteTimeout,
		sendBuffer:   cfg.SendBuffer,
		metrics:      metrics.DefaultMetrics,
	}
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.roomCode]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.roomCode] = room
		h.metrics.RoomsActive.Inc()
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ParticipantsActive.Inc()
	h.metrics.ParticipantsJoined.WithLabelValues(c.role).Inc()
}

// Unregister removes a client and stops its write pump.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.roomCode]
	removed := false
	if ok {
		if _, member := room[c]; member {
			delete(room, c)
			removed = true
		}
		if len(room) == 0 {
			delete(h.rooms, c.roomCode)
			h.metrics.RoomsActive.Dec()
		}
	}
	h.mu.Unlock()

	c.close()
	if removed {
		h.metrics.ParticipantsActive.Dec()
	}
}

// Clients returns a snapshot of the room's connected clients.
func (h *Hub) Clients(roomCode string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[roomCode]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

// Broadcast sends one frame to every client in the room.
func (h *Hub) Broadcast(roomCode string, frame protocol.ServerFrame) {
	for _, c := range h.Clients(roomCode) {
		c.SendFrame(frame)
	}
}

// BroadcastExcept sends one frame to every client in the room but one.
func (h *Hub) BroadcastExcept(roomCode string, except *Client, frame protocol.ServerFrame) {
	for _, c := range h.Clients(roomCode) {
		if c != except {
			c.SendFrame(frame)
		}
	}
}

// CloseRoom disconnects every client in the room, typically after the
// sender ends the session.
func (h *Hub) CloseRoom(roomCode string) {
	for _, c := range h.Clients(roomCode) {
		h.Unregister(c)
	}
}
