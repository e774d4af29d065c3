package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/protocol"
)

// EventKind discriminates the events delivered to the handler.
type EventKind int

const (
	// EventConnected - synthetic, emitted when the socket opens. Distinct
	// from any server handshake frame so callers can tell "socket open"
	// from "server ready".
	EventConnected EventKind = iota
	// EventFrame - a decoded server text frame.
	EventFrame
	// EventBinary - raw audio bytes.
	EventBinary
	// EventError - a transport fault that did not close the channel.
	EventError
	// EventDisconnected - terminal for this connect cycle: explicit
	// disconnect or reconnection exhausted. Emitted at most once per cycle.
	EventDisconnected
)

// Event is one inbound occurrence, delivered in strict arrival order.
type Event struct {
	Kind   EventKind
	Frame  protocol.ServerFrame
	Binary []byte
	Err    error
}

// Handler receives every event of the channel. A single handler is
// supported; registering replaces the previous one.
type Handler func(Event)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one websocket connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

func defaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Channel is one logical room membership over a websocket, with
// automatic bounded reconnection. All exported methods are safe for
// concurrent use; events are delivered sequentially.
type Channel struct {
	baseURL     string
	dial        Dialer
	maxAttempts int
	delay       time.Duration

	mu             sync.Mutex
	state          State
	conn           Conn
	handler        Handler
	roomCode       string
	participantID  string
	attempts       int
	ready          bool // server handshake seen, binary sends allowed
	terminalSent   bool
	reconnectTimer *time.Timer
	// epoch invalidates goroutines and timers from earlier connect
	// cycles after an explicit disconnect.
	epoch int
}

// New creates an idle channel for the relay at baseURL (e.g.
// "ws://localhost:8080").
func New(baseURL string, cfg config.ChannelConfig) *Channel {
	return &Channel{
		baseURL:     strings.TrimRight(baseURL, "/"),
		dial:        defaultDialer,
		maxAttempts: cfg.MaxReconnectAttempts,
		delay:       cfg.ReconnectDelay,
		state:       StateIdle,
	}
}

// NewWithDialer creates a channel with a custom dialer, used in tests.
func NewWithDialer(baseURL string, cfg config.ChannelConfig, dial Dialer) *Channel {
	c := New(baseURL, cfg)
	c.dial = dial
	return c
}

// OnMessage registers the single event handler. Must be called before
// Connect; events raised with no handler are dropped.
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel for one room membership. Idempotent while a
// connection attempt is pending or open. Room codes are upper-cased
// before use.
func (c *Channel) Connect(ctx context.Context, roomCode, participantID string) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.roomCode = strings.ToUpper(roomCode)
	c.participantID = participantID
	c.attempts = 0
	c.ready = false
	c.terminalSent = false
	epoch := c.epoch
	c.mu.Unlock()

	go c.dialAndRun(ctx, epoch)
}

// Send transmits one control frame. Never a silent drop: if the channel
// is not open the caller gets ErrNotConnected.
func (c *Channel) Send(frame protocol.ClientFrame) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary transmits raw audio bytes. Valid only once the server
// handshake (connected/configured frame) has been observed.
func (c *Channel) SendBinary(payload []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	conn := c.conn
	c.mu.Unlock()

	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Disconnect closes the channel and suppresses any pending
// reconnection. Safe to call from any state, repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.epoch++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	wasActive := c.state != StateIdle
	c.state = StateIdle
	c.attempts = 0
	c.ready = false
	emit := wasActive && !c.terminalSent
	c.terminalSent = true
	c.mu.Unlock()

	if emit {
		c.emit(Event{Kind: EventDisconnected})
	}
}

func (c *Channel) dialAndRun(ctx context.Context, epoch int) {
	url := fmt.Sprintf("%s/ws/rooms/%s?participant=%s", c.baseURL, c.roomCode, c.participantID)
	conn, err := c.dial(ctx, url)

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.handleClose(ctx, epoch, err)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected})
	c.readLoop(ctx, conn, epoch)
}

// readLoop delivers inbound frames in strict arrival order until the
// connection closes. Malformed JSON is logged and dropped, never fatal.
func (c *Channel) readLoop(ctx context.Context, conn Conn, epoch int) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, epoch, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			frame, derr := protocol.DecodeServerFrame(data)
			if derr != nil {
				log.Warn().Err(derr).Msg("Dropping malformed server frame")
				continue
			}
			switch frame.(type) {
			case protocol.Connected, protocol.ConnectionEstablished, protocol.Configured:
				c.mu.Lock()
				if c.epoch == epoch {
					c.ready = true
				}
				c.mu.Unlock()
			}
			c.emit(Event{Kind: EventFrame, Frame: frame})

		case websocket.BinaryMessage:
			c.emit(Event{Kind: EventBinary, Binary: data})
		}
	}
}

// handleClose runs the reconnection policy after a transport close that
// was not an explicit disconnect: bounded attempts at a fixed delay,
// then exactly one terminal disconnect event.
func (c *Channel) handleClose(ctx context.Context, epoch int, cause error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.ready = false

	if c.attempts >= c.maxAttempts {
		c.state = StateIdle
		emit := !c.terminalSent
		c.terminalSent = true
		c.mu.Unlock()

		log.Warn().Err(cause).Int("attempts", c.maxAttempts).Msg("Reconnection exhausted")
		if emit {
			c.emit(Event{Kind: EventDisconnected, Err: cause})
		}
		return
	}

	c.attempts++
	c.state = StateReconnecting
	attempt := c.attempts
	c.mu.Unlock()

	metrics.DefaultMetrics.ChannelReconnects.Inc()

	log.Info().Err(cause).Int("attempt", attempt).Int("max", c.maxAttempts).Msg("Connection lost, reconnecting")
	c.emit(Event{Kind: EventError, Err: cause})

	timer := time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		if c.epoch != epoch || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.dialAndRun(ctx, epoch)
	})

	c.mu.Lock()
	if c.epoch == epoch && c.state == StateReconnecting {
		c.reconnectTimer = timer
	} else {
		timer.Stop()
	}
	c.mu.Unlock()
}

func (c *Channel) emit(e Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(e)
	}
}
