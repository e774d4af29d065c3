package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/protocol"
)

type fakeMsg struct {
	messageType int
	data        []byte
}

// fakeConn is a scriptable connection: the test feeds inbound messages
// and closes it to simulate a transport drop.
type fakeConn struct {
	in     chan fakeMsg
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []fakeMsg
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan fakeMsg, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		return m.messageType, m.data, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, fakeMsg{messageType, data})
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) deliverFrame(t *testing.T, frame protocol.ServerFrame) {
	t.Helper()
	data, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f.in <- fakeMsg{websocket.TextMessage, data}
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	// script returns the conn (or error) for the nth dial, 0-based.
	script func(n int) (*fakeConn, error)
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	n := d.calls
	d.calls++
	d.mu.Unlock()
	conn, err := d.script(n)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testChannelConfig() config.ChannelConfig {
	return config.ChannelConfig{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Millisecond,
	}
}

// newTestChannel wires a channel to a scripted dialer and collects all
// events on a buffered channel.
func newTestChannel(cfg config.ChannelConfig, script func(n int) (*fakeConn, error)) (*Channel, *fakeDialer, chan Event) {
	d := &fakeDialer{script: script}
	ch := NewWithDialer("ws://relay.test", cfg, d.dial)
	events := make(chan Event, 64)
	ch.OnMessage(func(e Event) { events <- e })
	return ch, d, events
}

func waitEvent(t *testing.T, events chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestChannel_ConnectEmitsSyntheticConnected(t *testing.T) {
	conn := newFakeConn()
	ch, d, events := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return conn, nil
	})

	ch.Connect(context.Background(), "abc234", "p1")
	waitEvent(t, events, EventConnected)

	if ch.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", ch.State())
	}
	if d.dialCount() != 1 {
		t.Errorf("expected one dial, got %d", d.dialCount())
	}

	// Connect is idempotent while open
	ch.Connect(context.Background(), "abc234", "p1")
	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("second Connect must not dial again, got %d dials", d.dialCount())
	}
	ch.Disconnect()
}

func TestChannel_SendRequiresOpen(t *testing.T) {
	ch, _, _ := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return newFakeConn(), nil
	})

	if err := ch.Send(protocol.Ping{}); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected while idle, got %v", err)
	}
	if err := ch.SendBinary([]byte("audio")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected for binary while idle, got %v", err)
	}
}

func TestChannel_BinaryGatedOnHandshake(t *testing.T) {
	conn := newFakeConn()
	ch, _, events := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return conn, nil
	})

	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventConnected)

	// Socket is open but the server has not acknowledged yet
	if err := ch.SendBinary([]byte("audio")); err != ErrNotReady {
		t.Errorf("expected ErrNotReady before handshake, got %v", err)
	}
	// Control frames are allowed as soon as the socket opens
	if err := ch.Send(protocol.Ping{}); err != nil {
		t.Errorf("text send should work while open: %v", err)
	}

	conn.deliverFrame(t, protocol.Connected{RoomCode: "ABC234", ParticipantID: "p1", Role: "sender"})
	waitEvent(t, events, EventFrame)

	if err := ch.SendBinary([]byte("audio")); err != nil {
		t.Errorf("binary send should work after handshake: %v", err)
	}
	if conn.writeCount() != 2 {
		t.Errorf("expected 2 writes, got %d", conn.writeCount())
	}
	ch.Disconnect()
}

func TestChannel_MalformedFrameDropped(t *testing.T) {
	conn := newFakeConn()
	ch, _, events := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return conn, nil
	})

	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventConnected)

	conn.in <- fakeMsg{websocket.TextMessage, []byte("{not json at all")}
	conn.in <- fakeMsg{websocket.TextMessage, []byte(`{"no_type": true}`)}
	conn.deliverFrame(t, protocol.Info{Message: "still alive"})

	e := waitEvent(t, events, EventFrame)
	if info, ok := e.Frame.(protocol.Info); !ok || info.Message != "still alive" {
		t.Errorf("expected the valid frame after malformed ones, got %+v", e.Frame)
	}
	if ch.State() != StateOpen {
		t.Errorf("malformed frames must not close the channel, state %v", ch.State())
	}
	ch.Disconnect()
}

func TestChannel_ReconnectExhaustion(t *testing.T) {
	cfg := testChannelConfig()
	ch, d, events := newTestChannel(cfg, func(n int) (*fakeConn, error) {
		return nil, errors.New("connection refused")
	})

	start := time.Now()
	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventDisconnected)
	elapsed := time.Since(start)

	// Initial dial plus exactly maxAttempts reconnects, never a 6th
	if got := d.dialCount(); got != cfg.MaxReconnectAttempts+1 {
		t.Errorf("expected %d dials, got %d", cfg.MaxReconnectAttempts+1, got)
	}
	if ch.State() != StateIdle {
		t.Errorf("expected StateIdle after exhaustion, got %v", ch.State())
	}
	if elapsed > time.Duration(cfg.MaxReconnectAttempts+2)*cfg.ReconnectDelay+time.Second {
		t.Errorf("exhaustion took too long: %v", elapsed)
	}

	// Exactly one terminal event
	time.Sleep(5 * cfg.ReconnectDelay)
	for {
		select {
		case e := <-events:
			if e.Kind == EventDisconnected {
				t.Fatal("second terminal disconnect event emitted")
			}
		default:
			return
		}
	}
}

func TestChannel_ReopenResetsAttempts(t *testing.T) {
	cfg := testChannelConfig()
	cfg.MaxReconnectAttempts = 2

	var conns []*fakeConn
	var mu sync.Mutex
	ch, _, events := newTestChannel(cfg, func(n int) (*fakeConn, error) {
		// Fail the first reconnect, then succeed
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		c := newFakeConn()
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	})

	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventConnected)

	// Drop the first connection; dial 1 fails, dial 2 succeeds
	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.Close()
	waitEvent(t, events, EventConnected)

	if ch.State() != StateOpen {
		t.Fatalf("expected StateOpen after reconnect, got %v", ch.State())
	}
	ch.mu.Lock()
	attempts := ch.attempts
	ch.mu.Unlock()
	if attempts != 0 {
		t.Errorf("expected attempt counter reset after reopen, got %d", attempts)
	}
	ch.Disconnect()
}

func TestChannel_DisconnectSuppressesReconnect(t *testing.T) {
	conn := newFakeConn()
	ch, d, events := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return conn, nil
	})

	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventConnected)

	ch.Disconnect()
	waitEvent(t, events, EventDisconnected)

	if ch.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", ch.State())
	}

	// The closed conn must not trigger a reconnect dial
	time.Sleep(10 * testChannelConfig().ReconnectDelay)
	if d.dialCount() != 1 {
		t.Errorf("reconnect after explicit disconnect: %d dials", d.dialCount())
	}

	// Disconnect is safe to repeat from Idle
	ch.Disconnect()
	ch.Disconnect()
}

func TestChannel_DisconnectFromIdleIsQuiet(t *testing.T) {
	ch, _, events := newTestChannel(testChannelConfig(), func(n int) (*fakeConn, error) {
		return newFakeConn(), nil
	})

	ch.Disconnect()

	select {
	case e := <-events:
		t.Errorf("unexpected event %+v from idle disconnect", e)
	default:
	}
}

func TestChannel_TransportErrorEmitsErrorEvent(t *testing.T) {
	cfg := testChannelConfig()
	connCount := 0
	var mu sync.Mutex
	ch, _, events := newTestChannel(cfg, func(n int) (*fakeConn, error) {
		mu.Lock()
		connCount++
		mu.Unlock()
		return newFakeConn(), nil
	})

	ch.Connect(context.Background(), "ABC234", "p1")
	waitEvent(t, events, EventConnected)

	// Simulate the relay closing on us; an error event precedes the
	// reconnect, not a terminal disconnect
	ch.mu.Lock()
	conn := ch.conn.(*fakeConn)
	ch.mu.Unlock()
	conn.Close()

	e := waitEvent(t, events, EventError)
	if e.Err == nil {
		t.Error("expected the close cause on the error event")
	}
	waitEvent(t, events, EventConnected)
	ch.Disconnect()
}

func TestChannel_ReconnectAttemptsCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.DefaultMetrics.ChannelReconnects)

	dialer := &fakeDialer{script: func(n int) (*fakeConn, error) {
		return nil, errors.New("refused")
	}}
	cfg := config.ChannelConfig{MaxReconnectAttempts: 2, ReconnectDelay: time.Millisecond}
	ch := NewWithDialer("ws://relay", cfg, dialer.dial)

	done := make(chan struct{})
	ch.OnMessage(func(e Event) {
		if e.Kind == EventDisconnected {
			close(done)
		}
	})
	ch.Connect(context.Background(), "ROOM01", "p1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal disconnect")
	}

	got := testutil.ToFloat64(metrics.DefaultMetrics.ChannelReconnects) - before
	if got != 2 {
		t.Errorf("expected 2 reconnect attempts counted, got %v", got)
	}
}
