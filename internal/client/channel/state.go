// Package channel implements the client side of the room websocket: one
// bidirectional connection carrying JSON control frames and binary audio,
// with a bounded reconnection policy.
package channel

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of the transport channel.
type State int

const (
	// StateIdle - No connection and none pending.
	StateIdle State = iota
	// StateConnecting - Dial in flight.
	StateConnecting
	// StateOpen - Connected; frames flow.
	StateOpen
	// StateReconnecting - Waiting out the delay before the next dial.
	StateReconnecting
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors callers see on misuse of the channel.
var (
	// ErrNotConnected - a send was attempted while the channel is not open.
	// Writes are never silently dropped.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrNotReady - a binary send was attempted before the server handshake.
	ErrNotReady = errors.New("server handshake not complete")
)
