// Package protocol defines the websocket wire contract between relay and
// participants: JSON text frames tagged by a "type" discriminator, one closed
// variant set per direction. Binary frames carry raw audio and are not
// represented here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client→server frame types.
const (
	TypeConfigure  = "configure"
	TypeAudioFile  = "audio_file"
	TypeGetHistory = "get_history"
	TypePing       = "ping"
)

// Server→client frame types.
const (
	TypeConnected             = "connected"
	TypeConnectionEstablished = "connection_established"
	TypeConfigured            = "configured"
	TypePong                  = "pong"
	TypeTranscription         = "transcription"
	TypeTranslation           = "translation"
	TypeProcessing            = "processing"
	TypeInfo                  = "info"
	TypeError                 = "error"
	TypeParticipantJoined     = "participant_joined"
	TypeParticipantLeft       = "participant_left"
	TypeNewMessage            = "new_message"
	TypeHistoryMessage        = "history_message"
)

// Decode errors.
var (
	ErrUnknownType  = errors.New("unknown frame type")
	ErrMissingType  = errors.New("frame missing type discriminator")
	ErrMissingField = errors.New("frame missing required field")
)

// ClientFrame is the closed set of frames a participant may send.
type ClientFrame interface {
	FrameType() string
	clientFrame()
}

// ServerFrame is the closed set of frames the relay may send.
type ServerFrame interface {
	FrameType() string
	serverFrame()
}

// Configure negotiates language parameters for an ad-hoc connection.
type Configure struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// AudioFile carries a one-shot recorded clip, base64-encoded.
type AudioFile struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data"`
}

// GetHistory requests replay of prior messages in the room.
type GetHistory struct {
	Type string `json:"type"`
}

// Ping is a keepalive probe.
type Ping struct {
	Type string `json:"type"`
}

func (Configure) FrameType() string  { return TypeConfigure }
func (AudioFile) FrameType() string  { return TypeAudioFile }
func (GetHistory) FrameType() string { return TypeGetHistory }
func (Ping) FrameType() string       { return TypePing }

func (Configure) clientFrame()  {}
func (AudioFile) clientFrame()  {}
func (GetHistory) clientFrame() {}
func (Ping) clientFrame()       {}

// Connected acknowledges a room membership (session mode).
type Connected struct {
	Type          string `json:"type"`
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Message       string `json:"message"`
}

// ConnectionEstablished acknowledges an ad-hoc connection.
type ConnectionEstablished struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
}

// Configured acknowledges applied language configuration.
type Configured struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Message        string `json:"message"`
}

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
}

// Transcription carries incremental source-language text.
type Transcription struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Translation carries incremental target-language text.
type Translation struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Processing signals that an utterance is being worked on.
type Processing struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	SenderName string `json:"sender_name,omitempty"`
}

// Info carries a non-fatal notice, e.g. "no speech detected".
type Info struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorFrame reports a fault without closing the connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ParticipantJoined announces a room membership change.
type ParticipantJoined struct {
	Type            string `json:"type"`
	ParticipantName string `json:"participant_name"`
	Role            string `json:"role"`
}

// ParticipantLeft announces a departure.
type ParticipantLeft struct {
	Type            string `json:"type"`
	ParticipantName string `json:"participant_name"`
}

// NewMessage delivers a just-produced translated message.
type NewMessage struct {
	Type          string `json:"type"`
	MessageID     string `json:"message_id"`
	SenderName    string `json:"sender_name"`
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
	Audio         string `json:"audio,omitempty"` // base64 synthesized audio
	CreatedAt     string `json:"created_at"`
}

// HistoryMessage replays a previously completed message.
type HistoryMessage struct {
	Type          string `json:"type"`
	MessageID     string `json:"message_id"`
	SenderName    string `json:"sender_name"`
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
	AudioURL      string `json:"audio_url,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (Connected) FrameType() string             { return TypeConnected }
func (ConnectionEstablished) FrameType() string { return TypeConnectionEstablished }
func (Configured) FrameType() string            { return TypeConfigured }
func (Pong) FrameType() string                  { return TypePong }
func (Transcription) FrameType() string         { return TypeTranscription }
func (Translation) FrameType() string           { return TypeTranslation }
func (Processing) FrameType() string            { return TypeProcessing }
func (Info) FrameType() string                  { return TypeInfo }
func (ErrorFrame) FrameType() string            { return TypeError }
func (ParticipantJoined) FrameType() string     { return TypeParticipantJoined }
func (ParticipantLeft) FrameType() string       { return TypeParticipantLeft }
func (NewMessage) FrameType() string            { return TypeNewMessage }
func (HistoryMessage) FrameType() string        { return TypeHistoryMessage }

func (Connected) serverFrame()             {}
func (ConnectionEstablished) serverFrame() {}
func (Configured) serverFrame()            {}
func (Pong) serverFrame()                  {}
func (Transcription) serverFrame()         {}
func (Translation) serverFrame()           {}
func (Processing) serverFrame()            {}
func (Info) serverFrame()                  {}
func (ErrorFrame) serverFrame()            {}
func (ParticipantJoined) serverFrame()     {}
func (ParticipantLeft) serverFrame()       {}
func (NewMessage) serverFrame()            {}
func (HistoryMessage) serverFrame()        {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeClientFrame parses a client→server text frame. Unknown tags return
// ErrUnknownType so the caller can log and drop without closing.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeConfigure:
		var f Configure
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.SourceLanguage == "" || f.TargetLanguage == "" {
			return nil, fmt.Errorf("%w: configure requires source_language and target_language", ErrMissingField)
		}
		return f, nil
	case TypeAudioFile:
		var f AudioFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.AudioData == "" {
			return nil, fmt.Errorf("%w: audio_file requires audio_data", ErrMissingField)
		}
		return f, nil
	case TypeGetHistory:
		return GetHistory{Type: TypeGetHistory}, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeServerFrame parses a server→client text frame.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	var (
		frame ServerFrame
		err   error
	)
	switch env.Type {
	case TypeConnected:
		frame, err = decodeAs[Connected](data)
	case TypeConnectionEstablished:
		frame, err = decodeAs[ConnectionEstablished](data)
	case TypeConfigured:
		frame, err = decodeAs[Configured](data)
	case TypePong:
		frame, err = decodeAs[Pong](data)
	case TypeTranscription:
		frame, err = decodeAs[Transcription](data)
	case TypeTranslation:
		frame, err = decodeAs[Translation](data)
	case TypeProcessing:
		frame, err = decodeAs[Processing](data)
	case TypeInfo:
		frame, err = decodeAs[Info](data)
	case TypeError:
		frame, err = decodeAs[ErrorFrame](data)
	case TypeParticipantJoined:
		frame, err = decodeAs[ParticipantJoined](data)
	case TypeParticipantLeft:
		frame, err = decodeAs[ParticipantLeft](data)
	case TypeNewMessage:
		frame, err = decodeAs[NewMessage](data)
	case TypeHistoryMessage:
		frame, err = decodeAs[HistoryMessage](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return frame, err
}

func decodeAs[T ServerFrame](data []byte) (ServerFrame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// Encode marshals a frame, filling in its type tag from FrameType.
func Encode(f interface {
	FrameType() string
}) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	// Re-tag: the Type field may be zero when the frame was built as a
	// struct literal without it.
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["type"] = f.FrameType()
	return json.Marshal(m)
}
