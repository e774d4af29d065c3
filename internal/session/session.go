// Package session holds the room/participant/message domain model for
// translation sessions, backed by an in-memory store.
package session

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Participant roles.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Message statuses.
const (
	MessageProcessing = "processing"
	MessageCompleted  = "completed"
	MessageFailed     = "failed"
)

const roomCodeLength = 6

// Room codes avoid lowercase so they survive being read aloud; input is
// upper-cased at every boundary.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Session is a translation room: one sender, any number of receivers.
type Session struct {
	ID             string
	RoomCode       string
	SenderName     string
	SourceLanguage string
	CreatedAt      time.Time
	IsActive       bool
	EndedAt        time.Time

	Participants []*Participant
	Messages     []*Message
}

// Participant is a member of a session.
type Participant struct {
	ID             string
	Name           string
	Role           string
	TargetLanguage string
	JoinedAt       time.Time
	LeftAt         time.Time
	IsActive       bool
}

// Leave marks the participant inactive. Participants are never removed
// while the session lives; history retains them.
func (p *Participant) Leave(now time.Time) {
	p.IsActive = false
	p.LeftAt = now
}

// Translation is one per-language rendering of a message.
type Translation struct {
	TargetLanguage string
	Text           string
	Audio          []byte // synthesized audio, inline
}

// Message is a translation event. Immutable once completed; ordered by
// creation time within a session.
type Message struct {
	ID            string
	SenderID      string
	SenderName    string
	Transcription string
	Translations  map[string]*Translation // keyed by target language
	Status        string
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// NewRoomCode generates a short shareable room code.
func NewRoomCode() string {
	b := make([]byte, roomCodeLength)
	rand.Read(b)
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b)
}

// NewSession creates an active session with its sender participant.
func NewSession(senderName, sourceLanguage string, now time.Time) (*Session, *Participant) {
	sender := &Participant{
		ID:             uuid.NewString(),
		Name:           senderName,
		Role:           RoleSender,
		TargetLanguage: sourceLanguage, // the sender speaks the source language
		JoinedAt:       now,
		IsActive:       true,
	}
	s := &Session{
		ID:             uuid.NewString(),
		RoomCode:       NewRoomCode(),
		SenderName:     senderName,
		SourceLanguage: sourceLanguage,
		CreatedAt:      now,
		IsActive:       true,
		Participants:   []*Participant{sender},
	}
	return s, sender
}

// End marks the session over for everyone.
func (s *Session) End(now time.Time) {
	s.IsActive = false
	s.EndedAt = now
}

// Participant returns the member with the given id, or nil.
func (s *Session) Participant(id string) *Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ActiveReceivers returns currently joined receivers.
func (s *Session) ActiveReceivers() []*Participant {
	var out []*Participant
	for _, p := range s.Participants {
		if p.Role == RoleReceiver && p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

// TargetLanguages returns the distinct target languages of active receivers.
func (s *Session) TargetLanguages() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.ActiveReceivers() {
		if _, ok := seen[p.TargetLanguage]; !ok {
			seen[p.TargetLanguage] = struct{}{}
			out = append(out, p.TargetLanguage)
		}
	}
	return out
}

// CompletedMessages returns completed messages in creation order.
func (s *Session) CompletedMessages() []*Message {
	var out []*Message
	for _, m := range s.Messages {
		if m.Status == MessageCompleted {
			out = append(out, m)
		}
	}
	return out
}
