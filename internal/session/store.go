package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store errors.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionEnded        = errors.New("session has ended")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMessageNotFound     = errors.New("message not found")
)

// Store is an in-memory session registry keyed by room code.
// Sessions are not persisted; a relay restart starts empty.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Session
	clock func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Session),
		clock: time.Now,
	}
}

// Active returns the currently active sessions, oldest first.
func (st *Store) Active() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Session
	for _, s := range st.rooms {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Create starts a new session and returns it with its sender participant.
func (st *Store) Create(senderName, sourceLanguage string) (*Session, *Participant) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for {
		s, sender := NewSession(senderName, sourceLanguage, st.clock())
		if _, taken := st.rooms[s.RoomCode]; taken {
			continue // regenerate on room code collision
		}
		st.rooms[s.RoomCode] = s
		return s, sender
	}
}

// Get returns the session for a room code, case-insensitively.
func (st *Store) Get(roomCode string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Join adds a receiver to an active session.
func (st *Store) Join(roomCode, name, targetLanguage string) (*Session, *Participant, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if !s.IsActive {
		return nil, nil, ErrSessionEnded
	}

	p := &Participant{
		ID:             uuid.NewString(),
		Name:           name,
		Role:           RoleReceiver,
		TargetLanguage: targetLanguage,
		JoinedAt:       st.clock(),
		IsActive:       true,
	}
	s.Participants = append(s.Participants, p)
	return s, p, nil
}

// Leave marks a participant as gone. A sender leaving ends the session
// for everyone.
func (st *Store) Leave(roomCode, participantID string) (*Session, *Participant, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	p := s.Participant(participantID)
	if p == nil {
		return nil, nil, ErrParticipantNotFound
	}

	p.Leave(st.clock())
	if p.Role == RoleSender {
		s.End(st.clock())
	}
	return s, p, nil
}

// Retarget changes the target language of an active receiver. Future
// messages render in the new language; already completed messages keep
// the renderings they were produced with.
func (st *Store) Retarget(roomCode, participantID, targetLanguage string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.IsActive {
		return ErrSessionEnded
	}
	p := s.Participant(participantID)
	if p == nil || !p.IsActive || p.Role != RoleReceiver {
		return ErrParticipantNotFound
	}
	p.TargetLanguage = targetLanguage
	return nil
}

// Lookup resolves a participant within a room, requiring both to be active.
func (st *Store) Lookup(roomCode, participantID string) (*Session, *Participant, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if !s.IsActive {
		return nil, nil, ErrSessionEnded
	}
	p := s.Participant(participantID)
	if p == nil || !p.IsActive {
		return nil, nil, ErrParticipantNotFound
	}
	return s, p, nil
}

// BeginMessage records a new in-flight message for a session.
func (st *Store) BeginMessage(roomCode string, sender *Participant, transcription string) (*Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	m := &Message{
		ID:            uuid.NewString(),
		SenderID:      sender.ID,
		SenderName:    sender.Name,
		Transcription: transcription,
		Translations:  make(map[string]*Translation),
		Status:        MessageProcessing,
		CreatedAt:     st.clock(),
	}
	s.Messages = append(s.Messages, m)
	return m, nil
}

// CompleteMessage attaches translations and marks the message done.
func (st *Store) CompleteMessage(m *Message, translations map[string]*Translation) {
	st.mu.Lock()
	defer st.mu.Unlock()

	m.Translations = translations
	m.Status = MessageCompleted
	m.CompletedAt = st.clock()
}

// FailMessage marks the message failed with the given reason.
func (st *Store) FailMessage(m *Message, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	m.Status = MessageFailed
	m.ErrorMessage = reason
}

// MessageAudio returns the synthesized audio for one rendering of a
// completed message, addressed by room, message and target language.
func (st *Store) MessageAudio(roomCode, messageID, lang string) ([]byte, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	for _, m := range s.Messages {
		if m.ID != messageID {
			continue
		}
		if t, ok := m.Translations[lang]; ok && len(t.Audio) > 0 {
			return t.Audio, nil
		}
		return nil, ErrMessageNotFound
	}
	return nil, ErrMessageNotFound
}

// History returns completed messages for a room in creation order.
func (st *Store) History(roomCode string) ([]*Message, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.rooms[strings.ToUpper(roomCode)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.CompletedMessages(), nil
}
