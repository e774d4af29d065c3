package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/session"
)

type createSessionRequest struct {
	SenderName     string `json:"sender_name"`
	SourceLanguage string `json:"source_language"`
}

type joinSessionRequest struct {
	RoomCode       string `json:"room_code"`
	Name           string `json:"name"`
	TargetLanguage string `json:"target_language"`
}

type leaveSessionRequest struct {
	ParticipantID string `json:"participant_id"`
}

type participantView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	TargetLanguage string `json:"target_language,omitempty"`
	IsActive       bool   `json:"is_active"`
}

type sessionView struct {
	RoomCode       string            `json:"room_code"`
	SenderName     string            `json:"sender_name"`
	SourceLanguage string            `json:"source_language"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	Participants   []participantView `json:"participants"`
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{
		RoomCode:       s.RoomCode,
		SenderName:     s.SenderName,
		SourceLanguage: s.SourceLanguage,
		IsActive:       s.IsActive,
		CreatedAt:      s.CreatedAt,
	}
	for _, p := range s.Participants {
		v.Participants = append(v.Participants, participantView{
			ID:             p.ID,
			Name:           p.Name,
			Role:           p.Role,
			TargetLanguage: p.TargetLanguage,
			IsActive:       p.IsActive,
		})
	}
	return v
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, session.ErrParticipantNotFound):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SenderName == "" || req.SourceLanguage == "" {
		respondError(w, http.StatusBadRequest, "sender_name and source_language are required")
		return
	}

	s, sender := a.Sessions.Create(req.SenderName, req.SourceLanguage)
	log.Info().Str("room", s.RoomCode).Str("sender", sender.ID).Msg("Session created")

	respondJSON(w, http.StatusCreated, map[string]any{
		"room_code":      s.RoomCode,
		"participant_id": sender.ID,
		"session":        viewOf(s),
	})
}

func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomCode == "" || req.Name == "" || req.TargetLanguage == "" {
		respondError(w, http.StatusBadRequest, "room_code, name and target_language are required")
		return
	}

	s, p, err := a.Sessions.Join(req.RoomCode, req.Name, req.TargetLanguage)
	if err != nil {
		respondError(w, sessionErrorStatus(err), err.Error())
		return
	}
	log.Info().Str("room", s.RoomCode).Str("participant", p.ID).Msg("Participant joined")

	respondJSON(w, http.StatusOK, map[string]any{
		"room_code":       s.RoomCode,
		"participant_id":  p.ID,
		"source_language": s.SourceLanguage,
		"sender_name":     s.SenderName,
	})
}

func (a *API) leaveSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req leaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ParticipantID == "" {
		respondError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	s, p, err := a.Sessions.Leave(code, req.ParticipantID)
	if err != nil {
		respondError(w, sessionErrorStatus(err), err.Error())
		return
	}

	sessionEnded := !s.IsActive
	a.Relay.NotifyLeave(s.RoomCode, p, sessionEnded)
	log.Info().
		Str("room", s.RoomCode).
		Str("participant", p.ID).
		Bool("sessionEnded", sessionEnded).
		Msg("Participant left")

	respondJSON(w, http.StatusOK, map[string]any{"session_ended": sessionEnded})
}

func (a *API) activeSessions(w http.ResponseWriter, r *http.Request) {
	active := a.Sessions.Active()
	views := make([]sessionView, 0, len(active))
	for _, s := range active {
		views = append(views, viewOf(s))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

func (a *API) sessionDetail(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, sessionErrorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, viewOf(s))
}

func (a *API) sessionMessages(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	history, err := a.Sessions.History(code)
	if err != nil {
		respondError(w, sessionErrorStatus(err), err.Error())
		return
	}

	out := make([]map[string]any, 0, len(history))
	for _, m := range history {
		translations := make(map[string]string, len(m.Translations))
		for lang, t := range m.Translations {
			translations[lang] = t.Text
		}
		out = append(out, map[string]any{
			"message_id":    m.ID,
			"sender_name":   m.SenderName,
			"transcription": m.Transcription,
			"translations":  translations,
			"created_at":    m.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (a *API) messageAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := a.Sessions.MessageAudio(
		chi.URLParam(r, "code"),
		chi.URLParam(r, "messageID"),
		chi.URLParam(r, "lang"),
	)
	if err != nil {
		respondError(w, sessionErrorStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
