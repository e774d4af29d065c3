package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/events"
	"github.com/guleriaishita/speech-translation/internal/observability/logging"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/pipeline"
	"github.com/guleriaishita/speech-translation/internal/protocol"
	"github.com/guleriaishita/speech-translation/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay owns the websocket surface of a room: membership events,
// utterance processing, message fan-out, and history replay.
type Relay struct {
	hub        *Hub
	store      *session.Store
	pipeline   *pipeline.Pipeline
	publisher  *events.Publisher
	flushBytes int
	metrics    *metrics.Metrics
}

// New creates a relay over the given session store and pipeline.
func New(cfg config.RelayConfig, store *session.Store, pipe *pipeline.Pipeline, publisher *events.Publisher) *Relay {
	return &Relay{
		hub:        NewHub(cfg),
		store:      store,
		pipeline:   pipe,
		publisher:  publisher,
		flushBytes: cfg.UtteranceFlushBytes,
		metrics:    metrics.DefaultMetrics,
	}
}

// Hub exposes the client registry, used when the HTTP surface needs to
// notify connected participants (e.g. leave via REST).
func (r *Relay) Hub() *Hub {
	return r.hub
}

// ServeRoom upgrades GET /ws/rooms/{code}?participant=ID to a websocket
// and runs the connection until it closes.
func (r *Relay) ServeRoom(w http.ResponseWriter, req *http.Request) {
	code := chi.URLParam(req, "code")
	participantID := req.URL.Query().Get("participant")

	sess, p, err := r.store.Lookup(code, participantID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrSessionEnded) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.WithRoom(sess.RoomCode).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := newClient(r.hub, conn, sess.RoomCode, p.ID, p.Name, p.Role, p.TargetLanguage)
	r.hub.Register(client)
	go client.writePump()

	client.SendFrame(protocol.Connected{
		RoomCode:      sess.RoomCode,
		ParticipantID: p.ID,
		Role:          p.Role,
		Message:       "Connected to room " + sess.RoomCode,
	})
	r.hub.BroadcastExcept(sess.RoomCode, client, protocol.ParticipantJoined{
		ParticipantName: p.Name,
		Role:            p.Role,
	})

	logging.WithParticipant(sess.RoomCode, p.ID, p.Role).Info().Msg("Participant connected")

	r.readLoop(req.Context(), client)
	r.drop(client)
}

// readLoop consumes inbound frames until the connection closes.
// Malformed frames are logged and dropped; they never close the
// connection.
func (r *Relay) readLoop(ctx context.Context, c *Client) {
	var utterance bytes.Buffer
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if c.role != session.RoleSender {
				c.SendFrame(protocol.ErrorFrame{Error: "not_sender", Message: "only the sender may stream audio"})
				continue
			}
			r.metrics.AudioBytesIn.Add(float64(len(data)))
			utterance.Write(data)
			if utterance.Len() >= r.flushBytes {
				audio := make([]byte, utterance.Len())
				copy(audio, utterance.Bytes())
				utterance.Reset()
				go r.processUtterance(ctx, c, audio)
			}

		case websocket.TextMessage:
			frame, err := protocol.DecodeClientFrame(data)
			if err != nil {
				r.metrics.FramesDropped.WithLabelValues("malformed").Inc()
				logging.WithParticipant(c.roomCode, c.participantID, c.role).Warn().Err(err).Msg("Dropping malformed frame")
				continue
			}
			r.handleFrame(ctx, c, frame, &utterance)
		}
	}
}

func (r *Relay) handleFrame(ctx context.Context, c *Client, frame protocol.ClientFrame, utterance *bytes.Buffer) {
	switch f := frame.(type) {
	case protocol.Ping:
		c.SendFrame(protocol.Pong{})

	case protocol.GetHistory:
		r.replayHistory(c)

	case protocol.Configure:
		// A receiver retargets its feed; a sender opts into echo-back
		// of its own utterances in that language. Receiver retargets go
		// through the store so the pipeline renders the new language
		// from the next utterance on.
		if f.TargetLanguage != "" {
			if c.role == session.RoleReceiver {
				if err := r.store.Retarget(c.roomCode, c.participantID, f.TargetLanguage); err != nil {
					c.SendFrame(protocol.ErrorFrame{Error: "session_gone", Message: err.Error()})
					return
				}
			}
			c.setTargetLanguage(f.TargetLanguage)
		}
		c.SendFrame(protocol.Configured{
			SourceLanguage: f.SourceLanguage,
			TargetLanguage: f.TargetLanguage,
			Message:        "Configuration applied",
		})

	case protocol.AudioFile:
		if c.role != session.RoleSender {
			c.SendFrame(protocol.ErrorFrame{Error: "not_sender", Message: "only the sender may send audio"})
			return
		}
		// A one-shot clip also flushes anything already buffered from
		// the streaming path.
		utterance.Reset()
		audio, err := base64.StdEncoding.DecodeString(f.AudioData)
		if err != nil {
			c.SendFrame(protocol.ErrorFrame{Error: "bad_audio", Message: "audio_data is not valid base64"})
			return
		}
		r.metrics.AudioBytesIn.Add(float64(len(audio)))
		go r.processUtterance(ctx, c, audio)
	}
}

// processUtterance runs one complete utterance through the pipeline and
// fans the result out, each receiver in its own target language.
func (r *Relay) processUtterance(ctx context.Context, c *Client, audio []byte) {
	start := time.Now()

	sess, sender, err := r.store.Lookup(c.roomCode, c.participantID)
	if err != nil {
		c.SendFrame(protocol.ErrorFrame{Error: "session_gone", Message: err.Error()})
		return
	}

	r.hub.Broadcast(c.roomCode, protocol.Processing{
		Message:    "Processing audio...",
		SenderName: sender.Name,
	})

	targets := sess.TargetLanguages()
	if echo := c.TargetLanguage(); echo != "" && !slices.Contains(targets, echo) {
		targets = append(targets, echo)
	}
	res, err := r.pipeline.Process(ctx, audio, sess.SourceLanguage, targets)
	if err != nil {
		if m, berr := r.store.BeginMessage(c.roomCode, sender, ""); berr == nil {
			r.store.FailMessage(m, err.Error())
		}
		logging.WithRoom(c.roomCode).Error().Err(err).Msg("Utterance processing failed")
		c.SendFrame(protocol.ErrorFrame{Error: "processing_failed", Message: err.Error()})
		return
	}
	if res.Transcription == "" {
		c.SendFrame(protocol.Info{Message: "No speech detected"})
		return
	}

	m, err := r.store.BeginMessage(c.roomCode, sender, res.Transcription)
	if err != nil {
		c.SendFrame(protocol.ErrorFrame{Error: "session_gone", Message: err.Error()})
		return
	}
	translations := make(map[string]*session.Translation, len(res.Renderings))
	for lang, rend := range res.Renderings {
		translations[lang] = &session.Translation{
			TargetLanguage: lang,
			Text:           rend.Text,
			Audio:          rend.Audio,
		}
	}
	r.store.CompleteMessage(m, translations)

	c.SendFrame(protocol.Transcription{Text: res.Transcription, Language: sess.SourceLanguage})
	if echo := c.TargetLanguage(); echo != "" {
		if rend, ok := res.Renderings[echo]; ok {
			c.SendFrame(protocol.Translation{Text: rend.Text, Language: echo})
			if len(rend.Audio) > 0 {
				c.SendBinary(rend.Audio)
			}
		}
	}
	for _, peer := range r.hub.Clients(c.roomCode) {
		if peer.role != session.RoleReceiver {
			continue
		}
		rend, ok := res.Renderings[peer.TargetLanguage()]
		if !ok {
			// Receiver joined with a language no longer active; fall
			// back to the transcription so they still see the message.
			rend = pipeline.Rendering{Text: res.Transcription}
		}
		peer.SendFrame(protocol.NewMessage{
			MessageID:     m.ID,
			SenderName:    sender.Name,
			Transcription: res.Transcription,
			Translation:   rend.Text,
			Audio:         base64.StdEncoding.EncodeToString(rend.Audio),
			CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		})
	}

	r.metrics.MessagesRelayed.Inc()
	r.metrics.BroadcastLatency.Observe(time.Since(start).Seconds())

	event := &events.MessageEvent{
		RoomCode:      c.roomCode,
		MessageID:     m.ID,
		SenderID:      sender.ID,
		SourceLang:    sess.SourceLanguage,
		Transcription: res.Transcription,
		TargetLangs:   targets,
		CompletedAt:   time.Now().UTC(),
	}
	if err := r.publisher.PublishMessage(ctx, event); err != nil {
		logging.WithRoom(c.roomCode).Error().Err(err).Str("messageId", m.ID).Msg("Failed to publish message event")
	}
}

// replayHistory sends all completed messages of the room to one client,
// oldest first, rendered in that client's target language.
func (r *Relay) replayHistory(c *Client) {
	history, err := r.store.History(c.roomCode)
	if err != nil {
		c.SendFrame(protocol.ErrorFrame{Error: "session_gone", Message: err.Error()})
		return
	}

	lang := c.TargetLanguage()
	for _, m := range history {
		text := m.Transcription
		audioURL := ""
		if t, ok := m.Translations[lang]; ok {
			text = t.Text
			if len(t.Audio) > 0 {
				audioURL = fmt.Sprintf("/api/sessions/%s/messages/%s/audio/%s", c.roomCode, m.ID, lang)
			}
		}
		c.SendFrame(protocol.HistoryMessage{
			MessageID:     m.ID,
			SenderName:    m.SenderName,
			Transcription: m.Transcription,
			Translation:   text,
			AudioURL:      audioURL,
			CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		})
	}
	r.metrics.HistoryReplays.Inc()
}

// drop disconnects a client and tells the room. The participant stays
// active in the store so a reconnect within the session keeps working;
// only an explicit leave retires the membership.
func (r *Relay) drop(c *Client) {
	r.hub.Unregister(c)
	r.hub.Broadcast(c.roomCode, protocol.ParticipantLeft{ParticipantName: c.name})

	logging.WithParticipant(c.roomCode, c.participantID, c.role).Info().Msg("Participant disconnected")
}

// NotifyLeave is called by the HTTP leave endpoint after the store has
// retired the membership. A sender leaving ends the session for everyone
// and closes the room.
func (r *Relay) NotifyLeave(roomCode string, p *session.Participant, sessionEnded bool) {
	r.hub.Broadcast(roomCode, protocol.ParticipantLeft{ParticipantName: p.Name})
	if sessionEnded {
		r.hub.Broadcast(roomCode, protocol.Info{Message: "Session ended by sender"})
		r.hub.CloseRoom(roomCode)
	}
}
