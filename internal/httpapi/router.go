// Package httpapi exposes the session and upload management surface:
// room creation and membership over REST, plus the asynchronous
// upload-and-translate job endpoints consumed by the polling client.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/job"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/relay"
	"github.com/guleriaishita/speech-translation/internal/session"
)

// API bundles the dependencies of the HTTP surface.
type API struct {
	Upload   config.UploadConfig
	Sessions *session.Store
	Jobs     *job.Store
	Runner   *job.Runner
	Relay    *relay.Relay

	metrics *metrics.Metrics
}

// NewRouter constructs the HTTP router for the relay service.
func NewRouter(api *API) http.Handler {
	api.metrics = metrics.DefaultMetrics

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/create", api.createSession)
		r.Post("/join", api.joinSession)
		r.Get("/active", api.activeSessions)
		r.Get("/{code}", api.sessionDetail)
		r.Post("/{code}/leave", api.leaveSession)
		r.Get("/{code}/messages", api.sessionMessages)
		r.Get("/{code}/messages/{messageID}/audio/{lang}", api.messageAudio)
	})

	r.Route("/api/audio", func(r chi.Router) {
		r.Post("/upload", api.uploadAudio)
		r.Get("/status/{jobID}", api.jobStatus)
		r.Get("/detail/{jobID}", api.jobDetail)
		r.Get("/download/{resultID}", api.downloadResult)
	})

	r.Get("/ws/rooms/{code}", api.Relay.ServeRoom)

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
