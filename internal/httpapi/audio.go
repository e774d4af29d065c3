package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/job"
)

// uploadAudio accepts a multipart upload and starts an asynchronous
// translation job. The same extension and size limits the client checks
// locally are enforced again here; a client that skipped validation gets
// a 4xx, never a stuck job.
func (a *API) uploadAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(a.Upload.MaxFileBytes + 1<<20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	sourceLang := r.FormValue("source_language")
	targetLang := r.FormValue("target_language")
	if sourceLang == "" || targetLang == "" {
		respondError(w, http.StatusBadRequest, "source_language and target_language are required")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !a.extAllowed(ext) {
		respondError(w, http.StatusBadRequest, "unsupported file extension "+ext)
		return
	}
	if header.Size > a.Upload.MaxFileBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}

	audio, err := io.ReadAll(io.LimitReader(file, a.Upload.MaxFileBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(audio)) > a.Upload.MaxFileBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}

	j := a.Jobs.Create(header.Filename, sourceLang, targetLang)
	a.metrics.JobsSubmitted.Inc()
	log.Info().
		Str("jobId", j.ID).
		Str("filename", header.Filename).
		Int("bytes", len(audio)).
		Msg("Upload accepted")

	// The job outlives the request.
	go a.Runner.Run(context.Background(), j, audio)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"state":  j.State().String(),
	})
}

func (a *API) extAllowed(ext string) bool {
	for _, allowed := range a.Upload.AllowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (a *API) jobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := a.Jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, j.Snapshot())
}

// jobDetail returns the upload metadata alongside the current status,
// for callers that want more than the polling snapshot.
func (a *API) jobDetail(w http.ResponseWriter, r *http.Request) {
	j, err := a.Jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"job_id":          j.ID,
		"filename":        j.Filename,
		"source_language": j.SourceLang,
		"target_language": j.TargetLang,
		"created_at":      j.CreatedAt,
		"status":          j.Snapshot(),
	})
}

func (a *API) downloadResult(w http.ResponseWriter, r *http.Request) {
	audio, err := a.Jobs.Result(chi.URLParam(r, "resultID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "result not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="translated.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
