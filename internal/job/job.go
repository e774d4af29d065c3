package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guleriaishita/speech-translation/internal/observability/logging"
)

// Job is one upload-and-translate unit of work.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	SUBMITTED → RUNNING → SUCCEEDED
//	                 └──→ FAILED
//
// Rules:
//   - SUBMITTED: waiting for a worker; progress is 0
//   - RUNNING: progress is monotonically non-decreasing; a reported
//     regression is logged and ignored, never applied
//   - SUCCEEDED / FAILED: immutable, no further transitions
type Job struct {
	ID         string
	UploadID   string
	Filename   string
	SourceLang string
	TargetLang string
	CreatedAt  time.Time

	mu         sync.RWMutex
	state      State
	progress   int
	statusText string

	transcription string
	translation   string
	resultID      string
	errMessage    string
	completedAt   time.Time
}

// Status is a point-in-time snapshot of a job, safe to serialize.
type Status struct {
	JobID         string    `json:"job_id"`
	State         State     `json:"-"`
	StateName     string    `json:"state"`
	Progress      int       `json:"progress"`
	StatusText    string    `json:"status_text"`
	Transcription string    `json:"transcription,omitempty"`
	Translation   string    `json:"translation,omitempty"`
	ResultID      string    `json:"result_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// New creates a job in SUBMITTED state.
func New(uploadID, filename, sourceLang, targetLang string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		UploadID:   uploadID,
		Filename:   filename,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		CreatedAt:  time.Now().UTC(),
		state:      StateSubmitted,
		statusText: "Queued",
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Start transitions the job to RUNNING. Calling Start on an already
// running job is a no-op.
func (j *Job) Start(statusText string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case StateSubmitted:
		j.state = StateRunning
		j.statusText = statusText
		return nil
	case StateRunning:
		return nil
	default:
		return ErrJobTerminal
	}
}

// SetProgress records a progress checkpoint. Progress never moves
// backwards: a regression is logged and dropped, matching the tolerance
// the polling side needs for a server reporting the same value twice.
func (j *Job) SetProgress(progress int, statusText string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobTerminal
	}
	if j.state != StateRunning {
		return ErrNotRunning
	}
	if progress < j.progress {
		logging.WithJob(j.ID, j.UploadID).Warn().
			Int("reported", progress).
			Int("current", j.progress).
			Msg("Ignoring progress regression")
		j.statusText = statusText
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	j.progress = progress
	j.statusText = statusText
	return nil
}

// Succeed transitions the job to SUCCEEDED with its results.
// The result ID references the stored output audio.
func (j *Job) Succeed(transcription, translation, resultID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobTerminal
	}
	j.state = StateSucceeded
	j.progress = 100
	j.statusText = "Completed"
	j.transcription = transcription
	j.translation = translation
	j.resultID = resultID
	j.completedAt = time.Now().UTC()
	return nil
}

// Fail transitions the job to FAILED with the server-side error message.
func (j *Job) Fail(message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobTerminal
	}
	j.state = StateFailed
	j.statusText = "Failed"
	j.errMessage = message
	j.completedAt = time.Now().UTC()
	return nil
}

// Snapshot returns the current status of the job.
func (j *Job) Snapshot() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return Status{
		JobID:         j.ID,
		State:         j.state,
		StateName:     j.state.String(),
		Progress:      j.progress,
		StatusText:    j.statusText,
		Transcription: j.transcription,
		Translation:   j.translation,
		ResultID:      j.resultID,
		Error:         j.errMessage,
		CreatedAt:     j.CreatedAt,
	}
}
