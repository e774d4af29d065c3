package job

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/events"
	"github.com/guleriaishita/speech-translation/internal/observability/logging"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
	"github.com/guleriaishita/speech-translation/internal/pipeline"
)

// Runner executes the processing stages for one job: transcribe,
// translate, synthesize. Progress checkpoints advance between stages so
// pollers see movement on long files.
type Runner struct {
	stt       pipeline.Transcriber
	mt        pipeline.Translator
	tts       pipeline.Synthesizer
	store     *Store
	publisher *events.Publisher
	metrics   *metrics.Metrics
}

// NewRunner creates a runner over the given inference adapters.
func NewRunner(stt pipeline.Transcriber, mt pipeline.Translator, tts pipeline.Synthesizer, store *Store, publisher *events.Publisher) *Runner {
	return &Runner{
		stt:       stt,
		mt:        mt,
		tts:       tts,
		store:     store,
		publisher: publisher,
		metrics:   metrics.DefaultMetrics,
	}
}

// Run processes the job to a terminal state. Intended to be launched in
// its own goroutine per job; all failures end in Fail, never a panic or
// a job stuck mid-run.
func (r *Runner) Run(ctx context.Context, j *Job, audio []byte) {
	start := time.Now()
	logger := logging.WithJob(j.ID, j.UploadID)

	if err := j.Start("Processing started"); err != nil {
		logger.Error().Err(err).Msg("Job not startable")
		return
	}
	j.SetProgress(10, "Validating audio")

	j.SetProgress(25, "Transcribing audio")
	transcription, err := r.stt.Transcribe(ctx, audio, j.SourceLang)
	if err != nil {
		r.fail(ctx, j, "Transcription failed: "+err.Error(), start)
		return
	}
	if transcription == "" {
		r.fail(ctx, j, "No speech detected in the uploaded audio", start)
		return
	}
	j.SetProgress(50, "Transcription complete")

	j.SetProgress(60, "Translating text")
	translation, err := r.mt.Translate(ctx, transcription, j.SourceLang, j.TargetLang)
	if err != nil {
		r.fail(ctx, j, "Translation failed: "+err.Error(), start)
		return
	}
	j.SetProgress(75, "Translation complete")

	j.SetProgress(90, "Synthesizing speech")
	output, err := r.tts.Synthesize(ctx, translation, j.TargetLang)
	if err != nil {
		r.fail(ctx, j, "Speech synthesis failed: "+err.Error(), start)
		return
	}

	resultID := r.store.SaveResult(output)
	if err := j.Succeed(transcription, translation, resultID); err != nil {
		logger.Error().Err(err).Msg("Could not finalize job")
		return
	}

	logger.Info().
		Str("resultId", resultID).
		Dur("elapsed", time.Since(start)).
		Msg("Job succeeded")
	r.finish(ctx, j, start)
}

func (r *Runner) fail(ctx context.Context, j *Job, message string, start time.Time) {
	if err := j.Fail(message); err != nil {
		return
	}
	logging.WithJob(j.ID, j.UploadID).Warn().Str("reason", message).Msg("Job failed")
	r.finish(ctx, j, start)
}

func (r *Runner) finish(ctx context.Context, j *Job, start time.Time) {
	snap := j.Snapshot()
	r.metrics.JobsCompleted.WithLabelValues(snap.StateName).Inc()
	r.metrics.JobDuration.Observe(time.Since(start).Seconds())

	event := &events.JobEvent{
		JobID:       j.ID,
		State:       snap.StateName,
		Filename:    j.Filename,
		SourceLang:  j.SourceLang,
		TargetLang:  j.TargetLang,
		Error:       snap.Error,
		CompletedAt: time.Now().UTC(),
	}
	if err := r.publisher.PublishJob(ctx, event); err != nil {
		log.Error().Err(err).Str("jobId", j.ID).Msg("Failed to publish job event")
	}
}
