// Package logging derives contextual zerolog sub-loggers. The
// process-wide logger itself is bootstrapped by internal/app during
// startup; these helpers only attach context to it.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) *zerolog.Logger {
	l := log.With().
		Str("component", component).
		Logger()
	return &l
}

// WithRoom returns a logger with room context.
func WithRoom(roomCode string) *zerolog.Logger {
	l := log.With().
		Str("roomCode", roomCode).
		Logger()
	return &l
}

// WithParticipant returns a logger with participant context.
func WithParticipant(roomCode, participantID, role string) *zerolog.Logger {
	l := log.With().
		Str("roomCode", roomCode).
		Str("participantId", participantID).
		Str("role", role).
		Logger()
	return &l
}

// WithJob returns a logger with job context.
func WithJob(jobID, uploadID string) *zerolog.Logger {
	l := log.With().
		Str("jobId", jobID).
		Str("uploadId", uploadID).
		Logger()
	return &l
}
