package upload

import (
	"github.com/rs/zerolog/log"
)

// Tracker applies the client-side job rules over repeated polls:
// progress never regresses (a server reporting the same or a lower
// value is tolerated, logged, and ignored) and a terminal state is
// registered exactly once, after which polling must stop.
type Tracker struct {
	jobID    string
	progress int
	terminal bool
}

// NewTracker starts tracking one job handle.
func NewTracker(jobID string) *Tracker {
	return &Tracker{jobID: jobID}
}

// Observe folds one poll result in and reports whether polling is done.
// Calls after the terminal observation are no-ops that stay done.
func (t *Tracker) Observe(s Status) bool {
	if t.terminal {
		return true
	}

	if s.Progress < t.progress {
		log.Warn().
			Str("jobId", t.jobID).
			Int("reported", s.Progress).
			Int("current", t.progress).
			Msg("Server reported a progress regression")
	} else {
		t.progress = s.Progress
	}

	if s.State.IsTerminal() {
		t.terminal = true
		return true
	}
	return false
}

// Progress returns the highest progress observed so far.
func (t *Tracker) Progress() int {
	return t.progress
}

// Done reports whether a terminal state has been observed.
func (t *Tracker) Done() bool {
	return t.terminal
}
