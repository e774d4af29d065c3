// Package job tracks asynchronous upload-and-translate work through a
// discrete lifecycle with monotonic progress.
package job

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a job.
type State int

const (
	// StateSubmitted - Job accepted, not yet picked up by a worker.
	StateSubmitted State = iota
	// StateRunning - Job is being processed, progress advances.
	StateRunning
	// StateSucceeded - Job finished with a result. Terminal.
	StateSucceeded
	// StateFailed - Job finished with an error. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "SUBMITTED"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (SUCCEEDED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ParseState maps a wire-format state name back to a State.
func ParseState(name string) (State, error) {
	switch name {
	case "SUBMITTED":
		return StateSubmitted, nil
	case "RUNNING":
		return StateRunning, nil
	case "SUCCEEDED":
		return StateSucceeded, nil
	case "FAILED":
		return StateFailed, nil
	default:
		return 0, fmt.Errorf("unknown job state %q", name)
	}
}

// Errors for invalid state transitions.
var (
	ErrJobTerminal = errors.New("job is in a terminal state")
	ErrNotRunning  = errors.New("job is not running")
	ErrJobNotFound = errors.New("job not found")
)
