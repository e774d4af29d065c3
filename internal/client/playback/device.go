package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Device is the audio output. One device serves one playback session;
// only the scheduler writes scheduling commands to it.
type Device interface {
	// Acquire readies the output. Idempotent.
	Acquire() error
	// Now is the device clock, monotonic from Acquire.
	Now() time.Duration
	// Schedule plays one segment starting at the given device time and
	// calls done when it finishes. Never blocks the caller.
	Schedule(seg Segment, at time.Duration, done func()) error
	// Stop cancels any in-flight playback immediately.
	Stop()
	// Release tears the output down. Safe after Stop, idempotent.
	Release()
}

// ErrDeviceUnavailable distinguishes an unusable output device from
// transport faults; remediation differs (player install vs connectivity).
var ErrDeviceUnavailable = errors.New("audio output device unavailable")

// ExecDevice plays segments by piping them to an external player
// process, e.g. "aplay -q".
type ExecDevice struct {
	argv []string

	mu       sync.Mutex
	acquired bool
	start    time.Time
	cancel   context.CancelFunc
}

// NewExecDevice creates a device around the given player command line.
func NewExecDevice(command string) *ExecDevice {
	return &ExecDevice{argv: strings.Fields(command)}
}

// Acquire verifies the player binary exists and starts the device clock.
func (d *ExecDevice) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acquired {
		return nil
	}
	if len(d.argv) == 0 {
		return fmt.Errorf("%w: no player command configured", ErrDeviceUnavailable)
	}
	if _, err := exec.LookPath(d.argv[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	d.acquired = true
	d.start = time.Now()
	return nil
}

// Now returns the device clock.
func (d *ExecDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquired {
		return 0
	}
	return time.Since(d.start)
}

// Schedule waits until the target device time, then runs the player
// with the segment on stdin. done fires when the player exits.
func (d *ExecDevice) Schedule(seg Segment, at time.Duration, done func()) error {
	d.mu.Lock()
	if !d.acquired {
		d.mu.Unlock()
		return ErrDeviceUnavailable
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	start := d.start
	d.mu.Unlock()

	go func() {
		defer done()

		if wait := at - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}

		cmd := exec.CommandContext(ctx, d.argv[0], d.argv[1:]...)
		cmd.Stdin = bytes.NewReader(seg.Data)
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Player exited with error")
		}
	}()
	return nil
}

// Stop cancels the in-flight segment, if any.
func (d *ExecDevice) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Release stops playback and resets the device.
func (d *ExecDevice) Release() {
	d.Stop()
	d.mu.Lock()
	d.acquired = false
	d.mu.Unlock()
}
