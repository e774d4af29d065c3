// Package playback schedules decoded audio segments for gapless,
// non-overlapping output on an audio device.
package playback

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// Segment is one decoded, independently playable unit of audio with a
// known duration. It exists only inside the scheduler queue and is
// consumed exactly once.
type Segment struct {
	Data     []byte
	Duration time.Duration
}

var errNotWAV = errors.New("payload is not a valid WAV stream")

// decodeSegment parses a WAV container and derives its duration. The
// raw bytes are kept as-is for the device to play.
func decodeSegment(raw []byte) (Segment, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	d.ReadInfo()
	if !d.IsValidFile() {
		return Segment{}, errNotWAV
	}
	dur, err := d.Duration()
	if err != nil {
		return Segment{}, fmt.Errorf("derive duration: %w", err)
	}
	if dur <= 0 {
		return Segment{}, errNotWAV
	}
	return Segment{Data: raw, Duration: dur}, nil
}
