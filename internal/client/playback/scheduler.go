package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
)

// ErrNotInitialized - Enqueue was called before a successful Init.
var ErrNotInitialized = errors.New("playback scheduler not initialized")

// Scheduler plays segments back-to-back with no gap and no overlap.
//
// Gapless rule: each dequeued segment starts at
// max(deviceClock, nextStartTime) and nextStartTime advances by the
// segment duration. A segment arriving after its slot has passed starts
// immediately at the current clock; the resulting gap is correct
// behavior, not drift to compensate for.
type Scheduler struct {
	device Device

	mu            sync.Mutex
	initialized   bool
	queue         []Segment
	playing       bool
	nextStartTime time.Duration
	// generation invalidates done callbacks from segments scheduled
	// before a Clear.
	generation int
}

// NewScheduler creates a scheduler over the given device. The device is
// owned by this scheduler for its lifetime.
func NewScheduler(device Device) *Scheduler {
	return &Scheduler{device: device}
}

// Init acquires the output device. Idempotent; must succeed before any
// Enqueue.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.device.Acquire(); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// Enqueue decodes one container payload and appends it to the queue,
// starting playback if idle. A decode failure drops only that payload;
// queued segments are unaffected and the error is returned for logging.
func (s *Scheduler) Enqueue(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	seg, err := decodeSegment(raw)
	if err != nil {
		metrics.DefaultMetrics.SegmentsDropped.WithLabelValues("decode").Inc()
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("Dropping undecodable segment")
		return err
	}

	s.queue = append(s.queue, seg)
	if !s.playing {
		s.playNextLocked()
	}
	return nil
}

// QueueLen returns the number of segments waiting (not counting the one
// playing).
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear stops the in-flight segment, discards the queue and resets
// timing state. Safe to call from any state, repeatedly.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.generation++
	s.queue = nil
	s.playing = false
	s.nextStartTime = 0
	initialized := s.initialized
	s.mu.Unlock()

	if initialized {
		s.device.Stop()
	}
}

// Close clears the queue and releases the device.
func (s *Scheduler) Close() {
	s.Clear()
	s.mu.Lock()
	initialized := s.initialized
	s.initialized = false
	s.mu.Unlock()
	if initialized {
		s.device.Release()
	}
}

// playNextLocked dequeues and schedules the next segment. Caller holds
// the lock.
func (s *Scheduler) playNextLocked() {
	for {
		if len(s.queue) == 0 {
			s.playing = false
			s.nextStartTime = 0
			return
		}
		seg := s.queue[0]
		s.queue = s.queue[1:]

		start := s.device.Now()
		if s.nextStartTime > start {
			start = s.nextStartTime
		}
		s.nextStartTime = start + seg.Duration
		s.playing = true

		gen := s.generation
		err := s.device.Schedule(seg, start, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.generation != gen {
				return
			}
			s.playNextLocked()
		})
		if err == nil {
			metrics.DefaultMetrics.SegmentsScheduled.Inc()
			return
		}
		// An unschedulable segment is dropped like a decode failure;
		// roll timing back and try the next one.
		metrics.DefaultMetrics.SegmentsDropped.WithLabelValues("device").Inc()
		log.Warn().Err(err).Msg("Dropping unschedulable segment")
		s.nextStartTime = start
	}
}
