package playback

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
)

// wavBytes renders a silent mono WAV clip of the given length.
func wavBytes(t *testing.T, d time.Duration) []byte {
	t.Helper()
	const sampleRate = 8000

	f, err := os.CreateTemp(t.TempDir(), "seg-*.wav")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, int(float64(sampleRate)*d.Seconds())),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}

	raw, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return raw
}

type scheduledSeg struct {
	seg  Segment
	at   time.Duration
	done func()
}

type fakeDevice struct {
	mu          sync.Mutex
	now         time.Duration
	sched       []scheduledSeg
	acquires    int
	stops       int
	released    bool
	failAcquire bool
}

func (d *fakeDevice) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAcquire {
		return ErrDeviceUnavailable
	}
	d.acquires++
	return nil
}

func (d *fakeDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) Schedule(seg Segment, at time.Duration, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched = append(d.sched, scheduledSeg{seg, at, done})
	return nil
}

func (d *fakeDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
}

func (d *fakeDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

func (d *fakeDevice) setClock(now time.Duration) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

func (d *fakeDevice) scheduledAt(i int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sched[i].at
}

func (d *fakeDevice) scheduledCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sched)
}

// finish advances the clock to the segment's end and fires its done
// callback, like real playback completing.
func (d *fakeDevice) finish(i int) {
	d.mu.Lock()
	s := d.sched[i]
	end := s.at + s.seg.Duration
	if end > d.now {
		d.now = end
	}
	done := s.done
	d.mu.Unlock()
	done()
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	s := NewScheduler(dev)
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s, dev
}

func TestScheduler_GaplessBackToBack(t *testing.T) {
	s, dev := newTestScheduler(t)

	// A (1.0s) then B (0.5s) enqueued immediately at clock 0
	if err := s.Enqueue(wavBytes(t, time.Second)); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	if err := s.Enqueue(wavBytes(t, 500*time.Millisecond)); err != nil {
		t.Fatalf("enqueue B: %v", err)
	}

	if got := dev.scheduledCount(); got != 1 {
		t.Fatalf("expected only A scheduled while playing, got %d", got)
	}
	if at := dev.scheduledAt(0); at != 0 {
		t.Errorf("A should start at t=0, got %v", at)
	}
	if got := s.QueueLen(); got != 1 {
		t.Errorf("expected B queued, got %d", got)
	}

	dev.finish(0)

	if got := dev.scheduledCount(); got != 2 {
		t.Fatalf("expected B scheduled after A finished, got %d", got)
	}
	// Zero gap: B starts exactly when A ends
	if at := dev.scheduledAt(1); at != time.Second {
		t.Errorf("B should start at t=1s, got %v", at)
	}

	dev.finish(1)

	// Queue drained: timing state resets, so a segment arriving later
	// starts at the live clock
	dev.setClock(5 * time.Second)
	if err := s.Enqueue(wavBytes(t, time.Second)); err != nil {
		t.Fatalf("enqueue C: %v", err)
	}
	if at := dev.scheduledAt(2); at != 5*time.Second {
		t.Errorf("C should start at the current clock after idle, got %v", at)
	}
}

func TestScheduler_LateSegmentStartsAtCurrentClock(t *testing.T) {
	s, dev := newTestScheduler(t)

	s.Enqueue(wavBytes(t, time.Second))
	s.Enqueue(wavBytes(t, time.Second))

	// The first segment overruns: done fires at clock 3s, well past its
	// 1s slot. The next segment starts immediately, not retroactively.
	dev.setClock(3 * time.Second)
	dev.finish(0)

	if at := dev.scheduledAt(1); at != 3*time.Second {
		t.Errorf("late segment should start at clock 3s, got %v", at)
	}
}

func TestScheduler_SegmentsNeverOverlap(t *testing.T) {
	s, dev := newTestScheduler(t)

	durations := []time.Duration{time.Second, 250 * time.Millisecond, 2 * time.Second, 500 * time.Millisecond}
	for _, d := range durations {
		if err := s.Enqueue(wavBytes(t, d)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < len(durations)-1; i++ {
		dev.finish(i)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	for i := 1; i < len(dev.sched); i++ {
		prevEnd := dev.sched[i-1].at + dev.sched[i-1].seg.Duration
		if dev.sched[i].at < prevEnd {
			t.Errorf("segment %d at %v overlaps previous ending %v", i, dev.sched[i].at, prevEnd)
		}
		if dev.sched[i].at != prevEnd {
			t.Errorf("segment %d at %v leaves a gap after %v", i, dev.sched[i].at, prevEnd)
		}
	}
}

func TestScheduler_ClearDiscardsQueue(t *testing.T) {
	s, dev := newTestScheduler(t)

	s.Enqueue(wavBytes(t, time.Second))
	s.Enqueue(wavBytes(t, time.Second))
	s.Enqueue(wavBytes(t, time.Second))

	s.Clear()

	if got := s.QueueLen(); got != 0 {
		t.Errorf("expected empty queue after clear, got %d", got)
	}
	if dev.stops != 1 {
		t.Errorf("expected device stop, got %d", dev.stops)
	}

	// A stale done from the cleared segment must not schedule anything
	dev.finish(0)
	if got := dev.scheduledCount(); got != 1 {
		t.Errorf("stale done scheduled a segment: %d", got)
	}

	// The scheduler keeps working after a clear
	dev.setClock(10 * time.Second)
	if err := s.Enqueue(wavBytes(t, time.Second)); err != nil {
		t.Fatalf("enqueue after clear: %v", err)
	}
	if at := dev.scheduledAt(1); at != 10*time.Second {
		t.Errorf("fresh segment should start at the live clock, got %v", at)
	}

	// Clear is safe to repeat
	s.Clear()
	s.Clear()
}

func TestScheduler_DecodeFailureDropsOnlyThatSegment(t *testing.T) {
	s, dev := newTestScheduler(t)

	if err := s.Enqueue([]byte("definitely not audio")); err == nil {
		t.Error("expected a decode error")
	}
	if got := s.QueueLen(); got != 0 {
		t.Errorf("failed decode should not occupy the queue, got %d", got)
	}

	if err := s.Enqueue(wavBytes(t, time.Second)); err != nil {
		t.Fatalf("valid segment after failure: %v", err)
	}
	if got := dev.scheduledCount(); got != 1 {
		t.Errorf("expected playback to continue, got %d scheduled", got)
	}
}

func TestScheduler_InitIdempotent(t *testing.T) {
	s, dev := newTestScheduler(t)

	if err := s.Init(); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if dev.acquires != 1 {
		t.Errorf("expected one device acquire, got %d", dev.acquires)
	}
}

func TestScheduler_InitFailure(t *testing.T) {
	dev := &fakeDevice{failAcquire: true}
	s := NewScheduler(dev)

	if err := s.Init(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if err := s.Enqueue(wavBytes(t, time.Second)); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestScheduler_CloseReleasesDevice(t *testing.T) {
	s, dev := newTestScheduler(t)
	s.Enqueue(wavBytes(t, time.Second))

	s.Close()

	if !dev.released {
		t.Error("expected device released")
	}
	if err := s.Enqueue(wavBytes(t, time.Second)); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized after close, got %v", err)
	}
}

func TestScheduler_SegmentCounters(t *testing.T) {
	scheduledBefore := testutil.ToFloat64(metrics.DefaultMetrics.SegmentsScheduled)
	droppedBefore := testutil.ToFloat64(metrics.DefaultMetrics.SegmentsDropped.WithLabelValues("decode"))

	s, _ := newTestScheduler(t)

	if err := s.Enqueue(wavBytes(t, time.Second)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.Enqueue([]byte("not a wav")); err == nil {
		t.Fatal("expected decode error")
	}

	scheduled := testutil.ToFloat64(metrics.DefaultMetrics.SegmentsScheduled) - scheduledBefore
	if scheduled != 1 {
		t.Errorf("expected 1 segment scheduled, counted %v", scheduled)
	}
	dropped := testutil.ToFloat64(metrics.DefaultMetrics.SegmentsDropped.WithLabelValues("decode")) - droppedBefore
	if dropped != 1 {
		t.Errorf("expected 1 segment dropped, counted %v", dropped)
	}
}
