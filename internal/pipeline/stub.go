package pipeline

import (
	"context"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// StubConfig configures the deterministic stub adapters.
type StubConfig struct {
	// ProcessingDelay simulates inference latency per call.
	ProcessingDelay time.Duration
	// Transcription is returned for every non-empty clip. Empty clips
	// transcribe to "" (no speech).
	Transcription string
	// Dictionary maps target language to source-text translations.
	// Misses fall back to a "[lang] " prefix.
	Dictionary map[string]map[string]string
}

// DefaultStubConfig returns sensible defaults for testing.
func DefaultStubConfig() *StubConfig {
	return &StubConfig{
		ProcessingDelay: 10 * time.Millisecond,
		Transcription:   "Hello, can you hear me?",
		Dictionary: map[string]map[string]string{
			"es": {
				"Hello, can you hear me?": "Hola, ¿me escuchas?",
			},
			"pt": {
				"Hello, can you hear me?": "Olá, você me ouve?",
			},
		},
	}
}

// Stub implements all three adapters with deterministic output.
type Stub struct {
	config *StubConfig
}

// NewStub creates stub adapters with the given config.
func NewStub(config *StubConfig) *Stub {
	if config == nil {
		config = DefaultStubConfig()
	}
	return &Stub{config: config}
}

func (s *Stub) delay(ctx context.Context) error {
	if s.config.ProcessingDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.config.ProcessingDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transcribe returns the configured transcription, or "" for empty clips.
func (s *Stub) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if err := s.delay(ctx); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", nil
	}
	return s.config.Transcription, nil
}

// Translate looks the text up in the dictionary, falling back to a
// language-code prefix.
func (s *Stub) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := s.delay(ctx); err != nil {
		return "", err
	}
	if langDict, ok := s.config.Dictionary[targetLang]; ok {
		if translated, ok := langDict[text]; ok {
			return translated, nil
		}
	}
	return "[" + targetLang + "] " + text, nil
}

// Synthesize produces a playable WAV tone whose duration tracks the
// text length, so downstream scheduling sees distinct durations.
func (s *Stub) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}

	const sampleRate = 16000
	samples := (len(text) + 1) * sampleRate / 50
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, samples),
	}
	for i := range buf.Data {
		buf.Data[i] = int(3000 * math.Sin(2*math.Pi*220*float64(i)/sampleRate))
	}

	// The wav encoder needs a WriteSeeker to patch chunk sizes, so it
	// goes through a temp file.
	f, err := os.CreateTemp("", "synth-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
