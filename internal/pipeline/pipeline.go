// Package pipeline defines the inference boundary: speech-to-text,
// translation, and speech synthesis adapters, plus the orchestration that
// turns one utterance into per-language translated audio. Inference itself
// is external; this package only specifies the seams and ships stubs.
package pipeline

import (
	"context"
	"fmt"
)

// Transcriber converts an audio clip into source-language text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer renders text as a playable audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Rendering is one per-language output of a processed utterance.
type Rendering struct {
	Text  string
	Audio []byte
}

// Result is the outcome of processing a complete utterance.
type Result struct {
	Transcription string
	// Renderings is keyed by target language. Empty when no speech was
	// detected.
	Renderings map[string]Rendering
}

// Pipeline chains the three adapters for one utterance.
type Pipeline struct {
	stt Transcriber
	mt  Translator
	tts Synthesizer
}

// New builds a pipeline from the given adapters.
func New(stt Transcriber, mt Translator, tts Synthesizer) *Pipeline {
	return &Pipeline{stt: stt, mt: mt, tts: tts}
}

// Process transcribes audio once and renders it into each target language.
// An empty transcription (no speech) returns a Result with no renderings
// and no error; callers report "no speech detected" rather than failing.
func (p *Pipeline) Process(ctx context.Context, audio []byte, sourceLang string, targetLangs []string) (*Result, error) {
	transcription, err := p.stt.Transcribe(ctx, audio, sourceLang)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if transcription == "" {
		return &Result{}, nil
	}

	res := &Result{
		Transcription: transcription,
		Renderings:    make(map[string]Rendering, len(targetLangs)),
	}
	for _, lang := range targetLangs {
		text, err := p.mt.Translate(ctx, transcription, sourceLang, lang)
		if err != nil {
			return nil, fmt.Errorf("translate to %s: %w", lang, err)
		}
		audioOut, err := p.tts.Synthesize(ctx, text, lang)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", lang, err)
		}
		res.Renderings[lang] = Rendering{Text: text, Audio: audioOut}
	}
	return res, nil
}
