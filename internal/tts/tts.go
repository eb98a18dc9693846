// Package tts defines the interface for text-to-speech synthesis.
//
// A synthesized utterance is returned as a complete audio file; the client
// plays it. Cancelling the context passed to Synthesize is how an
// in-progress utterance is stopped.
package tts

import (
	"context"
	"fmt"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
)

// SynthesizeOpts controls synthesis behavior.
type SynthesizeOpts struct {
	// Language selects the voice.
	Language language.Code

	// Voice overrides automatic language-based voice selection.
	Voice string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Name returns the backend identifier (e.g., "piper", "openai").
	Name() string

	// Synthesize generates audio from the given text.
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio is the synthesized audio file.
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/wav").
	ContentType string

	// SampleRate is the audio sample rate in Hz, 0 if unknown.
	SampleRate int

	// Channels is the number of audio channels, 0 if unknown.
	Channels int
}

// Unavailable is the synthesizer used when no backend is configured.
type Unavailable struct{}

// Name returns the backend identifier.
func (Unavailable) Name() string { return "none" }

// Synthesize always fails with speech.ErrCapabilityUnavailable.
func (Unavailable) Synthesize(context.Context, string, SynthesizeOpts) (*SynthesizeResult, error) {
	return nil, fmt.Errorf("speech synthesis: %w", speech.ErrCapabilityUnavailable)
}

// Close is a no-op.
func (Unavailable) Close() error { return nil }

// Available reports whether s can synthesize at all.
func Available(s Synthesizer) bool {
	if s == nil {
		return false
	}
	_, none := s.(Unavailable)
	return !none
}
