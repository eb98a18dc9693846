// Package stt defines the interface for streaming speech recognition.
//
// A Recognizer opens one Stream per listening session. Clients push raw PCM
// into the stream and read back the cumulative transcript: every Result
// carries the full text recognized so far, never a delta, so consumers can
// overwrite what they display.
package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
)

// Result is one recognition update.
type Result struct {
	// Text is the cumulative transcript of the stream so far.
	Text string

	// Final is true when the latest segment will not be revised.
	Final bool
}

// Recognizer starts recognition streams. Backends: deepgram, whisper, openai.
type Recognizer interface {
	// Name returns the backend identifier.
	Name() string

	// Start opens a stream configured for lang. ctx bounds the connection
	// attempt only; the stream lives until Close.
	Start(ctx context.Context, lang language.Code) (Stream, error)
}

// Stream is one continuous recognition session.
type Stream interface {
	// Send pushes 16-bit little-endian mono PCM audio.
	Send(pcm []byte) error

	// Results delivers cumulative transcripts. It is closed when the stream ends.
	Results() <-chan Result

	// Err returns the error that ended the stream, if any, once Results is closed.
	Err() error

	// Close ends the stream and releases its connection. It is safe to call twice.
	Close() error
}

// Unavailable is the recognizer used when no backend is configured.
type Unavailable struct{}

// Name returns the backend identifier.
func (Unavailable) Name() string { return "none" }

// Start always fails with speech.ErrCapabilityUnavailable.
func (Unavailable) Start(context.Context, language.Code) (Stream, error) {
	return nil, fmt.Errorf("speech recognition: %w", speech.ErrCapabilityUnavailable)
}

// Accumulator joins final segments and the current interim segment into
// the cumulative transcript.
type Accumulator struct {
	finals  []string
	interim string
}

// Add records a segment and returns the cumulative transcript.
func (a *Accumulator) Add(segment string, final bool) string {
	segment = strings.TrimSpace(segment)
	if final {
		if segment != "" {
			a.finals = append(a.finals, segment)
		}
		a.interim = ""
	} else {
		a.interim = segment
	}
	return a.Text()
}

// Text returns the cumulative transcript.
func (a *Accumulator) Text() string {
	parts := a.finals
	if a.interim != "" {
		parts = append(parts[:len(parts):len(parts)], a.interim)
	}
	return strings.Join(parts, " ")
}
