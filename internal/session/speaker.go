package session

import (
	"context"
	"fmt"
	"time"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/tts"
)

// Speaker is a speak session. It is idle or speaking; at most one
// utterance is in progress.
type Speaker struct {
	*core
	synth   tts.Synthesizer
	timeout time.Duration

	// Guarded by core.mu.
	cancel context.CancelFunc
	gen    uint64
	last   *tts.SynthesizeResult
}

// SetText replaces the text to be spoken.
func (s *Speaker) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.SetText(text)
	s.changedLocked()
}

// Speak synthesizes the current text in the current language in the
// background. Subscribers receive an audio event on completion. Speaking
// again while an utterance is in progress replaces it. Empty text is passed
// to the synthesizer as is.
func (s *Speaker) Speak(ctx context.Context) error {
	if !tts.Available(s.synth) {
		return fmt.Errorf("speech synthesis: %w", speech.ErrCapabilityUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen

	// The utterance outlives the request that started it.
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.cancel = cancel
	s.status = message.StatusSpeaking
	text, lang := s.buf.Text(), s.lang
	s.changedLocked()

	go s.utter(uctx, cancel, gen, text, lang)
	return nil
}

// Stop cancels any in-progress utterance. The session is idle afterwards
// whether or not anything was playing.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	if s.closed {
		return
	}
	s.status = message.StatusIdle
	s.changedLocked()
}

// LastAudio returns the most recent completed utterance.
func (s *Speaker) LastAudio() (*tts.SynthesizeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

// Close stops speaking and disconnects subscribers.
func (s *Speaker) Close() {
	s.Stop()
	s.core.close()
}

func (s *Speaker) utter(ctx context.Context, cancel context.CancelFunc, gen uint64, text string, lang language.Code) {
	defer cancel()

	res, err := s.synth.Synthesize(ctx, text, tts.SynthesizeOpts{Language: lang})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.cancel = nil
	s.status = message.StatusIdle
	if err != nil {
		s.log.Warn("synthesis failed", "backend", s.synth.Name(), "error_kind", speech.Kind(err), "error", err)
		s.publishErrorLocked(err)
		s.changedLocked()
		return
	}

	s.last = res
	s.log.Info("utterance synthesized", "backend", s.synth.Name(), "language", lang, "bytes", len(res.Audio))
	s.publishLocked(message.Event{Type: message.EventAudio, Audio: res.Audio, ContentType: res.ContentType})
	s.changedLocked()
}
