// Package batch turns a request/response transcription API into a
// continuous recognition stream.
//
// Incoming PCM accumulates in a window. Every Segment of new audio the whole
// window is re-transcribed and reported as an interim result; once the window
// reaches Window it is reported as final and a new window starts. Closing
// the stream transcribes whatever is left in the window as a final result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/exiyom/ihear/internal/audio"
	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
)

// flushTimeout bounds the final transcription made on Close.
const flushTimeout = 5 * time.Second

// TranscribeFunc transcribes one WAV file.
type TranscribeFunc func(ctx context.Context, wav []byte, lang language.Code) (string, error)

// Options controls windowing.
type Options struct {
	Format  audio.Format
	Segment time.Duration
	Window  time.Duration
}

// Recognizer adapts a TranscribeFunc to stt.Recognizer.
type Recognizer struct {
	name       string
	transcribe TranscribeFunc
	opts       Options
}

// New creates a windowed recognizer named after its backend.
func New(name string, fn TranscribeFunc, opts Options) *Recognizer {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.DefaultFormat
	}
	if opts.Segment <= 0 {
		opts.Segment = 2 * time.Second
	}
	if opts.Window < opts.Segment {
		opts.Window = opts.Segment
	}
	return &Recognizer{name: name, transcribe: fn, opts: opts}
}

// Name returns the backend identifier.
func (r *Recognizer) Name() string { return r.name }

// Start returns a new stream. No connection is made until audio arrives.
func (r *Recognizer) Start(_ context.Context, lang language.Code) (stt.Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	bps := r.opts.Format.BytesPerSecond()
	s := &stream{
		name:         r.name,
		transcribe:   r.transcribe,
		format:       r.opts.Format,
		lang:         lang,
		segmentBytes: int(r.opts.Segment.Seconds() * float64(bps)),
		windowBytes:  int(r.opts.Window.Seconds() * float64(bps)),
		ctx:          ctx,
		cancel:       cancel,
		kick:         make(chan struct{}, 1),
		flush:        make(chan struct{}),
		results:      make(chan stt.Result, 4),
	}
	go s.run()
	return s, nil
}

type stream struct {
	name         string
	transcribe   TranscribeFunc
	format       audio.Format
	lang         language.Code
	segmentBytes int
	windowBytes  int

	ctx       context.Context
	cancel    context.CancelFunc
	kick      chan struct{}
	flush     chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	window  []byte
	fresh   int // bytes received since the last transcription
	closed  bool
	err     error
	results chan stt.Result
	acc     stt.Accumulator
}

func (s *stream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.window = append(s.window, pcm...)
	s.fresh += len(pcm)
	if s.fresh >= s.segmentBytes || len(s.window) >= s.windowBytes {
		s.fresh = 0
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *stream) Results() <-chan stt.Result { return s.results }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops accepting audio. Results stays open until the pending
// window has been transcribed.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.flush)
	})
	return nil
}

func (s *stream) run() {
	defer close(s.results)
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flush:
			s.final()
			return
		case <-s.kick:
		}

		s.mu.Lock()
		pcm := append([]byte(nil), s.window...)
		s.mu.Unlock()
		if len(pcm) == 0 {
			continue
		}
		commit := len(pcm) >= s.windowBytes

		slog.Debug("batch transcription", "backend", s.name,
			"audio", humanize.Bytes(uint64(len(pcm))), "duration", s.format.Duration(len(pcm)), "commit", commit)

		text, err := s.transcribe(s.ctx, audio.PCMToWAV(pcm, s.format), s.lang)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.err = speech.Wrap(s.name, "transcribe", fmt.Errorf("transcribing %s: %w", s.format.Duration(len(pcm)), err))
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if commit {
			s.window = append([]byte(nil), s.window[len(pcm):]...)
		}
		res := stt.Result{Text: s.acc.Add(text, commit), Final: commit}
		s.mu.Unlock()

		select {
		case s.results <- res:
		case <-s.ctx.Done():
			return
		}
	}
}

// final transcribes the rest of the window as a final result.
func (s *stream) final() {
	s.mu.Lock()
	pcm := s.window
	s.window = nil
	s.mu.Unlock()
	if len(pcm) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, flushTimeout)
	defer cancel()

	slog.Debug("batch final transcription", "backend", s.name,
		"audio", humanize.Bytes(uint64(len(pcm))), "duration", s.format.Duration(len(pcm)))

	text, err := s.transcribe(ctx, audio.PCMToWAV(pcm, s.format), s.lang)
	if err != nil {
		s.mu.Lock()
		s.err = speech.Wrap(s.name, "transcribe", fmt.Errorf("transcribing %s: %w", s.format.Duration(len(pcm)), err))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	res := stt.Result{Text: s.acc.Add(text, true), Final: true}
	s.mu.Unlock()

	select {
	case s.results <- res:
	case <-s.ctx.Done():
	}
}
