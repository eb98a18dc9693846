package session

import (
	"context"
	"time"

	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
)

// defaultDrainTimeout bounds how long Stop waits for a closing stream to
// deliver its last results.
const defaultDrainTimeout = 5 * time.Second

// Listener is a transcribe session. It is idle or listening; while
// listening exactly one recognizer stream is open.
type Listener struct {
	*core
	recognizer   stt.Recognizer
	drainTimeout time.Duration

	// Guarded by core.mu. gen advances whenever the active stream changes
	// so results from a superseded stream are discarded. stopping is set
	// between Stop closing the stream and the stream draining.
	stream   stt.Stream
	drained  chan struct{}
	starting bool
	stopping bool
	gen      uint64
}

// Start begins listening in the current language. It is a no-op while
// already listening or connecting. If the recognizer cannot start, the
// session stays idle and the error is returned. Starting while a stopped
// stream is still draining discards the rest of that stream.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.starting || (l.status == message.StatusListening && !l.stopping) {
		l.mu.Unlock()
		return nil
	}
	if l.stopping {
		l.stopping = false
		l.stream = nil
		l.status = message.StatusIdle
		l.changedLocked()
	}
	l.gen++
	gen := l.gen
	lang := l.lang
	l.starting = true
	l.mu.Unlock()

	stream, err := l.recognizer.Start(ctx, lang)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.closed {
		// Stopped while connecting.
		if err == nil {
			go stream.Close()
		}
		return err
	}
	l.starting = false
	if err != nil {
		l.log.Warn("recognizer start failed", "backend", l.recognizer.Name(), "error_kind", speech.Kind(err), "error", err)
		return err
	}
	l.stream = stream
	l.drained = make(chan struct{})
	l.status = message.StatusListening
	l.changedLocked()
	l.log.Info("listening started", "backend", l.recognizer.Name(), "language", lang)
	go l.consume(gen, stream, l.drained)
	return nil
}

// Stop ends listening. It closes the stream that Start opened and keeps
// applying results until the stream has flushed or the drain timeout
// passes, then returns to idle. It is a no-op while idle.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.starting {
		l.starting = false
		l.gen++
		l.status = message.StatusIdle
		l.changedLocked()
		l.mu.Unlock()
		l.log.Info("listening cancelled while connecting")
		return
	}
	if l.status != message.StatusListening || l.stopping {
		l.mu.Unlock()
		return
	}
	l.stopping = true
	stream, drained, gen := l.stream, l.drained, l.gen
	l.mu.Unlock()

	if err := stream.Close(); err != nil {
		l.log.Debug("closing recognizer stream", "error", err)
	}
	select {
	case <-drained:
	case <-time.After(l.drainTimeout):
		l.log.Warn("recognizer stream did not drain", "backend", l.recognizer.Name(), "timeout", l.drainTimeout)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		// Restarted while draining.
		return
	}
	l.gen++
	l.stream = nil
	l.stopping = false
	l.status = message.StatusIdle
	l.changedLocked()
	l.log.Info("listening stopped")
}

// Feed forwards PCM audio to the open stream.
func (l *Listener) Feed(pcm []byte) error {
	l.mu.Lock()
	if l.status != message.StatusListening || l.stopping {
		l.mu.Unlock()
		return ErrNotListening
	}
	stream := l.stream
	l.lastActive = l.now()
	l.mu.Unlock()

	if err := stream.Send(pcm); err != nil {
		l.mu.Lock()
		superseded := l.stream != stream || l.stopping
		l.mu.Unlock()
		if superseded {
			return ErrNotListening
		}
		return speech.Wrap(l.recognizer.Name(), "send", err)
	}
	return nil
}

// Close stops listening and disconnects subscribers.
func (l *Listener) Close() {
	l.Stop()
	l.core.close()
}

// consume applies results from stream until it ends. When the stream ends
// on its own the session falls back to idle; when Stop closed it, Stop
// does that once drained is closed.
func (l *Listener) consume(gen uint64, stream stt.Stream, drained chan struct{}) {
	defer close(drained)

	for res := range stream.Results() {
		l.mu.Lock()
		if l.gen == gen {
			l.buf.SetText(res.Text)
			l.changedLocked()
		}
		l.mu.Unlock()
	}

	err := stream.Err()

	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return
	}
	if l.stopping {
		l.mu.Unlock()
		if err != nil {
			l.log.Warn("recognition failed while stopping", "backend", l.recognizer.Name(), "error_kind", speech.Kind(err), "error", err)
		}
		return
	}
	l.gen++
	l.stream = nil
	l.status = message.StatusIdle
	if err != nil {
		l.log.Warn("recognition failed", "backend", l.recognizer.Name(), "error_kind", speech.Kind(err), "error", err)
		l.publishErrorLocked(err)
	} else {
		l.log.Info("recognition stream ended")
	}
	l.changedLocked()
	l.mu.Unlock()

	_ = stream.Close()
}
