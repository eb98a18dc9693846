package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/stt"
	"github.com/exiyom/ihear/internal/tts"
)

type fakeStream struct {
	results chan stt.Result
	flush   string // emitted as a final result on Close
	hold    bool   // Close leaves Results open until release

	mu       sync.Mutex
	sent     [][]byte
	err      error
	closed   bool
	finished bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan stt.Result, 8)}
}

func (f *fakeStream) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeStream) Results() <-chan stt.Result { return f.results }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.flush != "" {
		f.results <- stt.Result{Text: f.flush, Final: true}
	}
	if !f.hold {
		f.finishLocked(nil)
	}
	return nil
}

func (f *fakeStream) emit(text string, final bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.results <- stt.Result{Text: text, Final: final}
	}
}

// end finishes the stream as if the backend hung up.
func (f *fakeStream) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.finishLocked(err)
}

// release closes Results of a held stream.
func (f *fakeStream) release() {
	f.end(nil)
}

func (f *fakeStream) finishLocked(err error) {
	if f.finished {
		return
	}
	f.finished = true
	f.err = err
	close(f.results)
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRecognizer struct {
	err   error
	flush string
	hold  bool

	// gate, when set, blocks Start until it is closed or ctx is done.
	gate chan struct{}

	mu       sync.Mutex
	streams  []*fakeStream
	langs    []language.Code
	attempts int
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Start(ctx context.Context, lang language.Code) (stt.Stream, error) {
	f.mu.Lock()
	f.attempts++
	f.langs = append(f.langs, lang)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	s.flush, s.hold = f.flush, f.hold
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeRecognizer) started() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

func (f *fakeRecognizer) startAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type synthCall struct {
	ctx  context.Context
	text string
	lang language.Code
}

type fakeSynth struct {
	release chan struct{}
	err     error

	mu    sync.Mutex
	calls []synthCall
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, synthCall{ctx: ctx, text: text, lang: opts.Language})
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tts.SynthesizeResult{Audio: []byte("RIFF" + text), ContentType: "audio/wav"}, nil
}

func (f *fakeSynth) Close() error { return nil }

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) call(i int) synthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type fakeSharer struct {
	err error

	mu    sync.Mutex
	items []share.Item
}

func (f *fakeSharer) Name() string { return "fake" }

func (f *fakeSharer) Share(_ context.Context, item share.Item) (share.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	if f.err != nil {
		return share.Receipt{}, f.err
	}
	return share.Receipt{Location: "fake://shared/1"}, nil
}

// waitEvent reads events from ch until match returns true.
func waitEvent(t *testing.T, ch <-chan message.Event, match func(message.Event) bool) message.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isStatus(status message.Status) func(message.Event) bool {
	return func(ev message.Event) bool {
		return ev.Type == message.EventSnapshot && ev.Snapshot.Status == status
	}
}

func isType(typ message.EventType) func(message.Event) bool {
	return func(ev message.Event) bool { return ev.Type == typ }
}
