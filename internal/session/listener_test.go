package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
)

func newListener(t *testing.T, rec stt.Recognizer) *Listener {
	t.Helper()
	m := NewManager(Deps{Recognizer: rec}, language.English)
	s, err := m.Create(message.KindTranscribe, "alice", "")
	require.NoError(t, err)
	l, err := AsListener(s)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestListenerResultsOverwriteText(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)
	events, unsubscribe := l.Subscribe()
	defer unsubscribe()

	require.NoError(t, l.Start(context.Background()))
	require.Equal(t, message.StatusListening, l.Snapshot().Status)
	require.Equal(t, []language.Code{language.English}, rec.langs)

	stream := rec.started()[0]
	stream.emit("hello", false)
	stream.emit("hello world", true)

	ev := waitEvent(t, events, func(ev message.Event) bool {
		return ev.Type == message.EventSnapshot && ev.Snapshot.Text == "hello world"
	})
	require.Equal(t, 2, ev.Snapshot.WordCount)
	require.Equal(t, 11, ev.Snapshot.CharCount)
	require.Equal(t, message.StatusListening, ev.Snapshot.Status)

	require.NoError(t, l.Feed([]byte{1, 2}))
	require.Equal(t, [][]byte{{1, 2}}, stream.sent)
}

func TestListenerStartIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	require.Len(t, rec.started(), 1)
	require.Equal(t, message.StatusListening, l.Snapshot().Status)
}

func TestListenerStopClosesStartedStream(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)

	// Stop while idle is a no-op.
	l.Stop()
	require.Equal(t, message.StatusIdle, l.Snapshot().Status)

	require.NoError(t, l.Start(context.Background()))
	stream := rec.started()[0]
	l.Stop()
	require.Equal(t, message.StatusIdle, l.Snapshot().Status)
	require.True(t, stream.isClosed())
	require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)

	l.Stop()
	require.Equal(t, message.StatusIdle, l.Snapshot().Status)

	// A new start opens a fresh stream in the current language.
	l.SetLanguage(language.Amharic)
	require.NoError(t, l.Start(context.Background()))
	require.Len(t, rec.started(), 2)
	require.Equal(t, language.Amharic, rec.langs[1])
}

func TestListenerStartUnavailable(t *testing.T) {
	l := newListener(t, stt.Unavailable{})

	err := l.Start(context.Background())
	require.ErrorIs(t, err, speech.ErrCapabilityUnavailable)
	require.Equal(t, message.StatusIdle, l.Snapshot().Status)
	require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)
}

func TestListenerStreamErrorReturnsToIdle(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)
	events, unsubscribe := l.Subscribe()
	defer unsubscribe()

	require.NoError(t, l.Start(context.Background()))
	stream := rec.started()[0]
	stream.emit("partial", false)
	stream.end(speech.Wrap("fake", "receive", errors.New("connection reset")))

	ev := waitEvent(t, events, isType(message.EventError))
	require.Equal(t, "adapter", ev.ErrorKind)
	require.Equal(t, "speech recognition failed", ev.Error)
	require.NotContains(t, ev.Error, "connection reset")

	ev = waitEvent(t, events, isStatus(message.StatusIdle))
	require.Equal(t, "partial", ev.Snapshot.Text)
	require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)
}

func TestLanguageToggleKeepsText(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)

	require.NoError(t, l.Start(context.Background()))
	events, unsubscribe := l.Subscribe()
	defer unsubscribe()
	rec.started()[0].emit("  multiple   spaces  ", true)
	waitEvent(t, events, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Text != "" })

	before := l.Snapshot()
	require.Equal(t, 2, before.WordCount)

	require.Equal(t, language.Amharic, l.ToggleLanguage())
	after := l.Snapshot()
	require.Equal(t, "am-ET", after.Language)
	require.Equal(t, before.Text, after.Text)
	require.Equal(t, before.WordCount, after.WordCount)
	require.Equal(t, before.CharCount, after.CharCount)

	require.Equal(t, language.English, l.ToggleLanguage())
	require.Equal(t, before.Text, l.Snapshot().Text)
}

func TestClear(t *testing.T) {
	rec := &fakeRecognizer{}
	l := newListener(t, rec)
	require.NoError(t, l.Start(context.Background()))
	events, unsubscribe := l.Subscribe()
	defer unsubscribe()
	rec.started()[0].emit("Hello world", false)
	waitEvent(t, events, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Text == "Hello world" })

	l.Clear()
	snap := l.Snapshot()
	require.Equal(t, "", snap.Text)
	require.Zero(t, snap.WordCount)
	require.Zero(t, snap.CharCount)
}

func TestListenerStopKeepsFlushedResult(t *testing.T) {
	rec := &fakeRecognizer{flush: "hello"}
	l := newListener(t, rec)

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Feed(make([]byte, 320)))
	l.Stop()

	snap := l.Snapshot()
	require.Equal(t, message.StatusIdle, snap.Status)
	require.Equal(t, "hello", snap.Text)
	require.True(t, rec.started()[0].isClosed())
}

func TestListenerStopDrainTimeout(t *testing.T) {
	rec := &fakeRecognizer{hold: true}
	l := newListener(t, rec)
	l.drainTimeout = 50 * time.Millisecond

	require.NoError(t, l.Start(context.Background()))
	stream := rec.started()[0]
	defer stream.release()

	start := time.Now()
	l.Stop()
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, message.StatusIdle, l.Snapshot().Status)
	require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)

	// Results arriving after the deadline are discarded.
	stream.mu.Lock()
	stream.results <- stt.Result{Text: "late", Final: true}
	stream.mu.Unlock()
	stream.release()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, "", l.Snapshot().Text)
}

func TestListenerStartWhileDraining(t *testing.T) {
	rec := &fakeRecognizer{hold: true}
	l := newListener(t, rec)
	l.drainTimeout = time.Second

	require.NoError(t, l.Start(context.Background()))
	first := rec.started()[0]
	defer first.release()

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)

	require.NoError(t, l.Start(context.Background()))
	require.Len(t, rec.started(), 2)
	first.release()
	<-stopped
	require.Equal(t, message.StatusListening, l.Snapshot().Status)
	require.NoError(t, l.Feed([]byte{1}))
}

// startAsync runs Start in the background and waits until the recognizer
// is connecting.
func startAsync(t *testing.T, l *Listener, rec *fakeRecognizer) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background()) }()
	require.Eventually(t, func() bool { return rec.startAttempts() == 1 }, time.Second, 5*time.Millisecond)
	return done
}

func TestListenerConnecting(t *testing.T) {
	t.Run("start while connecting opens one stream", func(t *testing.T) {
		rec := &fakeRecognizer{gate: make(chan struct{})}
		l := newListener(t, rec)

		done := startAsync(t, l, rec)
		require.NoError(t, l.Start(context.Background()))
		require.Equal(t, 1, rec.startAttempts())
		require.Equal(t, message.StatusIdle, l.Snapshot().Status)

		close(rec.gate)
		require.NoError(t, <-done)
		require.Len(t, rec.started(), 1)
		require.Equal(t, message.StatusListening, l.Snapshot().Status)
	})

	t.Run("stop while connecting closes the late stream", func(t *testing.T) {
		rec := &fakeRecognizer{gate: make(chan struct{})}
		l := newListener(t, rec)
		events, unsubscribe := l.Subscribe()
		defer unsubscribe()

		done := startAsync(t, l, rec)
		l.Stop()
		require.Equal(t, message.StatusIdle, l.Snapshot().Status)

		close(rec.gate)
		require.NoError(t, <-done)
		require.Len(t, rec.started(), 1)
		require.Eventually(t, rec.started()[0].isClosed, time.Second, 5*time.Millisecond)
		require.Equal(t, message.StatusIdle, l.Snapshot().Status)
		require.ErrorIs(t, l.Feed([]byte{1}), ErrNotListening)

	seen:
		for {
			select {
			case ev := <-events:
				if ev.Snapshot != nil {
					require.NotEqual(t, message.StatusListening, ev.Snapshot.Status)
				}
			default:
				break seen
			}
		}

		// A later start connects again.
		require.NoError(t, l.Start(context.Background()))
		require.Len(t, rec.started(), 2)
	})

	t.Run("close while connecting", func(t *testing.T) {
		rec := &fakeRecognizer{gate: make(chan struct{})}
		l := newListener(t, rec)

		done := startAsync(t, l, rec)
		l.Close()

		close(rec.gate)
		require.NoError(t, <-done)
		require.Eventually(t, rec.started()[0].isClosed, time.Second, 5*time.Millisecond)
		require.Equal(t, message.StatusIdle, l.Snapshot().Status)
		require.ErrorIs(t, l.Start(context.Background()), ErrClosed)
	})
}
