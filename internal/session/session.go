// Package session holds the server-side state behind the two screens: a
// transcribe session that listens to microphone audio and a speak session
// that reads typed text aloud.
//
// Each session owns its text buffer, active language and status. Adapter
// results arrive on background goroutines and are applied under the
// session's mutex; every change is fanned out to subscribers as a full
// snapshot so a slow client that drops an event loses nothing.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
	"github.com/exiyom/ihear/internal/transcript"
	"github.com/exiyom/ihear/internal/tts"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrWrongKind is returned when an operation does not apply to the session's kind.
	ErrWrongKind = errors.New("operation not supported by this session kind")

	// ErrNotListening is returned when audio is fed to an idle transcribe session.
	ErrNotListening = errors.New("session is not listening")

	// ErrClosed is returned once a session has been destroyed.
	ErrClosed = errors.New("session closed")
)

// subscriberBuffer is how many events a subscriber may lag behind before
// events are dropped for it.
const subscriberBuffer = 32

// Session is the behaviour shared by both session kinds.
type Session interface {
	ID() string
	Kind() message.Kind
	Owner() string
	Snapshot() message.Snapshot

	// SetLanguage changes the active language. Text is never touched.
	SetLanguage(lang language.Code)
	ToggleLanguage() language.Code

	// Clear empties the text buffer.
	Clear()

	// Copy puts the current text on the owner's clipboard.
	Copy(ctx context.Context)

	// Share publishes the current text. Failures are logged and yield an
	// empty receipt.
	Share(ctx context.Context) share.Receipt

	// Subscribe returns a channel of events, starting with the current
	// snapshot, and a func that unsubscribes.
	Subscribe() (<-chan message.Event, func())

	// Subscribers returns how many subscriptions are open.
	Subscribers() int

	// Stop ends any listening or speaking activity and returns to idle.
	Stop()

	// Close stops the session and disconnects its subscribers.
	Close()

	expired(now time.Time, ttl time.Duration) bool
}

// Deps are the adapters sessions talk to.
type Deps struct {
	Recognizer   stt.Recognizer
	Synthesizer  tts.Synthesizer
	Clipboard    share.Clipboard
	Sharer       share.Sharer
	SpeakTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Recognizer == nil {
		d.Recognizer = stt.Unavailable{}
	}
	if d.Synthesizer == nil {
		d.Synthesizer = tts.Unavailable{}
	}
	if d.Clipboard == nil {
		d.Clipboard = share.NewMemory()
	}
	if d.Sharer == nil {
		d.Sharer = share.Unavailable{}
	}
	if d.SpeakTimeout <= 0 {
		d.SpeakTimeout = 30 * time.Second
	}
	return d
}

// core is the state common to both kinds. Embedders share its mutex.
type core struct {
	id        string
	owner     string
	kind      message.Kind
	clipboard share.Clipboard
	sharer    share.Sharer
	log       *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	buf        transcript.Buffer
	lang       language.Code
	status     message.Status
	lastActive time.Time
	subs       map[chan message.Event]struct{}
	closed     bool
}

func newCore(id, owner string, kind message.Kind, lang language.Code, deps Deps, now func() time.Time) *core {
	return &core{
		id:         id,
		owner:      owner,
		kind:       kind,
		clipboard:  deps.Clipboard,
		sharer:     deps.Sharer,
		log:        slog.With("session_id", id, "kind", kind),
		now:        now,
		lang:       lang,
		status:     message.StatusIdle,
		lastActive: now(),
		subs:       make(map[chan message.Event]struct{}),
	}
}

func (c *core) ID() string         { return c.id }
func (c *core) Kind() message.Kind { return c.kind }
func (c *core) Owner() string      { return c.owner }

func (c *core) Snapshot() message.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *core) SetLanguage(lang language.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lang = lang
	c.changedLocked()
}

func (c *core) ToggleLanguage() language.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lang = c.lang.Toggle()
	c.changedLocked()
	return c.lang
}

func (c *core) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Clear()
	c.changedLocked()
}

func (c *core) Copy(ctx context.Context) {
	c.mu.Lock()
	text := c.buf.Text()
	c.lastActive = c.now()
	c.mu.Unlock()

	if err := c.clipboard.SetText(ctx, c.owner, text); err != nil {
		c.log.Warn("copy to clipboard failed", "error", err)
	}
}

func (c *core) Share(ctx context.Context) share.Receipt {
	c.mu.Lock()
	item := share.Item{Owner: c.owner, Text: c.buf.Text(), Language: c.lang}
	c.lastActive = c.now()
	c.mu.Unlock()

	receipt, err := c.sharer.Share(ctx, item)
	if err != nil {
		c.log.Warn("share failed", "backend", c.sharer.Name(), "error_kind", speech.Kind(err), "error", err)
		return share.Receipt{}
	}
	c.log.Info("transcript shared", "backend", c.sharer.Name(), "location", receipt.Location)
	return receipt
}

func (c *core) Subscribe() (<-chan message.Event, func()) {
	ch := make(chan message.Event, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	snap := c.snapshotLocked()
	ch <- message.Event{Type: message.EventSnapshot, Snapshot: &snap}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.lastActive = c.now()
		})
	}
}

func (c *core) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// close disconnects all subscribers. Embedders stop their activity first.
func (c *core) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

func (c *core) expired(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 && c.status == message.StatusIdle && now.Sub(c.lastActive) >= ttl
}

func (c *core) snapshotLocked() message.Snapshot {
	text := c.buf.Text()
	return message.Snapshot{
		ID:        c.id,
		Kind:      c.kind,
		Owner:     c.owner,
		Status:    c.status,
		Language:  string(c.lang),
		Text:      text,
		WordCount: transcript.WordCount(text),
		CharCount: transcript.CharCount(text),
	}
}

// changedLocked records activity and broadcasts the new state.
func (c *core) changedLocked() {
	c.lastActive = c.now()
	snap := c.snapshotLocked()
	c.publishLocked(message.Event{Type: message.EventSnapshot, Snapshot: &snap})
}

func (c *core) publishLocked(ev message.Event) {
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Debug("subscriber lagging, event dropped", "type", ev.Type)
		}
	}
}

func (c *core) publishErrorLocked(err error) {
	c.publishLocked(message.Event{Type: message.EventError, Error: speech.Public(err), ErrorKind: speech.Kind(err)})
}
