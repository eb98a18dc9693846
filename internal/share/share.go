// Package share delivers transcripts outside the session: a per-owner
// clipboard and a Sharer that publishes text to an external destination.
package share

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
)

// ErrEmptyClipboard is returned when an owner has copied nothing yet.
var ErrEmptyClipboard = errors.New("clipboard is empty")

// Clipboard stores the last copied text per owner.
type Clipboard interface {
	SetText(ctx context.Context, owner, text string) error
	Text(ctx context.Context, owner string) (string, error)
}

// Memory is an in-process Clipboard.
type Memory struct {
	mu    sync.RWMutex
	clips map[string]string
}

// NewMemory creates an empty clipboard.
func NewMemory() *Memory {
	return &Memory{clips: make(map[string]string)}
}

// SetText replaces owner's clipboard contents.
func (m *Memory) SetText(_ context.Context, owner, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[owner] = text
	return nil
}

// Text returns owner's clipboard contents.
func (m *Memory) Text(_ context.Context, owner string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.clips[owner]
	if !ok {
		return "", ErrEmptyClipboard
	}
	return text, nil
}

// Item is one shared transcript.
type Item struct {
	Owner    string
	Text     string
	Language language.Code
}

// Receipt describes where a shared item ended up.
type Receipt struct {
	// Location is a link or address for the shared item, empty if the
	// destination has none.
	Location string
}

// Sharer publishes an item. Backends: s3, telegram, webhook.
type Sharer interface {
	Name() string
	Share(ctx context.Context, item Item) (Receipt, error)
}

// Unavailable is the sharer used when no backend is configured.
type Unavailable struct{}

// Name returns the backend identifier.
func (Unavailable) Name() string { return "none" }

// Share always fails with speech.ErrCapabilityUnavailable.
func (Unavailable) Share(context.Context, Item) (Receipt, error) {
	return Receipt{}, fmt.Errorf("sharing: %w", speech.ErrCapabilityUnavailable)
}
