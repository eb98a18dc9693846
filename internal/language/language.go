// Package language defines the two languages iHear supports and the mapping
// between their BCP-47 codes and the ISO-639-1 codes used for voice selection.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a BCP-47 language tag understood by the speech adapters.
type Code string

const (
	// English is the default language.
	English Code = "en-US"

	// Amharic is spoken in Ethiopia.
	Amharic Code = "am-ET"
)

// Default is the language a new session starts with.
const Default = English

// ErrUnsupported is returned by Parse for any language other than English or Amharic.
var ErrUnsupported = errors.New("unsupported language")

// All lists the supported languages in display order.
func All() []Code {
	return []Code{English, Amharic}
}

// Parse accepts a BCP-47 code ("en-US", "am-et") or a bare ISO-639-1
// prefix ("en", "am").
func Parse(s string) (Code, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en-us", "en":
		return English, nil
	case "am-et", "am":
		return Amharic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// Valid reports whether c is one of the supported languages.
func (c Code) Valid() bool {
	return c == English || c == Amharic
}

// ISO639 returns the two-letter language code ("en", "am").
func (c Code) ISO639() string {
	if i := strings.IndexByte(string(c), '-'); i > 0 {
		return strings.ToLower(string(c)[:i])
	}
	return strings.ToLower(string(c))
}

// DisplayName returns the language name written in that language.
func (c Code) DisplayName() string {
	switch c {
	case English:
		return "English"
	case Amharic:
		return "አማርኛ"
	default:
		return string(c)
	}
}

// Toggle returns the other supported language.
func (c Code) Toggle() Code {
	if c == Amharic {
		return English
	}
	return Amharic
}

func (c Code) String() string { return string(c) }
