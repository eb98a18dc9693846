// Package transcript holds the text shown on a screen, either recognized
// speech or typed input, and derives its word and character counts.
package transcript

import (
	"strings"
	"unicode/utf8"
)

// Buffer is the text content of one session. The zero value is an empty
// buffer ready to use. Buffer is not safe for concurrent use; the owning
// session serializes access.
type Buffer struct {
	text string
}

// SetText replaces the content unconditionally.
func (b *Buffer) SetText(text string) {
	b.text = text
}

// Clear resets the content to the empty string.
func (b *Buffer) Clear() {
	b.text = ""
}

// Text returns the current content.
func (b *Buffer) Text() string {
	return b.text
}

// WordCount returns the number of words in the current content.
func (b *Buffer) WordCount() int {
	return WordCount(b.text)
}

// CharCount returns the number of characters in the current content.
func (b *Buffer) CharCount() int {
	return CharCount(b.text)
}

// WordCount counts the non-empty tokens of s split on runs of whitespace.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// CharCount counts the code points of s, so each Ge'ez syllable counts once.
// A character outside the BMP, such as an emoji, also counts once, where a
// UTF-16 length would count it twice.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
