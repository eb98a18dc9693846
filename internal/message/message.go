// Package message defines the wire types exchanged with clients over the
// HTTP and WebSocket APIs.
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind distinguishes the two session flavours.
type Kind string

const (
	// KindTranscribe sessions turn microphone audio into text.
	KindTranscribe Kind = "transcribe"

	// KindSpeak sessions turn typed text into audio.
	KindSpeak Kind = "speak"
)

// ParseKind validates a kind sent by a client.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTranscribe, KindSpeak:
		return k, nil
	default:
		return "", fmt.Errorf("unknown session kind %q", s)
	}
}

// Status is a session's activity state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusSpeaking  Status = "speaking"
)

// Snapshot is the full observable state of a session.
type Snapshot struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Owner     string `json:"owner,omitempty"`
	Status    Status `json:"status"`
	Language  string `json:"language"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
}

// EventType names what an Event carries.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventAudio    EventType = "audio"
	EventError    EventType = "error"
)

// Event is pushed to session subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	// Audio is a synthesized utterance, base64 in JSON.
	Audio       []byte `json:"audio,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// Error and ErrorKind describe a failed adapter call.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"kind,omitempty"`
}

// Action is a WebSocket command verb.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionSpeak       Action = "speak"
	ActionClear       Action = "clear"
	ActionCopy        Action = "copy"
	ActionShare       Action = "share"
	ActionSetText     Action = "set_text"
	ActionSetLanguage Action = "set_language"
	ActionToggle      Action = "toggle_language"
)

// Command is a client instruction sent as a WebSocket text frame.
type Command struct {
	Action   Action `json:"action"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

// AudioResponse is the JSON form of the last synthesized utterance.
type AudioResponse struct {
	ContentType string `json:"content_type"`
	Audio       string `json:"audio"`
}

// NewAudioResponse base64-encodes audio for JSON clients.
func NewAudioResponse(audio []byte, contentType string) AudioResponse {
	return AudioResponse{ContentType: contentType, Audio: base64.StdEncoding.EncodeToString(audio)}
}

// DecodeCommand parses a WebSocket text frame.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("invalid command: missing action")
	}
	return cmd, nil
}

// About describes the running service.
type About struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Version      string       `json:"version"`
	Developer    string       `json:"developer"`
	Company      string       `json:"company"`
	Contact      Contact      `json:"contact"`
	Capabilities Capabilities `json:"capabilities"`
}

// Contact lists support channels.
type Contact struct {
	Email      string `json:"email"`
	Website    string `json:"website"`
	Repository string `json:"repository"`
}

// Capabilities names the configured backend per capability; "none" means
// the capability is unavailable.
type Capabilities struct {
	Recognition string `json:"recognition"`
	Synthesis   string `json:"synthesis"`
	Sharing     string `json:"sharing"`
}

// LanguageInfo is one selectable language.
type LanguageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Kind     Kind   `json:"kind"`
	Owner    string `json:"owner,omitempty"`
	Language string `json:"language,omitempty"`
}

// LanguageRequest is the body of PUT /v1/sessions/{id}/language.
type LanguageRequest struct {
	Language string `json:"language"`
}

// TextRequest is the body of PUT /v1/sessions/{id}/text.
type TextRequest struct {
	Text string `json:"text"`
}

// ShareResponse reports where a transcript was shared. Location is empty
// when sharing failed or the destination has no address.
type ShareResponse struct {
	Location string `json:"location,omitempty"`
}

// ClipboardResponse is the body of GET /v1/clipboard/{owner}.
type ClipboardResponse struct {
	Owner string `json:"owner"`
	Text  string `json:"text"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
