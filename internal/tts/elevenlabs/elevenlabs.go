// Package elevenlabs implements the TTS Synthesizer with the ElevenLabs REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/tts"
)

const maxAudioBytes = 25 << 20

// Synthesizer implements tts.Synthesizer over HTTP.
type Synthesizer struct {
	apiKey   string
	baseURL  string
	modelID  string
	voiceIDs map[string]string // ISO-639-1 code -> voice ID
	client   *http.Client
}

// New creates an ElevenLabs synthesizer from config.
func New(cfg config.ElevenLabsConfig) *Synthesizer {
	voices := make(map[string]string, len(cfg.VoiceIDs))
	for k, v := range cfg.VoiceIDs {
		voices[strings.ToLower(k)] = v
	}
	return &Synthesizer{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		modelID:  cfg.ModelID,
		voiceIDs: voices,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "elevenlabs" }

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize returns MP3 speech for text in the voice mapped to opts.Language.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	lang := opts.Language.ISO639()
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = s.voiceIDs[lang]
	}
	if voiceID == "" {
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("no elevenlabs voice configured for language %q", lang))
	}

	payload, err := json.Marshal(speechRequest{
		Text:          text,
		ModelID:       s.modelID,
		LanguageCode:  lang,
		VoiceSettings: voiceSettings{Stability: 0.75, SimilarityBoost: 0.7},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", s.baseURL, url.PathEscape(voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, speech.Wrap(s.Name(), "synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("status %d: %s", resp.StatusCode, b))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("reading audio: %w", err))
	}

	slog.Debug("elevenlabs speech complete", "language", lang, "voice", voiceID, "bytes", len(data))
	return &tts.SynthesizeResult{Audio: data, ContentType: "audio/mpeg"}, nil
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }
