// Package openai implements the TTS Synthesizer using the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/tts"
)

// maxAudioBytes bounds a single synthesized utterance.
const maxAudioBytes = 25 << 20

// Synthesizer implements tts.Synthesizer with go-openai.
type Synthesizer struct {
	client *goopenai.Client
	model  string
	voice  string
}

// New creates an OpenAI synthesizer from config.
func New(cfg config.OpenAIConfig) *Synthesizer {
	occ := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(goopenai.TTSModel1)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = string(goopenai.VoiceAlloy)
	}
	return &Synthesizer{
		client: goopenai.NewClientWithConfig(occ),
		model:  model,
		voice:  voice,
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "openai" }

// Synthesize requests WAV speech for text. The model infers the language
// from the text itself, so opts.Language only shows up in logs.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	voice := opts.Voice
	if voice == "" {
		voice = s.voice
	}

	resp, err := s.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(s.model),
		Input:          text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, speech.Wrap(s.Name(), "synthesize", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes))
	if err != nil {
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("reading audio: %w", err))
	}

	slog.Debug("openai speech complete", "language", opts.Language, "voice", voice, "bytes", len(data))
	return &tts.SynthesizeResult{Audio: data, ContentType: "audio/wav"}, nil
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }
