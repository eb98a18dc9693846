// Package openai implements speech recognition with the OpenAI
// Audio Transcription API (Whisper / gpt-4o-transcribe).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/exiyom/ihear/internal/audio"
	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/stt/batch"
)

// Client transcribes WAV audio with OpenAI.
type Client struct {
	client *goopenai.Client
	model  string
}

// NewClient creates an OpenAI transcription client from config.
func NewClient(cfg config.OpenAIConfig) *Client {
	occ := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = goopenai.Whisper1
	}
	return &Client{client: goopenai.NewClientWithConfig(occ), model: model}
}

// New creates a streaming recognizer backed by OpenAI transcription.
func New(cfg config.STTConfig) *batch.Recognizer {
	c := NewClient(cfg.OpenAI)
	return batch.New("openai", c.Transcribe, batch.Options{
		Format:  audio.Format{SampleRate: cfg.SampleRate, Channels: 1, BytesPerSample: 2},
		Segment: time.Duration(cfg.SegmentSeconds * float64(time.Second)),
		Window:  time.Duration(cfg.WindowSeconds * float64(time.Second)),
	})
}

// Transcribe sends one WAV file and returns its text.
func (c *Client) Transcribe(ctx context.Context, wav []byte, lang language.Code) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: lang.ISO639(),
		Format:   goopenai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}

	slog.Debug("openai transcription complete", "model", c.model, "text_length", len(resp.Text))
	return resp.Text, nil
}
