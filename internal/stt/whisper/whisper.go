// Package whisper implements speech recognition against a self-hosted
// Whisper-compatible HTTP endpoint.
//
// Two flavors are supported:
//   - "openai": OpenAI-compatible API (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
//
// The endpoint is request/response, so streams are built with package batch.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/exiyom/ihear/internal/audio"
	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/stt/batch"
)

// Client transcribes WAV audio with a Whisper server.
type Client struct {
	endpoint    string
	whisperType string // "openai" or "asr"
	model       string
	client      *http.Client
}

// NewClient creates a Whisper client from config.
func NewClient(cfg config.WhisperConfig) *Client {
	wt := cfg.Type
	if wt == "" {
		wt = "openai"
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		whisperType: wt,
		model:       cfg.Model,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// New creates a streaming recognizer backed by a Whisper server.
func New(cfg config.STTConfig) *batch.Recognizer {
	c := NewClient(cfg.Whisper)
	return batch.New("whisper", c.Transcribe, batch.Options{
		Format:  audio.Format{SampleRate: cfg.SampleRate, Channels: 1, BytesPerSample: 2},
		Segment: seconds(cfg.SegmentSeconds),
		Window:  seconds(cfg.WindowSeconds),
	})
}

// Transcribe sends one WAV file and returns its text.
func (c *Client) Transcribe(ctx context.Context, wav []byte, lang language.Code) (string, error) {
	switch c.whisperType {
	case "asr":
		return c.transcribeASR(ctx, wav, lang)
	default:
		return c.transcribeOpenAI(ctx, wav, lang)
	}
}

// transcribeASR handles the ahmetoner/whisper-asr-webservice format.
// API: POST /asr?task=transcribe&language=am&output=json
// Body: multipart/form-data with field "audio_file"
func (c *Client) transcribeASR(ctx context.Context, wav []byte, lang language.Code) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	writer.Close()

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	q.Set("language", lang.ISO639())

	return c.post(ctx, c.endpoint+"?"+q.Encode(), body, writer.FormDataContentType())
}

// transcribeOpenAI handles OpenAI-compatible whisper endpoints.
func (c *Client) transcribeOpenAI(ctx context.Context, wav []byte, lang language.Code) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if c.model != "" {
		_ = writer.WriteField("model", c.model)
	}
	_ = writer.WriteField("language", lang.ISO639())
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	return c.post(ctx, c.endpoint, body, writer.FormDataContentType())
}

func (c *Client) post(ctx context.Context, endpoint string, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("whisper transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("whisper transcription complete", "type", c.whisperType, "text_length", len(result.Text))
	return result.Text, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
