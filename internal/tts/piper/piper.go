// Package piper implements the TTS Synthesizer using a Piper Wyoming protocol server.
//
// Piper is a fast, local neural text-to-speech system. The linuxserver/piper
// container exposes the Wyoming protocol on TCP port 10200.
package piper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/exiyom/ihear/internal/audio"
	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/tts"
)

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
// Piper ships no Amharic voice; one must be configured under tts.piper.voices.am.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
}

// Synthesizer implements tts.Synthesizer using the Wyoming protocol.
type Synthesizer struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language -> host:port for per-language Piper instances
	voices    map[string]string // language -> voice name
	dialer    net.Dialer
}

// New creates a new Piper synthesizer from config.
func New(cfg config.PiperConfig) *Synthesizer {
	voices := make(map[string]string, len(defaultVoices)+len(cfg.Voices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.Voices {
		voices[strings.ToLower(k)] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[strings.ToLower(lang)] = cleanEndpoint(ep)
	}

	return &Synthesizer{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "piper" }

// Synthesize sends text to the Piper server and returns synthesized audio as WAV.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	lang := opts.Language.ISO639()

	voice := opts.Voice
	if voice == "" {
		voice = s.voices[lang]
	}
	if voice == "" {
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("no piper voice configured for language %q", lang))
	}

	endpoint := s.endpoints[lang]
	if endpoint == "" {
		endpoint = s.endpoint
	}
	if endpoint == "" {
		return nil, speech.Wrap(s.Name(), "synthesize", fmt.Errorf("no piper endpoint configured for language %q", lang))
	}

	res, err := s.synthesize(ctx, endpoint, text, voice)
	if err != nil {
		return nil, speech.Wrap(s.Name(), "synthesize", err)
	}
	return res, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, endpoint, text, voice string) (*tts.SynthesizeResult, error) {
	slog.Debug("piper synthesize", "text_length", len(text), "voice", voice, "endpoint", endpoint)

	conn, err := s.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	// Stop() cancels ctx; closing the connection unblocks the read loop.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	synth := map[string]any{
		"text":  text,
		"voice": map[string]any{"name": voice},
	}
	if err := writeEvent(conn, "synthesize", synth); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	// audio-start → audio-chunk* → audio-stop
	var (
		pcm    bytes.Buffer
		format = audio.Format{SampleRate: 22050, Channels: 1, BytesPerSample: 2}
		r      = bufio.NewReader(conn)
	)
	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			var start audioStart
			if len(evt.Data) > 0 && json.Unmarshal(evt.Data, &start) == nil {
				if start.Rate > 0 {
					format.SampleRate = start.Rate
				}
				if start.Channels > 0 {
					format.Channels = start.Channels
				}
				if start.Width > 0 {
					format.BytesPerSample = start.Width
				}
			}

		case "audio-chunk":
			pcm.Write(payload)

		case "audio-stop":
			slog.Debug("piper audio-stop", "pcm", humanize.Bytes(uint64(pcm.Len())), "duration", format.Duration(pcm.Len()))
			return &tts.SynthesizeResult{
				Audio:       audio.PCMToWAV(pcm.Bytes(), format),
				ContentType: "audio/wav",
				SampleRate:  format.SampleRate,
				Channels:    format.Channels,
			}, nil

		case "error":
			var e errorData
			msg := "unknown error"
			if json.Unmarshal(evt.Data, &e) == nil && e.Text != "" {
				msg = e.Text
			}
			return nil, fmt.Errorf("piper error: %s", msg)

		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

// Close is a no-op; connections are per-request.
func (s *Synthesizer) Close() error { return nil }
