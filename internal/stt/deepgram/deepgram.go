// Package deepgram implements the streaming Recognizer using Deepgram's
// live transcription WebSocket API.
//
// Audio is sent as binary frames of linear16 PCM. Deepgram answers with
// "Results" messages carrying interim and final segments, which the stream
// folds into a cumulative transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
)

const keepAliveInterval = 5 * time.Second

// flushTimeout bounds how long Close waits for Deepgram to send the last
// results and hang up after CloseStream.
var flushTimeout = 3 * time.Second

// Recognizer opens Deepgram live transcription streams.
type Recognizer struct {
	apiKey     string
	endpoint   string
	model      string
	sampleRate int
	dialer     *websocket.Dialer
}

// New creates a Deepgram recognizer from config.
func New(cfg config.DeepgramConfig, sampleRate int) *Recognizer {
	return &Recognizer{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		sampleRate: sampleRate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Name returns the backend identifier.
func (r *Recognizer) Name() string { return "deepgram" }

// Start dials Deepgram and returns a stream for lang.
func (r *Recognizer) Start(ctx context.Context, lang language.Code) (stt.Stream, error) {
	u, err := r.listenURL(lang)
	if err != nil {
		return nil, speech.Wrap(r.Name(), "start", err)
	}

	header := http.Header{"Authorization": {"Token " + r.apiKey}}
	conn, resp, err := r.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, speech.Wrap(r.Name(), "start", fmt.Errorf("dialing deepgram: %w", err))
	}

	slog.Debug("deepgram stream opened", "language", lang, "model", r.model)

	s := &stream{
		conn:    conn,
		results: make(chan stt.Result, 16),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		abort:   make(chan struct{}),
	}
	go s.read()
	go s.keepAlive()
	return s, nil
}

func (r *Recognizer) listenURL(lang language.Code) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	if r.model != "" {
		q.Set("model", r.model)
	}
	q.Set("language", string(lang))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultsMessage is the subset of a Deepgram "Results" message we use.
type resultsMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	results chan stt.Result
	acc     stt.Accumulator

	closeOnce sync.Once
	closed    chan struct{} // no more audio
	done      chan struct{} // reader exited
	abort     chan struct{} // flush timed out

	errMu sync.Mutex
	err   error
}

func (s *stream) Send(pcm []byte) error {
	select {
	case <-s.closed:
		return errors.New("deepgram stream closed")
	default:
	}
	if len(pcm) == 0 {
		return nil
	}
	return s.write(websocket.BinaryMessage, pcm)
}

func (s *stream) Results() <-chan stt.Result { return s.results }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close asks Deepgram to flush. Final results keep arriving on Results
// until Deepgram hangs up or flushTimeout passes.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if werr := s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); werr == nil {
			select {
			case <-s.done:
			case <-time.After(flushTimeout):
				slog.Debug("deepgram flush timed out")
			}
		}
		close(s.abort)
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (s *stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(messageType, data)
}

func (s *stream) read() {
	defer close(s.done)
	defer close(s.results)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.setErr(speech.Wrap("deepgram", "receive", err))
				}
			}
			return
		}

		var msg resultsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("deepgram: ignoring undecodable message", "error", err)
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		segment := msg.Channel.Alternatives[0].Transcript
		if segment == "" && !msg.IsFinal {
			continue
		}

		res := stt.Result{Text: s.acc.Add(segment, msg.IsFinal), Final: msg.IsFinal}
		select {
		case s.results <- res:
		case <-s.abort:
			return
		}
	}
}

// keepAlive stops Deepgram from closing the stream while the client is silent.
func (s *stream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				slog.Debug("deepgram keepalive failed", "error", err)
				return
			}
		}
	}
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}
