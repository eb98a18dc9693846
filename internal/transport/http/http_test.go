package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/session"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
	"github.com/exiyom/ihear/internal/stt"
	"github.com/exiyom/ihear/internal/tts"
)

type stubStream struct {
	results chan stt.Result

	mu     sync.Mutex
	audio  []byte
	closed bool
}

func (s *stubStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm...)
	// Echo the byte count back as a transcript.
	if !s.closed {
		s.results <- stt.Result{Text: fmt.Sprintf("heard %d bytes", len(s.audio))}
	}
	return nil
}

func (s *stubStream) Results() <-chan stt.Result { return s.results }
func (s *stubStream) Err() error                 { return nil }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

type stubRecognizer struct{}

func (stubRecognizer) Name() string { return "stub" }

func (stubRecognizer) Start(context.Context, language.Code) (stt.Stream, error) {
	return &stubStream{results: make(chan stt.Result, 16)}, nil
}

type stubSynth struct{}

func (stubSynth) Name() string { return "stub" }
func (stubSynth) Close() error { return nil }

func (stubSynth) Synthesize(_ context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	return &tts.SynthesizeResult{Audio: []byte(string(opts.Language) + ":" + text), ContentType: "audio/wav"}, nil
}

type fixture struct {
	server  *httptest.Server
	manager *session.Manager
}

func newFixture(t *testing.T, deps session.Deps) *fixture {
	t.Helper()
	if deps.Clipboard == nil {
		deps.Clipboard = share.NewMemory()
	}
	m := session.NewManager(deps, language.English)
	tr := New(Options{
		AllowedOrigins: []string{"*"},
		RateLimit:      1000,
		About: message.About{
			Name:         "iHear",
			Version:      "test",
			Capabilities: message.Capabilities{Recognition: "stub", Synthesis: "stub", Sharing: "none"},
		},
	}, m, deps.Clipboard)
	ts := httptest.NewServer(tr.Router())
	t.Cleanup(func() {
		ts.Close()
		m.Close()
	})
	return &fixture{server: ts, manager: m}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) create(t *testing.T, kind message.Kind, owner string) message.Snapshot {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/v1/sessions", message.CreateSessionRequest{Kind: kind, Owner: owner})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var snap message.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, "/v1/sessions/"+snap.ID, resp.Header.Get("Location"))
	return snap
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestMeta(t *testing.T) {
	f := newFixture(t, session.Deps{})

	resp, data := f.do(t, http.MethodGet, "/v1/about", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	about := decode[message.About](t, data)
	require.Equal(t, "iHear", about.Name)
	require.Equal(t, "stub", about.Capabilities.Recognition)

	resp, data = f.do(t, http.MethodGet, "/v1/languages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []message.LanguageInfo{
		{Code: "en-US", Name: "English"},
		{Code: "am-ET", Name: "አማርኛ"},
	}, decode[[]message.LanguageInfo](t, data))

	resp, data = f.do(t, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(data), "iHear API")
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, session.Deps{})

	snap := f.create(t, message.KindTranscribe, "alice")
	require.Equal(t, message.KindTranscribe, snap.Kind)
	require.Equal(t, message.StatusIdle, snap.Status)
	require.Equal(t, "en-US", snap.Language)

	resp, data := f.do(t, http.MethodPost, "/v1/sessions", message.CreateSessionRequest{Kind: message.KindSpeak, Language: "am"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "am-ET", decode[message.Snapshot](t, data).Language)

	tcs := []struct {
		name string
		body any
		want string
	}{
		{name: "bad kind", body: message.CreateSessionRequest{Kind: "sing"}, want: `unknown session kind "sing"`},
		{name: "bad language", body: message.CreateSessionRequest{Kind: message.KindSpeak, Language: "fr"}, want: `unsupported language: "fr"`},
		{name: "bad json", body: []byte("{"), want: "invalid json: unexpected EOF"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := f.do(t, http.MethodPost, "/v1/sessions", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, tc.want, decode[message.ErrorResponse](t, data).Error)
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t, session.Deps{})
	for _, path := range []string{"/v1/sessions/nope", "/v1/sessions/nope/audio"} {
		resp, data := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "session not found", decode[message.ErrorResponse](t, data).Error)
	}
	resp, _ := f.do(t, http.MethodPost, "/v1/sessions/nope/start", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranscribeFlow(t *testing.T) {
	f := newFixture(t, session.Deps{Recognizer: stubRecognizer{}})
	id := f.create(t, message.KindTranscribe, "alice").ID
	base := "/v1/sessions/" + id

	resp, _ := f.do(t, http.MethodPost, base+"/audio", []byte{1, 2})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, data := f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, message.StatusListening, decode[message.Snapshot](t, data).Status)

	resp, _ = f.do(t, http.MethodPost, base+"/audio", []byte{1, 2, 3, 4})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, data := f.do(t, http.MethodGet, base, nil)
		return decode[message.Snapshot](t, data).Text == "heard 4 bytes"
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = f.do(t, http.MethodPut, base+"/text", message.TextRequest{Text: "x"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, base+"/speak", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, data = f.do(t, http.MethodPost, base+"/language/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[message.Snapshot](t, data)
	require.Equal(t, "am-ET", snap.Language)
	require.Equal(t, "heard 4 bytes", snap.Text)
	require.Equal(t, 3, snap.WordCount)

	resp, data = f.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, message.StatusIdle, decode[message.Snapshot](t, data).Status)
	resp, _ = f.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, base+"/copy", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, data = f.do(t, http.MethodGet, "/v1/clipboard/alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, message.ClipboardResponse{Owner: "alice", Text: "heard 4 bytes"}, decode[message.ClipboardResponse](t, data))

	resp, data = f.do(t, http.MethodPost, base+"/share", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, message.ShareResponse{}, decode[message.ShareResponse](t, data))

	resp, data = f.do(t, http.MethodPost, base+"/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[message.Snapshot](t, data)
	require.Equal(t, "", snap.Text)
	require.Zero(t, snap.CharCount)

	resp, _ = f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCapabilityUnavailable(t *testing.T) {
	f := newFixture(t, session.Deps{})

	id := f.create(t, message.KindTranscribe, "").ID
	resp, data := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/start", nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	require.Equal(t, message.ErrorResponse{
		Error: "speech recognition: capability unavailable",
		Kind:  "capability_unavailable",
	}, decode[message.ErrorResponse](t, data))

	_, data = f.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, message.StatusIdle, decode[message.Snapshot](t, data).Status)

	id = f.create(t, message.KindSpeak, "").ID
	resp, _ = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/speak", nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

type failingRecognizer struct{}

func (failingRecognizer) Name() string { return "stub" }

func (failingRecognizer) Start(context.Context, language.Code) (stt.Stream, error) {
	return nil, speech.Wrap("stub", "start", errors.New("status 401 at https://stt.local/v1 key=sk-XYZ"))
}

func TestAdapterErrorHidesDetail(t *testing.T) {
	f := newFixture(t, session.Deps{Recognizer: failingRecognizer{}})
	id := f.create(t, message.KindTranscribe, "").ID

	resp, data := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/start", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, message.ErrorResponse{
		Error: "speech recognition failed",
		Kind:  "adapter",
	}, decode[message.ErrorResponse](t, data))
	require.NotContains(t, string(data), "sk-XYZ")

	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(message.Command{Action: message.ActionStart}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev message.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == message.EventError {
			require.Equal(t, "speech recognition failed", ev.Error)
			require.Equal(t, "adapter", ev.ErrorKind)
			break
		}
	}
}

func TestSpeakFlow(t *testing.T) {
	f := newFixture(t, session.Deps{Synthesizer: stubSynth{}})
	id := f.create(t, message.KindSpeak, "bob").ID
	base := "/v1/sessions/" + id

	resp, _ := f.do(t, http.MethodGet, base+"/audio", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data := f.do(t, http.MethodPut, base+"/language", message.LanguageRequest{Language: "am-ET"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, base+"/language", message.LanguageRequest{Language: "xx"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = f.do(t, http.MethodPut, base+"/text", message.TextRequest{Text: "ሰላም ለዓለም"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[message.Snapshot](t, data)
	require.Equal(t, 2, snap.WordCount)
	require.Equal(t, 8, snap.CharCount)

	resp, _ = f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, base+"/speak", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, _ := f.do(t, http.MethodGet, base+"/audio", nil)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, data = f.do(t, http.MethodGet, base+"/audio", nil)
	require.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	require.Equal(t, "am-ET:ሰላም ለዓለም", string(data))

	_, data = f.do(t, http.MethodGet, base+"/audio?format=json", nil)
	require.Equal(t, message.NewAudioResponse([]byte("am-ET:ሰላም ለዓለም"), "audio/wav"), decode[message.AudioResponse](t, data))
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, session.Deps{Synthesizer: stubSynth{}, Recognizer: stubRecognizer{}})
	speakID := f.create(t, message.KindSpeak, "").ID

	dial := func(id string) *websocket.Conn {
		u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/sessions/" + id + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	next := func(conn *websocket.Conn, match func(message.Event) bool) message.Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var ev message.Event
			require.NoError(t, conn.ReadJSON(&ev))
			if match(ev) {
				return ev
			}
		}
	}

	conn := dial(speakID)
	first := next(conn, func(message.Event) bool { return true })
	require.Equal(t, message.EventSnapshot, first.Type)
	require.Equal(t, speakID, first.Snapshot.ID)

	require.NoError(t, conn.WriteJSON(message.Command{Action: message.ActionSetText, Text: "Hello world"}))
	ev := next(conn, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Text == "Hello world" })
	require.Equal(t, 11, ev.Snapshot.CharCount)

	require.NoError(t, conn.WriteJSON(message.Command{Action: message.ActionSpeak}))
	ev = next(conn, func(ev message.Event) bool { return ev.Type == message.EventAudio })
	require.Equal(t, []byte("en-US:Hello world"), ev.Audio)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	ev = next(conn, func(ev message.Event) bool { return ev.Type == message.EventError })
	require.Contains(t, ev.Error, "cannot listen")

	require.NoError(t, conn.WriteJSON(message.Command{Action: "dance"}))
	ev = next(conn, func(ev message.Event) bool { return ev.Type == message.EventError })
	require.Equal(t, `unknown action "dance"`, ev.Error)

	// Audio frames drive a transcribe session; closing the socket stops it.
	listenID := f.create(t, message.KindTranscribe, "").ID
	lconn := dial(listenID)
	require.NoError(t, lconn.WriteJSON(message.Command{Action: message.ActionStart}))
	next(lconn, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Status == message.StatusListening })
	require.NoError(t, lconn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))
	next(lconn, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Text == "heard 320 bytes" })

	// A second client on the same session keeps it listening when the
	// first one leaves.
	other := dial(listenID)
	next(other, func(ev message.Event) bool { return ev.Type == message.EventSnapshot })
	sess, err := f.manager.Get(listenID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, lconn.Close())
	require.Eventually(t, func() bool { return sess.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, other.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))
	next(other, func(ev message.Event) bool { return ev.Snapshot != nil && ev.Snapshot.Text == "heard 640 bytes" })
	require.Equal(t, message.StatusListening, sess.Snapshot().Status)

	require.NoError(t, other.Close())
	require.Eventually(t, func() bool {
		return sess.Snapshot().Status == message.StatusIdle
	}, 2*time.Second, 10*time.Millisecond)

	// Deleting the session closes the socket.
	require.NoError(t, f.manager.Delete(speakID))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
}

func TestStatusFor(t *testing.T) {
	tcs := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{share.ErrEmptyClipboard, http.StatusNotFound},
		{fmt.Errorf("%w: x", session.ErrWrongKind), http.StatusConflict},
		{session.ErrNotListening, http.StatusConflict},
		{fmt.Errorf("%w: %q", language.ErrUnsupported, "fr"), http.StatusBadRequest},
		{fmt.Errorf("tts: %w", speech.ErrCapabilityUnavailable), http.StatusNotImplemented},
		{speech.Wrap("deepgram", "start", errors.New("dial")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tcs {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
