package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/session"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
)

// handleAbout describes the service.
//
// @Summary     Service information
// @Description Product description, contact details and which capabilities are available.
// @Tags        meta
// @Produce     json
// @Success     200  {object}  message.About
// @Router      /about [get]
func (t *Transport) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, t.opts.About)
}

// handleLanguages lists the selectable languages.
//
// @Summary     Supported languages
// @Tags        meta
// @Produce     json
// @Success     200  {array}  message.LanguageInfo
// @Router      /languages [get]
func (t *Transport) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	var out []message.LanguageInfo
	for _, l := range language.All() {
		out = append(out, message.LanguageInfo{Code: string(l), Name: l.DisplayName()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSession opens a transcribe or speak session.
//
// @Summary     Create a session
// @Description A transcribe session turns microphone audio into text; a speak session reads text aloud.
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       request  body      message.CreateSessionRequest  true  "Session kind, owner and optional language"
// @Success     201      {object}  message.Snapshot
// @Failure     400      {object}  message.ErrorResponse
// @Router      /sessions [post]
func (t *Transport) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req message.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := message.ParseKind(string(req.Kind))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var lang language.Code
	if req.Language != "" {
		if lang, err = language.Parse(req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s, err := t.manager.Create(kind, req.Owner, lang)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+s.ID())
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// handleGetSession returns a session snapshot.
//
// @Summary     Get a session
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id} [get]
func (t *Transport) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleDeleteSession destroys a session, stopping any activity.
//
// @Summary     Delete a session
// @Tags        sessions
// @Param       id   path  string  true  "Session ID"
// @Success     204
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id} [delete]
func (t *Transport) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := t.manager.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLanguage selects the session language. The text is untouched.
//
// @Summary     Set the session language
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       id       path      string                   true  "Session ID"
// @Param       request  body      message.LanguageRequest  true  "Language code (en-US or am-ET)"
// @Success     200      {object}  message.Snapshot
// @Failure     400      {object}  message.ErrorResponse
// @Failure     404      {object}  message.ErrorResponse
// @Router      /sessions/{id}/language [put]
func (t *Transport) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	var req message.LanguageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lang, err := language.Parse(req.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.SetLanguage(lang)
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleToggleLanguage switches between English and Amharic.
//
// @Summary     Toggle the session language
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/language/toggle [post]
func (t *Transport) handleToggleLanguage(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	s.ToggleLanguage()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleSetText replaces the text of a speak session.
//
// @Summary     Set the text to speak
// @Tags        speak
// @Accept      json
// @Produce     json
// @Param       id       path      string               true  "Session ID"
// @Param       request  body      message.TextRequest  true  "Text"
// @Success     200      {object}  message.Snapshot
// @Failure     404      {object}  message.ErrorResponse
// @Failure     409      {object}  message.ErrorResponse  "Not a speak session"
// @Router      /sessions/{id}/text [put]
func (t *Transport) handleSetText(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	sp, err := session.AsSpeaker(s)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req message.TextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sp.SetText(req.Text)
	writeJSON(w, http.StatusOK, sp.Snapshot())
}

// handleStart begins listening on a transcribe session.
//
// @Summary     Start listening
// @Description Opens a recognition stream in the session language. Feed audio over the WebSocket or POST /audio.
// @Tags        transcribe
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Failure     409  {object}  message.ErrorResponse  "Not a transcribe session"
// @Failure     501  {object}  message.ErrorResponse  "Speech recognition unavailable"
// @Failure     502  {object}  message.ErrorResponse  "Recognizer failed"
// @Router      /sessions/{id}/start [post]
func (t *Transport) handleStart(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	l, err := session.AsListener(s)
	if err == nil {
		err = l.Start(r.Context())
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleStop ends listening or speaking. It always succeeds.
//
// @Summary     Stop listening or speaking
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/stop [post]
func (t *Transport) handleStop(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	s.Stop()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleSpeak synthesizes the session text in the background.
//
// @Summary     Speak the text
// @Description Returns immediately; the audio arrives as a WebSocket event and at GET /audio.
// @Tags        speak
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     202  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Failure     409  {object}  message.ErrorResponse  "Not a speak session"
// @Failure     501  {object}  message.ErrorResponse  "Speech synthesis unavailable"
// @Router      /sessions/{id}/speak [post]
func (t *Transport) handleSpeak(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	sp, err := session.AsSpeaker(s)
	if err == nil {
		err = sp.Speak(r.Context())
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

// handleClear empties the session text.
//
// @Summary     Clear the text
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  message.Snapshot
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/clear [post]
func (t *Transport) handleClear(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	s.Clear()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleCopy puts the session text on the owner's clipboard.
//
// @Summary     Copy the text
// @Description Read it back with GET /clipboard/{owner}. Failures are logged, never reported.
// @Tags        sessions
// @Param       id   path  string  true  "Session ID"
// @Success     202
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/copy [post]
func (t *Transport) handleCopy(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	s.Copy(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// handleShare publishes the session text to the configured destination.
//
// @Summary     Share the text
// @Description Failures are logged and yield an empty location.
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     202  {object}  message.ShareResponse
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/share [post]
func (t *Transport) handleShare(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	receipt := s.Share(r.Context())
	writeJSON(w, http.StatusAccepted, message.ShareResponse{Location: receipt.Location})
}

// handleFeedAudio forwards raw PCM to a listening session.
//
// @Summary     Feed microphone audio
// @Description Body is 16-bit little-endian mono PCM at the configured sample rate.
// @Tags        transcribe
// @Accept      application/octet-stream
// @Param       id   path  string  true  "Session ID"
// @Success     204
// @Failure     404  {object}  message.ErrorResponse
// @Failure     409  {object}  message.ErrorResponse  "Not listening"
// @Router      /sessions/{id}/audio [post]
func (t *Transport) handleFeedAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	l, err := session.AsListener(s)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	pcm, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading audio: %w", err))
		return
	}
	if err := l.Feed(pcm); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLastAudio returns the last synthesized utterance.
//
// @Summary     Get the last utterance
// @Description Raw audio by default; ?format=json returns it base64-encoded.
// @Tags        speak
// @Produce     audio/wav
// @Produce     json
// @Param       id      path      string  true   "Session ID"
// @Param       format  query     string  false  "json for a base64 body"
// @Success     200     {object}  message.AudioResponse
// @Failure     404     {object}  message.ErrorResponse
// @Failure     409     {object}  message.ErrorResponse  "Not a speak session"
// @Router      /sessions/{id}/audio [get]
func (t *Transport) handleLastAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	sp, err := session.AsSpeaker(s)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, ok := sp.LastAudio()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("nothing has been spoken yet"))
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, message.NewAudioResponse(res.Audio, res.ContentType))
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio)
}

// handleClipboard returns what owner last copied.
//
// @Summary     Read the clipboard
// @Tags        sessions
// @Produce     json
// @Param       owner  path      string  true  "Owner"
// @Success     200    {object}  message.ClipboardResponse
// @Failure     404    {object}  message.ErrorResponse
// @Router      /clipboard/{owner} [get]
func (t *Transport) handleClipboard(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	text, err := t.clipboard.Text(r.Context(), owner)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, message.ClipboardResponse{Owner: owner, Text: text})
}

func (t *Transport) lookup(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	s, err := t.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return s, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var adapterErr *speech.AdapterError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, share.ErrEmptyClipboard):
		return http.StatusNotFound
	case errors.Is(err, session.ErrWrongKind), errors.Is(err, session.ErrNotListening), errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, language.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrCapabilityUnavailable):
		return http.StatusNotImplemented
	case errors.As(err, &adapterErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		slog.Error("request failed", "status", status, "error", err)
	}
	resp := message.ErrorResponse{Error: speech.Public(err)}
	if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}
	if status == http.StatusNotImplemented || status == http.StatusBadGateway {
		resp.Kind = speech.Kind(err)
	}
	writeJSON(w, status, resp)
}
