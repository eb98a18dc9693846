package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/session"
	"github.com/exiyom/ihear/internal/speech"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleWebSocket attaches a client to a session.
//
// Binary frames from the client are PCM audio for a listening session;
// text frames are JSON commands. The server sends every session event as a
// JSON text frame. When the last attached socket closes, any listening or
// speaking stops.
//
// @Summary     Session event stream
// @Description WebSocket upgrade. Client binary frames: PCM audio. Client text frames: message.Command. Server frames: message.Event.
// @Tags        sessions
// @Param       id   path  string  true  "Session ID"
// @Success     101
// @Failure     404  {object}  message.ErrorResponse
// @Router      /sessions/{id}/ws [get]
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := t.lookup(w, r)
	if !ok {
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "session_id", s.ID(), "error", err)
		return
	}
	log := slog.With("session_id", s.ID(), "remote", r.RemoteAddr)
	log.Info("websocket client attached")

	events, unsubscribe := s.Subscribe()
	replies := make(chan message.Event, 8)
	done := make(chan struct{})
	go writeLoop(conn, events, replies, done)

	readLoop(r.Context(), conn, s, replies, done)

	unsubscribe()
	<-done
	_ = conn.Close()
	if s.Subscribers() == 0 {
		s.Stop()
	}
	log.Info("websocket client detached")
}

// writeLoop is the only writer on conn. It returns when the session's
// event channel closes or a write fails.
func writeLoop(conn *websocket.Conn, events <-chan message.Event, replies <-chan message.Event, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(ev message.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				// Unblock the reader.
				_ = conn.Close()
				return
			}
			if err := write(ev); err != nil {
				_ = conn.Close()
				return
			}
		case ev := <-replies:
			if err := write(ev); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, s session.Session, replies chan<- message.Event, done <-chan struct{}) {
	conn.SetReadLimit(maxAudioBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := func(err error) {
		select {
		case replies <- message.Event{Type: message.EventError, Error: speech.Public(err), ErrorKind: speech.Kind(err)}:
		case <-done:
		}
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "session_id", s.ID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.BinaryMessage:
			l, err := session.AsListener(s)
			if err == nil {
				err = l.Feed(data)
			}
			if err != nil {
				reply(err)
			}
		case websocket.TextMessage:
			cmd, err := message.DecodeCommand(data)
			if err == nil {
				err = apply(ctx, s, cmd)
			}
			if err != nil {
				reply(err)
			}
		}
	}
}

// apply runs one client command against s.
func apply(ctx context.Context, s session.Session, cmd message.Command) error {
	switch cmd.Action {
	case message.ActionStart:
		l, err := session.AsListener(s)
		if err != nil {
			return err
		}
		return l.Start(ctx)
	case message.ActionStop:
		s.Stop()
	case message.ActionSpeak:
		sp, err := session.AsSpeaker(s)
		if err != nil {
			return err
		}
		if cmd.Text != "" {
			sp.SetText(cmd.Text)
		}
		return sp.Speak(ctx)
	case message.ActionSetText:
		sp, err := session.AsSpeaker(s)
		if err != nil {
			return err
		}
		sp.SetText(cmd.Text)
	case message.ActionClear:
		s.Clear()
	case message.ActionCopy:
		s.Copy(ctx)
	case message.ActionShare:
		s.Share(ctx)
	case message.ActionSetLanguage:
		lang, err := language.Parse(cmd.Language)
		if err != nil {
			return err
		}
		s.SetLanguage(lang)
	case message.ActionToggle:
		s.ToggleLanguage()
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	return nil
}
