// Package http implements the HTTP/WebSocket transport for ihear.
//
// This transport exposes a REST API that drives sessions one call at a
// time and a WebSocket endpoint per session that carries microphone audio
// up and session events down. It is what browser and phone clients use.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/exiyom/ihear/internal/docs"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/session"
	"github.com/exiyom/ihear/internal/share"
)

// maxBodyBytes bounds JSON bodies; maxAudioBytes bounds one PCM upload.
const (
	maxBodyBytes  = 1 << 20
	maxAudioBytes = 4 << 20
)

// Options configures the HTTP transport.
type Options struct {
	Port           int
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
	About     message.About
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	opts      Options
	manager   *session.Manager
	clipboard share.Clipboard
	upgrader  websocket.Upgrader
	server    *http.Server
}

// New creates a new HTTP transport serving manager's sessions.
func New(opts Options, manager *session.Manager, clipboard share.Clipboard) *Transport {
	t := &Transport{opts: opts, manager: manager, clipboard: clipboard}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 16 << 10,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Router builds the API handler.
func (t *Transport) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: t.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(api chi.Router) {
		if t.opts.RateLimit > 0 {
			api.Use(httprate.LimitByIP(t.opts.RateLimit, time.Minute))
		}

		api.Get("/about", t.handleAbout)
		api.Get("/languages", t.handleLanguages)
		api.Get("/clipboard/{owner}", t.handleClipboard)

		api.Post("/sessions", t.handleCreateSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", t.handleGetSession)
			sr.Delete("/", t.handleDeleteSession)
			sr.Put("/language", t.handleSetLanguage)
			sr.Post("/language/toggle", t.handleToggleLanguage)
			sr.Put("/text", t.handleSetText)
			sr.Post("/start", t.handleStart)
			sr.Post("/stop", t.handleStop)
			sr.Post("/speak", t.handleSpeak)
			sr.Post("/clear", t.handleClear)
			sr.Post("/copy", t.handleCopy)
			sr.Post("/share", t.handleShare)
			sr.Post("/audio", t.handleFeedAudio)
			sr.Get("/audio", t.handleLastAudio)
			sr.Get("/ws", t.handleWebSocket)
		})
	})

	// Swagger UI serves the OpenAPI docs registered by internal/docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// Listen starts the HTTP server.
func (t *Transport) Listen(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.opts.Port),
		Handler:           t.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.opts.Port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(t.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(t.opts.AllowedOrigins, origin)
}
