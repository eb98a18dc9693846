// iHear serves speech-to-text and text-to-speech sessions in English and
// Amharic to browser and phone clients.
//
// Usage:
//
//	ihear [flags]
//	ihear -config /path/to/ihear.yaml
//
// @title       iHear API
// @version     1.0.0
// @description Speech-to-text and text-to-speech sessions for English and Amharic.
// @contact.name  EXIYOM Tech Solutions
// @contact.url   https://exiyom.com
// @contact.email support@exiyom.com
// @BasePath    /v1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/health"
	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
	"github.com/exiyom/ihear/internal/session"
	"github.com/exiyom/ihear/internal/share"
	s3share "github.com/exiyom/ihear/internal/share/s3"
	telegramshare "github.com/exiyom/ihear/internal/share/telegram"
	webhookshare "github.com/exiyom/ihear/internal/share/webhook"
	"github.com/exiyom/ihear/internal/stt"
	"github.com/exiyom/ihear/internal/stt/deepgram"
	openaistt "github.com/exiyom/ihear/internal/stt/openai"
	"github.com/exiyom/ihear/internal/stt/whisper"
	"github.com/exiyom/ihear/internal/transport"
	grpctransport "github.com/exiyom/ihear/internal/transport/grpc"
	httptransport "github.com/exiyom/ihear/internal/transport/http"
	"github.com/exiyom/ihear/internal/tts"
	"github.com/exiyom/ihear/internal/tts/elevenlabs"
	openaitts "github.com/exiyom/ihear/internal/tts/openai"
	"github.com/exiyom/ihear/internal/tts/piper"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/ihear.local.yaml)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ihear %s\n", version)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("ihear starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recognizer := newRecognizer(cfg.STT)
	synth := newSynthesizer(cfg.TTS)
	defer synth.Close()
	sharer, err := newSharer(cfg.Share)
	if err != nil {
		slog.Error("failed to initialize share backend", "backend", cfg.Share.Backend, "error", err)
		os.Exit(1)
	}

	defaultLang, _ := language.Parse(cfg.Sessions.DefaultLanguage)
	clipboard := share.NewMemory()
	manager := session.NewManager(session.Deps{
		Recognizer:   recognizer,
		Synthesizer:  synth,
		Clipboard:    clipboard,
		Sharer:       sharer,
		SpeakTimeout: cfg.TTS.Timeout,
	}, defaultLang)
	defer manager.Close()

	stopSweeper, err := manager.StartSweeper(cfg.Sessions.SweepSchedule, cfg.Sessions.IdleTTL)
	if err != nil {
		slog.Error("failed to start session sweeper", "error", err)
		os.Exit(1)
	}
	defer stopSweeper()

	// Initialize enabled transports.
	var transports []transport.Transport
	var grpcTransport *grpctransport.Transport

	if cfg.Transports.GRPC.Enabled {
		grpcTransport = grpctransport.New(cfg.Transports.GRPC.Port)
		transports = append(transports, grpcTransport)
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(httptransport.Options{
			Port:           cfg.Transports.HTTP.Port,
			AllowedOrigins: cfg.Transports.HTTP.AllowedOrigins,
			RateLimit:      cfg.Transports.HTTP.RateLimit,
			About: message.About{
				Name:        "iHear",
				Description: "iHear is a speech-to-text and text-to-speech application designed to help bridge communication gaps, particularly for the deaf community. Supporting both English and Amharic languages.",
				Version:     version,
				Developer:   "Ananya Addisu",
				Company:     "EXIYOM Tech Solutions",
				Contact: message.Contact{
					Email:      "support@exiyom.com",
					Website:    "https://exiyom.com",
					Repository: "https://github.com/exiyom/ihear",
				},
				Capabilities: message.Capabilities{
					Recognition: recognizer.Name(),
					Synthesis:   synth.Name(),
					Sharing:     sharer.Name(),
				},
			},
		}, manager, clipboard))
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, manager.Len)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("ihear ready",
		"transports", len(transports),
		"stt", recognizer.Name(),
		"tts", synth.Name(),
		"share", sharer.Name(),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)
	if grpcTransport != nil {
		grpcTransport.SetServing(false)
	}

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("ihear stopped")
}

func newRecognizer(cfg config.STTConfig) stt.Recognizer {
	switch cfg.Backend {
	case "deepgram":
		slog.Info("using Deepgram recognizer", "model", cfg.Deepgram.Model)
		return deepgram.New(cfg.Deepgram, cfg.SampleRate)
	case "whisper":
		slog.Info("using Whisper recognizer", "endpoint", cfg.Whisper.Endpoint, "type", cfg.Whisper.Type)
		return whisper.New(cfg)
	case "openai":
		slog.Info("using OpenAI recognizer", "model", cfg.OpenAI.Model)
		return openaistt.New(cfg)
	default:
		slog.Warn("speech recognition disabled")
		return stt.Unavailable{}
	}
}

func newSynthesizer(cfg config.TTSConfig) tts.Synthesizer {
	switch cfg.Backend {
	case "piper":
		slog.Info("using Piper synthesizer", "endpoint", cfg.Piper.Endpoint)
		return piper.New(cfg.Piper)
	case "openai":
		slog.Info("using OpenAI synthesizer", "model", cfg.OpenAI.Model, "voice", cfg.OpenAI.Voice)
		return openaitts.New(cfg.OpenAI)
	case "elevenlabs":
		slog.Info("using ElevenLabs synthesizer", "model", cfg.ElevenLabs.ModelID)
		return elevenlabs.New(cfg.ElevenLabs)
	default:
		slog.Warn("speech synthesis disabled")
		return tts.Unavailable{}
	}
}

func newSharer(cfg config.ShareConfig) (share.Sharer, error) {
	switch cfg.Backend {
	case "s3":
		slog.Info("sharing to object storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
		return s3share.New(cfg.S3)
	case "telegram":
		return telegramshare.New(cfg.Telegram)
	case "webhook":
		slog.Info("sharing to webhook", "endpoint", cfg.Webhook.Endpoint)
		return webhookshare.New(cfg.Webhook), nil
	default:
		slog.Warn("sharing disabled")
		return share.Unavailable{}, nil
	}
}
