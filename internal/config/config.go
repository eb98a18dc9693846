// Package config handles loading and validating the ihear configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/exiyom/ihear/internal/language"
)

// Config is the root configuration for the ihear daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	STT        STTConfig        `mapstructure:"stt"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Share      ShareConfig      `mapstructure:"share"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC health transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket API.
type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      int      `mapstructure:"rate_limit"` // requests per minute per IP, 0 disables
}

// STTConfig selects and configures the speech recognition backend.
type STTConfig struct {
	Backend        string         `mapstructure:"backend"` // "deepgram", "whisper", "openai" or "none"
	SampleRate     int            `mapstructure:"sample_rate"`
	SegmentSeconds float64        `mapstructure:"segment_seconds"`
	WindowSeconds  float64        `mapstructure:"window_seconds"`
	Deepgram       DeepgramConfig `mapstructure:"deepgram"`
	Whisper        WhisperConfig  `mapstructure:"whisper"`
	OpenAI         OpenAIConfig   `mapstructure:"openai"`
}

// DeepgramConfig holds Deepgram streaming settings.
type DeepgramConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// WhisperConfig holds self-hosted Whisper settings.
type WhisperConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Type     string `mapstructure:"type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	Model    string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings, shared by the STT and TTS backends.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Voice   string `mapstructure:"voice"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Backend    string           `mapstructure:"backend"` // "piper", "openai", "elevenlabs" or "none"
	Timeout    time.Duration    `mapstructure:"timeout"`
	Piper      PiperConfig      `mapstructure:"piper"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints. Endpoints takes precedence and Endpoint
// is the fallback.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// ElevenLabsConfig holds ElevenLabs settings.
type ElevenLabsConfig struct {
	APIKey   string            `mapstructure:"api_key"`
	BaseURL  string            `mapstructure:"base_url"`
	ModelID  string            `mapstructure:"model_id"`
	VoiceIDs map[string]string `mapstructure:"voice_ids"` // ISO-639-1 code -> voice ID
}

// ShareConfig selects where shared transcripts go.
type ShareConfig struct {
	Backend  string         `mapstructure:"backend"` // "s3", "telegram", "webhook" or "none"
	S3       S3Config       `mapstructure:"s3"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// S3Config holds object storage settings for shared transcripts.
type S3Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	Region    string        `mapstructure:"region"`
	Secure    bool          `mapstructure:"secure"`
	LinkTTL   time.Duration `mapstructure:"link_ttl"`
}

// TelegramConfig holds the bot that posts shared transcripts to a chat.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// WebhookConfig holds the endpoint that receives shared transcripts.
type WebhookConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// SessionsConfig controls session lifetime.
type SessionsConfig struct {
	DefaultLanguage string        `mapstructure:"default_language"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	SweepSchedule   string        `mapstructure:"sweep_schedule"` // robfig cron expression
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./ihear.yaml, ./configs/ihear.yaml, /etc/ihear/ihear.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ihear")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ihear")
	}

	// Environment variables: IHEAR_SERVER_HEALTH_PORT, IHEAR_STT_BACKEND, etc.
	v.SetEnvPrefix("IHEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; env vars and defaults are sufficient.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.resolveSecrets()

	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.allowed_origins", []string{"*"})
	v.SetDefault("transports.http.rate_limit", 600)
	v.SetDefault("stt.backend", "none")
	v.SetDefault("stt.sample_rate", 16000)
	v.SetDefault("stt.segment_seconds", 2.0)
	v.SetDefault("stt.window_seconds", 20.0)
	v.SetDefault("stt.deepgram.endpoint", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("stt.deepgram.model", "nova-2")
	v.SetDefault("stt.whisper.endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("stt.whisper.type", "openai")
	v.SetDefault("stt.openai.model", "whisper-1")
	v.SetDefault("tts.backend", "none")
	v.SetDefault("tts.timeout", 30*time.Second)
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("tts.openai.model", "tts-1")
	v.SetDefault("tts.openai.voice", "alloy")
	v.SetDefault("tts.elevenlabs.base_url", "https://api.elevenlabs.io")
	v.SetDefault("tts.elevenlabs.model_id", "eleven_multilingual_v2")
	v.SetDefault("share.backend", "none")
	v.SetDefault("share.s3.secure", true)
	v.SetDefault("share.s3.link_ttl", 24*time.Hour)
	v.SetDefault("sessions.default_language", string(language.Default))
	v.SetDefault("sessions.idle_ttl", 30*time.Minute)
	v.SetDefault("sessions.sweep_schedule", "@every 1m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) resolveSecrets() {
	c.STT.Deepgram.APIKey = resolveEnvRef(c.STT.Deepgram.APIKey)
	c.STT.OpenAI.APIKey = resolveEnvRef(c.STT.OpenAI.APIKey)
	c.TTS.OpenAI.APIKey = resolveEnvRef(c.TTS.OpenAI.APIKey)
	c.TTS.ElevenLabs.APIKey = resolveEnvRef(c.TTS.ElevenLabs.APIKey)
	c.Share.S3.AccessKey = resolveEnvRef(c.Share.S3.AccessKey)
	c.Share.S3.SecretKey = resolveEnvRef(c.Share.S3.SecretKey)
	c.Share.Telegram.Token = resolveEnvRef(c.Share.Telegram.Token)
	c.Share.Webhook.Token = resolveEnvRef(c.Share.Webhook.Token)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// IsValid checks the configuration of every section.
func (c Config) IsValid() error {
	if !c.Transports.HTTP.Enabled && !c.Transports.GRPC.Enabled {
		return fmt.Errorf("no transports enabled")
	}
	if err := c.STT.IsValid(); err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	if err := c.TTS.IsValid(); err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	if err := c.Share.IsValid(); err != nil {
		return fmt.Errorf("share: %w", err)
	}
	if err := c.Sessions.IsValid(); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// IsValid checks the selected recognition backend has what it needs.
func (c STTConfig) IsValid() error {
	switch c.Backend {
	case "none":
		return nil
	case "deepgram":
		if c.Deepgram.APIKey == "" {
			return fmt.Errorf("deepgram.api_key should not be empty")
		}
		if c.Deepgram.Endpoint == "" {
			return fmt.Errorf("deepgram.endpoint should not be empty")
		}
	case "whisper":
		if c.Whisper.Endpoint == "" {
			return fmt.Errorf("whisper.endpoint should not be empty")
		}
		if c.Whisper.Type != "openai" && c.Whisper.Type != "asr" {
			return fmt.Errorf("whisper.type %q is not valid", c.Whisper.Type)
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key should not be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate should be positive")
	}
	if c.SegmentSeconds <= 0 || c.WindowSeconds < c.SegmentSeconds {
		return fmt.Errorf("window_seconds should be at least segment_seconds")
	}
	return nil
}

// IsValid checks the selected synthesis backend has what it needs.
func (c TTSConfig) IsValid() error {
	switch c.Backend {
	case "none":
		return nil
	case "piper":
		if c.Piper.Endpoint == "" && len(c.Piper.Endpoints) == 0 {
			return fmt.Errorf("piper.endpoint should not be empty")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key should not be empty")
		}
	case "elevenlabs":
		if c.ElevenLabs.APIKey == "" {
			return fmt.Errorf("elevenlabs.api_key should not be empty")
		}
		if len(c.ElevenLabs.VoiceIDs) == 0 {
			return fmt.Errorf("elevenlabs.voice_ids should not be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout should be positive")
	}
	return nil
}

// IsValid checks the selected share backend has what it needs.
func (c ShareConfig) IsValid() error {
	switch c.Backend {
	case "none":
	case "s3":
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3.endpoint and s3.bucket should not be empty")
		}
	case "telegram":
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token should not be empty")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id should not be empty")
		}
	case "webhook":
		if c.Webhook.Endpoint == "" {
			return fmt.Errorf("webhook.endpoint should not be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// IsValid checks session lifetime settings.
func (c SessionsConfig) IsValid() error {
	if _, err := language.Parse(c.DefaultLanguage); err != nil {
		return fmt.Errorf("default_language: %w", err)
	}
	if c.IdleTTL <= 0 {
		return fmt.Errorf("idle_ttl should be positive")
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		return fmt.Errorf("sweep_schedule: %w", err)
	}
	return nil
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
