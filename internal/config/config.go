package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RecognizerDeepgram = "deepgram"
	RecognizerGoogle   = "google"

	maxHistoryLimit = 500
)

// Config stores runtime configuration for the desktop app and CLI.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Google     GoogleConfig     `yaml:"google"`
	Audio      AudioConfig      `yaml:"audio"`
	Capture    CaptureConfig    `yaml:"capture"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Dev        bool             `yaml:"dev"`

	// Source is the YAML file that was applied, if any.
	Source string `yaml:"-"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
	HydrateHistory bool          `yaml:"hydrate_history"`
}

type RecognizerConfig struct {
	Provider string `yaml:"provider"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
	Endpointing int    `yaml:"endpointing_ms"`
}

type GoogleConfig struct {
	Language string `yaml:"language"`
	Model    string `yaml:"model"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"ffmpeg_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type CaptureConfig struct {
	RetryLimit      int           `yaml:"retry_limit"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr of the /metrics listener; empty disables it.
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:       "http://localhost:5000",
			HealthTimeout: 3 * time.Second,
			HistoryLimit:  100,
		},
		Recognizer: RecognizerConfig{Provider: RecognizerDeepgram},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Google: GoogleConfig{Language: "en-US"},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Capture: CaptureConfig{
			RetryLimit:      3,
			RetryBackoff:    time.Second,
			NoSpeechTimeout: 8 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Kafka:   KafkaConfig{Topic: "parley.turns"},
	}
}

// Load resolves defaults, then the YAML file named by PARLEY_CONFIG (or
// the first of ~/.config/parley/config.yaml and ~/.parley.yaml that exists),
// then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	path := strings.TrimSpace(os.Getenv("PARLEY_CONFIG"))
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = firstExisting(
				filepath.Join(home, ".config", "parley", "config.yaml"),
				filepath.Join(home, ".parley.yaml"),
			)
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.Source = path
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.API.BaseURL = envOrDefault("PARLEY_API_BASE", cfg.API.BaseURL)
	cfg.API.RequestTimeout = envOrDefaultMillis("PARLEY_REQUEST_TIMEOUT_MS", cfg.API.RequestTimeout)
	cfg.API.HealthTimeout = envOrDefaultMillis("PARLEY_HEALTH_TIMEOUT_MS", cfg.API.HealthTimeout)
	cfg.API.HistoryLimit = envOrDefaultInt("PARLEY_HISTORY_LIMIT", cfg.API.HistoryLimit)
	cfg.API.HydrateHistory = envOrDefaultBool("PARLEY_HISTORY_HYDRATE", cfg.API.HydrateHistory)

	cfg.Recognizer.Provider = strings.ToLower(envOrDefault("PARLEY_RECOGNIZER", cfg.Recognizer.Provider))

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Endpointing = envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", cfg.Deepgram.Endpointing)

	cfg.Google.Language = envOrDefault("PARLEY_GOOGLE_LANGUAGE", cfg.Google.Language)
	cfg.Google.Model = envOrDefault("PARLEY_GOOGLE_MODEL", cfg.Google.Model)

	cfg.Audio.RecorderCommand = envOrDefault("PARLEY_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("PARLEY_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("PARLEY_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("PARLEY_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("PARLEY_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("PARLEY_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Capture.RetryLimit = envOrDefaultInt("PARLEY_RETRY_LIMIT", cfg.Capture.RetryLimit)
	cfg.Capture.RetryBackoff = envOrDefaultMillis("PARLEY_RETRY_BACKOFF_MS", cfg.Capture.RetryBackoff)
	cfg.Capture.NoSpeechTimeout = envOrDefaultMillis("PARLEY_NO_SPEECH_TIMEOUT_MS", cfg.Capture.NoSpeechTimeout)

	cfg.Logging.Level = envOrDefault("PARLEY_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("PARLEY_LOG_FORMAT", cfg.Logging.Format)
	cfg.Metrics.Addr = envOrDefault("PARLEY_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Kafka.Enabled = envOrDefaultBool("PARLEY_KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := splitList(os.Getenv("PARLEY_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.Topic = envOrDefault("PARLEY_KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Dev = envOrDefaultBool("PARLEY_DEV", cfg.Dev)
}

func normalize(cfg *Config) {
	defaults := Defaults()
	if cfg.API.HistoryLimit <= 0 {
		cfg.API.HistoryLimit = defaults.API.HistoryLimit
	}
	if cfg.API.HistoryLimit > maxHistoryLimit {
		cfg.API.HistoryLimit = maxHistoryLimit
	}
	if cfg.API.HealthTimeout <= 0 {
		cfg.API.HealthTimeout = defaults.API.HealthTimeout
	}
	if cfg.API.RequestTimeout < 0 {
		cfg.API.RequestTimeout = 0
	}
	switch cfg.Recognizer.Provider {
	case RecognizerDeepgram, RecognizerGoogle:
	default:
		cfg.Recognizer.Provider = RecognizerDeepgram
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = defaults.Audio.ChunkSize
	}
	if cfg.Capture.RetryLimit < 0 {
		cfg.Capture.RetryLimit = 0
	}
	if cfg.Capture.RetryBackoff <= 0 {
		cfg.Capture.RetryBackoff = defaults.Capture.RetryBackoff
	}
	if cfg.Capture.NoSpeechTimeout < 0 {
		cfg.Capture.NoSpeechTimeout = 0
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
