package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PARLEY_CONFIG", "")
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:5000" || cfg.API.HealthTimeout != 3*time.Second || cfg.API.RequestTimeout != 0 {
		t.Fatalf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.Capture.RetryLimit != 3 || cfg.Capture.RetryBackoff != time.Second || cfg.Capture.NoSpeechTimeout != 8*time.Second {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Recognizer.Provider != RecognizerDeepgram || cfg.Source != "" {
		t.Fatalf("unexpected recognizer/source: %+v", cfg)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PARLEY_API_BASE", "http://chat.local:8080")
	t.Setenv("PARLEY_REQUEST_TIMEOUT_MS", "15000")
	t.Setenv("PARLEY_HISTORY_LIMIT", "900")
	t.Setenv("PARLEY_HISTORY_HYDRATE", "yes")
	t.Setenv("PARLEY_RECOGNIZER", "Google")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "false")
	t.Setenv("PARLEY_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("PARLEY_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("PARLEY_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("PARLEY_SAMPLE_RATE", "22050")
	t.Setenv("PARLEY_RETRY_LIMIT", "1")
	t.Setenv("PARLEY_RETRY_BACKOFF_MS", "250")
	t.Setenv("PARLEY_KAFKA_ENABLED", "1")
	t.Setenv("PARLEY_KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("PARLEY_DEV", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.BaseURL != "http://chat.local:8080" || cfg.API.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected api config: %+v", cfg.API)
	}
	if cfg.API.HistoryLimit != 500 || !cfg.API.HydrateHistory {
		t.Fatalf("expected capped history limit and hydration: %+v", cfg.API)
	}
	if cfg.Recognizer.Provider != RecognizerGoogle {
		t.Fatalf("unexpected recognizer: %q", cfg.Recognizer.Provider)
	}
	if cfg.Deepgram.APIKey != "test-key" || cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" || cfg.Audio.SampleRate != 22050 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Capture.RetryLimit != 1 || cfg.Capture.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected capture config: %+v", cfg.Capture)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if !cfg.Dev {
		t.Fatalf("expected dev mode")
	}
}

func TestLoadInvalidValuesFallback(t *testing.T) {
	isolate(t)
	t.Setenv("PARLEY_SAMPLE_RATE", "bad")
	t.Setenv("PARLEY_CHANNELS", "-1")
	t.Setenv("PARLEY_AUDIO_CHUNK_SIZE", "5")
	t.Setenv("PARLEY_RETRY_BACKOFF_MS", "bad")
	t.Setenv("PARLEY_HEALTH_TIMEOUT_MS", "-5")
	t.Setenv("PARLEY_RECOGNIZER", "whisper")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "not-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("expected audio fallbacks, got %+v", cfg.Audio)
	}
	if cfg.Capture.RetryBackoff != time.Second || cfg.API.HealthTimeout != 3*time.Second {
		t.Fatalf("expected duration fallbacks, got %+v %+v", cfg.Capture, cfg.API)
	}
	if cfg.Recognizer.Provider != RecognizerDeepgram {
		t.Fatalf("expected recognizer fallback, got %q", cfg.Recognizer.Provider)
	}
	if !cfg.Deepgram.SmartFormat {
		t.Fatalf("expected default smart format true")
	}
}

func TestLoadAppliesYAMLBeforeEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".config", "parley", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	contents := `
api:
  base_url: http://from-file:5000
  request_timeout: 20s
capture:
  retry_limit: 2
kafka:
  brokers: [file-broker:9092]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PARLEY_RETRY_LIMIT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("expected config source %q, got %q", path, cfg.Source)
	}
	if cfg.API.BaseURL != "http://from-file:5000" || cfg.API.RequestTimeout != 20*time.Second {
		t.Fatalf("expected file values, got %+v", cfg.API)
	}
	if cfg.Capture.RetryLimit != 5 {
		t.Fatalf("env must override file, got %d", cfg.Capture.RetryLimit)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "file-broker:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("unset file keys keep defaults, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "broken.yaml")
	if err := os.WriteFile(path, []byte("api: [unterminated"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PARLEY_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split: %v", got)
	}
	if splitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
