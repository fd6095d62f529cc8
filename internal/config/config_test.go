package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"WHISPER_URL":  "http://whisper:9000/v1/audio/transcriptions",
		"WHISPERX_URL": "http://whisperx:9001",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8000" {
			t.Errorf("HTTPAddr = %q, want :8000", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.STTProvider != "whisper" {
			t.Errorf("STTProvider = %q, want whisper", cfg.STTProvider)
		}
		if cfg.WhisperModel != "small" {
			t.Errorf("WhisperModel = %q, want small", cfg.WhisperModel)
		}
		if !cfg.DiarizationEnabled {
			t.Error("DiarizationEnabled = false, want true")
		}
		if cfg.EngineConcurrency != 1 {
			t.Errorf("EngineConcurrency = %d, want 1", cfg.EngineConcurrency)
		}
		if cfg.WhisperTimeout != 10*time.Minute {
			t.Errorf("WhisperTimeout = %v, want 10m", cfg.WhisperTimeout)
		}
		if cfg.MaxUploadBytes() != 200<<20 {
			t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes(), 200<<20)
		}
		if cfg.YtDlpCommand != "yt-dlp" {
			t.Errorf("YtDlpCommand = %q, want yt-dlp", cfg.YtDlpCommand)
		}
		if cfg.S3.Enabled() {
			t.Error("S3 should be disabled without a bucket")
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.WhisperURL != "http://whisper:9000/v1/audio/transcriptions" {
			t.Errorf("WhisperURL = %q", cfg.WhisperURL)
		}
		if cfg.WhisperXURL != "http://whisperx:9001" {
			t.Errorf("WhisperXURL = %q", cfg.WhisperXURL)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			WhisperURL:  "http://override/v1/audio/transcriptions",
			WhisperXURL: "http://override-x",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.WhisperURL != "http://override/v1/audio/transcriptions" {
			t.Errorf("WhisperURL = %q, want override", cfg.WhisperURL)
		}
		if cfg.WhisperXURL != "http://override-x" {
			t.Errorf("WhisperXURL = %q, want override", cfg.WhisperXURL)
		}
	})

	t.Run("env_file_loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		os.WriteFile(path, []byte("DIARIZE_MAX_SPEAKERS=4\nS3_BUCKET=transcripts\n"), 0o644)
		defer os.Unsetenv("DIARIZE_MAX_SPEAKERS")
		defer os.Unsetenv("S3_BUCKET")

		cfg, err := Load(Overrides{EnvFile: path})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MaxSpeakers != 4 {
			t.Errorf("MaxSpeakers = %d, want 4", cfg.MaxSpeakers)
		}
		if !cfg.S3.Enabled() || cfg.S3.Bucket != "transcripts" {
			t.Errorf("S3 = %+v, want bucket transcripts", cfg.S3)
		}
		if cfg.S3.Region != "us-east-1" {
			t.Errorf("S3.Region = %q, want us-east-1", cfg.S3.Region)
		}
	})

	t.Run("invalid_concurrency_rejected", func(t *testing.T) {
		os.Setenv("ENGINE_CONCURRENCY", "0")
		defer os.Unsetenv("ENGINE_CONCURRENCY")
		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Error("expected error for ENGINE_CONCURRENCY=0")
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			STTProvider:        "whisper",
			WhisperURL:         "http://w",
			WhisperXURL:        "http://x",
			DiarizationEnabled: true,
			EngineConcurrency:  1,
			MaxUploadMB:        1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing_whisper", func(c *Config) { c.WhisperURL = "" }, true},
		{"missing_whisperx_with_diarization", func(c *Config) { c.WhisperXURL = "" }, true},
		{"missing_whisperx_without_diarization", func(c *Config) {
			c.WhisperXURL = ""
			c.DiarizationEnabled = false
		}, false},
		{"speaker_bounds_inverted", func(c *Config) {
			c.MinSpeakers = 3
			c.MaxSpeakers = 2
		}, true},
		{"zero_upload", func(c *Config) { c.MaxUploadMB = 0 }, true},
		{"unknown_provider", func(c *Config) { c.STTProvider = "vosk" }, true},
		{"deepinfra_without_key", func(c *Config) { c.STTProvider = "deepinfra" }, true},
		{"deepinfra_with_key", func(c *Config) {
			c.STTProvider = "deepinfra"
			c.DeepInfraAPIKey = "k"
			c.WhisperURL = ""
		}, false},
		{"elevenlabs_without_key", func(c *Config) { c.STTProvider = "elevenlabs" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
