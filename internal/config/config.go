package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	MaxUploadMB int    `env:"MAX_UPLOAD_MB" envDefault:"200"`
	ScratchDir  string `env:"SCRATCH_DIR"`

	// Acoustic transcription: whisper (self-hosted), deepinfra or elevenlabs
	STTProvider string `env:"STT_PROVIDER" envDefault:"whisper"`

	WhisperURL      string        `env:"WHISPER_URL" envDefault:"http://localhost:8387/v1/audio/transcriptions"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"small"`
	WhisperTimeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"10m"`
	PreprocessAudio bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	DeepInfraAPIKey string `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel  string `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`

	// Alignment + diarization sidecar
	DiarizationEnabled bool          `env:"DIARIZATION_ENABLED" envDefault:"true"`
	WhisperXURL        string        `env:"WHISPERX_URL" envDefault:"http://localhost:8388"`
	WhisperXModel      string        `env:"WHISPERX_MODEL" envDefault:"small"`
	WhisperXTimeout    time.Duration `env:"WHISPERX_TIMEOUT" envDefault:"15m"`
	MinSpeakers        int           `env:"DIARIZE_MIN_SPEAKERS" envDefault:"0"`
	MaxSpeakers        int           `env:"DIARIZE_MAX_SPEAKERS" envDefault:"0"`

	// Per-engine concurrent inference calls; 1 serializes each engine.
	EngineConcurrency int `env:"ENGINE_CONCURRENCY" envDefault:"1"`

	YtDlpCommand    string        `env:"YTDLP_COMMAND" envDefault:"yt-dlp"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"10m"`

	AccelProbeCommand string `env:"ACCEL_PROBE_COMMAND" envDefault:"nvidia-smi"`

	ResultsEnabled bool   `env:"RESULTS_ENABLED" envDefault:"true"`
	ResultsDir     string `env:"RESULTS_DIR" envDefault:"./results"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config selects the S3 result store when Bucket is set.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	WhisperURL  string
	WhisperXURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}
	if overrides.WhisperXURL != "" {
		cfg.WhisperXURL = overrides.WhisperXURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "whisper":
		if c.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required when STT_PROVIDER=whisper")
		}
	case "deepinfra":
		if c.DeepInfraAPIKey == "" {
			return fmt.Errorf("DEEPINFRA_API_KEY is required when STT_PROVIDER=deepinfra")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when STT_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (want whisper, deepinfra or elevenlabs)", c.STTProvider)
	}
	if c.DiarizationEnabled && c.WhisperXURL == "" {
		return fmt.Errorf("WHISPERX_URL is required when DIARIZATION_ENABLED=true")
	}
	if c.EngineConcurrency < 1 {
		return fmt.Errorf("ENGINE_CONCURRENCY must be >= 1, got %d", c.EngineConcurrency)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be >= 1, got %d", c.MaxUploadMB)
	}
	if c.MinSpeakers < 0 || c.MaxSpeakers < 0 {
		return fmt.Errorf("speaker bounds must be >= 0")
	}
	if c.MaxSpeakers > 0 && c.MinSpeakers > c.MaxSpeakers {
		return fmt.Errorf("DIARIZE_MIN_SPEAKERS (%d) > DIARIZE_MAX_SPEAKERS (%d)", c.MinSpeakers, c.MaxSpeakers)
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
