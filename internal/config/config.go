package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultDataDirName is the per-user directory (under $HOME) holding the
// history database, settings file, temp audio and local models.
const DefaultDataDirName = ".otis-dictation"

type Config struct {
	DataDir string `env:"OTIS_DATA_DIR"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:7766"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	// Debug forces debug mode on regardless of the persisted user setting.
	Debug bool `env:"DEBUG" envDefault:"false"`

	Gemini     GeminiConfig
	ElevenLabs ElevenLabsConfig
	Whisper    WhisperConfig
	Recorder   RecorderConfig

	Notifications bool `env:"NOTIFICATIONS" envDefault:"true"`
	Clipboard     bool `env:"CLIPBOARD" envDefault:"true"`
}

// GeminiConfig configures the first cloud provider.
type GeminiConfig struct {
	APIKey  string        `env:"GOOGLE_API_KEY"`
	Model   string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash-lite"`
	Timeout time.Duration `env:"GEMINI_TIMEOUT" envDefault:"60s"`
}

// ElevenLabsConfig configures the second cloud provider.
type ElevenLabsConfig struct {
	APIKey  string        `env:"ELEVENLABS_API_KEY"`
	Model   string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	Timeout time.Duration `env:"ELEVENLABS_TIMEOUT" envDefault:"60s"`
}

// WhisperConfig configures the local offline backend: an OpenAI-compatible
// whisper server on this machine plus the directory its model files live in.
type WhisperConfig struct {
	URL      string        `env:"WHISPER_URL" envDefault:"http://127.0.0.1:8178/v1/audio/transcriptions"`
	ModelDir string        `env:"WHISPER_MODEL_DIR"`
	Timeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"120s"`
}

// RecorderConfig configures the sox-based capture adapter.
type RecorderConfig struct {
	Command        string  `env:"RECORDER_COMMAND" envDefault:"rec"`
	SilenceSeconds float64 `env:"VAD_SILENCE_SECONDS" envDefault:"2.5"`
	Threshold      string  `env:"VAD_THRESHOLD" envDefault:"1%"`
	MaxSeconds     float64 `env:"VAD_MAX_SECONDS" envDefault:"300"`
	SampleRate     int     `env:"RECORDER_SAMPLE_RATE" envDefault:"16000"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	DataDir  string
	Debug    bool
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
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.Debug {
		cfg.Debug = true
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, DefaultDataDirName)
	}
	if cfg.Whisper.ModelDir == "" {
		cfg.Whisper.ModelDir = filepath.Join(cfg.DataDir, "models")
	}

	if cfg.Recorder.SilenceSeconds <= 0 {
		return nil, fmt.Errorf("VAD_SILENCE_SECONDS must be > 0, got %v", cfg.Recorder.SilenceSeconds)
	}
	if cfg.Recorder.SampleRate <= 0 {
		return nil, fmt.Errorf("RECORDER_SAMPLE_RATE must be > 0, got %d", cfg.Recorder.SampleRate)
	}

	return cfg, nil
}

// HistoryPath is the fixed per-user location of the history database.
func (c *Config) HistoryPath() string { return filepath.Join(c.DataDir, "history.db") }

// SettingsPath is where user settings are persisted.
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }

// TempDir holds per-session audio artifacts.
func (c *Config) TempDir() string { return filepath.Join(c.DataDir, "temp") }
