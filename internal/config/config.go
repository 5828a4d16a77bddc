package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Sensitivity levels accepted for START_SENSITIVITY and END_SENSITIVITY.
var validSensitivities = map[string]bool{
	"LOW":         true,
	"UNSPECIFIED": true,
	"HIGH":        true,
}

// Config holds all configuration for the voice client
type Config struct {
	// Remote agent WebSocket endpoint (e.g. ws://localhost:8000/ws/chat)
	AgentURL string `envconfig:"AGENT_URL" required:"true"`

	// Session setup sent to the agent once the connection is open
	VoiceName            string `envconfig:"VOICE_NAME" default:"Aoede"`
	VADSilenceDurationMs int    `envconfig:"VAD_SILENCE_DURATION_MS" default:"1000"`
	VADPrefixPaddingMs   int    `envconfig:"VAD_PREFIX_PADDING_MS" default:"300"`
	ProactiveAudio       bool   `envconfig:"PROACTIVE_AUDIO" default:"true"`
	AffectiveDialog      bool   `envconfig:"AFFECTIVE_DIALOG" default:"true"`
	StartSensitivity     string `envconfig:"START_SENSITIVITY" default:"LOW"` // LOW, UNSPECIFIED, HIGH
	EndSensitivity       string `envconfig:"END_SENSITIVITY" default:"LOW"`   // LOW, UNSPECIFIED, HIGH

	// Audio processing configuration
	CaptureSampleRate     int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	CaptureBlockSize      int     `envconfig:"CAPTURE_BLOCK_SIZE" default:"2048"` // samples per capture tick
	PlaybackSampleRate    int     `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"`
	SpeechEnergyThreshold float64 `envconfig:"SPEECH_ENERGY_THRESHOLD" default:"0.1"` // normalized RMS
	ResetCooldownMs       int     `envconfig:"RESET_COOLDOWN_MS" default:"2000"`
	IgnoreWindowMs        int     `envconfig:"IGNORE_WINDOW_MS" default:"500"`
	PlaybackLeadMs        int     `envconfig:"PLAYBACK_LEAD_MS" default:"50"`

	// Connection configuration
	DialTimeout             int `envconfig:"DIAL_TIMEOUT" default:"10"`                // seconds
	DialMaxAttempts         int `envconfig:"DIAL_MAX_ATTEMPTS" default:"3"`            // attempts for the initial handshake
	DialInitialBackoff      int `envconfig:"DIAL_INITIAL_BACKOFF" default:"200"`       // milliseconds
	SendBreakerMaxFailures  int `envconfig:"SEND_BREAKER_MAX_FAILURES" default:"5"`    // failed writes before dropping frames
	SendBreakerResetTimeout int `envconfig:"SEND_BREAKER_RESET_TIMEOUT" default:"2"`   // seconds

	// Observability configuration
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":9090"`       // /health, /ready, /state, /metrics
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`        // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`      // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`  // Enable Prometheus metrics
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"` // Export spans to stdout
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AgentURL) == "" {
		return fmt.Errorf("AGENT_URL is required")
	}

	c.StartSensitivity = strings.ToUpper(strings.TrimSpace(c.StartSensitivity))
	c.EndSensitivity = strings.ToUpper(strings.TrimSpace(c.EndSensitivity))
	if !validSensitivities[c.StartSensitivity] {
		return fmt.Errorf("invalid START_SENSITIVITY %q", c.StartSensitivity)
	}
	if !validSensitivities[c.EndSensitivity] {
		return fmt.Errorf("invalid END_SENSITIVITY %q", c.EndSensitivity)
	}

	if c.CaptureSampleRate <= 0 || c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive")
	}
	if c.SpeechEnergyThreshold <= 0 || c.SpeechEnergyThreshold > 1 {
		return fmt.Errorf("SPEECH_ENERGY_THRESHOLD must be in (0, 1]")
	}
	if c.DialMaxAttempts < 1 {
		c.DialMaxAttempts = 1
	}

	return nil
}

// ResetCooldown returns the barge-in debounce window
func (c *Config) ResetCooldown() time.Duration {
	return time.Duration(c.ResetCooldownMs) * time.Millisecond
}

// IgnoreWindow returns how long stale agent audio is discarded after a reset
func (c *Config) IgnoreWindow() time.Duration {
	return time.Duration(c.IgnoreWindowMs) * time.Millisecond
}

// PlaybackLead returns the forward buffer applied when playback resumes after idle
func (c *Config) PlaybackLead() time.Duration {
	return time.Duration(c.PlaybackLeadMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
