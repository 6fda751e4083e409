package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Session       SessionConfig       `yaml:"session"`
	Audio         AudioConfig         `yaml:"audio"`
	Level         LevelConfig         `yaml:"level"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SessionConfig contains session transport configuration
type SessionConfig struct {
	WSURL          string  `yaml:"ws_url"`
	ReconnectDelay float64 `yaml:"reconnect_delay"` // seconds
	OpenTimeout    float64 `yaml:"open_timeout"`    // seconds
}

// AudioConfig contains audio capture and encoding parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	Channels      int     `yaml:"channels"`
	BitDepth      int     `yaml:"bit_depth"`
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds
}

// LevelConfig contains activity level analyzer configuration
type LevelConfig struct {
	Threshold       float64 `yaml:"threshold"`        // activity threshold on the 0-100 scale
	SmoothingWindow int     `yaml:"smoothing_window"` // samples in the moving average, 0 disables smoothing
}

// SegmentationConfig contains utterance segmentation parameters
type SegmentationConfig struct {
	SilenceTimeout     float64 `yaml:"silence_timeout"`      // seconds
	MaxSegmentDuration float64 `yaml:"max_segment_duration"` // seconds
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. The environment
// variables SESSION_WS_URL and TRANSCRIPTION_API_KEY override the file
// values so secrets can stay out of the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if url := os.Getenv("SESSION_WS_URL"); url != "" {
		config.Session.WSURL = url
	}
	if key := os.Getenv("TRANSCRIPTION_API_KEY"); key != "" {
		config.Transcription.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Level.Validate(); err != nil {
		return fmt.Errorf("level config: %w", err)
	}

	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates session transport configuration
func (s *SessionConfig) Validate() error {
	if s.WSURL == "" {
		return fmt.Errorf("ws_url cannot be empty")
	}

	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %f", s.ReconnectDelay)
	}

	if s.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be positive, got %f", s.OpenTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 && a.SampleRate != 16000 && a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 8000, 16000 or 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	return nil
}

// Validate validates level analyzer configuration
func (l *LevelConfig) Validate() error {
	if l.Threshold < 0 || l.Threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %f", l.Threshold)
	}

	if l.SmoothingWindow < 0 {
		return fmt.Errorf("smoothing_window cannot be negative, got %d", l.SmoothingWindow)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	if s.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %f", s.SilenceTimeout)
	}

	if s.MaxSegmentDuration <= s.SilenceTimeout {
		return fmt.Errorf("max_segment_duration (%f) must be greater than silence_timeout (%f)",
			s.MaxSegmentDuration, s.SilenceTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates the monitoring HTTP server configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReconnectDelay returns the reconnect delay as a time.Duration
func (s *SessionConfig) GetReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelay * float64(time.Second))
}

// GetOpenTimeout returns the transport open timeout as a time.Duration
func (s *SessionConfig) GetOpenTimeout() time.Duration {
	return time.Duration(s.OpenTimeout * float64(time.Second))
}

// GetChunkDuration returns the capture chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// SamplesPerChunk returns the number of PCM samples in one capture chunk
func (a *AudioConfig) SamplesPerChunk() int {
	return int(float64(a.SampleRate) * a.ChunkDuration)
}

// GetSilenceTimeout returns the silence timeout as a time.Duration
func (s *SegmentationConfig) GetSilenceTimeout() time.Duration {
	return time.Duration(s.SilenceTimeout * float64(time.Second))
}

// GetMaxSegmentDuration returns the maximum segment duration as a time.Duration
func (s *SegmentationConfig) GetMaxSegmentDuration() time.Duration {
	return time.Duration(s.MaxSegmentDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
