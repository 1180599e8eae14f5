// Package config resolves consultation settings from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/parthfloyd/la-hacks/pkg/live/protocol"
	"github.com/parthfloyd/la-hacks/pkg/live/session"
)

const (
	TransportWebsocket = "websocket"
	TransportGenai     = "genai"
)

// APIKeyFallbacks are consulted in order when GEMINI_API_KEY is unset.
var APIKeyFallbacks = []string{"GOOGLE_API_KEY", "NEXT_PUBLIC_GEMINI_API_KEY"}

type Config struct {
	APIKey     string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model      string `yaml:"model" env:"CONSULT_MODEL"`
	APIVersion string `yaml:"api_version" env:"CONSULT_API_VERSION"`
	Endpoint   string `yaml:"endpoint" env:"CONSULT_ENDPOINT"`

	// Project and Location select Vertex AI; only the genai transport honours them.
	Project  string `yaml:"project" env:"GOOGLE_CLOUD_PROJECT"`
	Location string `yaml:"location" env:"GOOGLE_CLOUD_LOCATION"`

	Transport string `yaml:"transport" env:"CONSULT_TRANSPORT"`

	TurnTimeout       time.Duration `yaml:"turn_timeout" env:"CONSULT_TURN_TIMEOUT"`
	FrameInterval     time.Duration `yaml:"frame_interval" env:"CONSULT_FRAME_INTERVAL"`
	MediaSendInterval time.Duration `yaml:"media_send_interval" env:"CONSULT_MEDIA_SEND_INTERVAL"`
	MaxRecording      time.Duration `yaml:"max_recording" env:"CONSULT_MAX_RECORDING"`

	GoogleSearch          bool   `yaml:"google_search" env:"CONSULT_GOOGLE_SEARCH"`
	SystemInstructionFile string `yaml:"system_instruction_file" env:"CONSULT_SYSTEM_INSTRUCTION_FILE"`
	Greeting              string `yaml:"greeting" env:"CONSULT_GREETING"`

	LogLevel    string `yaml:"log_level" env:"CONSULT_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"CONSULT_LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"CONSULT_METRICS_ADDR"`

	DialTimeout  time.Duration `yaml:"dial_timeout" env:"CONSULT_DIAL_TIMEOUT"`
	SetupTimeout time.Duration `yaml:"setup_timeout" env:"CONSULT_SETUP_TIMEOUT"`
	// PingInterval < 0 disables websocket heartbeats.
	PingInterval time.Duration `yaml:"ping_interval" env:"CONSULT_PING_INTERVAL"`

	FFmpegPath  string `yaml:"ffmpeg_path" env:"CONSULT_FFMPEG"`
	AudioDevice string `yaml:"audio_device" env:"CONSULT_AUDIO_DEVICE"`
	VideoDevice string `yaml:"video_device" env:"CONSULT_VIDEO_DEVICE"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Model:             protocol.DefaultModel,
		APIVersion:        protocol.DefaultAPIVersion,
		Endpoint:          protocol.DefaultHost,
		Transport:         TransportWebsocket,
		TurnTimeout:       60 * time.Second,
		FrameInterval:     time.Second,
		MediaSendInterval: 300 * time.Millisecond,
		MaxRecording:      5 * time.Minute,
		GoogleSearch:      true,
		LogLevel:          "info",
		LogFormat:         "text",
		DialTimeout:       15 * time.Second,
		SetupTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		FFmpegPath:        "ffmpeg",
	}
}

// Load layers the YAML file at path (skipped when empty) and then environ over the
// defaults, and validates the result. environ is usually env.ToMap(os.Environ()).
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		for _, key := range APIKeyFallbacks {
			if v := strings.TrimSpace(environ[key]); v != "" {
				cfg.APIKey = v
				break
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate checks value ranges. A missing API key is left to session start so the
// transcript can report it.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebsocket, TransportGenai:
	default:
		return fmt.Errorf("CONSULT_TRANSPORT must be one of websocket|genai")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("CONSULT_MODEL must not be empty")
	}
	if c.TurnTimeout < 0 {
		return errors.New("CONSULT_TURN_TIMEOUT must be >= 0")
	}
	if c.FrameInterval <= 0 {
		return errors.New("CONSULT_FRAME_INTERVAL must be > 0")
	}
	if c.MediaSendInterval <= 0 {
		return errors.New("CONSULT_MEDIA_SEND_INTERVAL must be > 0")
	}
	if c.MaxRecording <= 0 {
		return errors.New("CONSULT_MAX_RECORDING must be > 0")
	}
	if c.DialTimeout <= 0 {
		return errors.New("CONSULT_DIAL_TIMEOUT must be > 0")
	}
	if c.SetupTimeout <= 0 {
		return errors.New("CONSULT_SETUP_TIMEOUT must be > 0")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.New("CONSULT_LOG_FORMAT must be one of text|json")
	}
	return nil
}

// SystemInstruction returns the instruction file's contents, or the built-in medical
// consultation prompt when no file is set.
func (c Config) SystemInstruction() (string, error) {
	if c.SystemInstructionFile == "" {
		return protocol.DefaultSystemInstruction, nil
	}
	data, err := os.ReadFile(c.SystemInstructionFile)
	if err != nil {
		return "", fmt.Errorf("read system instruction: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system instruction file %q is empty", c.SystemInstructionFile)
	}
	return text, nil
}

// Session converts the settings into a live session config.
func (c Config) Session() (session.Config, error) {
	instruction, err := c.SystemInstruction()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		APIKey:            c.APIKey,
		Model:             c.Model,
		Host:              c.Endpoint,
		APIVersion:        c.APIVersion,
		Project:           c.Project,
		Location:          c.Location,
		SystemInstruction: instruction,
		GoogleSearch:      c.GoogleSearch,
		TurnTimeout:       c.TurnTimeout,
		MediaSendInterval: c.MediaSendInterval,
	}, nil
}
