package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tbxark/formchat/transcribe"
)

const (
	OutputModeTool = "tool"
	OutputModeText = "text"
)

type BreakerConfig struct {
	MaxFailures uint32 `json:"max_failures"`
	OpenSeconds int    `json:"open_seconds"`
}

type Config struct {
	APIKey               string            `json:"api_key"`
	BaseURL              string            `json:"base_url"`
	Model                string            `json:"model"`
	Listen               string            `json:"listen"`
	OutputMode           string            `json:"output_mode"`
	ModelTimeoutSeconds  int               `json:"model_timeout_seconds"`
	NotifyTimeoutSeconds int               `json:"notify_timeout_seconds"`
	HistoryMessages      *int              `json:"history_messages"`
	LogLevel             string            `json:"log_level"`
	LogFormat            string            `json:"log_format"`
	TraceStdout          bool              `json:"trace_stdout"`
	Transcription        transcribe.Config `json:"transcription"`
	Breaker              BreakerConfig     `json:"breaker"`
}

// loadConfig reads path when it exists, then applies environment overrides and defaults.
func loadConfig(path string) (*Config, error) {
	var conf Config
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(file, &conf); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("Config file not found, using environment and defaults", "path", path)
	default:
		return nil, err
	}
	conf.applyEnv()
	conf.applyDefaults()
	return &conf, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen = v
	}
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	c.OutputMode = strings.ToLower(strings.TrimSpace(c.OutputMode))
	if c.OutputMode != OutputModeText {
		c.OutputMode = OutputModeTool
	}
	if c.ModelTimeoutSeconds <= 0 {
		c.ModelTimeoutSeconds = 30
	}
	if c.NotifyTimeoutSeconds <= 0 {
		c.NotifyTimeoutSeconds = 20
	}
	if c.HistoryMessages == nil {
		n := 40
		c.HistoryMessages = &n
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.OpenSeconds <= 0 {
		c.Breaker.OpenSeconds = 30
	}
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = c.APIKey
	}
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = c.BaseURL
	}
}

func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSeconds) * time.Second
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

func (c *Config) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.Breaker.OpenSeconds) * time.Second
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
