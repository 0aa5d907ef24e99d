package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "LISTEN_ADDR"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	conf, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", conf.Model)
	assert.Equal(t, ":8000", conf.Listen)
	assert.Equal(t, OutputModeTool, conf.OutputMode)
	assert.Equal(t, 30*time.Second, conf.ModelTimeout())
	assert.Equal(t, 20*time.Second, conf.NotifyTimeout())
	require.NotNil(t, conf.HistoryMessages)
	assert.Equal(t, 40, *conf.HistoryMessages)
	assert.Equal(t, uint32(5), conf.Breaker.MaxFailures)
	assert.Equal(t, 30*time.Second, conf.BreakerOpenTimeout())
	assert.Equal(t, slog.LevelInfo, conf.SlogLevel())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_key": "file-key",
		"base_url": "http://llm.local/v1",
		"model": "file-model",
		"output_mode": "TEXT",
		"history_messages": 0,
		"log_level": "debug",
		"transcription": {"model": "whisper-large"}
	}`), 0o600))
	t.Setenv("OPENAI_MODEL", "env-model")
	t.Setenv("LISTEN_ADDR", ":9999")

	conf, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", conf.APIKey)
	assert.Equal(t, "env-model", conf.Model)
	assert.Equal(t, ":9999", conf.Listen)
	assert.Equal(t, OutputModeText, conf.OutputMode)
	assert.Equal(t, 0, *conf.HistoryMessages)
	assert.Equal(t, slog.LevelDebug, conf.SlogLevel())
	assert.Equal(t, "whisper-large", conf.Transcription.Model)
	assert.Equal(t, "file-key", conf.Transcription.APIKey)
	assert.Equal(t, "http://llm.local/v1", conf.Transcription.BaseURL)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
