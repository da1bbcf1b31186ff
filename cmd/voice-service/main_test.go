package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ExplicitFile(t *testing.T) {
	t.Setenv("TTS_VOICE", "")
	t.Setenv("VOICE_ADDR", "")
	t.Setenv("STT_MODEL_SIZE", "")

	path := filepath.Join(t.TempDir(), "voice.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
address = "127.0.0.1:9100"

[tts_service]
default_voice = "de"
`), 0o600))

	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	defer func() { _ = log.Close() }()

	cfg, err := loadConfig(path, log)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Address)
	assert.Equal(t, "de", cfg.TTS.DefaultVoice)
	assert.Equal(t, "small", cfg.STT.ModelSize)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	defer func() { _ = log.Close() }()

	_, err = loadConfig(filepath.Join(t.TempDir(), "absent.toml"), log)
	require.Error(t, err)
}
