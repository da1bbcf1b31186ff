// Package config_test tests the configuration loading for the voice-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[server]
address = "127.0.0.1:9000"
allowed_origins = ["http://localhost:3000"]
max_upload_bytes = 1048576
requests_per_minute = 120

[stt]
model_size = "base"
device = "cuda"
compute_type = "float16"
models_dir = "/opt/models"

[tts_service]
binary_path = "/usr/bin/espeak-ng"
default_voice = "en-gb"
default_speed = 150
timeout_seconds = 30

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
stt_subject = "audio.stt"
tts_subject = "audio.tts"
queue_group = "voice"
workers = 8
`

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	err := toml.Unmarshal([]byte(tomlData), cfg)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(1048576), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 120, cfg.Server.RequestsPerMinute)
	assert.Equal(t, "base", cfg.STT.ModelSize)
	assert.Equal(t, "cuda", cfg.STT.Device)
	assert.Equal(t, "float16", cfg.STT.ComputeType)
	assert.Equal(t, "/opt/models", cfg.STT.ModelsDir)
	assert.Equal(t, "/usr/bin/espeak-ng", cfg.TTS.BinaryPath)
	assert.Equal(t, "en-gb", cfg.TTS.DefaultVoice)
	assert.Equal(t, 150, cfg.TTS.DefaultSpeed)
	assert.Equal(t, 30, cfg.TTS.TimeoutSeconds)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "audio.stt", cfg.NATS.STTSubject)
	assert.Equal(t, "voice", cfg.NATS.QueueGroup)
	assert.Equal(t, 8, cfg.NATS.Workers)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "auto", cfg.STT.Language)
	assert.Equal(t, 10, cfg.Server.ShutdownTimeoutSeconds)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, "small", cfg.STT.ModelSize)
	assert.Equal(t, "cpu", cfg.STT.Device)
	assert.Equal(t, "int8", cfg.STT.ComputeType)
	assert.Equal(t, "espeak-ng", cfg.TTS.BinaryPath)
	assert.Equal(t, "en-us", cfg.TTS.DefaultVoice)
	assert.Equal(t, 170, cfg.TTS.DefaultSpeed)
	assert.Equal(t, "ffmpeg", cfg.STT.FFmpegPath)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFile_AppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	t.Setenv("STT_MODEL_SIZE", "tiny")
	t.Setenv("STT_COMPUTE_TYPE", "int5")
	t.Setenv("TTS_VOICE", "de")
	t.Setenv("TTS_SPEED", "200")
	t.Setenv("STT_FFMPEG", "/usr/local/bin/ffmpeg")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tiny", cfg.STT.ModelSize)
	assert.Equal(t, "int5", cfg.STT.ComputeType)
	assert.Equal(t, "cuda", cfg.STT.Device)
	assert.Equal(t, "de", cfg.TTS.DefaultVoice)
	assert.Equal(t, 200, cfg.TTS.DefaultSpeed)

	engineCfg := cfg.EngineConfig()
	assert.Equal(t, "tiny", engineCfg.ModelSize)
	assert.Equal(t, "/opt/models", engineCfg.ModelsDir)
	assert.Equal(t, "/usr/local/bin/ffmpeg", engineCfg.FFmpegPath)
}

func TestApplyEnv_InvalidSpeed(t *testing.T) {
	t.Setenv("TTS_SPEED", "fast")

	cfg := config.Default()

	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTS_SPEED")
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
