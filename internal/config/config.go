// Package config provides the configuration structure for the voice-service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/voice-service/internal/core"
)

// Environment variables that override file configuration.
const (
	envModelSize   = "STT_MODEL_SIZE"
	envDevice      = "STT_DEVICE"
	envComputeType = "STT_COMPUTE_TYPE"
	envModelsDir   = "STT_MODELS_DIR"
	envFFmpeg      = "STT_FFMPEG"
	envVoice       = "TTS_VOICE"
	envSpeed       = "TTS_SPEED"
	envBinary      = "TTS_BINARY"
	envAddress     = "VOICE_ADDR"
	envNATSURL     = "NATS_URL"
)

// Defaults applied before any file or environment value.
const (
	defaultAddress          = ":8000"
	defaultMaxUploadBytes   = 50 << 20
	defaultShutdownSeconds  = 10
	defaultModelSize        = "small"
	defaultDevice           = "cpu"
	defaultComputeType      = "int8"
	defaultModelsDir        = "models"
	defaultLanguage         = "auto"
	defaultBinary           = "espeak-ng"
	defaultFFmpeg           = "ffmpeg"
	defaultVoice            = "en-us"
	defaultSpeed            = 170
	defaultTTSTimeout       = 60
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultSTTSubject       = "voice.stt"
	defaultTTSSubject       = "voice.tts"
	defaultNATSWorkers      = 4
	errFmtReadConfigFile    = "failed to read config file %s: %w"
	errFmtDecodeConfigFile  = "failed to decode config file %s: %w"
	errFmtInvalidEnvInteger = "invalid integer in %s: %w"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address                string   `toml:"address"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	MaxUploadBytes         int64    `toml:"max_upload_bytes"`
	RequestsPerMinute      int      `toml:"requests_per_minute"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// STTConfig selects the speech-recognition model. It is read once, when the
// model is first loaded.
type STTConfig struct {
	ModelSize   string `toml:"model_size"`
	Device      string `toml:"device"`
	ComputeType string `toml:"compute_type"`
	ModelsDir   string `toml:"models_dir"`
	Language    string `toml:"language"`
	Threads     int    `toml:"threads"`
	FFmpegPath  string `toml:"ffmpeg_path"`
}

// TTSServiceConfig holds the synthesizer binary and its per-request defaults.
type TTSServiceConfig struct {
	BinaryPath     string `toml:"binary_path"`
	DefaultVoice   string `toml:"default_voice"`
	DefaultSpeed   int    `toml:"default_speed"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for the optional NATS transport.
type NATSConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	STTSubject string `toml:"stt_subject"`
	TTSSubject string `toml:"tts_subject"`
	QueueGroup string `toml:"queue_group"`
	Workers    int    `toml:"workers"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	TempDir     string `toml:"temp_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig     `toml:"server"`
	STT    STTConfig        `toml:"stt"`
	TTS    TTSServiceConfig `toml:"tts_service"`
	NATS   NATSConfig       `toml:"nats"`
	Paths  PathsConfig      `toml:"paths"`
}

// Default returns a configuration with every field set to its built-in value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:                defaultAddress,
			AllowedOrigins:         []string{"*"},
			MaxUploadBytes:         defaultMaxUploadBytes,
			RequestsPerMinute:      0,
			ShutdownTimeoutSeconds: defaultShutdownSeconds,
		},
		STT: STTConfig{
			ModelSize:   defaultModelSize,
			Device:      defaultDevice,
			ComputeType: defaultComputeType,
			ModelsDir:   defaultModelsDir,
			Language:    defaultLanguage,
			Threads:     0,
			FFmpegPath:  defaultFFmpeg,
		},
		TTS: TTSServiceConfig{
			BinaryPath:     defaultBinary,
			DefaultVoice:   defaultVoice,
			DefaultSpeed:   defaultSpeed,
			TimeoutSeconds: defaultTTSTimeout,
		},
		NATS: NATSConfig{
			Enabled:    false,
			URL:        defaultNATSURL,
			STTSubject: defaultSTTSubject,
			TTSSubject: defaultTTSSubject,
			QueueGroup: "",
			Workers:    defaultNATSWorkers,
		},
		Paths: PathsConfig{
			BaseLogsDir: os.TempDir(),
			TempDir:     "",
		},
	}
}

// Load loads the configuration through the central configurator, then
// applies environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.ApplyEnv()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile decodes a TOML file on top of the defaults, then applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadConfigFile, path, err)
	}

	cfg := Default()

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeConfigFile, path, err)
	}

	err = cfg.ApplyEnv()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overlays the recognised environment variables onto cfg. Unset or
// empty variables leave the current value untouched.
func (c *Config) ApplyEnv() error {
	overrideString(&c.STT.ModelSize, envModelSize)
	overrideString(&c.STT.Device, envDevice)
	overrideString(&c.STT.ComputeType, envComputeType)
	overrideString(&c.STT.ModelsDir, envModelsDir)
	overrideString(&c.STT.FFmpegPath, envFFmpeg)
	overrideString(&c.TTS.DefaultVoice, envVoice)
	overrideString(&c.TTS.BinaryPath, envBinary)
	overrideString(&c.Server.Address, envAddress)
	overrideString(&c.NATS.URL, envNATSURL)

	if raw := os.Getenv(envSpeed); raw != "" {
		speed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf(errFmtInvalidEnvInteger, envSpeed, err)
		}

		c.TTS.DefaultSpeed = speed
	}

	return nil
}

// EngineConfig returns the recognition settings in the form the engine
// factory consumes.
func (c *Config) EngineConfig() core.EngineConfig {
	return core.EngineConfig{
		ModelSize:   c.STT.ModelSize,
		Device:      c.STT.Device,
		ComputeType: c.STT.ComputeType,
		ModelsDir:   c.STT.ModelsDir,
		Language:    c.STT.Language,
		Threads:     c.STT.Threads,
		FFmpegPath:  c.STT.FFmpegPath,
	}
}

// Timeout returns the synthesizer deadline.
func (t TTSServiceConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

func overrideString(field *string, name string) {
	if value := os.Getenv(name); value != "" {
		*field = value
	}
}
