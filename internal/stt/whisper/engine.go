// Package whisper implements core.Engine on top of the whisper.cpp Go
// bindings. The whisper.cpp static library and headers must be available at
// link time through LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/book-expert/voice-service/internal/audio"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/fsutil"
)

const (
	defaultModelSize = "small"
	languageAuto     = "auto"
	modelPrefix      = "ggml-"
	modelExt         = ".bin"
)

// Errors returned while resolving the engine configuration.
var (
	ErrUnsupportedDevice      = errors.New("unsupported device")
	ErrUnsupportedComputeType = errors.New("unsupported compute type")
)

const (
	errFmtDevice       = "%w: %q (want cpu, auto, cuda, metal or gpu)"
	errFmtCompute      = "%w: %q (want int8, int5, float16 or float32)"
	errFmtResolveModel = "resolving model %q: %w"
	errFmtLoadModel    = "loading model %q: %w"
	errFmtDecodeAudio  = "decoding audio: %w"
	errFmtNewContext   = "creating whisper context: %w"
	errFmtLanguage     = "setting language %q: %w"
	errFmtProcess      = "processing audio: %w"
	errFmtSegment      = "reading segment: %w"
	logFmtModelPath    = "Using whisper model %s on device %s"
	logFmtSilent       = "No speech detected in %s"
)

var supportedDevices = map[string]struct{}{
	"cpu":   {},
	"auto":  {},
	"cuda":  {},
	"metal": {},
	"gpu":   {},
}

// quantSuffix maps a compute type onto the ggml file naming convention.
var quantSuffix = map[string]string{
	"":        "",
	"default": "",
	"float16": "",
	"float32": "",
	"int8":    "-q8_0",
	"int5":    "-q5_1",
}

// ModelFilename returns the ggml file name for a model size and compute type.
func ModelFilename(size, computeType string) (string, error) {
	suffix, ok := quantSuffix[strings.ToLower(computeType)]
	if !ok {
		return "", fmt.Errorf(errFmtCompute, ErrUnsupportedComputeType, computeType)
	}

	if size == "" {
		size = defaultModelSize
	}

	return modelPrefix + size + suffix + modelExt, nil
}

// ValidateDevice checks that device names a supported backend. An empty
// device means auto.
func ValidateDevice(device string) error {
	if device == "" {
		return nil
	}

	if _, ok := supportedDevices[strings.ToLower(device)]; !ok {
		return fmt.Errorf(errFmtDevice, ErrUnsupportedDevice, device)
	}

	return nil
}

// Engine is a loaded whisper.cpp model.
type Engine struct {
	model    whisperlib.Model
	language string
	threads  int
	ffmpeg   string
	log      *logger.Logger

	// whisper.cpp keeps inference state on the model, so runs are serialised.
	mu sync.Mutex
}

// NewFactory returns a constructor suitable for model.NewManager.
func NewFactory(log *logger.Logger) func(core.EngineConfig) (core.Engine, error) {
	return func(cfg core.EngineConfig) (core.Engine, error) {
		return New(cfg, log)
	}
}

// New resolves and loads the model described by cfg.
func New(cfg core.EngineConfig, log *logger.Logger) (*Engine, error) {
	deviceErr := ValidateDevice(cfg.Device)
	if deviceErr != nil {
		return nil, deviceErr
	}

	name, nameErr := ModelFilename(cfg.ModelSize, cfg.ComputeType)
	if nameErr != nil {
		return nil, nameErr
	}

	modelPath, pathErr := fsutil.FindModel(name, cfg.ModelsDir)
	if pathErr != nil {
		return nil, fmt.Errorf(errFmtResolveModel, name, pathErr)
	}

	log.Info(logFmtModelPath, modelPath, cfg.Device)

	model, loadErr := whisperlib.New(modelPath)
	if loadErr != nil {
		return nil, fmt.Errorf(errFmtLoadModel, modelPath, loadErr)
	}

	return &Engine{
		model:    model,
		language: cfg.Language,
		threads:  cfg.Threads,
		ffmpeg:   cfg.FFmpegPath,
		log:      log,
	}, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	return e.model.Close()
}

// Transcribe decodes the clip at path and returns a lazy sequence of
// segments. Non-WAV clips go through ffmpeg when one is configured.
// Inference runs when the sequence is first iterated.
func (e *Engine) Transcribe(
	ctx context.Context,
	path string,
	opts core.TranscribeOptions,
) (iter.Seq2[core.Segment, error], error) {
	samples, err := audio.LoadFile(ctx, path, e.ffmpeg)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeAudio, err)
	}

	if opts.VADFilter {
		samples = audio.FilterSilence(samples, audio.WhisperSampleRate, audio.DefaultVADOptions())
	}

	if len(samples) == 0 {
		e.log.Info(logFmtSilent, path)

		return func(func(core.Segment, error) bool) {}, nil
	}

	return func(yield func(core.Segment, error) bool) {
		e.mu.Lock()
		defer e.mu.Unlock()

		ctxErr := ctx.Err()
		if ctxErr != nil {
			yield(core.Segment{}, ctxErr)

			return
		}

		wctx, runErr := e.process(samples)
		if runErr != nil {
			yield(core.Segment{}, runErr)

			return
		}

		drain(wctx, yield)
	}, nil
}

// process runs inference in a fresh context; the caller holds e.mu.
func (e *Engine) process(samples []float32) (whisperlib.Context, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf(errFmtNewContext, err)
	}

	if e.language != "" && e.language != languageAuto {
		langErr := wctx.SetLanguage(e.language)
		if langErr != nil {
			return nil, fmt.Errorf(errFmtLanguage, e.language, langErr)
		}
	}

	wctx.SetTranslate(false)

	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}

	err = wctx.Process(samples, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf(errFmtProcess, err)
	}

	return wctx, nil
}

func drain(wctx whisperlib.Context, yield func(core.Segment, error) bool) {
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return
		}

		if err != nil {
			yield(core.Segment{}, fmt.Errorf(errFmtSegment, err))

			return
		}

		if !yield(core.Segment{
			Start: segment.Start.Milliseconds(),
			End:   segment.End.Milliseconds(),
			Text:  segment.Text,
		}, nil) {
			return
		}
	}
}
