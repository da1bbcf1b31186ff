// Package stt orchestrates a single speech-to-text request: the upload is
// staged in a temporary file, the shared engine is acquired, every segment is
// drained and collapsed into one string, and the temporary file is removed on
// every path out.
package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tempfile"
)

const (
	inputPrefix   = "stt-"
	defaultSuffix = ".webm"
)

const (
	errFmtClassified    = "%w: %w"
	logFmtStaged        = "Staged upload %q (%s) at %s"
	logFmtTranscribed   = "Transcribed %q: %d segments, %d characters"
	logFmtTranscribeErr = "Transcription of %q failed: %v"
	logFmtPanic         = "Transcription of %q panicked: %v"
)

// EngineSource hands out the shared recognition engine.
type EngineSource interface {
	Acquire(ctx context.Context) (core.Engine, error)
}

// Transcriber turns uploaded audio into text.
type Transcriber struct {
	engines EngineSource
	broker  *tempfile.Broker
	log     *logger.Logger
}

// NewTranscriber creates a Transcriber.
func NewTranscriber(engines EngineSource, broker *tempfile.Broker, log *logger.Logger) *Transcriber {
	return &Transcriber{
		engines: engines,
		broker:  broker,
		log:     log,
	}
}

// Transcribe stages audio under a suffix derived from filename, runs inference
// with silence filtering, and returns the normalized transcript. A clip with
// no speech returns "" and no error. Every failure is an *core.OperationError.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (text string, err error) {
	// The staged input is released by transcribe's own defers before this runs.
	defer func() {
		if recovered := recover(); recovered != nil {
			t.log.Error(logFmtPanic, filename, recovered)

			text, err = "", &core.OperationError{Op: core.OpSTT, Err: core.Recovered(core.ErrInference, recovered)}
		}
	}()

	text, err = t.transcribe(ctx, audio, filename)
	if err != nil {
		t.log.Error(logFmtTranscribeErr, filename, err)

		return "", &core.OperationError{Op: core.OpSTT, Err: err}
	}

	return text, nil
}

func (t *Transcriber) transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	input, err := t.broker.Acquire(inputPrefix, SuffixFor(filename))
	if err != nil {
		return "", fmt.Errorf(errFmtClassified, core.ErrUploadRead, err)
	}
	defer input.Release()

	written, err := input.Write(audio)
	if err != nil {
		return "", fmt.Errorf(errFmtClassified, core.ErrUploadRead, err)
	}

	t.log.Info(logFmtStaged, filename, humanize.Bytes(uint64(written)), input.Path())

	engine, err := t.engines.Acquire(ctx)
	if err != nil {
		return "", err
	}

	segments, err := engine.Transcribe(ctx, input.Path(), core.TranscribeOptions{VADFilter: true})
	if err != nil {
		return "", fmt.Errorf(errFmtClassified, core.ErrInference, err)
	}

	var texts []string

	for segment, segErr := range segments {
		if segErr != nil {
			return "", fmt.Errorf(errFmtClassified, core.ErrInference, segErr)
		}

		texts = append(texts, segment.Text)
	}

	text := JoinSegments(texts)
	t.log.Info(logFmtTranscribed, filename, len(texts), len(text))

	return text, nil
}

// SuffixFor returns the temp-file suffix for an uploaded file name: the text
// after the last dot, dot included, or ".webm" when the name has no dot.
func SuffixFor(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return defaultSuffix
	}

	return filename[idx:]
}

// JoinSegments trims each segment, joins them with single spaces, and trims
// the result.
func JoinSegments(texts []string) string {
	trimmed := make([]string, len(texts))
	for i, text := range texts {
		trimmed[i] = strings.TrimSpace(text)
	}

	return strings.TrimSpace(strings.Join(trimmed, " "))
}
