// Package tts provides text-to-speech synthesis through an external
// command-line synthesizer such as espeak-ng.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-service/internal/core"
)

// waitDelay bounds how long a killed synthesizer's children may hold stderr open.
const waitDelay = 2 * time.Second

const (
	errFmtStartSynth = "failed to start synthesizer %s: %w"
	logFmtSynthRun   = "Running %s (voice=%s speed=%d) into %s"
)

// EspeakProcessor implements core.SpeechProcessor by running an
// espeak-compatible binary: <binary> -v <voice> -s <speed> -w <path> <text>.
type EspeakProcessor struct {
	binary  string
	timeout time.Duration
	log     *logger.Logger
}

// NewEspeakProcessor creates a processor for binary. A zero timeout leaves
// the run bound only by the caller's context.
func NewEspeakProcessor(binary string, timeout time.Duration, log *logger.Logger) *EspeakProcessor {
	return &EspeakProcessor{
		binary:  binary,
		timeout: timeout,
		log:     log,
	}
}

// Synthesize writes WAV audio for text to outputPath. Only the exit status and
// the error stream are interpreted; a non-zero exit is returned as a
// *core.ProcessError carrying stderr.
func (p *EspeakProcessor) Synthesize(ctx context.Context, text, voice string, speed int, outputPath string) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{
		"-v", voice,
		"-s", strconv.Itoa(speed),
		"-w", outputPath,
		text,
	}

	p.log.Info(logFmtSynthRun, p.binary, voice, speed, outputPath)

	// #nosec G204 -- the binary comes from configuration and text is passed as a single argv entry
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &core.ProcessError{Stderr: stderr.String(), Err: exitErr}
	}

	return fmt.Errorf(errFmtStartSynth, p.binary, runErr)
}
