package tts

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tempfile"
)

// Text length bounds, in characters.
const (
	MinTextLength = 1
	MaxTextLength = 5000
)

const (
	outputPrefix     = "tts-"
	outputSuffix     = ".wav"
	contentTypeWAV   = "audio/wav"
	downloadFilename = "speech.wav"
)

const (
	errFmtTextLength   = "%w: text must be between %d and %d characters, got %d"
	errFmtAllocate     = "allocating output: %w"
	errFmtOpenOutput   = "opening synthesized audio: %w"
	logFmtSynthesized  = "Synthesized %d characters into %s (%s)"
	logFmtSynthesisErr = "Synthesis failed: %v"
	logFmtPanic        = "Synthesis panicked: %v"
)

// Defaults are applied to requests that leave voice or speed unset.
type Defaults struct {
	Voice string
	Speed int
}

// Audio is a synthesized WAV file ready to be streamed. The backing file is
// removed when the stream is read to the end or closed.
type Audio struct {
	Stream      *tempfile.Stream
	Size        int64
	ContentType string
	Filename    string
	ModTime     time.Time
}

// Close releases the audio file. It is safe to call after the stream has
// already been drained.
func (a *Audio) Close() error {
	return a.Stream.Close()
}

// Synthesizer validates synthesis requests and runs them through a
// core.SpeechProcessor into request-scoped output files.
type Synthesizer struct {
	processor core.SpeechProcessor
	broker    *tempfile.Broker
	defaults  Defaults
	log       *logger.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(
	processor core.SpeechProcessor,
	broker *tempfile.Broker,
	defaults Defaults,
	log *logger.Logger,
) *Synthesizer {
	return &Synthesizer{
		processor: processor,
		broker:    broker,
		defaults:  defaults,
		log:       log,
	}
}

// Validate checks a request without allocating anything.
func Validate(req core.SynthesisRequest) error {
	length := utf8.RuneCountInString(req.Text)
	if length < MinTextLength || length > MaxTextLength {
		return fmt.Errorf(errFmtTextLength, core.ErrValidation, MinTextLength, MaxTextLength, length)
	}

	return nil
}

// Synthesize validates req, fills in defaults, and runs the synthesizer. On
// success the caller owns the returned Audio and must Close it. Every failure
// is an *core.OperationError; a failed run never leaves an output file behind.
func (s *Synthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) (audio *Audio, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.log.Error(logFmtPanic, recovered)

			audio, err = nil, &core.OperationError{Op: core.OpTTS, Err: core.Recovered(core.ErrSynthesis, recovered)}
		}
	}()

	audio, err = s.synthesize(ctx, req)
	if err != nil {
		s.log.Error(logFmtSynthesisErr, err)

		return nil, &core.OperationError{Op: core.OpTTS, Err: err}
	}

	return audio, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, req core.SynthesisRequest) (*Audio, error) {
	err := Validate(req)
	if err != nil {
		return nil, err
	}

	voice, speed := s.resolve(req)

	output, err := s.broker.Acquire(outputPrefix, outputSuffix)
	if err != nil {
		return nil, fmt.Errorf(errFmtAllocate, err)
	}

	// Ownership passes to the stream only once it is open.
	streaming := false

	defer func() {
		if !streaming {
			output.Release()
		}
	}()

	err = s.processor.Synthesize(ctx, req.Text, voice, speed, output.Path())
	if err != nil {
		return nil, err
	}

	stream, err := output.Open()
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenOutput, err)
	}

	streaming = true

	s.log.Info(logFmtSynthesized, utf8.RuneCountInString(req.Text), output.Path(),
		humanize.Bytes(uint64(stream.Size())))

	return &Audio{
		Stream:      stream,
		Size:        stream.Size(),
		ContentType: contentTypeWAV,
		Filename:    downloadFilename,
		ModTime:     stream.ModTime(),
	}, nil
}

func (s *Synthesizer) resolve(req core.SynthesisRequest) (string, int) {
	voice := req.Voice
	if voice == "" {
		voice = s.defaults.Voice
	}

	speed := s.defaults.Speed
	if req.Speed != nil && *req.Speed != 0 {
		speed = *req.Speed
	}

	return voice, speed
}
