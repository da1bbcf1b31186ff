// Package core defines the core business types and interfaces for the voice service.
package core

import (
	"context"
	"iter"
)

// Segment is a single timestamped piece of transcribed text as produced by
// the recognition engine.
type Segment struct {
	Start int64 // milliseconds from the start of the clip
	End   int64
	Text  string
}

// TranscribeOptions controls a single inference call.
type TranscribeOptions struct {
	// VADFilter drops non-speech audio before it reaches the model.
	VADFilter bool
}

// Engine is a loaded speech-recognition model. Implementations must allow
// concurrent Transcribe calls once constructed.
type Engine interface {
	// Transcribe runs inference over the audio file at path. The returned
	// sequence is lazy and yields segments in chronological order.
	Transcribe(ctx context.Context, path string, opts TranscribeOptions) (iter.Seq2[Segment, error], error)
}

// EngineConfig describes which model to load. It is read once, when the
// engine is constructed.
type EngineConfig struct {
	ModelSize   string
	Device      string
	ComputeType string
	ModelsDir   string
	Language    string
	Threads     int
	// FFmpegPath decodes non-WAV uploads. Empty accepts WAV only.
	FFmpegPath string
}

// SynthesisRequest is a single text-to-speech job. Voice and Speed fall back
// to configured defaults when unset.
type SynthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Speed *int   `json:"speed,omitempty"`
}

// SpeechProcessor runs the external synthesizer for one request, writing
// WAV audio to outputPath.
type SpeechProcessor interface {
	Synthesize(ctx context.Context, text, voice string, speed int, outputPath string) error
}
