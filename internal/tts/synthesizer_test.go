package tts_test

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tempfile"
	"github.com/book-expert/voice-service/internal/tts"
)

var defaults = tts.Defaults{Voice: "en-us", Speed: 170}

type countingProcessor struct {
	calls atomic.Int32
}

func (p *countingProcessor) Synthesize(context.Context, string, string, int, string) error {
	p.calls.Add(1)

	return nil
}

// panickingProcessor writes partial output and then panics mid-run.
type panickingProcessor struct{}

func (panickingProcessor) Synthesize(_ context.Context, _, _ string, _ int, outputPath string) error {
	err := os.WriteFile(outputPath, []byte("RIFF"), 0o600)
	if err != nil {
		return err
	}

	panic("nil voice table")
}

func newSynthesizer(t *testing.T, processor core.SpeechProcessor) (*tts.Synthesizer, string) {
	t.Helper()

	dir := t.TempDir()
	log := newLogger(t)

	broker, err := tempfile.New(dir, log)
	require.NoError(t, err)

	return tts.NewSynthesizer(processor, broker, defaults, log), dir
}

func scriptSynthesizer(t *testing.T, script string) (*tts.Synthesizer, string) {
	t.Helper()

	log := newLogger(t)

	return newSynthesizer(t, tts.NewEspeakProcessor(writeScript(t, script), time.Minute, log))
}

func entries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()

	list, err := os.ReadDir(dir)
	require.NoError(t, err)

	return list
}

func intPtr(v int) *int {
	return &v
}

func TestSynthesize_StreamsAudioAndRemovesItAfterRead(t *testing.T) {
	t.Parallel()

	synth, dir := scriptSynthesizer(t, echoArgsScript)

	audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", audio.ContentType)
	assert.Equal(t, "speech.wav", audio.Filename)
	assert.Positive(t, audio.Size)
	assert.Len(t, entries(t, dir), 1)

	body, err := io.ReadAll(audio.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-v\nen-us\n-s\n170\n")
	assert.True(t, strings.HasSuffix(string(body), "hello\n"))

	assert.Empty(t, entries(t, dir))
	require.NoError(t, audio.Close())
}

func TestSynthesize_AbandonedStreamIsRemovedOnClose(t *testing.T) {
	t.Parallel()

	synth, dir := scriptSynthesizer(t, echoArgsScript)

	audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{Text: "hello"})
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = audio.Stream.Read(buf)
	require.NoError(t, err)

	require.NoError(t, audio.Close())
	assert.Empty(t, entries(t, dir))
}

func TestSynthesize_RequestOverridesDefaults(t *testing.T) {
	t.Parallel()

	synth, _ := scriptSynthesizer(t, echoArgsScript)

	audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{
		Text:  "hola",
		Voice: "es",
		Speed: intPtr(120),
	})
	require.NoError(t, err)

	defer func() { _ = audio.Close() }()

	body, err := io.ReadAll(audio.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-v\nes\n-s\n120\n")
}

func TestSynthesize_ZeroSpeedUsesDefault(t *testing.T) {
	t.Parallel()

	synth, _ := scriptSynthesizer(t, echoArgsScript)

	audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{Text: "x", Speed: intPtr(0)})
	require.NoError(t, err)

	defer func() { _ = audio.Close() }()

	body, err := io.ReadAll(audio.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-s\n170\n")
}

func TestSynthesize_ProcessFailureReleasesOutput(t *testing.T) {
	t.Parallel()

	synth, dir := scriptSynthesizer(t, failingScript)

	audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi", Voice: "xx-yy"})
	require.Error(t, err)
	assert.Nil(t, audio)

	var opErr *core.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, core.OpTTS, opErr.Op)
	require.ErrorIs(t, err, core.ErrExternalProcess)
	assert.Equal(t, "TTS failed: unknown voice 'xx-yy'", err.Error())
	assert.Empty(t, entries(t, dir))
}

func TestSynthesize_ProcessorPanicReleasesOutput(t *testing.T) {
	t.Parallel()

	synth, dir := newSynthesizer(t, panickingProcessor{})

	var (
		audio *tts.Audio
		err   error
	)

	require.NotPanics(t, func() {
		audio, err = synth.Synthesize(context.Background(), core.SynthesisRequest{Text: "hello"})
	})

	require.ErrorIs(t, err, core.ErrSynthesis)
	assert.Equal(t, "TTS failed: synthesis failed: recovered from panic: nil voice table", err.Error())
	assert.Nil(t, audio)
	assert.Empty(t, entries(t, dir))
}

func TestSynthesize_LengthBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		valid bool
	}{
		{"empty", "", false},
		{"one", "a", true},
		{"max", strings.Repeat("a", tts.MaxTextLength), true},
		{"max multibyte", strings.Repeat("é", tts.MaxTextLength), true},
		{"over max", strings.Repeat("a", tts.MaxTextLength+1), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			processor := &countingProcessor{}
			synth, dir := newSynthesizer(t, processor)

			audio, err := synth.Synthesize(context.Background(), core.SynthesisRequest{Text: tc.text})
			if tc.valid {
				require.NoError(t, err)
				require.NoError(t, audio.Close())
				assert.Equal(t, int32(1), processor.calls.Load())

				return
			}

			require.ErrorIs(t, err, core.ErrValidation)
			assert.True(t, strings.HasPrefix(err.Error(), "TTS failed: "))
			assert.Zero(t, processor.calls.Load())
			assert.Empty(t, entries(t, dir))
		})
	}
}
