// Command voice-client talks to a running voice service from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/book-expert/voice-service/internal/client"
	"github.com/book-expert/voice-service/internal/core"
)

// Flag descriptions.
const (
	flagURLDesc        = "Base URL of the voice service"
	flagTextDesc       = "Text to convert to speech"
	flagVoiceDesc      = "Synthesizer voice (service default when empty)"
	flagSpeedDesc      = "Speech rate in words per minute (service default when 0)"
	flagOutputDesc     = "Output file path (.wav)"
	flagTranscribeDesc = "Audio file to transcribe"
	flagHealthDesc     = "Check voice service health and exit"
	flagTimeoutDesc    = "Request timeout"
)

// Flag names.
const (
	flagURL        = "url"
	flagText       = "text"
	flagVoice      = "voice"
	flagSpeed      = "speed"
	flagOutput     = "output"
	flagTranscribe = "transcribe"
	flagHealth     = "health"
	flagTimeout    = "timeout"
)

const (
	defaultURL        = "http://localhost:8000"
	defaultOutputFile = "output.wav"
	defaultTimeout    = 5 * time.Minute
	outputPermissions = 0o600
)

// Errors and messages.
var (
	errEitherTextOrTranscribe = errors.New("either --text or --transcribe must be provided")
	errCannotSpecifyBoth      = errors.New("cannot specify both --text and --transcribe")
)

const (
	msgServiceHealthy = "Voice service is healthy"
	msgGenerated      = "Generated: %s (%s)\n"
	errFmtOpenAudio   = "failed to open audio file: %w"
	errFmtWriteOutput = "failed to write %s: %w"
	errFmtHealth      = "health check failed: %w"
	errFmtSynthesize  = "failed to synthesize speech: %w"
	errFmtTranscribe  = "failed to transcribe %s: %w"
	errFmtParseFlags  = "failed to parse flags: %w"
	errFmtCloseAudio  = "Warning: failed to close %s: %v"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url        string
	text       string
	voice      string
	speed      int
	output     string
	transcribe string
	health     bool
	timeout    time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	voiceClient := client.New(flags.url, flags.timeout)

	if flags.health {
		healthErr := voiceClient.Health(ctx)
		if healthErr != nil {
			return fmt.Errorf(errFmtHealth, healthErr)
		}

		fmt.Fprintln(stdout, msgServiceHealthy)

		return nil
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	if flags.transcribe != "" {
		return transcribeFile(ctx, voiceClient, flags.transcribe, stdout)
	}

	return synthesizeText(ctx, voiceClient, flags, stdout)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)
	flagSet.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.IntVar(&flags.speed, flagSpeed, 0, flagSpeedDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.StringVar(&flags.transcribe, flagTranscribe, "", flagTranscribeDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf(errFmtParseFlags, err)
	}

	return flags, nil
}

// validateFlags enforces that exactly one of --text or --transcribe is set.
func validateFlags(flags appFlags) error {
	if flags.text == "" && flags.transcribe == "" {
		return errEitherTextOrTranscribe
	}

	if flags.text != "" && flags.transcribe != "" {
		return errCannotSpecifyBoth
	}

	return nil
}

func synthesizeText(ctx context.Context, voiceClient *client.Client, flags appFlags, stdout io.Writer) error {
	req := core.SynthesisRequest{Text: flags.text, Voice: flags.voice}
	if flags.speed != 0 {
		req.Speed = &flags.speed
	}

	audio, err := voiceClient.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf(errFmtSynthesize, err)
	}

	err = os.WriteFile(flags.output, audio, outputPermissions)
	if err != nil {
		return fmt.Errorf(errFmtWriteOutput, flags.output, err)
	}

	fmt.Fprintf(stdout, msgGenerated, flags.output, humanize.Bytes(uint64(len(audio))))

	return nil
}

func transcribeFile(ctx context.Context, voiceClient *client.Client, path string, stdout io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf(errFmtOpenAudio, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			log.Printf(errFmtCloseAudio, path, closeErr)
		}
	}()

	text, err := voiceClient.Transcribe(ctx, filepath.Base(path), file)
	if err != nil {
		return fmt.Errorf(errFmtTranscribe, path, err)
	}

	fmt.Fprintln(stdout, text)

	return nil
}
