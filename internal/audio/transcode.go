package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const transcodeWaitDelay = 2 * time.Second

const (
	errFmtOpenFile     = "opening audio: %w"
	errFmtTranscode    = "%w: %s"
	errFmtTranscodeRun = "%w: running %s: %w"
)

// ErrTranscode is returned when ffmpeg cannot decode an upload.
var ErrTranscode = errors.New("audio could not be decoded")

// LoadFile reads the clip at path as 16 kHz mono samples. WAV files are
// decoded in process. Any other container is handed to the ffmpeg binary
// when one is configured; an empty ffmpeg leaves such files unsupported.
func LoadFile(ctx context.Context, path, ffmpeg string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenFile, err)
	}

	pcm, err := DecodeWAV(file)
	_ = file.Close()

	if err == nil {
		return pcm.Mono16k(), nil
	}

	if !errors.Is(err, ErrUnsupportedFormat) || ffmpeg == "" {
		return nil, err
	}

	pcm, err = Transcode(ctx, ffmpeg, path)
	if err != nil {
		return nil, err
	}

	return pcm.Mono16k(), nil
}

// Transcode runs ffmpeg over path and returns its output as 16 kHz mono
// 16-bit PCM. Only stdout and the exit status are interpreted; ffmpeg's
// error stream becomes the error message.
func Transcode(ctx context.Context, ffmpeg, path string) (*PCM, error) {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", strconv.Itoa(WhisperSampleRate),
		"pipe:1",
	}

	// #nosec G204 -- the binary comes from configuration and path is a broker-generated temp file
	cmd := exec.CommandContext(ctx, ffmpeg, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = transcodeWaitDelay

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				return nil, fmt.Errorf(errFmtTranscode, ErrTranscode, detail)
			}
		}

		return nil, fmt.Errorf(errFmtTranscodeRun, ErrTranscode, ffmpeg, err)
	}

	data := stdout.Bytes()

	return &PCM{
		SampleRate: WhisperSampleRate,
		Channels:   1,
		Data:       data[:len(data)-len(data)%2],
	}, nil
}
