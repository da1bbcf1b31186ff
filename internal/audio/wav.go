// Package audio provides the PCM handling the recognition engine needs:
// WAV decoding, down-mixing and resampling to 16 kHz mono float32, and an
// energy-based voice-activity filter.
//
// Uncompressed 16-bit PCM inside a RIFF/WAVE container is decoded in
// process. DecodeWAV rejects anything else with ErrUnsupportedFormat;
// LoadFile then hands such clips to ffmpeg when one is configured.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WhisperSampleRate is the sample rate whisper.cpp models are trained on.
const WhisperSampleRate = 16000

const (
	riffTag        = "RIFF"
	waveTag        = "WAVE"
	fmtChunkID     = "fmt "
	dataChunkID    = "data"
	formatPCM      = 1
	formatExtended = 0xFFFE
	bitsPerSample  = 16
	minFmtSize     = 16
	maxFmtSize     = 40 // WAVE_FORMAT_EXTENSIBLE
	maxChannels    = 8
	int16Scale     = 32768.0
)

// Errors returned by DecodeWAV.
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrMalformedWAV      = errors.New("malformed WAV data")
)

const (
	errFmtUnsupported = "%w: %s"
	errFmtMalformed   = "%w: %s"
	errFmtReadHeader  = "%w: reading header: %w"
	errFmtReadChunk   = "%w: reading %q chunk: %w"
)

// PCM is decoded 16-bit little-endian interleaved audio.
type PCM struct {
	SampleRate int
	Channels   int
	Data       []byte
}

// DecodeWAV reads a RIFF/WAVE stream containing 16-bit PCM.
func DecodeWAV(r io.Reader) (*PCM, error) {
	var header [12]byte

	_, err := io.ReadFull(r, header[:])
	if err != nil {
		return nil, fmt.Errorf(errFmtReadHeader, ErrUnsupportedFormat, err)
	}

	if string(header[0:4]) != riffTag || string(header[8:12]) != waveTag {
		return nil, fmt.Errorf(errFmtUnsupported, ErrUnsupportedFormat, "not a RIFF/WAVE file")
	}

	var (
		pcm       PCM
		sawFormat bool
	)

	for {
		var chunkHeader [8]byte

		_, err = io.ReadFull(r, chunkHeader[:])
		if err != nil {
			return nil, fmt.Errorf(errFmtMalformed, ErrMalformedWAV, "missing data chunk")
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case fmtChunkID:
			err = readFormat(r, chunkSize, &pcm)
			if err != nil {
				return nil, err
			}

			sawFormat = true
		case dataChunkID:
			if !sawFormat {
				return nil, fmt.Errorf(errFmtMalformed, ErrMalformedWAV, "data chunk before fmt chunk")
			}

			// Streaming writers leave the size at zero or 0xFFFFFFFF; read to EOF then.
			var reader io.Reader = r
			if chunkSize != 0 && chunkSize != 0xFFFFFFFF {
				reader = io.LimitReader(r, int64(chunkSize))
			}

			data, readErr := io.ReadAll(reader)
			if readErr != nil {
				return nil, fmt.Errorf(errFmtReadChunk, ErrMalformedWAV, chunkID, readErr)
			}

			pcm.Data = data[:len(data)-len(data)%(2*pcm.Channels)]

			return &pcm, nil
		default:
			err = skipChunk(r, chunkSize)
			if err != nil {
				return nil, fmt.Errorf(errFmtReadChunk, ErrMalformedWAV, chunkID, err)
			}
		}
	}
}

func readFormat(r io.Reader, size uint32, pcm *PCM) error {
	if size < minFmtSize {
		return fmt.Errorf(errFmtMalformed, ErrMalformedWAV, "fmt chunk too short")
	}

	// The header's claimed size is untrusted; bound it before allocating.
	if size > maxFmtSize {
		return fmt.Errorf(errFmtMalformed, ErrMalformedWAV, fmt.Sprintf("fmt chunk of %d bytes", size))
	}

	body := make([]byte, int64(size)+int64(size%2))

	_, err := io.ReadFull(r, body)
	if err != nil {
		return fmt.Errorf(errFmtReadChunk, ErrMalformedWAV, fmtChunkID, err)
	}

	format := binary.LittleEndian.Uint16(body[0:2])
	channels := int(binary.LittleEndian.Uint16(body[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(body[4:8]))
	bits := binary.LittleEndian.Uint16(body[14:16])

	if format != formatPCM && format != formatExtended {
		return fmt.Errorf(errFmtUnsupported, ErrUnsupportedFormat, fmt.Sprintf("WAV encoding %d is not PCM", format))
	}

	if bits != bitsPerSample {
		return fmt.Errorf(errFmtUnsupported, ErrUnsupportedFormat, fmt.Sprintf("%d-bit samples", bits))
	}

	if channels < 1 || channels > maxChannels || sampleRate <= 0 {
		return fmt.Errorf(errFmtMalformed, ErrMalformedWAV, "invalid channel count or sample rate")
	}

	pcm.Channels = channels
	pcm.SampleRate = sampleRate

	return nil
}

func skipChunk(r io.Reader, size uint32) error {
	// Chunks are word aligned.
	_, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2))

	return err
}

// Mono16k down-mixes the audio and resamples it to 16 kHz float32 samples
// normalised to [-1, 1], the input format whisper.cpp expects.
func (p *PCM) Mono16k() []float32 {
	frames := len(p.Data) / (2 * p.Channels)
	mono := make([]float32, frames)

	for i := range frames {
		var sum float32

		for ch := range p.Channels {
			idx := (i*p.Channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(p.Data[idx : idx+2]))
			sum += float32(sample) / int16Scale
		}

		mono[i] = sum / float32(p.Channels)
	}

	return Resample(mono, p.SampleRate, WhisperSampleRate)
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Equal rates return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0

		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}

		out[i] = s0*(1-frac) + s1*frac
	}

	return out
}

// Duration returns the clip length in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}

	return float64(len(p.Data)/(2*p.Channels)) / float64(p.SampleRate)
}
