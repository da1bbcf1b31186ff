package audio

import "math"

// VADOptions tunes the energy-based voice activity filter.
type VADOptions struct {
	// FrameMs is the analysis window length.
	FrameMs int
	// Threshold is the RMS level, on the normalised [-1, 1] scale, at or above
	// which a frame counts as speech.
	Threshold float64
	// PadMs keeps this much audio on either side of every speech frame so
	// word onsets and tails survive.
	PadMs int
	// MinSpeechMs drops isolated bursts shorter than this.
	MinSpeechMs int
}

// DefaultVADOptions matches near-silence for 16-bit speech recordings.
func DefaultVADOptions() VADOptions {
	return VADOptions{
		FrameMs:     30,
		Threshold:   0.01,
		PadMs:       210,
		MinSpeechMs: 90,
	}
}

// FilterSilence returns only the speech regions of samples, concatenated in
// their original order. It returns nil when no speech is found.
func FilterSilence(samples []float32, sampleRate int, opts VADOptions) []float32 {
	frameLen := sampleRate * opts.FrameMs / 1000
	if frameLen <= 0 || len(samples) == 0 {
		return nil
	}

	frameCount := (len(samples) + frameLen - 1) / frameLen
	speech := make([]bool, frameCount)

	for i := range frameCount {
		start := i * frameLen
		end := min(start+frameLen, len(samples))
		speech[i] = RMS(samples[start:end]) >= opts.Threshold
	}

	dropShortBursts(speech, ceilDiv(opts.MinSpeechMs, opts.FrameMs))

	keep := dilate(speech, ceilDiv(opts.PadMs, opts.FrameMs))

	var out []float32

	for i, kept := range keep {
		if !kept {
			continue
		}

		start := i * frameLen
		end := min(start+frameLen, len(samples))
		out = append(out, samples[start:end]...)
	}

	return out
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64

	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// dropShortBursts clears runs of speech frames shorter than minFrames.
func dropShortBursts(speech []bool, minFrames int) {
	if minFrames <= 1 {
		return
	}

	runStart := -1

	for i := 0; i <= len(speech); i++ {
		active := i < len(speech) && speech[i]

		switch {
		case active && runStart < 0:
			runStart = i
		case !active && runStart >= 0:
			if i-runStart < minFrames {
				for j := runStart; j < i; j++ {
					speech[j] = false
				}
			}

			runStart = -1
		}
	}
}

// dilate marks every frame within pad frames of a speech frame.
func dilate(speech []bool, pad int) []bool {
	keep := make([]bool, len(speech))

	for i, active := range speech {
		if !active {
			continue
		}

		lo := max(0, i-pad)
		hi := min(len(speech)-1, i+pad)

		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	return keep
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}

	return (a + b - 1) / b
}
