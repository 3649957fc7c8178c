package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// OutputFormat is the format every buffer must be in before scheduling.
func OutputFormat() Format {
	return Format{SampleRate: OutputSampleRate, Channels: OutputChannels}
}

// Normalizer converts decoded buffers to a target format. It logs a warning
// on the first format mismatch so a misconfigured transport is visible
// without flooding the log. Create one per stream; not designed for shared
// use across goroutines.
type Normalizer struct {
	Target         Format
	warnedMismatch sync.Once
}

// Normalize converts a buffer to the target format. If the source format
// already matches, the buffer is returned unchanged. Conversion order:
// resample first, then channel convert.
func (n *Normalizer) Normalize(buf Buffer) Buffer {
	if buf.SampleRate == n.Target.SampleRate && buf.Channels == n.Target.Channels {
		return buf
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch, converting",
			"from", formatString(buf.SampleRate, buf.Channels),
			"to", formatString(n.Target.SampleRate, n.Target.Channels),
		)
	})

	samples := buf.Samples
	rate := buf.SampleRate
	channels := buf.Channels

	if rate != n.Target.SampleRate {
		samples = Resample(samples, channels, rate, n.Target.SampleRate)
		rate = n.Target.SampleRate
	}

	switch {
	case channels == 1 && n.Target.Channels == 2:
		samples = MonoToStereo(samples)
		channels = 2
	case channels == 2 && n.Target.Channels == 1:
		samples = StereoToMono(samples)
		channels = 1
	}

	return Buffer{Samples: samples, SampleRate: rate, Channels: channels}
}

// MonoToStereo duplicates each mono sample into a stereo L+R pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each interleaved L+R pair. Uses int32 arithmetic so
// the sum cannot overflow.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return out
}

// Resample converts interleaved PCM from srcRate to dstRate using linear
// interpolation per channel. If the rates match the input is returned
// unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}

	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = samples[(srcIdx+1)*channels+ch]
			}
			out[i*channels+ch] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
		}
	}
	return out
}

// formatString renders a sample rate and channel count as e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
