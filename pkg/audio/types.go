package audio

// Output format for generative music playback. Server audio chunks are
// 16-bit little-endian PCM at this rate and channel count.
const (
	OutputSampleRate = 48000
	OutputChannels   = 2
)

// Buffer is a decoded block of interleaved int16 PCM samples ready for
// scheduling on an output device.
type Buffer struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return float64(frames) / float64(b.SampleRate)
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool { return len(b.Samples) == 0 }
