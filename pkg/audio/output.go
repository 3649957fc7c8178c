package audio

import "time"

// GainRampDuration is how long fade-in and fade-out ramps take.
const GainRampDuration = 100 * time.Millisecond

// Output is a playback device with its own monotonic clock. Time values are
// seconds on the device clock, the same domain used by [Output.ScheduleAt].
//
// Implementations queue buffers for sample-accurate playback; scheduling two
// buffers back to back at exact times produces gapless output.
type Output interface {
	// Now returns the current device clock time in seconds.
	Now() float64

	// ScheduleAt queues buf to begin playing at the given device clock time.
	ScheduleAt(buf Buffer, at float64)

	// SetGain ramps the master gain linearly to target over ramp.
	SetGain(target float64, ramp time.Duration)

	// Resume starts the device clock. Required before first playback on
	// devices that start suspended.
	Resume() error

	// Suspend halts the device clock and playback.
	Suspend() error

	// Close releases the device.
	Close() error
}
