package audio

import (
	"math"
	"sync/atomic"
)

// Meter tracks the RMS level of audio passing through it, exposed as a value
// in [0, 1] for UI consumption. Observe and Level may be called from
// different goroutines.
type Meter struct {
	level atomic.Uint64 // float64 bits
}

// Observe folds a buffer into the current level reading. Empty buffers reset
// the level toward silence rather than being ignored, so the meter decays
// when the stream stalls.
func (m *Meter) Observe(buf Buffer) {
	if buf.Empty() {
		m.level.Store(0)
		return
	}
	var sum float64
	for _, s := range buf.Samples {
		f := float64(s) / math.MaxInt16
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(buf.Samples)))
	m.level.Store(math.Float64bits(min(rms, 1)))
}

// Level returns the most recent RMS reading in [0, 1].
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}
