// Package stream provides an [audio.Output] implementation that renders the
// scheduled playback timeline into a live Opus stream. A fixed-rate pump
// mixes queued buffers into 20ms frames on an internal device clock, applies
// the master gain, encodes each frame, and fans packets out to subscribers.
//
// Subscribers are typically WebSocket connections; a slow subscriber drops
// packets rather than stalling the pump.
package stream

import (
	"container/heap"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSeconds  = 0.02
	frameSamples  = audio.OutputSampleRate / 50 // frames per channel per pump tick

	// subscriberBuffer is how many packets a subscriber may fall behind
	// before the pump starts dropping for it.
	subscriberBuffer = 64
)

// Output is a streaming playback device. The zero value is not usable; use
// [New].
type Output struct {
	mu      sync.Mutex
	queue   bufferHeap
	seq     uint64
	clock   float64 // device seconds, advances only while running
	running bool
	closed  bool

	// Gain ramps linearly from gainFrom at gainStart to gainTo at gainEnd,
	// all in device clock seconds.
	gainFrom  float64
	gainTo    float64
	gainStart float64
	gainEnd   float64

	subs map[chan []byte]struct{}

	enc  *audio.OpusEncoder
	norm audio.Normalizer

	stop chan struct{}
	done chan struct{}
}

var _ audio.Output = (*Output)(nil)

// New creates a streaming output and starts its pump. The device starts
// suspended, matching hardware outputs that require [Output.Resume] before
// the clock runs.
func New() (*Output, error) {
	enc, err := audio.NewOpusEncoder(audio.OutputSampleRate, audio.OutputChannels)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	o := &Output{
		gainFrom: 1,
		gainTo:   1,
		subs:     make(map[chan []byte]struct{}),
		enc:      enc,
		norm:     audio.Normalizer{Target: audio.OutputFormat()},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.pump()
	return o, nil
}

// Now returns the current device clock time in seconds.
func (o *Output) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clock
}

// ScheduleAt queues buf to begin playing at the given device clock time.
// Buffers in a different format are converted to the output format first.
func (o *Output) ScheduleAt(buf audio.Buffer, at float64) {
	if buf.Empty() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	buf = o.norm.Normalize(buf)
	heap.Push(&o.queue, entry{buf: buf, start: at, seq: o.seq})
	o.seq++
}

// SetGain ramps the master gain linearly to target over ramp.
func (o *Output) SetGain(target float64, ramp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.clock
	o.gainFrom = o.gainAtLocked(now)
	o.gainTo = target
	o.gainStart = now
	o.gainEnd = now + ramp.Seconds()
}

// Resume starts the device clock.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("stream: output closed")
	}
	o.running = true
	return nil
}

// Suspend halts the device clock. Queued buffers stay queued and play once
// the clock resumes.
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	return nil
}

// Close stops the pump and closes all subscriber channels.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	<-o.done

	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs {
		close(ch)
	}
	clear(o.subs)
	return nil
}

// Subscribe registers a consumer of encoded Opus packets. The returned
// cancel function unregisters it and closes the channel; calling cancel more
// than once is safe. The channel is also closed by [Output.Close].
func (o *Output) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// ── Pump ──

func (o *Output) pump() {
	defer close(o.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.step()
		}
	}
}

// step renders and broadcasts one frame. While suspended the clock is frozen
// and nothing is produced.
func (o *Output) step() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}

	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mixFrameLocked(pcm)
	o.clock += frameSeconds

	subs := make([]chan []byte, 0, len(o.subs))
	for ch := range o.subs {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	packet, err := o.enc.Encode(pcm, audio.OutputChannels)
	if err != nil {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- packet:
		default:
			// Subscriber is behind; drop rather than stall the pump.
		}
	}
}

// mixFrameLocked sums every queued buffer overlapping the current frame into
// pcm, applies the gain, and drops buffers that have fully played.
func (o *Output) mixFrameLocked(pcm []int16) {
	frameStart := o.clock
	frameEnd := frameStart + frameSeconds

	for o.queue.Len() > 0 && o.queue[0].end() <= frameStart {
		heap.Pop(&o.queue)
	}

	const channels = audio.OutputChannels
	for _, e := range o.queue {
		if e.start >= frameEnd {
			continue
		}
		srcOff := int(math.Round((frameStart - e.start) * audio.OutputSampleRate))
		dstOff := 0
		if srcOff < 0 {
			dstOff = -srcOff
			srcOff = 0
		}
		srcFrames := len(e.buf.Samples) / channels
		n := min(frameSamples-dstOff, srcFrames-srcOff)
		for f := range n {
			for c := range channels {
				di := (dstOff+f)*channels + c
				si := (srcOff+f)*channels + c
				pcm[di] = clamp(int32(pcm[di]) + int32(e.buf.Samples[si]))
			}
		}
	}

	if g := o.gainAtLocked(frameStart); g != 1 {
		for i, s := range pcm {
			pcm[i] = clamp(int32(float64(s) * g))
		}
	}
}

// gainAtLocked returns the master gain at device time t.
func (o *Output) gainAtLocked(t float64) float64 {
	switch {
	case t >= o.gainEnd:
		return o.gainTo
	case t <= o.gainStart:
		return o.gainFrom
	default:
		frac := (t - o.gainStart) / (o.gainEnd - o.gainStart)
		return o.gainFrom + (o.gainTo-o.gainFrom)*frac
	}
}

func clamp(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
