// Package scheduler queues decoded audio buffers onto an output device clock
// for gapless playback.
//
// The scheduler keeps a single monotonic cursor, the device-clock time at
// which the next buffer starts. The first buffer after a (re)start is placed
// a fixed look-ahead interval in the future so a few chunks accumulate before
// audible playback begins. Each scheduled buffer advances the cursor by
// exactly its own duration, so consecutive buffers are sample-adjacent. When
// the cursor falls behind the device clock the stream has underrun: the
// scheduler resets to the priming state, drops the late buffer, and reports
// the stall so the owner can surface a buffering indicator.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
)

// DefaultBufferTime is the look-ahead applied before audible playback starts.
const DefaultBufferTime = 2 * time.Second

// Config carries the dependencies for [New].
type Config struct {
	// Output is the playback device. Required.
	Output audio.Output

	// BufferTime overrides the priming look-ahead. Defaults to
	// [DefaultBufferTime].
	BufferTime time.Duration

	// Meter, when set, observes every accepted buffer.
	Meter *audio.Meter

	// OnPlaying is called once the priming look-ahead has elapsed after the
	// first buffer of a (re)started stream. Optional.
	OnPlaying func()

	// OnUnderrun is called when the stream falls behind the device clock.
	// Optional.
	OnUnderrun func()
}

// Scheduler places buffers on the output device clock. Safe for concurrent
// use.
type Scheduler struct {
	out        audio.Output
	bufferTime float64
	meter      *audio.Meter
	onPlaying  func()
	onUnderrun func()

	mu        sync.Mutex
	norm      audio.Normalizer
	nextStart float64
	active    bool
	primeTmr  *time.Timer
}

// New creates a scheduler. The scheduler starts inactive; buffers are
// discarded until [Scheduler.Activate].
func New(cfg Config) *Scheduler {
	bufferTime := cfg.BufferTime
	if bufferTime <= 0 {
		bufferTime = DefaultBufferTime
	}
	return &Scheduler{
		out:        cfg.Output,
		bufferTime: bufferTime.Seconds(),
		meter:      cfg.Meter,
		onPlaying:  cfg.OnPlaying,
		onUnderrun: cfg.OnUnderrun,
		norm:       audio.Normalizer{Target: audio.OutputFormat()},
	}
}

// Activate begins accepting buffers. The clock cursor starts unset, so the
// first buffer primes with the full look-ahead.
func (s *Scheduler) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.resetLocked()
}

// Deactivate discards all future buffers until the next Activate and resets
// the clock cursor. Pending priming notifications are cancelled.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.resetLocked()
}

func (s *Scheduler) resetLocked() {
	s.nextStart = 0
	if s.primeTmr != nil {
		s.primeTmr.Stop()
		s.primeTmr = nil
	}
}

// Enqueue places a buffer on the device clock. It reports whether the buffer
// was scheduled: false means it was discarded, either because the scheduler
// is inactive or because the stream underran.
func (s *Scheduler) Enqueue(buf audio.Buffer) bool {
	s.mu.Lock()

	if !s.active {
		s.mu.Unlock()
		slog.Debug("scheduler: discarding buffer while inactive")
		return false
	}
	if buf.Empty() {
		s.mu.Unlock()
		return false
	}

	buf = s.norm.Normalize(buf)
	if s.meter != nil {
		s.meter.Observe(buf)
	}

	now := s.out.Now()
	switch {
	case s.nextStart == 0:
		// Priming: park the first buffer a full look-ahead out and note
		// when audible playback begins.
		s.nextStart = now + s.bufferTime
		if s.onPlaying != nil {
			s.primeTmr = time.AfterFunc(time.Duration(s.bufferTime*float64(time.Second)), s.onPlaying)
		}
	case s.nextStart < now:
		// Underrun: the cursor is in the past. Reset to priming and drop
		// this buffer; the next one re-primes. The callback runs outside
		// the lock so owners may call back into the scheduler.
		slog.Warn("scheduler: stream underrun, re-priming",
			"behind", now-s.nextStart,
		)
		s.resetLocked()
		s.mu.Unlock()
		if s.onUnderrun != nil {
			s.onUnderrun()
		}
		return false
	}

	s.out.ScheduleAt(buf, s.nextStart)
	s.nextStart += buf.Duration()
	s.mu.Unlock()
	return true
}

// Active reports whether the scheduler is accepting buffers.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
