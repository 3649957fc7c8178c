// Package mock provides an in-memory mock implementation of the
// [audio.Output] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes a manual
// device clock advanced via [Output.Advance].
//
// Typical usage:
//
//	out := &mock.Output{}
//	out.Advance(1.5) // device clock now at 1.5s
//	sched.Enqueue(buf)
//	calls := out.Scheduled()
package mock

import (
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
)

// ScheduleCall records the arguments of a single [audio.Output.ScheduleAt]
// invocation.
type ScheduleCall struct {
	// Buffer is the buffer passed to ScheduleAt.
	Buffer audio.Buffer
	// At is the device clock time passed to ScheduleAt.
	At float64
}

// GainCall records the arguments of a single [audio.Output.SetGain] invocation.
type GainCall struct {
	// Target is the gain target passed to SetGain.
	Target float64
	// Ramp is the ramp duration passed to SetGain.
	Ramp time.Duration
}

// Output is a mock implementation of [audio.Output] with a manually advanced
// device clock.
type Output struct {
	mu sync.Mutex

	now float64

	// ResumeError is returned by [Output.Resume].
	ResumeError error

	// SuspendError is returned by [Output.Suspend].
	SuspendError error

	// CloseError is returned by [Output.Close].
	CloseError error

	// ScheduleCalls records all ScheduleAt invocations.
	ScheduleCalls []ScheduleCall

	// GainCalls records all SetGain invocations.
	GainCalls []GainCall

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountSuspend records how many times Suspend was called.
	CallCountSuspend int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Output = (*Output)(nil)

// Advance moves the device clock forward by d seconds.
func (o *Output) Advance(d float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Now implements [audio.Output]. Returns the manual clock value.
func (o *Output) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// ScheduleAt implements [audio.Output]. Records the call arguments.
func (o *Output) ScheduleAt(buf audio.Buffer, at float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Buffer: buf, At: at})
}

// SetGain implements [audio.Output]. Records the call arguments.
func (o *Output) SetGain(target float64, ramp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.GainCalls = append(o.GainCalls, GainCall{Target: target, Ramp: ramp})
}

// Resume implements [audio.Output]. Returns ResumeError.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountResume++
	return o.ResumeError
}

// Suspend implements [audio.Output]. Returns SuspendError.
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountSuspend++
	return o.SuspendError
}

// Close implements [audio.Output]. Returns CloseError.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Scheduled returns a copy of all recorded ScheduleAt calls.
func (o *Output) Scheduled() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	calls := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(calls, o.ScheduleCalls)
	return calls
}

// Gains returns a copy of all recorded SetGain calls.
func (o *Output) Gains() []GainCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	calls := make([]GainCall, len(o.GainCalls))
	copy(calls, o.GainCalls)
	return calls
}
