package stream

import (
	"testing"
	"time"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
)

// constBuffer returns a stereo buffer of the given length in frames with
// every sample set to v.
func constBuffer(frames int, v int16) audio.Buffer {
	samples := make([]int16, frames*audio.OutputChannels)
	for i := range samples {
		samples[i] = v
	}
	return audio.Buffer{
		Samples:    samples,
		SampleRate: audio.OutputSampleRate,
		Channels:   audio.OutputChannels,
	}
}

func newOutput(t *testing.T) *Output {
	t.Helper()
	o, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestMixFrame_AlignedBuffer(t *testing.T) {
	o := newOutput(t)
	o.ScheduleAt(constBuffer(frameSamples, 100), 0)

	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mu.Lock()
	o.mixFrameLocked(pcm)
	o.mu.Unlock()

	for i, s := range pcm {
		if s != 100 {
			t.Fatalf("pcm[%d] = %d, want 100", i, s)
		}
	}
}

func TestMixFrame_BufferStartsMidFrame(t *testing.T) {
	o := newOutput(t)
	// Starts halfway through the first frame.
	o.ScheduleAt(constBuffer(frameSamples, 100), frameSeconds/2)

	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mu.Lock()
	o.mixFrameLocked(pcm)
	o.mu.Unlock()

	half := frameSamples / 2 * audio.OutputChannels
	if pcm[0] != 0 {
		t.Errorf("pcm[0] = %d, want silence before the buffer starts", pcm[0])
	}
	if pcm[half] != 100 {
		t.Errorf("pcm[%d] = %d, want 100 after the buffer starts", half, pcm[half])
	}
}

func TestMixFrame_GaplessSequence(t *testing.T) {
	o := newOutput(t)
	// Two half-frame buffers scheduled back to back fill the frame with no
	// gap at the seam.
	half := frameSamples / 2
	o.ScheduleAt(constBuffer(half, 50), 0)
	o.ScheduleAt(constBuffer(half, 70), frameSeconds/2)

	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mu.Lock()
	o.mixFrameLocked(pcm)
	o.mu.Unlock()

	seam := half * audio.OutputChannels
	if pcm[seam-1] != 50 {
		t.Errorf("last sample of first buffer = %d, want 50", pcm[seam-1])
	}
	if pcm[seam] != 70 {
		t.Errorf("first sample of second buffer = %d, want 70", pcm[seam])
	}
}

func TestMixFrame_OverlappingBuffersSum(t *testing.T) {
	o := newOutput(t)
	o.ScheduleAt(constBuffer(frameSamples, 100), 0)
	o.ScheduleAt(constBuffer(frameSamples, 25), 0)

	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mu.Lock()
	o.mixFrameLocked(pcm)
	o.mu.Unlock()

	if pcm[0] != 125 {
		t.Errorf("pcm[0] = %d, want summed 125", pcm[0])
	}
}

func TestMixFrame_DropsPlayedBuffers(t *testing.T) {
	o := newOutput(t)
	o.ScheduleAt(constBuffer(frameSamples, 100), 0)

	o.mu.Lock()
	o.clock = 5 * frameSeconds // well past the buffer
	pcm := make([]int16, frameSamples*audio.OutputChannels)
	o.mixFrameLocked(pcm)
	queued := o.queue.Len()
	o.mu.Unlock()

	if queued != 0 {
		t.Errorf("queue length = %d, want 0 after buffer played", queued)
	}
	if pcm[0] != 0 {
		t.Errorf("pcm[0] = %d, want silence", pcm[0])
	}
}

func TestMixFrame_NormalizesFormat(t *testing.T) {
	o := newOutput(t)
	// Mono at half the rate gets resampled and widened.
	mono := audio.Buffer{
		Samples:    make([]int16, frameSamples/2),
		SampleRate: audio.OutputSampleRate / 2,
		Channels:   1,
	}
	for i := range mono.Samples {
		mono.Samples[i] = 80
	}
	o.ScheduleAt(mono, 0)

	o.mu.Lock()
	e := o.queue[0]
	o.mu.Unlock()
	if e.buf.SampleRate != audio.OutputSampleRate || e.buf.Channels != audio.OutputChannels {
		t.Errorf("queued format = %dHz %dch, want output format", e.buf.SampleRate, e.buf.Channels)
	}
}

func TestGainRamp(t *testing.T) {
	o := newOutput(t)
	o.SetGain(0, 100*time.Millisecond)

	o.mu.Lock()
	start := o.gainAtLocked(0)
	mid := o.gainAtLocked(0.05)
	end := o.gainAtLocked(0.1)
	o.mu.Unlock()

	if start != 1 {
		t.Errorf("gain at ramp start = %v, want 1", start)
	}
	if mid < 0.45 || mid > 0.55 {
		t.Errorf("gain mid-ramp = %v, want ~0.5", mid)
	}
	if end != 0 {
		t.Errorf("gain at ramp end = %v, want 0", end)
	}
}

func TestGainRamp_RestartFromCurrent(t *testing.T) {
	o := newOutput(t)
	o.SetGain(0, 100*time.Millisecond)

	// Advance the clock halfway through the ramp, then reverse it. The new
	// ramp must pick up from the interpolated value, not jump.
	o.mu.Lock()
	o.clock = 0.05
	o.mu.Unlock()
	o.SetGain(1, 100*time.Millisecond)

	o.mu.Lock()
	from := o.gainFrom
	o.mu.Unlock()
	if from < 0.45 || from > 0.55 {
		t.Errorf("reversed ramp starts at %v, want ~0.5", from)
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(40000); got != 32767 {
		t.Errorf("clamp(40000) = %d", got)
	}
	if got := clamp(-40000); got != -32768 {
		t.Errorf("clamp(-40000) = %d", got)
	}
	if got := clamp(123); got != 123 {
		t.Errorf("clamp(123) = %d", got)
	}
}

func TestClockFrozenWhileSuspended(t *testing.T) {
	o := newOutput(t)
	before := o.Now()
	time.Sleep(3 * frameDuration)
	if after := o.Now(); after != before {
		t.Errorf("clock moved from %v to %v while suspended", before, after)
	}
}

func TestPumpDeliversPackets(t *testing.T) {
	o := newOutput(t)
	ch, cancel := o.Subscribe()
	defer cancel()

	if err := o.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	o.ScheduleAt(constBuffer(frameSamples*4, 1000), o.Now())

	select {
	case packet, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed early")
		}
		if len(packet) == 0 {
			t.Error("empty packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no packet within 2s")
	}

	if o.Now() == 0 {
		t.Error("clock did not advance while running")
	}
}

func TestSubscribeCancelIdempotent(t *testing.T) {
	o := newOutput(t)
	ch, cancel := o.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	o := newOutput(t)
	ch, _ := o.Subscribe()
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed by Close")
	}
	if err := o.Resume(); err == nil {
		t.Error("Resume after Close should fail")
	}
}
