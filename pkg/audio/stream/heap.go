package stream

import "github.com/HemantKumar01/SoulScript/pkg/audio"

// entry wraps a scheduled [audio.Buffer] with its start time on the device
// clock. The seq field provides FIFO ordering for buffers scheduled at the
// same instant.
type entry struct {
	buf   audio.Buffer
	start float64 // device clock seconds
	seq   uint64  // monotonic insertion order for FIFO tie-breaking
}

// end returns the device clock time at which the entry finishes playing.
func (e entry) end() float64 {
	return e.start + e.buf.Duration()
}

// bufferHeap implements [container/heap.Interface] as a min-heap ordered by
// start time (ascending), with FIFO tie-breaking on seq.
type bufferHeap []entry

func (h bufferHeap) Len() int { return len(h) }

// Less reports whether element i plays before element j.
func (h bufferHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h bufferHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *bufferHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *bufferHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
