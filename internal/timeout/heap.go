package timeout

import "time"

// timerEntry is one scheduled deadline in the wheel. Extending an execution
// pushes a fresh entry with a bumped generation; stale entries are discarded
// when they surface at the top of the heap.
type timerEntry struct {
	executionID string
	deadline    time.Time
	gen         uint64
}

// timerHeap is a min-heap of timer entries ordered by deadline.
type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
