package session

import (
	"container/heap"
	"time"
)

// Timer is a deadline entry on the loop. Its task runs on the loop once
// the clock reaches At, unless Cancel removed it first.
type Timer struct {
	at    time.Time
	seq   uint64
	index int
	task  Task

	cancelled bool
	fired     bool
}

// At returns the deadline.
func (t *Timer) At() time.Time { return t.at }

// Pending reports whether the timer has neither fired nor been cancelled.
func (t *Timer) Pending() bool { return !t.cancelled && !t.fired }

// timerHeap orders timers by deadline, then by scheduling order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h timerHeap) peek() (*Timer, bool) {
	if len(h) == 0 {
		return nil, false
	}
	return h[0], true
}

// popDue removes and returns the earliest timer if it is due at now.
func (h *timerHeap) popDue(now time.Time) (*Timer, bool) {
	next, ok := h.peek()
	if !ok || next.at.After(now) {
		return nil, false
	}
	return heap.Pop(h).(*Timer), true
}
