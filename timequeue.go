package reactor

import (
	"container/heap"
	"time"
)

// TimerHandle identifies a scheduled timer for cancellation. The zero value
// never matches a live entry.
type TimerHandle uint64

// timerEntry is one min-heap entry: deadline, the callback to invoke, and a
// monotonically increasing sequence number used to break ties between equal
// deadlines in insertion order (spec §4.1).
type timerEntry struct {
	deadline time.Time
	seq      uint64
	callback func()
	handle   TimerHandle
	index    int // heap index, maintained by container/heap
	dead     bool
}

// timerHeap implements container/heap.Interface, ordered by deadline then
// sequence number.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timeQueue is the min-heap of (deadline, callback) entries described in
// spec §4.1: O(log n) enqueue/cancel, O(1) peek, and a Fire pass that
// tolerates callbacks which themselves enqueue or cancel entries.
type timeQueue struct {
	heap    timerHeap
	byID    map[TimerHandle]*timerEntry
	nextSeq uint64
	nextID  TimerHandle
}

func newTimeQueue() *timeQueue {
	return &timeQueue{
		byID: make(map[TimerHandle]*timerEntry),
	}
}

// Enqueue schedules callback to run at deadline, returning a handle usable
// with Cancel. A deadline already in the past fires on the next Fire call.
func (q *timeQueue) Enqueue(deadline time.Time, callback func()) TimerHandle {
	q.nextID++
	id := q.nextID
	e := &timerEntry{
		deadline: deadline,
		seq:      q.nextSeq,
		callback: callback,
		handle:   id,
	}
	q.nextSeq++
	heap.Push(&q.heap, e)
	q.byID[id] = e
	return id
}

// Cancel removes the entry for handle, if still pending. Idempotent: a
// handle that has already fired or been cancelled is a silent no-op.
func (q *timeQueue) Cancel(handle TimerHandle) {
	e, ok := q.byID[handle]
	if !ok || e.dead {
		return
	}
	e.dead = true
	delete(q.byID, handle)
	if e.index >= 0 && e.index < len(q.heap) {
		heap.Remove(&q.heap, e.index)
	}
}

// NextDeadline returns the deadline of the earliest pending entry, if any.
func (q *timeQueue) NextDeadline() (time.Time, bool) {
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].deadline, true
}

// Len reports the number of pending (uncancelled) timer entries.
func (q *timeQueue) Len() int { return len(q.heap) }

// Fire invokes, in deadline order (ties by insertion order), every entry
// whose deadline is at or before now, and returns how many fired.
//
// top is re-read after every invocation so that a callback which enqueues a
// new, already-due timer, or cancels a sibling, observes a consistent heap:
// neither operation corrupts this loop's iteration.
func (q *timeQueue) Fire(now time.Time) int {
	fired := 0
	for len(q.heap) > 0 {
		top := q.heap[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&q.heap)
		delete(q.byID, top.handle)
		if top.dead {
			continue
		}
		top.dead = true
		if top.callback != nil {
			top.callback()
		}
		fired++
	}
	return fired
}
