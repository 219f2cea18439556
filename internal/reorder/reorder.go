// Package reorder implements the bounded-latency reorder buffer: a
// priority queue keyed by corrected tod that releases events in strict
// non-decreasing order once they are older than the configured window,
// while letting passings that arrive already too late skip the queue
// entirely.
package reorder

import (
	"container/heap"
	"sync"

	"github.com/signalsfoundry/velotrain/internal/tod"
)

// DefaultWindow is the reorder window used when none is configured.
var DefaultWindow = tod.FromFloatSeconds(3.0)

// MaxPending is the maximum number of events held in a Buffer at once. Once
// full, Enqueue drops the oldest-arrival pending event to make room and
// reports the drop so the caller can raise a queue-overflow status.
const MaxPending = 1024

// Event is one corrected passing awaiting release.
type Event struct {
	Mpid       int     // measuring-point id, used as an ordering tie-break
	Key        tod.Tod // corrected tod used for ordering
	OutOfOrder bool    // true if released immediately on the late-late path
	Payload    interface{}
}

type item struct {
	ev    Event
	seq   uint64
	index int
}

type pq []*item

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	a, b := q[i], q[j]
	if cmp := a.ev.Key.Compare(b.ev.Key); cmp != 0 {
		return cmp < 0
	}
	if a.ev.Mpid != b.ev.Mpid {
		return a.ev.Mpid < b.ev.Mpid
	}
	return a.seq < b.seq
}
func (q pq) Swap(i, j int) { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *pq) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *pq) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Buffer is a bounded-latency reorder queue, keyed purely on Tod values
// (not wall-clock arrival time), so that release decisions depend only on
// the caller's notion of "now" in tod space. It is safe for concurrent use.
// It holds at most MaxPending events; once full it drops the oldest
// arrival to admit a new one and counts the drop as an overflow.
type Buffer struct {
	mu       sync.Mutex
	window   tod.Tod
	q        pq
	nextSeq  uint64
	overflow int
}

// New creates a Buffer with the given release window. A zero window uses
// DefaultWindow.
func New(window tod.Tod) *Buffer {
	if window.IsZero() {
		window = DefaultWindow
	}
	b := &Buffer{window: window}
	heap.Init(&b.q)
	return b
}

// Enqueue adds ev. now is the caller's current reference tod. If ev's key
// is already older than now-window ("late-late"), Enqueue does not queue
// it at all: it returns the event immediately, flagged OutOfOrder, for the
// caller to release straight away. If the buffer is already at MaxPending,
// the oldest-arrival pending event is dropped first and counted against
// Overflowed.
func (b *Buffer) Enqueue(ev Event, now tod.Tod) (immediate *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Sub(b.window)
	if ev.Key.Before(cutoff) {
		ev.OutOfOrder = true
		return &ev
	}

	if len(b.q) >= MaxPending {
		b.dropOldestLocked()
		b.overflow++
	}

	it := &item{ev: ev, seq: b.nextSeq}
	b.nextSeq++
	heap.Push(&b.q, it)
	return nil
}

// dropOldestLocked removes the pending event with the smallest arrival
// sequence number, regardless of its position in the key-ordered heap.
// Caller must hold mu.
func (b *Buffer) dropOldestLocked() {
	if len(b.q) == 0 {
		return
	}
	oldest := 0
	for i, it := range b.q {
		if it.seq < b.q[oldest].seq {
			oldest = i
		}
	}
	heap.Remove(&b.q, oldest)
}

// Overflowed reports the number of events dropped to stay within
// MaxPending since the buffer was created or last reset via Drain.
func (b *Buffer) Overflowed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

// Release pops every event whose key is at or before now-window, in
// non-decreasing key order, and returns them. Call periodically (the
// spec's ~100ms ticker) from the owning event loop, passing the current
// reference tod.
func (b *Buffer) Release(now tod.Tod) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Sub(b.window)
	var out []Event
	for b.q.Len() > 0 {
		top := b.q[0]
		if top.ev.Key.After(cutoff) {
			break
		}
		heap.Pop(&b.q)
		out = append(out, top.ev)
	}
	return out
}

// Len reports the number of events currently queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len()
}

// DropChannel removes every queued event for which matches reports true,
// used by ResetUnit to discard a decoder's pending raw events.
func (b *Buffer) DropChannel(matches func(payload interface{}) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make(pq, 0, len(b.q))
	dropped := 0
	for _, it := range b.q {
		if matches(it.ev.Payload) {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	b.q = kept
	heap.Init(&b.q)
	return dropped
}

// Drain removes and returns every queued event regardless of deadline,
// used by a daily Reset. It also clears the overflow count.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.q))
	for _, it := range b.q {
		out = append(out, it.ev)
	}
	b.q = nil
	b.overflow = 0
	return out
}
