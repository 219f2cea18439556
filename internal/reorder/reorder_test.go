package reorder

import (
	"testing"

	"github.com/signalsfoundry/velotrain/internal/tod"
)

func sec(n float64) tod.Tod { return tod.FromFloatSeconds(n) }

func TestEnqueueThenReleaseInOrder(t *testing.T) {
	b := New(sec(3))
	b.Enqueue(Event{Key: sec(10), Payload: "a"}, sec(10))
	b.Enqueue(Event{Key: sec(9), Payload: "b"}, sec(10))
	b.Enqueue(Event{Key: sec(11), Payload: "c"}, sec(11))

	// nothing old enough to release yet.
	if out := b.Release(sec(11)); len(out) != 0 {
		t.Fatalf("expected nothing released yet, got %d", len(out))
	}

	out := b.Release(sec(14)) // now - window(3) = 11, releases keys <= 11
	if len(out) != 3 {
		t.Fatalf("expected 3 events released, got %d", len(out))
	}
	if out[0].Payload != "b" || out[1].Payload != "a" || out[2].Payload != "c" {
		t.Errorf("release order wrong: %+v", out)
	}
}

func TestEnqueueLateLateBypassesQueue(t *testing.T) {
	b := New(sec(3))
	immediate := b.Enqueue(Event{Key: sec(5), Payload: "late"}, sec(10))
	if immediate == nil {
		t.Fatalf("expected immediate release for late-late event")
	}
	if !immediate.OutOfOrder {
		t.Errorf("expected OutOfOrder flag set")
	}
	if b.Len() != 0 {
		t.Errorf("late-late event should not enter the queue, len=%d", b.Len())
	}
}

func TestDropChannelRemovesMatching(t *testing.T) {
	b := New(sec(3))
	b.Enqueue(Event{Key: sec(1), Payload: "C1"}, sec(1))
	b.Enqueue(Event{Key: sec(2), Payload: "C2"}, sec(2))
	dropped := b.DropChannel(func(p interface{}) bool { return p == "C1" })
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if b.Len() != 1 {
		t.Errorf("remaining len = %d, want 1", b.Len())
	}
}

func TestDrainReturnsEverythingRegardlessOfDeadline(t *testing.T) {
	b := New(sec(3))
	b.Enqueue(Event{Key: sec(100)}, sec(100))
	out := b.Drain()
	if len(out) != 1 {
		t.Fatalf("expected 1 drained event, got %d", len(out))
	}
	if b.Len() != 0 {
		t.Errorf("buffer should be empty after Drain")
	}
}

func TestReleaseBreaksTiesByMpidThenArrival(t *testing.T) {
	b := New(sec(3))
	b.Enqueue(Event{Key: sec(10), Mpid: 2, Payload: "first-arrival-mpid2"}, sec(10))
	b.Enqueue(Event{Key: sec(10), Mpid: 1, Payload: "mpid1"}, sec(10))
	b.Enqueue(Event{Key: sec(10), Mpid: 2, Payload: "second-arrival-mpid2"}, sec(10))

	out := b.Release(sec(14))
	if len(out) != 3 {
		t.Fatalf("expected 3 events released, got %d", len(out))
	}
	if out[0].Payload != "mpid1" {
		t.Errorf("expected lower mpid to release first, got %+v", out[0])
	}
	if out[1].Payload != "first-arrival-mpid2" || out[2].Payload != "second-arrival-mpid2" {
		t.Errorf("expected same-mpid ties to release in arrival order, got %+v", out)
	}
}

func TestEnqueueDropsOldestArrivalOnceFull(t *testing.T) {
	b := New(sec(3))
	for i := 0; i < MaxPending; i++ {
		b.Enqueue(Event{Key: sec(float64(100 + i)), Payload: i}, sec(float64(100+i)))
	}
	if b.Len() != MaxPending {
		t.Fatalf("expected buffer at capacity, len=%d", b.Len())
	}
	if b.Overflowed() != 0 {
		t.Fatalf("expected no overflow before exceeding capacity, got %d", b.Overflowed())
	}

	b.Enqueue(Event{Key: sec(float64(100 + MaxPending)), Payload: "newest"}, sec(float64(100+MaxPending)))
	if b.Len() != MaxPending {
		t.Errorf("expected buffer to stay capped at %d, len=%d", MaxPending, b.Len())
	}
	if b.Overflowed() != 1 {
		t.Errorf("expected overflow count 1, got %d", b.Overflowed())
	}

	out := b.Drain()
	for _, ev := range out {
		if ev.Payload == 0 {
			t.Errorf("expected oldest-arrival event to have been dropped, but it survived")
		}
	}
	if b.Overflowed() != 0 {
		t.Errorf("expected Drain to reset overflow count, got %d", b.Overflowed())
	}
}
