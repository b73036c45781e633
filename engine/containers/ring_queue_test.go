package containers

import (
	"errors"
	"testing"
)

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](3)
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty queue\nhave %v\nwant %v", err, ErrQueueEmpty)
	}
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue\nhave %v\nwant %v", err, ErrQueueFull)
	}
	if v, _ := rq.Peek(); v != 1 {
		t.Errorf("Peek\nhave %d\nwant 1", v)
	}
	// Wrap around.
	v, _ := rq.Dequeue()
	if v != 1 {
		t.Errorf("Dequeue\nhave %d\nwant 1", v)
	}
	if err := rq.Enqueue(4); err != nil {
		t.Fatalf("Enqueue(4) after Dequeue: %v", err)
	}
	for _, want := range []int{2, 3, 4} {
		have, err := rq.Dequeue()
		if err != nil || have != want {
			t.Errorf("Dequeue\nhave %d, %v\nwant %d, nil", have, err, want)
		}
	}
	if !rq.IsEmpty() || rq.Len() != 0 {
		t.Errorf("queue not empty after draining: len %d", rq.Len())
	}
}
