package containers

import (
	"errors"
	"testing"
)

func TestRingQueueOrder(t *testing.T) {
	rq := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if !rq.IsFull() {
		t.Fatal("queue should be full")
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue error = %v, want ErrQueueFull", err)
	}

	back, _ := rq.Back()
	if back != 3 {
		t.Errorf("Back() = %d, want 3", back)
	}

	for want := 1; want <= 3; want++ {
		got, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue error = %v", err)
		}
		if got != want {
			t.Errorf("Dequeue() = %d, want %d", got, want)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty queue error = %v, want ErrQueueEmpty", err)
	}
}

func TestRingQueueWraparound(t *testing.T) {
	rq := NewRingQueue[int](2)
	for i := 0; i < 10; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
		front, _ := rq.Peek()
		if front != i {
			t.Fatalf("Peek() = %d, want %d", front, i)
		}
		back, _ := rq.Back()
		if back != i {
			t.Fatalf("Back() = %d, want %d", back, i)
		}
		if _, err := rq.Dequeue(); err != nil {
			t.Fatalf("Dequeue error = %v", err)
		}
	}
	if rq.Len() != 0 || rq.Cap() != 2 {
		t.Errorf("Len/Cap = %d/%d, want 0/2", rq.Len(), rq.Cap())
	}
}
