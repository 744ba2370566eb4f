package frame

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/vkframes/engine/containers"
	"github.com/spaghettifunk/vkframes/engine/core"
)

// Slot is one (semaphore, fence) pair of the ring.
type Slot struct {
	Index     int
	Semaphore Semaphore
	Fence     Fence
}

type submission struct {
	seq      uint64
	slot     *Slot
	onRetire []func()
}

// SubmissionRing hands out submission slots round-robin and never lets more
// than its capacity be in flight: acquiring a slot whose previous submission
// is still running blocks on that submission's fence.
//
// Retirement is FIFO. A submission retires the first time any caller observes
// its fence signaled, and its retire callbacks run exactly once.
type SubmissionRing struct {
	slots   []*Slot
	pending *containers.RingQueue[*submission]
	next    uint64
	retired uint64
	chain   Semaphore
	timeout time.Duration
}

func NewSubmissionRing(device Device, capacity int, timeout time.Duration) (*SubmissionRing, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid submission ring capacity %d", capacity)
	}
	r := &SubmissionRing{
		slots:   make([]*Slot, capacity),
		pending: containers.NewRingQueue[*submission](capacity),
		timeout: timeout,
	}
	for i := range r.slots {
		sem, err := device.CreateSemaphore()
		if err != nil {
			r.destroySlots()
			err = fmt.Errorf("failed to create submit semaphore %d: %w", i, err)
			core.LogError(err.Error())
			return nil, err
		}
		fence, err := device.CreateFence()
		if err != nil {
			sem.Destroy()
			r.destroySlots()
			err = fmt.Errorf("failed to create submit fence %d: %w", i, err)
			core.LogError(err.Error())
			return nil, err
		}
		r.slots[i] = &Slot{Index: i, Semaphore: sem, Fence: fence}
	}
	return r, nil
}

func (r *SubmissionRing) Capacity() int {
	return len(r.slots)
}

// Outstanding is the number of committed submissions not yet retired.
func (r *SubmissionRing) Outstanding() int {
	return r.pending.Len()
}

// Submitted is the total number of committed submissions.
func (r *SubmissionRing) Submitted() uint64 {
	return r.next
}

// Retired reports whether the submission with sequence number seq retired.
func (r *SubmissionRing) Retired(seq uint64) bool {
	return seq < r.retired
}

// Chain returns the semaphore signaled by the previous submission that no
// submission has waited on yet, or nil.
func (r *SubmissionRing) Chain() Semaphore {
	return r.chain
}

// Acquire returns the slot and sequence number for the next submission,
// blocking on the oldest in-flight submission when the ring is full. The
// returned fence is reset and ready to be passed to Submit.
func (r *SubmissionRing) Acquire() (*Slot, uint64, error) {
	if r.pending.IsFull() {
		core.LogDebug("submission ring full (%d in flight), waiting on slot %d", r.pending.Len(), r.next%uint64(len(r.slots)))
		if _, err := r.retireOldest(true); err != nil {
			return nil, 0, err
		}
	}

	slot := r.slots[r.next%uint64(len(r.slots))]
	if err := slot.Fence.Reset(); err != nil {
		err = fmt.Errorf("failed to reset submit fence %d: %w", slot.Index, err)
		core.LogError(err.Error())
		return nil, 0, err
	}
	return slot, r.next, nil
}

// Commit records a successful submission on slot. signaled tells whether the
// submission signaled the slot semaphore; either way any pending chain
// semaphore counts as consumed, since every submission waits on it.
func (r *SubmissionRing) Commit(slot *Slot, seq uint64, signaled bool, onRetire ...func()) error {
	if seq != r.next || r.slots[seq%uint64(len(r.slots))] != slot {
		err := fmt.Errorf("submission ring commit out of order: seq %d slot %d, expected seq %d", seq, slot.Index, r.next)
		core.LogError(err.Error())
		return err
	}
	if err := r.pending.Enqueue(&submission{seq: seq, slot: slot, onRetire: onRetire}); err != nil {
		err = fmt.Errorf("submission ring overflow: %w", err)
		core.LogError(err.Error())
		return err
	}
	r.next++
	if signaled {
		r.chain = slot.Semaphore
	} else {
		r.chain = nil
	}
	return nil
}

// Poll retires every leading submission whose fence has signaled, without
// blocking.
func (r *SubmissionRing) Poll() error {
	for {
		retired, err := r.retireOldest(false)
		if err != nil {
			return err
		}
		if !retired {
			return nil
		}
	}
}

// WaitFor blocks until submission seq and everything before it retired.
func (r *SubmissionRing) WaitFor(seq uint64) error {
	for !r.Retired(seq) && !r.pending.IsEmpty() {
		if _, err := r.retireOldest(true); err != nil {
			return err
		}
	}
	return nil
}

// Drain blocks until every committed submission retired.
func (r *SubmissionRing) Drain() error {
	if r.next == 0 {
		return nil
	}
	return r.WaitFor(r.next - 1)
}

func (r *SubmissionRing) retireOldest(wait bool) (bool, error) {
	sub, err := r.pending.Peek()
	if err != nil {
		return false, nil
	}

	if wait {
		signaled, err := sub.slot.Fence.Wait(r.timeout)
		if err != nil {
			err = fmt.Errorf("waiting on submission %d (slot %d): %w", sub.seq, sub.slot.Index, err)
			core.LogError(err.Error())
			return false, err
		}
		if !signaled {
			err := fmt.Errorf("submission %d (slot %d) after %s: %w", sub.seq, sub.slot.Index, r.timeout, core.ErrFenceTimeout)
			core.LogError(err.Error())
			return false, err
		}
	} else {
		signaled, err := sub.slot.Fence.Signaled()
		if err != nil {
			err = fmt.Errorf("polling submission %d (slot %d): %w", sub.seq, sub.slot.Index, err)
			core.LogError(err.Error())
			return false, err
		}
		if !signaled {
			return false, nil
		}
	}

	_, _ = r.pending.Dequeue()
	r.retired = sub.seq + 1
	for _, fn := range sub.onRetire {
		fn()
	}
	sub.onRetire = nil
	return true, nil
}

// Destroy waits for the GPU to finish with every slot and releases them.
func (r *SubmissionRing) Destroy() error {
	err := r.Drain()
	if err != nil {
		core.LogError("submission ring drain on destroy: %s", err)
	}
	r.chain = nil
	r.destroySlots()
	return err
}

func (r *SubmissionRing) destroySlots() {
	for i, slot := range r.slots {
		if slot == nil {
			continue
		}
		slot.Fence.Destroy()
		slot.Semaphore.Destroy()
		r.slots[i] = nil
	}
}
