package simgpu

import (
	"time"
)

// Fence is signaled by the device when the submission it was passed to
// completes.
type Fence struct {
	device    *Device
	signaled  bool
	pending   bool
	destroyed bool
	done      chan struct{}
}

func (f *Fence) Signaled() (bool, error) {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	return f.signaled, nil
}

func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	f.device.mu.Lock()
	if f.signaled {
		f.device.mu.Unlock()
		return true, nil
	}
	done := f.done
	f.device.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (f *Fence) Reset() error {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.pending {
		return ErrFenceInUse
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *Fence) Destroy() {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.device.fences--
}

func (f *Fence) signalLocked() {
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

// Semaphore is a binary semaphore. Its state is tracked in submission order:
// it becomes signaled when a submission that signals it is queued and
// unsignaled when one that waits on it is.
type Semaphore struct {
	device    *Device
	id        int
	signaled  bool
	destroyed bool
}

func (s *Semaphore) ID() int {
	return s.id
}

// Signaled reports whether a signal is pending that nothing waited on yet.
func (s *Semaphore) Signaled() bool {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.signaled
}

func (s *Semaphore) Destroy() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.device.semaphores--
}
