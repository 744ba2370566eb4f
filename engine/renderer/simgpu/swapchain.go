package simgpu

import (
	"fmt"

	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

// Swapchain hands out images round-robin. Acquiring signals the given
// semaphore immediately and presenting consumes the wait semaphore, with the
// same validation Submit applies. When every image is held, AcquireImage
// blocks until one is presented, the swapchain is recreated or the device is
// closed.
type Swapchain struct {
	device     *Device
	held       []bool
	next       uint32
	outOfDate  bool
	presented  uint64
	acquired   uint64
	recreated  int
	lastWaited *Semaphore
}

func NewSwapchain(device *Device, images int) *Swapchain {
	if images <= 0 {
		images = 1
	}
	return &Swapchain{device: device, held: make([]bool, images)}
}

func (s *Swapchain) AcquireImage(signal frame.Semaphore) (uint32, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	sem := signal.(*Semaphore)
	for {
		if s.device.closed {
			return 0, fmt.Errorf("acquire: %w", ErrDeviceClosed)
		}
		if s.outOfDate {
			return 0, core.ErrSwapchainBooting
		}
		if sem.signaled {
			return 0, fmt.Errorf("acquire: semaphore %d: %w", sem.id, ErrSemaphoreSignaled)
		}
		if index, ok := s.takeLocked(); ok {
			sem.signaled = true
			s.acquired++
			return index, nil
		}
		s.device.cond.Wait()
	}
}

func (s *Swapchain) takeLocked() (uint32, bool) {
	n := uint32(len(s.held))
	for i := uint32(0); i < n; i++ {
		index := (s.next + i) % n
		if s.held[index] {
			continue
		}
		s.held[index] = true
		s.next = (index + 1) % n
		return index, true
	}
	return 0, false
}

func (s *Swapchain) Present(index uint32, wait frame.Semaphore) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	if int(index) >= len(s.held) || !s.held[index] {
		return fmt.Errorf("present of image %d that is not acquired", index)
	}
	sem := wait.(*Semaphore)
	if !sem.signaled {
		return fmt.Errorf("present: semaphore %d: %w", sem.id, ErrSemaphoreUnsignaled)
	}
	sem.signaled = false
	s.held[index] = false
	s.lastWaited = sem
	s.device.cond.Broadcast()
	if s.outOfDate {
		return core.ErrSwapchainBooting
	}
	s.presented++
	return nil
}

// Invalidate makes acquire and present report core.ErrSwapchainBooting until
// Recreate is called, the way a resized window does.
func (s *Swapchain) Invalidate() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.outOfDate = true
	s.device.cond.Broadcast()
}

// Recreate releases every image and makes the swapchain usable again.
func (s *Swapchain) Recreate() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	for i := range s.held {
		s.held[i] = false
	}
	s.next = 0
	s.outOfDate = false
	s.recreated++
	s.device.cond.Broadcast()
}

func (s *Swapchain) ImageCount() int {
	return len(s.held)
}

func (s *Swapchain) Presented() uint64 {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.presented
}

func (s *Swapchain) Acquired() uint64 {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.acquired
}

// Held is the number of images acquired and not presented.
func (s *Swapchain) Held() int {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	n := 0
	for _, h := range s.held {
		if h {
			n++
		}
	}
	return n
}
