// Package simgpu is an in-process stand-in for a GPU queue. Submissions run
// in order on a completion goroutine (or when the caller says so, in manual
// mode), timestamps come from a tick counter that work advances, and binary
// semaphore misuse is reported as an error instead of undefined behavior.
package simgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vkframes/engine/config"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

var (
	ErrSemaphoreUnsignaled = errors.New("wait on a semaphore with no pending signal")
	ErrSemaphoreSignaled   = errors.New("signal of a semaphore that is already signaled")
	ErrFenceInUse          = errors.New("fence belongs to a pending submission")
	ErrCommandsInUse       = errors.New("command buffer belongs to a pending submission")
	ErrNotExecutable       = errors.New("command buffer is not in the executable state")
	ErrQueryNotReady       = errors.New("query result not available")
	ErrDeviceClosed        = errors.New("device closed")
)

type job struct {
	seq      uint64
	commands []*Commands
	fence    *Fence
}

type Option func(*Device)

// WithLatency delays the completion of every submission by d.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) {
		dev.latency = d
	}
}

// WithTimestampPeriod sets the nanoseconds per tick. 0 disables timestamps.
func WithTimestampPeriod(ns float64) Option {
	return func(dev *Device) {
		dev.period = ns
	}
}

// WithManualCompletion stops the device from completing work on its own.
// Submissions then only complete through CompleteNext, CompleteAll or
// WaitIdle.
func WithManualCompletion() Option {
	return func(dev *Device) {
		dev.manual = true
	}
}

// WithFailSubmit makes every Submit after the first n fail with
// core.ErrDeviceLost.
func WithFailSubmit(n uint64) Option {
	return func(dev *Device) {
		dev.failAfter = n
		dev.failSubmits = true
	}
}

// FromConfig turns the [sim] section of a configuration into options.
func FromConfig(cfg config.SimConfig) []Option {
	return []Option{
		WithLatency(time.Duration(cfg.LatencyUS) * time.Microsecond),
		WithTimestampPeriod(cfg.TimestampPeriodNS),
	}
}

// Device implements frame.Device. A single mutex guards the whole simulated
// GPU, including the fences, semaphores and query pools it created.
type Device struct {
	mu   sync.Mutex
	cond *sync.Cond
	wg   sync.WaitGroup

	latency time.Duration
	period  float64
	manual  bool

	failSubmits bool
	failAfter   uint64

	queue     []*job
	clock     uint64
	submitted uint64
	completed uint64
	closed    bool
	nextID    int

	fences     int
	semaphores int
	pools      int
	queryPools int
}

func New(opts ...Option) *Device {
	d := &Device{period: 1}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)
	if !d.manual {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Device) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		if d.latency > 0 {
			time.Sleep(d.latency)
		}

		d.mu.Lock()
		d.executeLocked()
		d.mu.Unlock()
	}
}

// executeLocked runs the oldest queued submission to completion.
func (d *Device) executeLocked() bool {
	if len(d.queue) == 0 {
		return false
	}
	j := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]

	for _, cmds := range j.commands {
		cmds.executeLocked()
	}
	if j.fence != nil {
		j.fence.signalLocked()
	}
	d.completed++
	d.cond.Broadcast()
	return true
}

func (d *Device) CreateFence() (frame.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.fences++
	return &Fence{device: d, done: make(chan struct{})}, nil
}

func (d *Device) CreateSemaphore() (frame.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.semaphores++
	d.nextID++
	return &Semaphore{device: d, id: d.nextID}, nil
}

func (d *Device) CreateCommandPool() (frame.CommandAllocator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.pools++
	return &CommandPool{device: d}, nil
}

func (d *Device) CreateTimestampPool(count uint32) (frame.QueryPool, error) {
	if d.period <= 0 {
		return nil, core.ErrTimestampsUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.queryPools++
	return &QueryPool{
		device:    d,
		values:    make([]uint64, count),
		available: make([]bool, count),
	}, nil
}

func (d *Device) TimestampPeriod() float64 {
	return d.period
}

// Submit validates info against the queue state as of the previous
// submission and queues it. Every semaphore wait must follow a signal, no
// semaphore may be signaled twice before being waited on, and command
// buffers must be ended and not already pending.
func (d *Device) Submit(info frame.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.failSubmits && d.submitted >= d.failAfter {
		return fmt.Errorf("submission %d: %w", d.submitted, core.ErrDeviceLost)
	}

	var fence *Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence)
		if fence.pending || fence.signaled {
			return fmt.Errorf("submission %d: %w", d.submitted, ErrFenceInUse)
		}
	}

	commands := make([]*Commands, len(info.Commands))
	for i, c := range info.Commands {
		cmds := c.(*Commands)
		if cmds.state != commandsExecutable {
			return fmt.Errorf("submission %d, command buffer %d: %w", d.submitted, cmds.id, ErrNotExecutable)
		}
		if cmds.pending > 0 {
			return fmt.Errorf("submission %d, command buffer %d: %w", d.submitted, cmds.id, ErrCommandsInUse)
		}
		commands[i] = cmds
	}

	if err := d.checkSemaphoresLocked(info.Waits, info.Signals); err != nil {
		return fmt.Errorf("submission %d: %w", d.submitted, err)
	}
	for _, w := range info.Waits {
		w.Semaphore.(*Semaphore).signaled = false
	}
	for _, s := range info.Signals {
		s.(*Semaphore).signaled = true
	}

	for _, cmds := range commands {
		cmds.pending++
	}
	if fence != nil {
		fence.pending = true
	}
	d.queue = append(d.queue, &job{seq: d.submitted, commands: commands, fence: fence})
	d.submitted++
	d.cond.Broadcast()
	return nil
}

func (d *Device) checkSemaphoresLocked(waits []frame.SemaphoreWait, signals []frame.Semaphore) error {
	consumed := make(map[*Semaphore]bool, len(waits))
	for _, w := range waits {
		sem := w.Semaphore.(*Semaphore)
		if !sem.signaled || consumed[sem] {
			return fmt.Errorf("semaphore %d at %s: %w", sem.id, w.Stage, ErrSemaphoreUnsignaled)
		}
		consumed[sem] = true
	}
	signaled := make(map[*Semaphore]bool, len(signals))
	for _, s := range signals {
		sem := s.(*Semaphore)
		if (sem.signaled && !consumed[sem]) || signaled[sem] {
			return fmt.Errorf("semaphore %d: %w", sem.id, ErrSemaphoreSignaled)
		}
		signaled[sem] = true
	}
	return nil
}

// WaitIdle blocks until the queue is empty. In manual mode it completes the
// queued work itself.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manual {
		for d.executeLocked() {
		}
		return nil
	}
	for len(d.queue) > 0 {
		d.cond.Wait()
	}
	return nil
}

// CompleteNext completes the oldest pending submission. It reports false when
// nothing was pending.
func (d *Device) CompleteNext() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executeLocked()
}

// CompleteAll completes every pending submission and returns how many there
// were.
func (d *Device) CompleteAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for d.executeLocked() {
		n++
	}
	return n
}

// Pending is the number of submitted but not completed submissions.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Device) Submitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

func (d *Device) Completed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// Live reports how many fences, semaphores, command pools and query pools
// are still alive.
func (d *Device) Live() (fences, semaphores, pools, queryPools int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences, d.semaphores, d.pools, d.queryPools
}

// Close completes outstanding work and stops the completion goroutine.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.manual {
		for d.executeLocked() {
		}
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

var (
	_ frame.Device           = (*Device)(nil)
	_ frame.Fence            = (*Fence)(nil)
	_ frame.Semaphore        = (*Semaphore)(nil)
	_ frame.CommandAllocator = (*CommandPool)(nil)
	_ frame.Commands         = (*Commands)(nil)
	_ frame.QueryPool        = (*QueryPool)(nil)
	_ frame.Swapchain        = (*Swapchain)(nil)
	_ frame.SizedResource    = (*Object)(nil)
)
