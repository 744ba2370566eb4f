package frame

import (
	"fmt"

	"github.com/spaghettifunk/vkframes/engine/core"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandBuffer is a pooled recording handle. Destroying it hands it back to
// the pool it came from, which is how retired buffers leave a DeleteList.
type CommandBuffer struct {
	handle Commands
	pool   *CommandPool
	name   string
	State  CommandBufferState
}

// Handle returns the backend recording handle.
func (cb *CommandBuffer) Handle() Commands {
	return cb.handle
}

func (cb *CommandBuffer) Name() string {
	return cb.name
}

func (cb *CommandBuffer) SetDebugName(name string) {
	cb.name = name
}

func (cb *CommandBuffer) Begin() error {
	if err := cb.handle.Begin(); err != nil {
		err = fmt.Errorf("failed to begin command buffer %q: %w", cb.name, err)
		core.LogError(err.Error())
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (cb *CommandBuffer) End() error {
	if err := cb.handle.End(); err != nil {
		err = fmt.Errorf("failed to end command buffer %q: %w", cb.name, err)
		core.LogError(err.Error())
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (cb *CommandBuffer) UpdateSubmitted() {
	cb.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Destroy returns the buffer to its pool.
func (cb *CommandBuffer) Destroy() {
	if cb.pool != nil {
		cb.pool.Recycle(cb)
	}
}

// CommandPool allocates command buffers from a backend pool and recycles the
// ones whose submission has retired.
type CommandPool struct {
	allocator CommandAllocator
	free      []*CommandBuffer
	live      int
}

func NewCommandPool(device Device) (*CommandPool, error) {
	allocator, err := device.CreateCommandPool()
	if err != nil {
		err = fmt.Errorf("failed to create command pool: %w: %w", core.ErrAllocationFailed, err)
		core.LogError(err.Error())
		return nil, err
	}
	return &CommandPool{allocator: allocator}, nil
}

// Allocate returns a reset buffer ready to Begin, reusing a recycled one when
// possible.
func (p *CommandPool) Allocate() (*CommandBuffer, error) {
	if n := len(p.free); n > 0 {
		cb := p.free[n-1]
		p.free = p.free[:n-1]
		if err := cb.handle.Reset(); err != nil {
			p.allocator.Free(cb.handle)
			err = fmt.Errorf("failed to reset recycled command buffer: %w", err)
			core.LogError(err.Error())
			return nil, err
		}
		cb.State = COMMAND_BUFFER_STATE_READY
		cb.name = ""
		p.live++
		return cb, nil
	}

	handle, err := p.allocator.Allocate()
	if err != nil {
		err = fmt.Errorf("failed to allocate command buffer: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	p.live++
	return &CommandBuffer{
		handle: handle,
		pool:   p,
		State:  COMMAND_BUFFER_STATE_READY,
	}, nil
}

// Recycle takes back a buffer whose GPU work is complete.
func (p *CommandPool) Recycle(cb *CommandBuffer) {
	if cb.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	p.live--
	p.free = append(p.free, cb)
}

// Live is the number of buffers handed out and not yet recycled.
func (p *CommandPool) Live() int {
	return p.live
}

// Idle is the number of recycled buffers waiting for reuse.
func (p *CommandPool) Idle() int {
	return len(p.free)
}

// Destroy frees every recycled buffer and the backend pool. Buffers still
// live at this point are freed with the pool.
func (p *CommandPool) Destroy() {
	for _, cb := range p.free {
		p.allocator.Free(cb.handle)
		cb.handle = nil
		cb.pool = nil
	}
	p.free = nil
	if p.live > 0 {
		core.LogWarn("command pool destroyed with %d buffers still live", p.live)
	}
	p.allocator.Destroy()
}
