package simgpu

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

type commandsState int

const (
	commandsInitial commandsState = iota
	commandsRecording
	commandsExecutable
	commandsFreed
)

type opKind int

const (
	opWork opKind = iota
	opTimestamp
	opResetQueries
)

type op struct {
	kind  opKind
	ticks uint64
	stage frame.PipelineStage
	pool  *QueryPool
	first uint32
	count uint32
}

// CommandPool implements frame.CommandAllocator.
type CommandPool struct {
	device    *Device
	nextID    int
	live      int
	destroyed bool
}

func (p *CommandPool) Allocate() (frame.Commands, error) {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	if p.destroyed {
		return nil, errors.New("allocate from a destroyed command pool")
	}
	p.nextID++
	p.live++
	return &Commands{device: p.device, pool: p, id: p.nextID}, nil
}

func (p *CommandPool) Free(c frame.Commands) {
	cmds := c.(*Commands)
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	if cmds.state == commandsFreed {
		return
	}
	cmds.state = commandsFreed
	cmds.ops = nil
	p.live--
}

// Live is the number of allocated, not freed command buffers.
func (p *CommandPool) Live() int {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	return p.live
}

func (p *CommandPool) Destroy() {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.device.pools--
}

// Commands records operations that the device replays when the submission
// containing them executes.
type Commands struct {
	device  *Device
	pool    *CommandPool
	id      int
	state   commandsState
	pending int
	ops     []op
}

func (c *Commands) ID() int {
	return c.id
}

func (c *Commands) Begin() error {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	if c.device.closed {
		return fmt.Errorf("begin command buffer %d: %w", c.id, ErrDeviceClosed)
	}
	if c.pending > 0 {
		return fmt.Errorf("begin command buffer %d: %w", c.id, ErrCommandsInUse)
	}
	if c.state == commandsRecording || c.state == commandsFreed {
		return fmt.Errorf("begin command buffer %d in state %d", c.id, c.state)
	}
	c.ops = c.ops[:0]
	c.state = commandsRecording
	return nil
}

func (c *Commands) End() error {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	if c.state != commandsRecording {
		return fmt.Errorf("end command buffer %d that is not recording", c.id)
	}
	c.state = commandsExecutable
	return nil
}

func (c *Commands) Reset() error {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	if c.pending > 0 {
		return fmt.Errorf("reset command buffer %d: %w", c.id, ErrCommandsInUse)
	}
	c.ops = c.ops[:0]
	c.state = commandsInitial
	return nil
}

// Work records ticks worth of GPU work. Timestamps written after it are at
// least ticks later than the ones written before it.
func (c *Commands) Work(ticks uint64) {
	c.record(op{kind: opWork, ticks: ticks})
}

func (c *Commands) WriteTimestamp(stage frame.PipelineStage, pool frame.QueryPool, index uint32) {
	c.record(op{kind: opTimestamp, stage: stage, pool: pool.(*QueryPool), first: index})
}

func (c *Commands) ResetQueries(pool frame.QueryPool, first, count uint32) {
	c.record(op{kind: opResetQueries, pool: pool.(*QueryPool), first: first, count: count})
}

// Recorded returns the number of operations recorded since Begin.
func (c *Commands) Recorded() int {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	return len(c.ops)
}

func (c *Commands) record(o op) {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	if c.state != commandsRecording {
		panic(fmt.Sprintf("simgpu: command buffer %d recorded outside Begin/End", c.id))
	}
	c.ops = append(c.ops, o)
}

func (c *Commands) executeLocked() {
	d := c.device
	for _, o := range c.ops {
		d.clock++
		switch o.kind {
		case opWork:
			d.clock += o.ticks
		case opTimestamp:
			if int(o.first) < len(o.pool.values) {
				o.pool.values[o.first] = d.clock
				o.pool.available[o.first] = true
			}
		case opResetQueries:
			for i := o.first; i < o.first+o.count && int(i) < len(o.pool.values); i++ {
				o.pool.values[i] = 0
				o.pool.available[i] = false
			}
		}
	}
	c.pending--
}

// QueryPool holds timestamp results. A result is available once the
// submission that wrote it executed, until a reset executes.
type QueryPool struct {
	device    *Device
	values    []uint64
	available []bool
	destroyed bool
}

func (q *QueryPool) Results(first, count uint32) ([]uint64, error) {
	q.device.mu.Lock()
	defer q.device.mu.Unlock()
	if int(first+count) > len(q.values) {
		return nil, fmt.Errorf("queries %d..%d out of range of pool of %d", first, first+count, len(q.values))
	}
	out := make([]uint64, count)
	for i := uint32(0); i < count; i++ {
		if !q.available[first+i] {
			return nil, fmt.Errorf("query %d: %w", first+i, ErrQueryNotReady)
		}
		out[i] = q.values[first+i]
	}
	return out, nil
}

func (q *QueryPool) Destroy() {
	q.device.mu.Lock()
	defer q.device.mu.Unlock()
	if q.destroyed {
		return
	}
	q.destroyed = true
	q.device.queryPools--
}
