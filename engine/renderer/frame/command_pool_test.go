package frame_test

import (
	"testing"

	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
	"github.com/spaghettifunk/vkframes/engine/renderer/simgpu"
)

func TestCommandPoolRecycles(t *testing.T) {
	dev := simgpu.New(simgpu.WithManualCompletion())
	defer dev.Close()

	pool, err := frame.NewCommandPool(dev)
	if err != nil {
		t.Fatalf("NewCommandPool() error = %v", err)
	}

	first, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if err := first.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if first.State != frame.COMMAND_BUFFER_STATE_RECORDING {
		t.Errorf("State = %d, want recording", first.State)
	}
	if err := first.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	handle := first.Handle()

	first.Destroy()
	first.Destroy()
	if pool.Live() != 0 || pool.Idle() != 1 {
		t.Fatalf("Live() = %d, Idle() = %d, want 0, 1", pool.Live(), pool.Idle())
	}

	second, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if second.Handle() != handle {
		t.Error("Allocate() did not reuse the recycled buffer")
	}
	if second.State != frame.COMMAND_BUFFER_STATE_READY {
		t.Errorf("recycled State = %d, want ready", second.State)
	}
	if err := second.Begin(); err != nil {
		t.Fatalf("Begin() on recycled buffer error = %v", err)
	}

	second.Destroy()
	pool.Destroy()
	if _, _, pools, _ := dev.Live(); pools != 0 {
		t.Errorf("backend command pools alive after Destroy = %d", pools)
	}
}
