package frame_test

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/vkframes/engine/config"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
	"github.com/spaghettifunk/vkframes/engine/renderer/simgpu"
)

type managerFixture struct {
	dev       *simgpu.Device
	swapchain *simgpu.Swapchain
	stats     *core.GpuStats
	m         *frame.Manager
}

func newManagerFixture(t *testing.T, withSwapchain bool, devOpts []simgpu.Option, opts ...frame.Option) *managerFixture {
	t.Helper()
	f := &managerFixture{
		dev:   simgpu.New(devOpts...),
		stats: core.NewGpuStats(),
	}
	var sc frame.Swapchain
	if withSwapchain {
		f.swapchain = simgpu.NewSwapchain(f.dev, 3)
		sc = f.swapchain
	}
	m, err := frame.New(f.dev, sc, append([]frame.Option{frame.WithStatsCollector(f.stats)}, opts...)...)
	if err != nil {
		f.dev.Close()
		t.Fatalf("New() error = %v", err)
	}
	f.m = m
	return f
}

// close completes outstanding work, tears the manager down and checks that
// nothing leaked.
func (f *managerFixture) close(t *testing.T) {
	t.Helper()
	f.dev.CompleteAll()
	if err := f.m.Destroy(); err != nil {
		t.Errorf("Destroy() error = %v", err)
	}
	fences, sems, pools, queries := f.dev.Live()
	if fences != 0 || sems != 0 || pools != 0 || queries != 0 {
		t.Errorf("live after Destroy: %d fences, %d semaphores, %d pools, %d query pools", fences, sems, pools, queries)
	}
	f.dev.Close()
}

func drawCommands(t *testing.T, m *frame.Manager) *simgpu.Commands {
	t.Helper()
	cb, err := m.GetDrawCommands()
	if err != nil {
		t.Fatalf("GetDrawCommands() error = %v", err)
	}
	return cb.Handle().(*simgpu.Commands)
}

func TestManagerSingleScopeFrame(t *testing.T) {
	f := newManagerFixture(t, true, nil)
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	if m.PresentImageIndex() == frame.NoImage {
		t.Fatal("no image acquired by BeginFrame")
	}
	if err := m.PushGroup("scene"); err != nil {
		t.Fatalf("PushGroup() error = %v", err)
	}
	drawCommands(t, m).Work(500)
	if err := m.PopGroup(); err != nil {
		t.Fatalf("PopGroup() error = %v", err)
	}
	if err := m.FlushCommands(true, true, false); err != nil {
		t.Fatalf("FlushCommands() error = %v", err)
	}
	if err := m.UpdateGpuStats(); err != nil {
		t.Fatalf("UpdateGpuStats() error = %v", err)
	}

	if got := f.stats.Published(); got != 1 {
		t.Fatalf("Published() = %d, want 1", got)
	}
	frameNumber, timings := f.stats.Last()
	if frameNumber != 1 || len(timings) != 1 || timings[0].Name != "scene" {
		t.Fatalf("Last() = %d, %v, want one scene record of frame 1", frameNumber, timings)
	}
	if timings[0].Elapsed < 500 {
		t.Errorf("scene elapsed = %s, want >= 500ns", timings[0].Elapsed)
	}
	if got := f.swapchain.Presented(); got != 1 {
		t.Errorf("Presented() = %d, want 1", got)
	}
	if m.PresentImageIndex() != frame.NoImage {
		t.Error("image still held after presenting")
	}

	start := time.Now()
	if err := m.WaitForCommands(true, false); err != nil {
		t.Fatalf("WaitForCommands() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("WaitForCommands() on an idle GPU took %s", elapsed)
	}
	if m.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after finish", m.Outstanding())
	}
	if m.DrawState() != frame.StageRetired {
		t.Errorf("DrawState() = %s, want retired", m.DrawState())
	}
}

func TestManagerBlocksOnNinthSubmission(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	flushFrame := func() error {
		if err := m.BeginFrame(); err != nil {
			return err
		}
		drawCommands(t, m)
		return m.FlushCommands(false, true, false)
	}

	for i := 0; i < config.DefaultMaxConcurrentSubmits; i++ {
		if err := flushFrame(); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
	if got := m.Outstanding(); got != 8 {
		t.Fatalf("Outstanding() = %d, want 8", got)
	}

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	drawCommands(t, m)
	flushed := make(chan error, 1)
	go func() {
		flushed <- m.FlushCommands(false, true, false)
	}()

	select {
	case err := <-flushed:
		t.Fatalf("9th FlushCommands() returned %v with 8 submissions in flight", err)
	case <-time.After(30 * time.Millisecond):
	}

	f.dev.CompleteNext()
	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("9th FlushCommands() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("9th FlushCommands() still blocked after the first fence signaled")
	}
	if got := m.Outstanding(); got != 8 {
		t.Errorf("Outstanding() = %d, want 8", got)
	}
}

func TestManagerDefersDeletion(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	buffer := simgpu.NewObject(nil, "vertices", 1024)
	image := simgpu.NewObject(nil, "texture", 0)
	drawCommands(t, m)
	m.DrawDeleteList().AddBuffer(buffer)
	m.DrawDeleteList().AddImage(image)

	if err := m.DeleteFrameObjects(false); err != nil {
		t.Fatalf("DeleteFrameObjects() error = %v", err)
	}
	if buffer.Destroyed() {
		t.Fatal("buffer destroyed while its frame was still recording")
	}

	if err := m.FlushCommands(false, true, false); err != nil {
		t.Fatalf("FlushCommands() error = %v", err)
	}
	if !m.DrawDeleteList().Empty() {
		t.Error("draw delete list not replaced after flush")
	}
	if m.DrawState() != frame.StageSubmitted {
		t.Errorf("DrawState() = %s, want submitted", m.DrawState())
	}

	if err := m.DeleteFrameObjects(false); err != nil {
		t.Fatalf("DeleteFrameObjects() error = %v", err)
	}
	if buffer.Destroyed() || image.Destroyed() {
		t.Fatal("resources destroyed before the submission fence signaled")
	}

	f.dev.CompleteNext()
	if err := m.DeleteFrameObjects(false); err != nil {
		t.Fatalf("DeleteFrameObjects() error = %v", err)
	}
	if buffer.Destroys() != 1 || image.Destroys() != 1 {
		t.Errorf("destroys after retirement: buffer %d, image %d, want 1 each", buffer.Destroys(), image.Destroys())
	}
	if m.DrawState() != frame.StageRetired {
		t.Errorf("DrawState() = %s, want retired", m.DrawState())
	}
}

func TestManagerDestroysIdleListsDirectly(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	upload := simgpu.NewObject(nil, "staging", 64)
	draw := simgpu.NewObject(nil, "old-mesh", 64)
	m.TransferDeleteList().AddBuffer(upload)
	m.DrawDeleteList().AddBuffer(draw)

	if err := m.DeleteFrameObjects(true); err != nil {
		t.Fatalf("DeleteFrameObjects() error = %v", err)
	}
	if !upload.Destroyed() || draw.Destroyed() {
		t.Errorf("upload-only pass: staging destroyed = %t, mesh destroyed = %t", upload.Destroyed(), draw.Destroyed())
	}
	if err := m.DeleteFrameObjects(false); err != nil {
		t.Fatalf("DeleteFrameObjects() error = %v", err)
	}
	if !draw.Destroyed() {
		t.Error("draw list not destroyed with nothing in flight")
	}
}

func TestManagerTransferThenDraw(t *testing.T) {
	f := newManagerFixture(t, true, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	for frameIndex := 0; frameIndex < 3; frameIndex++ {
		if err := m.BeginFrame(); err != nil {
			t.Fatalf("BeginFrame() error = %v", err)
		}

		// Mid-frame upload flushed on its own, then more uploads with the draw.
		if _, err := m.GetTransferCommands(); err != nil {
			t.Fatalf("GetTransferCommands() error = %v", err)
		}
		drawCommands(t, m)
		if err := m.FlushCommands(false, false, true); err != nil {
			t.Fatalf("upload-only FlushCommands() error = %v", err)
		}
		if m.DrawState() != frame.StageRecording {
			t.Errorf("DrawState() = %s after upload-only flush, want recording", m.DrawState())
		}

		if _, err := m.GetTransferCommands(); err != nil {
			t.Fatalf("GetTransferCommands() error = %v", err)
		}
		if err := m.FlushCommands(false, true, false); err != nil {
			t.Fatalf("FlushCommands() error = %v", err)
		}
		if got := m.SubmittedCommandBuffers(); got != 3 {
			t.Errorf("SubmittedCommandBuffers() = %d, want 3", got)
		}

		f.dev.CompleteAll()
		if err := m.WaitForCommands(true, false); err != nil {
			t.Fatalf("WaitForCommands() error = %v", err)
		}
	}

	if got := f.swapchain.Presented(); got != 3 {
		t.Errorf("Presented() = %d, want 3", got)
	}
	if got := f.dev.Submitted(); got != 9 {
		t.Errorf("device submissions = %d, want 9", got)
	}
}

func TestManagerContractErrors(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	if err := m.FlushCommands(false, true, false); !errors.Is(err, core.ErrNoRecordedWork) {
		t.Fatalf("FlushCommands() with nothing recorded error = %v, want ErrNoRecordedWork", err)
	}
	if err := m.PopGroup(); !errors.Is(err, core.ErrUnbalancedGroups) {
		t.Fatalf("PopGroup() on empty stack error = %v, want ErrUnbalancedGroups", err)
	}

	if err := m.PushGroup("left-open"); err != nil {
		t.Fatalf("PushGroup() error = %v", err)
	}
	if err := m.FlushCommands(false, true, false); !errors.Is(err, core.ErrUnbalancedGroups) {
		t.Fatalf("FlushCommands() with open group error = %v, want ErrUnbalancedGroups", err)
	}
	if core.IsFatal(core.ErrUnbalancedGroups) {
		t.Error("unbalanced groups classified as fatal")
	}
	if err := m.PopGroup(); err != nil {
		t.Fatalf("PopGroup() error = %v", err)
	}
	if err := m.FlushCommands(false, true, false); err != nil {
		t.Fatalf("FlushCommands() after closing the group error = %v", err)
	}
}

func TestManagerStatsNotReady(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	if err := m.PushGroup("scene"); err != nil {
		t.Fatalf("PushGroup() error = %v", err)
	}
	if err := m.PopGroup(); err != nil {
		t.Fatalf("PopGroup() error = %v", err)
	}
	if err := m.FlushCommands(false, true, false); err != nil {
		t.Fatalf("FlushCommands() error = %v", err)
	}

	if err := m.UpdateGpuStats(); !errors.Is(err, core.ErrStatsNotReady) {
		t.Fatalf("UpdateGpuStats() before retirement error = %v, want ErrStatsNotReady", err)
	}
	if f.stats.Published() != 0 {
		t.Fatal("timings published before the submission retired")
	}

	f.dev.CompleteNext()
	if err := m.UpdateGpuStats(); err != nil {
		t.Fatalf("UpdateGpuStats() error = %v", err)
	}
	if err := m.UpdateGpuStats(); err != nil {
		t.Fatalf("second UpdateGpuStats() error = %v", err)
	}
	if got := f.stats.Published(); got != 1 {
		t.Errorf("Published() = %d, want 1", got)
	}
}

func TestManagerProfilingToggle(t *testing.T) {
	tests := []struct {
		name    string
		devOpts []simgpu.Option
		opts    []frame.Option
	}{
		{name: "disabled", devOpts: []simgpu.Option{simgpu.WithManualCompletion()}, opts: []frame.Option{frame.WithGpuStats(false)}},
		{name: "unsupported", devOpts: []simgpu.Option{simgpu.WithManualCompletion(), simgpu.WithTimestampPeriod(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t, false, tt.devOpts, tt.opts...)
			defer f.close(t)
			m := f.m

			if err := m.BeginFrame(); err != nil {
				t.Fatalf("BeginFrame() error = %v", err)
			}
			if err := m.PushGroup("scene"); err != nil {
				t.Fatalf("PushGroup() error = %v", err)
			}
			if m.GroupDepth() != 1 {
				t.Errorf("GroupDepth() = %d, want 1", m.GroupDepth())
			}
			if err := m.PopGroup(); err != nil {
				t.Fatalf("PopGroup() error = %v", err)
			}
			cmds := drawCommands(t, m)
			if cmds.Recorded() != 0 {
				t.Errorf("%d commands recorded with profiling off", cmds.Recorded())
			}
			if err := m.FlushCommands(false, true, false); err != nil {
				t.Fatalf("FlushCommands() error = %v", err)
			}
			f.dev.CompleteAll()
			if err := m.UpdateGpuStats(); err != nil {
				t.Fatalf("UpdateGpuStats() error = %v", err)
			}
			if f.stats.Published() != 0 {
				t.Error("timings published with profiling off")
			}
		})
	}
}

func TestManagerSwapchainOutOfDate(t *testing.T) {
	f := newManagerFixture(t, true, nil)
	defer f.close(t)
	m := f.m

	f.swapchain.Invalidate()
	err := m.BeginFrame()
	if !errors.Is(err, core.ErrSwapchainBooting) || core.IsFatal(err) {
		t.Fatalf("BeginFrame() error = %v, want soft ErrSwapchainBooting", err)
	}
	if m.PresentImageIndex() != frame.NoImage {
		t.Fatal("image index set while the swapchain is out of date")
	}
	drawCommands(t, m)
	if err := m.FlushCommands(true, true, false); err != nil {
		t.Fatalf("FlushCommands() without an image error = %v", err)
	}
	if f.swapchain.Presented() != 0 {
		t.Fatal("presented while the swapchain was out of date")
	}

	f.swapchain.Recreate()
	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() after Recreate error = %v", err)
	}
	drawCommands(t, m)
	if err := m.FlushCommands(false, true, false); err != nil {
		t.Fatalf("FlushCommands() error = %v", err)
	}
	if err := m.WaitForCommands(false, false); err != nil {
		t.Fatalf("WaitForCommands() error = %v", err)
	}
	if m.PresentImageIndex() == frame.NoImage {
		t.Error("WaitForCommands(false) did not acquire the next image")
	}
	if f.swapchain.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", f.swapchain.Presented())
	}
}

func TestManagerSubmitFailureIsFatal(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion(), simgpu.WithFailSubmit(0)})
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	drawCommands(t, m)
	err := m.FlushCommands(false, true, false)
	if !core.IsFatal(err) || !errors.Is(err, core.ErrDeviceLost) {
		t.Fatalf("FlushCommands() error = %v, want fatal ErrDeviceLost", err)
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := config.Default().Frame
	cfg.MaxConcurrentSubmits = 2
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()}, frame.WithConfig(cfg))
	defer f.close(t)
	m := f.m

	for i := 0; i < 2; i++ {
		if err := m.BeginFrame(); err != nil {
			t.Fatalf("BeginFrame() error = %v", err)
		}
		drawCommands(t, m)
		if err := m.FlushCommands(false, true, false); err != nil {
			t.Fatalf("FlushCommands() error = %v", err)
		}
	}
	if m.Outstanding() != 2 || m.FrameNumber() != 2 {
		t.Errorf("Outstanding() = %d, FrameNumber() = %d, want 2, 2", m.Outstanding(), m.FrameNumber())
	}
}

func TestManagerReportsGroupsLeftOpen(t *testing.T) {
	f := newManagerFixture(t, false, []simgpu.Option{simgpu.WithManualCompletion()})
	defer f.close(t)
	m := f.m

	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	if err := m.PushGroup("leak"); err != nil {
		t.Fatalf("PushGroup() error = %v", err)
	}

	err := m.BeginFrame()
	if !errors.Is(err, core.ErrUnbalancedGroups) {
		t.Fatalf("BeginFrame() after an abandoned group error = %v, want ErrUnbalancedGroups", err)
	}
	if core.IsFatal(err) {
		t.Error("abandoned group classified as fatal")
	}
	if m.GroupDepth() != 0 || m.FrameNumber() != 2 {
		t.Errorf("GroupDepth() = %d, FrameNumber() = %d, want 0, 2", m.GroupDepth(), m.FrameNumber())
	}

	// The new frame starts clean.
	drawCommands(t, m)
	if err := m.FlushCommands(false, true, false); err != nil {
		t.Fatalf("FlushCommands() error = %v", err)
	}
	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() after a balanced frame error = %v", err)
	}
}

func TestManagerAllocationFailuresAreFatal(t *testing.T) {
	closed := simgpu.New(simgpu.WithManualCompletion())
	closed.Close()
	if _, err := frame.New(closed, nil); !core.IsFatal(err) || !errors.Is(err, core.ErrAllocationFailed) {
		t.Fatalf("New() on a closed device error = %v, want fatal ErrAllocationFailed", err)
	}

	dev := simgpu.New(simgpu.WithManualCompletion())
	m, err := frame.New(dev, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}
	dev.Close()

	_, err = m.GetDrawCommands()
	if !core.IsFatal(err) || !errors.Is(err, core.ErrAllocationFailed) || !errors.Is(err, simgpu.ErrDeviceClosed) {
		t.Fatalf("GetDrawCommands() on a closed device error = %v, want fatal ErrAllocationFailed", err)
	}
	_ = m.Destroy()
}
