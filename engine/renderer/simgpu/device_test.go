package simgpu

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

func recorded(t *testing.T, d *Device, record func(c *Commands)) *Commands {
	t.Helper()
	pool, err := d.CreateCommandPool()
	if err != nil {
		t.Fatalf("CreateCommandPool() error = %v", err)
	}
	h, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	c := h.(*Commands)
	if err := c.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if record != nil {
		record(c)
	}
	if err := c.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	return c
}

func mustSemaphore(t *testing.T, d *Device) *Semaphore {
	t.Helper()
	s, err := d.CreateSemaphore()
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	return s.(*Semaphore)
}

func TestManualCompletionSignalsFence(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()

	f, _ := d.CreateFence()
	c := recorded(t, d, nil)
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}, Fence: f}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if ok, _ := f.Signaled(); ok {
		t.Fatal("fence signaled before completion")
	}
	if ok, _ := f.Wait(5 * time.Millisecond); ok {
		t.Fatal("Wait() reported signaled before completion")
	}
	if err := f.Reset(); !errors.Is(err, ErrFenceInUse) {
		t.Fatalf("Reset() of pending fence error = %v, want ErrFenceInUse", err)
	}

	if !d.CompleteNext() {
		t.Fatal("CompleteNext() found nothing pending")
	}
	if ok, _ := f.Wait(0); !ok {
		t.Fatal("fence not signaled after completion")
	}
	if d.CompleteNext() {
		t.Fatal("CompleteNext() completed a second submission")
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if ok, _ := f.Signaled(); ok {
		t.Fatal("fence still signaled after Reset")
	}
}

func TestAsyncCompletion(t *testing.T) {
	d := New(WithLatency(time.Millisecond))
	defer d.Close()

	f, _ := d.CreateFence()
	c := recorded(t, d, func(c *Commands) { c.Work(10) })
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}, Fence: f}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, err := f.Wait(time.Second); !ok || err != nil {
		t.Fatalf("Wait() = %t, %v", ok, err)
	}
	if err := d.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got := d.Completed(); got != 1 {
		t.Errorf("Completed() = %d, want 1", got)
	}
}

func TestSemaphoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		prime   bool
		wait    bool
		signal  bool
		wantErr error
	}{
		{name: "wait on unsignaled", wait: true, wantErr: ErrSemaphoreUnsignaled},
		{name: "double signal", prime: true, signal: true, wantErr: ErrSemaphoreSignaled},
		{name: "signal then wait", prime: true, wait: true},
		{name: "wait then signal again", prime: true, wait: true, signal: true},
		{name: "first signal", signal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(WithManualCompletion())
			defer d.Close()
			sem := mustSemaphore(t, d)

			if tt.prime {
				err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{recorded(t, d, nil)}, Signals: []frame.Semaphore{sem}})
				if err != nil {
					t.Fatalf("priming Submit() error = %v", err)
				}
			}

			info := frame.SubmitInfo{Commands: []frame.Commands{recorded(t, d, nil)}}
			if tt.wait {
				info.Waits = []frame.SemaphoreWait{{Semaphore: sem, Stage: frame.StageTransfer}}
			}
			if tt.signal {
				info.Signals = []frame.Semaphore{sem}
			}
			err := d.Submit(info)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitRejectsPendingCommands(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()

	c := recorded(t, d, nil)
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}}); !errors.Is(err, ErrCommandsInUse) {
		t.Fatalf("second Submit() error = %v, want ErrCommandsInUse", err)
	}
	if err := c.Reset(); !errors.Is(err, ErrCommandsInUse) {
		t.Fatalf("Reset() of pending commands error = %v, want ErrCommandsInUse", err)
	}
	d.CompleteAll()
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() after completion error = %v", err)
	}
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}}); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("Submit() of reset commands error = %v, want ErrNotExecutable", err)
	}
}

func TestTimestamps(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()

	qp, err := d.CreateTimestampPool(4)
	if err != nil {
		t.Fatalf("CreateTimestampPool() error = %v", err)
	}
	c := recorded(t, d, func(c *Commands) {
		c.ResetQueries(qp, 0, 4)
		c.WriteTimestamp(frame.StageTopOfPipe, qp, 0)
		c.Work(100)
		c.WriteTimestamp(frame.StageBottomOfPipe, qp, 1)
	})
	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{c}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := qp.Results(0, 2); !errors.Is(err, ErrQueryNotReady) {
		t.Fatalf("Results() before execution error = %v, want ErrQueryNotReady", err)
	}
	d.CompleteAll()

	ticks, err := qp.Results(0, 2)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if ticks[1]-ticks[0] < 100 {
		t.Errorf("elapsed ticks = %d, want >= 100", ticks[1]-ticks[0])
	}
	if _, err := qp.Results(2, 1); !errors.Is(err, ErrQueryNotReady) {
		t.Errorf("Results() of unwritten query error = %v, want ErrQueryNotReady", err)
	}
}

func TestTimestampsUnsupported(t *testing.T) {
	d := New(WithManualCompletion(), WithTimestampPeriod(0))
	defer d.Close()
	if _, err := d.CreateTimestampPool(4); !errors.Is(err, core.ErrTimestampsUnsupported) {
		t.Fatalf("CreateTimestampPool() error = %v, want ErrTimestampsUnsupported", err)
	}
}

func TestFailSubmit(t *testing.T) {
	d := New(WithManualCompletion(), WithFailSubmit(1))
	defer d.Close()

	if err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{recorded(t, d, nil)}}); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	err := d.Submit(frame.SubmitInfo{Commands: []frame.Commands{recorded(t, d, nil)}})
	if !core.IsFatal(err) {
		t.Fatalf("second Submit() error = %v, want a fatal error", err)
	}
}

func TestSwapchain(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()
	sc := NewSwapchain(d, 2)
	sem := mustSemaphore(t, d)

	index, err := sc.AcquireImage(sem)
	if err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}
	if _, err := sc.AcquireImage(sem); !errors.Is(err, ErrSemaphoreSignaled) {
		t.Fatalf("AcquireImage() with signaled semaphore error = %v, want ErrSemaphoreSignaled", err)
	}
	if err := sc.Present(index, sem); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if err := sc.Present(index, sem); err == nil {
		t.Fatal("Present() of an image that is not held succeeded")
	}

	sc.Invalidate()
	if _, err := sc.AcquireImage(sem); !errors.Is(err, core.ErrSwapchainBooting) {
		t.Fatalf("AcquireImage() out of date error = %v, want ErrSwapchainBooting", err)
	}
	sc.Recreate()
	if _, err := sc.AcquireImage(sem); err != nil {
		t.Fatalf("AcquireImage() after Recreate error = %v", err)
	}
	if got := sc.Held(); got != 1 {
		t.Errorf("Held() = %d, want 1", got)
	}
}

func TestSwapchainAcquireBlocksUntilPresent(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()
	sc := NewSwapchain(d, 1)
	first, second := mustSemaphore(t, d), mustSemaphore(t, d)

	index, err := sc.AcquireImage(first)
	if err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		_, err := sc.AcquireImage(second)
		acquired <- err
	}()
	select {
	case err := <-acquired:
		t.Fatalf("AcquireImage() with every image held returned early, error = %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := sc.Present(index, first); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("AcquireImage() after Present error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireImage() still blocked after Present")
	}
	if got := sc.Held(); got != 1 {
		t.Errorf("Held() = %d, want 1", got)
	}
}

func TestSwapchainAcquireUnblocksOnClose(t *testing.T) {
	d := New(WithManualCompletion())
	sc := NewSwapchain(d, 1)
	if _, err := sc.AcquireImage(mustSemaphore(t, d)); err != nil {
		t.Fatalf("AcquireImage() error = %v", err)
	}
	sem := mustSemaphore(t, d)

	acquired := make(chan error, 1)
	go func() {
		_, err := sc.AcquireImage(sem)
		acquired <- err
	}()
	time.Sleep(10 * time.Millisecond)
	d.Close()

	select {
	case err := <-acquired:
		if !errors.Is(err, ErrDeviceClosed) {
			t.Fatalf("AcquireImage() on a closed device error = %v, want ErrDeviceClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireImage() still blocked after Close")
	}
}

func TestLiveObjects(t *testing.T) {
	d := New(WithManualCompletion())
	defer d.Close()

	f, _ := d.CreateFence()
	s, _ := d.CreateSemaphore()
	p, _ := d.CreateCommandPool()
	q, _ := d.CreateTimestampPool(2)
	f.Destroy()
	s.Destroy()
	p.Destroy()
	q.Destroy()
	s.Destroy()

	fences, sems, pools, queries := d.Live()
	if fences != 0 || sems != 0 || pools != 0 || queries != 0 {
		t.Errorf("Live() = %d, %d, %d, %d, want all 0", fences, sems, pools, queries)
	}
}
