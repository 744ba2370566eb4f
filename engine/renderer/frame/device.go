package frame

import (
	"time"

	"github.com/spaghettifunk/vkframes/engine/core"
)

// PipelineStage names the points in the pipeline that semaphore waits and
// timestamp writes refer to. Backends map them onto their native flags.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageColorAttachmentOutput
	StageBottomOfPipe
)

func (s PipelineStage) String() string {
	switch s {
	case StageTopOfPipe:
		return "TOP_OF_PIPE"
	case StageTransfer:
		return "TRANSFER"
	case StageColorAttachmentOutput:
		return "COLOR_ATTACHMENT_OUTPUT"
	case StageBottomOfPipe:
		return "BOTTOM_OF_PIPE"
	}
	return "UNKNOWN"
}

// Device is the slice of a logical device the manager needs. Device, queue
// and instance creation happen elsewhere.
type Device interface {
	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandPool() (CommandAllocator, error)
	// CreateTimestampPool returns core.ErrTimestampsUnsupported when the
	// graphics queue cannot write timestamps.
	CreateTimestampPool(count uint32) (QueryPool, error)
	// TimestampPeriod is the number of nanoseconds per timestamp tick.
	TimestampPeriod() float64
	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Fence is a CPU-visible completion signal. Fences are created unsignaled.
type Fence interface {
	Signaled() (bool, error)
	// Wait blocks until the fence signals or timeout elapses; a zero timeout
	// waits forever. It reports whether the fence signaled.
	Wait(timeout time.Duration) (bool, error)
	Reset() error
	Destroy()
}

// Semaphore orders work on the GPU timeline without CPU involvement.
type Semaphore interface {
	Destroy()
}

// CommandAllocator is the backend command pool.
type CommandAllocator interface {
	Allocate() (Commands, error)
	Free(cmds Commands)
	Destroy()
}

// Commands is a backend command-recording handle. The renderer type-asserts
// it to the backend type to record draws and copies.
type Commands interface {
	Begin() error
	End() error
	Reset() error
	WriteTimestamp(stage PipelineStage, pool QueryPool, index uint32)
	ResetQueries(pool QueryPool, first, count uint32)
}

type QueryPool interface {
	// Results returns count raw tick values starting at first. Callers must
	// only ask for queries whose submission has retired.
	Results(first, count uint32) ([]uint64, error)
	Destroy()
}

type Swapchain interface {
	// AcquireImage blocks until an image is available and arranges for signal
	// to be signaled once the presentation engine released it. Returns
	// core.ErrSwapchainBooting when the swapchain must be recreated.
	AcquireImage(signal Semaphore) (uint32, error)
	Present(index uint32, wait Semaphore) error
}

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Commands []Commands
	Waits    []SemaphoreWait
	Signals  []Semaphore
	Fence    Fence
}

// Resource is anything a DeleteList can own and release.
type Resource interface {
	Destroy()
}

// SizedResource is a Resource that occupies device memory, i.e. a buffer.
type SizedResource interface {
	Resource
	Size() uint64
}

// StatsCollector receives resolved GPU timings, typically an overlay.
type StatsCollector interface {
	PublishGpuTimings(frame uint64, timings []core.GpuTiming)
}
