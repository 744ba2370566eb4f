package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

// VulkanContext implements frame.Device on top of a VulkanDevice.
type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32

	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	Device *VulkanDevice

	locks *VulkanLockPool
}

func NewVulkanContext(device *VulkanDevice, surface vk.Surface, allocator *vk.AllocationCallbacks) *VulkanContext {
	locks := NewVulkanLockPool()
	locks.SetQueueFamily(device.GraphicsQueueIndex)
	locks.SetQueueFamily(device.PresentQueueIndex)
	return &VulkanContext{
		Allocator: allocator,
		Surface:   surface,
		Device:    device,
		locks:     locks,
	}
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (vc *VulkanContext) CreateFence() (frame.Fence, error) {
	return NewFence(vc, false)
}

func (vc *VulkanContext) CreateSemaphore() (frame.Semaphore, error) {
	return NewSemaphore(vc)
}

func (vc *VulkanContext) CreateCommandPool() (frame.CommandAllocator, error) {
	return NewCommandPool(vc, vc.Device.GraphicsQueueIndex)
}

func (vc *VulkanContext) CreateTimestampPool(count uint32) (frame.QueryPool, error) {
	if vc.TimestampPeriod() == 0 {
		return nil, core.ErrTimestampsUnsupported
	}
	return NewTimestampQueryPool(vc, count)
}

// TimestampPeriod is 0 when the graphics queue does not support timestamps.
func (vc *VulkanContext) TimestampPeriod() float64 {
	if vc.Device.TimestampValidBits == 0 {
		return 0
	}
	return float64(vc.Device.Properties.Limits.TimestampPeriod)
}

// Submit queues one batch on the graphics queue. Access to the queue is
// serialized through the lock pool.
func (vc *VulkanContext) Submit(info frame.SubmitInfo) error {
	submitInfo, vf := translateSubmit(info)
	fence := vk.NullFence
	if vf != nil {
		fence = vf.Handle
	}

	return vc.locks.SafeQueueCall(vc.Device.GraphicsQueueIndex, func() error {
		if res := vk.QueueSubmit(vc.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			return resultError("vkQueueSubmit failed", res)
		}
		if vf != nil {
			vf.IsSignaled = false
		}
		return nil
	})
}

// translateSubmit builds the vk.SubmitInfo for info without touching the
// device. The returned fence is nil when the batch signals none.
func translateSubmit(info frame.SubmitInfo) (vk.SubmitInfo, *VulkanFence) {
	commandBuffers := make([]vk.CommandBuffer, len(info.Commands))
	for i, c := range info.Commands {
		commandBuffers[i] = c.(*VulkanCommandBuffer).Handle
	}

	waitSemaphores := make([]vk.Semaphore, len(info.Waits))
	waitStages := make([]vk.PipelineStageFlags, len(info.Waits))
	for i, w := range info.Waits {
		waitSemaphores[i] = w.Semaphore.(*VulkanSemaphore).Handle
		waitStages[i] = vk.PipelineStageFlags(pipelineStage(w.Stage))
	}

	signalSemaphores := make([]vk.Semaphore, len(info.Signals))
	for i, s := range info.Signals {
		signalSemaphores[i] = s.(*VulkanSemaphore).Handle
	}

	var vf *VulkanFence
	if info.Fence != nil {
		vf = info.Fence.(*VulkanFence)
	}

	return vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waitSemaphores)),
		PWaitSemaphores:      waitSemaphores,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		SignalSemaphoreCount: uint32(len(signalSemaphores)),
		PSignalSemaphores:    signalSemaphores,
	}, vf
}

func (vc *VulkanContext) WaitIdle() error {
	if res := vk.DeviceWaitIdle(vc.Device.LogicalDevice); res != vk.Success {
		return resultError("vkDeviceWaitIdle failed", res)
	}
	return nil
}

func pipelineStage(stage frame.PipelineStage) vk.PipelineStageFlagBits {
	switch stage {
	case frame.StageTopOfPipe:
		return vk.PipelineStageTopOfPipeBit
	case frame.StageTransfer:
		return vk.PipelineStageTransferBit
	case frame.StageColorAttachmentOutput:
		return vk.PipelineStageColorAttachmentOutputBit
	case frame.StageBottomOfPipe:
		return vk.PipelineStageBottomOfPipeBit
	}
	panic(fmt.Sprintf("vulkan: unknown pipeline stage %d", stage))
}

var (
	_ frame.Device           = (*VulkanContext)(nil)
	_ frame.Fence            = (*VulkanFence)(nil)
	_ frame.Semaphore        = (*VulkanSemaphore)(nil)
	_ frame.CommandAllocator = (*VulkanCommandPool)(nil)
	_ frame.Commands         = (*VulkanCommandBuffer)(nil)
	_ frame.QueryPool        = (*VulkanQueryPool)(nil)
	_ frame.Swapchain        = (*VulkanSwapchain)(nil)
	_ frame.SizedResource    = (*VulkanBuffer)(nil)
)
