package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"
)

// VulkanCommandPool implements frame.CommandAllocator. Buffers can be reset
// individually so the frame manager can recycle them.
type VulkanCommandPool struct {
	context *VulkanContext
	Handle  vk.CommandPool
}

func NewCommandPool(context *VulkanContext, queueFamilyIndex uint32) (*VulkanCommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var handle vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("failed to create command pool", res)
	}
	return &VulkanCommandPool{context: context, Handle: handle}, nil
}

func (p *VulkanCommandPool) Allocate() (frame.Commands, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := p.context.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(p.context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return resultError("failed to allocate command buffer", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &VulkanCommandBuffer{pool: p, Handle: handles[0]}, nil
}

func (p *VulkanCommandPool) Free(cmds frame.Commands) {
	cb := cmds.(*VulkanCommandBuffer)
	if cb.Handle == nil {
		return
	}
	_ = p.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(p.context.Device.LogicalDevice, p.Handle, 1, []vk.CommandBuffer{cb.Handle})
		return nil
	})
	cb.Handle = nil
}

func (p *VulkanCommandPool) Destroy() {
	if p.Handle != nil {
		vk.DestroyCommandPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		p.Handle = nil
	}
}

// VulkanCommandBuffer implements frame.Commands. Renderers type-assert to it
// to record their own commands through Handle.
type VulkanCommandBuffer struct {
	pool   *VulkanCommandPool
	Handle vk.CommandBuffer
}

func (v *VulkanCommandBuffer) Begin() error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return resultError("failed to begin command buffer", res)
	}
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("failed to end command buffer", res)
	}
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return resultError("failed to reset command buffer", res)
	}
	return nil
}

func (v *VulkanCommandBuffer) WriteTimestamp(stage frame.PipelineStage, pool frame.QueryPool, index uint32) {
	vk.CmdWriteTimestamp(v.Handle, pipelineStage(stage), pool.(*VulkanQueryPool).Handle, index)
}

func (v *VulkanCommandBuffer) ResetQueries(pool frame.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(v.Handle, pool.(*VulkanQueryPool).Handle, first, count)
}
