package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/core"
)

// The wrappers below own one Vulkan object each and satisfy frame.Resource,
// so they can be handed to a frame.DeleteList instead of being destroyed
// while a submission might still use them.

type VulkanBuffer struct {
	context *VulkanContext
	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	size    uint64
}

func NewBuffer(context *VulkanContext, size uint64, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("failed to create buffer", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex == -1 {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, resultError("no memory type for buffer", vk.ErrorOutOfDeviceMemory)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, resultError("failed to allocate buffer memory", res)
	}
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, resultError("failed to bind buffer memory", res)
	}

	return &VulkanBuffer{context: context, Handle: handle, Memory: memory, size: size}, nil
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) Destroy() {
	if b.Handle != nil {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, b.Handle, b.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(b.context.Device.LogicalDevice, b.Memory, b.context.Allocator)
		b.Memory = nil
	}
}

// VulkanImage owns an image and the memory bound to it. Views are separate
// resources.
type VulkanImage struct {
	context *VulkanContext
	Handle  vk.Image
	Memory  vk.DeviceMemory
	Width   uint32
	Height  uint32
}

func WrapImage(context *VulkanContext, handle vk.Image, memory vk.DeviceMemory, width, height uint32) *VulkanImage {
	return &VulkanImage{context: context, Handle: handle, Memory: memory, Width: width, Height: height}
}

func (i *VulkanImage) Destroy() {
	if i.Handle != nil {
		vk.DestroyImage(i.context.Device.LogicalDevice, i.Handle, i.context.Allocator)
		i.Handle = nil
	}
	if i.Memory != nil {
		vk.FreeMemory(i.context.Device.LogicalDevice, i.Memory, i.context.Allocator)
		i.Memory = nil
	}
}

type VulkanImageView struct {
	context *VulkanContext
	Handle  vk.ImageView
}

func WrapImageView(context *VulkanContext, handle vk.ImageView) *VulkanImageView {
	return &VulkanImageView{context: context, Handle: handle}
}

func (v *VulkanImageView) Destroy() {
	if v.Handle != nil {
		vk.DestroyImageView(v.context.Device.LogicalDevice, v.Handle, v.context.Allocator)
		v.Handle = nil
	}
}

type VulkanFramebuffer struct {
	context *VulkanContext
	Handle  vk.Framebuffer
}

func FramebufferCreate(context *VulkanContext, renderpass vk.RenderPass, width uint32, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("failed to create framebuffer", res)
	}
	return &VulkanFramebuffer{context: context, Handle: handle}, nil
}

func (f *VulkanFramebuffer) Destroy() {
	if f.Handle != nil {
		vk.DestroyFramebuffer(f.context.Device.LogicalDevice, f.Handle, f.context.Allocator)
		f.Handle = nil
	}
}

type VulkanSampler struct {
	context *VulkanContext
	Handle  vk.Sampler
}

func WrapSampler(context *VulkanContext, handle vk.Sampler) *VulkanSampler {
	return &VulkanSampler{context: context, Handle: handle}
}

func (s *VulkanSampler) Destroy() {
	if s.Handle != nil {
		vk.DestroySampler(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = nil
	}
}

type VulkanDescriptorPool struct {
	context *VulkanContext
	Handle  vk.DescriptorPool
}

func WrapDescriptorPool(context *VulkanContext, handle vk.DescriptorPool) *VulkanDescriptorPool {
	return &VulkanDescriptorPool{context: context, Handle: handle}
}

func (p *VulkanDescriptorPool) Destroy() {
	if p.Handle != nil {
		vk.DestroyDescriptorPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		p.Handle = nil
	}
}

// VulkanDescriptorSet is returned to its pool on Destroy. The pool must have
// been created with VK_DESCRIPTOR_POOL_CREATE_FREE_DESCRIPTOR_SET_BIT.
type VulkanDescriptorSet struct {
	context *VulkanContext
	Pool    vk.DescriptorPool
	Handle  vk.DescriptorSet
}

func WrapDescriptorSet(context *VulkanContext, pool vk.DescriptorPool, handle vk.DescriptorSet) *VulkanDescriptorSet {
	return &VulkanDescriptorSet{context: context, Pool: pool, Handle: handle}
}

func (s *VulkanDescriptorSet) Destroy() {
	if s.Handle != nil {
		if res := vk.FreeDescriptorSets(s.context.Device.LogicalDevice, s.Pool, 1, &s.Handle); res != vk.Success {
			core.LogWarn("vkFreeDescriptorSets failed: %s", VulkanResultString(res, true))
		}
		s.Handle = nil
	}
}

// VulkanAccelerationStructure pairs an acceleration structure with its
// backing buffer. The structure itself is released through destroy, since
// the ray tracing entry points are loaded by the caller.
type VulkanAccelerationStructure struct {
	Buffer  *VulkanBuffer
	destroy func()
}

func WrapAccelerationStructure(buffer *VulkanBuffer, destroy func()) *VulkanAccelerationStructure {
	return &VulkanAccelerationStructure{Buffer: buffer, destroy: destroy}
}

func (a *VulkanAccelerationStructure) Destroy() {
	if a.destroy != nil {
		a.destroy()
		a.destroy = nil
	}
}
