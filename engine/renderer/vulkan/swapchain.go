package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/renderer/frame"

	vmath "github.com/spaghettifunk/vkframes/engine/math"
)

// VulkanSwapchain implements frame.Swapchain. When acquire or present report
// the surface out of date, it is recreated at the context's current
// framebuffer size and the caller gets core.ErrSwapchainBooting.
type VulkanSwapchain struct {
	context *VulkanContext

	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Handle      vk.Swapchain
	ImageCount  uint32
	Images      []vk.Image
	Views       []vk.ImageView
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width uint32, height uint32) (*VulkanSwapchain, error) {
	// Simply create a new one.
	swapchain := &VulkanSwapchain{context: context}
	if err := swapchain.create(width, height); err != nil {
		return nil, err
	}
	return swapchain, nil
}

func (vs *VulkanSwapchain) SwapchainRecreate(width uint32, height uint32) error {
	// Destroy the old and create a new one.
	return vs.context.locks.SafeCall(SwapchainManagement, func() error {
		vs.destroy()
		return vs.create(width, height)
	})
}

func (vs *VulkanSwapchain) Destroy() {
	vs.destroy()
}

func (vs *VulkanSwapchain) AcquireImage(signal frame.Semaphore) (uint32, error) {
	var imageIndex uint32
	semaphore := signal.(*VulkanSemaphore).Handle
	result := vk.AcquireNextImage(vs.context.Device.LogicalDevice, vs.Handle, math.MaxUint64, semaphore, vk.NullFence, &imageIndex)

	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		// Trigger swapchain recreation, then boot out of the render loop.
		if err := vs.SwapchainRecreate(vs.context.FramebufferWidth, vs.context.FramebufferHeight); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	default:
		return 0, resultError("failed to acquire swapchain image", result)
	}
}

func (vs *VulkanSwapchain) Present(index uint32, wait frame.Semaphore) error {
	// Return the image to the swapchain for presentation.
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(*VulkanSemaphore).Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{index},
	}

	var result vk.Result
	_ = vs.context.locks.SafeQueueCall(vs.context.Device.PresentQueueIndex, func() error {
		result = vk.QueuePresent(vs.context.Device.PresentQueue, &presentInfo)
		return nil
	})

	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// Swapchain is out of date, suboptimal or a framebuffer resize has occurred. Trigger swapchain recreation.
		if err := vs.SwapchainRecreate(vs.context.FramebufferWidth, vs.context.FramebufferHeight); err != nil {
			return err
		}
		return core.ErrSwapchainBooting
	default:
		return resultError("failed to present swapchain image", result)
	}
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	context := vs.context
	support := &context.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, support); err != nil {
		return err
	}

	swapchainExtent := vk.Extent2D{
		Width:  width,
		Height: height,
	}

	// Choose a swap surface format.
	found := false
	for i := 0; i < int(support.FormatCount); i++ {
		format := support.Formats[i]
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			found = true
		}
	}
	if !found {
		vs.ImageFormat = support.Formats[0]
	}

	presentMode := vk.PresentModeFifo
	for i := 0; i < int(support.PresentModeCount); i++ {
		mode := support.PresentModes[i]
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	// Swapchain extent
	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = support.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	min := support.Capabilities.MinImageExtent
	max := support.Capabilities.MaxImageExtent
	swapchainExtent.Width = vmath.Clamp(swapchainExtent.Width, min.Width, max.Width)
	swapchainExtent.Height = vmath.Clamp(swapchainExtent.Height, min.Height, max.Height)
	vs.Extent = swapchainExtent

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	// Swapchain create info
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	// Setup the queue family indices
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			context.Device.GraphicsQueueIndex,
			context.Device.PresentQueueIndex,
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = support.Capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = presentMode
	swapchainCreateInfo.Clipped = vk.True

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		return resultError("failed to create swapchain", res)
	}
	vs.Handle = swapchainHandle

	// Images
	vs.ImageCount = 0
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &vs.ImageCount, nil); res != vk.Success {
		return resultError("failed to get swapchain images", res)
	}
	vs.Images = make([]vk.Image, vs.ImageCount)
	vs.Views = make([]vk.ImageView, vs.ImageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, vs.Handle, &vs.ImageCount, vs.Images); res != vk.Success {
		return resultError("failed to get swapchain images", res)
	}

	// Views
	for i := 0; i < int(vs.ImageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    vs.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   vs.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &vs.Views[i]); res != vk.Success {
			return resultError("failed to create image view", res)
		}
	}

	core.LogInfo("Swapchain created successfully: %d images, %dx%d", vs.ImageCount, swapchainExtent.Width, swapchainExtent.Height)
	return nil
}

func (vs *VulkanSwapchain) destroy() {
	if vs.Handle == nil {
		return
	}
	vk.DeviceWaitIdle(vs.context.Device.LogicalDevice)

	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for i := range vs.Views {
		if vs.Views[i] != nil {
			vk.DestroyImageView(vs.context.Device.LogicalDevice, vs.Views[i], vs.context.Allocator)
		}
	}
	vs.Views = nil
	vs.Images = nil

	vk.DestroySwapchain(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
	vs.Handle = nil
}
