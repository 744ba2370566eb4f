package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/core"
)

// VulkanDevice describes a logical device created by the caller, together
// with the queues the frame manager submits and presents on.
type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	// Number of meaningful bits in timestamps written on the graphics queue.
	// 0 when the queue family cannot write timestamps.
	TimestampValidBits uint32
}

// DeviceCreate wraps an existing logical device. Instance, physical device
// selection and logical device creation are the caller's business.
func DeviceCreate(physicalDevice vk.PhysicalDevice, logicalDevice vk.Device, graphicsQueueIndex, presentQueueIndex uint32) *VulkanDevice {
	device := &VulkanDevice{
		PhysicalDevice:     physicalDevice,
		LogicalDevice:      logicalDevice,
		GraphicsQueueIndex: graphicsQueueIndex,
		PresentQueueIndex:  presentQueueIndex,
	}

	vk.GetPhysicalDeviceProperties(physicalDevice, &device.Properties)
	device.Properties.Deref()
	device.Properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &device.Memory)
	device.Memory.Deref()

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, queueFamilies)
	if graphicsQueueIndex < queueFamilyCount {
		queueFamilies[graphicsQueueIndex].Deref()
		device.TimestampValidBits = queueFamilies[graphicsQueueIndex].TimestampValidBits
	}

	var graphicsQueue, presentQueue vk.Queue
	vk.GetDeviceQueue(logicalDevice, graphicsQueueIndex, 0, &graphicsQueue)
	vk.GetDeviceQueue(logicalDevice, presentQueueIndex, 0, &presentQueue)
	device.GraphicsQueue = graphicsQueue
	device.PresentQueue = presentQueue

	core.LogInfo("Vulkan device wrapped: graphics queue %d, present queue %d, timestamp bits %d, period %.2f ns",
		graphicsQueueIndex, presentQueueIndex, device.TimestampValidBits, device.Properties.Limits.TimestampPeriod)
	return device
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	// Surface capabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return resultError("failed to get physical device surface capabilities", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	// Surface formats
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil); res != vk.Success {
		return resultError("failed to get physical device surface formats", res)
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats); res != vk.Success {
			return resultError("failed to get physical device surface formats", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	// Present modes
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil); res != vk.Success {
		return resultError("failed to get physical device surface present modes", res)
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes); res != vk.Success {
			return resultError("failed to get physical device surface present modes", res)
		}
	}
	return nil
}
