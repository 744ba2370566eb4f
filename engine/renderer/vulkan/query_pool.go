package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkframes/engine/core"
)

type VulkanQueryPool struct {
	context *VulkanContext
	Handle  vk.QueryPool
	Count   uint32
}

func NewTimestampQueryPool(context *VulkanContext, count uint32) (*VulkanQueryPool, error) {
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: count,
	}
	var handle vk.QueryPool
	if res := vk.CreateQueryPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("failed to create timestamp query pool", res)
	}
	return &VulkanQueryPool{context: context, Handle: handle, Count: count}, nil
}

// Results reads 64-bit timestamps without waiting. Asking for queries whose
// submission has not completed yields core.ErrStatsNotReady.
func (q *VulkanQueryPool) Results(first, count uint32) ([]uint64, error) {
	if count == 0 {
		return nil, nil
	}
	if first+count > q.Count {
		err := fmt.Errorf("queries %d..%d out of range of pool of %d", first, first+count, q.Count)
		core.LogError(err.Error())
		return nil, err
	}

	data := make([]uint64, count)
	res := vk.GetQueryPoolResults(
		q.context.Device.LogicalDevice,
		q.Handle,
		first,
		count,
		uint64(count)*8,
		unsafe.Pointer(&data[0]),
		8,
		vk.QueryResultFlags(vk.QueryResult64Bit),
	)
	switch res {
	case vk.Success:
		return data, nil
	case vk.NotReady:
		return nil, fmt.Errorf("timestamp queries %d..%d: %w", first, first+count, core.ErrStatsNotReady)
	default:
		return nil, resultError("vkGetQueryPoolResults failed", res)
	}
}

func (q *VulkanQueryPool) Destroy() {
	if q.Handle != nil {
		vk.DestroyQueryPool(q.context.Device.LogicalDevice, q.Handle, q.context.Allocator)
		q.Handle = nil
	}
}
