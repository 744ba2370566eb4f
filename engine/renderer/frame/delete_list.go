package frame

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/vkframes/engine/core"
)

// DeleteList owns resources released during a frame until the submission it
// is attached to has retired. Each category keeps its own collection; the
// list is destroyed as a whole, never partially.
type DeleteList struct {
	ID uuid.UUID

	Buffers         []SizedResource
	Samplers        []Resource
	Images          []Resource
	ImageViews      []Resource
	Framebuffers    []Resource
	AccelStructs    []Resource
	DescriptorPools []Resource
	DescriptorSets  []Resource
	CommandBuffers  []*CommandBuffer

	// Bytes held by Buffers.
	TotalSize uint64
}

func NewDeleteList() *DeleteList {
	return &DeleteList{ID: uuid.New()}
}

func (dl *DeleteList) AddBuffer(obj SizedResource) {
	dl.TotalSize += obj.Size()
	dl.Buffers = append(dl.Buffers, obj)
}

func (dl *DeleteList) AddSampler(obj Resource)     { dl.Samplers = append(dl.Samplers, obj) }
func (dl *DeleteList) AddImage(obj Resource)       { dl.Images = append(dl.Images, obj) }
func (dl *DeleteList) AddImageView(obj Resource)   { dl.ImageViews = append(dl.ImageViews, obj) }
func (dl *DeleteList) AddFramebuffer(obj Resource) { dl.Framebuffers = append(dl.Framebuffers, obj) }
func (dl *DeleteList) AddAccelStruct(obj Resource) { dl.AccelStructs = append(dl.AccelStructs, obj) }
func (dl *DeleteList) AddDescriptorPool(obj Resource) {
	dl.DescriptorPools = append(dl.DescriptorPools, obj)
}
func (dl *DeleteList) AddDescriptorSet(obj Resource) {
	dl.DescriptorSets = append(dl.DescriptorSets, obj)
}
func (dl *DeleteList) AddCommandBuffer(obj *CommandBuffer) {
	dl.CommandBuffers = append(dl.CommandBuffers, obj)
}

func (dl *DeleteList) Len() int {
	return len(dl.Buffers) + len(dl.Samplers) + len(dl.Images) + len(dl.ImageViews) +
		len(dl.Framebuffers) + len(dl.AccelStructs) + len(dl.DescriptorPools) +
		len(dl.DescriptorSets) + len(dl.CommandBuffers)
}

func (dl *DeleteList) Empty() bool {
	return dl.Len() == 0
}

// Destroy releases everything the list owns and leaves it empty for reuse.
// Users go before what they use: command buffers first, descriptor sets
// before their pools, framebuffers before views before images, acceleration
// structures before the buffers backing them.
func (dl *DeleteList) Destroy() {
	if dl.Empty() {
		return
	}
	core.LogDebug("destroying delete list %s: %d objects, %d buffer bytes", dl.ID, dl.Len(), dl.TotalSize)

	for _, cb := range dl.CommandBuffers {
		cb.Destroy()
	}
	dl.CommandBuffers = dl.CommandBuffers[:0]

	destroyAll(&dl.DescriptorSets)
	destroyAll(&dl.DescriptorPools)
	destroyAll(&dl.Framebuffers)
	destroyAll(&dl.ImageViews)
	destroyAll(&dl.Images)
	destroyAll(&dl.Samplers)
	destroyAll(&dl.AccelStructs)

	for i, b := range dl.Buffers {
		b.Destroy()
		dl.Buffers[i] = nil
	}
	dl.Buffers = dl.Buffers[:0]
	dl.TotalSize = 0
}

func destroyAll(list *[]Resource) {
	for i, obj := range *list {
		obj.Destroy()
		(*list)[i] = nil
	}
	*list = (*list)[:0]
}
