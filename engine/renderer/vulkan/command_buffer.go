package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
)

type commandPool struct {
	Handle  vk.CommandPool
	buffers []hal.CommandBuffer
}

type commandBuffer struct {
	Handle vk.CommandBuffer
	pool   hal.CommandPool
	State  VulkanCommandBufferState
}

func (d *Device) CreateCommandPool() (hal.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.QueueFamilyIndex,
	}
	var handle vk.CommandPool
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.inst.Allocator, &handle)); err != nil {
		return 0, err
	}
	return hal.CommandPool(d.pools.add(&commandPool{Handle: handle})), nil
}

// DestroyCommandPool also frees every buffer allocated from the pool.
func (d *Device) DestroyCommandPool(h hal.CommandPool) {
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		p, ok := d.pools.remove(uint64(h))
		if !ok {
			return nil
		}
		for _, cb := range p.buffers {
			d.cmdBuffers.remove(uint64(cb))
		}
		vk.DestroyCommandPool(d.LogicalDevice, p.Handle, d.inst.Allocator)
		return nil
	})
}

func (d *Device) ResetCommandPool(h hal.CommandPool) error {
	return d.locks.SafeCall(CommandPoolManagement, func() error {
		p, err := d.pools.lookup("command pool", uint64(h))
		if err != nil {
			return err
		}
		if err := resultError("vkResetCommandPool", vk.ResetCommandPool(d.LogicalDevice, p.Handle, 0)); err != nil {
			return err
		}
		for _, h := range p.buffers {
			if cb, ok := d.cmdBuffers.get(uint64(h)); ok {
				cb.State = COMMAND_BUFFER_STATE_READY
			}
		}
		return nil
	})
}

func (d *Device) AllocateCommandBuffer(h hal.CommandPool) (hal.CommandBuffer, error) {
	var out hal.CommandBuffer
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		p, err := d.pools.lookup("command pool", uint64(h))
		if err != nil {
			return err
		}
		allocateInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        p.Handle,
			CommandBufferCount: 1,
			Level:              vk.CommandBufferLevelPrimary,
		}
		handles := make([]vk.CommandBuffer, 1)
		if err := resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles)); err != nil {
			return err
		}
		out = hal.CommandBuffer(d.cmdBuffers.add(&commandBuffer{Handle: handles[0], pool: h}))
		p.buffers = append(p.buffers, out)
		return nil
	})
	return out, err
}

// BeginRecording starts recording h. Buffers that are not one-time-submit
// are begun with SIMULTANEOUS_USE so they can be resubmitted while a
// previous submission is still pending.
func (d *Device) BeginRecording(h hal.CommandBuffer, oneTimeSubmit bool) error {
	cb, err := d.cmdBuffers.lookup("command buffer", uint64(h))
	if err != nil {
		return err
	}
	if cb.State == COMMAND_BUFFER_STATE_RECORDING || cb.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("begin command buffer %d: %w", h, core.ErrStillRecording)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	} else {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb.Handle, beginInfo)); err != nil {
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (d *Device) EndRecording(h hal.CommandBuffer) error {
	cb, err := d.cmdBuffers.lookup("command buffer", uint64(h))
	if err != nil {
		return err
	}
	switch cb.State {
	case COMMAND_BUFFER_STATE_RECORDING:
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return fmt.Errorf("end command buffer %d inside a render pass: %w", h, core.ErrStillRecording)
	default:
		return fmt.Errorf("end command buffer %d: %w", h, core.ErrNotRecording)
	}
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(cb.Handle)); err != nil {
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// recording returns the native buffer of h if it is recording. Commands
// recorded into anything else are dropped with an error log.
func (d *Device) recording(h hal.CommandBuffer, name string) (*commandBuffer, bool) {
	cb, ok := d.cmdBuffers.get(uint64(h))
	if !ok || (cb.State != COMMAND_BUFFER_STATE_RECORDING && cb.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS) {
		core.LogError("%s recorded into command buffer %d which is not recording", name, h)
		return nil, false
	}
	return cb, true
}

func (d *Device) PipelineBarrier(h hal.CommandBuffer, src, dst hal.PipelineStage, images []hal.ImageBarrier, buffers []hal.BufferBarrier) {
	cb, ok := d.recording(h, "pipeline barrier")
	if !ok {
		return
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(images))
	for _, b := range images {
		img, ok := d.images.get(uint64(b.Image))
		if !ok {
			core.LogError("barrier on unknown image %d", b.Image)
			continue
		}
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vkAccess(b.From.Access),
			DstAccessMask:       vkAccess(b.To.Access),
			OldLayout:           vkLayout(b.From.Layout),
			NewLayout:           vkLayout(b.To.Layout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    colorSubresource,
		})
	}
	bufferBarriers := make([]vk.BufferMemoryBarrier, 0, len(buffers))
	for _, b := range buffers {
		buf, ok := d.buffers.get(uint64(b.Buffer))
		if !ok {
			core.LogError("barrier on unknown buffer %d", b.Buffer)
			continue
		}
		bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vkAccess(b.From),
			DstAccessMask:       vkAccess(b.To),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf.Handle,
			Offset:              0,
			Size:                vk.DeviceSize(hal.WholeSize),
		})
	}
	vk.CmdPipelineBarrier(cb.Handle, vkStages(src), vkStages(dst), 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (d *Device) CopyBuffer(h hal.CommandBuffer, src, dst hal.Buffer, regions ...hal.BufferCopy) {
	cb, ok := d.recording(h, "copy buffer")
	if !ok {
		return
	}
	s, serr := d.buffers.lookup("buffer", uint64(src))
	t, terr := d.buffers.lookup("buffer", uint64(dst))
	if serr != nil || terr != nil {
		core.LogError("copy buffer %d -> %d: unknown buffer", src, dst)
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.Src),
			DstOffset: vk.DeviceSize(r.Dst),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(cb.Handle, s.Handle, t.Handle, uint32(len(copies)), copies)
}

func (d *Device) CopyBufferToImage(h hal.CommandBuffer, src hal.Buffer, dst hal.Image, layout hal.Layout, regions ...hal.BufferImageCopy) {
	cb, ok := d.recording(h, "copy buffer to image")
	if !ok {
		return
	}
	buf, berr := d.buffers.lookup("buffer", uint64(src))
	img, ierr := d.images.lookup("image", uint64(dst))
	if berr != nil || ierr != nil {
		core.LogError("copy buffer %d -> image %d: unknown handle", src, dst)
		return
	}
	copies := vkBufferImageCopies(regions)
	vk.CmdCopyBufferToImage(cb.Handle, buf.Handle, img.Handle, vkLayout(layout), uint32(len(copies)), copies)
}

func (d *Device) CopyImageToBuffer(h hal.CommandBuffer, src hal.Image, layout hal.Layout, dst hal.Buffer, regions ...hal.BufferImageCopy) {
	cb, ok := d.recording(h, "copy image to buffer")
	if !ok {
		return
	}
	img, ierr := d.images.lookup("image", uint64(src))
	buf, berr := d.buffers.lookup("buffer", uint64(dst))
	if berr != nil || ierr != nil {
		core.LogError("copy image %d -> buffer %d: unknown handle", src, dst)
		return
	}
	copies := vkBufferImageCopies(regions)
	vk.CmdCopyImageToBuffer(cb.Handle, img.Handle, vkLayout(layout), buf.Handle, uint32(len(copies)), copies)
}

func (d *Device) ClearColorImage(h hal.CommandBuffer, dst hal.Image, layout hal.Layout, color hal.ClearColor) {
	cb, ok := d.recording(h, "clear color image")
	if !ok {
		return
	}
	img, err := d.images.lookup("image", uint64(dst))
	if err != nil {
		core.LogError("clear color image: %s", err)
		return
	}
	// VkClearColorValue is a union; the float32 member covers it exactly.
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vk.CmdClearColorImage(cb.Handle, img.Handle, vkLayout(layout), &value, 1, []vk.ImageSubresourceRange{colorSubresource})
}
