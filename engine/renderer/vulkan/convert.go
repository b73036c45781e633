package vulkan

import (
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

var formats = map[hal.Format]vk.Format{
	hal.FormatRGBA8Unorm:  vk.FormatR8g8b8a8Unorm,
	hal.FormatBGRA8Unorm:  vk.FormatB8g8r8a8Unorm,
	hal.FormatR8Unorm:     vk.FormatR8Unorm,
	hal.FormatRGBA16Float: vk.FormatR16g16b16a16Sfloat,
}

func vkFormat(f hal.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func halFormat(f vk.Format) hal.Format {
	for h, v := range formats {
		if v == f {
			return h
		}
	}
	return hal.FormatUndefined
}

func vkLayout(l hal.Layout) vk.ImageLayout {
	switch l {
	case hal.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case hal.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case hal.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case hal.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case hal.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case hal.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

var stageBits = []struct {
	hal hal.PipelineStage
	vk  vk.PipelineStageFlagBits
}{
	{hal.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{hal.StageTransfer, vk.PipelineStageTransferBit},
	{hal.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{hal.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{hal.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{hal.StageHost, vk.PipelineStageHostBit},
	{hal.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
}

func vkStages(s hal.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	for _, b := range stageBits {
		if s&b.hal != 0 {
			out |= vk.PipelineStageFlags(b.vk)
		}
	}
	if out == 0 {
		out = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return out
}

var accessBits = []struct {
	hal hal.Access
	vk  vk.AccessFlagBits
}{
	{hal.AccessTransferRead, vk.AccessTransferReadBit},
	{hal.AccessTransferWrite, vk.AccessTransferWriteBit},
	{hal.AccessShaderRead, vk.AccessShaderReadBit},
	{hal.AccessShaderWrite, vk.AccessShaderWriteBit},
	{hal.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{hal.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{hal.AccessHostRead, vk.AccessHostReadBit},
	{hal.AccessHostWrite, vk.AccessHostWriteBit},
	{hal.AccessMemoryRead, vk.AccessMemoryReadBit},
}

func vkAccess(a hal.Access) vk.AccessFlags {
	var out vk.AccessFlags
	for _, b := range accessBits {
		if a&b.hal != 0 {
			out |= vk.AccessFlags(b.vk)
		}
	}
	return out
}

func vkBufferUsage(u hal.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&hal.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&hal.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&hal.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&hal.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&hal.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&hal.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	return vk.BufferUsageFlags(out)
}

func vkImageUsage(u hal.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&hal.ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&hal.ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	if u&hal.ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&hal.ImageUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&hal.ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	return vk.ImageUsageFlags(out)
}

func vkMemoryProperties(p hal.MemoryProperty) uint32 {
	var out vk.MemoryPropertyFlagBits
	if p&hal.MemoryDeviceLocal != 0 {
		out |= vk.MemoryPropertyDeviceLocalBit
	}
	if p&hal.MemoryHostVisible != 0 {
		out |= vk.MemoryPropertyHostVisibleBit
	}
	if p&hal.MemoryHostCoherent != 0 {
		out |= vk.MemoryPropertyHostCoherentBit
	}
	if p&hal.MemoryHostCached != 0 {
		out |= vk.MemoryPropertyHostCachedBit
	}
	return uint32(out)
}

func vkLoadOp(op hal.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case hal.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case hal.LoadOpClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

// vkTimeout converts a wait timeout to nanoseconds. hal.InfiniteTimeout
// maps to UINT64_MAX, which drivers treat as "wait forever".
func vkTimeout(d time.Duration) uint64 {
	if d == hal.InfiniteTimeout || d < 0 {
		return math.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

func vkExtent(e hal.Extent) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

var colorSubresource = vk.ImageSubresourceRange{
	AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

func vkBufferImageCopies(regions []hal.BufferImageCopy) []vk.BufferImageCopy {
	out := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		out[i] = vk.BufferImageCopy{
			BufferOffset:      vk.DeviceSize(r.BufferOffset),
			BufferRowLength:   r.RowLength,
			BufferImageHeight: r.ImageHeight,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: vk.Offset3D{X: r.ImageOffset.X, Y: r.ImageOffset.Y, Z: 0},
			ImageExtent: vk.Extent3D{Width: r.ImageExtent.Width, Height: r.ImageExtent.Height, Depth: 1},
		}
	}
	return out
}
