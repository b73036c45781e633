package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type image struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	desc   hal.ImageDesc
	// Swapchain images are owned by the swapchain.
	presentable bool
}

type imageView struct {
	Handle vk.ImageView
	image  hal.Image
}

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined || desc.Extent.IsZero() {
		return 0, fmt.Errorf("invalid image %s %s", desc.Format, desc.Extent)
	}
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	out := &image{desc: desc}
	if err := resultError("vkCreateImage", vk.CreateImage(d.LogicalDevice, &imageCreateInfo, d.inst.Allocator, &out.Handle)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, out.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := d.FindMemoryIndex(memoryRequirements.MemoryTypeBits, vkMemoryProperties(hal.MemoryDeviceLocal))
	if memoryType == -1 {
		vk.DestroyImage(d.LogicalDevice, out.Handle, d.inst.Allocator)
		return 0, fmt.Errorf("required memory type not found, image not valid: %w", core.ErrOutOfDeviceMemory)
	}

	memoryAllocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := resultError("vkAllocateMemory", vk.AllocateMemory(d.LogicalDevice, &memoryAllocateInfo, d.inst.Allocator, &out.Memory)); err != nil {
		vk.DestroyImage(d.LogicalDevice, out.Handle, d.inst.Allocator)
		return 0, err
	}
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(d.LogicalDevice, out.Handle, out.Memory, 0)); err != nil {
		vk.FreeMemory(d.LogicalDevice, out.Memory, d.inst.Allocator)
		vk.DestroyImage(d.LogicalDevice, out.Handle, d.inst.Allocator)
		return 0, err
	}
	return hal.Image(d.images.add(out)), nil
}

func (d *Device) DestroyImage(h hal.Image) {
	img, ok := d.images.get(uint64(h))
	if !ok {
		return
	}
	if img.presentable {
		core.LogError("image %d belongs to a swapchain and cannot be destroyed", h)
		return
	}
	d.images.remove(uint64(h))
	vk.DestroyImage(d.LogicalDevice, img.Handle, d.inst.Allocator)
	vk.FreeMemory(d.LogicalDevice, img.Memory, d.inst.Allocator)
}

func (d *Device) CreateImageView(h hal.Image) (hal.ImageView, error) {
	img, err := d.images.lookup("image", uint64(h))
	if err != nil {
		return 0, err
	}
	return d.createView(h, img.Handle, vkFormat(img.desc.Format))
}

func (d *Device) createView(h hal.Image, handle vk.Image, format vk.Format) (hal.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            handle,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		SubresourceRange: colorSubresource,
	}
	out := &imageView{image: h}
	if err := resultError("vkCreateImageView", vk.CreateImageView(d.LogicalDevice, &viewInfo, d.inst.Allocator, &out.Handle)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return hal.ImageView(d.views.add(out)), nil
}

func (d *Device) DestroyImageView(h hal.ImageView) {
	if v, ok := d.views.remove(uint64(h)); ok {
		vk.DestroyImageView(d.LogicalDevice, v.Handle, d.inst.Allocator)
	}
}
