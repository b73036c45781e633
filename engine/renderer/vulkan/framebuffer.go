package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type framebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	extent      hal.Extent
}

func (d *Device) CreateFramebuffer(rp hal.RenderPass, views []hal.ImageView, extent hal.Extent) (hal.Framebuffer, error) {
	pass, err := d.renderPasses.lookup("render pass", uint64(rp))
	if err != nil {
		return 0, err
	}
	out := &framebuffer{
		Attachments: make([]vk.ImageView, len(views)),
		extent:      extent,
	}
	for i, v := range views {
		view, err := d.views.lookup("image view", uint64(v))
		if err != nil {
			return 0, err
		}
		out.Attachments[i] = view.Handle
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.Handle,
		AttachmentCount: uint32(len(out.Attachments)),
		PAttachments:    out.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	if err := resultError("vkCreateFramebuffer", vk.CreateFramebuffer(d.LogicalDevice, &framebufferCreateInfo, d.inst.Allocator, &out.Handle)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	return hal.Framebuffer(d.framebuffers.add(out)), nil
}

func (d *Device) DestroyFramebuffer(h hal.Framebuffer) {
	if fb, ok := d.framebuffers.remove(uint64(h)); ok {
		vk.DestroyFramebuffer(d.LogicalDevice, fb.Handle, d.inst.Allocator)
	}
}
