package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type renderPass struct {
	Handle vk.RenderPass
	desc   hal.RenderPassDesc
}

// CreateRenderPass builds a single subpass render pass that writes every
// attachment as a color attachment.
func (d *Device) CreateRenderPass(desc hal.RenderPassDesc) (hal.RenderPass, error) {
	if len(desc.Attachments) == 0 {
		return 0, fmt.Errorf("render pass without attachments")
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, len(desc.Attachments))
	colorAttachmentReferences := make([]vk.AttachmentReference, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachmentDescriptions[i] = vk.AttachmentDescription{
			Format:         vkFormat(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vkLoadOp(a.Load),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vkLayout(a.InitialLayout),
			FinalLayout:    vkLayout(a.FinalLayout),
		}
		colorAttachmentReferences[i] = vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentReferences)),
		PColorAttachments:    colorAttachmentReferences,
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if err := resultError("vkCreateRenderPass", vk.CreateRenderPass(d.LogicalDevice, &renderpassCreateInfo, d.inst.Allocator, &handle)); err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	rp := &renderPass{Handle: handle, desc: hal.RenderPassDesc{
		Attachments: append([]hal.AttachmentDesc(nil), desc.Attachments...),
	}}
	return hal.RenderPass(d.renderPasses.add(rp)), nil
}

func (d *Device) DestroyRenderPass(h hal.RenderPass) {
	if rp, ok := d.renderPasses.remove(uint64(h)); ok {
		vk.DestroyRenderPass(d.LogicalDevice, rp.Handle, d.inst.Allocator)
	}
}

func (d *Device) BeginRenderPass(h hal.CommandBuffer, begin hal.RenderPassBegin) {
	cb, ok := d.recording(h, "begin render pass")
	if !ok {
		return
	}
	rp, rerr := d.renderPasses.lookup("render pass", uint64(begin.Pass))
	fb, ferr := d.framebuffers.lookup("framebuffer", uint64(begin.Framebuffer))
	if rerr != nil || ferr != nil {
		core.LogError("begin render pass: unknown render pass %d or framebuffer %d", begin.Pass, begin.Framebuffer)
		return
	}

	area := begin.Area
	if area.IsZero() {
		area = fb.extent
	}
	clearValues := make([]vk.ClearValue, len(rp.desc.Attachments))
	for i := range clearValues {
		if i < len(begin.ClearColors) {
			c := begin.ClearColors[i]
			clearValues[i].SetColor(c[:])
		}
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vkExtent(area),
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (d *Device) EndRenderPass(h hal.CommandBuffer) {
	cb, ok := d.cmdBuffers.get(uint64(h))
	if !ok || cb.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogError("end render pass without a matching begin in command buffer %d", h)
		return
	}
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
}
