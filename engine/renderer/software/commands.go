package software

import (
	"fmt"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
	// One-time-submit buffers end up here after execution.
	cbInvalid
)

func (s cbState) String() string {
	return [...]string{"initial", "recording", "executable", "pending", "invalid"}[s]
}

// command runs on the device with d.mu held.
type command func(d *Device)

type commandPool struct {
	buffers []hal.CommandBuffer
}

type commandBuffer struct {
	pool    hal.CommandPool
	state   cbState
	oneTime bool
	// Submissions not yet retired. Reusable buffers may be resubmitted
	// while pending.
	inFlight     int
	commands     []command
	inRenderPass bool
	// Framebuffer of the open render pass, resolved at record time.
	framebuffer hal.Framebuffer
	pass        hal.RenderPass
}

func (d *Device) CreateCommandPool() (hal.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateCommandPool); err != nil {
		return 0, err
	}
	p := hal.CommandPool(d.newHandle(kindCommandPool))
	d.pools[p] = &commandPool{}
	d.logCall(Call{Op: OpCreateCommandPool, Handle: uint64(p)})
	return p, nil
}

// DestroyCommandPool frees every buffer allocated from p.
func (d *Device) DestroyCommandPool(p hal.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.release(uint64(p), kindCommandPool) {
		return
	}
	for _, cb := range d.pools[p].buffers {
		if d.cmdBuffers[cb].state == cbPending {
			d.violation("command pool %d destroyed while command buffer %d is pending", p, cb)
		}
		d.objects[uint64(cb)].refs = 0
		d.stats.Destroyed++
		delete(d.cmdBuffers, cb)
	}
	delete(d.pools, p)
}

func (d *Device) ResetCommandPool(p hal.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.PoolResets++
	d.logCall(Call{Op: OpResetCommandPool, Handle: uint64(p)})
	if err := d.fault(OpResetCommandPool); err != nil {
		return err
	}
	pool, ok := d.pools[p]
	if !ok {
		d.violation("resetting unknown command pool %d", p)
		return fmt.Errorf("command pool %d: %w", p, core.ErrInvalidHandle)
	}
	for _, h := range pool.buffers {
		cb := d.cmdBuffers[h]
		if cb.state == cbPending {
			d.violation("command pool %d reset while command buffer %d is pending", p, h)
		}
		cb.state = cbInitial
		cb.commands = nil
		cb.inRenderPass = false
	}
	return nil
}

func (d *Device) AllocateCommandBuffer(p hal.CommandPool) (hal.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpAllocateCommandBuffer); err != nil {
		return 0, err
	}
	pool, ok := d.pools[p]
	if !ok {
		return 0, fmt.Errorf("command pool %d: %w", p, core.ErrInvalidHandle)
	}
	cb := hal.CommandBuffer(d.newHandle(kindCommandBuffer))
	d.cmdBuffers[cb] = &commandBuffer{pool: p}
	pool.buffers = append(pool.buffers, cb)
	d.logCall(Call{Op: OpAllocateCommandBuffer, Handle: uint64(cb)})
	return cb, nil
}

func (d *Device) BeginRecording(h hal.CommandBuffer, oneTimeSubmit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logCall(Call{Op: OpBegin, Handle: uint64(h)})
	if err := d.fault(OpBegin); err != nil {
		return err
	}
	cb, ok := d.cmdBuffers[h]
	if !ok {
		return fmt.Errorf("command buffer %d: %w", h, core.ErrInvalidHandle)
	}
	switch cb.state {
	case cbInitial:
	case cbRecording:
		return fmt.Errorf("begin command buffer %d: %w", h, core.ErrStillRecording)
	default:
		d.violation("begin on command buffer %d in state %s", h, cb.state)
		return fmt.Errorf("command buffer %d is %s, reset its pool first", h, cb.state)
	}
	cb.state = cbRecording
	cb.oneTime = oneTimeSubmit
	cb.commands = cb.commands[:0]
	return nil
}

func (d *Device) EndRecording(h hal.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logCall(Call{Op: OpEnd, Handle: uint64(h)})
	cb, ok := d.cmdBuffers[h]
	if !ok {
		return fmt.Errorf("command buffer %d: %w", h, core.ErrInvalidHandle)
	}
	if cb.state != cbRecording {
		return fmt.Errorf("end command buffer %d: %w", h, core.ErrNotRecording)
	}
	if cb.inRenderPass {
		d.violation("command buffer %d ended inside a render pass", h)
	}
	cb.state = cbExecutable
	return nil
}

// record appends cmd to h. Recording into a buffer that is not recording
// is a programming error and is reported as a violation.
func (d *Device) record(h hal.CommandBuffer, name string, cmd command) *commandBuffer {
	cb, ok := d.cmdBuffers[h]
	if !ok || cb.state != cbRecording {
		d.violation("%s recorded into command buffer %d which is not recording", name, h)
		return nil
	}
	cb.commands = append(cb.commands, cmd)
	return cb
}

func (d *Device) PipelineBarrier(h hal.CommandBuffer, src, dst hal.PipelineStage, images []hal.ImageBarrier, buffers []hal.BufferBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	images = append([]hal.ImageBarrier(nil), images...)
	d.record(h, "pipeline barrier", func(d *Device) {
		for _, b := range images {
			img, ok := d.images[b.Image]
			if !ok {
				d.violation("barrier on unknown image %d", b.Image)
				continue
			}
			if b.From.Layout != hal.LayoutUndefined && img.layout != b.From.Layout {
				d.violation("barrier expects image %d in layout %s, it is in %s", b.Image, b.From.Layout, img.layout)
			}
			img.layout = b.To.Layout
		}
	})
}

func (d *Device) CopyBuffer(h hal.CommandBuffer, src, dst hal.Buffer, regions ...hal.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regions = append([]hal.BufferCopy(nil), regions...)
	d.record(h, "copy buffer", func(d *Device) {
		s, sok := d.bufferData(src)
		t, tok := d.bufferData(dst)
		if !sok || !tok {
			return
		}
		for _, r := range regions {
			if r.Src+r.Size > uint64(len(s)) || r.Dst+r.Size > uint64(len(t)) {
				d.violation("buffer copy %+v out of bounds", r)
				continue
			}
			copy(t[r.Dst:r.Dst+r.Size], s[r.Src:r.Src+r.Size])
		}
	})
}

func (d *Device) CopyBufferToImage(h hal.CommandBuffer, src hal.Buffer, dst hal.Image, layout hal.Layout, regions ...hal.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regions = append([]hal.BufferImageCopy(nil), regions...)
	d.record(h, "copy buffer to image", func(d *Device) {
		buf, ok := d.bufferData(src)
		img := d.checkImageLayout(dst, layout, hal.LayoutTransferDst)
		if !ok || img == nil {
			return
		}
		for _, r := range regions {
			d.copyRegion(img, buf, r, true)
		}
	})
}

func (d *Device) CopyImageToBuffer(h hal.CommandBuffer, src hal.Image, layout hal.Layout, dst hal.Buffer, regions ...hal.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regions = append([]hal.BufferImageCopy(nil), regions...)
	d.record(h, "copy image to buffer", func(d *Device) {
		buf, ok := d.bufferData(dst)
		img := d.checkImageLayout(src, layout, hal.LayoutTransferSrc)
		if !ok || img == nil {
			return
		}
		for _, r := range regions {
			d.copyRegion(img, buf, r, false)
		}
	})
}

func (d *Device) ClearColorImage(h hal.CommandBuffer, dst hal.Image, layout hal.Layout, color hal.ClearColor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(h, "clear color image", func(d *Device) {
		if img := d.checkImageLayout(dst, layout, hal.LayoutTransferDst); img != nil {
			img.fill(color)
		}
	})
}

func (d *Device) BeginRenderPass(h hal.CommandBuffer, begin hal.RenderPassBegin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.record(h, "begin render pass", func(d *Device) {
		fb, ok := d.framebuffers[begin.Framebuffer]
		if !ok {
			d.violation("render pass on unknown framebuffer %d", begin.Framebuffer)
			return
		}
		desc := d.renderPasses[begin.Pass]
		for i, v := range fb.views {
			img := d.images[d.views[v]]
			if img == nil || i >= len(desc.Attachments) {
				continue
			}
			a := desc.Attachments[i]
			if a.InitialLayout != hal.LayoutUndefined && img.layout != a.InitialLayout {
				d.violation("render pass expects attachment %d in layout %s, it is in %s", i, a.InitialLayout, img.layout)
			}
			if a.Load == hal.LoadOpClear && i < len(begin.ClearColors) {
				img.fill(begin.ClearColors[i])
			}
			img.layout = hal.LayoutColorAttachment
		}
	})
	if cb == nil {
		return
	}
	if cb.inRenderPass {
		d.violation("render pass begun twice in command buffer %d", h)
	}
	cb.inRenderPass = true
	cb.framebuffer = begin.Framebuffer
	cb.pass = begin.Pass
}

func (d *Device) EndRenderPass(h hal.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cmdBuffers[h]
	if !ok || !cb.inRenderPass {
		d.violation("end render pass without a matching begin in command buffer %d", h)
		return
	}
	fbHandle, pass := cb.framebuffer, cb.pass
	d.record(h, "end render pass", func(d *Device) {
		fb, ok := d.framebuffers[fbHandle]
		if !ok {
			return
		}
		desc := d.renderPasses[pass]
		for i, v := range fb.views {
			if img := d.images[d.views[v]]; img != nil && i < len(desc.Attachments) {
				img.layout = desc.Attachments[i].FinalLayout
			}
		}
	})
	cb.inRenderPass = false
}

func (d *Device) checkImageLayout(h hal.Image, layout, want hal.Layout) *image {
	img, ok := d.images[h]
	if !ok {
		d.violation("unknown image %d", h)
		return nil
	}
	if layout != want && layout != hal.LayoutGeneral {
		d.violation("image %d used in layout %s, want %s", h, layout, want)
	}
	if img.layout != layout {
		d.violation("image %d is in layout %s, command says %s", h, img.layout, layout)
	}
	return img
}
