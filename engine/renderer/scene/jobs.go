package scene

import (
	"fmt"

	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// stateTracker follows the resources a job touches so it can insert only
// the barriers it needs and return everything to its stable state at the
// end.
type stateTracker struct {
	s       *Scene
	buffers map[string]hal.Access
	images  map[string]hal.ImageState
}

func newStateTracker(s *Scene) *stateTracker {
	return &stateTracker{s: s, buffers: map[string]hal.Access{}, images: map[string]hal.ImageState{}}
}

func (t *stateTracker) buffer(name string, to hal.Access) []hal.BufferBarrier {
	b := t.s.Buffers[name]
	from, ok := t.buffers[name]
	if !ok {
		from = b.Stable
	}
	t.buffers[name] = to
	if from == to {
		return nil
	}
	return []hal.BufferBarrier{{Buffer: b.Handle, From: from, To: to}}
}

func (t *stateTracker) image(name string, to hal.ImageState) []hal.ImageBarrier {
	img := t.s.Images[name]
	from, ok := t.images[name]
	if !ok {
		from = img.Stable
	}
	t.images[name] = to
	if from == to {
		return nil
	}
	return []hal.ImageBarrier{{Image: img.Handle, From: from, To: to}}
}

func (t *stateTracker) restore(cb hal.CommandBuffer) {
	var bb []hal.BufferBarrier
	for _, name := range sortedNames(t.buffers) {
		if b := t.s.Buffers[name]; t.buffers[name] != b.Stable {
			bb = append(bb, hal.BufferBarrier{Buffer: b.Handle, From: t.buffers[name], To: b.Stable})
		}
	}
	var ib []hal.ImageBarrier
	for _, name := range sortedNames(t.images) {
		if img := t.s.Images[name]; t.images[name] != img.Stable {
			ib = append(ib, hal.ImageBarrier{Image: img.Handle, From: t.images[name], To: img.Stable})
		}
	}
	if len(bb) > 0 || len(ib) > 0 {
		t.s.dev.PipelineBarrier(cb, hal.StageTransfer, hal.StageFragmentShader|hal.StageColorAttachmentOutput, ib, bb)
	}
}

var (
	transferSrc = hal.ImageState{Access: hal.AccessTransferRead, Layout: hal.LayoutTransferSrc}
	transferDst = hal.ImageState{Access: hal.AccessTransferWrite, Layout: hal.LayoutTransferDst}
)

// recordJob records a job into its own reusable command buffer.
func (s *Scene) recordJob(name string, spec JobSpec) error {
	dev := s.dev
	cb, err := dev.AllocateCommandBuffer(s.pool)
	if err != nil {
		return err
	}
	if err := dev.BeginRecording(cb, false); err != nil {
		return err
	}
	if spec.Graphics != nil {
		err = s.recordGraphics(cb, spec.Graphics)
	} else {
		t := newStateTracker(s)
		for i, cmd := range spec.Transfer {
			if err = s.recordTransfer(cb, t, cmd); err != nil {
				err = fmt.Errorf("command %d: %w", i, err)
				break
			}
		}
		t.restore(cb)
	}
	if endErr := dev.EndRecording(cb); err == nil {
		err = endErr
	}
	if err != nil {
		return err
	}
	s.jobs[name] = cb
	return nil
}

func (s *Scene) recordTransfer(cb hal.CommandBuffer, t *stateTracker, cmd TransferSpec) error {
	dev := s.dev
	switch cmd.Op {
	case OpCopyBuffer:
		src, dst := s.Buffers[cmd.Src], s.Buffers[cmd.Dst]
		if src == nil || dst == nil {
			return fmt.Errorf("copy between unknown buffers %q and %q", cmd.Src, cmd.Dst)
		}
		size := cmd.Size
		if size == 0 {
			size = src.Size - cmd.SrcOffset
		}
		if cmd.SrcOffset+size > src.Size || cmd.DstOffset+size > dst.Size {
			return fmt.Errorf("copy of %d bytes out of bounds", size)
		}
		bb := append(t.buffer(cmd.Src, hal.AccessTransferRead), t.buffer(cmd.Dst, hal.AccessTransferWrite)...)
		dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, nil, bb)
		dev.CopyBuffer(cb, src.Handle, dst.Handle, hal.BufferCopy{Src: cmd.SrcOffset, Dst: cmd.DstOffset, Size: size})

	case OpCopyBufferToImage:
		src, dst := s.Buffers[cmd.Src], s.Images[cmd.Dst]
		if src == nil || dst == nil {
			return fmt.Errorf("copy from unknown buffer %q to image %q", cmd.Src, cmd.Dst)
		}
		dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, t.image(cmd.Dst, transferDst), t.buffer(cmd.Src, hal.AccessTransferRead))
		dev.CopyBufferToImage(cb, src.Handle, dst.Handle, hal.LayoutTransferDst, hal.BufferImageCopy{
			BufferOffset: cmd.SrcOffset,
			RowLength:    cmd.RowLength,
			ImageExtent:  dst.Desc.Extent,
		})

	case OpCopyImageToBuffer:
		src, dst := s.Images[cmd.Src], s.Buffers[cmd.Dst]
		if src == nil || dst == nil {
			return fmt.Errorf("copy from unknown image %q to buffer %q", cmd.Src, cmd.Dst)
		}
		dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, t.image(cmd.Src, transferSrc), t.buffer(cmd.Dst, hal.AccessTransferWrite))
		dev.CopyImageToBuffer(cb, src.Handle, hal.LayoutTransferSrc, dst.Handle, hal.BufferImageCopy{
			BufferOffset: cmd.DstOffset,
			RowLength:    cmd.RowLength,
			ImageExtent:  src.Desc.Extent,
		})

	case OpClearImage:
		img := s.Images[cmd.Dst]
		if img == nil {
			return fmt.Errorf("clear of unknown image %q", cmd.Dst)
		}
		dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, t.image(cmd.Dst, transferDst), nil)
		dev.ClearColorImage(cb, img.Handle, hal.LayoutTransferDst, clearColor(cmd.Color))

	default:
		return fmt.Errorf("unknown transfer op %q", cmd.Op)
	}
	return nil
}

func (s *Scene) recordGraphics(cb hal.CommandBuffer, spec *GraphicsSpec) error {
	dev := s.dev
	fb := s.Framebuffers[spec.Framebuffer]
	if fb == nil {
		return fmt.Errorf("unknown framebuffer %q", spec.Framebuffer)
	}
	rp := s.RenderPasses[fb.Pass]

	var pre, post []hal.ImageBarrier
	for i, name := range fb.Images {
		img := s.Images[name]
		a := rp.Desc.Attachments[i]
		start := hal.ImageState{Access: hal.AccessColorAttachmentWrite, Layout: a.InitialLayout}
		if start.Layout == hal.LayoutUndefined {
			start.Layout = hal.LayoutColorAttachment
		}
		if start != img.Stable {
			pre = append(pre, hal.ImageBarrier{Image: img.Handle, From: img.Stable, To: start})
		}
		end := hal.ImageState{Access: hal.AccessColorAttachmentWrite, Layout: a.FinalLayout}
		if end != img.Stable {
			post = append(post, hal.ImageBarrier{Image: img.Handle, From: end, To: img.Stable})
		}
	}
	if len(pre) > 0 {
		dev.PipelineBarrier(cb, hal.StageColorAttachmentOutput, hal.StageColorAttachmentOutput, pre, nil)
	}
	begin := hal.RenderPassBegin{Pass: rp.Handle, Framebuffer: fb.Handle, Area: fb.Extent}
	for _, c := range spec.ClearColors {
		begin.ClearColors = append(begin.ClearColors, clearColor(c))
	}
	dev.BeginRenderPass(cb, begin)
	dev.EndRenderPass(cb)
	if len(post) > 0 {
		dev.PipelineBarrier(cb, hal.StageColorAttachmentOutput, hal.StageFragmentShader, post, nil)
	}
	return nil
}
