package scene

import (
	"fmt"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// FetchGuard is a host-visible copy of a scene resource. Rows are laid out
// at RowPitch; Row strips the padding. The copy stays mapped until Close.
type FetchGuard struct {
	dev      hal.Device
	buffer   hal.Buffer
	memory   hal.Memory
	data     []byte
	rowPitch uint64
	width    uint64
	rows     int
}

// Row returns the bytes of row i without pitch padding. It returns nil
// for rows out of range or after Close.
func (g *FetchGuard) Row(i int) []byte {
	if g.data == nil || i < 0 || i >= g.rows {
		return nil
	}
	off := uint64(i) * g.rowPitch
	return g.data[off : off+g.width]
}

func (g *FetchGuard) Rows() int {
	return g.rows
}

func (g *FetchGuard) RowPitch() uint64 {
	return g.rowPitch
}

// Width is the number of meaningful bytes per row.
func (g *FetchGuard) Width() uint64 {
	return g.width
}

// Close unmaps and releases the readback buffer. Calling it again does
// nothing.
func (g *FetchGuard) Close() {
	if g.data == nil {
		return
	}
	g.data = nil
	g.dev.UnmapMemory(g.memory)
	g.dev.DestroyBuffer(g.buffer)
	g.dev.FreeMemory(g.memory)
}

// FetchBuffer copies a buffer into host-visible memory. It waits for the
// copy, and so for every earlier submission on the queue, to complete.
func (s *Scene) FetchBuffer(name string) (*FetchGuard, error) {
	b, ok := s.Buffers[name]
	if !ok {
		return nil, fmt.Errorf("scene %s: fetch unknown buffer %q", s.ID, name)
	}
	size := Align(b.Size, s.limits.OptimalBufferCopyPitchAlignment)
	g, err := s.fetch(size, func(cb hal.CommandBuffer, down hal.Buffer) {
		s.dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, nil, []hal.BufferBarrier{{Buffer: b.Handle, From: b.Stable, To: hal.AccessTransferRead}})
		s.dev.CopyBuffer(cb, b.Handle, down, hal.BufferCopy{Size: b.Size})
		s.dev.PipelineBarrier(cb, hal.StageTransfer, hal.StageBottomOfPipe, nil, []hal.BufferBarrier{{Buffer: b.Handle, From: hal.AccessTransferRead, To: b.Stable}})
	})
	if err != nil {
		return nil, fmt.Errorf("scene %s: fetch buffer %q: %w", s.ID, name, err)
	}
	g.rowPitch, g.width, g.rows = size, b.Size, 1
	return g, nil
}

// FetchImage copies an image into host-visible memory with rows at the
// device's optimal copy pitch. It waits for the copy, and so for every
// earlier submission on the queue, to complete.
func (s *Scene) FetchImage(name string) (*FetchGuard, error) {
	img, ok := s.Images[name]
	if !ok {
		return nil, fmt.Errorf("scene %s: fetch unknown image %q", s.ID, name)
	}
	e := img.Desc.Extent
	bpp := img.Desc.Format.BytesPerPixel()
	pitch := RowPitch(e.Width, img.Desc.Format, s.limits)
	g, err := s.fetch(pitch*uint64(e.Height), func(cb hal.CommandBuffer, down hal.Buffer) {
		s.dev.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, []hal.ImageBarrier{{Image: img.Handle, From: img.Stable, To: transferSrc}}, nil)
		s.dev.CopyImageToBuffer(cb, img.Handle, hal.LayoutTransferSrc, down, hal.BufferImageCopy{
			RowLength:   uint32(pitch / bpp),
			ImageHeight: e.Height,
			ImageExtent: e,
		})
		s.dev.PipelineBarrier(cb, hal.StageTransfer, hal.StageBottomOfPipe, []hal.ImageBarrier{{Image: img.Handle, From: transferSrc, To: img.Stable}}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("scene %s: fetch image %q: %w", s.ID, name, err)
	}
	g.rowPitch, g.width, g.rows = pitch, uint64(e.Width)*bpp, int(e.Height)
	return g, nil
}

// fetch records record into a one-shot command buffer that copies into a
// fresh host-visible, host-cached buffer of size bytes, submits it with its own fence,
// waits and maps the result.
func (s *Scene) fetch(size uint64, record func(cb hal.CommandBuffer, down hal.Buffer)) (*FetchGuard, error) {
	dev := s.dev
	var cleanup hal.DestructionList
	// Released on every path.
	var temp hal.DestructionList
	defer temp.Destroy()

	down, err := dev.CreateBuffer(size, hal.BufferUsageTransferDst)
	if err != nil {
		return nil, err
	}
	cleanup.Push("readback buffer", func() { dev.DestroyBuffer(down) })
	mem, err := dev.AllocateMemory(down, hal.MemoryHostVisible|hal.MemoryHostCached)
	if err != nil {
		cleanup.Destroy()
		return nil, err
	}
	cleanup.Push("readback memory", func() { dev.FreeMemory(mem) })

	fail := func(err error) (*FetchGuard, error) {
		// The copy may still reference the buffer.
		if werr := dev.WaitIdle(); werr != nil {
			core.LogWarn("fetch cleanup: %s", werr)
		}
		cleanup.Destroy()
		return nil, err
	}

	pool, err := dev.CreateCommandPool()
	if err != nil {
		return fail(err)
	}
	temp.Push("fetch command pool", func() { dev.DestroyCommandPool(pool) })
	cb, err := dev.AllocateCommandBuffer(pool)
	if err != nil {
		return fail(err)
	}
	if err := dev.BeginRecording(cb, true); err != nil {
		return fail(err)
	}
	record(cb, down)
	if err := dev.EndRecording(cb); err != nil {
		return fail(err)
	}

	fence, err := dev.CreateFence(false)
	if err != nil {
		return fail(err)
	}
	temp.Push("fetch fence", func() { dev.DestroyFence(fence) })
	if err := s.queue.Submit(hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{cb}, Fence: fence}); err != nil {
		return fail(err)
	}
	if err := dev.WaitForFence(fence, hal.InfiniteTimeout); err != nil {
		return fail(err)
	}

	data, err := dev.MapMemory(mem, 0, hal.WholeSize)
	if err != nil {
		return fail(err)
	}
	return &FetchGuard{dev: dev, buffer: down, memory: mem, data: data}, nil
}
