package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type buffer struct {
	size   uint64
	usage  hal.BufferUsage
	memory hal.Memory
}

type memory struct {
	data   []byte
	props  hal.MemoryProperty
	buffer hal.Buffer
	mapped bool
}

type image struct {
	desc   hal.ImageDesc
	layout hal.Layout
	data   []byte
	// Set on swapchain images; they are destroyed by the surface.
	presentable bool
}

type framebuffer struct {
	pass   hal.RenderPass
	views  []hal.ImageView
	extent hal.Extent
}

func (d *Device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateBuffer); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, fmt.Errorf("create buffer: zero size")
	}
	b := hal.Buffer(d.newHandle(kindBuffer))
	d.buffers[b] = &buffer{size: size, usage: usage}
	d.logCall(Call{Op: OpCreateBuffer, Handle: uint64(b)})
	return b, nil
}

func (d *Device) DestroyBuffer(b hal.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release(uint64(b), kindBuffer) {
		delete(d.buffers, b)
	}
}

func (d *Device) AllocateMemory(b hal.Buffer, props hal.MemoryProperty) (hal.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpAllocateMemory); err != nil {
		return 0, err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return 0, fmt.Errorf("buffer %d: %w", b, core.ErrInvalidHandle)
	}
	if buf.memory != 0 {
		return 0, fmt.Errorf("buffer %d already has memory %d bound", b, buf.memory)
	}
	m := hal.Memory(d.newHandle(kindMemory))
	d.memories[m] = &memory{data: make([]byte, buf.size), props: props, buffer: b}
	buf.memory = m
	d.logCall(Call{Op: OpAllocateMemory, Handle: uint64(m), Memory: props})
	return m, nil
}

func (d *Device) FreeMemory(m hal.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.release(uint64(m), kindMemory) {
		return
	}
	if mem := d.memories[m]; mem != nil {
		if buf := d.buffers[mem.buffer]; buf != nil {
			buf.memory = 0
		}
	}
	delete(d.memories, m)
}

func (d *Device) MapMemory(m hal.Memory, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logCall(Call{Op: OpMapMemory, Handle: uint64(m)})
	if err := d.fault(OpMapMemory); err != nil {
		return nil, err
	}
	mem, ok := d.memories[m]
	if !ok {
		return nil, fmt.Errorf("memory %d: %w", m, core.ErrInvalidHandle)
	}
	if mem.props&hal.MemoryHostVisible == 0 {
		return nil, fmt.Errorf("memory %d is not host visible", m)
	}
	if mem.mapped {
		return nil, fmt.Errorf("memory %d is already mapped", m)
	}
	n := uint64(len(mem.data))
	if size == hal.WholeSize {
		size = n - offset
	}
	if offset > n || size > n-offset {
		return nil, fmt.Errorf("map memory %d: range [%d, %d) outside %d bytes", m, offset, offset+size, n)
	}
	mem.mapped = true
	return mem.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(m hal.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memories[m]; ok {
		mem.mapped = false
	}
}

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateImage); err != nil {
		return 0, err
	}
	return d.createImageLocked(desc, false)
}

func (d *Device) createImageLocked(desc hal.ImageDesc, presentable bool) (hal.Image, error) {
	if desc.Extent.IsZero() {
		return 0, fmt.Errorf("create image: zero extent %s", desc.Extent)
	}
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("create image: unsupported format %s", desc.Format)
	}
	img := hal.Image(d.newHandle(kindImage))
	d.images[img] = &image{
		desc:        desc,
		layout:      hal.LayoutUndefined,
		data:        make([]byte, uint64(desc.Extent.Width)*uint64(desc.Extent.Height)*bpp),
		presentable: presentable,
	}
	d.logCall(Call{Op: OpCreateImage, Handle: uint64(img)})
	return img, nil
}

func (d *Device) DestroyImage(img hal.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.images[img]; i != nil && i.presentable {
		d.violation("presentable image %d destroyed by the application", img)
		return
	}
	if d.release(uint64(img), kindImage) {
		delete(d.images, img)
	}
}

func (d *Device) CreateImageView(img hal.Image) (hal.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateImageView); err != nil {
		return 0, err
	}
	return d.createViewLocked(img)
}

func (d *Device) createViewLocked(img hal.Image) (hal.ImageView, error) {
	if !d.alive(uint64(img), kindImage) {
		return 0, fmt.Errorf("image %d: %w", img, core.ErrInvalidHandle)
	}
	v := hal.ImageView(d.newHandle(kindImageView))
	d.views[v] = img
	d.logCall(Call{Op: OpCreateImageView, Handle: uint64(v)})
	return v, nil
}

func (d *Device) DestroyImageView(v hal.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release(uint64(v), kindImageView) {
		delete(d.views, v)
	}
}

func (d *Device) CreateRenderPass(desc hal.RenderPassDesc) (hal.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateRenderPass); err != nil {
		return 0, err
	}
	if len(desc.Attachments) == 0 {
		return 0, fmt.Errorf("create render pass: no attachments")
	}
	rp := hal.RenderPass(d.newHandle(kindRenderPass))
	desc.Attachments = append([]hal.AttachmentDesc(nil), desc.Attachments...)
	d.renderPasses[rp] = desc
	d.logCall(Call{Op: OpCreateRenderPass, Handle: uint64(rp)})
	return rp, nil
}

func (d *Device) DestroyRenderPass(rp hal.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release(uint64(rp), kindRenderPass) {
		delete(d.renderPasses, rp)
	}
}

func (d *Device) CreateFramebuffer(rp hal.RenderPass, views []hal.ImageView, extent hal.Extent) (hal.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateFramebuffer); err != nil {
		return 0, err
	}
	desc, ok := d.renderPasses[rp]
	if !ok {
		return 0, fmt.Errorf("render pass %d: %w", rp, core.ErrInvalidHandle)
	}
	if len(views) != len(desc.Attachments) {
		return 0, fmt.Errorf("framebuffer has %d views, render pass %d has %d attachments", len(views), rp, len(desc.Attachments))
	}
	for _, v := range views {
		if !d.alive(uint64(v), kindImageView) {
			return 0, fmt.Errorf("image view %d: %w", v, core.ErrInvalidHandle)
		}
	}
	fb := hal.Framebuffer(d.newHandle(kindFramebuffer))
	d.framebuffers[fb] = &framebuffer{pass: rp, views: append([]hal.ImageView(nil), views...), extent: extent}
	d.logCall(Call{Op: OpCreateFramebuffer, Handle: uint64(fb)})
	return fb, nil
}

func (d *Device) DestroyFramebuffer(fb hal.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release(uint64(fb), kindFramebuffer) {
		delete(d.framebuffers, fb)
	}
}

// ImagePixels returns a tightly packed copy of img's contents.
func (d *Device) ImagePixels(img hal.Image) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.images[img]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", img, core.ErrInvalidHandle)
	}
	return append([]byte(nil), i.data...), nil
}

// ImageLayout returns the layout img is in after every retired submission.
func (d *Device) ImageLayout(img hal.Image) hal.Layout {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.images[img]; ok {
		return i.layout
	}
	return hal.LayoutUndefined
}

func (d *Device) bufferData(b hal.Buffer) ([]byte, bool) {
	buf, ok := d.buffers[b]
	if !ok {
		d.violation("unknown buffer %d", b)
		return nil, false
	}
	mem, ok := d.memories[buf.memory]
	if !ok {
		d.violation("buffer %d used without bound memory", b)
		return nil, false
	}
	return mem.data, true
}

// copyRegion moves one region between buf and img, in the direction
// given by toImage.
func (d *Device) copyRegion(img *image, buf []byte, r hal.BufferImageCopy, toImage bool) {
	bpp := img.desc.Format.BytesPerPixel()
	e := r.ImageExtent
	if r.ImageOffset.X < 0 || r.ImageOffset.Y < 0 ||
		uint64(r.ImageOffset.X)+uint64(e.Width) > uint64(img.desc.Extent.Width) ||
		uint64(r.ImageOffset.Y)+uint64(e.Height) > uint64(img.desc.Extent.Height) {
		d.violation("copy region %+v outside image %s", r, img.desc.Extent)
		return
	}
	rowLength := uint64(r.RowLength)
	if rowLength == 0 {
		rowLength = uint64(e.Width)
	}
	pitch := rowLength * bpp
	width := uint64(e.Width) * bpp
	imgPitch := uint64(img.desc.Extent.Width) * bpp
	for y := uint64(0); y < uint64(e.Height); y++ {
		bo := r.BufferOffset + y*pitch
		if bo+width > uint64(len(buf)) {
			d.violation("copy region %+v overruns buffer of %d bytes", r, len(buf))
			return
		}
		io := (uint64(r.ImageOffset.Y)+y)*imgPitch + uint64(r.ImageOffset.X)*bpp
		if toImage {
			copy(img.data[io:io+width], buf[bo:bo+width])
		} else {
			copy(buf[bo:bo+width], img.data[io:io+width])
		}
	}
}

func (img *image) fill(c hal.ClearColor) {
	texel := encodeColor(img.desc.Format, c)
	for i := 0; i+len(texel) <= len(img.data); i += len(texel) {
		copy(img.data[i:], texel)
	}
}

func encodeColor(f hal.Format, c hal.ClearColor) []byte {
	unorm := func(v float32) byte {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		}
		return byte(v*255 + 0.5)
	}
	switch f {
	case hal.FormatRGBA8Unorm:
		return []byte{unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])}
	case hal.FormatBGRA8Unorm:
		return []byte{unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])}
	case hal.FormatR8Unorm:
		return []byte{unorm(c[0])}
	case hal.FormatRGBA16Float:
		b := make([]byte, 8)
		for i, v := range c {
			binary.LittleEndian.PutUint16(b[2*i:], float16(v))
		}
		return b
	}
	return nil
}

// float16 converts v to IEEE 754 half precision, truncating the mantissa.
func float16(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case bits&0x7fffffff == 0:
		return sign
	case bits>>23&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint32(14-exp))
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}
