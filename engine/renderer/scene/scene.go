// Package scene runs data-driven GPU workloads: a Description names
// buffers, images, render passes, framebuffers and jobs; Load creates them
// on a hal.Device and records every job once, Run submits jobs, and
// FetchImage/FetchBuffer read results back to the host.
package scene

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

var ErrUnknownJob = errors.New("unknown job")

type Buffer struct {
	Handle hal.Buffer
	Memory hal.Memory
	Size   uint64
	// Access the buffer is left in between jobs.
	Stable hal.Access
}

type Image struct {
	Handle hal.Image
	View   hal.ImageView
	Desc   hal.ImageDesc
	// State the image is left in between jobs.
	Stable hal.ImageState
}

type RenderPass struct {
	Handle hal.RenderPass
	Desc   hal.RenderPassDesc
}

type Framebuffer struct {
	Handle hal.Framebuffer
	Pass   string
	Images []string
	Extent hal.Extent
}

// Scene owns every object created from a Description. It is not safe for
// concurrent use.
type Scene struct {
	ID uuid.UUID

	dev    hal.Device
	queue  hal.Queue
	limits hal.Limits

	Buffers      map[string]*Buffer
	Images       map[string]*Image
	RenderPasses map[string]*RenderPass
	Framebuffers map[string]*Framebuffer
	jobs         map[string]hal.CommandBuffer

	pool        hal.CommandPool
	init        hal.CommandBuffer
	initPending bool

	destroy hal.DestructionList
	closed  bool
}

// Load creates the resources of desc on dev, records the init command
// buffer that uploads initial data and moves every resource to its stable
// state, and records each job. Nothing is submitted until Run. Initial
// data files are read relative to dataDir.
func Load(dev hal.Device, queue hal.Queue, desc *Description, dataDir string) (*Scene, error) {
	s := &Scene{
		ID:           uuid.New(),
		dev:          dev,
		queue:        queue,
		limits:       dev.Limits(),
		Buffers:      make(map[string]*Buffer),
		Images:       make(map[string]*Image),
		RenderPasses: make(map[string]*RenderPass),
		Framebuffers: make(map[string]*Framebuffer),
		jobs:         make(map[string]hal.CommandBuffer),
	}
	if err := s.load(desc, dataDir); err != nil {
		s.destroy.Destroy()
		err = fmt.Errorf("load scene: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	core.LogDebug("scene %s loaded: %d buffers, %d images, %d jobs", s.ID, len(s.Buffers), len(s.Images), len(s.jobs))
	return s, nil
}

func (s *Scene) load(desc *Description, dataDir string) error {
	dev := s.dev
	pool, err := dev.CreateCommandPool()
	if err != nil {
		return err
	}
	s.pool = pool
	s.destroy.Push("command pool", func() { dev.DestroyCommandPool(pool) })

	if s.init, err = dev.AllocateCommandBuffer(pool); err != nil {
		return err
	}
	if err := dev.BeginRecording(s.init, true); err != nil {
		return err
	}
	for _, name := range sortedNames(desc.Resources.Buffers) {
		if err := s.createBuffer(name, desc.Resources.Buffers[name], dataDir); err != nil {
			return fmt.Errorf("buffer %q: %w", name, err)
		}
	}
	for _, name := range sortedNames(desc.Resources.Images) {
		if err := s.createImage(name, desc.Resources.Images[name], dataDir); err != nil {
			return fmt.Errorf("image %q: %w", name, err)
		}
	}
	if err := dev.EndRecording(s.init); err != nil {
		return err
	}
	s.initPending = true

	for _, name := range sortedNames(desc.Resources.RenderPasses) {
		if err := s.createRenderPass(name, desc.Resources.RenderPasses[name]); err != nil {
			return fmt.Errorf("render pass %q: %w", name, err)
		}
	}
	for _, name := range sortedNames(desc.Resources.Framebuffers) {
		if err := s.createFramebuffer(name, desc.Resources.Framebuffers[name]); err != nil {
			return fmt.Errorf("framebuffer %q: %w", name, err)
		}
	}
	for _, name := range sortedNames(desc.Jobs) {
		if err := s.recordJob(name, desc.Jobs[name]); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}
	return nil
}

func (s *Scene) createBuffer(name string, spec BufferSpec, dataDir string) error {
	dev := s.dev
	usage, err := parseBufferUsage(spec.Usage)
	if err != nil {
		return err
	}
	data, err := initialData(dataDir, spec.Data, spec.Bytes, spec.Size)
	if err != nil {
		return err
	}
	if data != nil {
		usage |= hal.BufferUsageTransferDst
	}
	h, err := dev.CreateBuffer(spec.Size, usage)
	if err != nil {
		return err
	}
	s.destroy.Push("buffer "+name, func() { dev.DestroyBuffer(h) })
	mem, err := dev.AllocateMemory(h, hal.MemoryDeviceLocal)
	if err != nil {
		return err
	}
	s.destroy.Push("memory "+name, func() { dev.FreeMemory(mem) })

	b := &Buffer{Handle: h, Memory: mem, Size: spec.Size, Stable: hal.AccessShaderRead}
	s.Buffers[name] = b
	if data == nil {
		return nil
	}

	staging, err := s.stagingBuffer(name, Align(spec.Size, s.limits.OptimalBufferCopyPitchAlignment), func(p []byte) {
		copy(p, data)
	})
	if err != nil {
		return err
	}
	dev.PipelineBarrier(s.init, hal.StageTopOfPipe, hal.StageTransfer, nil, []hal.BufferBarrier{{Buffer: h, From: hal.AccessNone, To: hal.AccessTransferWrite}})
	dev.CopyBuffer(s.init, staging, h, hal.BufferCopy{Size: spec.Size})
	dev.PipelineBarrier(s.init, hal.StageTransfer, hal.StageBottomOfPipe, nil, []hal.BufferBarrier{{Buffer: h, From: hal.AccessTransferWrite, To: b.Stable}})
	return nil
}

func (s *Scene) createImage(name string, spec ImageSpec, dataDir string) error {
	dev := s.dev
	usage, err := parseImageUsage(spec.Usage)
	if err != nil {
		return err
	}
	extent := hal.Extent{Width: spec.Width, Height: spec.Height}
	widthBytes := uint64(spec.Width) * spec.Format.BytesPerPixel()
	data, err := initialData(dataDir, spec.Data, spec.Bytes, widthBytes*uint64(spec.Height))
	if err != nil {
		return err
	}
	// Fetching always copies out of the image.
	usage |= hal.ImageUsageTransferSrc
	if data != nil {
		usage |= hal.ImageUsageTransferDst
	}
	desc := hal.ImageDesc{Extent: extent, Format: spec.Format, Usage: usage}
	h, err := dev.CreateImage(desc)
	if err != nil {
		return err
	}
	s.destroy.Push("image "+name, func() { dev.DestroyImage(h) })
	view, err := dev.CreateImageView(h)
	if err != nil {
		return err
	}
	s.destroy.Push("image view "+name, func() { dev.DestroyImageView(view) })

	img := &Image{Handle: h, View: view, Desc: desc}
	s.Images[name] = img
	undefined := hal.ImageState{Access: hal.AccessNone, Layout: hal.LayoutUndefined}

	if data == nil {
		img.Stable = hal.ImageState{Access: hal.AccessColorAttachmentWrite, Layout: hal.LayoutColorAttachment}
		dev.PipelineBarrier(s.init, hal.StageBottomOfPipe, hal.StageColorAttachmentOutput, []hal.ImageBarrier{{Image: h, From: undefined, To: img.Stable}}, nil)
		return nil
	}

	img.Stable = hal.ImageState{Access: hal.AccessShaderRead, Layout: hal.LayoutShaderReadOnly}
	pitch := RowPitch(spec.Width, spec.Format, s.limits)
	staging, err := s.stagingBuffer(name, pitch*uint64(spec.Height), func(p []byte) {
		for y := uint64(0); y < uint64(spec.Height); y++ {
			copy(p[y*pitch:y*pitch+widthBytes], data[y*widthBytes:])
		}
	})
	if err != nil {
		return err
	}
	transferDst := hal.ImageState{Access: hal.AccessTransferWrite, Layout: hal.LayoutTransferDst}
	dev.PipelineBarrier(s.init, hal.StageTopOfPipe, hal.StageTransfer, []hal.ImageBarrier{{Image: h, From: undefined, To: transferDst}}, nil)
	dev.CopyBufferToImage(s.init, staging, h, hal.LayoutTransferDst, hal.BufferImageCopy{
		RowLength:   uint32(pitch / spec.Format.BytesPerPixel()),
		ImageHeight: spec.Height,
		ImageExtent: extent,
	})
	dev.PipelineBarrier(s.init, hal.StageTransfer, hal.StageBottomOfPipe, []hal.ImageBarrier{{Image: h, From: transferDst, To: img.Stable}}, nil)
	return nil
}

// stagingBuffer creates a host-visible upload buffer of size bytes filled
// by write. It lives as long as the scene.
func (s *Scene) stagingBuffer(name string, size uint64, write func([]byte)) (hal.Buffer, error) {
	dev := s.dev
	b, err := dev.CreateBuffer(size, hal.BufferUsageTransferSrc)
	if err != nil {
		return 0, err
	}
	s.destroy.Push("staging buffer "+name, func() { dev.DestroyBuffer(b) })
	mem, err := dev.AllocateMemory(b, hal.MemoryHostVisible|hal.MemoryHostCoherent)
	if err != nil {
		return 0, err
	}
	s.destroy.Push("staging memory "+name, func() { dev.FreeMemory(mem) })
	p, err := dev.MapMemory(mem, 0, hal.WholeSize)
	if err != nil {
		return 0, err
	}
	write(p)
	dev.UnmapMemory(mem)
	return b, nil
}

func (s *Scene) createRenderPass(name string, spec RenderPassSpec) error {
	desc := hal.RenderPassDesc{}
	for _, a := range spec.Attachments {
		desc.Attachments = append(desc.Attachments, hal.AttachmentDesc(a))
	}
	h, err := s.dev.CreateRenderPass(desc)
	if err != nil {
		return err
	}
	dev := s.dev
	s.destroy.Push("render pass "+name, func() { dev.DestroyRenderPass(h) })
	s.RenderPasses[name] = &RenderPass{Handle: h, Desc: desc}
	return nil
}

func (s *Scene) createFramebuffer(name string, spec FramebufferSpec) error {
	rp, ok := s.RenderPasses[spec.Pass]
	if !ok {
		return fmt.Errorf("unknown render pass %q", spec.Pass)
	}
	views := make([]hal.ImageView, 0, len(spec.Images))
	for _, n := range spec.Images {
		img, ok := s.Images[n]
		if !ok {
			return fmt.Errorf("unknown image %q", n)
		}
		views = append(views, img.View)
	}
	extent := hal.Extent{Width: spec.Width, Height: spec.Height}
	if extent.IsZero() && len(spec.Images) > 0 {
		extent = s.Images[spec.Images[0]].Desc.Extent
	}
	h, err := s.dev.CreateFramebuffer(rp.Handle, views, extent)
	if err != nil {
		return err
	}
	dev := s.dev
	s.destroy.Push("framebuffer "+name, func() { dev.DestroyFramebuffer(h) })
	s.Framebuffers[name] = &Framebuffer{Handle: h, Pass: spec.Pass, Images: spec.Images, Extent: extent}
	return nil
}

// InitPending reports whether the init command buffer has not been
// submitted yet.
func (s *Scene) InitPending() bool {
	return s.initPending
}

// Run submits the named jobs in order as one batch, preceded by the init
// command buffer on the first call. No fence is signaled; results are
// observed through FetchImage and FetchBuffer.
func (s *Scene) Run(jobNames ...string) error {
	cmds := make([]hal.CommandBuffer, 0, len(jobNames)+1)
	if s.initPending {
		cmds = append(cmds, s.init)
	}
	for _, name := range jobNames {
		cb, ok := s.jobs[name]
		if !ok {
			return fmt.Errorf("scene %s: %w %q", s.ID, ErrUnknownJob, name)
		}
		cmds = append(cmds, cb)
	}
	if len(cmds) == 0 {
		return nil
	}
	if err := s.queue.Submit(hal.SubmitInfo{CommandBuffers: cmds}); err != nil {
		return fmt.Errorf("scene %s: run %v: %w", s.ID, jobNames, err)
	}
	s.initPending = false
	return nil
}

// Close waits for the device to go idle and destroys every object of the
// scene. Calling it again does nothing.
func (s *Scene) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.dev.WaitIdle()
	s.destroy.Destroy()
	return err
}

func initialData(dataDir, file string, inline []int, size uint64) ([]byte, error) {
	switch {
	case file != "" && len(inline) > 0:
		return nil, errors.New("both data and bytes given")
	case file != "":
		f, err := os.Open(filepath.Join(dataDir, file))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		b := make([]byte, size)
		if _, err := io.ReadFull(f, b); err != nil {
			return nil, fmt.Errorf("read %d bytes of %s: %w", size, file, err)
		}
		return b, nil
	case len(inline) > 0:
		if uint64(len(inline)) != size {
			return nil, fmt.Errorf("%d inline bytes, want %d", len(inline), size)
		}
		b := make([]byte, size)
		for i, v := range inline {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("inline byte %d out of range: %d", i, v)
			}
			b[i] = byte(v)
		}
		return b, nil
	}
	return nil, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
