// Package hal defines the device capabilities the frame protocol needs from
// a native graphics API. Each backend implements these interfaces once;
// the frame ring, submission driver and scene runner are written against
// them and never against a concrete API.
package hal

import "time"

// Device creates and destroys native objects and records commands.
// Callers should assume a Device is not safe for parallel recording into
// the same command pool.
type Device interface {
	// Synchronization.
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitForFence blocks until f is signaled. It returns an error
	// wrapping core.ErrTimeout or core.ErrDeviceLost on failure.
	WaitForFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	// Command pools and buffers.
	CreateCommandPool() (CommandPool, error)
	DestroyCommandPool(p CommandPool)
	// ResetCommandPool returns every buffer allocated from p to the
	// initial state. None of them may be pending execution.
	ResetCommandPool(p CommandPool) error
	AllocateCommandBuffer(p CommandPool) (CommandBuffer, error)
	BeginRecording(cb CommandBuffer, oneTimeSubmit bool) error
	EndRecording(cb CommandBuffer) error

	// Commands.
	PipelineBarrier(cb CommandBuffer, src, dst PipelineStage, images []ImageBarrier, buffers []BufferBarrier)
	CopyBuffer(cb CommandBuffer, src, dst Buffer, regions ...BufferCopy)
	CopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout Layout, regions ...BufferImageCopy)
	CopyImageToBuffer(cb CommandBuffer, src Image, layout Layout, dst Buffer, regions ...BufferImageCopy)
	ClearColorImage(cb CommandBuffer, img Image, layout Layout, color ClearColor)
	BeginRenderPass(cb CommandBuffer, begin RenderPassBegin)
	EndRenderPass(cb CommandBuffer)

	// Resources.
	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	DestroyBuffer(b Buffer)
	// AllocateMemory allocates memory with the given properties for b
	// and binds it.
	AllocateMemory(b Buffer, props MemoryProperty) (Memory, error)
	FreeMemory(m Memory)
	MapMemory(m Memory, offset, size uint64) ([]byte, error)
	UnmapMemory(m Memory)
	// CreateImage creates an image backed by device-local memory.
	CreateImage(desc ImageDesc) (Image, error)
	DestroyImage(img Image)
	CreateImageView(img Image) (ImageView, error)
	DestroyImageView(v ImageView)
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(rp RenderPass, views []ImageView, extent Extent) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	Limits() Limits
	// WaitIdle blocks until every submission made on the device's
	// queues has completed.
	WaitIdle() error
}

// Queue executes submissions in submission order and hands images to the
// presentation engine.
type Queue interface {
	// Submit never blocks on GPU progress.
	Submit(info SubmitInfo) error
	// Present queues img for presentation once every semaphore in waits
	// is signaled. It returns an error wrapping core.ErrOutOfDate or
	// core.ErrSuboptimal when the surface must be reconfigured.
	Present(s Surface, img AcquiredImage, waits ...Semaphore) error
}

// Surface produces presentable images. It may become invalid at any time
// (resize, compositor changes) and must then be reconfigured.
type Surface interface {
	// AcquireImage returns the next presentable image. Errors wrapping
	// core.ErrOutOfDate or core.ErrSurfaceLost mean the surface needs
	// Configure before it can be used again.
	AcquireImage(timeout time.Duration) (AcquiredImage, error)
	// Configure (re)creates the presentable image set. It must not be
	// called while an acquired image is outstanding.
	Configure(cfg SurfaceConfig) error
	Unconfigure()
	Config() SurfaceConfig
	Capabilities() SurfaceCapabilities
	// Views returns one view per presentable image, valid until the
	// next Configure or Unconfigure.
	Views() []ImageView
}
