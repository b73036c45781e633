package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Surface implements hal.Surface with a VkSurfaceKHR and the swapchain
// configured on it.
type Surface struct {
	inst   *Instance
	dev    *Device
	window Window
	handle vk.Surface

	swapchain vk.Swapchain
	cfg       hal.SurfaceConfig
	images    []hal.Image
	views     []hal.ImageView
	acquired  int
	// Acquire waits on this fence so that an acquired image is ready for
	// rendering without a semaphore wait in the frame's submission.
	acquireFence vk.Fence
}

// Capabilities queries the surface. An undefined current extent (the
// window system lets the swapchain decide) is replaced by the window's
// framebuffer size.
func (s *Surface) Capabilities() hal.SurfaceCapabilities {
	if s.dev == nil {
		return hal.SurfaceCapabilities{}
	}
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(s.dev.PhysicalDevice, s.handle, &caps); res != vk.Success {
		core.LogError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR: %s", VulkanResultString(res))
		return hal.SurfaceCapabilities{}
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	out := hal.SurfaceCapabilities{
		CurrentExtent: hal.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinExtent:     hal.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxExtent:     hal.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		MinImageCount: int(caps.MinImageCount),
		MaxImageCount: int(caps.MaxImageCount),
		Formats:       s.formats(),
	}
	if out.CurrentExtent.Width == math.MaxUint32 {
		w, h := s.window.GetFramebufferSize()
		out.CurrentExtent = hal.Extent{Width: uint32(w), Height: uint32(h)}
	}
	return out
}

// formats lists the supported surface formats, BGRA8 first when present.
func (s *Surface) formats() []hal.Format {
	var count uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(s.dev.PhysicalDevice, s.handle, &count, nil); res != vk.Success {
		return nil
	}
	surfaceFormats := make([]vk.SurfaceFormat, count)
	if res := vk.GetPhysicalDeviceSurfaceFormats(s.dev.PhysicalDevice, s.handle, &count, surfaceFormats); res != vk.Success {
		return nil
	}
	var out []hal.Format
	for i := range surfaceFormats {
		surfaceFormats[i].Deref()
		f := halFormat(surfaceFormats[i].Format)
		if f == hal.FormatUndefined || surfaceFormats[i].ColorSpace != vk.ColorSpaceSrgbNonlinear {
			continue
		}
		if f == hal.FormatBGRA8Unorm {
			out = append([]hal.Format{f}, out...)
		} else {
			out = append(out, f)
		}
	}
	return out
}

func (s *Surface) presentMode(vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	var count uint32
	vk.GetPhysicalDeviceSurfacePresentModes(s.dev.PhysicalDevice, s.handle, &count, nil)
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(s.dev.PhysicalDevice, s.handle, &count, modes)
	presentMode := vk.PresentModeFifo
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
		if mode == vk.PresentModeImmediate {
			presentMode = mode
		}
	}
	return presentMode
}

// Configure creates a swapchain for cfg, retiring the previous one. The
// caller guarantees the device is idle and no image is acquired.
func (s *Surface) Configure(cfg hal.SurfaceConfig) error {
	if s.dev == nil {
		return fmt.Errorf("surface has no device")
	}
	d := s.dev
	return d.locks.SafeCall(SwapchainManagement, func() error {
		if s.acquired > 0 {
			return fmt.Errorf("configure with %d acquired images", s.acquired)
		}
		caps := s.Capabilities()
		var vkCaps vk.SurfaceCapabilities
		vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, s.handle, &vkCaps)
		vkCaps.Deref()

		swapchainCreateInfo := vk.SwapchainCreateInfo{
			SType:            vk.StructureTypeSwapchainCreateInfo,
			Surface:          s.handle,
			MinImageCount:    uint32(caps.ClampImageCount(cfg.ImageCount)),
			ImageFormat:      vkFormat(cfg.Format),
			ImageColorSpace:  vk.ColorSpaceSrgbNonlinear,
			ImageExtent:      vkExtent(cfg.Extent),
			ImageArrayLayers: 1,
			ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vkCaps.SupportedUsageFlags&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageTransferSrcBit),
			ImageSharingMode: vk.SharingModeExclusive,
			PreTransform:     vkCaps.CurrentTransform,
			CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
			PresentMode:      s.presentMode(cfg.VSync),
			Clipped:          vk.True,
			OldSwapchain:     s.swapchain,
		}

		var handle vk.Swapchain
		if err := resultError("vkCreateSwapchainKHR", vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.inst.Allocator, &handle)); err != nil {
			core.LogError(err.Error())
			return err
		}
		// The create call retired the old swapchain whatever happens next.
		s.releaseImages()
		if s.swapchain != nil {
			vk.DestroySwapchain(d.LogicalDevice, s.swapchain, d.inst.Allocator)
			s.swapchain = nil
		}

		// On failure the surface is left unconfigured, so the next acquire
		// reports it out of date.
		var partial hal.DestructionList
		partial.Push("swapchain", func() { vk.DestroySwapchain(d.LogicalDevice, handle, d.inst.Allocator) })
		fail := func(err error) error {
			partial.Destroy()
			core.LogError("configure swapchain: %s", err)
			return err
		}

		var imageCount uint32
		if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.LogicalDevice, handle, &imageCount, nil)); err != nil {
			return fail(err)
		}
		images := make([]vk.Image, imageCount)
		if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.LogicalDevice, handle, &imageCount, images)); err != nil {
			return fail(err)
		}
		set, err := buildImageSet(images, &partial, func(img vk.Image) (hal.Image, hal.ImageView, func(), error) {
			h := hal.Image(d.images.add(&image{
				Handle:      img,
				desc:        hal.ImageDesc{Extent: cfg.Extent, Format: cfg.Format, Usage: hal.ImageUsageColorAttachment},
				presentable: true,
			}))
			v, err := d.createView(h, img, vkFormat(cfg.Format))
			if err != nil {
				d.images.remove(uint64(h))
				return 0, 0, nil, err
			}
			return h, v, func() {
				d.DestroyImageView(v)
				d.images.remove(uint64(h))
			}, nil
		})
		if err != nil {
			return fail(err)
		}

		if s.acquireFence == nil {
			fenceCreateInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
			if err := resultError("vkCreateFence", vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.inst.Allocator, &s.acquireFence)); err != nil {
				return fail(err)
			}
		}
		s.swapchain = handle
		s.images, s.views = set.images, set.views
		s.cfg = cfg
		core.LogInfo("Swapchain configured: %s %s, %d images.", cfg.Extent, cfg.Format, imageCount)
		return nil
	})
}

type imageSet struct {
	images []hal.Image
	views  []hal.ImageView
}

// buildImageSet registers every swapchain image through register and
// pushes its release onto partial. It stops at the first error; whatever
// was registered stays on partial for the caller to destroy.
func buildImageSet(images []vk.Image, partial *hal.DestructionList, register func(vk.Image) (hal.Image, hal.ImageView, func(), error)) (imageSet, error) {
	var set imageSet
	for i, img := range images {
		h, v, release, err := register(img)
		if err != nil {
			return imageSet{}, fmt.Errorf("swapchain image %d: %w", i, err)
		}
		partial.Push(fmt.Sprintf("swapchain image %d", i), release)
		set.images = append(set.images, h)
		set.views = append(set.views, v)
	}
	return set, nil
}

// releaseImages drops the swapchain images from the handle tables and
// destroys their views. The images themselves belong to the swapchain.
func (s *Surface) releaseImages() {
	for _, v := range s.views {
		s.dev.DestroyImageView(v)
	}
	for _, img := range s.images {
		s.dev.images.remove(uint64(img))
	}
	s.views = nil
	s.images = nil
}

func (s *Surface) Unconfigure() {
	if s.dev == nil {
		return
	}
	_ = s.dev.locks.SafeCall(SwapchainManagement, func() error {
		s.releaseImages()
		if s.swapchain != nil {
			vk.DestroySwapchain(s.dev.LogicalDevice, s.swapchain, s.dev.inst.Allocator)
			s.swapchain = nil
		}
		s.acquired = 0
		return nil
	})
}

func (s *Surface) AcquireImage(timeout time.Duration) (hal.AcquiredImage, error) {
	if s.dev == nil {
		return hal.AcquiredImage{}, fmt.Errorf("surface has no device: %w", core.ErrOutOfDate)
	}
	d := s.dev
	var out hal.AcquiredImage
	err := d.locks.SafeCall(SwapchainManagement, func() error {
		if s.swapchain == nil {
			return fmt.Errorf("acquire on an unconfigured surface: %w", core.ErrOutOfDate)
		}
		var index uint32
		res := vk.AcquireNextImage(d.LogicalDevice, s.swapchain, vkTimeout(timeout), vk.NullSemaphore, s.acquireFence, &index)
		if res != vk.Success && res != vk.Suboptimal {
			return resultError("vkAcquireNextImageKHR", res)
		}
		fences := []vk.Fence{s.acquireFence}
		if err := resultError("vkWaitForFences", vk.WaitForFences(d.LogicalDevice, 1, fences, vk.True, math.MaxUint64)); err != nil {
			return err
		}
		if err := resultError("vkResetFences", vk.ResetFences(d.LogicalDevice, 1, fences)); err != nil {
			return err
		}
		s.acquired++
		out = hal.AcquiredImage{
			Index:      int(index),
			View:       s.views[index],
			Suboptimal: res == vk.Suboptimal,
		}
		return nil
	})
	return out, err
}

func (s *Surface) Config() hal.SurfaceConfig {
	return s.cfg
}

func (s *Surface) Views() []hal.ImageView {
	return s.views
}

// Images returns the swapchain images, valid until the next Configure.
func (s *Surface) Images() []hal.Image {
	return s.images
}

// Destroy unconfigures the surface and destroys it. Call it after the
// device users are closed and before Device.Destroy.
func (s *Surface) Destroy() {
	s.Unconfigure()
	if s.dev != nil && s.acquireFence != nil {
		vk.DestroyFence(s.dev.LogicalDevice, s.acquireFence, s.dev.inst.Allocator)
		s.acquireFence = nil
	}
	if s.handle != nil {
		vk.DestroySurface(s.inst.Handle, s.handle, s.inst.Allocator)
		s.handle = nil
	}
}
