package vulkan

import (
	"errors"
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

var errNoSuitableDevice = errors.New("no physical device meets the requirements")

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	// Prefer a discrete GPU when several devices qualify.
	PreferDiscreteGPU bool
}

// Device implements hal.Device. Every hal handle is an index into one of
// the tables below.
type Device struct {
	inst *Instance

	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	Properties     vk.PhysicalDeviceProperties
	Memory         vk.PhysicalDeviceMemoryProperties

	// One family serves graphics, transfer and present.
	QueueFamilyIndex uint32
	queue            *Queue
	locks            *VulkanLockPool
	limits           hal.Limits

	fences       *table[*fence]
	semaphores   *table[vk.Semaphore]
	pools        *table[*commandPool]
	cmdBuffers   *table[*commandBuffer]
	buffers      *table[*buffer]
	memories     *table[*memory]
	images       *table[*image]
	views        *table[*imageView]
	renderPasses *table[*renderPass]
	framebuffers *table[*framebuffer]
}

var (
	_ hal.Device  = (*Device)(nil)
	_ hal.Queue   = (*Queue)(nil)
	_ hal.Surface = (*Surface)(nil)
)

// NewDevice picks a physical device and creates the logical device. With a
// nil surface the device is headless and only needs a graphics queue;
// otherwise the queue must also present to surface, which is bound to the
// new device.
func NewDevice(inst *Instance, surface *Surface) (*Device, error) {
	d := &Device{
		inst:         inst,
		locks:        NewVulkanLockPool(),
		fences:       newTable[*fence](),
		semaphores:   newTable[vk.Semaphore](),
		pools:        newTable[*commandPool](),
		cmdBuffers:   newTable[*commandBuffer](),
		buffers:      newTable[*buffer](),
		memories:     newTable[*memory](),
		images:       newTable[*image](),
		views:        newTable[*imageView](),
		renderPasses: newTable[*renderPass](),
		framebuffers: newTable[*framebuffer](),
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:          true,
		PreferDiscreteGPU: runtime.GOOS != "darwin",
	}
	var vkSurface vk.Surface
	if surface != nil {
		requirements.Present = true
		requirements.DeviceExtensionNames = []string{vk.KhrSwapchainExtensionName}
		vkSurface = surface.handle
	}
	if err := d.selectPhysicalDevice(vkSurface, &requirements); err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(requirements.DeviceExtensionNames); err != nil {
		return nil, err
	}

	var q vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, d.QueueFamilyIndex, 0, &q)
	d.queue = &Queue{d: d, handle: q, family: d.QueueFamilyIndex}
	core.LogInfo("Queues obtained.")

	if surface != nil {
		surface.dev = d
	}
	return d, nil
}

func (d *Device) selectPhysicalDevice(surface vk.Surface, requirements *VulkanPhysicalDeviceRequirements) error {
	var count uint32
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.inst.Handle, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", errNoSuitableDevice)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.inst.Handle, &count, devices)); err != nil {
		return err
	}

	bestScore := -1
	for _, pd := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		properties.Limits.Deref()

		family, ok := physicalDeviceMeetsRequirements(pd, surface, &properties, requirements)
		if !ok {
			continue
		}
		score := 0
		if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu && requirements.PreferDiscreteGPU {
			score += 2
		}
		if properties.DeviceType == vk.PhysicalDeviceTypeIntegratedGpu {
			score++
		}
		if score > bestScore {
			bestScore = score
			d.PhysicalDevice = pd
			d.Properties = properties
			d.QueueFamilyIndex = family
		}
	}
	if d.PhysicalDevice == nil {
		core.LogError("No physical devices were found which meet the requirements.")
		return errNoSuitableDevice
	}

	vk.GetPhysicalDeviceMemoryProperties(d.PhysicalDevice, &d.Memory)
	d.Memory.Deref()
	d.limits = hal.Limits{
		OptimalBufferCopyPitchAlignment:  uint64(d.Properties.Limits.OptimalBufferCopyRowPitchAlignment),
		OptimalBufferCopyOffsetAlignment: uint64(d.Properties.Limits.OptimalBufferCopyOffsetAlignment),
	}
	if d.limits.OptimalBufferCopyPitchAlignment == 0 {
		d.limits.OptimalBufferCopyPitchAlignment = 1
	}

	core.LogInfo("Selected device: '%s'.", cString(d.Properties.DeviceName[:]))
	switch d.Properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(d.Properties.ApiVersion).Major(),
		vk.Version(d.Properties.ApiVersion).Minor(),
		vk.Version(d.Properties.ApiVersion).Patch(),
	)
	for j := 0; j < int(d.Memory.MemoryHeapCount); j++ {
		d.Memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(d.Memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(d.Memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	return nil
}

// physicalDeviceMeetsRequirements returns the queue family to use on
// device, which must support graphics and, if requested, present.
func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (uint32, bool) {
	name := cString(properties.DeviceName[:])

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	family, found := uint32(0), false
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if requirements.Graphics && vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit == 0 {
			continue
		}
		if requirements.Present {
			var supportsPresent vk.Bool32
			if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success || supportsPresent != vk.True {
				continue
			}
		}
		family, found = uint32(i), true
		break
	}
	if !found {
		core.LogInfo("Device '%s' has no queue family meeting the requirements, skipping.", name)
		return 0, false
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		available, err := deviceExtensions(device)
		if err != nil {
			return 0, false
		}
		for _, ext := range requirements.DeviceExtensionNames {
			if !available[ext] {
				core.LogInfo("Required extension not found: '%s', skipping device.", ext)
				return 0, false
			}
		}
	}

	if requirements.Present {
		var formatCount, modeCount uint32
		vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)
		vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, nil)
		if formatCount < 1 || modeCount < 1 {
			core.LogInfo("Required swapchain support not present, skipping device.")
			return 0, false
		}
	}
	core.LogDebug("Device '%s' meets the requirements, queue family %d.", name, family)
	return family, true
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := resultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := resultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, props)); err != nil {
		return nil, err
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = true
	}
	return out, nil
}

func (d *Device) createLogicalDevice(extensions []string) error {
	core.LogInfo("Creating logical device...")

	available, err := deviceExtensions(d.PhysicalDevice)
	if err != nil {
		return err
	}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.QueueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	if err := resultError("vkCreateDevice", vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, d.inst.Allocator, &d.LogicalDevice)); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")
	return nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every flag in propertyFlags, or -1.
func (d *Device) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(d.Memory.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (d *Device) Queue() *Queue {
	return d.queue
}

func (d *Device) Limits() hal.Limits {
	return d.limits
}

// WaitIdle holds the queue lock, since vkDeviceWaitIdle must not run
// concurrently with a submit or present.
func (d *Device) WaitIdle() error {
	return d.locks.SafeQueueCall(d.QueueFamilyIndex, func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.LogicalDevice))
	})
}

// Destroy waits for the device to go idle and destroys it. Objects still
// alive in the handle tables are reported, not destroyed.
func (d *Device) Destroy() {
	if d.LogicalDevice == nil {
		return
	}
	if err := d.WaitIdle(); err != nil {
		core.LogWarn("destroying device: %s", err)
	}
	leaked := d.fences.len() + d.semaphores.len() + d.pools.len() + d.buffers.len() +
		d.memories.len() + d.images.len() + d.views.len() + d.renderPasses.len() + d.framebuffers.len()
	if leaked > 0 {
		core.LogWarn("%d device objects still alive at device destruction", leaked)
	}
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.LogicalDevice, d.inst.Allocator)
	d.LogicalDevice = nil
	d.PhysicalDevice = nil
}
