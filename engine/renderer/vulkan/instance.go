package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceConfig struct {
	AppName string
	// Extensions the window system needs, e.g. from
	// glfw.Window.GetRequiredInstanceExtensions.
	Extensions []string
	Validation bool
}

type Instance struct {
	Handle     vk.Instance
	Allocator  *vk.AllocationCallbacks
	debug      vk.DebugReportCallback
	validation bool
}

func NewInstance(loader *Loader, cfg InstanceConfig) (*Instance, error) {
	if err := loader.load(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.AppName),
		PEngineName:        VulkanSafeString("gfxring"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{"VK_KHR_surface"}
	extensions = append(extensions, cfg.Extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	extensions = dedup(extensions)
	for _, e := range extensions {
		core.LogDebug("Required extension: %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)

	var layers []string
	if cfg.Validation {
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return nil, err
		}
		if ok {
			layers = append(layers, validationLayer)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Validation requested but %s is not installed.", validationLayer)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	inst := &Instance{validation: len(layers) > 0}
	if err := resultError("vkCreateInstance", vk.CreateInstance(&createInfo, inst.Allocator, &inst.Handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if err := vk.InitInstance(inst.Handle); err != nil {
		vk.DestroyInstance(inst.Handle, inst.Allocator)
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if inst.validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		if err := resultError("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(inst.Handle, &debugCreateInfo, nil, &inst.debug)); err != nil {
			core.LogWarn("Vulkan debugger unavailable: %s", err)
			inst.debug = nil
		}
	}
	return inst, nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return false, err
	}
	layers := make([]vk.LayerProperties, count)
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, layers)); err != nil {
		return false, err
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func dedup(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (inst *Instance) Destroy() {
	if inst.Handle == nil {
		return
	}
	if inst.debug != nil {
		vk.DestroyDebugReportCallback(inst.Handle, inst.debug, inst.Allocator)
		inst.debug = nil
	}
	vk.DestroyInstance(inst.Handle, inst.Allocator)
	inst.Handle = nil
	core.LogInfo("Vulkan instance destroyed.")
}

// Window is the part of a glfw window the backend needs.
type Window interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetFramebufferSize() (width, height int)
}

// NewSurface creates the window system surface. The returned Surface has
// no swapchain until a Device is created for it and Configure is called.
func (inst *Instance) NewSurface(w Window) (*Surface, error) {
	ptr, err := w.CreateWindowSurface(inst.Handle, nil)
	if err != nil {
		return nil, fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	core.LogDebug("Vulkan surface created.")
	return &Surface{
		inst:   inst,
		window: w,
		handle: vk.SurfaceFromPointer(ptr),
	}, nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
