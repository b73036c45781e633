// Package vulkan implements the hal capability interfaces on top of
// github.com/goki/vulkan.
//
// Setup runs in a fixed order: a Loader resolves the entry points, an
// Instance is created from it, a Surface is created for a window, and a
// Device is picked that can present to that surface. Device, Queue and
// Surface then satisfy hal.Device, hal.Queue and hal.Surface.
package vulkan

import (
	"errors"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gfxring/engine/core"
)

var errNoProcAddr = errors.New("vkGetInstanceProcAddr is nil")

// Loader owns the vkGetInstanceProcAddr entry point. Build one from the
// windowing layer (glfw.GetVulkanGetInstanceProcAddress) and hand it to
// NewInstance; nothing in this package looks the entry point up on its
// own.
type Loader struct {
	procAddr unsafe.Pointer
	once     sync.Once
	err      error
}

func NewLoader(procAddr unsafe.Pointer) *Loader {
	return &Loader{procAddr: procAddr}
}

// load initializes the global function table of the binding. It is safe
// to call more than once.
func (l *Loader) load() error {
	l.once.Do(func() {
		if l.procAddr == nil {
			l.err = errNoProcAddr
			return
		}
		vk.SetGetInstanceProcAddr(l.procAddr)
		if err := vk.Init(); err != nil {
			l.err = err
			return
		}
		core.LogDebug("Vulkan loader initialized.")
	})
	return l.err
}
