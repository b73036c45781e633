package vulkan

import (
	"unsafe"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Backend bundles an instance, a window surface and a device that can
// present to it.
type Backend struct {
	Instance *Instance
	Surf     *Surface
	Dev      *Device
}

// NewBackend creates everything needed to render to window. procAddr and
// extensions come from the window system.
func NewBackend(procAddr unsafe.Pointer, extensions []string, window Window, appName string, validation bool) (*Backend, error) {
	instance, err := NewInstance(NewLoader(procAddr), InstanceConfig{
		AppName:    appName,
		Extensions: extensions,
		Validation: validation,
	})
	if err != nil {
		return nil, err
	}
	surface, err := instance.NewSurface(window)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	device, err := NewDevice(instance, surface)
	if err != nil {
		surface.Destroy()
		instance.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan backend ready.")
	return &Backend{Instance: instance, Surf: surface, Dev: device}, nil
}

// NewHeadless creates a device without a surface, for offscreen work.
// release destroys the device and its instance.
func NewHeadless(procAddr unsafe.Pointer, appName string, validation bool) (dev *Device, release func(), err error) {
	instance, err := NewInstance(NewLoader(procAddr), InstanceConfig{AppName: appName, Validation: validation})
	if err != nil {
		return nil, nil, err
	}
	dev, err = NewDevice(instance, nil)
	if err != nil {
		instance.Destroy()
		return nil, nil, err
	}
	return dev, func() {
		dev.Destroy()
		instance.Destroy()
	}, nil
}

func (b *Backend) Name() string         { return "vulkan" }
func (b *Backend) Device() hal.Device   { return b.Dev }
func (b *Backend) Queue() hal.Queue     { return b.Dev.Queue() }
func (b *Backend) Surface() hal.Surface { return b.Surf }

func (b *Backend) Shutdown() error {
	err := b.Dev.WaitIdle()
	b.Surf.Destroy()
	b.Dev.Destroy()
	b.Instance.Destroy()
	return err
}
