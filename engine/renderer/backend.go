package renderer

import (
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

// Backend is a device with its queue and the surface frames are presented
// to. Shutdown releases all three; the renderer calls it last.
type Backend interface {
	Name() string
	Device() hal.Device
	Queue() hal.Queue
	Surface() hal.Surface
	Shutdown() error
}

type softwareBackend struct {
	dev     *software.Device
	surface *software.Surface
}

// NewSoftwareBackend returns an in-memory backend whose surface pretends
// to belong to a window of the given size.
func NewSoftwareBackend(window hal.Extent, opts ...software.Option) Backend {
	dev := software.NewDevice(opts...)
	return &softwareBackend{dev: dev, surface: dev.NewSurface(window)}
}

func (b *softwareBackend) Name() string         { return "software" }
func (b *softwareBackend) Device() hal.Device   { return b.dev }
func (b *softwareBackend) Queue() hal.Queue     { return b.dev.Queue() }
func (b *softwareBackend) Surface() hal.Surface { return b.surface }

// SoftwareSurface exposes the surface for resizing and scripting results.
func (b *softwareBackend) SoftwareSurface() *software.Surface { return b.surface }

func (b *softwareBackend) Shutdown() error {
	b.surface.Unconfigure()
	return b.dev.WaitIdle()
}
