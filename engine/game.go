package engine

import (
	"github.com/spaghettifunk/gfxring/engine/renderer"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render fills in the packet the renderer draws this frame.
type Render func(packet *renderer.FramePacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
