package testbed

import (
	"math"

	"github.com/spaghettifunk/gfxring/engine"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// TestGame clears the window to a color that slowly cycles through hues.
type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed float64
	width   uint32
	height  uint32
}

func NewTestGame(cfg *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: cfg,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(packet *renderer.FramePacket, deltaTime float64) error {
	state := g.State.(*gameState)
	packet.ClearColor = hueColor(state.elapsed / 10)
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width, state.height = width, height
	core.LogDebug("TestGame resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogDebug("TestGame Shutdown fn....")
	return nil
}

// hueColor maps t in [0, 1) (wrapping) to a fully saturated color.
func hueColor(t float64) hal.ClearColor {
	h := math.Mod(t, 1) * 6
	x := float32(1 - math.Abs(math.Mod(h, 2)-1))
	switch int(h) {
	case 0:
		return hal.ClearColor{1, x, 0, 1}
	case 1:
		return hal.ClearColor{x, 1, 0, 1}
	case 2:
		return hal.ClearColor{0, 1, x, 1}
	case 3:
		return hal.ClearColor{0, x, 1, 1}
	case 4:
		return hal.ClearColor{x, 0, 1, 1}
	default:
		return hal.ClearColor{1, 0, x, 1}
	}
}
