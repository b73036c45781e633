package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Everything is released
	EngineStageShutdown
)

// Platform is the window system the engine runs in.
type Platform interface {
	Startup(applicationName string, x, y, width, height uint32) error
	Shutdown() error
	PumpMessages()
	FramebufferSize() (uint32, uint32)
}

// BackendFactory creates the rendering backend once the platform is up.
type BackendFactory func(cfg *core.Config) (renderer.Backend, error)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	platform     Platform
	newBackend   BackendFactory
	events       *core.EventBus
	renderer     *renderer.Renderer
	clock        *core.Clock
	lastTime     time.Duration

	isRunning   atomic.Bool
	isSuspended bool
}

func New(g *Game, p Platform, events *core.EventBus, newBackend BackendFactory) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Config == nil {
		return nil, errors.New("game has no application config")
	}
	if p == nil || events == nil || newBackend == nil {
		return nil, errors.New("engine needs a platform, an event bus and a backend factory")
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		platform:     p,
		newBackend:   newBackend,
		events:       events,
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine initialized twice")
	}
	e.currentStage = EngineStageInitializing
	cfg := e.gameInstance.ApplicationConfig
	core.SetLogLevel(cfg.LogLevel)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onQuit)
	e.events.Register(core.EVENT_CODE_RESIZED, e.onResized)

	app := cfg.Application
	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}

	backend, err := e.newBackend(cfg.Config)
	if err != nil {
		_ = e.platform.Shutdown()
		return err
	}
	e.renderer, err = renderer.New(backend, cfg.Renderer)
	if err != nil {
		_ = backend.Shutdown()
		_ = e.platform.Shutdown()
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			err = errors.Join(err, e.renderer.Shutdown(), e.platform.Shutdown())
			e.currentStage = EngineStageShutdown
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		w, h := e.platform.FramebufferSize()
		if err := e.gameInstance.FnOnResize(w, h); err != nil {
			return errors.Join(err, e.shutdown())
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until the application is asked to quit, ctx is done
// or a frame fails, then releases everything. Cancellation is reported as
// ctx.Err(). It must run on the main
// thread.
func (e *Engine) Run(ctx context.Context) (err error) {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	defer func() {
		if serr := e.shutdown(); err == nil {
			err = serr
		}
	}()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	var sinceStats float64

	for e.isRunning.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.platform.PumpMessages()
		if !e.isRunning.Load() {
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		e.lastTime = currentTime

		if e.isSuspended {
			// Nothing to present to; don't spin.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
		}

		packet := &renderer.FramePacket{DeltaTime: delta}
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(packet, delta); err != nil {
				core.LogError("Game render failed, shutting down: %s", err)
				return err
			}
		}

		if _, err := e.renderer.DrawFrame(packet); err != nil {
			return err
		}

		if interval := e.gameInstance.ApplicationConfig.StatsInterval; interval > 0 {
			sinceStats += delta
			if sinceStats >= interval {
				sinceStats = 0
				m := e.renderer.Metrics()
				core.LogInfo("frame %d: %.1f fps, %.2f ms", e.renderer.FrameNumber(), m.FPS(), m.FrameTime())
			}
		}
	}
	return nil
}

// Stop asks Run to return after the current frame. It is safe to call from
// any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	}
	errs = append(errs, e.platform.Shutdown())
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) onQuit(context core.EventContext) {
	core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
	e.Stop()
}

func (e *Engine) onResized(context core.EventContext) {
	ev, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		return
	}
	if ev.Width == 0 || ev.Height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
	} else if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		e.renderer.OnResize(ev.Width, ev.Height)
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(ev.Width, ev.Height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
}
