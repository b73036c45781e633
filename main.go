/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/gfxring/engine"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/platform"
	"github.com/spaghettifunk/gfxring/engine/renderer"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/vulkan"
	"github.com/spaghettifunk/gfxring/testbed"
)

func main() {
	configPath := flag.String("config", "gfxring.toml", "TOML configuration file")
	flag.Parse()

	cfg, err := engine.LoadApplicationConfig(*configPath)
	if err != nil {
		core.LogFatal("config: %s", err)
	}

	events := core.NewEventBus()
	p, err := platform.New(events)
	if err != nil {
		core.LogFatal(err.Error())
	}

	newBackend := func(cfg *core.Config) (renderer.Backend, error) {
		if cfg.Renderer.Backend == core.BackendSoftware {
			w, h := p.FramebufferSize()
			return renderer.NewSoftwareBackend(hal.Extent{Width: w, Height: h}), nil
		}
		return vulkan.NewBackend(p.VulkanProcAddr(), p.RequiredExtensions(), p.Window, cfg.Application.Name, cfg.Renderer.Validation)
	}

	tb := testbed.NewTestGame(cfg)
	e, err := engine.New(tb.Game, p, events, newBackend)
	if err != nil {
		core.LogFatal(err.Error())
	}
	if err := e.Initialize(); err != nil {
		core.LogFatal("initialize: %s", err)
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	// run engine
	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		core.LogError("engine stopped: %s", err)
		os.Exit(1)
	}
}
