// Package renderer is the engine's view of the GPU: it owns a Backend, a
// single-attachment render pass targeting the surface and the frame
// driver that paces presentation.
package renderer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/frame"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// FramePacket is what the game hands over for one frame.
type FramePacket struct {
	// Seconds since the previous frame.
	DeltaTime  float64
	ClearColor hal.ClearColor
}

type Renderer struct {
	backend Backend
	pass    hal.RenderPass
	driver  *frame.Driver
	metrics *core.Metrics

	// packet is only touched by DrawFrame and the recorder it triggers.
	packet FramePacket

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(backend Backend, cfg core.RendererConfig) (*Renderer, error) {
	if backend == nil {
		return nil, errors.New("renderer needs a backend")
	}
	dev := backend.Device()
	caps := backend.Surface().Capabilities()
	if len(caps.Formats) == 0 {
		return nil, fmt.Errorf("%s surface reports no usable format", backend.Name())
	}
	format := caps.Formats[0]

	var ringOpts []frame.RingOption
	if cfg.UnsignaledFences {
		ringOpts = append(ringOpts, frame.WithUnsignaledFences())
	}
	ring, err := frame.NewFrameRing(dev, cfg.FramesInFlight, ringOpts...)
	if err != nil {
		return nil, err
	}

	pass, err := dev.CreateRenderPass(hal.RenderPassDesc{Attachments: []hal.AttachmentDesc{{
		Format:        format,
		Load:          hal.LoadOpClear,
		InitialLayout: hal.LayoutUndefined,
		FinalLayout:   hal.LayoutPresent,
	}}})
	if err != nil {
		_ = ring.Teardown()
		return nil, err
	}

	r := &Renderer{
		backend: backend,
		pass:    pass,
		metrics: core.NewMetrics(),
	}
	r.driver, err = frame.NewDriver(dev, backend.Queue(), backend.Surface(), ring, frame.RecorderFunc(r.record),
		frame.WithRenderPass(pass),
		frame.WithSurfaceConfig(hal.SurfaceConfig{
			Format:     format,
			ImageCount: cfg.FramesInFlight,
			VSync:      cfg.VSync,
		}),
	)
	if err != nil {
		_ = ring.Teardown()
		dev.DestroyRenderPass(pass)
		return nil, err
	}
	core.LogInfo("Renderer ready: %s backend, %d frames in flight, %s.", backend.Name(), ring.Len(), format)
	return r, nil
}

func (r *Renderer) record(ctx frame.RecordContext) error {
	ctx.Device.BeginRenderPass(ctx.CommandBuffer, hal.RenderPassBegin{
		Pass:        ctx.RenderPass,
		Framebuffer: ctx.Framebuffer,
		Area:        ctx.Extent,
		ClearColors: []hal.ClearColor{r.packet.ClearColor},
	})
	ctx.Device.EndRenderPass(ctx.CommandBuffer)
	return nil
}

// DrawFrame renders and presents one frame from packet.
func (r *Renderer) DrawFrame(packet *FramePacket) (frame.FrameResult, error) {
	r.packet = *packet
	res, err := r.driver.Frame()
	if err != nil {
		core.LogError("frame %d failed: %s", r.driver.FrameNumber(), err)
		return res, err
	}
	if res == frame.FramePresented {
		r.metrics.Update(time.Duration(packet.DeltaTime * float64(time.Second)))
	}
	return res, nil
}

// OnResize asks for the swapchain to be rebuilt before the next frame. It
// is safe to call from window callbacks.
func (r *Renderer) OnResize(width, height uint32) {
	r.driver.RequestReconfigure(hal.Extent{Width: width, Height: height})
}

func (r *Renderer) Stats() frame.Stats {
	return r.driver.Stats()
}

func (r *Renderer) FrameNumber() uint64 {
	return r.driver.FrameNumber()
}

func (r *Renderer) Metrics() *core.Metrics {
	return r.metrics
}

// Shutdown drains the GPU and releases everything, the backend last.
func (r *Renderer) Shutdown() error {
	r.shutdownOnce.Do(func() {
		err := r.driver.Close()
		r.backend.Device().DestroyRenderPass(r.pass)
		if berr := r.backend.Shutdown(); err == nil {
			err = berr
		}
		r.shutdownErr = err
	})
	return r.shutdownErr
}
