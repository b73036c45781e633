package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	// The frame's work is queued but was never presented.
	StateSubmitted
	StatePresenting
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	case StatePresenting:
		return "presenting"
	case StateInvalidated:
		return "invalidated"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type FrameResult uint8

const (
	// FramePresented means the frame was rendered and queued for
	// presentation.
	FramePresented FrameResult = iota
	// FrameSkipped means acquire found the surface invalid. Nothing was
	// recorded and the surface has been reconfigured.
	FrameSkipped
	// FramePresentSkipped means the frame was rendered and submitted but
	// present reported the surface invalid. The surface has been
	// reconfigured.
	FramePresentSkipped
	// FrameSuspended means the window has a zero extent and nothing was
	// done.
	FrameSuspended
)

func (r FrameResult) String() string {
	switch r {
	case FramePresented:
		return "presented"
	case FrameSkipped:
		return "skipped"
	case FramePresentSkipped:
		return "present skipped"
	case FrameSuspended:
		return "suspended"
	}
	return fmt.Sprintf("FrameResult(%d)", uint8(r))
}

// RecordContext is what a Recorder gets to record one frame. The command
// buffer is already in the recording state.
type RecordContext struct {
	Device        hal.Device
	CommandBuffer hal.CommandBuffer
	Slot          *FrameSlot
	Image         hal.AcquiredImage
	// Framebuffer and RenderPass are zero unless the driver was created
	// WithRenderPass.
	Framebuffer hal.Framebuffer
	RenderPass  hal.RenderPass
	Extent      hal.Extent
	FrameNumber uint64
}

// Recorder records the commands of one frame.
type Recorder interface {
	Record(ctx RecordContext) error
}

type RecorderFunc func(ctx RecordContext) error

func (f RecorderFunc) Record(ctx RecordContext) error {
	return f(ctx)
}

type Stats struct {
	Submitted        int
	Presented        int
	Skipped          int
	PresentSkipped   int
	Suspended        int
	Reconfigurations int
}

type DriverOption func(*Driver)

// WithRenderPass makes the driver keep one framebuffer per surface image
// for rp, recreated on every reconfiguration.
func WithRenderPass(rp hal.RenderPass) DriverOption {
	return func(d *Driver) { d.renderPass = rp }
}

// WithSurfaceConfig sets the initial surface configuration. Zero fields
// are filled in from the surface capabilities.
func WithSurfaceConfig(cfg hal.SurfaceConfig) DriverOption {
	return func(d *Driver) { d.surfaceCfg = cfg }
}

// Driver runs the per-frame protocol on top of a FrameRing. Frame and
// Reconfigure must be called from one goroutine; RequestReconfigure may be
// called from any.
type Driver struct {
	dev      hal.Device
	queue    hal.Queue
	surface  hal.Surface
	ring     *FrameRing
	recorder Recorder

	renderPass   hal.RenderPass
	framebuffers []hal.Framebuffer
	surfaceCfg   hal.SurfaceConfig

	mu        sync.Mutex
	requested *hal.Extent

	suspended bool
	frame     uint64
	state     State
	stats     Stats
	closed    bool
}

// NewDriver configures surface and returns a driver that owns ring. The
// surface and queue stay owned by the caller.
func NewDriver(dev hal.Device, queue hal.Queue, surface hal.Surface, ring *FrameRing, recorder Recorder, opts ...DriverOption) (*Driver, error) {
	d := &Driver{
		dev:      dev,
		queue:    queue,
		surface:  surface,
		ring:     ring,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(d)
	}
	caps := surface.Capabilities()
	if d.surfaceCfg.Extent.IsZero() {
		d.surfaceCfg.Extent = caps.CurrentExtent
	}
	if d.surfaceCfg.Format == hal.FormatUndefined && len(caps.Formats) > 0 {
		d.surfaceCfg.Format = caps.Formats[0]
	}
	if d.surfaceCfg.ImageCount == 0 {
		d.surfaceCfg.ImageCount = caps.MinImageCount + 1
	}
	if d.surfaceCfg.Extent.IsZero() {
		d.suspended = true
		return d, nil
	}
	if err := d.Reconfigure(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) FrameNumber() uint64 {
	return d.frame
}

func (d *Driver) State() State {
	return d.state
}

func (d *Driver) Stats() Stats {
	return d.stats
}

// Framebuffers returns the framebuffers of the current surface
// configuration, indexed by image.
func (d *Driver) Framebuffers() []hal.Framebuffer {
	return append([]hal.Framebuffer(nil), d.framebuffers...)
}

// RequestReconfigure records a new window extent. It is applied at the
// start of the next Frame. A zero extent suspends rendering until a
// non-zero one is requested.
func (d *Driver) RequestReconfigure(extent hal.Extent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested = &extent
}

func (d *Driver) takeRequest() (hal.Extent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.requested == nil {
		return hal.Extent{}, false
	}
	e := *d.requested
	d.requested = nil
	return e, true
}

// Frame runs one iteration of the frame loop. Swapchain invalidation is
// recovered here and reported through the result; any returned error is
// fatal for the loop. An error between acquire and present leaves that
// image acquired, so the surface must be unconfigured or destroyed rather
// than reused.
func (d *Driver) Frame() (FrameResult, error) {
	if d.closed {
		return FrameSuspended, errors.New("frame driver is closed")
	}
	if e, ok := d.takeRequest(); ok {
		if e.IsZero() {
			core.LogDebug("window has zero extent, suspending rendering")
			d.suspended = true
		} else {
			d.suspended = false
			d.surfaceCfg.Extent = e
			if err := d.Reconfigure(); err != nil {
				return FrameSuspended, err
			}
		}
	}
	if d.suspended {
		d.stats.Suspended++
		return FrameSuspended, nil
	}

	d.state = StateAcquiring
	img, err := d.surface.AcquireImage(hal.InfiniteTimeout)
	if err != nil {
		if core.IsSwapchainInvalid(err) {
			d.state = StateInvalidated
			d.stats.Skipped++
			core.LogDebug("acquire on frame %d: %s, reconfiguring", d.frame, err)
			if err := d.Reconfigure(); err != nil {
				return FrameSkipped, err
			}
			return FrameSkipped, nil
		}
		d.state = StateIdle
		return FrameSkipped, fmt.Errorf("acquire image: %w", err)
	}
	// A suboptimal image is still presentable. Reconfigure once it is
	// back with the surface.
	reconfigure := img.Suboptimal

	slot := d.ring.SlotFor(d.frame)
	if err := slot.WaitCompletion(d.dev); err != nil {
		return FrameSkipped, err
	}
	if err := slot.Reset(d.dev); err != nil {
		return FrameSkipped, err
	}

	d.state = StateRecording
	if err := d.dev.BeginRecording(slot.CommandBuffer, true); err != nil {
		return FrameSkipped, fmt.Errorf("frame %d: begin recording: %w", d.frame, err)
	}
	ctx := RecordContext{
		Device:        d.dev,
		CommandBuffer: slot.CommandBuffer,
		Slot:          slot,
		Image:         img,
		RenderPass:    d.renderPass,
		Extent:        d.surfaceCfg.Extent,
		FrameNumber:   d.frame,
	}
	if img.Index < len(d.framebuffers) {
		ctx.Framebuffer = d.framebuffers[img.Index]
	}
	if err := d.recorder.Record(ctx); err != nil {
		return FrameSkipped, fmt.Errorf("frame %d: record: %w", d.frame, err)
	}
	if err := d.dev.EndRecording(slot.CommandBuffer); err != nil {
		return FrameSkipped, fmt.Errorf("frame %d: end recording: %w", d.frame, err)
	}

	err = d.queue.Submit(hal.SubmitInfo{
		CommandBuffers: []hal.CommandBuffer{slot.CommandBuffer},
		Signals:        []hal.Semaphore{slot.CompletionSemaphore},
		Fence:          slot.CompletionFence,
	})
	if err != nil {
		return FrameSkipped, fmt.Errorf("frame %d: submit: %w", d.frame, err)
	}
	slot.armed = true
	d.frame++
	d.stats.Submitted++

	d.state = StatePresenting
	result := FramePresented
	if err := d.queue.Present(d.surface, img, slot.CompletionSemaphore); err != nil {
		if !core.IsSwapchainInvalid(err) {
			d.state = StateSubmitted
			return FramePresentSkipped, fmt.Errorf("present: %w", err)
		}
		core.LogDebug("present of frame %d: %s, reconfiguring", d.frame-1, err)
		d.state = StateInvalidated
		d.stats.PresentSkipped++
		result = FramePresentSkipped
		reconfigure = true
	} else {
		d.stats.Presented++
	}

	if reconfigure {
		if err := d.Reconfigure(); err != nil {
			return result, err
		}
	}
	d.state = StateIdle
	return result, nil
}

// Reconfigure recreates the surface images at the cached extent, clamped
// to what the surface currently supports, and the framebuffers built on
// them. It waits for the device to go idle first. The frame number and
// the ring are left alone. A minimized surface suspends the driver
// instead; the next non-zero RequestReconfigure resumes it.
func (d *Driver) Reconfigure() error {
	caps := d.surface.Capabilities()
	if caps.Minimized() {
		core.LogDebug("surface has no drawable extent, suspending rendering")
		d.suspended = true
		d.state = StateIdle
		return nil
	}

	if err := d.dev.WaitIdle(); err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	d.destroyFramebuffers()

	cfg := d.surfaceCfg
	cfg.Extent = caps.Clamp(cfg.Extent)
	cfg.ImageCount = caps.ClampImageCount(cfg.ImageCount)
	if err := d.surface.Configure(cfg); err != nil {
		err = fmt.Errorf("reconfigure surface to %s: %w", cfg.Extent, err)
		core.LogError(err.Error())
		return err
	}
	d.surfaceCfg = cfg

	if d.renderPass != 0 {
		for i, v := range d.surface.Views() {
			fb, err := d.dev.CreateFramebuffer(d.renderPass, []hal.ImageView{v}, cfg.Extent)
			if err != nil {
				d.destroyFramebuffers()
				return fmt.Errorf("reconfigure: framebuffer %d: %w", i, err)
			}
			d.framebuffers = append(d.framebuffers, fb)
		}
	}
	d.stats.Reconfigurations++
	d.state = StateIdle
	core.LogInfo("surface configured: %s, %d images, %s", cfg.Extent, cfg.ImageCount, cfg.Format)
	return nil
}

func (d *Driver) destroyFramebuffers() {
	for _, fb := range d.framebuffers {
		d.dev.DestroyFramebuffer(fb)
	}
	d.framebuffers = nil
}

// Run calls pump and Frame until pump returns false, ctx is done or Frame
// fails. Cancellation is only observed between frames.
func (d *Driver) Run(ctx context.Context, pump func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if pump != nil && !pump() {
			return nil
		}
		if _, err := d.Frame(); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				core.LogError("device lost on frame %d, stopping", d.frame)
			}
			return err
		}
	}
}

// Close waits for the device to go idle and destroys the framebuffers and
// the ring. The surface is left configured for its owner to release.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.dev.WaitIdle()
	d.destroyFramebuffers()
	if rerr := d.ring.Teardown(); err == nil {
		err = rerr
	}
	return err
}
