package software

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

const maxSurfaceExtent = 16384

// Surface is an offscreen swapchain. Tests drive invalidation through
// Resize and the scripted acquire and present results.
type Surface struct {
	d          *Device
	window     hal.Extent
	cfg        hal.SurfaceConfig
	configured bool
	outOfDate  bool

	images   []hal.Image
	views    []hal.ImageView
	acquired []bool
	next     int

	acquireScript []error
	presentScript []error
}

// NewSurface returns an unconfigured surface for a window of the given
// size.
func (d *Device) NewSurface(window hal.Extent) *Surface {
	return &Surface{d: d, window: window}
}

// Resize changes the window size. The swapchain becomes out of date if the
// new size differs from the configured one.
func (s *Surface) Resize(window hal.Extent) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.window = window
	if s.configured && window != s.cfg.Extent {
		s.outOfDate = true
	}
}

// ScriptAcquire queues results for the next acquires. A nil entry is a
// normal acquire, core.ErrSuboptimal a successful acquire flagged
// suboptimal, anything else is returned as is.
func (s *Surface) ScriptAcquire(errs ...error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.acquireScript = append(s.acquireScript, errs...)
}

// ScriptPresent queues results for the next presents. A nil entry is a
// normal present.
func (s *Surface) ScriptPresent(errs ...error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.presentScript = append(s.presentScript, errs...)
}

// Images returns the presentable images of the current configuration.
func (s *Surface) Images() []hal.Image {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return append([]hal.Image(nil), s.images...)
}

func (s *Surface) AcquireImage(timeout time.Duration) (hal.AcquiredImage, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Acquires++
	d.logCall(Call{Op: OpAcquire})
	if d.lost {
		return hal.AcquiredImage{}, fmt.Errorf("acquire: %w", core.ErrDeviceLost)
	}
	if err := d.fault(OpAcquire); err != nil {
		return hal.AcquiredImage{}, err
	}
	var scripted error
	if len(s.acquireScript) > 0 {
		scripted = s.acquireScript[0]
		s.acquireScript = s.acquireScript[1:]
	}
	if scripted != nil && !errors.Is(scripted, core.ErrSuboptimal) {
		return hal.AcquiredImage{}, scripted
	}
	if !s.configured || s.outOfDate {
		return hal.AcquiredImage{}, fmt.Errorf("acquire: %w", core.ErrOutOfDate)
	}
	for i := range s.images {
		idx := (s.next + i) % len(s.images)
		if s.acquired[idx] {
			continue
		}
		s.acquired[idx] = true
		s.next = idx + 1
		return hal.AcquiredImage{Index: idx, View: s.views[idx], Suboptimal: scripted != nil}, nil
	}
	d.violation("acquire with all %d images already acquired", len(s.images))
	return hal.AcquiredImage{}, fmt.Errorf("acquire: %w", core.ErrTimeout)
}

func (s *Surface) Configure(cfg hal.SurfaceConfig) error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Configures++
	d.logCall(Call{Op: OpConfigure})
	if err := d.fault(OpConfigure); err != nil {
		return err
	}
	if cfg.Extent.IsZero() {
		return fmt.Errorf("configure surface: zero extent %s", cfg.Extent)
	}
	if cfg.ImageCount <= 0 {
		return fmt.Errorf("configure surface: image count %d", cfg.ImageCount)
	}
	s.unconfigureLocked()
	for i := 0; i < cfg.ImageCount; i++ {
		img, err := d.createImageLocked(hal.ImageDesc{
			Extent: cfg.Extent,
			Format: cfg.Format,
			Usage:  hal.ImageUsageColorAttachment | hal.ImageUsageTransferDst | hal.ImageUsageTransferSrc,
		}, true)
		if err != nil {
			s.unconfigureLocked()
			return err
		}
		s.images = append(s.images, img)
		v, err := d.createViewLocked(img)
		if err != nil {
			s.unconfigureLocked()
			return err
		}
		s.views = append(s.views, v)
	}
	s.acquired = make([]bool, cfg.ImageCount)
	s.next = 0
	s.cfg = cfg
	s.configured = true
	s.outOfDate = cfg.Extent != s.window
	return nil
}

func (s *Surface) Unconfigure() {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.unconfigureLocked()
}

func (s *Surface) unconfigureLocked() {
	d := s.d
	for i, img := range s.images {
		if s.acquired[i] {
			d.violation("surface reconfigured while image %d is acquired", i)
		}
		if i < len(s.views) && d.release(uint64(s.views[i]), kindImageView) {
			delete(d.views, s.views[i])
		}
		if d.release(uint64(img), kindImage) {
			delete(d.images, img)
		}
	}
	s.images, s.views, s.acquired = nil, nil, nil
	s.configured = false
}

func (s *Surface) Config() hal.SurfaceConfig {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.cfg
}

func (s *Surface) Capabilities() hal.SurfaceCapabilities {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	caps := hal.SurfaceCapabilities{
		CurrentExtent: s.window,
		MinExtent:     hal.Extent{Width: 1, Height: 1},
		MaxExtent:     hal.Extent{Width: maxSurfaceExtent, Height: maxSurfaceExtent},
		MinImageCount: 2,
		MaxImageCount: 8,
		Formats:       []hal.Format{hal.FormatBGRA8Unorm, hal.FormatRGBA8Unorm},
	}
	// A minimized window reports no usable extent at all.
	if s.window.IsZero() {
		caps.CurrentExtent = hal.Extent{}
		caps.MinExtent = hal.Extent{}
		caps.MaxExtent = hal.Extent{}
	}
	return caps
}

func (s *Surface) Views() []hal.ImageView {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return append([]hal.ImageView(nil), s.views...)
}

func (s *Surface) releaseLocked(idx int) {
	if idx < 0 || idx >= len(s.acquired) || !s.acquired[idx] {
		s.d.violation("present of image %d that was not acquired", idx)
		return
	}
	s.acquired[idx] = false
}

func (s *Surface) nextPresentResult() error {
	if len(s.presentScript) == 0 {
		return nil
	}
	err := s.presentScript[0]
	s.presentScript = s.presentScript[1:]
	return err
}
