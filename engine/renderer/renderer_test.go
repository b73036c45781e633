package renderer

import (
	"testing"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/frame"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

func newTestRenderer(t *testing.T) (*Renderer, *softwareBackend) {
	t.Helper()
	b := NewSoftwareBackend(hal.Extent{Width: 16, Height: 8}).(*softwareBackend)
	cfg := core.DefaultConfig().Renderer
	cfg.Backend = core.BackendSoftware
	r, err := New(b, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r, b
}

func TestDrawFrame(t *testing.T) {
	r, b := newTestRenderer(t)
	color := hal.ClearColor{1, 0, 0, 1}
	for i := 0; i < 5; i++ {
		res, err := r.DrawFrame(&FramePacket{DeltaTime: 1.0 / 60, ClearColor: color})
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if res != frame.FramePresented {
			t.Errorf("frame %d\nhave %s\nwant %s", i, res, frame.FramePresented)
		}
	}
	if n := r.FrameNumber(); n != 5 {
		t.Errorf("FrameNumber\nhave %d\nwant 5", n)
	}

	// Every presented image was cleared to the packet's color.
	if err := b.dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	for _, img := range b.surface.Images() {
		px, err := b.dev.ImagePixels(img)
		if err != nil {
			t.Fatal(err)
		}
		if px[0] != 0 || px[2] != 255 {
			t.Errorf("bgra pixel\nhave %v\nwant red", px[:4])
		}
	}

	if err := r.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("second Shutdown\nhave %v\nwant nil", err)
	}
	if v := b.dev.Stats().Violations; len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
	if n := b.dev.Live(); n != 0 {
		t.Errorf("dev.Live() after Shutdown\nhave %d\nwant 0", n)
	}
}

func TestOnResize(t *testing.T) {
	r, b := newTestRenderer(t)
	defer r.Shutdown()

	b.surface.Resize(hal.Extent{Width: 32, Height: 32})
	r.OnResize(32, 32)
	if _, err := r.DrawFrame(&FramePacket{}); err != nil {
		t.Fatal(err)
	}
	if have := b.surface.Config().Extent; have != (hal.Extent{Width: 32, Height: 32}) {
		t.Errorf("surface extent\nhave %s\nwant 32x32", have)
	}
	if n := r.Stats().Reconfigurations; n < 2 {
		t.Errorf("Reconfigurations\nhave %d\nwant at least 2", n)
	}
}

func TestNewWithoutFormats(t *testing.T) {
	if _, err := New(nil, core.DefaultConfig().Renderer); err == nil {
		t.Error("New(nil)\nhave nil\nwant error")
	}
	b := NewSoftwareBackend(hal.Extent{Width: 4, Height: 4}, software.WithStrict())
	cfg := core.DefaultConfig().Renderer
	cfg.FramesInFlight = 0
	if _, err := New(b, cfg); err == nil {
		t.Error("New with zero frames in flight\nhave nil\nwant error")
	}
}
