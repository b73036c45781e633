package software

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

func recordClear(t *testing.T, d *Device, cb hal.CommandBuffer, img hal.Image, c hal.ClearColor) {
	t.Helper()
	if err := d.BeginRecording(cb, true); err != nil {
		t.Fatalf("BeginRecording: %v", err)
	}
	d.PipelineBarrier(cb, hal.StageTopOfPipe, hal.StageTransfer, []hal.ImageBarrier{{
		Image: img,
		From:  hal.ImageState{Layout: hal.LayoutUndefined},
		To:    hal.ImageState{Access: hal.AccessTransferWrite, Layout: hal.LayoutTransferDst},
	}}, nil)
	d.ClearColorImage(cb, img, hal.LayoutTransferDst, c)
	if err := d.EndRecording(cb); err != nil {
		t.Fatalf("EndRecording: %v", err)
	}
}

func TestFenceWaitRetiresSubmission(t *testing.T) {
	d := NewDevice()
	pool, _ := d.CreateCommandPool()
	cb, _ := d.AllocateCommandBuffer(pool)
	f, _ := d.CreateFence(false)
	img, err := d.CreateImage(hal.ImageDesc{Extent: hal.Extent{Width: 2, Height: 2}, Format: hal.FormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}
	recordClear(t, d, cb, img, hal.ClearColor{1, 0, 0, 1})
	if err := d.Queue().Submit(hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{cb}, Fence: f}); err != nil {
		t.Fatal(err)
	}
	if d.FenceSignaled(f) {
		t.Fatal("fence signaled before anything waited on it")
	}
	if n := d.Outstanding(); n != 1 {
		t.Errorf("d.Outstanding()\nhave %d\nwant 1", n)
	}
	if err := d.WaitForFence(f, hal.InfiniteTimeout); err != nil {
		t.Fatal(err)
	}
	px, _ := d.ImagePixels(img)
	if px[0] != 255 || px[1] != 0 || px[3] != 255 {
		t.Errorf("cleared texel\nhave %v\nwant [255 0 0 255]", px[:4])
	}
	if l := d.ImageLayout(img); l != hal.LayoutTransferDst {
		t.Errorf("d.ImageLayout\nhave %s\nwant %s", l, hal.LayoutTransferDst)
	}
	if err := d.BeginRecording(cb, true); err == nil {
		t.Error("BeginRecording on an invalid one-time buffer\nhave nil\nwant error")
	}
	if v := d.Stats().Violations; len(v) != 1 {
		t.Errorf("violations\nhave %v\nwant exactly the begin-after-execute one", v)
	}
}

func TestWaitOnUnsubmittedFence(t *testing.T) {
	d := NewDevice()
	f, _ := d.CreateFence(false)
	if err := d.WaitForFence(f, hal.InfiniteTimeout); !errors.Is(err, core.ErrTimeout) {
		t.Errorf("WaitForFence\nhave %v\nwant %v", err, core.ErrTimeout)
	}
}

func TestSubmitStillRecording(t *testing.T) {
	d := NewDevice()
	pool, _ := d.CreateCommandPool()
	cb, _ := d.AllocateCommandBuffer(pool)
	if err := d.Queue().Submit(hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{cb}}); !errors.Is(err, core.ErrNotRecording) {
		t.Errorf("Submit of initial buffer\nhave %v\nwant %v", err, core.ErrNotRecording)
	}
	_ = d.BeginRecording(cb, false)
	if err := d.Queue().Submit(hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{cb}}); !errors.Is(err, core.ErrStillRecording) {
		t.Errorf("Submit of recording buffer\nhave %v\nwant %v", err, core.ErrStillRecording)
	}
	if err := d.EndRecording(cb); err != nil {
		t.Fatal(err)
	}
	if err := d.EndRecording(cb); !errors.Is(err, core.ErrNotRecording) {
		t.Errorf("second EndRecording\nhave %v\nwant %v", err, core.ErrNotRecording)
	}
}

func TestResetPoolWhilePending(t *testing.T) {
	d := NewDevice()
	pool, _ := d.CreateCommandPool()
	cb, _ := d.AllocateCommandBuffer(pool)
	_ = d.BeginRecording(cb, true)
	_ = d.EndRecording(cb)
	_ = d.Queue().Submit(hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{cb}})
	_ = d.ResetCommandPool(pool)
	if v := d.Stats().Violations; len(v) != 1 {
		t.Errorf("violations\nhave %v\nwant one pool reset violation", v)
	}
}

func TestDoubleDestroy(t *testing.T) {
	d := NewDevice()
	s, _ := d.CreateSemaphore()
	d.DestroySemaphore(s)
	d.DestroySemaphore(s)
	st := d.Stats()
	if st.DoubleFrees != 1 {
		t.Errorf("DoubleFrees\nhave %d\nwant 1", st.DoubleFrees)
	}
	if d.Live() != 0 {
		t.Errorf("d.Live()\nhave %d\nwant 0", d.Live())
	}
}

func TestFailNext(t *testing.T) {
	d := NewDevice()
	d.FailNext(OpCreateFence, core.ErrOutOfDeviceMemory)
	if _, err := d.CreateFence(true); !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Errorf("CreateFence\nhave %v\nwant %v", err, core.ErrOutOfDeviceMemory)
	}
	if _, err := d.CreateFence(true); err != nil {
		t.Errorf("CreateFence after fault\nhave %v\nwant nil", err)
	}
}

func TestMapMemory(t *testing.T) {
	d := NewDevice()
	b, _ := d.CreateBuffer(64, hal.BufferUsageTransferDst)
	m, err := d.AllocateMemory(b, hal.MemoryHostVisible|hal.MemoryHostCoherent)
	if err != nil {
		t.Fatal(err)
	}
	p, err := d.MapMemory(m, 16, hal.WholeSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 48 {
		t.Errorf("len(mapped)\nhave %d\nwant 48", len(p))
	}
	if _, err := d.MapMemory(m, 0, 4); err == nil {
		t.Error("second MapMemory\nhave nil\nwant error")
	}
	d.UnmapMemory(m)

	dev, _ := d.CreateBuffer(8, hal.BufferUsageStorage)
	dm, _ := d.AllocateMemory(dev, hal.MemoryDeviceLocal)
	if _, err := d.MapMemory(dm, 0, hal.WholeSize); err == nil {
		t.Error("MapMemory of device local memory\nhave nil\nwant error")
	}
}

func TestSurfaceInvalidation(t *testing.T) {
	d := NewDevice()
	s := d.NewSurface(hal.Extent{Width: 64, Height: 32})
	cfg := hal.SurfaceConfig{Extent: hal.Extent{Width: 64, Height: 32}, Format: hal.FormatBGRA8Unorm, ImageCount: 2}
	if err := s.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	img, err := s.AcquireImage(hal.InfiniteTimeout)
	if err != nil {
		t.Fatal(err)
	}
	s.Resize(hal.Extent{Width: 128, Height: 64})
	if err := d.Queue().Present(s, img); !errors.Is(err, core.ErrOutOfDate) {
		t.Errorf("Present after resize\nhave %v\nwant %v", err, core.ErrOutOfDate)
	}
	if _, err := s.AcquireImage(hal.InfiniteTimeout); !errors.Is(err, core.ErrOutOfDate) {
		t.Errorf("AcquireImage after resize\nhave %v\nwant %v", err, core.ErrOutOfDate)
	}
	cfg.Extent = s.Capabilities().Clamp(cfg.Extent)
	if err := s.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	s.ScriptAcquire(core.ErrSuboptimal)
	img, err = s.AcquireImage(hal.InfiniteTimeout)
	if err != nil || !img.Suboptimal {
		t.Errorf("scripted suboptimal acquire\nhave %+v, %v\nwant suboptimal image", img, err)
	}
	s.Unconfigure()
	if d.Live() != 0 {
		t.Errorf("d.Live() after Unconfigure\nhave %d\nwant 0", d.Live())
	}
}

func TestFloat16(t *testing.T) {
	cases := []struct {
		v    float32
		want uint16
	}{
		{0, 0},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{65504, 0x7bff},
		{1e10, 0x7c00},
	}
	for _, c := range cases {
		if h := float16(c.v); h != c.want {
			t.Errorf("float16(%v)\nhave %#04x\nwant %#04x", c.v, h, c.want)
		}
	}
}
