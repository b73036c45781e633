package frame

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

var clearColor = hal.ClearColor{0, 0.5, 1, 1}

type harness struct {
	dev     *software.Device
	surface *software.Surface
	ring    *FrameRing
	pass    hal.RenderPass
	driver  *Driver
}

func clearRecorder(ctx RecordContext) error {
	ctx.Device.BeginRenderPass(ctx.CommandBuffer, hal.RenderPassBegin{
		Pass:        ctx.RenderPass,
		Framebuffer: ctx.Framebuffer,
		Area:        ctx.Extent,
		ClearColors: []hal.ClearColor{clearColor},
	})
	ctx.Device.EndRenderPass(ctx.CommandBuffer)
	return nil
}

func newHarness(t *testing.T, frames int, devOpts []software.Option, ringOpts ...RingOption) *harness {
	t.Helper()
	h := &harness{dev: software.NewDevice(devOpts...)}
	h.surface = h.dev.NewSurface(hal.Extent{Width: 8, Height: 4})
	var err error
	h.ring, err = NewFrameRing(h.dev, frames, ringOpts...)
	if err != nil {
		t.Fatal(err)
	}
	h.pass, err = h.dev.CreateRenderPass(hal.RenderPassDesc{Attachments: []hal.AttachmentDesc{{
		Format:        hal.FormatBGRA8Unorm,
		Load:          hal.LoadOpClear,
		InitialLayout: hal.LayoutUndefined,
		FinalLayout:   hal.LayoutPresent,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	h.driver, err = NewDriver(h.dev, h.dev.Queue(), h.surface, h.ring, RecorderFunc(clearRecorder), WithRenderPass(h.pass))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) run(t *testing.T, n int) []FrameResult {
	t.Helper()
	var results []FrameResult
	for i := 0; i < n; i++ {
		r, err := h.driver.Frame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		results = append(results, r)
	}
	return results
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	if err := h.driver.Close(); err != nil {
		t.Fatal(err)
	}
	h.surface.Unconfigure()
	h.dev.DestroyRenderPass(h.pass)
}

func checkViolations(t *testing.T, dev *software.Device) {
	t.Helper()
	if v := dev.Stats().Violations; len(v) != 0 {
		t.Errorf("device violations:\n%v", v)
	}
}

func TestBoundedOverlap(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		h := newHarness(t, n, nil)
		h.run(t, 20)
		if m := h.dev.Stats().MaxOutstanding; m != n {
			t.Errorf("frames in flight with a ring of %d\nhave %d\nwant %d", n, m, n)
		}
		checkViolations(t, h.dev)
		h.close(t)
	}
}

func TestBoundedOverlapWithLatency(t *testing.T) {
	h := newHarness(t, 3, []software.Option{software.WithLatency(7)})
	h.run(t, 50)
	if m := h.dev.Stats().MaxOutstanding; m > 3 {
		t.Errorf("frames in flight\nhave %d\nwant <= 3", m)
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestSlotReuseOrdering(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.run(t, 10)

	poolFence := map[uint64]hal.Fence{}
	for i := 0; i < h.ring.Len(); i++ {
		s := h.ring.SlotFor(uint64(i))
		poolFence[uint64(s.CommandPool)] = s.CompletionFence
	}
	// Fences submitted and not waited on since.
	inFlight := map[hal.Fence]bool{}
	for i, c := range h.dev.Calls() {
		switch c.Op {
		case software.OpSubmit:
			if c.Fence != 0 {
				inFlight[c.Fence] = true
			}
		case software.OpWaitFence:
			delete(inFlight, hal.Fence(c.Handle))
		case software.OpResetFence:
			if inFlight[hal.Fence(c.Handle)] {
				t.Errorf("call %d: fence %d reset before it was waited on", i, c.Handle)
			}
		case software.OpResetCommandPool:
			if f := poolFence[c.Handle]; inFlight[f] {
				t.Errorf("call %d: command pool %d reset before fence %d was waited on", i, c.Handle, f)
			}
		}
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestPresentAfterRender(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.run(t, 7)

	var signaled []hal.Semaphore
	presents := 0
	for i, c := range h.dev.Calls() {
		switch c.Op {
		case software.OpSubmit:
			signaled = c.Semaphores
		case software.OpPresent:
			presents++
			if len(c.Semaphores) != 1 || !reflect.DeepEqual(c.Semaphores, signaled) {
				t.Errorf("call %d: present waits on %v\nwant the semaphore signaled by the last submit %v", i, c.Semaphores, signaled)
			}
		}
	}
	if presents != 7 {
		t.Errorf("presents\nhave %d\nwant 7", presents)
	}
	if err := h.dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	want := []byte{255, 128, 0, 255}
	for _, img := range h.surface.Images() {
		px, err := h.dev.ImagePixels(img)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(px[:4], want) {
			t.Errorf("image %d texel\nhave %v\nwant %v", img, px[:4], want)
		}
		if l := h.dev.ImageLayout(img); l != hal.LayoutPresent {
			t.Errorf("image %d layout\nhave %s\nwant %s", img, l, hal.LayoutPresent)
		}
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestInvalidationRecovery(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.surface.ScriptAcquire(nil, core.ErrOutOfDate, nil)
	configures := h.dev.Stats().Configures

	have := h.run(t, 3)
	want := []FrameResult{FramePresented, FrameSkipped, FramePresented}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("frame results\nhave %v\nwant %v", have, want)
	}
	if n := h.dev.Stats().Configures - configures; n != 1 {
		t.Errorf("reconfigurations\nhave %d\nwant 1", n)
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestResizeRecovery(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.run(t, 2)
	resized := hal.Extent{Width: 16, Height: 16}
	h.surface.Resize(resized)

	have := h.run(t, 2)
	want := []FrameResult{FrameSkipped, FramePresented}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("frame results after resize\nhave %v\nwant %v", have, want)
	}
	if e := h.surface.Config().Extent; e != resized {
		t.Errorf("surface extent\nhave %v\nwant %v", e, resized)
	}
	if n := len(h.driver.Framebuffers()); n != len(h.surface.Views()) {
		t.Errorf("framebuffers\nhave %d\nwant one per surface image (%d)", n, len(h.surface.Views()))
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestFrameNumberPolicy(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.surface.ScriptAcquire(nil, core.ErrOutOfDate)
	h.surface.ScriptPresent(nil, nil, core.ErrOutOfDate)

	cases := []struct {
		result FrameResult
		frame  uint64
	}{
		{FramePresented, 1},
		// Acquire failed: no slot consumed.
		{FrameSkipped, 1},
		{FramePresented, 2},
		// Present failed after submit: the slot was consumed.
		{FramePresentSkipped, 3},
		{FramePresented, 4},
	}
	for i, c := range cases {
		r, err := h.driver.Frame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if r != c.result || h.driver.FrameNumber() != c.frame {
			t.Errorf("frame %d\nhave %v, frame number %d\nwant %v, frame number %d", i, r, h.driver.FrameNumber(), c.result, c.frame)
		}
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestSuboptimalAcquire(t *testing.T) {
	h := newHarness(t, 2, nil)
	before := h.driver.Stats().Reconfigurations
	h.surface.ScriptAcquire(core.ErrSuboptimal)
	if r, err := h.driver.Frame(); err != nil || r != FramePresented {
		t.Fatalf("suboptimal frame\nhave %v, %v\nwant %v, nil", r, err, FramePresented)
	}
	if n := h.driver.Stats().Reconfigurations - before; n != 1 {
		t.Errorf("reconfigurations after suboptimal acquire\nhave %d\nwant 1", n)
	}
	if h.driver.FrameNumber() != 1 {
		t.Errorf("frame number\nhave %d\nwant 1", h.driver.FrameNumber())
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestUnsignaledFences(t *testing.T) {
	h := newHarness(t, 3, nil, WithUnsignaledFences())
	h.run(t, 3)
	waits := h.dev.Stats().FenceWaits
	if waits != 0 {
		t.Errorf("fence waits during the first ring cycle\nhave %d\nwant 0", waits)
	}
	h.run(t, 3)
	if waits = h.dev.Stats().FenceWaits; waits != 3 {
		t.Errorf("fence waits during the second ring cycle\nhave %d\nwant 3", waits)
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestSuspendOnZeroExtent(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.run(t, 1)
	h.driver.RequestReconfigure(hal.Extent{Width: 0, Height: 4})
	acquires := h.dev.Stats().Acquires
	have := h.run(t, 2)
	if !reflect.DeepEqual(have, []FrameResult{FrameSuspended, FrameSuspended}) {
		t.Errorf("frame results while minimized\nhave %v\nwant suspended", have)
	}
	if n := h.dev.Stats().Acquires; n != acquires {
		t.Errorf("acquires while suspended\nhave %d\nwant %d", n, acquires)
	}

	restored := hal.Extent{Width: 12, Height: 6}
	h.surface.Resize(restored)
	h.driver.RequestReconfigure(restored)
	if r, err := h.driver.Frame(); err != nil || r != FramePresented {
		t.Fatalf("frame after restore\nhave %v, %v\nwant %v, nil", r, err, FramePresented)
	}
	if e := h.surface.Config().Extent; e != restored {
		t.Errorf("surface extent\nhave %v\nwant %v", e, restored)
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestOutOfDateWhileMinimized(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.run(t, 1)
	h.surface.Resize(hal.Extent{})
	configures := h.dev.Stats().Configures

	if r, err := h.driver.Frame(); err != nil || r != FrameSkipped {
		t.Fatalf("out-of-date frame while minimized\nhave %v, %v\nwant %v, nil", r, err, FrameSkipped)
	}
	if n := h.dev.Stats().Configures; n != configures {
		t.Errorf("surface configured while minimized\nhave %d configures\nwant %d", n, configures)
	}
	acquires := h.dev.Stats().Acquires
	if r, err := h.driver.Frame(); err != nil || r != FrameSuspended {
		t.Fatalf("frame after minimize\nhave %v, %v\nwant %v, nil", r, err, FrameSuspended)
	}
	if n := h.dev.Stats().Acquires; n != acquires {
		t.Errorf("acquires while suspended\nhave %d\nwant %d", n, acquires)
	}

	restored := hal.Extent{Width: 8, Height: 8}
	h.surface.Resize(restored)
	h.driver.RequestReconfigure(restored)
	if r, err := h.driver.Frame(); err != nil || r != FramePresented {
		t.Fatalf("frame after restore\nhave %v, %v\nwant %v, nil", r, err, FramePresented)
	}
	if e := h.surface.Config().Extent; e != restored {
		t.Errorf("surface extent\nhave %v\nwant %v", e, restored)
	}
	checkViolations(t, h.dev)
	h.close(t)
}

func TestPresentFailureLeavesSubmitted(t *testing.T) {
	h := newHarness(t, 2, nil)
	boom := errors.New("present failed")
	h.surface.ScriptPresent(boom)
	if _, err := h.driver.Frame(); !errors.Is(err, boom) {
		t.Fatalf("Frame with a failing present\nhave %v\nwant %v", err, boom)
	}
	if s := h.driver.State(); s != StateSubmitted {
		t.Errorf("driver state\nhave %v\nwant %v", s, StateSubmitted)
	}
	if n := h.driver.FrameNumber(); n != 1 {
		t.Errorf("frame number\nhave %d\nwant 1", n)
	}
	if err := h.driver.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceLost(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.run(t, 2)
	h.dev.Lose()
	if _, err := h.driver.Frame(); !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Frame on a lost device\nhave %v\nwant %v", err, core.ErrDeviceLost)
	}
	err := h.driver.Run(context.Background(), func() bool { return true })
	if !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Run on a lost device\nhave %v\nwant %v", err, core.ErrDeviceLost)
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t, 2, nil)
	n := 0
	err := h.driver.Run(context.Background(), func() bool {
		n++
		return n <= 5
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.driver.FrameNumber() != 5 {
		t.Errorf("frame number\nhave %d\nwant 5", h.driver.FrameNumber())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.driver.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run with a canceled context\nhave %v\nwant %v", err, context.Canceled)
	}
	h.close(t)
}

func TestCloseIdempotent(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.run(t, 5)
	h.close(t)
	if err := h.driver.Close(); err != nil {
		t.Fatal(err)
	}
	st := h.dev.Stats()
	if st.DoubleFrees != 0 {
		t.Errorf("DoubleFrees\nhave %d\nwant 0", st.DoubleFrees)
	}
	if n := h.dev.Live(); n != 0 {
		t.Errorf("live objects after close\nhave %d\nwant 0", n)
	}
	if _, err := h.driver.Frame(); err == nil {
		t.Error("Frame after Close\nhave nil\nwant error")
	}
}
