package scene

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

const testScene = `
[resources.buffers.src]
size = 16
usage = ["transfer_src"]
bytes = [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16]

[resources.buffers.dst]
size = 16
usage = ["transfer_dst"]

[resources.images.target]
width = 2
height = 2
format = "rgba8unorm"
usage = ["color_attachment"]

[resources.render_passes.pass]
[[resources.render_passes.pass.attachments]]
format = "rgba8unorm"
load = "clear"
initial_layout = "color_attachment"
final_layout = "color_attachment"

[resources.framebuffers.fb]
pass = "pass"
images = ["target"]

[[jobs.copy.transfer]]
op = "copy_buffer"
src = "src"
dst = "dst"

[[jobs.fill.transfer]]
op = "clear_image"
dst = "target"
color = [1.0, 0.0, 0.0, 1.0]

[jobs.draw.graphics]
framebuffer = "fb"
clear_colors = [[0.0, 1.0, 0.0, 1.0]]
`

func loadTestScene(t *testing.T, dev *software.Device) *Scene {
	t.Helper()
	desc, err := ParseDescription([]byte(testScene))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Load(dev, dev.Queue(), desc, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func checkerboard() []int {
	var px []int
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if (x+y)%2 == 0 {
				px = append(px, 255, 255, 255, 255)
			} else {
				px = append(px, 0, 0, 0, 255)
			}
		}
	}
	return px
}

func TestAlign(t *testing.T) {
	cases := []struct{ x, y, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{16, 0, 16},
		{13, 4, 16},
	}
	for _, c := range cases {
		if have := Align(c.x, c.y); have != c.want {
			t.Errorf("Align(%d, %d)\nhave %d\nwant %d", c.x, c.y, have, c.want)
		}
	}
	if p := RowPitch(4, hal.FormatRGBA8Unorm, hal.Limits{OptimalBufferCopyPitchAlignment: 256}); p != 256 {
		t.Errorf("RowPitch\nhave %d\nwant 256", p)
	}
}

func TestReadbackRoundTrip(t *testing.T) {
	dev := software.NewDevice()
	desc := &Description{Resources: Resources{Images: map[string]ImageSpec{
		"checker": {Width: 4, Height: 4, Format: hal.FormatRGBA8Unorm, Usage: []string{"sampled"}, Bytes: checkerboard()},
	}}}
	s, err := Load(dev, dev.Queue(), desc, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	before := len(dev.Calls())
	g, err := s.FetchImage("checker")
	if err != nil {
		t.Fatal(err)
	}
	var allocs []hal.MemoryProperty
	for _, c := range dev.Calls()[before:] {
		if c.Op == software.OpAllocateMemory {
			allocs = append(allocs, c.Memory)
		}
	}
	if want := []hal.MemoryProperty{hal.MemoryHostVisible | hal.MemoryHostCached}; len(allocs) != 1 || allocs[0] != want[0] {
		t.Errorf("readback memory properties\nhave %v\nwant %v", allocs, want)
	}
	if g.RowPitch() != 256 {
		t.Errorf("g.RowPitch()\nhave %d\nwant 256", g.RowPitch())
	}
	want := checkerboard()
	for y := 0; y < 4; y++ {
		row := g.Row(y)
		for x, v := range row {
			if int(v) != want[y*16+x] {
				t.Fatalf("row %d\nhave %v\nwant %v", y, row, want[y*16:y*16+16])
			}
		}
		if len(row) != 16 {
			t.Errorf("len(row %d)\nhave %d\nwant 16", y, len(row))
		}
	}
	if g.Row(4) != nil {
		t.Error("g.Row(4) past the last row is not nil")
	}
	if l := dev.ImageLayout(s.Images["checker"].Handle); l != hal.LayoutShaderReadOnly {
		t.Errorf("layout after fetch\nhave %s\nwant %s", l, hal.LayoutShaderReadOnly)
	}
	g.Close()
	g.Close()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if dev.Live() != 0 {
		t.Errorf("dev.Live()\nhave %d\nwant 0", dev.Live())
	}
	if st := dev.Stats(); st.DoubleFrees != 0 || len(st.Violations) != 0 {
		t.Errorf("device misuse: %d double frees, violations %v", st.DoubleFrees, st.Violations)
	}
}

func TestInitOnce(t *testing.T) {
	dev := software.NewDevice()
	s := loadTestScene(t, dev)
	defer s.Close()
	if !s.InitPending() {
		t.Fatal("init not pending after Load")
	}
	if err := s.Run("copy"); err != nil {
		t.Fatal(err)
	}
	if s.InitPending() {
		t.Error("init still pending after the first Run")
	}
	// The init buffer is one-time-submit; submitting it again would fail.
	for i := 0; i < 3; i++ {
		if err := s.Run("copy"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	g, err := s.FetchBuffer("dst")
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if !bytes.Equal(g.Row(0), want) {
		t.Errorf("dst\nhave %v\nwant %v", g.Row(0), want)
	}
	if v := dev.Stats().Violations; len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func TestJobs(t *testing.T) {
	cases := []struct {
		job  string
		want []byte
	}{
		{"fill", []byte{255, 0, 0, 255}},
		{"draw", []byte{0, 255, 0, 255}},
	}
	for _, c := range cases {
		t.Run(c.job, func(t *testing.T) {
			dev := software.NewDevice()
			s := loadTestScene(t, dev)
			defer s.Close()
			if err := s.Run(c.job); err != nil {
				t.Fatal(err)
			}
			g, err := s.FetchImage("target")
			if err != nil {
				t.Fatal(err)
			}
			defer g.Close()
			want := append(append([]byte(nil), c.want...), c.want...)
			for y := 0; y < g.Rows(); y++ {
				if !bytes.Equal(g.Row(y), want) {
					t.Errorf("row %d\nhave %v\nwant %v", y, g.Row(y), want)
				}
			}
			if v := dev.Stats().Violations; len(v) != 0 {
				t.Errorf("violations: %v", v)
			}
		})
	}
}

func TestUnknownJob(t *testing.T) {
	dev := software.NewDevice()
	s := loadTestScene(t, dev)
	defer s.Close()
	submits := dev.Stats().Submits
	if err := s.Run("copy", "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Run with an unknown job\nhave %v\nwant %v", err, ErrUnknownJob)
	}
	if n := dev.Stats().Submits; n != submits {
		t.Errorf("submits\nhave %d\nwant %d", n, submits)
	}
	if !s.InitPending() {
		t.Error("failed Run consumed the init buffer")
	}
}

func TestLoadFailureReleasesResources(t *testing.T) {
	dev := software.NewDevice()
	desc, err := ParseDescription([]byte(testScene))
	if err != nil {
		t.Fatal(err)
	}
	dev.FailNext(software.OpCreateFramebuffer, errors.New("boom"))
	if _, err := Load(dev, dev.Queue(), desc, ""); err == nil {
		t.Fatal("Load\nhave nil\nwant error")
	}
	if n := dev.Live(); n != 0 {
		t.Errorf("dev.Live() after failed Load\nhave %d\nwant 0", n)
	}
}

func TestDescriptionValidation(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"zero size", "[resources.buffers.b]\nsize = 0"},
		{"bad usage", "[resources.buffers.b]\nsize = 4\nusage = [\"nope\"]"},
		{"bad format", "[resources.images.i]\nwidth = 1\nheight = 1\nformat = \"rgb565\""},
		{"missing framebuffer", "[jobs.j.graphics]\nframebuffer = \"fb\""},
		{"empty job", "[jobs.j]"},
		{"unknown op", "[resources.buffers.b]\nsize = 4\n[[jobs.j.transfer]]\nop = \"blit\"\nsrc = \"b\"\ndst = \"b\""},
	}
	for _, c := range cases {
		if _, err := ParseDescription([]byte(c.toml)); err == nil {
			t.Errorf("%s: ParseDescription\nhave nil\nwant error", c.name)
		}
	}
}
