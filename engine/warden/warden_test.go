package warden

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/gfxring/engine/assets"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/software"
)

const basicScene = `
[resources.buffers.src]
size = 8
usage = ["transfer_src"]
data = "ramp.raw"

[resources.buffers.dst]
size = 8
usage = ["transfer_dst"]

[resources.images.target]
width = 2
height = 2
format = "rgba8unorm"
usage = ["color_attachment"]

[[jobs.copy.transfer]]
op = "copy_buffer"
src = "src"
dst = "dst"

[[jobs.fill.transfer]]
op = "clear_image"
dst = "target"
color = [1.0, 0.0, 0.0, 1.0]
`

const localSuite = `
name = "local"

[[tests]]
scene = "basic"
name = "copy"
jobs = ["copy"]
expect = { buffer = "dst", data = [0, 1, 2, 3, 4, 5, 6, 7] }

[[tests]]
scene = "basic"
name = "fill"
jobs = ["fill"]
expect = { image = "target", row = 1, data = [255, 0, 0, 255, 255, 0, 0, 255] }

[[tests]]
scene = "basic"
name = "wrong"
jobs = ["fill"]
expect = { image = "target", row = 0, data = [0, 0, 0, 0, 0, 0, 0, 0] }

[[tests]]
scene = "basic"
name = "later"
jobs = []
skip = "needs compute"
expect = { buffer = "dst", data = [] }

[[tests]]
scene = "missing"
name = "anything"
jobs = ["copy"]
expect = { buffer = "dst", data = [0] }
`

func writeWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"scenes/basic.toml":   []byte(basicScene),
		"reftests/local.toml": []byte(localSuite),
		"data/ramp.raw":       {0, 1, 2, 3, 4, 5, 6, 7},
	}
	for name, b := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSuiteValidation(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"no scene", "[[tests]]\nname = \"a\"\nexpect = { buffer = \"b\" }"},
		{"both", "[[tests]]\nscene = \"s\"\nname = \"a\"\nexpect = { buffer = \"b\", image = \"i\" }"},
		{"neither", "[[tests]]\nscene = \"s\"\nname = \"a\""},
		{"buffer row", "[[tests]]\nscene = \"s\"\nname = \"a\"\nexpect = { buffer = \"b\", row = 2 }"},
		{"not a byte", "[[tests]]\nscene = \"s\"\nname = \"a\"\nexpect = { buffer = \"b\", data = [256] }"},
		{"duplicate", "[[tests]]\nscene = \"s\"\nname = \"a\"\nexpect = { buffer = \"b\" }\n[[tests]]\nscene = \"s\"\nname = \"a\"\nexpect = { buffer = \"b\" }"},
		{"unknown key", "[[tests]]\nscene = \"s\"\nname = \"a\"\ncolour = 1\nexpect = { buffer = \"b\" }"},
	}
	for _, c := range cases {
		if _, err := ParseSuite([]byte(c.toml)); err == nil {
			t.Errorf("%s: ParseSuite\nhave nil\nwant error", c.name)
		}
	}
}

func TestSuiteGroups(t *testing.T) {
	s, err := ParseSuite([]byte(localSuite))
	if err != nil {
		t.Fatal(err)
	}
	scenes := s.Scenes()
	if len(scenes) != 2 || scenes[0] != "basic" || scenes[1] != "missing" {
		t.Errorf("Scenes\nhave %v\nwant [basic missing]", scenes)
	}
	if n := len(s.Group("basic")); n != 4 {
		t.Errorf("len(Group(basic))\nhave %d\nwant 4", n)
	}
}

func TestHarnessRun(t *testing.T) {
	dir := writeWorkDir(t)
	h, err := NewHarness(dir, "local", nil)
	if err != nil {
		t.Fatal(err)
	}
	h.DumpDir = filepath.Join(dir, "dumps")

	dev := software.NewDevice()
	res := h.Run(dev, dev.Queue())
	if res.Pass != 2 || res.Skip != 1 || res.Fail != 2 {
		t.Fatalf("Run\nhave %s\nwant 2 passed, 1 skipped, 2 failed (%+v)", res, res.Failures)
	}

	var wrong *Failure
	for i := range res.Failures {
		if res.Failures[i].Test == "wrong" {
			wrong = &res.Failures[i]
		}
	}
	if wrong == nil {
		t.Fatalf("no failure for basic/wrong in %+v", res.Failures)
	}
	if want := []byte{255, 0, 0, 255, 255, 0, 0, 255}; !bytes.Equal(wrong.Have, want) {
		t.Errorf("wrong.Have\nhave %v\nwant %v", wrong.Have, want)
	}
	if wrong.Dump == "" {
		t.Fatal("no dump for a failed image expectation")
	}
	f, err := os.Open(wrong.Dump)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := bmp.Decode(f)
	if err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if b := img.Bounds(); b != image.Rect(0, 0, 2, 2) {
		t.Errorf("dump bounds\nhave %v\nwant %v", b, image.Rect(0, 0, 2, 2))
	}
	if r, g, _, _ := img.At(1, 1).RGBA(); r != 0xffff || g != 0 {
		t.Errorf("dump pixel (1, 1)\nhave r=%#x g=%#x\nwant red", r, g)
	}

	if dev.Live() != 0 {
		t.Errorf("dev.Live() after Run\nhave %d\nwant 0", dev.Live())
	}
	if v := dev.Stats().Violations; len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func TestHarnessWithAssets(t *testing.T) {
	dir := writeWorkDir(t)
	am, err := assets.NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()
	RegisterLoaders(am)

	h, err := NewHarness(dir, filepath.Join(dir, "reftests", "local.toml"), am)
	if err != nil {
		t.Fatal(err)
	}
	if h.Suite.Name != "local" {
		t.Errorf("suite name\nhave %q\nwant \"local\"", h.Suite.Name)
	}
	dev := software.NewDevice()
	first := h.Run(dev, dev.Queue())
	second := h.Run(dev, dev.Queue())
	if first.String() != second.String() {
		t.Errorf("second run with cached descriptions\nhave %s\nwant %s", second, first)
	}
	if len(first.Failures) == 0 || !strings.Contains(first.Failures[len(first.Failures)-1].Reason, "missing") {
		t.Errorf("failure for the missing scene does not name it: %+v", first.Failures)
	}
}

func TestHalfToFloat(t *testing.T) {
	cases := []struct {
		h    uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0x3800, 0.5},
		{0xc000, -2},
		{0x0001, 5.9604645e-08},
	}
	for _, c := range cases {
		if have := halfToFloat(c.h); have != c.want {
			t.Errorf("halfToFloat(%#04x)\nhave %v\nwant %v", c.h, have, c.want)
		}
	}
}

func TestGuardImageFormats(t *testing.T) {
	src := fakeRows{width: 4, rows: [][]byte{{10, 20, 30, 40}}}
	img, err := guardImage(src, hal.FormatBGRA8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("bgra image type\nhave %T\nwant *image.NRGBA", img)
	}
	if c := nrgba.NRGBAAt(0, 0); c != (color.NRGBA{R: 30, G: 20, B: 10, A: 40}) {
		t.Errorf("bgra pixel\nhave %v\nwant {30 20 10 40}", c)
	}
	gray, err := guardImage(src, hal.FormatR8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	if b := gray.Bounds(); b.Dx() != 4 {
		t.Errorf("r8 width\nhave %d\nwant 4", b.Dx())
	}
	if _, err := guardImage(src, hal.FormatUndefined); err == nil {
		t.Error("guardImage(undefined)\nhave nil\nwant error")
	}
}

type fakeRows struct {
	width uint64
	rows  [][]byte
}

func (f fakeRows) Row(i int) []byte { return f.rows[i] }
func (f fakeRows) Rows() int        { return len(f.rows) }
func (f fakeRows) Width() uint64    { return f.width }

func TestHarnessRunParallel(t *testing.T) {
	dir := writeWorkDir(t)
	h, err := NewHarness(dir, "local", nil)
	if err != nil {
		t.Fatal(err)
	}

	var devs []*software.Device
	var mu sync.Mutex
	open := func() (hal.Device, hal.Queue, func(), error) {
		dev := software.NewDevice()
		mu.Lock()
		devs = append(devs, dev)
		mu.Unlock()
		return dev, dev.Queue(), func() {}, nil
	}
	res, err := h.RunParallel(open, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass != 2 || res.Skip != 1 || res.Fail != 2 {
		t.Errorf("RunParallel\nhave %s\nwant 2 passed, 1 skipped, 2 failed", res)
	}
	if len(devs) != 2 {
		t.Errorf("devices opened\nhave %d\nwant one per scene (2)", len(devs))
	}
	for i, dev := range devs {
		if dev.Live() != 0 {
			t.Errorf("device %d: Live\nhave %d\nwant 0", i, dev.Live())
		}
	}

	if _, err := h.RunParallel(open, 0); err == nil {
		t.Error("RunParallel with no workers\nhave nil\nwant error")
	}
}

func TestLocalSuite(t *testing.T) {
	h, err := NewHarness(filepath.Join("..", "..", "work"), "local", nil)
	if err != nil {
		t.Fatal(err)
	}
	dev := software.NewDevice()
	res := h.Run(dev, dev.Queue())
	if res.Fail != 0 || res.Pass != 5 || res.Skip != 1 {
		t.Errorf("local suite\nhave %s\nwant 5 passed, 1 skipped, 0 failed\nfailures %+v", res, res.Failures)
	}
}

func TestHarnessBench(t *testing.T) {
	dir := writeWorkDir(t)
	h, err := NewHarness(dir, "local", nil)
	if err != nil {
		t.Fatal(err)
	}
	dev := software.NewDevice()
	if _, err := h.Bench(dev, dev.Queue(), 0); err == nil {
		t.Error("Bench with 0 iterations\nhave nil\nwant error")
	}

	timings, err := h.Bench(dev, dev.Queue(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(timings) != 5 {
		t.Fatalf("len(timings)\nhave %d\nwant 5", len(timings))
	}
	ran := map[string]bool{}
	for _, tm := range timings {
		if tm.Skipped != "" {
			continue
		}
		ran[tm.Scene+"/"+tm.Test] = true
		if tm.Iterations != 3 || tm.Min > tm.Mean || tm.Mean > tm.Max {
			t.Errorf("timing %s\nhave %d runs, min %s mean %s max %s\nwant 3 runs, min <= mean <= max", tm.Test, tm.Iterations, tm.Min, tm.Mean, tm.Max)
		}
	}
	for _, name := range []string{"basic/copy", "basic/fill", "basic/wrong"} {
		if !ran[name] {
			t.Errorf("%s was not timed (timings %v)", name, timings)
		}
	}
	if len(ran) != 3 {
		t.Errorf("timed tests\nhave %d\nwant 3", len(ran))
	}
	if dev.Live() != 0 {
		t.Errorf("dev.Live()\nhave %d\nwant 0", dev.Live())
	}
}
