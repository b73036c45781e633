package hal

import (
	"math"
	"reflect"
	"testing"
)

func TestDestructionListOrder(t *testing.T) {
	var l DestructionList
	var order []string
	for _, name := range []string{"fence", "semaphore", "pool"} {
		name := name
		l.Push(name, func() { order = append(order, name) })
	}
	want := []string{"pool", "semaphore", "fence"}
	if names := l.Names(); !reflect.DeepEqual(names, want) {
		t.Errorf("l.Names()\nhave %v\nwant %v", names, want)
	}
	l.Destroy()
	if !reflect.DeepEqual(order, want) {
		t.Errorf("destroy order\nhave %v\nwant %v", order, want)
	}
	l.Destroy()
	if len(order) != 3 {
		t.Errorf("second Destroy ran entries again: %v", order)
	}
	if l.Len() != 0 {
		t.Errorf("l.Len()\nhave %d\nwant 0", l.Len())
	}
}

func TestParseFormat(t *testing.T) {
	for _, c := range []struct {
		s    string
		want Format
		ok   bool
	}{
		{"rgba8unorm", FormatRGBA8Unorm, true},
		{" BGRA8Unorm ", FormatBGRA8Unorm, true},
		{"r8unorm", FormatR8Unorm, true},
		{"undefined", FormatUndefined, false},
		{"bc7", FormatUndefined, false},
	} {
		f, err := ParseFormat(c.s)
		if (err == nil) != c.ok || f != c.want {
			t.Errorf("ParseFormat(%q)\nhave %v, %v\nwant %v, ok=%t", c.s, f, err, c.want, c.ok)
		}
	}
}

func TestSurfaceCapabilitiesClamp(t *testing.T) {
	caps := SurfaceCapabilities{
		CurrentExtent: Extent{math.MaxUint32, math.MaxUint32},
		MinExtent:     Extent{1, 1},
		MaxExtent:     Extent{4096, 2048},
		MinImageCount: 2,
		MaxImageCount: 4,
	}
	if e := caps.Clamp(Extent{8000, 600}); e != (Extent{4096, 600}) {
		t.Errorf("caps.Clamp\nhave %v\nwant 4096x600", e)
	}
	caps.CurrentExtent = Extent{800, 600}
	if e := caps.Clamp(Extent{1024, 768}); e != (Extent{800, 600}) {
		t.Errorf("caps.Clamp with current extent\nhave %v\nwant 800x600", e)
	}
	if caps.Minimized() {
		t.Errorf("caps.Minimized() with extent 800x600\nhave true\nwant false")
	}
	minimized := SurfaceCapabilities{MinImageCount: 2}
	if !minimized.Minimized() {
		t.Errorf("caps.Minimized() with zero extents\nhave false\nwant true")
	}
	if e := minimized.Clamp(Extent{8, 4}); !e.IsZero() {
		t.Errorf("Clamp against a zero maximum\nhave %v\nwant zero", e)
	}
	if n := caps.ClampImageCount(8); n != 4 {
		t.Errorf("caps.ClampImageCount(8)\nhave %d\nwant 4", n)
	}
	if n := caps.ClampImageCount(1); n != 2 {
		t.Errorf("caps.ClampImageCount(1)\nhave %d\nwant 2", n)
	}
}
