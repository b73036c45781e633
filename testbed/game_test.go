package testbed

import (
	"testing"

	"github.com/spaghettifunk/gfxring/engine"
	"github.com/spaghettifunk/gfxring/engine/core"
	"github.com/spaghettifunk/gfxring/engine/renderer"
	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

func TestHueColor(t *testing.T) {
	cases := []struct {
		t    float64
		want hal.ClearColor
	}{
		{0, hal.ClearColor{1, 0, 0, 1}},
		{1.0 / 3, hal.ClearColor{0, 1, 0, 1}},
		{0.5, hal.ClearColor{0, 1, 1, 1}},
		{1, hal.ClearColor{1, 0, 0, 1}},
	}
	for _, c := range cases {
		have := hueColor(c.t)
		for i := range have {
			if d := have[i] - c.want[i]; d > 1e-5 || d < -1e-5 {
				t.Errorf("hueColor(%v)\nhave %v\nwant %v", c.t, have, c.want)
				break
			}
		}
	}
}

func TestRenderAdvancesColor(t *testing.T) {
	g := NewTestGame(&engine.ApplicationConfig{Config: core.DefaultConfig()})
	var first, second renderer.FramePacket
	if err := g.Render(&first, 0); err != nil {
		t.Fatal(err)
	}
	if err := g.Update(2.5); err != nil {
		t.Fatal(err)
	}
	if err := g.Render(&second, 2.5); err != nil {
		t.Fatal(err)
	}
	if first.ClearColor == second.ClearColor {
		t.Errorf("clear color did not change after 2.5s: %v", first.ClearColor)
	}
}
