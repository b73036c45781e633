package scene

import (
	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
)

// Align rounds x up to a multiple of y, which must be a power of two. Zero
// inputs return x unchanged.
func Align[T constraints.Unsigned](x, y T) T {
	if x > 0 && y > 0 {
		return ((x - 1) | (y - 1)) + 1
	}
	return x
}

// RowPitch is the byte stride of one image row in a buffer used for
// buffer<->image copies on a device with the given limits.
func RowPitch(width uint32, f hal.Format, l hal.Limits) uint64 {
	return Align(uint64(width)*f.BytesPerPixel(), l.OptimalBufferCopyPitchAlignment)
}
