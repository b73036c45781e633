package warden

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/gfxring/engine/renderer/hal"
	"github.com/spaghettifunk/gfxring/engine/renderer/scene"
)

// DumpBMP writes the rows held by guard to path as a BMP, reading pixels
// as format.
func DumpBMP(path string, guard *scene.FetchGuard, format hal.Format) error {
	img, err := guardImage(guard, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type rowSource interface {
	Row(i int) []byte
	Rows() int
	Width() uint64
}

func guardImage(g rowSource, format hal.Format) (image.Image, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("cannot dump format %s", format)
	}
	w, h := int(g.Width()/bpp), g.Rows()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("nothing to dump")
	}

	if format == hal.FormatR8Unorm {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:], g.Row(y))
		}
		return img, nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := g.Row(y)
		for x := 0; x < w; x++ {
			px := row[uint64(x)*bpp:]
			var c color.NRGBA
			switch format {
			case hal.FormatRGBA8Unorm:
				c = color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
			case hal.FormatBGRA8Unorm:
				c = color.NRGBA{R: px[2], G: px[1], B: px[0], A: px[3]}
			case hal.FormatRGBA16Float:
				c = color.NRGBA{
					R: unorm8(halfToFloat(binary.LittleEndian.Uint16(px[0:]))),
					G: unorm8(halfToFloat(binary.LittleEndian.Uint16(px[2:]))),
					B: unorm8(halfToFloat(binary.LittleEndian.Uint16(px[4:]))),
					A: unorm8(halfToFloat(binary.LittleEndian.Uint16(px[6:]))),
				}
			default:
				return nil, fmt.Errorf("cannot dump format %s", format)
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}

func unorm8(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// halfToFloat widens an IEEE 754 half precision value.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff
	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: renormalize.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
