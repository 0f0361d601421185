package ui

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var iconBytes = renderIcon()

// renderIcon draws a small clapper-style glyph: a dark square with a light
// play triangle.
func renderIcon() []byte {
	const size = 32
	img := imaging.New(size, size, color.NRGBA{R: 0x22, G: 0x26, B: 0x33, A: 0xff})
	light := color.NRGBA{R: 0xf2, G: 0xf4, B: 0xf8, A: 0xff}
	for x := 10; x < 24; x++ {
		half := (24 - x) / 2
		for y := 16 - half; y <= 16+half; y++ {
			img.Set(x, y, light)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, image.Image(img), imaging.PNG); err != nil {
		return nil
	}
	return buf.Bytes()
}
