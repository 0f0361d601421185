// Package compose draws one output frame: the scaled source frame, blurred
// redaction regions, caption and annotation text, the watermark and the
// transition effect, in that fixed order.
package compose

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type drawState struct {
	alpha float64
	blur  float64
}

// Canvas is an RGBA draw target with a saved-state stack. Alpha and blur
// are the only mutable drawing state and every compositing step brackets
// its changes with Save/Restore.
type Canvas struct {
	img   *image.RGBA
	state drawState
	stack []drawState
}

func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		img:   image.NewRGBA(image.Rect(0, 0, width, height)),
		state: drawState{alpha: 1},
	}
}

// Image exposes the backing buffer. Callers must not hold it across draws.
func (c *Canvas) Image() *image.RGBA { return c.img }

func (c *Canvas) Bounds() image.Rectangle { return c.img.Bounds() }

func (c *Canvas) Size() edit.Size {
	b := c.img.Bounds()
	return edit.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

func (c *Canvas) Save() {
	c.stack = append(c.stack, c.state)
}

// Restore pops the last saved state. An unbalanced Restore resets to defaults.
func (c *Canvas) Restore() {
	n := len(c.stack)
	if n == 0 {
		c.state = drawState{alpha: 1}
		return
	}
	c.state = c.stack[n-1]
	c.stack = c.stack[:n-1]
}

// Scoped runs fn between Save and Restore. Restore runs even if fn panics.
func (c *Canvas) Scoped(fn func() error) error {
	c.Save()
	defer c.Restore()
	return fn()
}

// Depth returns the number of saved states.
func (c *Canvas) Depth() int { return len(c.stack) }

func (c *Canvas) Alpha() float64 { return c.state.alpha }

func (c *Canvas) SetAlpha(a float64) {
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	c.state.alpha = a
}

// SetBlur sets a gaussian filter with the given standard deviation, in
// pixels, applied to images drawn until the state is restored.
func (c *Canvas) SetBlur(sigma float64) {
	if sigma < 0 {
		sigma = 0
	}
	c.state.blur = sigma
}

func (c *Canvas) Blur() float64 { return c.state.blur }

// Clear resets every pixel to transparent.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Fill paints the whole canvas with an opaque color, ignoring alpha.
func (c *Canvas) Fill(col color.Color) {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

// Snapshot copies the current pixels.
func (c *Canvas) Snapshot() *image.RGBA {
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// Crop copies a rectangle of the current pixels.
func (c *Canvas) Crop(r image.Rectangle) image.Image {
	return imaging.Crop(c.img, r.Intersect(c.img.Bounds()))
}

// DrawImage scales src into dst honoring the current alpha and blur.
func (c *Canvas) DrawImage(src image.Image, dst image.Rectangle) {
	if src == nil || dst.Empty() || c.state.alpha == 0 {
		return
	}
	if c.state.blur > 0 {
		src = imaging.Blur(src, c.state.blur)
	}

	if c.state.alpha >= 1 {
		xdraw.ApproxBiLinear.Scale(c.img, dst, src, src.Bounds(), xdraw.Over, nil)
		return
	}

	tmp := image.NewRGBA(dst)
	xdraw.ApproxBiLinear.Scale(tmp, dst, src, src.Bounds(), xdraw.Src, nil)
	draw.DrawMask(c.img, dst, tmp, dst.Min, c.alphaMask(), image.Point{}, draw.Over)
}

// FillRect paints r with col at the current alpha.
func (c *Canvas) FillRect(r image.Rectangle, col color.Color) {
	draw.DrawMask(c.img, r.Intersect(c.img.Bounds()), image.NewUniform(col), image.Point{}, c.alphaMask(), image.Point{}, draw.Over)
}

// DrawOutlinedText draws s with its baseline at y, horizontally centered on
// cx. The outline is produced by stamping the stroke color at every offset
// within strokeWidth before drawing the fill.
func (c *Canvas) DrawOutlinedText(face font.Face, s string, cx, y int, fill, stroke color.Color, strokeWidth int) {
	width := font.MeasureString(face, s).Ceil()
	x := cx - width/2

	if strokeWidth > 0 {
		d := &font.Drawer{Dst: c.img, Src: image.NewUniform(c.withAlpha(stroke)), Face: face}
		for dy := -strokeWidth; dy <= strokeWidth; dy++ {
			for dx := -strokeWidth; dx <= strokeWidth; dx++ {
				if dx*dx+dy*dy > strokeWidth*strokeWidth || (dx == 0 && dy == 0) {
					continue
				}
				d.Dot = fixed.P(x+dx, y+dy)
				d.DrawString(s)
			}
		}
	}

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(c.withAlpha(fill)),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func (c *Canvas) alphaMask() image.Image {
	return image.NewUniform(color.Alpha{A: uint8(c.state.alpha*255 + 0.5)})
}

func (c *Canvas) withAlpha(col color.Color) color.Color {
	n := color.NRGBAModel.Convert(col).(color.NRGBA)
	n.A = uint8(float64(n.A)*c.state.alpha + 0.5)
	return n
}
