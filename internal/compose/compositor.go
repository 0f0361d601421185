package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"golang.org/x/image/font"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
)

const (
	// BlurSigma is the gaussian standard deviation for redaction regions.
	BlurSigma = 15.0

	CaptionFontScale    = 0.05
	CaptionStrokeScale  = 0.002
	CaptionBottomMargin = 0.05

	AnnotationFontScale = 0.04
	AnnotationTopMargin = 0.03
)

var (
	// ErrNoFrame is returned when there is nothing to draw for this tick.
	ErrNoFrame = errors.New("no source frame")
	// ErrEmptyCanvas is returned for a zero-sized draw target.
	ErrEmptyCanvas = errors.New("canvas has no pixels")
)

var (
	captionFill     = color.RGBA{255, 255, 255, 255}
	captionStroke   = color.RGBA{0, 0, 0, 255}
	annotationFill  = color.RGBA{255, 255, 0, 255}
	transitionColor = color.RGBA{0, 0, 0, 255}
)

// Params carries the per-frame inputs that are not part of the edit model.
type Params struct {
	// Time is the source play-head position in seconds.
	Time float64
	// Progress is the overall export progress in [0,1].
	Progress float64
	// ElementSize overrides the model's element size when non-zero.
	ElementSize edit.Size
}

// Compositor paints a frame and its overlays onto a Canvas.
type Compositor struct {
	fonts  *Fonts
	logger *slog.Logger
}

func NewCompositor(fonts *Fonts, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{fonts: fonts, logger: logger}
}

// Draw composites frame and the model evaluated at p.Time onto cv.
// A failing overlay is logged and skipped for this frame. Only failures
// that leave no usable frame are returned.
func (c *Compositor) Draw(cv *Canvas, frame image.Image, m *edit.Model, p Params) (err error) {
	if cv == nil || cv.Bounds().Empty() {
		return ErrEmptyCanvas
	}
	if frame == nil || frame.Bounds().Empty() {
		return ErrNoFrame
	}

	if err := c.drawFrame(cv, frame); err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	element := p.ElementSize
	if element.IsZero() {
		element = m.ElementSize
	}

	for i, region := range m.Regions {
		c.overlay(cv, "blur_region", func() error {
			return c.drawRegion(cv, region.Rect(), element)
		}, slog.Int("index", i))
	}

	if caption, ok := m.ActiveCaption(p.Time); ok {
		c.overlay(cv, "caption", func() error {
			return c.drawCaption(cv, caption)
		})
	}

	if ann, ok := m.ActiveAnnotation(p.Time); ok {
		c.overlay(cv, "annotation", func() error {
			return c.drawAnnotation(cv, ann)
		})
	}

	if m.Watermark != nil {
		c.overlay(cv, "watermark", func() error {
			return c.drawWatermark(cv, m.Watermark)
		})
	}

	if m.Transition.Active() {
		c.overlay(cv, "transition", func() error {
			return c.drawTransition(cv, m.Transition, p.Progress)
		})
	}

	return nil
}

// drawFrame is step 1. A panic here means the frame itself is unusable.
func (c *Compositor) drawFrame(cv *Canvas, frame image.Image) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw frame: %v", r)
		}
	}()
	return cv.Scoped(func() error {
		cv.Clear()
		cv.DrawImage(frame, cv.Bounds())
		return nil
	})
}

func (c *Compositor) overlay(cv *Canvas, name string, fn func() error, attrs ...any) {
	depth := cv.Depth()
	defer func() {
		if r := recover(); r != nil {
			for cv.Depth() > depth {
				cv.Restore()
			}
			c.logger.Warn("overlay panicked, skipped for this frame",
				append([]any{"overlay", name, "panic", fmt.Sprint(r)}, attrs...)...)
		}
	}()

	if err := cv.Scoped(fn); err != nil {
		c.logger.Warn("overlay failed, skipped for this frame",
			append([]any{"overlay", name, "error", err}, attrs...)...)
	}
}

func (c *Compositor) drawRegion(cv *Canvas, r edit.Rect, element edit.Size) error {
	mapped, ok := edit.MapRegion(r, element, cv.Size())
	if !ok {
		return nil
	}
	rect := mapped.Image().Intersect(cv.Bounds())
	if rect.Empty() {
		return nil
	}

	sharp := cv.Crop(rect)
	cv.SetBlur(BlurSigma)
	cv.DrawImage(sharp, rect)
	return nil
}

func (c *Compositor) drawCaption(cv *Canvas, caption edit.Caption) error {
	if c.fonts == nil {
		return errors.New("no fonts loaded")
	}
	h := cv.Size().Height
	stroke := int(math.Max(1, math.Round(h*CaptionStrokeScale)))
	b := cv.Bounds()
	y := b.Max.Y - int(h*CaptionBottomMargin)
	return c.fonts.WithFace(h*CaptionFontScale, func(face font.Face) {
		cv.DrawOutlinedText(face, caption.Text, b.Min.X+b.Dx()/2, y, captionFill, captionStroke, stroke)
	})
}

func (c *Compositor) drawAnnotation(cv *Canvas, ann edit.Annotation) error {
	if c.fonts == nil {
		return errors.New("no fonts loaded")
	}
	h := cv.Size().Height
	size := h * AnnotationFontScale
	stroke := int(math.Max(1, math.Round(h*CaptionStrokeScale)))
	b := cv.Bounds()
	y := b.Min.Y + int(h*AnnotationTopMargin+size)
	return c.fonts.WithFace(size, func(face font.Face) {
		cv.DrawOutlinedText(face, ann.Label(), b.Min.X+b.Dx()/2, y, annotationFill, captionStroke, stroke)
	})
}

func (c *Compositor) drawWatermark(cv *Canvas, wm *edit.Watermark) error {
	size := cv.Size()
	place, ok := wm.Placement(size.Width, size.Height)
	if !ok {
		return errors.New("watermark has no image")
	}
	cv.SetAlpha(wm.Opacity)
	cv.DrawImage(wm.Image, place.Image())
	return nil
}

// drawTransition evaluates against overall export progress, so a fade is
// only visible near the start of a long export.
func (c *Compositor) drawTransition(cv *Canvas, tr edit.Transition, p float64) error {
	p = math.Max(0, math.Min(1, p))
	switch tr.Kind {
	case edit.TransitionFade:
		cv.SetAlpha(1 - p)
		cv.FillRect(cv.Bounds(), transitionColor)
	case edit.TransitionCrossfade:
		composed := cv.Snapshot()
		cv.Fill(transitionColor)
		cv.SetAlpha(math.Sin(p * math.Pi / 2))
		cv.DrawImage(composed, cv.Bounds())
	}
	return nil
}
