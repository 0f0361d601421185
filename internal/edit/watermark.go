package edit

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// WatermarkPadding is the gap from the canvas edges, as a fraction of canvas width.
const WatermarkPadding = 0.02

// Watermark is an image overlay scaled to Size percent of the canvas width.
type Watermark struct {
	Image     image.Image `json:"-"`
	ImagePath string      `json:"image_path,omitempty"`
	ImageData []byte      `json:"image_data,omitempty"`
	Position  Position    `json:"position"`
	Opacity   float64     `json:"opacity"`
	Size      float64     `json:"size"`

	// opacitySet marks an opacity given in JSON, so an explicit 0 survives
	// ApplyDefaults.
	opacitySet bool
}

func (w *Watermark) UnmarshalJSON(data []byte) error {
	type plain Watermark
	aux := struct {
		*plain
		Opacity *float64 `json:"opacity"`
	}{plain: (*plain)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.opacitySet = aux.Opacity != nil
	if aux.Opacity != nil {
		w.Opacity = *aux.Opacity
	}
	return nil
}

// NewWatermark returns a bottom-right watermark with default opacity and size.
func NewWatermark(img image.Image) *Watermark {
	return &Watermark{
		Image:    img,
		Position: BottomRight,
		Opacity:  DefaultWatermarkOpacity,
		Size:     DefaultWatermarkSize,
	}
}

// ApplyDefaults fills zero-valued fields. An opacity decoded from JSON is
// kept even when it is 0.
func (w *Watermark) ApplyDefaults() {
	if w.Position == "" {
		w.Position = BottomRight
	}
	if w.Opacity == 0 && !w.opacitySet {
		w.Opacity = DefaultWatermarkOpacity
	}
	if w.Size == 0 {
		w.Size = DefaultWatermarkSize
	}
}

func (w *Watermark) Validate() error {
	if w.Opacity < 0 || w.Opacity > 1 {
		return fmt.Errorf("%w: opacity %g outside [0,1]", ErrInvalidWatermark, w.Opacity)
	}
	if w.Size <= 0 || w.Size > 100 {
		return fmt.Errorf("%w: size %g outside (0,100]", ErrInvalidWatermark, w.Size)
	}
	switch w.Position {
	case TopLeft, TopRight, BottomLeft, BottomRight:
	default:
		return fmt.Errorf("%w: position %q", ErrInvalidWatermark, w.Position)
	}
	return nil
}

// Placement computes where the watermark lands on a canvas. Width follows
// Size percent of the canvas width and height keeps the image aspect ratio.
func (w *Watermark) Placement(canvasW, canvasH float64) (Rect, bool) {
	if w.Image == nil {
		return Rect{}, false
	}
	b := w.Image.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || canvasW <= 0 || canvasH <= 0 {
		return Rect{}, false
	}

	width := canvasW * w.Size / 100
	height := width * float64(b.Dy()) / float64(b.Dx())
	pad := canvasW * WatermarkPadding

	var x, y float64
	switch w.Position {
	case TopLeft:
		x, y = pad, pad
	case TopRight:
		x, y = canvasW-width-pad, pad
	case BottomLeft:
		x, y = pad, canvasH-height-pad
	default:
		x, y = canvasW-width-pad, canvasH-height-pad
	}

	return Rect{X: x, Y: y, Width: width, Height: height}, !math.IsNaN(height)
}
