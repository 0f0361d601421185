// Package edit holds the edit model handed to the export engine: the trim
// window, redaction regions, timed captions and annotations, the watermark
// overlay and the transition effect.
package edit

import (
	"errors"
	"fmt"
	"image"
	"math"
)

const (
	// MinRegionSize is the smallest width or height, in element pixels, a
	// blur region may have. Smaller drags are discarded by the authoring step.
	MinRegionSize = 5.0

	// AnnotationWindow is the half-width of the hit window around an
	// annotation timestamp, in seconds.
	AnnotationWindow = 0.5

	DefaultWatermarkOpacity = 0.8
	DefaultWatermarkSize    = 20.0
)

var (
	ErrInvalidTrim       = errors.New("invalid trim range")
	ErrInvalidCaption    = errors.New("invalid caption window")
	ErrInvalidRegion     = errors.New("invalid blur region")
	ErrInvalidWatermark  = errors.New("invalid watermark")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether either dimension is non-positive.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Rect is an axis-aligned rectangle in pixel space.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Image converts the rectangle to integer pixel bounds, rounding outward.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)),
		int(math.Ceil(r.Y+r.Height)),
	)
}

// TrimRange is the retained sub-interval of the source timeline, expressed
// as fractions of the total duration.
type TrimRange struct {
	StartFraction float64 `json:"start"`
	EndFraction   float64 `json:"end"`
}

// FullRange keeps the whole source.
func FullRange() TrimRange {
	return TrimRange{StartFraction: 0, EndFraction: 1}
}

// Clamp pins both ends into [0,1]. A range that collapses is reset.
func (r TrimRange) Clamp() TrimRange {
	r.StartFraction = clamp01(r.StartFraction)
	r.EndFraction = clamp01(r.EndFraction)
	if r.StartFraction >= r.EndFraction {
		return FullRange()
	}
	return r
}

// Validate checks 0 <= start < end <= 1.
func (r TrimRange) Validate() error {
	if math.IsNaN(r.StartFraction) || math.IsNaN(r.EndFraction) {
		return fmt.Errorf("%w: NaN bound", ErrInvalidTrim)
	}
	if r.StartFraction < 0 || r.EndFraction > 1 || r.StartFraction >= r.EndFraction {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidTrim, r.StartFraction, r.EndFraction)
	}
	return nil
}

func (r TrimRange) StartTime(duration float64) float64 {
	return clamp(r.StartFraction*duration, 0, duration)
}

func (r TrimRange) EndTime(duration float64) float64 {
	return clamp(r.EndFraction*duration, 0, duration)
}

// BlurRegion is a redaction rectangle in displayed-element pixel space.
type BlurRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BlurRegion) Rect() Rect {
	return Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

// NewBlurRegion builds a region from the two corners of a drag gesture.
// Drags smaller than MinRegionSize on either axis are rejected.
func NewBlurRegion(x0, y0, x1, y1 float64) (BlurRegion, bool) {
	return AcceptRegion(BlurRegion{
		X:      math.Min(x0, x1),
		Y:      math.Min(y0, y1),
		Width:  math.Abs(x1 - x0),
		Height: math.Abs(y1 - y0),
	})
}

// AcceptRegion is the model-acceptance gate for authored regions.
func AcceptRegion(b BlurRegion) (BlurRegion, bool) {
	if b.Width < MinRegionSize || b.Height < MinRegionSize {
		return BlurRegion{}, false
	}
	return b, true
}

// Caption is text shown while start <= t < end.
type Caption struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (c Caption) Contains(t float64) bool {
	return t >= c.Start && t < c.End
}

// Annotation is a reviewer note pinned to a timestamp.
type Annotation struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
	Author    string  `json:"author"`
}

func (a Annotation) Active(t float64) bool {
	return math.Abs(t-a.Timestamp) < AnnotationWindow
}

// Label is the rendered form of the annotation.
func (a Annotation) Label() string {
	if a.Author == "" {
		return a.Text
	}
	return a.Author + ": " + a.Text
}

type TransitionKind string

const (
	TransitionNone      TransitionKind = "none"
	TransitionFade      TransitionKind = "fade"
	TransitionCrossfade TransitionKind = "crossfade"
)

// Transition is evaluated against overall export progress, not a per-cut window.
type Transition struct {
	Kind TransitionKind `json:"kind"`
}

func (t Transition) Active() bool {
	return t.Kind == TransitionFade || t.Kind == TransitionCrossfade
}

// Model is the full description of what to draw for one export. The render
// loop works on a Snapshot so later UI edits never leak into a running export.
type Model struct {
	Trim        TrimRange    `json:"trim"`
	Regions     []BlurRegion `json:"regions,omitempty"`
	Captions    []Caption    `json:"captions,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Watermark   *Watermark   `json:"watermark,omitempty"`
	Transition  Transition   `json:"transition"`

	// ElementSize is the size of the displayed video element the regions
	// were drawn against.
	ElementSize Size `json:"element_size"`
}

// NewModel returns an empty model that keeps the whole source.
func NewModel() *Model {
	return &Model{Trim: FullRange(), Transition: Transition{Kind: TransitionNone}}
}

// AddRegion appends a region if it passes AcceptRegion.
func (m *Model) AddRegion(b BlurRegion) bool {
	b, ok := AcceptRegion(b)
	if !ok {
		return false
	}
	m.Regions = append(m.Regions, b)
	return true
}

// ResetTrim restores the full range.
func (m *Model) ResetTrim() {
	m.Trim = FullRange()
}

// ActiveCaption returns the first caption containing t. Overlapping
// captions are allowed; only the earliest in list order is shown.
func (m *Model) ActiveCaption(t float64) (Caption, bool) {
	for _, c := range m.Captions {
		if c.Contains(t) {
			return c, true
		}
	}
	return Caption{}, false
}

// ActiveAnnotation returns the first annotation within AnnotationWindow of t.
func (m *Model) ActiveAnnotation(t float64) (Annotation, bool) {
	for _, a := range m.Annotations {
		if a.Active(t) {
			return a, true
		}
	}
	return Annotation{}, false
}

// Snapshot returns a deep copy of the slices so the caller can keep editing.
func (m *Model) Snapshot() *Model {
	s := *m
	s.Regions = append([]BlurRegion(nil), m.Regions...)
	s.Captions = append([]Caption(nil), m.Captions...)
	s.Annotations = append([]Annotation(nil), m.Annotations...)
	if m.Watermark != nil {
		wm := *m.Watermark
		s.Watermark = &wm
	}
	return &s
}

// Validate checks the model against a source of the given duration.
func (m *Model) Validate(duration float64) error {
	if err := m.Trim.Validate(); err != nil {
		return err
	}
	for i, b := range m.Regions {
		if b.Width <= 0 || b.Height <= 0 {
			return fmt.Errorf("%w: region %d has non-positive size", ErrInvalidRegion, i)
		}
	}
	for i, c := range m.Captions {
		if c.Start < 0 || c.Start >= c.End || c.End > duration {
			return fmt.Errorf("%w: caption %d [%g, %g] outside [0, %g]", ErrInvalidCaption, i, c.Start, c.End, duration)
		}
	}
	if m.Watermark != nil {
		if err := m.Watermark.Validate(); err != nil {
			return err
		}
	}
	switch m.Transition.Kind {
	case "", TransitionNone, TransitionFade, TransitionCrossfade:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransition, m.Transition.Kind)
	}
	return nil
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
