package edit

// MapRegion converts a rectangle drawn against the displayed element into
// canvas pixel space. Each axis scales independently. A zero-sized element
// yields false and the caller skips the region for this frame.
//
// Element size can change between frames when the window resizes, so this
// is evaluated on every draw.
func MapRegion(r Rect, element, canvas Size) (Rect, bool) {
	if element.IsZero() || canvas.IsZero() {
		return Rect{}, false
	}
	sx := canvas.Width / element.Width
	sy := canvas.Height / element.Height
	return Rect{
		X:      r.X * sx,
		Y:      r.Y * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}, true
}
