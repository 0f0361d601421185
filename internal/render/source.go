package render

import (
	"context"
	"image"
)

// FrameSource is a seekable media input. Implementations must be comparable
// (normally a pointer) since the controller keys active exports on them.
type FrameSource interface {
	// Duration in seconds. Must be finite and positive.
	Duration() float64
	Dimensions() (width, height int)
	// SeekTo positions the source at t and returns once the frame is ready.
	SeekTo(ctx context.Context, t float64) error
	// CurrentFrame returns the frame at the last seek position.
	CurrentFrame() (image.Image, error)
}

// CaptureSink receives composited frames and assembles the output stream.
type CaptureSink interface {
	WriteFrame(frame *image.RGBA) error
	// Finalize completes encoding and returns the assembled bytes.
	Finalize(ctx context.Context) ([]byte, error)
	// Discard drops any partial output.
	Discard() error
}

// SinkFactory makes a fresh sink for every export.
type SinkFactory interface {
	NewSink(width, height int, fps float64) (CaptureSink, error)
	MimeType() string
}
