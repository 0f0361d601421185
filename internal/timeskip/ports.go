// Package timeskip decides how far the export play-head advances on each
// tick: one frame, a coarse skip over silence or filler words, or a
// speed-adjusted jump driven by an importance score.
package timeskip

import "context"

// SilenceDetector reports whether the audio at t is below the silence floor.
type SilenceDetector interface {
	IsSilent(ctx context.Context, t float64) (bool, error)
}

// Transcriber returns the spoken text in [start, end).
type Transcriber interface {
	Transcribe(ctx context.Context, start, end float64) (string, error)
}

// ImportanceScorer rates [start, end) in [0,1].
type ImportanceScorer interface {
	Score(ctx context.Context, start, end float64) (float64, error)
}

// Ports groups the external signal sources. Any of them may be nil, which
// disables the matching option.
type Ports struct {
	Silence     SilenceDetector
	Transcriber Transcriber
	Importance  ImportanceScorer
}
