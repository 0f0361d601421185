package render

// Segment is a retained span of the source timeline, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// Artifact is the output of a finished export.
type Artifact struct {
	Data     []byte
	MimeType string

	// IV and Salt are set by the export pipeline for encrypted artifacts.
	IV   []byte
	Salt []byte

	Frames    int
	FrameRate float64
	// Segments lists the source spans that made it into the output.
	Segments []Segment
	// SourceStart is the trim start, used to shift sidecar timings.
	SourceStart float64
}

// Duration is the playback length of the output.
func (a *Artifact) Duration() float64 {
	if a.FrameRate <= 0 {
		return 0
	}
	return float64(a.Frames) / a.FrameRate
}

// Skipped reports whether time-skip dropped any source content.
func (a *Artifact) Skipped() bool {
	return len(a.Segments) > 1
}

const segmentEpsilon = 1e-6

type segmentBuilder struct {
	segments []Segment
}

// add records that [t, t+step) of the source was rendered.
func (b *segmentBuilder) add(t, step float64) {
	n := len(b.segments)
	if n > 0 && t-b.segments[n-1].End < segmentEpsilon {
		b.segments[n-1].End = t + step
		return
	}
	b.segments = append(b.segments, Segment{Start: t, End: t + step})
}

// clip bounds the last segment by end.
func (b *segmentBuilder) clip(end float64) []Segment {
	if n := len(b.segments); n > 0 && b.segments[n-1].End > end {
		b.segments[n-1].End = end
	}
	return b.segments
}
