package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/compose"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testController(t *testing.T) *Controller {
	t.Helper()
	fonts, err := compose.DefaultFonts()
	if err != nil {
		t.Fatalf("DefaultFonts() error = %v", err)
	}
	t.Cleanup(func() { fonts.Close() })
	return NewController(compose.NewCompositor(fonts, testLogger()), testLogger())
}

// fakeSource serves the same frame for every instant. A striped patch at
// patch lets tests see whether a blur was applied.
type fakeSource struct {
	duration float64
	width    int
	height   int
	frame    *image.RGBA

	seekDelay time.Duration
	// block makes SeekTo hang until release is closed, ignoring ctx.
	block    bool
	release  chan struct{}
	nilFrame bool

	mu    sync.Mutex
	times []float64
	seeks atomic.Int32
}

func newFakeSource(duration float64, w, h int) *fakeSource {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{100, 100, 100, 255}), image.Point{}, draw.Src)
	return &fakeSource{duration: duration, width: w, height: h, frame: frame, release: make(chan struct{})}
}

func (s *fakeSource) withStripes(r image.Rectangle) *fakeSource {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := uint8(0)
			if x%2 == 0 {
				v = 255
			}
			s.frame.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return s
}

func (s *fakeSource) Duration() float64 { return s.duration }

func (s *fakeSource) Dimensions() (int, int) { return s.width, s.height }

func (s *fakeSource) SeekTo(ctx context.Context, t float64) error {
	s.seeks.Add(1)
	if s.block {
		<-s.release
		return nil
	}
	if s.seekDelay > 0 {
		select {
		case <-time.After(s.seekDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.times = append(s.times, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) CurrentFrame() (image.Image, error) {
	if s.nilFrame {
		return nil, nil
	}
	return s.frame, nil
}

func (s *fakeSource) seekTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.times...)
}

// fakeSink keeps copies of the frames whose indices are listed in keep.
type fakeSink struct {
	keep map[int]bool

	mu        sync.Mutex
	kept      map[int]*image.RGBA
	frames    int
	finalized bool
	discarded bool
	finalErr  error
	empty     bool
	// hold, when set, is called at the start of Finalize.
	hold func()
}

func (s *fakeSink) WriteFrame(frame *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keep[s.frames] {
		cp := image.NewRGBA(frame.Bounds())
		copy(cp.Pix, frame.Pix)
		s.kept[s.frames] = cp
	}
	s.frames++
	return nil
}

func (s *fakeSink) Finalize(ctx context.Context) ([]byte, error) {
	if s.hold != nil {
		s.hold()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr != nil {
		return nil, s.finalErr
	}
	s.finalized = true
	if s.empty {
		return nil, nil
	}
	return []byte("fake-webm"), nil
}

func (s *fakeSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	return nil
}

type fakeSinks struct {
	keep     []int
	finalErr error
	empty    bool
	failNew  bool
	hold     func()

	mu    sync.Mutex
	sinks []*fakeSink
}

func (f *fakeSinks) NewSink(width, height int, fps float64) (CaptureSink, error) {
	if f.failNew {
		return nil, errors.New("encoder unavailable")
	}
	keep := make(map[int]bool)
	for _, i := range f.keep {
		keep[i] = true
	}
	s := &fakeSink{keep: keep, kept: make(map[int]*image.RGBA), finalErr: f.finalErr, empty: f.empty, hold: f.hold}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSinks) MimeType() string { return "video/webm" }

func (f *fakeSinks) last() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

type silentAlways struct{}

func (silentAlways) IsSilent(ctx context.Context, t float64) (bool, error) { return true, nil }

func waitJob(t *testing.T, j *Job) (*Artifact, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, err := j.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job %s did not finish, state %s", j.ID(), j.State())
	}
	return a, err
}
