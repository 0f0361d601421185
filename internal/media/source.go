// Package media provides the file-backed frame source and the capture sinks
// used by the render loop.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	vidio "github.com/AlexEidt/Vidio"
)

var ErrClosed = errors.New("media source closed")

// FileSource decodes a video file through ffmpeg. Forward seeks stream
// frames sequentially; backward seeks fall back to a random-access read.
type FileSource struct {
	path string

	mu      sync.Mutex
	video   *vidio.Video
	frame   *image.RGBA
	next    int // index the stream returns on the next Read
	current int // index held in frame, -1 before the first seek
	closed  atomic.Bool
}

// OpenFile probes path and prepares a frame buffer.
func OpenFile(path string) (*FileSource, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, video.Width(), video.Height()))
	if err := video.SetFrameBuffer(frame.Pix); err != nil {
		video.Close()
		return nil, fmt.Errorf("set frame buffer: %w", err)
	}

	return &FileSource{path: path, video: video, frame: frame, current: -1}, nil
}

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Duration() float64 { return s.video.Duration() }

func (s *FileSource) Dimensions() (int, int) {
	return s.video.Width(), s.video.Height()
}

func (s *FileSource) FPS() float64 { return s.video.FPS() }

// SeekTo loads the frame nearest to t.
func (s *FileSource) SeekTo(ctx context.Context, t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}

	n := s.frameIndex(t)
	if n == s.current {
		return nil
	}

	if n < s.next {
		if err := s.video.ReadFrame(n); err != nil {
			return fmt.Errorf("read frame %d: %w", n, err)
		}
		s.current = n
		return nil
	}

	for s.next <= n {
		if err := ctx.Err(); err != nil {
			s.current = -1
			return err
		}
		if !s.video.Read() {
			s.current = -1
			if s.closed.Load() {
				return ErrClosed
			}
			return fmt.Errorf("stream ended before frame %d", n)
		}
		s.next++
	}
	s.current = n
	return nil
}

// CurrentFrame returns the decoded frame. The buffer is reused by the next
// SeekTo, so callers must finish with it first.
func (s *FileSource) CurrentFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.frame, nil
}

// Close stops the decoder. It does not wait for a SeekTo blocked on a
// stalled ffmpeg pipe: closing the pipe makes that read fail instead.
func (s *FileSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.mu.TryLock() {
		defer s.mu.Unlock()
	}
	s.video.Close()
	return nil
}

func (s *FileSource) frameIndex(t float64) int {
	n := int(math.Floor(t * s.video.FPS()))
	if total := s.video.Frames(); total > 0 && n >= total {
		n = total - 1
	}
	if n < 0 {
		n = 0
	}
	return n
}
