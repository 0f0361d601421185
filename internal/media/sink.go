package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/clipstudio/clipstudio-agent/internal/render"
	"github.com/icza/mjpeg"
)

// Output formats.
const (
	FormatWebM = "webm"
	FormatMP4  = "mp4"
	FormatAVI  = "avi"

	DefaultQuality = 85
)

var mimeTypes = map[string]string{
	FormatWebM: "video/webm",
	FormatMP4:  "video/mp4",
	FormatAVI:  "video/x-msvideo",
}

// Formats lists the supported output formats.
func Formats() []string {
	return []string{FormatWebM, FormatMP4, FormatAVI}
}

// MimeType returns the container MIME type, or "" for an unknown format.
func MimeType(format string) string {
	return mimeTypes[strings.ToLower(format)]
}

// SinkOptions tune every sink a factory creates.
type SinkOptions struct {
	// TempDir holds in-progress output. Empty uses os.TempDir.
	TempDir string
	// Quality is 1-100. JPEG quality for AVI, mapped to the encoder scale otherwise.
	Quality int
}

type sinkFactory struct {
	format string
	opts   SinkOptions
}

// NewSinkFactory returns a factory producing sinks for format.
func NewSinkFactory(format string, opts SinkOptions) (render.SinkFactory, error) {
	format = strings.ToLower(format)
	if _, ok := mimeTypes[format]; !ok {
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &sinkFactory{format: format, opts: opts}, nil
}

func (f *sinkFactory) MimeType() string { return mimeTypes[f.format] }

func (f *sinkFactory) NewSink(width, height int, fps float64) (render.CaptureSink, error) {
	tmp, err := os.CreateTemp(f.opts.TempDir, "clipstudio-*."+f.format)
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	switch f.format {
	case FormatAVI:
		return newMJPEGSink(path, width, height, fps, f.opts.Quality)
	case FormatMP4:
		return newVidioSink(path, width, height, fps, f.opts.Quality, "libx264")
	default:
		return newVidioSink(path, width, height, fps, f.opts.Quality, "libvpx")
	}
}

// fileSink owns the temp file shared by both encoders.
type fileSink struct {
	path string

	mu   sync.Mutex
	done bool
}

func (s *fileSink) collect(closeFn func() error) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, fmt.Errorf("sink already finalized")
	}
	s.done = true
	defer os.Remove(s.path)

	if err := closeFn(); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", filepath.Base(s.path), err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read encoded output: %w", err)
	}
	return data, nil
}

func (s *fileSink) discard(closeFn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	_ = closeFn()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MJPEGSink writes JPEG frames into an AVI container.
type MJPEGSink struct {
	fileSink
	writer  mjpeg.AviWriter
	quality int
	buf     bytes.Buffer
}

func newMJPEGSink(path string, width, height int, fps float64, quality int) (*MJPEGSink, error) {
	rate := int32(fps + 0.5)
	if rate < 1 {
		rate = 1
	}
	w, err := mjpeg.New(path, int32(width), int32(height), rate)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	return &MJPEGSink{fileSink: fileSink{path: path}, writer: w, quality: quality}, nil
}

func (s *MJPEGSink) WriteFrame(frame *image.RGBA) error {
	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("failed to encode frame as JPEG: %w", err)
	}
	return s.writer.AddFrame(s.buf.Bytes())
}

func (s *MJPEGSink) Finalize(ctx context.Context) ([]byte, error) {
	return s.collect(s.writer.Close)
}

func (s *MJPEGSink) Discard() error {
	return s.discard(s.writer.Close)
}

// VidioSink pipes raw RGBA frames into an ffmpeg encoder.
type VidioSink struct {
	fileSink
	writer *vidio.VideoWriter
}

func newVidioSink(path string, width, height int, fps float64, quality int, codec string) (*VidioSink, error) {
	w, err := vidio.NewVideoWriter(path, width, height, &vidio.Options{
		FPS:     fps,
		Quality: float64(quality) / 100,
		Codec:   codec,
	})
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	return &VidioSink{fileSink: fileSink{path: path}, writer: w}, nil
}

func (s *VidioSink) WriteFrame(frame *image.RGBA) error {
	return s.writer.Write(frame.Pix)
}

func (s *VidioSink) Finalize(ctx context.Context) ([]byte, error) {
	return s.collect(func() error {
		s.writer.Close()
		return nil
	})
}

func (s *VidioSink) Discard() error {
	return s.discard(func() error {
		s.writer.Close()
		return nil
	})
}
